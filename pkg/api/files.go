package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/oneconcern/volsync/pkg/core"
	"github.com/oneconcern/volsync/pkg/core/status"
	"go.uber.org/zap"
)

const (
	dataField = "data"
	fileField = "file"
)

// HandleFileGet serves the current content of a file
func (s *Server) HandleFileGet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vol, err := s.volume(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		pth := pathParam(r)
		head, err := vol.Stat(r.Context(), pth)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		etag := strconv.Quote(head.Digest)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		data, head, err := vol.Read(r.Context(), pth)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.FormatInt(int64(len(data)), 10))
		w.Header().Set("ETag", strconv.Quote(head.Digest))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			s.l.Warn("writing file content", zap.String("path", pth), zap.Error(err))
		}
	}
}

// HandleFilePut writes a new revision of a file.
//
// The content is either sent as a multipart upload, with the options as a JSON "data" field
// and the content as a "file" part, or as the raw request body with the options as query parameters.
func (s *Server) HandleFilePut() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vol, err := s.volume(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if r.ContentLength > s.maxUpload {
			s.writeError(w, r, s.tooLarge(r.ContentLength))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

		opts, data, err := s.readUpload(r)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				err = s.tooLarge(maxErr.Limit + 1)
			}
			s.writeError(w, r, err)
			return
		}

		res, err := vol.Write(r.Context(), core.WriteRequest{
			Path:      pathParam(r),
			Data:      data,
			ParentRev: opts.ParentRev,
			Overwrite: opts.Overwrite,
			Author:    caller(r).Contributor(),
		})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, http.StatusCreated, putResponse{
			Path:           res.Path,
			Digest:         res.Digest,
			Size:           res.Size,
			ServerRevision: res.ServerRevision,
			FastForward:    res.FastForward,
		})
	}
}

func (s *Server) tooLarge(size int64) error {
	return status.ErrTooLarge.WrapMessage("upload of %s exceeds the limit of %s",
		units.HumanSize(float64(size)), units.HumanSize(float64(s.maxUpload)))
}

func (s *Server) readUpload(r *http.Request) (putOptions, []byte, error) {
	var opts putOptions

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		query := r.URL.Query()
		opts.ParentRev = query.Get("parentRev")
		if overwrite := query.Get("overwrite"); overwrite != "" {
			v, err := strconv.ParseBool(overwrite)
			if err != nil {
				return opts, nil, status.ErrBadRequest.WrapMessage("invalid overwrite parameter %q", overwrite)
			}
			opts.Overwrite = v
		}
		data, err := io.ReadAll(r.Body)
		return opts, data, err
	}

	reader, err := r.MultipartReader()
	if err != nil {
		return opts, nil, status.ErrBadRequest.Wrap(err)
	}

	var (
		data    []byte
		hasFile bool
	)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return opts, nil, status.ErrBadRequest.Wrap(err)
		}

		switch part.FormName() {
		case dataField:
			buf, err := io.ReadAll(part)
			if err != nil {
				return opts, nil, err
			}
			if len(buf) > 0 {
				if err := json.Unmarshal(buf, &opts); err != nil {
					return opts, nil, status.ErrBadRequest.WrapMessage("invalid %q field", dataField).Wrap(err)
				}
			}
		case fileField:
			data, err = io.ReadAll(part)
			if err != nil {
				return opts, nil, err
			}
			hasFile = true
		}
		_ = part.Close()
	}
	if !hasFile {
		return opts, nil, status.ErrBadRequest.Wrap(fmt.Errorf("missing %q part", fileField))
	}
	return opts, data, nil
}
