package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oneconcern/volsync/pkg/core"
	"github.com/oneconcern/volsync/pkg/core/status"
	"github.com/oneconcern/volsync/pkg/identity"
	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.l.Warn("encoding response", zap.String("path", r.URL.Path), zap.Error(err))
	}
}

// readJSON decodes a request body. An empty body leaves the target untouched.
func (s *Server) readJSON(r *http.Request, target interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(target)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return status.ErrBadRequest.WrapMessage("invalid JSON body").Wrap(err)
}

// millis converts a time to the number of milliseconds since the epoch
func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano() / int64(time.Millisecond)
}

// pathParam returns the path captured by the wildcard of a route
func pathParam(r *http.Request) string {
	p := chi.URLParam(r, "*")
	if r.URL.RawPath == "" {
		return p
	}
	if unescaped, err := url.PathUnescape(p); err == nil {
		return unescaped
	}
	return p
}

// volume resolves the volume named in the route, owned by the caller
func (s *Server) volume(r *http.Request) (*core.Volume, error) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		return nil, status.ErrUnauthorized
	}
	return s.params.Volumes.Volume(r.Context(), caller.Name, chi.URLParam(r, "volume"))
}

func caller(r *http.Request) identity.Caller {
	c, _ := identity.FromContext(r.Context())
	return c
}
