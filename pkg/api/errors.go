package api

import (
	"net/http"

	"github.com/oneconcern/volsync/pkg/core/status"
	"github.com/oneconcern/volsync/pkg/errors"
	"github.com/oneconcern/volsync/pkg/model"
	"go.uber.org/zap"
)

// statusCode maps an error to an HTTP status
func statusCode(err error) int {
	switch {
	case errors.Is(err, status.ErrNotModified):
		return http.StatusNotModified
	case errors.Is(err, status.ErrBadRequest), errors.Is(err, status.ErrBadRevision), errors.Is(err, model.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, status.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, status.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, status.ErrNotFound), errors.Is(err, status.ErrClosed):
		return http.StatusNotFound
	case errors.Is(err, status.ErrConflict), errors.Is(err, status.ErrExists):
		return http.StatusConflict
	case errors.Is(err, status.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	switch {
	case code == http.StatusNotModified:
		w.WriteHeader(code)
		return
	case code >= http.StatusInternalServerError:
		s.l.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	default:
		s.l.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", code), zap.Error(err))
	}
	s.writeJSON(w, r, code, errorResponse{Error: err.Error()})
}
