package api

import (
	"context"
	"net/http"
	"time"

	"github.com/docker/go-units"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"github.com/oneconcern/volsync/pkg/core"
	"github.com/oneconcern/volsync/pkg/identity"
	"github.com/oneconcern/volsync/pkg/model"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	// Prefix of all API routes
	Prefix = "/api/v1"

	// DefaultMaxUploadSize is the default limit on the size of uploaded files
	DefaultMaxUploadSize = "100MB"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Volumes knows how to manage the volumes of a caller
type Volumes interface {
	Create(ctx context.Context, creator model.Contributor, name, password string) (*core.Volume, error)
	Volume(ctx context.Context, owner, name string) (*core.Volume, error)
	Destroy(ctx context.Context, owner, name, password string) error
	List(ctx context.Context, owner string) ([]string, error)
}

// ServerParams configure the API server
type ServerParams struct {
	Version       string
	MaxUploadSize string // in docker/go-units notation, e.g. "100MB"
	Identity      identity.Resolver
	Volumes       Volumes
	Logger        *zap.Logger
}

// Server handles the API routes
type Server struct {
	params    ServerParams
	maxUpload int64
	l         *zap.Logger
}

// NewServer builds an API server
func NewServer(params ServerParams) (*Server, error) {
	if params.MaxUploadSize == "" {
		params.MaxUploadSize = DefaultMaxUploadSize
	}
	maxUpload, err := units.RAMInBytes(params.MaxUploadSize)
	if err != nil {
		return nil, err
	}
	l := params.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{params: params, maxUpload: maxUpload, l: l}, nil
}

// InitRouter builds the router of the API
func InitRouter(srv *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(srv.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(srv.authenticate(Prefix+"/version", "/healthz"))

	r.Get("/healthz", srv.HandleHealth())
	r.Handle("/metrics", promhttp.Handler())

	r.Route(Prefix, func(r chi.Router) {
		r.Get("/version", srv.HandleVersion())

		r.Post("/volume/create", srv.HandleVolumeCreate())
		r.Get("/volume/list", srv.HandleVolumeList())
		r.Get("/volume/{volume}/list", srv.HandleVolumeListFiles())
		r.Get("/volume/{volume}/list/*", srv.HandleVolumeListFiles())
		r.Post("/volume/{volume}/delete", srv.HandleVolumeDelete())

		r.Get("/file/{volume}/*", srv.HandleFileGet())
		r.Put("/file/{volume}/*", srv.HandleFilePut())

		r.Post("/sync/{volume}/diff", srv.HandleDiff())
		r.Post("/sync/{volume}/delta", srv.HandleDelta())

		r.Get("/revisions/{volume}/*", srv.HandleRevisions())
		r.Get("/metadata/{volume}", srv.HandleMetadata())
		r.Get("/metadata/{volume}/*", srv.HandleMetadata())

		r.Post("/fileops/{volume}/copy", srv.HandleCopy())
		r.Post("/fileops/{volume}/move", srv.HandleMove())
		r.Post("/fileops/{volume}/delete", srv.HandleDelete())
	})

	return r
}

// logRequests logs every request once served
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.l.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// authenticate resolves the caller of every request, except for some public paths.
//
// It applies to unknown routes as well, which are not disclosed to anonymous callers.
func (s *Server) authenticate(public ...string) func(http.Handler) http.Handler {
	skip := make(map[string]struct{}, len(public))
	for _, p := range public {
		skip[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			caller, err := s.params.Identity.Resolve(r)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="volsync"`)
				s.writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithCaller(r.Context(), caller)))
		})
	}
}

// HandleHealth reports the server as alive
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// HandleVersion reports the version of the server
func (s *Server) HandleVersion() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusOK, versionResponse{Version: s.params.Version})
	}
}
