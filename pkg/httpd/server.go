// Package httpd runs the HTTP listeners of the sync server, with graceful shutdown.
package httpd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/go-openapi/swag"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

const (
	schemeHTTP = "http"
	schemeUnix = "unix"
)

var defaultSchemes []string

func init() {
	defaultSchemes = []string{
		schemeHTTP,
	}
}

var (
	enabledListeners []string
	cleanupTimeout   time.Duration
	maxHeaderSize    string

	socketPath string

	host         string
	port         int
	listenLimit  int
	keepAlive    time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
)

func init() {
	host = stringEnvOverride(host, "localhost", "VOLSYNC_HOST", "HOST")
	port = intEnvOverride(port, 3000, "VOLSYNC_PORT", "PORT")
}

// RegisterFlags to the specified pflag set
func RegisterFlags(fs *flag.FlagSet) {
	fs.StringSliceVar(&enabledListeners, "scheme", defaultSchemes, "the listeners to enable, this can be repeated (http, unix)")
	fs.DurationVar(&cleanupTimeout, "cleanup-timeout", 10*time.Second, "grace period for which to wait before shutting down the server")
	fs.StringVar(&maxHeaderSize, "max-header-size", "1MB", "controls the maximum number of bytes the server will read parsing the request header's keys and values, including the request line. It does not limit the size of the request body")

	fs.StringVar(&socketPath, "socket-path", "/var/run/volsync.sock", "the unix socket to listen on")

	fs.StringVar(&host, "host", host, "the IP to listen on")
	fs.IntVar(&port, "port", port, "the port to listen on for insecure connections, 0 picks a random port")
	fs.IntVar(&listenLimit, "listen-limit", 0, "limit the number of outstanding requests")
	fs.DurationVar(&keepAlive, "keep-alive", 3*time.Minute, "sets the TCP keep-alive timeouts on accepted connections. It prunes dead TCP connections ( e.g. closing laptop mid-download)")
	fs.DurationVar(&readTimeout, "read-timeout", 30*time.Second, "maximum duration before timing out read of the request")
	fs.DurationVar(&writeTimeout, "write-timeout", 60*time.Second, "maximum duration before timing out write of the response")
}

func stringEnvOverride(orig string, def string, keys ...string) string {
	for _, k := range keys {
		if os.Getenv(k) != "" {
			return os.Getenv(k)
		}
	}
	if def != "" && orig == "" {
		return def
	}
	return orig
}

func intEnvOverride(orig int, def int, keys ...string) int {
	for _, k := range keys {
		if os.Getenv(k) != "" {
			v, err := strconv.Atoi(os.Getenv(k))
			if err != nil {
				fmt.Fprintln(os.Stderr, k, "is not a valid number")
				os.Exit(1)
			}
			return v
		}
	}
	if def != 0 && orig == 0 {
		return def
	}
	return orig
}

// Option for the server
type Option func(*defaultServer)

// HandlesRequestsWith handles the http requests to the server
func HandlesRequestsWith(h http.Handler) Option {
	return func(s *defaultServer) {
		s.handler = h
	}
}

// LogsWith provides a logger to the server
func LogsWith(l *zap.Logger) Option {
	return func(s *defaultServer) {
		if l != nil {
			s.logger = l
		}
	}
}

// EnablesSchemes overrides the enabled schemes
func EnablesSchemes(schemes ...string) Option {
	return func(s *defaultServer) {
		s.EnabledListeners = schemes
	}
}

// ListensOn overrides the host and port of the http listener
func ListensOn(h string, p int) Option {
	return func(s *defaultServer) {
		s.Host = h
		s.Port = p
	}
}

// OnShutdown runs the provided functions on shutdown
func OnShutdown(handlers ...func()) Option {
	return func(s *defaultServer) {
		if len(handlers) == 0 {
			return
		}
		s.onShutdown = func() {
			for _, run := range handlers {
				run()
			}
		}
	}
}

// New creates a new server but does not start listening
func New(opts ...Option) (Server, error) {
	s := new(defaultServer)

	s.EnabledListeners = enabledListeners
	s.CleanupTimeout = cleanupTimeout
	s.SocketPath = socketPath
	s.Host = host
	s.Port = port
	s.ListenLimit = listenLimit
	s.KeepAlive = keepAlive
	s.ReadTimeout = readTimeout
	s.WriteTimeout = writeTimeout
	s.shutdown = make(chan struct{})
	s.interrupt = make(chan os.Signal, 1)
	s.logger = zap.NewNop()
	s.onShutdown = func() {}

	if maxHeaderSize != "" {
		size, err := units.RAMInBytes(maxHeaderSize)
		if err != nil {
			return nil, fmt.Errorf("invalid max header size %q: %w", maxHeaderSize, err)
		}
		s.MaxHeaderSize = int(size)
	}

	for _, apply := range opts {
		apply(s)
	}
	return s, nil
}

// defaultServer for the sync API
type defaultServer struct {
	EnabledListeners []string
	CleanupTimeout   time.Duration
	MaxHeaderSize    int

	SocketPath    string
	domainSocketL net.Listener

	Host         string
	Port         int
	ListenLimit  int
	KeepAlive    time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	httpServerL  net.Listener

	handler      http.Handler
	hasListeners bool
	shutdown     chan struct{}
	shuttingDown int32
	interrupted  bool
	interrupt    chan os.Signal
	logger       *zap.Logger
	onShutdown   func()
}

func (s *defaultServer) hasScheme(scheme string) bool {
	schemes := s.EnabledListeners
	if len(schemes) == 0 {
		schemes = defaultSchemes
	}

	for _, v := range schemes {
		if v == scheme {
			return true
		}
	}
	return false
}

// Serve the api, until Shutdown is called or the process is interrupted
func (s *defaultServer) Serve() (err error) {
	if !s.hasListeners {
		if err = s.Listen(); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	once := new(sync.Once)
	signalNotify(s.interrupt)
	go handleInterrupt(once, s)

	servers := []*http.Server{}
	errs := make(chan error, 2)

	serve := func(srv *http.Server, l net.Listener, addr string) {
		defer wg.Done()
		if serr := srv.Serve(l); serr != nil && serr != http.ErrServerClosed {
			s.logger.Error("server failed", zap.String("addr", addr), zap.Error(serr))
			errs <- serr
			_ = s.Shutdown()
		}
		s.logger.Info("stopped serving", zap.String("addr", addr))
	}

	if s.hasScheme(schemeUnix) {
		domainSocket := s.newServer()
		addr := "unix://" + s.SocketPath
		s.logger.Info("serving", zap.String("addr", addr))
		wg.Add(1)
		go serve(domainSocket, s.domainSocketL, addr)
		servers = append(servers, domainSocket)
	}

	if s.hasScheme(schemeHTTP) {
		httpServer := s.newServer()
		httpServer.ReadTimeout = s.ReadTimeout
		httpServer.WriteTimeout = s.WriteTimeout
		httpServer.SetKeepAlivesEnabled(int64(s.KeepAlive) > 0)
		if s.ListenLimit > 0 {
			s.httpServerL = netutil.LimitListener(s.httpServerL, s.ListenLimit)
		}
		addr := "http://" + s.httpServerL.Addr().String()
		s.logger.Info("serving", zap.String("addr", addr))
		wg.Add(1)
		go serve(httpServer, s.httpServerL, addr)
		servers = append(servers, httpServer)
	}

	wg.Add(1)
	go s.handleShutdown(&wg, servers)

	wg.Wait()
	close(errs)
	return <-errs
}

func (s *defaultServer) newServer() *http.Server {
	srv := new(http.Server)
	srv.MaxHeaderBytes = s.MaxHeaderSize
	srv.Handler = s.handler
	if int64(s.CleanupTimeout) > 0 {
		srv.IdleTimeout = s.CleanupTimeout
	}
	return srv
}

// Listen creates the listeners for the server
func (s *defaultServer) Listen() error {
	if s.hasListeners { // already done this
		return nil
	}

	if s.hasScheme(schemeUnix) {
		domSockListener, err := net.Listen("unix", s.SocketPath)
		if err != nil {
			return err
		}
		s.domainSocketL = domSockListener
	}

	if s.hasScheme(schemeHTTP) {
		listener, err := net.Listen("tcp", net.JoinHostPort(s.Host, strconv.Itoa(s.Port)))
		if err != nil {
			return err
		}

		h, p, err := swag.SplitHostPort(listener.Addr().String())
		if err != nil {
			return err
		}
		s.Host = h
		s.Port = p
		s.httpServerL = listener
	}

	s.hasListeners = true
	return nil
}

// Shutdown server and clean up resources
func (s *defaultServer) Shutdown() error {
	if atomic.CompareAndSwapInt32(&s.shuttingDown, 0, 1) {
		close(s.shutdown)
	}
	return nil
}

func (s *defaultServer) handleShutdown(wg *sync.WaitGroup, servers []*http.Server) {
	// wg.Done must occur last, after the shutdown hooks
	defer wg.Done()

	<-s.shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	shutdownChan := make(chan bool)
	for i := range servers {
		server := servers[i]
		go func() {
			var success bool
			defer func() {
				shutdownChan <- success
			}()
			if err := server.Shutdown(ctx); err != nil {
				// Error from closing listeners, or context timeout:
				s.logger.Warn("HTTP server shutdown", zap.Error(err))
			} else {
				success = true
			}
		}()
	}

	// Wait until all listeners have successfully shut down before running the shutdown hooks
	success := true
	for range servers {
		success = success && <-shutdownChan
	}
	if success {
		s.onShutdown()
	}
}

// GetHandler returns a handler useful for testing
func (s *defaultServer) GetHandler() http.Handler {
	return s.handler
}

// HTTPListener returns the http listener
func (s *defaultServer) HTTPListener() (net.Listener, error) {
	if !s.hasListeners {
		if err := s.Listen(); err != nil {
			return nil, err
		}
	}
	return s.httpServerL, nil
}

// UnixListener returns the domain socket listener
func (s *defaultServer) UnixListener() (net.Listener, error) {
	if !s.hasListeners {
		if err := s.Listen(); err != nil {
			return nil, err
		}
	}
	return s.domainSocketL, nil
}

func handleInterrupt(once *sync.Once, s *defaultServer) {
	once.Do(func() {
		for range s.interrupt {
			if s.interrupted {
				continue
			}
			s.logger.Info("shutting down...")
			s.interrupted = true
			if err := s.Shutdown(); err != nil {
				s.logger.Warn("error during server shutdown", zap.Error(err))
			}
		}
	})
}

func signalNotify(interrupt chan<- os.Signal) {
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
}

// Server is the interface a server implements
type Server interface {
	GetHandler() http.Handler
	HTTPListener() (net.Listener, error)
	UnixListener() (net.Listener, error)
	Listen() error
	Serve() error
	Shutdown() error
}
