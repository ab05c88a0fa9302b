package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/anchor/internal/config"
	"github.com/allaspectsdev/anchor/internal/metrics"
	"github.com/allaspectsdev/anchor/internal/tracing"
)

// Server binds a Router to an HTTP listener. Every request, whatever its
// method or path, is handed to the Router.
type Server struct {
	router      chi.Router
	gateway     *Router
	collector   *metrics.Collector
	cors        corsPolicy
	maxBodySize int64
	httpSrv     *http.Server
}

// NewServer creates a Server for gateway using the server, CORS and tracing
// sections of cfg. collector may be nil.
func NewServer(gateway *Router, cfg *config.Config, collector *metrics.Collector) *Server {
	s := &Server{
		gateway:     gateway,
		collector:   collector,
		cors:        newCORSPolicy(cfg.CORS),
		maxBodySize: cfg.Server.MaxBodySize,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestContext)
	if cfg.Tracing.Enabled {
		r.Use(tracing.HTTPMiddleware)
	}
	r.Use(middleware.Recoverer)

	r.Handle("/*", http.HandlerFunc(s.serveGateway))
	r.NotFound(s.serveGateway)
	r.MethodNotAllowed(s.serveGateway)
	s.router = r

	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}
	return s
}

// Router returns the underlying chi.Router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpSrv.Addr
}

// Start begins listening for HTTP connections. It blocks until the server
// is shut down or fails.
func (s *Server) Start() error {
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// StartTLS is Start over HTTPS with the given certificate and key files.
func (s *Server) StartTLS(certFile, keyFile string) error {
	if err := s.httpSrv.ListenAndServeTLS(certFile, keyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server (TLS): %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// requestContext assigns the request ID, writes the CORS headers and
// attaches a request logger to the context.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(tracing.RequestIDHeader, id)
		s.cors.apply(w.Header(), r.Header.Get("Origin"))

		logger := log.With().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

func (s *Server) serveGateway(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.collector.IncrementActive()
	defer s.collector.DecrementActive()

	in := Inbound{
		Method: r.Method,
		Path:   r.URL.RequestURI(),
		Header: r.Header,
	}
	in.Body, in.BodyErr = s.readBody(w, r)

	resp := s.gateway.Handle(r.Context(), in)
	writeResponse(w, resp)

	route := s.gateway.Resolve(in.Method, in.Path)
	s.collector.RecordRequest(route, r.Method, resp.Status)

	logger := zerolog.Ctx(r.Context())
	ev := logger.Info()
	if resp.Status >= 500 {
		ev = logger.Error()
	}
	ev.Str("route", route).
		Int("status", resp.Status).
		Dur("latency", time.Since(start)).
		Msg("request handled")
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body := r.Body
	if s.maxBodySize > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxBodySize)
	}
	return io.ReadAll(body)
}

func writeResponse(w http.ResponseWriter, resp Response) {
	if resp.Body == nil {
		w.WriteHeader(resp.Status)
		return
	}

	data, err := json.Marshal(resp.Body)
	if err != nil {
		resp.Status = http.StatusInternalServerError
		data, _ = json.Marshal(errorBody{Error: "encoding response: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(resp.Status)
	_, _ = w.Write(data)
}

// corsPolicy holds the preformatted CORS headers. AllowOrigin may be "*" or
// a comma separated list of exact origins.
type corsPolicy struct {
	anyOrigin bool
	origins   map[string]struct{}
	methods   string
	headers   string
	maxAge    string
}

func newCORSPolicy(cfg config.CORSConfig) corsPolicy {
	p := corsPolicy{
		origins: make(map[string]struct{}),
		methods: cfg.AllowMethods,
		headers: cfg.AllowHeaders,
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	for _, o := range strings.Split(cfg.AllowOrigin, ",") {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			p.anyOrigin = true
		default:
			p.origins[o] = struct{}{}
		}
	}
	return p
}

func (p corsPolicy) apply(h http.Header, origin string) {
	switch {
	case p.anyOrigin:
		h.Set("Access-Control-Allow-Origin", "*")
	case origin != "":
		h.Add("Vary", "Origin")
		if _, ok := p.origins[origin]; !ok {
			return
		}
		h.Set("Access-Control-Allow-Origin", origin)
	default:
		return
	}
	if p.methods != "" {
		h.Set("Access-Control-Allow-Methods", p.methods)
	}
	if p.headers != "" {
		h.Set("Access-Control-Allow-Headers", p.headers)
	}
	if p.maxAge != "" {
		h.Set("Access-Control-Max-Age", p.maxAge)
	}
}
