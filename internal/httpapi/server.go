package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/audittrail/internal/engine"
	"github.com/roach88/audittrail/internal/telemetry"
)

// DefaultArchiveDays is the age threshold used when an archive request
// names none.
const DefaultArchiveDays = 30

// Options configures a Server. Zero values select defaults.
type Options struct {
	// JWTSecret enables bearer-token auth when non-empty.
	JWTSecret []byte

	// RateLimitPerHour bounds requests per caller. Zero disables limiting.
	RateLimitPerHour int

	// ArchiveDays is the default for archive requests. Default 30.
	ArchiveDays int

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
	Now     func() time.Time
}

// Server holds the handlers. It is safe for concurrent use.
type Server struct {
	engine  *engine.Engine
	auth    *authenticator
	limiter *limiter

	archiveDays int
	logger      *slog.Logger
	metrics     *telemetry.Metrics
}

// New creates a server over e.
func New(e *engine.Engine, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ArchiveDays == 0 {
		opts.ArchiveDays = DefaultArchiveDays
	}
	if opts.Metrics == nil {
		opts.Metrics = e.Metrics()
	}

	s := &Server{
		engine:      e,
		archiveDays: opts.ArchiveDays,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
	if len(opts.JWTSecret) > 0 {
		s.auth = &authenticator{secret: opts.JWTSecret, now: opts.Now}
	}
	if opts.RateLimitPerHour > 0 {
		s.limiter = newLimiter(opts.RateLimitPerHour, opts.Now)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api/logs", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.throttle)

		r.Post("/", s.handleCreate)
		r.Get("/list/", s.handleList)
		r.Get("/export/", s.handleExport)
		r.Post("/verify/", s.handleVerify)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/archive/", s.handleArchive)
			r.Get("/archive/{jobID}", s.handleArchiveStatus)
		})
	})
	return r
}

// instrument records request counts and latency by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		s.metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
				"remote", r.RemoteAddr,
			)
		})
	}
}
