// Package api serves the point cloud filtering HTTP API.
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/potree-clip/internal/config"
	"github.com/banshee-data/potree-clip/internal/db"
	"github.com/banshee-data/potree-clip/internal/events"
	"github.com/banshee-data/potree-clip/internal/fsutil"
	"github.com/banshee-data/potree-clip/internal/httputil"
	"github.com/banshee-data/potree-clip/internal/jobs"
	"github.com/banshee-data/potree-clip/internal/timeutil"
	"github.com/banshee-data/potree-clip/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// JobHistory lists persisted jobs, newest first.
type JobHistory interface {
	RecentJobs(limit int) ([]db.JobRecord, error)
}

// AdminRoutes mounts debugging handlers.
type AdminRoutes interface {
	AttachAdminRoutes(mux *http.ServeMux) error
}

// Option configures a Server.
type Option func(*Server)

// WithDatabase exposes the job database on the dashboard and under /debug/.
func WithDatabase(d *db.DB) Option {
	return func(s *Server) {
		s.history = d
		s.admin = d
	}
}

// WithPublisher sets the publisher handed to new jobs.
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// WithClock sets the clock handed to new jobs.
func WithClock(c timeutil.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithFileSystem sets the filesystem used for job outputs and downloads.
func WithFileSystem(fsys fsutil.FileSystem) Option {
	return func(s *Server) { s.fsys = fsys }
}

type Server struct {
	settings  *config.Settings
	registry  *jobs.Registry
	history   JobHistory
	admin     AdminRoutes
	publisher events.Publisher
	clock     timeutil.Clock
	fsys      fsutil.FileSystem
}

func NewServer(settings *config.Settings, registry *jobs.Registry, opts ...Option) *Server {
	if settings == nil {
		settings = &config.Settings{}
	}
	s := &Server{
		settings:  settings,
		registry:  registry,
		publisher: events.NoopPublisher{},
		clock:     timeutil.RealClock{},
		fsys:      fsutil.OSFileSystem{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/estimate", s.guard(s.handleEstimate))
	mux.HandleFunc("/api/filter", s.guard(s.handleFilter))
	mux.HandleFunc("/api/extract", s.guard(s.handleExtract))
	mux.HandleFunc("/api/profile", s.guard(s.handleProfile))
	mux.HandleFunc("/api/jobs", s.guard(s.handleListJobs))
	mux.HandleFunc("/api/jobs/{id}", s.guard(s.handleJob))
	mux.HandleFunc("/api/jobs/{id}/report", s.guard(s.handleReport))
	mux.HandleFunc("/api/jobs/{id}/download", s.guard(s.handleDownload))
	mux.HandleFunc("/dashboard", s.guard(s.handleDashboard))
	if s.admin != nil {
		if err := s.admin.AttachAdminRoutes(mux); err != nil {
			log.Printf("[API] admin routes unavailable: %v", err)
		}
	}
	return mux
}

// guard restricts h to loopback and tailnet peers when authentication is
// enabled in the settings.
func (s *Server) guard(h http.HandlerFunc) http.HandlerFunc {
	if !s.settings.GetAuthenticate() {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !tsweb.AllowDebugAccess(r) {
			httputil.WriteJSONError(w, http.StatusForbidden, "access denied")
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok", "version": version.Version})
}

// jobContext detaches job work from the request that started it.
func jobContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
