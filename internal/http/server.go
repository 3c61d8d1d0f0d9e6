package http

import (
	"context"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"carelink/internal/core"
	applog "carelink/internal/log"
	"carelink/internal/middleware/ratelimit"
	"carelink/internal/middleware/security"
	"carelink/internal/middleware/trace"
	"carelink/internal/realtime"
	"carelink/internal/services"
	"carelink/internal/storage"
	appweb "carelink/web"
)

// Deps are the collaborators the server routes to. Photos and Ready are optional.
type Deps struct {
	Care    *services.CareGroupService
	Journal *services.JournalService
	Reports *services.ReportService
	Photos  *storage.PhotoStore
	Broker  *realtime.Broker

	// Ready reports whether the backing store is reachable.
	Ready func(ctx context.Context) error

	Logger             *applog.Logger
	RateLimitPerMinute int
}

// Server wraps http.Server with the application's routes and middleware.
type Server struct {
	*http.Server

	care    *services.CareGroupService
	journal *services.JournalService
	reports *services.ReportService
	photos  *storage.PhotoStore
	broker  *realtime.Broker
	ready   func(ctx context.Context) error

	templates *template.Template
	logger    *applog.Logger

	detector    *security.Detector
	rateLimiter *ratelimit.Limiter
	tracer      *trace.Middleware

	appMetrics *appMetrics

	// closing ends open event streams on shutdown.
	closing   chan struct{}
	closeOnce sync.Once
}

type appMetrics struct {
	entriesCreated   int64
	entriesDeleted   int64
	reportsGenerated int64
	reportsFailed    int64
	eventStreams     int64
	uptime           time.Time
}

var templateFuncs = template.FuncMap{
	"tagColor": func(t core.Tag) string { return t.Color() },
	"clock":    func(t time.Time) string { return t.Format("3:04 PM") },
	"initials": core.Initials,
	"hasPhoto": func(e core.JournalEntry) bool { return e.ImageURL != "" },
}

func parseTemplates() (*template.Template, error) {
	return template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
}

// NewServer configures routes and templates, returning a ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}

	limiterConfig := ratelimit.DefaultConfig()
	if deps.RateLimitPerMinute > 0 {
		limiterConfig.RequestsPerMinute = deps.RateLimitPerMinute
	}

	s := &Server{
		care:        deps.Care,
		journal:     deps.Journal,
		reports:     deps.Reports,
		photos:      deps.Photos,
		broker:      deps.Broker,
		ready:       deps.Ready,
		logger:      logger.WithComponent(applog.ComponentHTTP),
		detector:    security.NewDetector(),
		rateLimiter: ratelimit.NewLimiter(limiterConfig),
		appMetrics:  &appMetrics{uptime: time.Now()},
		closing:     make(chan struct{}),
	}
	s.tracer = trace.NewMiddleware(logger, s.detector.ExtractClientIP)

	t, err := parseTemplates()
	if err != nil {
		s.logger.Warn("Failed parsing templates", applog.FieldError, err)
	}
	s.templates = t

	mux := http.NewServeMux()
	s.routes(mux)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.rateLimiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again later.").Write(w)
	})

	var handler http.Handler = mux
	handler = limit(handler)
	handler = headers.Middleware(handler)
	handler = s.detector.Middleware(handler)
	handler = s.tracer.Middleware(handler)

	s.Server = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: the event stream stays open.
		IdleTimeout: 120 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	static, err := fs.Sub(appweb.StaticFS, "static")
	if err == nil {
		mux.Handle("GET /static/", security.StaticAssetMiddleware(86400)(
			http.StripPrefix("/static/", http.FileServer(http.FS(static)))))
	}
	if s.photos != nil {
		mux.Handle("GET "+storage.MediaURLPrefix, s.photos.Handler())
	}

	mux.HandleFunc("POST /api/auth/groups", s.handleCreateGroup)
	mux.HandleFunc("POST /api/auth/join", s.handleJoinGroup)
	mux.HandleFunc("POST /api/auth/sessions", s.handleSignIn)
	mux.HandleFunc("DELETE /api/auth/sessions", s.handleSignOut)

	mux.HandleFunc("GET /api/me", s.authed(s.handleMe))
	mux.HandleFunc("PATCH /api/me", s.authed(s.handleUpdateProfile))
	mux.HandleFunc("POST /api/me/password", s.authed(s.handleChangePassword))
	mux.HandleFunc("GET /api/me/preferences", s.authed(s.handleGetPreferences))
	mux.HandleFunc("PUT /api/me/preferences", s.authed(s.handlePutPreferences))

	mux.HandleFunc("GET /api/team", s.authed(s.handleTeam))
	mux.HandleFunc("GET /api/team/invites", s.authed(s.handleListInvites))
	mux.HandleFunc("POST /api/team/invites", s.authed(s.handleInvite))

	mux.HandleFunc("GET /api/entries", s.authed(s.handleSections))
	mux.HandleFunc("GET /api/entries/day", s.authed(s.handleDay))
	mux.HandleFunc("GET /api/entries/month", s.authed(s.handleMonth))
	mux.HandleFunc("POST /api/entries", s.authed(s.handleCreateEntry))
	mux.HandleFunc("DELETE /api/entries/{id}", s.authed(s.handleDeleteEntry))
	mux.HandleFunc("POST /api/photos", s.authed(s.handleUploadPhoto))

	mux.HandleFunc("POST /api/reports", s.authed(s.handleGenerateReport))
	mux.HandleFunc("GET /api/reports", s.authed(s.handleReportHistory))

	mux.HandleFunc("GET /api/events", s.authed(s.handleEvents))

	mux.HandleFunc("GET /journal", s.handleJournalPage)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/journal", http.StatusFound)
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, user core.Caregiver)

// authed resolves the session of the request and rejects anonymous callers.
func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.care.CurrentUser(r.Context(), sessionToken(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		logger := applog.FromContext(r.Context()).With(
			applog.FieldCaregiverID, user.ID,
			applog.FieldPatientID, user.PatientID)
		ctx := context.WithValue(r.Context(), applog.LoggerContextKey, logger)
		h(w, r.WithContext(ctx), user)
	}
}

// Shutdown ends open event streams, then drains the HTTP server and stops the
// rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })

	start := time.Now()
	err := s.Server.Shutdown(ctx)
	s.rateLimiter.Stop()

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.ErrorContext(ctx, "HTTP server shutdown failed",
			applog.FieldOperation, applog.OpShutdown,
			applog.FieldError, err)
		return err
	}
	slog.InfoContext(ctx, "HTTP server stopped",
		applog.FieldDuration, time.Since(start).Milliseconds(),
		"event_streams", atomic.LoadInt64(&s.appMetrics.eventStreams))
	return nil
}
