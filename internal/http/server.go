package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ainopay/internal/auth"
	"ainopay/internal/core"
	"ainopay/internal/log"
	"ainopay/internal/middleware/authn"
	"ainopay/internal/middleware/cors"
	"ainopay/internal/middleware/ratelimit"
	"ainopay/internal/middleware/security"
	"ainopay/internal/middleware/trace"
	"ainopay/internal/services"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Services bundles what the handlers call into.
type Services struct {
	Auth      *services.AuthService
	Payments  *services.PaymentService
	Lookups   *services.LookupService
	Dashboard *services.DashboardService
	Tokens    *auth.TokenManager
}

// Options tunes the middleware stack.
type Options struct {
	AllowedOrigins []string
	RateLimit      ratelimit.Config
	// Checks are run by /readyz, keyed by name.
	Checks map[string]Pinger
}

// Server is the JSON API server.
type Server struct {
	http.Server

	svc    Services
	logger *log.Logger

	authMiddleware   *authn.Middleware
	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	checks           map[string]Pinger

	metrics      appMetrics
	shutdownOnce sync.Once
}

type appMetrics struct {
	uptime          time.Time
	paymentsCreated int64
	paymentsDeleted int64
	exports         int64
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, svc Services, opts Options, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Discard()
	}
	detector := security.NewDetector(logger)

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 16,
		},
		svc:              svc,
		logger:           logger.WithComponent(log.ComponentHTTP),
		authMiddleware:   authn.New(svc.Tokens, writeError, logger),
		rateLimiter:      ratelimit.NewLimiter(opts.RateLimit),
		securityDetector: detector,
		traceMiddleware:  trace.NewMiddleware(logger, detector.ExtractClientIP),
		checks:           opts.Checks,
		metrics:          appMetrics{uptime: time.Now()},
	}

	api := http.NewServeMux()
	s.routes(api)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", s.handleHealth)
	root.HandleFunc("GET /healthz", s.handleHealth)
	root.HandleFunc("GET /readyz", s.handleReady)
	root.HandleFunc("GET /metrics", s.handleMetrics)
	root.Handle("/api/", s.rateLimiter.Middleware(detector.ExtractClientIP, s.onRateLimit)(api))
	root.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("Route not found").Write(w)
	})

	// Outermost first: logger in context, trace, headers, probing, CORS.
	var h http.Handler = root
	h = cors.New(opts.AllowedOrigins).Middleware(h)
	h = detector.Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = trace.LoggerMiddleware(h)
	h = s.traceMiddleware.Middleware(h)
	h = log.Middleware(logger)(h)
	s.Handler = h

	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	requireAuth := s.authMiddleware.RequireAuth
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return requireAuth(s.authMiddleware.RequireRole(core.RoleAdmin)(h))
	}

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)
	mux.HandleFunc("POST /api/auth/forgot-password", s.handleForgotPassword)
	mux.HandleFunc("POST /api/auth/reset-password", s.handleResetPassword)
	mux.Handle("GET /api/auth/me", requireAuth(http.HandlerFunc(s.handleMe)))

	mux.Handle("GET /api/payments", requireAuth(http.HandlerFunc(s.handleListPayments)))
	mux.Handle("POST /api/payments", requireAuth(http.HandlerFunc(s.handleCreatePayment)))
	mux.Handle("GET /api/payments/export", requireAuth(http.HandlerFunc(s.handleExportPayments)))
	mux.Handle("GET /api/payments/{id}", requireAuth(http.HandlerFunc(s.handleGetPayment)))
	mux.Handle("PUT /api/payments/{id}", requireAuth(http.HandlerFunc(s.handleUpdatePayment)))
	mux.Handle("DELETE /api/payments/{id}", requireAuth(http.HandlerFunc(s.handleDeletePayment)))

	mux.Handle("GET /api/categories", requireAuth(http.HandlerFunc(s.handleListCategories)))
	mux.Handle("POST /api/categories", adminOnly(s.handleCreateCategory))
	mux.Handle("DELETE /api/categories/{id}", adminOnly(s.handleDeleteCategory))
	mux.Handle("GET /api/payment-methods", requireAuth(http.HandlerFunc(s.handleListPaymentMethods)))

	mux.Handle("GET /api/dashboard/stats", requireAuth(http.HandlerFunc(s.handleDashboardStats)))
	mux.Handle("GET /api/dashboard/chart", requireAuth(http.HandlerFunc(s.handleDashboardChart)))
	mux.Handle("GET /api/dashboard/recent", requireAuth(http.HandlerFunc(s.handleDashboardRecent)))

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		NotFoundError("Route not found").Write(w)
	})
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.securityDetector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.").Write(w)
}

// Run serves until ctx is cancelled, then shuts down within timeout.
func (s *Server) Run(ctx context.Context, timeout time.Duration) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, timeout)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, timeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) countCreated() { atomic.AddInt64(&s.metrics.paymentsCreated, 1) }
func (s *Server) countDeleted() { atomic.AddInt64(&s.metrics.paymentsDeleted, 1) }
func (s *Server) countExport()  { atomic.AddInt64(&s.metrics.exports, 1) }
