package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/dashmetrics/backend/internal/auth"
	"github.com/PortNumber53/dashmetrics/backend/internal/config"
	"github.com/PortNumber53/dashmetrics/backend/internal/handlers"
	"github.com/PortNumber53/dashmetrics/backend/internal/observability"
	"github.com/PortNumber53/dashmetrics/backend/internal/payments"
	requesttracking "github.com/PortNumber53/dashmetrics/backend/internal/middleware"
)

// Deps are the collaborators the routes are built from.
type Deps struct {
	Payments *payments.Service
	Users    handlers.UserSyncer
	Verifier auth.TokenVerifier
	Metrics  *observability.Metrics
	// DB is pinged by /healthz. Leave nil when running without a database.
	DB  handlers.Pinger
	Log logrus.FieldLogger
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	log        logrus.FieldLogger
}

// New constructs an HTTP server using the provided configuration and services.
func New(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Payments == nil || deps.Users == nil {
		return nil, errors.New("httpserver: payments service and user store are required")
	}
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requesttracking.NewRequestTracker(metrics, log).Middleware())
	router.Use(middleware.Recoverer)

	router.Get("/healthz", handlers.Health(deps.DB))
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	svc := deps.Payments
	paymentRoutes := func(r chi.Router) {
		r.Post("/create-order", handlers.CreateOrder(svc, log))
		r.Post("/verify", handlers.VerifyPayment(svc, log))
		r.Get("/orders/{orderId}/status", handlers.OrderStatus(svc.Checkouts(), log))
		r.Get("/", handlers.PaymentHistory(svc, log))
	}

	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(deps.Verifier, log))

		r.Route("/api", func(r chi.Router) {
			r.Get("/plans", handlers.Plans(svc.Catalog()))
			r.Get("/subscription", handlers.Subscription(svc, log))
			r.Post("/auth/sync", handlers.SyncUser(deps.Users, log))
			r.Route("/payments", paymentRoutes)
		})
		r.Route("/payments", paymentRoutes)
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Long enough for the longest order status long poll.
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, log: log}, nil
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("server: listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server: shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
