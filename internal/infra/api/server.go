package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	ucport "github.com/operio-dev/1nproject/internal/domain/ports/usecase"
	"github.com/operio-dev/1nproject/internal/usecase"
)

// ClaimLimiter throttles claims per claimant. Implemented by redis.RateLimiter.
type ClaimLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Deps struct {
	Allocation   usecase.AllocationUseCase
	Checkout     usecase.CheckoutUseCase
	Members      usecase.MemberUseCase
	Confirmation usecase.ConfirmationUseCase
	Sweeper      ucport.Sweeper
	Identity     IdentityVerifier
	Limiter      ClaimLimiter // nil disables rate limiting
}

type Options struct {
	RequestTimeout  time.Duration
	SweepSecret     string
	ClaimsPerMinute int
	PortalReturnURL string
	Dev             bool
}

// Server holds the HTTP handlers of the member-number service.
type Server struct {
	deps Deps
	opts Options
	log  *zerolog.Logger
}

func NewServer(deps Deps, opts Options, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	l := logger.With().Str("component", "http").Logger()
	return &Server{deps: deps, opts: opts, log: &l}
}

// Router builds the chi router with all routes and middlewares.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		TraceID(),
		RequestLog(s.log),
		Recover(s.log),
		Timeout(s.opts.RequestTimeout),
	)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/numbers/{number}", s.handleAvailability)
		r.Get("/stats", s.handleStats)
		r.Post("/webhook", s.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(requireSecret(s.opts.SweepSecret))
			r.Get("/sweep", s.handleSweep)
			r.Post("/sweep", s.handleSweep)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireIdentity(s.deps.Identity))
			r.Post("/claim", s.handleClaim)
			r.Post("/checkout", s.handleCheckout)
			r.Get("/member", s.handleMember)
			r.Post("/portal", s.handlePortal)
		})
	})
	return r
}
