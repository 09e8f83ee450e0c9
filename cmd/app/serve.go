package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/operio-dev/1nproject/internal/infra/adapters/payment"
	"github.com/operio-dev/1nproject/internal/infra/api"
	pg "github.com/operio-dev/1nproject/internal/infra/db/postgres"
	"github.com/operio-dev/1nproject/internal/infra/metrics"
	red "github.com/operio-dev/1nproject/internal/infra/redis"
	"github.com/operio-dev/1nproject/internal/infra/sched"
	"github.com/operio-dev/1nproject/internal/usecase"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	a, err := bootstrap(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, log := a.cfg, a.log

	metrics.MustRegister()
	metrics.SetBuildInfo(Version, Commit)

	if cfg.Database.MigrateOnStart {
		if err := pg.Migrate(ctx, a.pool); err != nil {
			return err
		}
		log.Info().Msg("migrations applied")
	}

	gateway, err := a.paymentGateway()
	if err != nil {
		return err
	}
	verifier := payment.NewStripeWebhookVerifier(cfg.Payment.Stripe.WebhookSecret, cfg.Payment.Stripe.WebhookTolerance)
	pool := a.numberPool()
	sweeper := a.sweeper()

	allocationUC := usecase.NewAllocationUseCase(a.ledger, a.resv, a.tm, a.tm, pool, cfg.Allocation.ReservationTTL, log)
	checkoutUC := usecase.NewCheckoutUseCase(a.resv, gateway, log)
	memberUC := usecase.NewMemberUseCase(a.ledger, a.resv, gateway, pool, log)
	confirmationUC := usecase.NewConfirmationUseCase(
		a.ledger, a.resv, a.tm, a.tm, gateway, verifier, a.alerter(), a.processedEvents(),
		cfg.Allocation.GraceWindow, log,
	)

	deps := api.Deps{
		Allocation:   allocationUC,
		Checkout:     checkoutUC,
		Members:      memberUC,
		Confirmation: confirmationUC,
		Sweeper:      sweeper,
		Identity:     api.NewJWTVerifier(cfg.Auth),
	}
	var locker red.Locker
	if a.redis != nil {
		deps.Limiter = red.NewRateLimiter(a.redis)
		locker = red.NewLocker(a.redis)
	}
	srv := api.NewServer(deps, api.Options{
		RequestTimeout:  cfg.Server.RequestTimeout,
		SweepSecret:     cfg.Sweep.Secret,
		ClaimsPerMinute: cfg.RateLimit.ClaimsPerMinute,
		PortalReturnURL: cfg.Payment.Stripe.PortalReturnURL,
		Dev:             cfg.Runtime.Dev,
	}, log)

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Router()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Str("provider", gateway.Name()).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("shutdown requested")
		return httpServer.Shutdown(shutdownCtx)
	})
	if cfg.Sweep.Interval > 0 {
		worker := sched.NewExpiryWorker(cfg.Sweep.Interval, sweeper, locker, log)
		g.Go(func() error { return ignoreCanceled(worker.Run(gctx)) })
	}
	stats := sched.NewStatsWorker(0, a.pool, func(ctx context.Context) (int, error) {
		return a.ledger.CountHolding(ctx, nil)
	}, log)
	g.Go(func() error { return ignoreCanceled(stats.Run(gctx)) })

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
