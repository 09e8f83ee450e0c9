package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"github.com/operio-dev/1nproject/internal/config"
	"github.com/operio-dev/1nproject/internal/domain/model"
	"github.com/operio-dev/1nproject/internal/domain/ports/adapter"
	"github.com/operio-dev/1nproject/internal/domain/ports/repository"
	payAdapters "github.com/operio-dev/1nproject/internal/infra/adapters/payment"
	tele "github.com/operio-dev/1nproject/internal/infra/adapters/telegram"
	pg "github.com/operio-dev/1nproject/internal/infra/db/postgres"
	"github.com/operio-dev/1nproject/internal/infra/i18n"
	"github.com/operio-dev/1nproject/internal/infra/logging"
	red "github.com/operio-dev/1nproject/internal/infra/redis"
	"github.com/operio-dev/1nproject/internal/usecase"
)

// app holds everything the commands share.
type app struct {
	cfg    *config.Config
	log    *zerolog.Logger
	pool   *pgxpool.Pool
	redis  red.Client // nil when not configured
	ledger repository.LedgerRepository
	resv   repository.ReservationRepository
	tm     *pg.TxManager
}

func bootstrap(ctx context.Context, validate bool) (*app, error) {
	load := config.Load
	if validate {
		load = config.LoadConfig
	}
	cfg, err := load(cfgPath, devMode)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("config: database.url is required")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	a := &app{
		cfg:    cfg,
		log:    logger,
		pool:   pool,
		ledger: pg.NewLedgerRepo(pool),
		resv:   pg.NewReservationRepo(pool),
		tm:     pg.NewTxManager(pool),
	}

	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, cfg.Redis)
		if err != nil {
			// throttling and event markers are optional; correctness lives in postgres
			logger.Warn().Err(err).Msg("redis unavailable, continuing without it")
		} else {
			a.redis = rc
		}
	}
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.pool.Close()
}

func (a *app) sweeper() usecase.SweepUseCase {
	return usecase.NewSweepUseCase(a.ledger, a.resv, a.tm, a.cfg.Allocation.ReservationMargin, a.log)
}

func (a *app) numberPool() model.NumberPool {
	return model.NewNumberPool(a.cfg.Allocation.MaxNumber, a.cfg.Allocation.BlockedNumbers)
}

func (a *app) paymentGateway() (adapter.PaymentGateway, error) {
	switch a.cfg.Payment.Provider {
	case "noop":
		a.log.Warn().Msg("payment provider is noop: no real charges")
		return payAdapters.NewNoopPaymentGateway(), nil
	default:
		return payAdapters.NewStripeGateway(a.cfg.Payment.Stripe, a.log)
	}
}

func (a *app) alerter() adapter.OperatorAlerter {
	if a.cfg.Alerts.TelegramToken == "" {
		return tele.NewLogAlerter(a.log)
	}
	tr, err := i18n.NewTranslator(i18n.LocalesFS, a.cfg.Alerts.Language)
	if err != nil {
		a.log.Error().Err(err).Msg("alert catalog unavailable, alerts go to the log only")
		return tele.NewLogAlerter(a.log)
	}
	t, err := tele.NewTelegramAlerter(a.cfg.Alerts, tr, a.log)
	if err != nil {
		a.log.Error().Err(err).Msg("telegram alerter disabled, alerts go to the log only")
		return tele.NewLogAlerter(a.log)
	}
	return t
}

func (a *app) processedEvents() repository.ProcessedEventStore {
	if a.redis == nil {
		return nil
	}
	return red.NewProcessedEventStore(a.redis, a.cfg.Redis.TTL)
}
