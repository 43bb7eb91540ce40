// Package daemon wires the points service together from a Config: store,
// event publisher, ledger, limits gate, sweeper, and HTTP API.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/skillmarket/points/internal/api"
	"github.com/skillmarket/points/internal/app/ledger"
	"github.com/skillmarket/points/internal/app/limits"
	"github.com/skillmarket/points/internal/app/sweeper"
	"github.com/skillmarket/points/internal/domain"
	"github.com/skillmarket/points/internal/infra/events"
	"github.com/skillmarket/points/internal/infra/observability"
	"github.com/skillmarket/points/internal/infra/postgres"
	"github.com/skillmarket/points/internal/infra/redislock"
	"github.com/skillmarket/points/internal/infra/sqlite"
)

// Store is what both the SQLite and PostgreSQL backends provide.
type Store interface {
	domain.LedgerStore
	domain.ProfileStore
	Ping(ctx context.Context) error
	Close() error
}

// Daemon owns every long-lived component.
type Daemon struct {
	Config  Config
	Logger  *zap.Logger
	Store   Store
	Ledger  *ledger.Service
	Gate    *limits.Gate
	Sweeper *sweeper.Sweeper

	publisher domain.EventPublisher
	rdb       redis.UniversalClient
	closers   []func() error
}

// New builds a daemon. On error everything opened so far is closed.
func New(ctx context.Context, cfg Config) (_ *Daemon, err error) {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, err
	}

	d := &Daemon{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	if d.Store, err = openStore(ctx, cfg.Database, logger); err != nil {
		return nil, err
	}
	d.closers = append(d.closers, d.Store.Close)

	if cfg.Kafka.Enabled {
		kp, kerr := events.NewKafkaPublisher(events.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			Async:   cfg.Kafka.Async,
		}, logger)
		if kerr != nil {
			return nil, kerr
		}
		d.publisher = kp
		d.closers = append(d.closers, kp.Close)
	} else {
		d.publisher = events.NewLogPublisher(logger)
	}

	d.Ledger = ledger.New(d.Store,
		ledger.WithLogger(logger),
		ledger.WithPublisher(d.publisher),
		ledger.WithRegistrationBonus(parseAmount(cfg.Ledger.RegistrationBonus, ledger.DefaultRegistrationBonus)),
		ledger.WithBonusTTL(parseDuration(cfg.Ledger.BonusTTL, ledger.DefaultBonusTTL)),
	)
	d.Gate = limits.New(d.Ledger, d.Store,
		limits.WithLogger(logger),
		limits.WithPrices(
			parseAmount(cfg.Limits.ContactViewPrice, limits.DefaultContactViewPrice),
			parseAmount(cfg.Limits.RequestPrice, limits.DefaultRequestPrice),
		),
	)

	var locker domain.Locker
	if cfg.Redis.Enabled {
		if d.rdb, err = redislock.Connect(ctx, redislock.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}); err != nil {
			return nil, err
		}
		d.closers = append(d.closers, d.rdb.Close)
		locker = redislock.New(d.rdb)
	}
	d.Sweeper = sweeper.New(cfg.SweeperSettings(), d.Ledger, locker, logger)

	logger.Info("daemon initialized",
		zap.String("driver", cfg.Database.Driver),
		zap.Bool("kafka", cfg.Kafka.Enabled),
		zap.Bool("redis", cfg.Redis.Enabled),
	)
	return d, nil
}

func openStore(ctx context.Context, cfg DatabaseConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		pc := postgres.DefaultPoolConfig()
		if cfg.MaxConns > 0 {
			pc.MaxConns = int32(cfg.MaxConns)
		}
		return postgres.Open(ctx, cfg.URL, pc, logger)
	case "sqlite", "":
		return sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Handler builds the HTTP handler.
func (d *Daemon) Handler() http.Handler {
	srv := api.NewServer(d.Ledger, d.Gate)
	srv.SetLogger(d.Logger)
	srv.SetHealthCheck(d.health)
	if d.Config.Metrics.Enabled {
		srv.EnableMetrics()
	}
	return srv.Handler()
}

func (d *Daemon) health(ctx context.Context) error {
	if err := d.Store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if d.rdb != nil {
		if err := d.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Run serves the API and runs the sweeper until ctx is cancelled, then
// shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Sweeper.Start(ctx); err != nil {
		return err
	}
	defer d.Sweeper.Stop()

	srv := &http.Server{
		Addr:         d.Config.API.Addr(),
		Handler:      d.Handler(),
		ReadTimeout:  parseDuration(d.Config.API.ReadTimeout, 15*time.Second),
		WriteTimeout: parseDuration(d.Config.API.WriteTimeout, 30*time.Second),
	}

	errCh := make(chan error, 1)
	go func() {
		d.Logger.Info("api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	d.Logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(),
		parseDuration(d.Config.API.ShutdownTimeout, 10*time.Second))
	defer cancel()
	return srv.Shutdown(sctx)
}

// Close releases every resource in reverse order of acquisition.
func (d *Daemon) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	_ = d.Logger.Sync()
	return errors.Join(errs...)
}
