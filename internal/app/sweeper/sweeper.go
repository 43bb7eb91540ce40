// Package sweeper runs the bonus expiry sweep on a cron schedule. When a
// locker is configured only one process in the fleet sweeps at a time.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/skillmarket/points/internal/domain"
	"github.com/skillmarket/points/internal/infra/observability"
)

// Expirer is the ledger operation the sweeper drives.
type Expirer interface {
	ExpireOldBonuses(ctx context.Context) (domain.ExpireResult, error)
}

// Config holds sweeper settings.
type Config struct {
	Enabled  bool
	Schedule string        // five-field cron spec or @every/@daily descriptor
	LockKey  string        // redis key guarding the sweep
	LockTTL  time.Duration // must exceed a sweep's worst-case duration
	Timeout  time.Duration // 0 = no per-run deadline
}

// DefaultConfig sweeps daily at 03:00.
func DefaultConfig() Config {
	return Config{
		Enabled:  true,
		Schedule: "0 3 * * *",
		LockKey:  "points:sweeper",
		LockTTL:  30 * time.Minute,
		Timeout:  20 * time.Minute,
	}
}

// Outcome of a single run.
const (
	OutcomeOK      = "ok"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

// Sweeper schedules ExpireOldBonuses.
type Sweeper struct {
	cfg    Config
	ledger Expirer
	locker domain.Locker
	logger *zap.Logger
	cron   *cron.Cron

	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a sweeper. locker may be nil for a single-process deployment.
func New(cfg Config, ledger Expirer, locker domain.Locker, logger *zap.Logger) *Sweeper {
	logger = observability.OrNop(logger).Named("sweeper")
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	clog := cronLogger{logger.Sugar()}
	return &Sweeper{
		cfg:    cfg,
		ledger: ledger,
		locker: locker,
		logger: logger,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		stopped: make(chan struct{}),
	}
}

// RunOnce performs one sweep. It returns OutcomeSkipped without error when
// another process holds the lock.
func (s *Sweeper) RunOnce(ctx context.Context) (domain.ExpireResult, string, error) {
	if s.locker != nil {
		lock, ok, err := s.locker.TryLock(ctx, s.cfg.LockKey, s.cfg.LockTTL)
		if err != nil {
			observability.SweepRuns.WithLabelValues(OutcomeError).Inc()
			return domain.ExpireResult{}, OutcomeError, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			observability.SweepRuns.WithLabelValues(OutcomeSkipped).Inc()
			s.logger.Info("sweep skipped, lock held elsewhere", zap.String("key", s.cfg.LockKey))
			return domain.ExpireResult{}, OutcomeSkipped, nil
		}
		defer func() {
			// ctx may already be done; release on a short detached deadline.
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := lock.Release(rctx); err != nil {
				s.logger.Warn("release sweep lock", zap.Error(err))
			}
		}()
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.ledger.ExpireOldBonuses(ctx)
	observability.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.SweepRuns.WithLabelValues(OutcomeError).Inc()
		s.logger.Error("sweep failed", zap.Error(err), zap.Int("expired", res.ExpiredCount))
		return res, OutcomeError, err
	}

	observability.SweepRuns.WithLabelValues(OutcomeOK).Inc()
	s.logger.Info("sweep finished",
		zap.Int("expired", res.ExpiredCount),
		zap.Int("failed", res.Failed),
		zap.String("total_amount", res.TotalAmount.String()),
		zap.Duration("took", time.Since(start)),
	)
	return res, OutcomeOK, nil
}

// Start schedules the sweep and starts the cron engine. The sweeper stops
// when ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("sweeper disabled by config")
		return nil
	}
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		_, _, _ = s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	s.logger.Info("sweeper started", zap.String("schedule", s.cfg.Schedule))

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopped:
		}
	}()
	return nil
}

// Stop stops scheduling and waits for a running sweep. Safe to call more
// than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		close(s.stopped)
		s.logger.Info("sweeper stopped")
	})
}

// cronLogger routes cron's internal logging to zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
