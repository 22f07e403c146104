package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facturio/facturio/internal/clock"
	"github.com/facturio/facturio/internal/config"
	draftdomain "github.com/facturio/facturio/internal/draft/domain"
	obsmetrics "github.com/facturio/facturio/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

const jobTimeout = 30 * time.Second

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Clock    clock.Clock
	DraftSvc draftdomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      config.Config
	clock    clock.Clock
	draftSvc draftdomain.Service
	metrics  *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.DraftSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Cfg,
		clock:    p.Clock,
		draftSvc: p.DraftSvc,
		metrics:  p.Metrics,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) (err error) {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", name, r)
			s.log.Error("job panicked", zap.String("job", name), zap.Any("panic", r))
		}
	}()

	err = fn(ctx)
	elapsed := time.Since(start)
	if err == nil {
		s.log.Debug("job finished",
			zap.String("job", name),
			zap.Duration("elapsed", elapsed),
		)
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", jobTimeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, "expire_drafts", s.ExpireDraftsJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ExpireDraftsJob drains expired active drafts until a pass comes back
// empty. Each pass is bounded, so a large backlog drains in chunks.
func (s *Scheduler) ExpireDraftsJob(ctx context.Context) error {
	now := s.clock.Now()
	total := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		expired, err := s.draftSvc.SweepExpired(ctx, now)
		total += expired
		if err != nil {
			return err
		}
		if expired == 0 {
			break
		}
	}

	if total > 0 {
		s.metrics.RecordDraftsExpired(total)
		s.log.Info("draft expiry sweep completed", zap.Int("expired", total))
	}
	return nil
}
