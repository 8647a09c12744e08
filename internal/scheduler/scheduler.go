package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/meterbill/internal/clock"
	"github.com/smallbiznis/meterbill/internal/config"
	invoicedomain "github.com/smallbiznis/meterbill/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/meterbill/internal/observability/metrics"
	walletdomain "github.com/smallbiznis/meterbill/internal/wallet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobWalletDebit = "wallet_debit"
	JobPeriodClose = "period_close"

	defaultPollInterval = time.Minute
	jobTimeout          = 10 * time.Minute
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Wallet   walletdomain.Service
	Invoices invoicedomain.Service
}

// Scheduler drives the recurring billing jobs: the daily wallet debit
// sweep and contract period-close.
type Scheduler struct {
	log      *zap.Logger
	clock    clock.Clock
	cfg      config.SchedulerConfig
	wallet   walletdomain.Service
	invoices invoicedomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Wallet == nil || p.Invoices == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		clock:    p.Clock,
		cfg:      p.Config.Scheduler,
		wallet:   p.Wallet,
		invoices: p.Invoices,
	}, nil
}

// RunOnce executes every enabled job sequentially and joins their
// errors; one failing job never stops the others.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobWalletDebit, s.WalletDebitJob},
		{JobPeriodClose, s.PeriodCloseJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, jobTimeout, job.Run))
	}
	return err
}

// RunForever ticks RunOnce until the context ends.
func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.pollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(interval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if lag := time.Since(nextRun); lag > 0 {
			schedMetrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(interval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// WalletDebitJob sweeps undebited customer line items into wallet
// charges.
func (s *Scheduler) WalletDebitJob(ctx context.Context) error {
	result, err := s.wallet.DebitBatch(ctx)
	if err != nil {
		return err
	}
	obsmetrics.Scheduler().AddBatchProcessed(JobWalletDebit, obsmetrics.LockResourceWalletsForDebit, result.Debited)
	s.log.Info("wallet debit sweep finished",
		zap.Int("groups", result.Groups),
		zap.Int("debited", result.Debited),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return nil
}

// PeriodCloseJob closes every due contract period into an invoice.
func (s *Scheduler) PeriodCloseJob(ctx context.Context) error {
	result, err := s.invoices.RunPeriodClose(ctx, s.clock.Now())
	if err != nil {
		return err
	}
	obsmetrics.Scheduler().AddBatchProcessed(JobPeriodClose, obsmetrics.LockResourceContractsForClose, result.Processed)
	s.log.Info("period close finished",
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return nil
}

func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		log.Warn("job timed out", zap.Duration("timeout", timeout), zap.Error(err))
	} else {
		log.Error("job failed", zap.Error(err))
	}
	schedMetrics.IncJobError(name, err)
	return err
}

func (s *Scheduler) isJobEnabled(name string) bool {
	for _, disabled := range s.cfg.DisabledJobs {
		if strings.EqualFold(disabled, name) {
			return false
		}
	}
	return true
}

func (s *Scheduler) pollInterval() time.Duration {
	if s.cfg.PollIntervalSeconds <= 0 {
		return defaultPollInterval
	}
	return time.Duration(s.cfg.PollIntervalSeconds) * time.Second
}
