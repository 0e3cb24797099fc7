package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"referral-tracker.backend/pkg/logger"
	"referral-tracker.backend/pkg/metrics"
)

const defaultRunTimeout = time.Minute

// ErrNoSchedule is returned by Start when the job was built with an empty
// schedule.
var ErrNoSchedule = errors.New("reconcile schedule is empty")

type referralReconciler interface {
	ReconcileReferralCounts(ctx context.Context) (int64, error)
}

// ReferralReconcileJob periodically rewrites total_referrals from the
// referred_by column for rows that drifted.
type ReferralReconcileJob struct {
	repo       referralReconciler
	schedule   string
	runTimeout time.Duration
	metrics    *metrics.Metrics

	mu      sync.Mutex
	cron    *cron.Cron
	baseCtx context.Context
}

func NewReferralReconcileJob(repo referralReconciler, schedule string, m *metrics.Metrics) *ReferralReconcileJob {
	return &ReferralReconcileJob{
		repo:       repo,
		schedule:   schedule,
		runTimeout: defaultRunTimeout,
		metrics:    m,
	}
}

// Start registers the schedule and starts the scheduler in the background.
// Runs that overlap a still-running one are skipped.
func (j *ReferralReconcileJob) Start(ctx context.Context) error {
	if j.schedule == "" {
		return ErrNoSchedule
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(j.schedule, func() { j.run() }); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", j.schedule, err)
	}

	j.baseCtx = ctx
	j.cron = c
	c.Start()
	logger.Info(ctx, "Referral reconcile job started", zap.String("schedule", j.schedule))
	return nil
}

// Stop halts the scheduler and waits for an in-flight run to finish.
func (j *ReferralReconcileJob) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	logger.Info(context.Background(), "Referral reconcile job stopped")
}

// RunOnce performs a single reconciliation pass.
func (j *ReferralReconcileJob) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, j.runTimeout)
	defer cancel()

	repaired, err := j.repo.ReconcileReferralCounts(ctx)
	j.metrics.ObserveReconcile(repaired, err)
	if err != nil {
		logger.Error(ctx, "Referral reconcile failed", zap.Error(err))
		return 0, err
	}

	if repaired > 0 {
		logger.Warn(ctx, "Repaired drifted referral counters", zap.Int64("rows", repaired))
	} else {
		logger.Debug(ctx, "Referral counters consistent")
	}
	return repaired, nil
}

func (j *ReferralReconcileJob) run() {
	j.mu.Lock()
	ctx := j.baseCtx
	j.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	_, _ = j.RunOnce(ctx)
}
