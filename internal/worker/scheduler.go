package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/mortgage-marketplace/backend/internal/config"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const jobTimeout = 2 * time.Minute

// zapCronLogger adapts zap to cron.Logger.
type zapCronLogger struct {
	s *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Scheduler runs the periodic jobs on cron schedules from config.
type Scheduler struct {
	cron *cron.Cron
	jobs *Jobs
	cfg  *config.Config
	log  *zap.Logger
}

func NewScheduler(jobs *Jobs, cfg *config.Config, log *zap.Logger) *Scheduler {
	cl := zapCronLogger{s: log.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{cron: c, jobs: jobs, cfg: cfg, log: log}
}

// Register adds every job. A bad schedule is an error, not a silently skipped job.
func (s *Scheduler) Register(ctx context.Context) error {
	entries := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"sla_report", s.cfg.SLAReportSchedule, func(ctx context.Context) error {
			_, err := s.jobs.ReportSLA(ctx)
			return err
		}},
		{"metrics_refresh", s.cfg.MetricsRefreshSchedule, s.jobs.RefreshMetrics},
		{"escalation_sweep", s.cfg.EscalationSweepSchedule, func(ctx context.Context) error {
			_, err := s.jobs.SweepEscalations(ctx)
			return err
		}},
	}

	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.schedule, s.wrap(ctx, e.name, e.run)); err != nil {
			return fmt.Errorf("schedule %s %q: %w", e.name, e.schedule, err)
		}
		s.log.Info("scheduled job", zap.String("job", e.name), zap.String("schedule", e.schedule))
	}
	return nil
}

func (s *Scheduler) wrap(ctx context.Context, name string, run func(context.Context) error) func() {
	return func() {
		jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()

		start := time.Now()
		if err := run(jobCtx); err != nil {
			s.log.Error("job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.log.Debug("job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and returns a context done once running jobs finish.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }
