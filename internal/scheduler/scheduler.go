// Package scheduler runs the periodic report job and exposes a manual
// trigger for the admin path.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"rolechat/internal/config"
	"rolechat/internal/news"
	"rolechat/internal/push"
)

// ReportBuilder produces the digest the job delivers.
type ReportBuilder interface {
	BuildReport(ctx context.Context) (*news.Report, error)
}

// ReportJob builds the news report and pushes it to the configured
// groups.
type ReportJob struct {
	builder ReportBuilder
	pusher  push.Pusher
	format  string
	targets []string
	logger  *zap.Logger
}

// NewReportJob wires the job.
func NewReportJob(builder ReportBuilder, pusher push.Pusher, format string, targets []string, logger *zap.Logger) *ReportJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportJob{
		builder: builder,
		pusher:  pusher,
		format:  format,
		targets: targets,
		logger:  logger,
	}
}

// Run executes one delivery round. Push failures are counted per group
// so one bad target does not stop the rest.
func (j *ReportJob) Run(ctx context.Context) (string, error) {
	report, err := j.builder.BuildReport(ctx)
	if err != nil {
		return "", err
	}
	rendered := news.Render(report, j.format)

	delivered := 0
	for _, group := range j.targets {
		if err := j.pusher.SendToGroup(ctx, group, rendered); err != nil {
			j.logger.Warn("report delivery failed",
				zap.String("group", group), zap.Error(err))
			continue
		}
		delivered++
	}

	j.logger.Info("report job finished",
		zap.Int("items", len(report.Items)),
		zap.Int("delivered", delivered),
		zap.Int("targets", len(j.targets)))
	return fmt.Sprintf("Report with %d items delivered to %d/%d groups.",
		len(report.Items), delivered, len(j.targets)), nil
}

// Scheduler fires the report job on a cron spec.
type Scheduler struct {
	cron   *cron.Cron
	job    *ReportJob
	logger *zap.Logger
}

// New builds a scheduler from config. The job runs with a bounded
// context so a hung feed cannot wedge the cron worker.
func New(cfg config.ScheduleConfig, job *ReportJob, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loc := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule timezone %q: %w", cfg.Timezone, err)
		}
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(cfg.Spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := job.Run(ctx); err != nil {
			logger.Error("scheduled report job failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid schedule spec %q: %w", cfg.Spec, err)
	}

	return &Scheduler{cron: c, job: job, logger: logger}, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunNow triggers the job synchronously. Used by the admin
// "triggernews" operation.
func (s *Scheduler) RunNow(ctx context.Context) (string, error) {
	return s.job.Run(ctx)
}
