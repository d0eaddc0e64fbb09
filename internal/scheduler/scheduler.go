// Package scheduler runs the follow-up engine's periodic jobs on cron
// schedules, once per configured region.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/TobiSchelling/followup/internal/collect"
	"github.com/TobiSchelling/followup/internal/config"
	"github.com/TobiSchelling/followup/internal/database"
	"github.com/TobiSchelling/followup/internal/followup"
)

// Job names.
const (
	JobTriggers   = "triggers"
	JobStatuses   = "statuses"
	JobEngagement = "engagement"
	JobIngest     = "ingest"
)

var cronLogger = cron.PrintfLogger(logrus.StandardLogger())

// Engine is the part of the follow-up service the jobs drive.
type Engine interface {
	Region(slug string) (*database.Region, error)
	ProcessTriggers(ctx context.Context, regionID int64) *followup.TriggerResult
	UpdateThreadStatuses(ctx context.Context, regionID int64) *followup.StatusResult
	ProcessHighEngagementArticles(ctx context.Context, regionID int64) *followup.EngagementResult
}

// Ingester collects new articles for a region.
type Ingester interface {
	Ingest(ctx context.Context, region config.Region, regionID int64) *collect.Result
}

// Service handles scheduling of the periodic jobs.
type Service struct {
	schedule config.Schedule
	regions  []config.Region
	engine   Engine
	ingester Ingester
	cron     *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates a scheduler. ingester may be nil, which disables the
// ingest job.
func NewService(cfg *config.Config, engine Engine, ingester Ingester) *Service {
	return &Service{
		schedule: cfg.Schedule,
		regions:  cfg.Regions,
		engine:   engine,
		ingester: ingester,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
}

// Start registers every job with a schedule and starts the cron loop. Jobs
// run with a context that is canceled by Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	jobs := []struct{ name, spec string }{
		{JobTriggers, s.schedule.Triggers},
		{JobStatuses, s.schedule.Statuses},
		{JobEngagement, s.schedule.Engagement},
		{JobIngest, s.schedule.Ingest},
	}
	for _, job := range jobs {
		if job.spec == "" || (job.name == JobIngest && s.ingester == nil) {
			logrus.Debugf("Job %s disabled", job.name)
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, func() {
			if err := s.RunJob(s.jobContext(), job.name); err != nil {
				logrus.Errorf("Scheduled %s run failed: %v", job.name, err)
			}
		}); err != nil {
			return fmt.Errorf("scheduling %s job: %w", job.name, err)
		}
		logrus.Infof("Scheduled %s job: %s", job.name, job.spec)
	}

	s.cron.Start()
	logrus.Infof("Scheduler started for %d regions", len(s.regions))
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	logrus.Info("Scheduler stopped")
}

// Entries reports the number of registered jobs.
func (s *Service) Entries() int {
	return len(s.cron.Entries())
}

func (s *Service) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// RunJob runs one job for every configured region, one region after the
// other. A region that cannot be resolved is skipped and reported.
func (s *Service) RunJob(ctx context.Context, name string) error {
	var failed []string
	for _, r := range s.regions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		region, err := s.engine.Region(r.Slug)
		if err != nil || region == nil {
			logrus.WithField("region", r.Slug).Warnf("Region not available: %v", err)
			failed = append(failed, r.Slug)
			continue
		}
		if err := s.runForRegion(ctx, name, r, region.ID); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%s job skipped regions %v", name, failed)
	}
	return nil
}

func (s *Service) runForRegion(ctx context.Context, name string, r config.Region, regionID int64) error {
	log := logrus.WithFields(logrus.Fields{"job": name, "region": r.Slug})
	switch name {
	case JobTriggers:
		res := s.engine.ProcessTriggers(ctx, regionID)
		log.Infof("%d processed, %d triggered", res.Processed, res.Triggered)
	case JobStatuses:
		res := s.engine.UpdateThreadStatuses(ctx, regionID)
		log.Infof("%d checked, %d changed", res.Checked, res.Resolved+res.Dormant+res.Monitoring)
	case JobEngagement:
		res := s.engine.ProcessHighEngagementArticles(ctx, regionID)
		log.Infof("%d analyzed, %d threaded", res.ArticlesAnalyzed, res.ThreadsCreated+res.ThreadsJoined)
	case JobIngest:
		if s.ingester == nil {
			return fmt.Errorf("ingest job: no ingester configured")
		}
		res := s.ingester.Ingest(ctx, r, regionID)
		log.Infof("%d new articles", res.New)
	default:
		return fmt.Errorf("unknown job %q", name)
	}
	return nil
}
