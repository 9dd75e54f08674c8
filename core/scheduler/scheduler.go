package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tky-kevin/travelkb/helper"
	"github.com/tky-kevin/travelkb/model"
)

// CrawlFunc runs one crawl pass.
type CrawlFunc func(ctx context.Context, target string, budget int) *model.CrawlResult

// Scheduler runs a crawl pass over one fixed target on a fixed interval.
// A tick is skipped while the previous pass is still running.
type Scheduler struct {
	cron     *cron.Cron
	crawl    CrawlFunc
	target   string
	budget   int
	schedule string
	logger   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entryID cron.EntryID
	started bool
}

// NewScheduler creates a scheduler for target. The interval must be at least one second.
func NewScheduler(crawl CrawlFunc, target string, budget int, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if crawl == nil {
		return nil, helper.NewError("scheduler validation", fmt.Errorf("crawl function is nil"))
	}
	if target == "" {
		return nil, helper.NewError("scheduler validation", fmt.Errorf("target is empty"))
	}
	if interval < time.Second {
		return nil, helper.NewError("scheduler validation", fmt.Errorf("interval must be at least 1s, got %s", interval))
	}
	if logger == nil {
		logger = slog.Default()
	}

	cronLogger := &slogCronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		crawl:    crawl,
		target:   target,
		budget:   budget,
		schedule: "@every " + interval.String(),
		logger:   logger,
	}, nil
}

// Start schedules the crawl job. Jobs run with a context derived from ctx
// that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return helper.NewError("start scheduler", fmt.Errorf("already started"))
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	id, err := s.cron.AddFunc(s.schedule, func() { s.run(s.ctx) })
	if err != nil {
		s.cancel()
		return helper.NewError("add cron job", err)
	}
	s.entryID = id
	s.started = true
	s.cron.Start()

	s.logger.Info("Scheduler started", "target", s.target, "schedule", s.schedule, "budget", s.budget)

	return nil
}

// Stop cancels a running pass and stops further ticks. The returned context
// is done once the running pass has returned.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.started = false

	s.logger.Info("Scheduler stopping")

	return s.cron.Stop()
}

// RunNow runs one pass synchronously, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context) *model.CrawlResult {
	return s.run(ctx)
}

// Next returns the time of the next scheduled pass, zero if not started.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) run(ctx context.Context) *model.CrawlResult {
	s.logger.Info("Scheduled crawl starting", "target", s.target)

	result := s.crawl(ctx, s.target, s.budget)
	if result == nil {
		s.logger.Error("Scheduled crawl returned no result", "target", s.target)
		return nil
	}

	if result.Success {
		s.logger.Info("Scheduled crawl finished", "target", s.target, "message", result.Message)
	} else {
		s.logger.Warn("Scheduled crawl failed", "target", s.target, "message", result.Message)
	}
	return result
}

// slogCronLogger adapts slog to cron.Logger.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l *slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l *slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
