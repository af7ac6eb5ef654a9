package services

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dataherald/console/pkg/errors"
)

// DefaultCensusSchedule runs the census every five minutes.
const DefaultCensusSchedule = "*/5 * * * *"

// CensusScheduler runs QueryService.Census on a cron schedule.
type CensusScheduler struct {
	svc     QueryService
	logger  Logger
	cron    *cron.Cron
	timeout time.Duration

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	initial sync.WaitGroup
}

// NewCensusScheduler parses schedule, a standard five-field cron
// expression or a descriptor such as "@every 1m", and registers the census
// job. The job does not run until Start.
func NewCensusScheduler(svc QueryService, schedule string, timeout time.Duration, logger Logger) (*CensusScheduler, error) {
	if schedule == "" {
		schedule = DefaultCensusSchedule
	}
	if timeout <= 0 {
		timeout = time.Minute
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidRequest, "invalid census schedule %q", schedule)
	}

	s := &CensusScheduler{
		svc:     svc,
		logger:  logger,
		timeout: timeout,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	s.cron.Schedule(sched, cron.FuncJob(s.run))
	return s, nil
}

// Start begins running the census on schedule. It also takes one census
// right away so that the gauges are populated before the first tick.
func (s *CensusScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.initial.Add(1)
	go func() {
		defer s.initial.Done()
		s.run()
	}()
	s.cron.Start()
	s.logger.Info("Census scheduler started", "next_run", s.cron.Entries()[0].Next)
}

// Stop halts the schedule, cancels a census in flight and waits for it,
// including the one taken by Start, or for ctx to be done.
func (s *CensusScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-s.cron.Stop().Done()
		s.initial.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Census scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce takes a census immediately.
func (s *CensusScheduler) RunOnce(ctx context.Context) error {
	_, err := s.svc.Census(ctx)
	return err
}

func (s *CensusScheduler) run() {
	parent := s.parent()
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	err := s.RunOnce(ctx)
	switch {
	case err == nil:
	case parent.Err() != nil:
		s.logger.Debug("Census cancelled by shutdown")
	default:
		s.logger.Error("Scheduled census failed", "error", err)
	}
}

// parent is the context of the running scheduler, or Background when run
// is called outside Start.
func (s *CensusScheduler) parent() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}
