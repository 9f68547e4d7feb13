package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	drepo "FactorPulse/internal/domain/repository"
	applogger "FactorPulse/pkg/logger"
	"FactorPulse/pkg/util"
)

// ErrRunInProgress is returned by RunOnce when another replica holds the lock.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Runner executes one pipeline run.
type Runner interface {
	RunHourly(ctx context.Context) (*RunResult, error)
}

// Invalidator drops derived state after a successful run.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type SchedulerConfig struct {
	Every      time.Duration
	AlignToRun bool
	RunOnStart bool
	LockKey    string
	RunTimeout time.Duration
}

// Scheduler fires the pipeline on a fixed cadence. A lock in the shared
// cache keeps replicas from running the same hour twice.
type Scheduler struct {
	cfg     SchedulerConfig
	runner  Runner
	locker  drepo.Locker
	after   Invalidator
	l       *applogger.Logger
	now     func() time.Time
	timer   func(d time.Duration) <-chan time.Time
	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func NewScheduler(cfg SchedulerConfig, runner Runner, locker drepo.Locker, after Invalidator, l *applogger.Logger) *Scheduler {
	if cfg.Every <= 0 {
		cfg.Every = time.Hour
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 20 * time.Minute
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		locker: locker,
		after:  after,
		l:      l,
		now:    time.Now,
		timer:  time.After,
	}
}

// Start runs the schedule in the background until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
}

// Wait blocks until the loop started by Start has exited.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	if s.cfg.RunOnStart {
		s.fire(ctx)
	}
	for {
		next := util.NextRun(s.now(), s.cfg.Every, s.cfg.AlignToRun)
		s.l.Info("next pipeline run scheduled", applogger.Time("at", next))
		select {
		case <-ctx.Done():
			return
		case <-s.timer(next.Sub(s.now())):
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
		s.l.Error("scheduled run failed", applogger.Error(err))
	}
}

// RunOnce takes the lock, runs the pipeline with the run timeout and
// releases the lock.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.locker != nil && s.cfg.LockKey != "" {
		ok, err := s.locker.TryLock(ctx, s.cfg.LockKey, s.cfg.RunTimeout+time.Minute)
		if err != nil {
			return err
		}
		if !ok {
			s.l.Info("pipeline lock held elsewhere, skipping run", applogger.String("key", s.cfg.LockKey))
			return ErrRunInProgress
		}
		defer func() {
			if err := s.locker.Unlock(context.Background(), s.cfg.LockKey); err != nil {
				s.l.Warn("pipeline unlock failed", applogger.Error(err))
			}
		}()
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()
	if _, err := s.runner.RunHourly(runCtx); err != nil {
		return err
	}
	if s.after != nil {
		if err := s.after.Invalidate(ctx); err != nil {
			s.l.Warn("cache invalidation failed", applogger.Error(err))
		}
	}
	return nil
}
