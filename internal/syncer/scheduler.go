package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/and161185/caseflow/internal/errs"
	"github.com/and161185/caseflow/internal/session"
)

// DefaultInterval is the sync schedule when none is configured.
const DefaultInterval = "@every 5m"

// SessionFunc returns the current session; it is asked on every tick so a
// login or logout between ticks takes effect.
type SessionFunc func() (*session.Session, error)

// ScheduleConfig controls periodic sync.
type ScheduleConfig struct {
	Interval      string
	RunAtStart    bool
	PullAfterPush bool
}

// Scheduler triggers sync cycles on a cron schedule.
type Scheduler struct {
	engine  *Engine
	sess    SessionFunc
	log     *zap.Logger
	cron    *cron.Cron
	mu      sync.Mutex
	cfg     ScheduleConfig
	entryID cron.EntryID
}

// NewScheduler constructs a stopped scheduler.
func NewScheduler(engine *Engine, sess SessionFunc, cfg ScheduleConfig, log *zap.Logger) *Scheduler {
	if cfg.Interval == "" {
		cfg.Interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{engine: engine, sess: sess, cfg: cfg, log: log, cron: cron.New()}
}

// Start registers the job and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.cron.AddFunc(s.cfg.Interval, func() { s.Tick(ctx) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.cfg.Interval, err)
	}
	s.entryID = id
	s.log.Info("starting sync scheduler", zap.String("interval", s.cfg.Interval))
	s.cron.Start()
	if s.cfg.RunAtStart {
		go s.Tick(ctx)
	}
	return nil
}

// Reschedule swaps the schedule in place, keeping the loop running.
func (s *Scheduler) Reschedule(ctx context.Context, cfg ScheduleConfig) error {
	if cfg.Interval == "" {
		cfg.Interval = DefaultInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Interval == s.cfg.Interval {
		s.cfg = cfg
		return nil
	}
	id, err := s.cron.AddFunc(cfg.Interval, func() { s.Tick(ctx) })
	if err != nil {
		return fmt.Errorf("schedule %q: %w", cfg.Interval, err)
	}
	s.cron.Remove(s.entryID)
	s.entryID, s.cfg = id, cfg
	s.log.Info("sync rescheduled", zap.String("interval", cfg.Interval))
	return nil
}

// Stop stops the loop and waits for a running tick to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("stopped sync scheduler")
}

// Tick runs one scheduled cycle. It skips when a cycle is already running
// or no one is logged in.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.engine.Syncing() {
		s.log.Info("sync already running, skipping scheduled run")
		return
	}
	sess, err := s.sess()
	if err != nil {
		s.log.Info("scheduled sync skipped", zap.Error(err))
		return
	}
	s.mu.Lock()
	pull := s.cfg.PullAfterPush
	s.mu.Unlock()

	if _, err := s.engine.SyncNow(ctx, sess); err != nil {
		s.logSkip("push", err)
		return
	}
	if pull {
		if _, err := s.engine.DownloadFromServer(ctx, sess); err != nil {
			s.logSkip("pull", err)
		}
	}
}

func (s *Scheduler) logSkip(direction string, err error) {
	if errors.Is(err, errs.ErrSyncInProgress) {
		s.log.Info("sync already running, skipping scheduled run", zap.String("direction", direction))
		return
	}
	s.log.Error("scheduled sync failed", zap.String("direction", direction), zap.Error(err))
}
