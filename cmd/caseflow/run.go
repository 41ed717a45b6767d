package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/caseflow/internal/config"
	"github.com/and161185/caseflow/internal/ipc"
	"github.com/and161185/caseflow/internal/lock"
	"github.com/and161185/caseflow/internal/logging"
	"github.com/and161185/caseflow/internal/remote"
	"github.com/and161185/caseflow/internal/repository/sqlite"
	"github.com/and161185/caseflow/internal/service"
	"github.com/and161185/caseflow/internal/store"
	"github.com/and161185/caseflow/internal/syncer"
)

func runCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "run",
		GroupID: "daemon",
		Short:   "Run the daemon: local store, sync scheduler and IPC API",
		Long: `Run the caseflow daemon in the foreground.

The daemon owns the local database, pushes and pulls on the configured
schedule and serves the IPC API (and the /events websocket) on ipc.addr.
Edits to the config file change the sync schedule without a restart.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDaemon(cmd.Context())
		},
	}
}

func scheduleConfig(c config.SyncConfig) syncer.ScheduleConfig {
	return syncer.ScheduleConfig{Interval: c.Interval, RunAtStart: c.RunAtStart, PullAfterPush: c.PullAfterPush}
}

func (a *app) runDaemon(ctx context.Context) error {
	logger, closeLog, err := logging.New(a.cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("config", a.loader.File()),
		zap.String("database", a.cfg.DatabasePath()),
	)

	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}
	db, err := store.Open(ctx, a.cfg.DatabasePath(), logger.Named("store"))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Repositories
	cases := sqlite.NewCaseRepo(db)
	attendance := sqlite.NewAttendanceRepo(db, loc)

	rc, err := remote.New(a.cfg.Remote.URL, a.cfg.Remote.Timeout, logger.Named("remote"))
	if err != nil {
		return err
	}
	engine := syncer.New(rc, syncer.Stores{
		Cases:      cases,
		Attendance: attendance,
		History:    sqlite.NewHistoryRepo(db),
		Queue:      sqlite.NewQueueRepo(db),
		Runs:       sqlite.NewRunRepo(db),
	}, syncer.Options{
		BatchSize:  a.cfg.Sync.BatchSize,
		MaxRetries: a.cfg.Sync.MaxRetries,
		BaseDelay:  a.cfg.Sync.BaseDelay,
		MaxDelay:   a.cfg.Sync.MaxDelay,
	}, logger.Named("sync"))

	hub := ipc.NewHub(logger.Named("events"))
	defer hub.Close()
	unsubscribe := engine.Subscribe(hub.SyncEvent)
	defer unsubscribe()

	sched := syncer.NewScheduler(engine, a.loadSession, scheduleConfig(a.cfg.Sync), logger.Named("scheduler"))
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	if a.loader.File() != "" {
		a.loader.Watch(func(c config.Config) {
			if err := sched.Reschedule(ctx, scheduleConfig(c.Sync)); err != nil {
				logger.Warn("config reload", zap.Error(err))
				return
			}
			logger.Info("config reloaded", zap.String("interval", c.Sync.Interval))
		}, func(err error) {
			logger.Warn("config reload rejected", zap.Error(err))
		})
	}

	api := ipc.New(ipc.Deps{
		Cases:      service.NewCaseService(cases),
		Attendance: service.NewAttendanceService(attendance),
		Locks:      lock.New(cases, logger.Named("lock")),
		Remote:     rc,
		Mirror:     cases,
		Engine:     engine,
		Session:    a.loadSession,
		Hub:        hub,
	}, logger.Named("ipc"))
	srv := &http.Server{
		Addr:              a.cfg.IPC.Addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ipc listening", zap.String("addr", a.cfg.IPC.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown", zap.Error(err))
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ipc server: %w", err)
		}
	}
	logger.Info("shutdown complete")
	return nil
}
