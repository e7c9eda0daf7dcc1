package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/amaumene/reclaimarr/internal/controllers"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler manages scheduled tasks
type Scheduler struct {
	cron      *cron.Cron
	syncCtrl  *controllers.SyncController
	watchCtrl *controllers.WatchController // nil when no watch history source is configured
	token     string
	logger    *logrus.Logger

	mu      sync.Mutex
	running map[string]bool
	ctx     context.Context
	stop    context.CancelFunc
}

// NewScheduler creates a new scheduler
func NewScheduler(
	syncCtrl *controllers.SyncController,
	watchCtrl *controllers.WatchController,
	token string,
	logger *logrus.Logger,
) *Scheduler {
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		cron:      cron.New(),
		syncCtrl:  syncCtrl,
		watchCtrl: watchCtrl,
		token:     token,
		logger:    logger,
		running:   make(map[string]bool),
		ctx:       ctx,
		stop:      stop,
	}
}

// Start registers the jobs on their cron schedules and starts the scheduler
func (s *Scheduler) Start(librarySchedule, watchSchedule string) error {
	s.logger.Info("Starting scheduler")

	_, err := s.cron.AddFunc(librarySchedule, func() {
		s.runExclusive("library-sync", s.runLibrarySync)
	})
	if err != nil {
		return fmt.Errorf("failed to add library sync job: %w", err)
	}

	if s.watchCtrl != nil {
		_, err = s.cron.AddFunc(watchSchedule, func() {
			s.runExclusive("watch-sync", s.runWatchSync)
		})
		if err != nil {
			return fmt.Errorf("failed to add watch sync job: %w", err)
		}
	}

	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"library_schedule": librarySchedule,
		"watch_schedule":   watchSchedule,
		"watch_enabled":    s.watchCtrl != nil,
	}).Info("Scheduler started")

	// Run initial watch sync immediately
	if s.watchCtrl != nil {
		go s.runExclusive("watch-sync", s.runWatchSync)
	}

	return nil
}

// Stop stops the scheduler and cancels running jobs
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	s.stop()
	<-s.cron.Stop().Done()
}

// runExclusive skips a job while a previous run of it is still going
func (s *Scheduler) runExclusive(name string, job func()) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.WithField("job", name).Warn("Previous run still in progress, skipping")
		return
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[name] = false
		s.mu.Unlock()
	}()

	job()
}

// runLibrarySync executes the library sync job
func (s *Scheduler) runLibrarySync() {
	s.logger.Info("Running scheduled library sync")

	summary, err := s.syncCtrl.Run(s.ctx, s.token, controllers.NewLogSink(s.logger, 500), nil)
	if err != nil {
		s.logger.WithError(err).Error("Library sync job failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"status": summary.Status,
		"synced": summary.ItemsSynced,
	}).Info("Library sync job completed")
}

// runWatchSync executes the watch history job
func (s *Scheduler) runWatchSync() {
	s.logger.Info("Running scheduled watch history sync")

	if _, err := s.watchCtrl.SyncWatchHistory(s.ctx); err != nil {
		s.logger.WithError(err).Error("Watch history job failed")
	} else {
		s.logger.Info("Watch history job completed successfully")
	}
}
