package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/patrimonio/internal/metrics"
	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/notify"
)

// NotificationRunner runs every notification rule pass.
type NotificationRunner interface {
	RunAll(ctx context.Context) (notify.Summary, error)
}

// BackupRunner creates and prunes backups.
type BackupRunner interface {
	Create(ctx context.Context, kind model.BackupKind, createdBy *int64) (*model.Backup, error)
	Prune(ctx context.Context, keep int) (int, error)
	Retention() int
}

// SettingsReader reads runtime settings with a fallback.
type SettingsReader interface {
	GetOr(key, fallback string) (string, error)
}

var ErrAlreadyRunning = errors.New("scheduler already running")

type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

type Config struct {
	Interval    time.Duration
	Backoff     time.Duration
	Pause       time.Duration
	StopTimeout time.Duration
	BackupTime  string
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Backoff <= 0 {
		c.Backoff = 5 * time.Minute
	}
	if c.Pause <= 0 {
		c.Pause = c.Interval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	if c.BackupTime == "" {
		c.BackupTime = "02:00"
	}
}

// Status is a snapshot of the scheduler for the admin API.
type Status struct {
	State           State      `json:"state"`
	LastRun         *time.Time `json:"last_run,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	LastBackupDay   string     `json:"last_backup_day,omitempty"`
	Iterations      int64      `json:"iterations"`
	BackupTime      string     `json:"backup_time"`
	IntervalSeconds float64    `json:"interval_seconds"`
}

// Scheduler runs the notification passes on every tick and the daily
// automatic backup. One goroutine at most.
type Scheduler struct {
	mu     sync.Mutex
	cfg    Config
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	notifications NotificationRunner
	backups       BackupRunner
	settings      SettingsReader
	logger        *slog.Logger
	now           func() time.Time

	lastRun       *time.Time
	lastError     string
	lastBackupDay string
	iterations    int64
}

func New(cfg Config, notifications NotificationRunner, backups BackupRunner, settings SettingsReader, logger *slog.Logger) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:           cfg,
		state:         StateStopped,
		notifications: notifications,
		backups:       backups,
		settings:      settings,
		logger:        logger.With("component", "scheduler"),
		now:           time.Now,
	}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:           s.state,
		LastRun:         s.lastRun,
		LastError:       s.lastError,
		LastBackupDay:   s.lastBackupDay,
		Iterations:      s.iterations,
		BackupTime:      s.cfg.BackupTime,
		IntervalSeconds: s.cfg.Interval.Seconds(),
	}
}

// Start launches the loop. The first iteration runs immediately. Calling
// Start while running, or while a stopped loop is still finishing its
// iteration, logs and returns ErrAlreadyRunning.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		s.logger.Warn("start ignored, scheduler already running")
		return ErrAlreadyRunning
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			s.mu.Unlock()
			s.logger.Warn("start ignored, previous iteration still in flight")
			return ErrAlreadyRunning
		}
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.state = StateRunning
	done := s.done
	s.mu.Unlock()

	metrics.SchedulerRunning.Set(1)
	s.logger.Info("scheduler started", "interval", s.cfg.Interval, "backup_time", s.cfg.BackupTime)

	go s.loop(ctx, done)
	return nil
}

// Stop cancels the loop and waits up to the stop timeout for the current
// iteration to finish. It returns an error when the wait timed out.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	done := s.done
	s.state = StateStopped
	s.mu.Unlock()

	cancel()
	metrics.SchedulerRunning.Set(0)

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-time.After(s.cfg.StopTimeout):
		s.logger.Warn("scheduler stop timed out, iteration still in flight", "timeout", s.cfg.StopTimeout)
		return fmt.Errorf("scheduler stop: timed out after %s", s.cfg.StopTimeout)
	}
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	wait := time.Duration(0)
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		backedUp, err := s.safeIteration(ctx)
		wait = s.cfg.Interval
		switch {
		case err != nil:
			s.logger.Error("scheduler iteration failed, backing off", "error", err, "backoff", s.cfg.Backoff)
			metrics.SchedulerIterations.WithLabelValues("error").Inc()
			wait = s.cfg.Backoff
		case backedUp:
			metrics.SchedulerIterations.WithLabelValues("ok").Inc()
			wait += s.cfg.Pause
		default:
			metrics.SchedulerIterations.WithLabelValues("ok").Inc()
		}
	}
}

func (s *Scheduler) safeIteration(ctx context.Context) (backedUp bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		now := s.now()
		s.mu.Lock()
		s.iterations++
		s.lastRun = &now
		s.lastError = ""
		if err != nil {
			s.lastError = err.Error()
		}
		s.mu.Unlock()
	}()
	return s.iteration(ctx)
}

func (s *Scheduler) iteration(ctx context.Context) (bool, error) {
	if _, err := s.notifications.RunAll(ctx); err != nil {
		s.logger.Warn("notification run reported errors", "error", err)
	}
	if ctx.Err() != nil {
		return false, nil
	}

	now := s.now()
	if !s.backupDue(now) {
		return false, nil
	}

	s.logger.Info("starting automatic backup")
	b, err := s.backups.Create(ctx, model.BackupKindAutomatic, nil)
	if err != nil {
		s.logger.Error("automatic backup failed", "error", err)
	} else {
		s.logger.Info("automatic backup complete", "filename", b.Filename, "size_bytes", b.SizeBytes)
	}

	if _, err := s.backups.Prune(ctx, s.backups.Retention()); err != nil {
		return true, fmt.Errorf("prune backups: %w", err)
	}
	return true, nil
}

// backupDue reports whether the wall clock matches the configured backup
// time and no automatic backup has been attempted on this calendar day. It
// claims the day when it returns true.
func (s *Scheduler) backupDue(now time.Time) bool {
	enabled, backupTime := "true", s.cfg.BackupTime
	if s.settings != nil {
		if v, err := s.settings.GetOr("backup_enabled", "true"); err == nil {
			enabled = v
		}
		if v, err := s.settings.GetOr("backup_time", s.cfg.BackupTime); err == nil && v != "" {
			backupTime = v
		}
	}
	if enabled == "false" || now.Format("15:04") != backupTime {
		return false
	}

	day := now.Format("2006-01-02")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastBackupDay == day {
		return false
	}
	s.lastBackupDay = day
	return true
}

// RunNotificationsNow runs every notification pass outside the timer.
func (s *Scheduler) RunNotificationsNow(ctx context.Context) (notify.Summary, error) {
	return s.notifications.RunAll(ctx)
}

// RunBackupNow creates a manual backup and applies retention.
func (s *Scheduler) RunBackupNow(ctx context.Context, createdBy *int64) (*model.Backup, error) {
	b, err := s.backups.Create(ctx, model.BackupKindManual, createdBy)
	if err != nil {
		return b, err
	}
	if _, err := s.backups.Prune(ctx, s.backups.Retention()); err != nil {
		s.logger.Warn("prune after manual backup", "error", err)
	}
	return b, nil
}

// Serve runs the scheduler until ctx is cancelled, for use under a supervisor.
func (s *Scheduler) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("scheduler start failed: %w", err)
	}
	<-ctx.Done()
	if err := s.Stop(); err != nil {
		return err
	}
	return ctx.Err()
}

func (s *Scheduler) String() string {
	return "scheduler"
}
