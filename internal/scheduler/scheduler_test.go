package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock returns the current entry of a fixed sequence. The sequence
// advances once per notification run, so each iteration sees the next time.
type fakeClock struct {
	mu  sync.Mutex
	seq []time.Time
	i   int
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq[c.i]
}

func (c *fakeClock) advance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.i < len(c.seq)-1 {
		c.i++
	}
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []time.Time
	run   func(call int) error
	clock *fakeClock
}

func (f *fakeNotifier) RunAll(ctx context.Context) (notify.Summary, error) {
	f.mu.Lock()
	f.calls = append(f.calls, time.Now())
	call := len(f.calls)
	f.mu.Unlock()

	if f.clock != nil && call > 1 {
		f.clock.advance()
	}
	if f.run != nil {
		return notify.Summary{}, f.run(call)
	}
	return notify.Summary{}, nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeBackups struct {
	mu      sync.Mutex
	created []model.BackupKind
	prunes  []int
}

func (f *fakeBackups) Create(ctx context.Context, kind model.BackupKind, createdBy *int64) (*model.Backup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, kind)
	return &model.Backup{ID: int64(len(f.created)), Kind: kind, Status: model.BackupStatusSuccess}, nil
}

func (f *fakeBackups) Prune(ctx context.Context, keep int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunes = append(f.prunes, keep)
	return 0, nil
}

func (f *fakeBackups) Retention() int { return 10 }

func (f *fakeBackups) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created), len(f.prunes)
}

type fakeSettings map[string]string

func (s fakeSettings) GetOr(key, fallback string) (string, error) {
	if v, ok := s[key]; ok {
		return v, nil
	}
	return fallback, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func at(day, hour, min, sec int) time.Time {
	return time.Date(2024, 5, day, hour, min, sec, 0, time.UTC)
}

func fastConfig() Config {
	return Config{Interval: time.Millisecond, Pause: time.Millisecond, Backoff: time.Millisecond, StopTimeout: time.Second}
}

func TestStartRunsFirstIterationImmediately(t *testing.T) {
	n := &fakeNotifier{}
	s := New(Config{Interval: time.Hour}, n, &fakeBackups{}, nil, discardLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return n.count() == 1 })
	if s.State() != StateRunning {
		t.Errorf("state = %q, want RUNNING", s.State())
	}
}

func TestStartTwiceAndStopWhenStopped(t *testing.T) {
	s := New(Config{Interval: time.Hour}, &fakeNotifier{}, &fakeBackups{}, nil, discardLogger())

	if err := s.Stop(); err != nil {
		t.Errorf("Stop while stopped: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start: err = %v, want ErrAlreadyRunning", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("state = %q, want STOPPED", s.State())
	}
}

func TestBackupFiresOncePerDay(t *testing.T) {
	clock := &fakeClock{seq: []time.Time{
		at(1, 1, 59, 0),
		at(1, 2, 0, 0),
		at(1, 2, 0, 20),
		at(1, 2, 0, 40),
		at(1, 2, 1, 0),
		at(2, 1, 59, 0),
		at(2, 2, 0, 0),
		at(2, 2, 0, 30),
		at(2, 2, 1, 0),
	}}
	n := &fakeNotifier{clock: clock}
	b := &fakeBackups{}
	s := New(fastConfig(), n, b, fakeSettings{}, discardLogger())
	s.now = clock.now

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return n.count() > len(clock.seq)+2 })
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	created, prunes := b.counts()
	if created != 2 {
		t.Errorf("backups = %d, want 2 (one per day)", created)
	}
	if prunes != 2 {
		t.Errorf("prunes = %d, want 2", prunes)
	}
	for _, kind := range b.created {
		if kind != model.BackupKindAutomatic {
			t.Errorf("kind = %q, want AUTOMATIC", kind)
		}
	}
	if got := s.Status().LastBackupDay; got != "2024-05-02" {
		t.Errorf("last backup day = %q", got)
	}
}

func TestBackupTimeFromSettings(t *testing.T) {
	clock := &fakeClock{seq: []time.Time{at(1, 2, 0, 0), at(1, 3, 15, 0), at(1, 3, 16, 0)}}
	n := &fakeNotifier{clock: clock}
	b := &fakeBackups{}
	s := New(fastConfig(), n, b, fakeSettings{"backup_time": "03:15"}, discardLogger())
	s.now = clock.now

	s.Start(context.Background())
	waitFor(t, 5*time.Second, func() bool { return n.count() > len(clock.seq)+1 })
	s.Stop()

	if created, _ := b.counts(); created != 1 {
		t.Errorf("backups = %d, want 1 at 03:15", created)
	}
}

func TestBackupDisabledSetting(t *testing.T) {
	clock := &fakeClock{seq: []time.Time{at(1, 2, 0, 0)}}
	n := &fakeNotifier{}
	b := &fakeBackups{}
	s := New(fastConfig(), n, b, fakeSettings{"backup_enabled": "false"}, discardLogger())
	s.now = clock.now

	s.Start(context.Background())
	waitFor(t, time.Second, func() bool { return n.count() > 3 })
	s.Stop()

	if created, _ := b.counts(); created != 0 {
		t.Errorf("backups = %d, want 0 when disabled", created)
	}
}

func TestNotificationErrorsAreSwallowed(t *testing.T) {
	n := &fakeNotifier{run: func(int) error { return errors.New("db locked") }}
	cfg := fastConfig()
	cfg.Backoff = time.Hour
	s := New(cfg, n, &fakeBackups{}, nil, discardLogger())

	s.Start(context.Background())
	// Without backoff the loop keeps ticking at the short interval.
	waitFor(t, 2*time.Second, func() bool { return n.count() >= 3 })
	s.Stop()

	if s.Status().LastError != "" {
		t.Errorf("last error = %q, want none", s.Status().LastError)
	}
}

func TestPanicTriggersBackoff(t *testing.T) {
	n := &fakeNotifier{run: func(call int) error {
		if call == 1 {
			panic("boom")
		}
		return nil
	}}
	cfg := fastConfig()
	cfg.Backoff = 200 * time.Millisecond
	s := New(cfg, n, &fakeBackups{}, nil, discardLogger())

	s.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool { return n.count() >= 2 })
	s.Stop()

	n.mu.Lock()
	gap := n.calls[1].Sub(n.calls[0])
	n.mu.Unlock()
	if gap < 150*time.Millisecond {
		t.Errorf("gap after panic = %v, want >= backoff", gap)
	}
	if st := s.Status(); st.Iterations < 2 {
		t.Errorf("iterations = %d, want >= 2", st.Iterations)
	}
}

func TestStopTimesOutOnStuckIteration(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	n := &fakeNotifier{run: func(int) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}}
	cfg := fastConfig()
	cfg.StopTimeout = 50 * time.Millisecond
	s := New(cfg, n, &fakeBackups{}, nil, discardLogger())
	defer close(release)

	s.Start(context.Background())
	<-started

	begin := time.Now()
	if err := s.Stop(); err == nil {
		t.Error("expected timeout error")
	}
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Errorf("Stop took %v", elapsed)
	}
	if s.State() != StateStopped {
		t.Errorf("state = %q, want STOPPED", s.State())
	}
}

func TestStartRefusedUntilStuckIterationDrains(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	active, maxActive := 0, 0
	n := &fakeNotifier{run: func(int) error {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		once.Do(func() { close(started) })
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}}
	cfg := fastConfig()
	cfg.StopTimeout = 20 * time.Millisecond
	s := New(cfg, n, &fakeBackups{}, nil, discardLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started
	if err := s.Stop(); err == nil {
		t.Fatal("expected timeout error")
	}

	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Start while draining: err = %v, want ErrAlreadyRunning", err)
	}

	close(release)
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := s.Start(context.Background())
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Start after drain: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	defer s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if maxActive != 1 {
		t.Errorf("max concurrent iterations = %d, want 1", maxActive)
	}
}

func TestRunBackupNow(t *testing.T) {
	b := &fakeBackups{}
	s := New(Config{}, &fakeNotifier{}, b, nil, discardLogger())
	uid := int64(3)

	backup, err := s.RunBackupNow(context.Background(), &uid)
	if err != nil {
		t.Fatalf("RunBackupNow: %v", err)
	}
	if backup.Kind != model.BackupKindManual {
		t.Errorf("kind = %q, want MANUAL", backup.Kind)
	}
	if created, prunes := b.counts(); created != 1 || prunes != 1 {
		t.Errorf("created=%d prunes=%d, want 1/1", created, prunes)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	n := &fakeNotifier{}
	s := New(Config{Interval: time.Hour}, n, &fakeBackups{}, nil, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx) }()
	waitFor(t, time.Second, func() bool { return n.count() == 1 })
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if s.State() != StateStopped {
		t.Errorf("state = %q, want STOPPED", s.State())
	}
}
