package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/patrimonio/internal/metrics"
	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/store"
)

const (
	TitleOverdue     = "Loan overdue"
	TitleDueToday    = "Loan due today"
	TitleDueTomorrow = "Loan due tomorrow"

	relatedLoans = "loans"
	dateLayout   = "02/01/2006"
)

const (
	overdueTTL     = 30 * 24 * time.Hour
	dueTodayTTL    = 24 * time.Hour
	dueTomorrowTTL = 48 * time.Hour
)

// Summary reports what one full run did.
type Summary struct {
	Overdue      int      `json:"overdue"`
	DueToday     int      `json:"due_today"`
	DueTomorrow  int      `json:"due_tomorrow"`
	Expired      int64    `json:"expired"`
	FailedPasses []string `json:"failed_passes,omitempty"`
}

// Engine applies the loan reminder rules and expires stale notifications.
type Engine struct {
	loans         *store.LoanStore
	notifications *store.NotificationStore
	logger        *slog.Logger
	now           func() time.Time

	mu        sync.RWMutex
	listeners []func(model.Notification)
}

func NewEngine(loans *store.LoanStore, notifications *store.NotificationStore, logger *slog.Logger) *Engine {
	return &Engine{
		loans:         loans,
		notifications: notifications,
		logger:        logger.With("component", "notify"),
		now:           time.Now,
	}
}

// OnCreated registers a callback invoked for each newly inserted notification.
func (e *Engine) OnCreated(fn func(model.Notification)) {
	e.mu.Lock()
	e.listeners = append(e.listeners, fn)
	e.mu.Unlock()
}

func (e *Engine) emit(n model.Notification) {
	e.mu.RLock()
	listeners := e.listeners
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(n)
	}
}

// CheckOverdue notifies responsible users about active loans past their
// expected return time. It returns the number of notifications created.
func (e *Engine) CheckOverdue(ctx context.Context) (int, error) {
	now := e.now().UTC()
	return e.pass(ctx, "overdue", func(l model.Loan) *model.Notification {
		expected := l.ExpectedReturnAt.UTC()
		if !expected.Before(now) {
			return nil
		}
		daysLate := int(now.Sub(expected).Hours() / 24)
		return &model.Notification{
			Title:    TitleOverdue,
			Severity: model.SeverityWarning,
			Message: fmt.Sprintf("Equipment %q borrowed by %s is %d day(s) late. Expected return: %s.",
				l.EquipmentName, l.BorrowerName, daysLate, expected.Format(dateLayout)),
			ExpiresAt: ptr(now.Add(overdueTTL)),
		}
	})
}

// CheckDueToday notifies about active loans expected back today.
func (e *Engine) CheckDueToday(ctx context.Context) (int, error) {
	now := e.now().UTC()
	today := startOfDay(now)
	return e.pass(ctx, "due_today", func(l model.Loan) *model.Notification {
		if !startOfDay(*l.ExpectedReturnAt).Equal(today) {
			return nil
		}
		return &model.Notification{
			Title:    TitleDueToday,
			Severity: model.SeverityWarning,
			Message: fmt.Sprintf("Equipment %q borrowed by %s is due back today (%s).",
				l.EquipmentName, l.BorrowerName, today.Format(dateLayout)),
			ExpiresAt: ptr(now.Add(dueTodayTTL)),
		}
	})
}

// CheckDueTomorrow notifies about active loans expected back tomorrow.
func (e *Engine) CheckDueTomorrow(ctx context.Context) (int, error) {
	now := e.now().UTC()
	tomorrow := startOfDay(now).AddDate(0, 0, 1)
	return e.pass(ctx, "due_tomorrow", func(l model.Loan) *model.Notification {
		if !startOfDay(*l.ExpectedReturnAt).Equal(tomorrow) {
			return nil
		}
		return &model.Notification{
			Title:    TitleDueTomorrow,
			Severity: model.SeverityInfo,
			Message: fmt.Sprintf("Equipment %q borrowed by %s is due back tomorrow (%s).",
				l.EquipmentName, l.BorrowerName, tomorrow.Format(dateLayout)),
			ExpiresAt: ptr(now.Add(dueTomorrowTTL)),
		}
	})
}

// pass runs one rule over every active loan with a due date. Each insert
// commits on its own; a failing insert is logged and the pass continues.
func (e *Engine) pass(ctx context.Context, name string, rule func(model.Loan) *model.Notification) (int, error) {
	loans, err := e.loans.ListActiveWithDueDate()
	if err != nil {
		return 0, fmt.Errorf("%s pass: %w", name, err)
	}

	created := 0
	var errs []error
	for _, l := range loans {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		if l.EquipmentName == "" || l.BorrowerName == "" {
			e.logger.Debug("skipping loan with unresolved references", "pass", name, "loan_id", l.ID)
			continue
		}
		n := rule(l)
		if n == nil {
			continue
		}
		n.UserID = l.ResponsibleID
		n.RelatedTable = ptr(relatedLoans)
		n.RelatedID = ptr(l.ID)

		inserted, err := e.notifications.CreateIfAbsent(*n)
		if err != nil {
			e.logger.Error("create notification", "pass", name, "loan_id", l.ID, "error", err)
			errs = append(errs, fmt.Errorf("loan %d: %w", l.ID, err))
			continue
		}
		if inserted == nil {
			continue
		}
		created++
		metrics.NotificationsCreated.WithLabelValues(name).Inc()
		e.emit(*inserted)
	}
	if len(errs) > 0 {
		return created, fmt.Errorf("%s pass: %w", name, errors.Join(errs...))
	}
	return created, nil
}

// SweepExpired deletes notifications whose expiry is in the past.
func (e *Engine) SweepExpired(ctx context.Context) (int64, error) {
	n, err := e.notifications.DeleteExpired(e.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expiry sweep: %w", err)
	}
	metrics.NotificationsExpired.Add(float64(n))
	return n, nil
}

// RunAll runs the overdue, due-today, due-tomorrow and expiry passes in
// order. A failing pass does not stop the others; the returned error joins
// every pass failure.
func (e *Engine) RunAll(ctx context.Context) (Summary, error) {
	var sum Summary
	var errs []error

	record := func(name string, err error) {
		if err == nil {
			return
		}
		e.logger.Error("notification pass failed", "pass", name, "error", err)
		metrics.NotificationPassErrors.WithLabelValues(name).Inc()
		sum.FailedPasses = append(sum.FailedPasses, name)
		errs = append(errs, err)
	}

	var err error
	sum.Overdue, err = e.CheckOverdue(ctx)
	record("overdue", err)
	sum.DueToday, err = e.CheckDueToday(ctx)
	record("due_today", err)
	sum.DueTomorrow, err = e.CheckDueTomorrow(ctx)
	record("due_tomorrow", err)
	sum.Expired, err = e.SweepExpired(ctx)
	record("sweep", err)

	e.logger.Info("notification run complete",
		"overdue", sum.Overdue,
		"due_today", sum.DueToday,
		"due_tomorrow", sum.DueTomorrow,
		"expired", sum.Expired,
	)
	return sum, errors.Join(errs...)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T {
	return &v
}
