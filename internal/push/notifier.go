package push

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/patrimonio/internal/metrics"
	"github.com/dukerupert/patrimonio/internal/model"
	"github.com/dukerupert/patrimonio/internal/store"
)

// Sender delivers a payload to one subscription.
type Sender interface {
	Send(sub *model.PushSubscription, payload Payload) error
}

// Notifier fans stored notifications out to the recipient's push subscriptions.
type Notifier struct {
	sender Sender
	subs   *store.PushStore
	logger *slog.Logger
}

func NewNotifier(sender Sender, subs *store.PushStore, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		subs:   subs,
		logger: logger.With("component", "push"),
	}
}

// PayloadFor builds the push payload for a notification. Loan notifications
// link to the loan and share a tag so a newer reminder replaces the older one.
func PayloadFor(n model.Notification) Payload {
	p := Payload{
		Title:    n.Title,
		Body:     n.Message,
		URL:      "/notifications",
		Severity: n.Severity,
	}
	if n.RelatedTable != nil && n.RelatedID != nil {
		p.URL = fmt.Sprintf("/%s/%d", *n.RelatedTable, *n.RelatedID)
		p.Tag = fmt.Sprintf("%s-%d", *n.RelatedTable, *n.RelatedID)
	}
	return p
}

// Deliver sends n to every subscription of its recipient and returns the
// number of successful deliveries. Expired subscriptions are removed.
func (p *Notifier) Deliver(n model.Notification) int {
	subs, err := p.subs.ListByUser(n.UserID)
	if err != nil {
		p.logger.Error("list subscriptions", "user_id", n.UserID, "error", err)
		return 0
	}

	payload := PayloadFor(n)
	sent := 0
	for _, sub := range subs {
		err := p.sender.Send(&sub, payload)
		switch {
		case err == nil:
			sent++
			metrics.PushDeliveries.WithLabelValues("sent").Inc()
		case errors.Is(err, ErrExpired):
			metrics.PushDeliveries.WithLabelValues("expired").Inc()
			if err := p.subs.DeleteByEndpoint(sub.Endpoint); err != nil {
				p.logger.Error("delete expired subscription", "endpoint", sub.Endpoint, "error", err)
			}
		default:
			metrics.PushDeliveries.WithLabelValues("error").Inc()
			p.logger.Warn("send push", "user_id", n.UserID, "error", err)
		}
	}
	return sent
}

// Notify delivers n in the background. It matches the notification engine's
// listener signature.
func (p *Notifier) Notify(n model.Notification) {
	go p.Deliver(n)
}
