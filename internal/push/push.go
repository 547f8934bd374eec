package push

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	json "github.com/goccy/go-json"

	"github.com/dukerupert/patrimonio/internal/model"
)

// DefaultSubscriber is the VAPID contact used when none is configured.
const DefaultSubscriber = "mailto:admin@patrimonio.local"

const (
	sendTimeout = 10 * time.Second
	// Reminders older than a day are stale; the next engine pass sends a fresh one.
	defaultTTL = 24 * 60 * 60
)

// ErrExpired is returned when the push service reports the subscription
// gone (404 or 410).
var ErrExpired = errors.New("push subscription expired")

// Payload is the JSON body the service worker receives.
type Payload struct {
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	URL      string         `json:"url,omitempty"`
	Tag      string         `json:"tag,omitempty"`
	Severity model.Severity `json:"severity,omitempty"`
}

// Urgency maps a notification severity to a web push urgency so that
// overdue reminders can wake a sleeping device while info ones wait.
func (p Payload) Urgency() webpush.Urgency {
	switch p.Severity {
	case model.SeverityError:
		return webpush.UrgencyHigh
	case model.SeverityWarning:
		return webpush.UrgencyNormal
	default:
		return webpush.UrgencyLow
	}
}

// Service signs and sends web push messages with a VAPID key pair.
type Service struct {
	publicKey  string
	privateKey string
	subscriber string
	client     *http.Client
}

// NewService creates a push service. An empty subscriber falls back to
// DefaultSubscriber.
func NewService(publicKey, privateKey, subscriber string) *Service {
	if subscriber == "" {
		subscriber = DefaultSubscriber
	}
	return &Service{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
		client:     &http.Client{Timeout: sendTimeout},
	}
}

// VAPIDPublicKey returns the key browsers need to subscribe.
func (s *Service) VAPIDPublicKey() string {
	return s.publicKey
}

func (s *Service) Send(sub *model.PushSubscription, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotification(data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dhKey, Auth: sub.AuthKey},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.subscriber,
		Topic:           payload.Tag,
		TTL:             defaultTTL,
		Urgency:         payload.Urgency(),
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone, resp.StatusCode == http.StatusNotFound:
		return ErrExpired
	case resp.StatusCode >= 400:
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}

// GenerateVAPIDKeys returns a new base64url-encoded P-256 key pair for
// the push.vapid_public_key and push.vapid_private_key settings.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate VAPID keys: %w", err)
	}
	return publicKey, privateKey, nil
}
