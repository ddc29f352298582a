// Package notify keeps short-lived user notifications and optionally relays
// them to an outside channel.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pak-finance/internal/metrics"

	"github.com/google/uuid"
)

// Kind classifies a notification.
type Kind string

const (
	KindSuccess Kind = "success"
	KindInfo    Kind = "info"
	KindReward  Kind = "reward"
)

// DefaultTTL is how long a notification stays visible.
const DefaultTTL = 4 * time.Second

// Notification is one transient message. Phone is empty for notifications
// addressed to whoever is looking at the app.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"type"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Sink receives notifications.
type Sink interface {
	Notify(ctx context.Context, n Notification)
}

// Relay delivers a notification to an outside channel.
type Relay interface {
	Relay(ctx context.Context, n Notification) error
}

// Options tunes a Center.
type Options struct {
	TTL          time.Duration
	RelayTimeout time.Duration
	Relay        Relay
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Center holds active notifications until they expire or are dismissed.
type Center struct {
	mu    sync.Mutex
	items []Notification

	ttl          time.Duration
	relayTimeout time.Duration
	relay        Relay
	metrics      *metrics.Metrics
	now          func() time.Time
	logger       *slog.Logger
	wg           sync.WaitGroup
}

// NewCenter builds an in-memory notification centre.
func NewCenter(opts Options, logger *slog.Logger) *Center {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RelayTimeout <= 0 {
		opts.RelayTimeout = 15 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Center{
		ttl:          opts.TTL,
		relayTimeout: opts.RelayTimeout,
		relay:        opts.Relay,
		metrics:      opts.Metrics,
		now:          opts.Now,
		logger:       logger.With("component", "notify"),
	}
}

// SetRelay installs the relay used for notifications addressed to a phone.
func (c *Center) SetRelay(r Relay) {
	c.mu.Lock()
	c.relay = r
	c.mu.Unlock()
}

// Notify stores n and hands it to the relay in the background.
func (c *Center) Notify(ctx context.Context, n Notification) {
	if n.Kind == "" {
		n.Kind = KindInfo
	}
	n.ID = uuid.NewString()
	n.CreatedAt = c.now()
	n.ExpiresAt = n.CreatedAt.Add(c.ttl)

	c.mu.Lock()
	c.items = c.prune(append(c.items, n))
	relay := c.relay
	c.mu.Unlock()

	c.logger.Debug("notification", "kind", n.Kind, "phone", n.Phone, "message", n.Message)
	if c.metrics != nil {
		c.metrics.Notifications.WithLabelValues(string(n.Kind)).Inc()
	}

	if relay == nil || n.Phone == "" {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		relayCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.relayTimeout)
		defer cancel()
		if err := relay.Relay(relayCtx, n); err != nil {
			c.logger.Warn("relay notification failed", "phone", n.Phone, "error", err)
			if c.metrics != nil {
				c.metrics.Errors.WithLabelValues("notify_relay").Inc()
			}
		}
	}()
}

// Active returns unexpired notifications visible to phone, oldest first:
// broadcasts plus the ones addressed to phone.
func (c *Center) Active(phone string) []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = c.prune(c.items)
	out := make([]Notification, 0, len(c.items))
	for _, n := range c.items {
		if n.Phone == "" || n.Phone == phone {
			out = append(out, n)
		}
	}
	return out
}

// Dismiss removes the notification with id. It reports whether it was present.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

// Wait blocks until in-flight relays finish.
func (c *Center) Wait() {
	c.wg.Wait()
}

func (c *Center) prune(items []Notification) []Notification {
	now := c.now()
	kept := items[:0]
	for _, n := range items {
		if now.Before(n.ExpiresAt) {
			kept = append(kept, n)
		}
	}
	return kept
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) {}
