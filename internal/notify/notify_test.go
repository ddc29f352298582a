package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pak-finance/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingRelay struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingRelay) Relay(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func newTestCenter(relay Relay) (*Center, *clock) {
	clk := &clock{now: time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)}
	c := NewCenter(Options{TTL: 4 * time.Second, Relay: relay, Now: clk.Now}, logging.Discard())
	return c, clk
}

func TestNotificationsExpire(t *testing.T) {
	c, clk := newTestCenter(nil)
	ctx := context.Background()

	c.Notify(ctx, Notification{Message: "plan purchased", Kind: KindSuccess})
	clk.Advance(2 * time.Second)
	c.Notify(ctx, Notification{Message: "second"})

	active := c.Active("")
	require.Len(t, active, 2)
	assert.Equal(t, KindInfo, active[1].Kind)

	clk.Advance(2 * time.Second)
	active = c.Active("")
	require.Len(t, active, 1)
	assert.Equal(t, "second", active[0].Message)

	clk.Advance(2 * time.Second)
	assert.Empty(t, c.Active(""))
}

func TestDismiss(t *testing.T) {
	c, _ := newTestCenter(nil)
	c.Notify(context.Background(), Notification{Message: "hello"})
	id := c.Active("")[0].ID

	assert.True(t, c.Dismiss(id))
	assert.False(t, c.Dismiss(id))
	assert.Empty(t, c.Active(""))
}

func TestRelayOnlyAddressedNotifications(t *testing.T) {
	relay := &recordingRelay{err: errors.New("offline")}
	c, _ := newTestCenter(relay)
	ctx := context.Background()

	c.Notify(ctx, Notification{Message: "broadcast"})
	c.Notify(ctx, Notification{Message: "deposit approved", Phone: "03001234567", Kind: KindSuccess})
	c.Wait()

	relay.mu.Lock()
	defer relay.mu.Unlock()
	require.Len(t, relay.sent, 1)
	assert.Equal(t, "03001234567", relay.sent[0].Phone)
	// a failing relay does not drop the local copy
	assert.Len(t, c.Active("03001234567"), 2)
	assert.Len(t, c.Active("03110000000"), 1)
}
