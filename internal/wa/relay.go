package wa

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pak-finance/internal/notify"

	"go.mau.fi/whatsmeow/types"
)

// TextSender sends plain text messages.
type TextSender interface {
	SendText(ctx context.Context, to types.JID, text string) error
}

// Relay forwards notifications addressed to a phone as WhatsApp messages.
type Relay struct {
	sender      TextSender
	countryCode string
}

// NewRelay returns a notify.Relay backed by sender.
func NewRelay(sender TextSender, countryCode string) *Relay {
	return &Relay{sender: sender, countryCode: countryCode}
}

// Relay implements notify.Relay.
func (r *Relay) Relay(ctx context.Context, n notify.Notification) error {
	if NormalizePhone(n.Phone, r.countryCode) == "" {
		return errors.New("relay: notification has no phone")
	}
	to := JIDFromPhone(n.Phone, r.countryCode)
	if err := r.sender.SendText(ctx, to, formatNotification(n)); err != nil {
		return fmt.Errorf("relay to %s: %w", to.User, err)
	}
	return nil
}

func formatNotification(n notify.Notification) string {
	var prefix string
	switch n.Kind {
	case notify.KindSuccess:
		prefix = "✅ "
	case notify.KindReward:
		prefix = "🎁 "
	default:
		prefix = "ℹ️ "
	}
	return prefix + strings.TrimSpace(n.Message)
}
