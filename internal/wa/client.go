package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"pak-finance/internal/metrics"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

// ErrOffline is returned by SendText while the device is not connected.
var ErrOffline = errors.New("whatsapp client offline")

// Config holds configuration to initialise the WhatsApp client.
type Config struct {
	StorePath string
	LogLevel  string
	Metrics   *metrics.Metrics
}

// Client is the ledger's WhatsApp device: it relays notifications out and
// hands admin chat messages to a MessageProcessor.
type Client struct {
	client    *whatsmeow.Client
	logger    *slog.Logger
	metrics   *metrics.Metrics
	processor MessageProcessor
	online    atomic.Bool
}

// MessageProcessor handles inbound WhatsApp text messages.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, evt *events.Message)
}

type replyContextKey struct{}

// ReplyMetadata carries information for quoting a previous message.
type ReplyMetadata struct {
	Message *waProto.Message
	Info    types.MessageInfo
}

// WithReply makes SendText quote evt.
func WithReply(ctx context.Context, evt *events.Message) context.Context {
	if evt == nil || evt.Message == nil {
		return ctx
	}
	cloned, ok := proto.Clone(evt.Message).(*waProto.Message)
	if !ok {
		cloned = evt.Message
	}
	return context.WithValue(ctx, replyContextKey{}, &ReplyMetadata{Message: cloned, Info: evt.Info})
}

func replyFromContext(ctx context.Context) *ReplyMetadata {
	if ctx == nil {
		return nil
	}
	meta, _ := ctx.Value(replyContextKey{}).(*ReplyMetadata)
	return meta
}

func sessionDSN(path string) string {
	path = strings.TrimPrefix(path, "file:")
	return fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", path)
}

// New creates the client with its device session kept in SQLite at cfg.StorePath.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.StorePath) == "" {
		return nil, errors.New("whatsapp session path is required")
	}
	if dir := filepath.Dir(cfg.StorePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure session dir: %w", err)
		}
	}

	container, err := sqlstore.New(ctx, "sqlite", sessionDSN(cfg.StorePath), waLog.Stdout("whatsmeow/sqlstore", cfg.LogLevel, true))
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	wc := &Client{
		client:  whatsmeow.NewClient(device, waLog.Stdout("whatsmeow/client", cfg.LogLevel, true)),
		logger:  logger.With("component", "wa"),
		metrics: cfg.Metrics,
	}
	wc.client.AddEventHandler(wc.handleEvent)
	return wc, nil
}

// Start connects the device, logging a pairing QR code first when no session exists.
func (c *Client) Start(ctx context.Context) error {
	if c.client.Store.ID == nil {
		if err := c.pair(ctx); err != nil {
			return err
		}
	}
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect wa client: %w", err)
	}
	c.logger.Info("whatsapp client connected")
	return nil
}

func (c *Client) pair(ctx context.Context) error {
	c.logger.Info("pairing required, waiting for QR scan")
	qrChan, err := c.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("get qr channel: %w", err)
	}
	go func() {
		for evt := range qrChan {
			if evt.Event == "code" {
				c.logger.Info("scan the QR code with WhatsApp", "qr", evt.Code)
				continue
			}
			c.logger.Info("pairing event received", "event", evt.Event)
		}
	}()
	return nil
}

// Connected reports whether the device currently holds a live connection.
func (c *Client) Connected() bool {
	return c.online.Load()
}

// Close disconnects the WhatsApp client.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Disconnect()
	}
	c.online.Store(false)
}

// SetMessageProcessor registers the handler for inbound admin messages.
func (c *Client) SetMessageProcessor(processor MessageProcessor) {
	c.processor = processor
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleMessage(v)
	case *events.Connected:
		c.online.Store(true)
		c.logger.Info("device connected")
	case *events.Disconnected:
		c.online.Store(false)
		c.logger.Warn("device disconnected")
	case *events.LoggedOut:
		c.online.Store(false)
		c.logger.Error("device logged out, pairing required on next start")
	}
}

func (c *Client) handleMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	kind := "text"
	if MessageText(evt.Message) == "" {
		kind = "unsupported"
	}
	c.logger.Debug("message received", "from", evt.Info.Sender.String(), "kind", kind)
	if c.metrics != nil {
		c.metrics.WAIncomingMessages.WithLabelValues(kind).Inc()
	}
	if kind != "text" || c.processor == nil {
		return
	}
	go c.processor.ProcessMessage(context.Background(), evt)
}

// SendText sends text to the given JID, quoting the message attached with WithReply.
func (c *Client) SendText(ctx context.Context, to types.JID, text string) error {
	if !c.Connected() {
		return ErrOffline
	}
	if _, err := c.client.SendMessage(ctx, to, outgoingText(ctx, text)); err != nil {
		if c.metrics != nil {
			c.metrics.Errors.WithLabelValues("wa_send").Inc()
		}
		return fmt.Errorf("send text: %w", err)
	}
	if c.metrics != nil {
		c.metrics.WAOutgoingMessages.WithLabelValues("text").Inc()
	}
	return nil
}

func outgoingText(ctx context.Context, text string) *waProto.Message {
	reply := replyFromContext(ctx)
	if reply == nil || reply.Message == nil {
		return &waProto.Message{Conversation: proto.String(text)}
	}
	return &waProto.Message{
		ExtendedTextMessage: &waProto.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waProto.ContextInfo{
				StanzaID:      proto.String(string(reply.Info.ID)),
				Participant:   proto.String(reply.Info.Sender.ToNonAD().String()),
				RemoteJID:     proto.String(reply.Info.Chat.String()),
				QuotedMessage: reply.Message,
				QuotedType:    waProto.ContextInfo_EXPLICIT.Enum(),
			},
		},
	}
}

// MessageText returns the plain text body of msg, or "".
func MessageText(msg *waProto.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	return msg.GetExtendedTextMessage().GetText()
}
