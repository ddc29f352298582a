// Package convo answers admin commands received over chat.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"pak-finance/internal/ledger"
	"pak-finance/internal/metrics"
	"pak-finance/internal/wa"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Ledger is the part of the service the admin chat drives.
type Ledger interface {
	Requests(status ledger.RequestStatus) []ledger.TransactionRequest
	ProcessRequest(ctx context.Context, requestID string, decision ledger.RequestStatus) (ledger.Outcome, error)
	User(phone string) (ledger.UserProfile, error)
	Users() []ledger.UserProfile
}

// Replier sends chat replies.
type Replier interface {
	SendText(ctx context.Context, to types.JID, text string) error
}

// Config lists who may issue commands.
type Config struct {
	AdminPhones []string
	CountryCode string
}

// Engine parses and executes admin commands.
type Engine struct {
	ledger      Ledger
	replier     Replier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	admins      map[string]struct{}
	countryCode string
}

// New builds a command engine.
func New(l Ledger, replier Replier, metricRegistry *metrics.Metrics, logger *slog.Logger, cfg Config) *Engine {
	e := &Engine{
		ledger:      l,
		replier:     replier,
		metrics:     metricRegistry,
		logger:      logger.With("component", "convo"),
		admins:      map[string]struct{}{},
		countryCode: cfg.CountryCode,
	}
	for _, p := range cfg.AdminPhones {
		if n := wa.NormalizePhone(p, cfg.CountryCode); n != "" {
			e.admins[n] = struct{}{}
		}
	}
	return e
}

// ProcessMessage implements wa.MessageProcessor.
func (e *Engine) ProcessMessage(ctx context.Context, evt *events.Message) {
	text := wa.MessageText(evt.Message)
	reply, ok := e.Handle(ctx, evt.Info.Sender.User, text)
	if !ok || reply == "" {
		return
	}
	if err := e.replier.SendText(wa.WithReply(ctx, evt), evt.Info.Chat, reply); err != nil {
		e.logger.Error("failed sending reply", "to", evt.Info.Chat.String(), "error", err)
		if e.metrics != nil {
			e.metrics.Errors.WithLabelValues("convo").Inc()
		}
	}
}

// Handle runs one command from sender and returns the reply. ok is false
// when sender is not an admin; such messages get no answer.
func (e *Engine) Handle(ctx context.Context, sender, text string) (reply string, ok bool) {
	if !e.isAdmin(sender) {
		e.logger.Debug("ignoring message from non-admin", "from", sender)
		return "", false
	}

	cmd, err := parseCommand(text)
	if err != nil {
		return "Sorry, I did not understand that. Send \"help\" for the command list.", true
	}
	e.logger.Info("admin command", "from", sender, "command", cmd.Verb, "arg", cmd.Arg)

	switch cmd.Verb {
	case verbHelp:
		return helpText, true
	case verbPending:
		return formatPending(e.ledger.Requests(ledger.StatusPending)), true
	case verbApprove:
		return e.decide(ctx, cmd.Arg, ledger.StatusApproved), true
	case verbReject:
		return e.decide(ctx, cmd.Arg, ledger.StatusRejected), true
	case verbUser:
		return e.describeUser(cmd.Arg), true
	}
	return helpText, true
}

func (e *Engine) decide(ctx context.Context, arg string, decision ledger.RequestStatus) string {
	all := e.ledger.Requests("")
	ids := make([]string, len(all))
	for i, r := range all {
		ids[i] = r.ID
	}
	id, err := matchID(ids, arg)
	switch {
	case errors.Is(err, ErrShortID), errors.Is(err, ErrAmbiguousID):
		return fmt.Sprintf("Cannot use %q: %v.", arg, err)
	case id == "":
		return fmt.Sprintf("No request matches %q.", arg)
	}

	out, err := e.ledger.ProcessRequest(ctx, id, decision)
	if err != nil {
		if errors.Is(err, ledger.ErrRequestNotPending) {
			return fmt.Sprintf("Request %s was already processed.", shortID(id))
		}
		e.logger.Error("process request from chat failed", "request_id", id, "error", err)
		return "Could not process the request, please try again."
	}

	req := out.Request
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s of Rs. %s for %s (%s) %s.", titleCase(string(req.Type)), shortID(req.ID), req.Amount.String(), req.UserName, req.UserPhone, req.Status)
	if out.Referrer != nil {
		fmt.Fprintf(&b, "\nReferral bonus Rs. %s paid to %s.", out.ReferralBonus.String(), out.Referrer.Name)
	}
	if out.Refund.IsPositive() {
		fmt.Fprintf(&b, "\nRs. %s refunded to withdrawable balance.", out.Refund.String())
	}
	return b.String()
}

func (e *Engine) describeUser(arg string) string {
	target := wa.NormalizePhone(arg, e.countryCode)
	for _, u := range e.ledger.Users() {
		if wa.NormalizePhone(u.Phone, e.countryCode) == target {
			return formatUser(u)
		}
	}
	return fmt.Sprintf("No user with phone %s.", arg)
}

func (e *Engine) isAdmin(sender string) bool {
	phone := wa.NormalizePhone(sender, e.countryCode)
	if phone == "" {
		return false
	}
	if _, ok := e.admins[phone]; ok {
		return true
	}
	for _, u := range e.ledger.Users() {
		if u.IsAdmin && wa.NormalizePhone(u.Phone, e.countryCode) == phone {
			return true
		}
	}
	return false
}

func formatPending(reqs []ledger.TransactionRequest) string {
	if len(reqs) == 0 {
		return "No pending requests."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Pending requests (%d):", len(reqs))
	for _, r := range reqs {
		fmt.Fprintf(&b, "\n- %s %s Rs. %s via %s from %s (%s)", shortID(r.ID), r.Type, r.Amount.String(), r.Method, r.UserName, r.UserPhone)
	}
	return b.String()
}

func formatUser(u ledger.UserProfile) string {
	active := 0
	for _, inv := range u.ActiveInvestments {
		if !inv.IsClaimed {
			active++
		}
	}
	return fmt.Sprintf("%s (%s)\nWallet: Rs. %s\nWithdrawable: Rs. %s\nActive plans: %d\nReferral code: %s\nReferrals: %d (Rs. %s earned)",
		u.Name, u.Phone, u.WalletBalance.String(), u.WithdrawableBalance.String(), active, u.ReferralCode, u.ReferralCount, u.ReferralEarnings.String())
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
