package convo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"pak-finance/internal/ledger"
	"pak-finance/internal/logging"

	"github.com/shopspring/decimal"
)

type fakeLedger struct {
	requests  []ledger.TransactionRequest
	users     []ledger.UserProfile
	processed []string
}

func (f *fakeLedger) Requests(status ledger.RequestStatus) []ledger.TransactionRequest {
	var out []ledger.TransactionRequest
	for _, r := range f.requests {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeLedger) ProcessRequest(_ context.Context, id string, decision ledger.RequestStatus) (ledger.Outcome, error) {
	for i := range f.requests {
		if f.requests[i].ID != id {
			continue
		}
		if f.requests[i].Status != ledger.StatusPending {
			return ledger.Outcome{}, ledger.ErrRequestNotPending
		}
		f.requests[i].Status = decision
		f.processed = append(f.processed, id)
		out := ledger.Outcome{Request: f.requests[i]}
		if f.requests[i].Type == ledger.RequestWithdraw && decision == ledger.StatusRejected {
			out.Refund = f.requests[i].Amount
		}
		return out, nil
	}
	return ledger.Outcome{}, ledger.ErrRequestNotFound
}

func (f *fakeLedger) User(phone string) (ledger.UserProfile, error) {
	for _, u := range f.users {
		if u.Phone == phone {
			return u, nil
		}
	}
	return ledger.UserProfile{}, ledger.ErrUserNotFound
}

func (f *fakeLedger) Users() []ledger.UserProfile { return f.users }

func newTestEngine() (*Engine, *fakeLedger) {
	fl := &fakeLedger{
		requests: []ledger.TransactionRequest{
			{ID: "3f2a9c10-aaaa", UserName: "Bilal", UserPhone: "03111111111", Type: ledger.RequestDeposit, Amount: decimal.NewFromInt(1000), Method: ledger.MethodEasyPaisa, Status: ledger.StatusPending},
			{ID: "3f2a9c20-bbbb", UserName: "Sara", UserPhone: "03222222222", Type: ledger.RequestWithdraw, Amount: decimal.NewFromInt(200), Method: ledger.MethodJazzCash, Status: ledger.StatusPending},
			{ID: "77aa00bb-cccc", UserName: "Ali", UserPhone: "03001234567", Type: ledger.RequestDeposit, Amount: decimal.NewFromInt(500), Method: ledger.MethodEasyPaisa, Status: ledger.StatusApproved},
		},
		users: []ledger.UserProfile{
			{Name: "Owner", Phone: "03009999999", IsAdmin: true},
			{Name: "Ali", Phone: "03001234567", WalletBalance: decimal.NewFromInt(2500), WithdrawableBalance: decimal.NewFromInt(75), ReferralCode: "PFABC123"},
		},
	}
	e := New(fl, nil, nil, logging.Discard(), Config{AdminPhones: []string{"+92 304 0007495"}, CountryCode: "92"})
	return e, fl
}

func TestParseCommand(t *testing.T) {
	cmd, err := parseCommand("  /Approve 3f2a9c10 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cmd.Verb != verbApprove || cmd.Arg != "3f2a9c10" {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if _, err := parseCommand("reject"); !errors.Is(err, ErrMissingArg) {
		t.Fatalf("expected missing arg, got %v", err)
	}
	if _, err := parseCommand("transfer 10"); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected unknown command, got %v", err)
	}
}

func TestMatchID(t *testing.T) {
	ids := []string{"3f2a9c10-aaaa", "3f2a9c20-bbbb", "abc"}
	if id, err := matchID(ids, "3F2A9C1"); err != nil || id != "3f2a9c10-aaaa" {
		t.Fatalf("expected unique prefix match, got %q %v", id, err)
	}
	if _, err := matchID(ids, "3f2a9c"); !errors.Is(err, ErrAmbiguousID) {
		t.Fatalf("expected ambiguous, got %v", err)
	}
	if _, err := matchID(ids, "3f2a"); !errors.Is(err, ErrShortID) {
		t.Fatalf("expected short id, got %v", err)
	}
	if id, err := matchID(ids, "abc"); err != nil || id != "abc" {
		t.Fatalf("exact match should bypass the prefix rule, got %q %v", id, err)
	}
	if id, err := matchID(ids, "ffffffff"); err != nil || id != "" {
		t.Fatalf("expected no match, got %q %v", id, err)
	}
}

func TestHandleIgnoresNonAdmins(t *testing.T) {
	e, _ := newTestEngine()
	if _, ok := e.Handle(context.Background(), "923001234567", "pending"); ok {
		t.Fatal("non-admin should be ignored")
	}
}

func TestHandlePendingForConfiguredAndStoredAdmins(t *testing.T) {
	e, _ := newTestEngine()
	for _, sender := range []string{"923040007495", "923009999999"} {
		reply, ok := e.Handle(context.Background(), sender, "pending")
		if !ok {
			t.Fatalf("%s should be admin", sender)
		}
		if !strings.Contains(reply, "Pending requests (2)") || !strings.Contains(reply, "3f2a9c20") {
			t.Fatalf("unexpected reply %q", reply)
		}
	}
}

func TestHandleApproveByPrefix(t *testing.T) {
	e, fl := newTestEngine()
	reply, _ := e.Handle(context.Background(), "923040007495", "approve 3f2a9c10")
	if len(fl.processed) != 1 || fl.processed[0] != "3f2a9c10-aaaa" {
		t.Fatalf("expected request processed, got %v", fl.processed)
	}
	if !strings.Contains(reply, "approved") {
		t.Fatalf("unexpected reply %q", reply)
	}

	reply, _ = e.Handle(context.Background(), "923040007495", "approve 3f2a9c10")
	if !strings.Contains(reply, "already processed") {
		t.Fatalf("expected already processed reply, got %q", reply)
	}
}

func TestHandleRejectWithdrawMentionsRefund(t *testing.T) {
	e, _ := newTestEngine()
	reply, _ := e.Handle(context.Background(), "923040007495", "reject 3f2a9c20-bbbb")
	if !strings.Contains(reply, "refunded") {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestHandleAmbiguousPrefix(t *testing.T) {
	e, fl := newTestEngine()
	reply, _ := e.Handle(context.Background(), "923040007495", "approve 3f2a9c")
	if len(fl.processed) != 0 {
		t.Fatal("ambiguous prefix must not process anything")
	}
	if !strings.Contains(reply, "more than one") {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestHandleUserLookup(t *testing.T) {
	e, _ := newTestEngine()
	reply, _ := e.Handle(context.Background(), "923040007495", "user 0300-1234567")
	if !strings.Contains(reply, "Withdrawable: Rs. 75") || !strings.Contains(reply, "PFABC123") {
		t.Fatalf("unexpected reply %q", reply)
	}
	reply, _ = e.Handle(context.Background(), "923040007495", "user 0399")
	if !strings.Contains(reply, "No user") {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestHandleUnknownCommand(t *testing.T) {
	e, _ := newTestEngine()
	reply, ok := e.Handle(context.Background(), "923040007495", "hello there")
	if !ok || !strings.Contains(reply, "help") {
		t.Fatalf("unexpected reply %q", reply)
	}
}
