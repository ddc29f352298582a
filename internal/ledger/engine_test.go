package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	seq := 0
	return New(Config{
		WelcomeBalance: decimal.NewFromInt(2500),
		Now:            func() time.Time { return testNow },
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%04d", seq)
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func user(phone string, wallet, withdrawable int64) UserProfile {
	return UserProfile{
		Name:                "user " + phone,
		Phone:               phone,
		WalletBalance:       d(wallet),
		WithdrawableBalance: d(withdrawable),
		IsRegistered:        true,
		ReferralEarnings:    decimal.Zero,
	}
}

func assertMoney(t *testing.T, want int64, got decimal.Decimal, msg string) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "%s: want %d, got %s", msg, want, got)
}

func TestInvestInPlanDebitsWallet(t *testing.T) {
	e := newTestEngine()
	u := user("0300", 2500, 0)

	next, inv, err := e.InvestInPlan(u, "plan1", d(500))
	require.NoError(t, err)

	assertMoney(t, 2000, next.WalletBalance, "wallet")
	require.Len(t, next.ActiveInvestments, 1)
	assert.Equal(t, inv, next.ActiveInvestments[0])
	assert.Equal(t, "plan1", inv.PlanID)
	assert.False(t, inv.IsClaimed)
	assert.False(t, inv.IsMatured)
	assert.Equal(t, testNow, inv.InvestedAt)
	assert.Equal(t, testNow.Add(24*time.Hour), inv.NextClaimAt)
	assert.True(t, next.HasMadeFirstInvestment)

	// input untouched
	assertMoney(t, 2500, u.WalletBalance, "input wallet")
	assert.Empty(t, u.ActiveInvestments)
}

func TestInvestInPlanExactBalance(t *testing.T) {
	e := newTestEngine()
	next, _, err := e.InvestInPlan(user("0300", 500, 0), "plan1", d(500))
	require.NoError(t, err)
	assert.True(t, next.WalletBalance.IsZero())
}

func TestInvestInPlanInsufficientFundsIsNoop(t *testing.T) {
	e := newTestEngine()
	u := user("0300", 400, 10)

	next, _, err := e.InvestInPlan(u, "plan1", d(500))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, u, next)
}

func TestInvestInPlanRejectsNonPositiveAmount(t *testing.T) {
	e := newTestEngine()
	_, _, err := e.InvestInPlan(user("0300", 400, 0), "plan1", decimal.Zero)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestInvestInPlanKeepsFirstInvestmentFlag(t *testing.T) {
	e := newTestEngine()
	u := user("0300", 1000, 0)
	u, _, err := e.InvestInPlan(u, "plan1", d(100))
	require.NoError(t, err)
	u, _, err = e.InvestInPlan(u, "plan2", d(100))
	require.NoError(t, err)
	assert.True(t, u.HasMadeFirstInvestment)
	assert.Len(t, u.ActiveInvestments, 2)
	assert.NotEqual(t, u.ActiveInvestments[0].ID, u.ActiveInvestments[1].ID)
}

func TestClaimProfitMatured(t *testing.T) {
	e := newTestEngine()
	u, inv, err := e.InvestInPlan(user("0300", 2500, 100), "plan1", d(500))
	require.NoError(t, err)

	next, err := e.ClaimProfit(u, inv.ID, d(75), d(500), true)
	require.NoError(t, err)

	assertMoney(t, 175, next.WithdrawableBalance, "withdrawable")
	assertMoney(t, 2500, next.WalletBalance, "wallet")
	got, ok := next.Investment(inv.ID)
	require.True(t, ok)
	assert.True(t, got.IsClaimed)
	assert.True(t, got.IsMatured)
}

func TestClaimProfitEarlyKeepsPrincipalInvested(t *testing.T) {
	e := newTestEngine()
	u, inv, err := e.InvestInPlan(user("0300", 2500, 0), "plan1", d(500))
	require.NoError(t, err)

	next, err := e.ClaimProfit(u, inv.ID, d(75), d(500), false)
	require.NoError(t, err)

	assertMoney(t, 75, next.WithdrawableBalance, "withdrawable")
	assertMoney(t, 2000, next.WalletBalance, "wallet")
	got, _ := next.Investment(inv.ID)
	assert.True(t, got.IsClaimed)
	assert.True(t, got.IsMatured)
}

func TestClaimProfitTwiceIsRejected(t *testing.T) {
	e := newTestEngine()
	u, inv, err := e.InvestInPlan(user("0300", 2500, 0), "plan1", d(500))
	require.NoError(t, err)
	u, err = e.ClaimProfit(u, inv.ID, d(75), d(500), true)
	require.NoError(t, err)

	again, err := e.ClaimProfit(u, inv.ID, d(75), d(500), true)
	require.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.Equal(t, u, again)
}

func TestClaimProfitUnknownInvestment(t *testing.T) {
	e := newTestEngine()
	u := user("0300", 10, 10)
	next, err := e.ClaimProfit(u, "missing", d(1), d(1), true)
	require.ErrorIs(t, err, ErrInvestmentNotFound)
	assert.Equal(t, u, next)
}

func TestSubmitDepositRequest(t *testing.T) {
	e := newTestEngine()
	st := State{Users: []UserProfile{user("0300", 0, 0)}, Settings: DefaultSettings()}

	next, req, err := e.SubmitTransactionRequest(st, "0300", RequestDraft{Amount: d(1000)})
	require.NoError(t, err)

	assert.Equal(t, RequestDeposit, req.Type)
	assert.Equal(t, MethodEasyPaisa, req.Method)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, "0300", req.UserPhone)
	assert.Equal(t, "0300", req.UserID)
	assert.Equal(t, "user 0300", req.UserName)
	assert.Equal(t, testNow, req.Timestamp)
	require.Len(t, next.Requests, 1)
	assertMoney(t, 0, next.Users[0].WithdrawableBalance, "withdrawable")
	assert.Empty(t, st.Requests)
}

func TestSubmitRequestPrependsToLog(t *testing.T) {
	e := newTestEngine()
	st := State{Users: []UserProfile{user("0300", 0, 0)}}

	st, first, err := e.SubmitTransactionRequest(st, "0300", RequestDraft{Amount: d(10)})
	require.NoError(t, err)
	st, second, err := e.SubmitTransactionRequest(st, "0300", RequestDraft{Amount: d(20), Method: MethodJazzCash})
	require.NoError(t, err)

	require.Len(t, st.Requests, 2)
	assert.Equal(t, second.ID, st.Requests[0].ID)
	assert.Equal(t, first.ID, st.Requests[1].ID)
	assert.Equal(t, MethodJazzCash, st.Requests[0].Method)
}

func TestSubmitRequestValidation(t *testing.T) {
	e := newTestEngine()
	st := State{Users: []UserProfile{user("0300", 0, 0)}}

	_, _, err := e.SubmitTransactionRequest(st, "0300", RequestDraft{})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = e.SubmitTransactionRequest(st, "0300", RequestDraft{Amount: d(-5)})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = e.SubmitTransactionRequest(st, "0300", RequestDraft{Type: "transfer", Amount: d(5)})
	assert.ErrorIs(t, err, ErrInvalidRequestType)

	_, _, err = e.SubmitTransactionRequest(st, "0999", RequestDraft{Amount: d(5)})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestWithdrawReservationRefundRoundTrip(t *testing.T) {
	e := newTestEngine()
	st := State{Users: []UserProfile{user("0300", 0, 200)}, Settings: DefaultSettings()}

	st, req, err := e.SubmitTransactionRequest(st, "0300", RequestDraft{Type: RequestWithdraw, Amount: d(150)})
	require.NoError(t, err)
	assertMoney(t, 50, st.Users[0].WithdrawableBalance, "after submit")
	assert.Equal(t, StatusPending, st.Requests[0].Status)

	st, out, err := e.ProcessRequest(st, req.ID, StatusRejected)
	require.NoError(t, err)
	assertMoney(t, 200, st.Users[0].WithdrawableBalance, "after reject")
	assertMoney(t, 150, out.Refund, "refund")
	assert.Equal(t, StatusRejected, st.Requests[0].Status)
	require.NotNil(t, st.Requests[0].ProcessedAt)
}

func TestWithdrawApprovalKeepsReservation(t *testing.T) {
	e := newTestEngine()
	st := State{Users: []UserProfile{user("0300", 0, 200)}}

	st, req, err := e.SubmitTransactionRequest(st, "0300", RequestDraft{Type: RequestWithdraw, Amount: d(150)})
	require.NoError(t, err)
	st, _, err = e.ProcessRequest(st, req.ID, StatusApproved)
	require.NoError(t, err)
	assertMoney(t, 50, st.Users[0].WithdrawableBalance, "withdrawable")
	assertMoney(t, 0, st.Users[0].WalletBalance, "wallet")
}

func TestDepositRejectedChangesNothing(t *testing.T) {
	e := newTestEngine()
	st := State{Users: []UserProfile{user("0300", 10, 0)}}
	st, req, err := e.SubmitTransactionRequest(st, "0300", RequestDraft{Amount: d(1000)})
	require.NoError(t, err)

	next, out, err := e.ProcessRequest(st, req.ID, StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, st.Users, next.Users)
	assert.Nil(t, out.Referrer)
	assert.False(t, next.Users[0].HasMadeFirstDeposit)
}

func referralState() State {
	a := user("A", 0, 0)
	a.ReferralCode = "REF1"
	b := user("B", 0, 0)
	b.ReferralCode = "REF2"
	b.ReferredBy = "REF1"
	settings := DefaultSettings()
	settings.ReferralBonus = d(50)
	return State{Users: []UserProfile{a, b}, Settings: settings}
}

func TestFirstDepositPaysReferrerOnce(t *testing.T) {
	e := newTestEngine()
	st := referralState()

	st, first, err := e.SubmitTransactionRequest(st, "B", RequestDraft{Amount: d(1000)})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, first.Status)

	st, out, err := e.ProcessRequest(st, first.ID, StatusApproved)
	require.NoError(t, err)

	b, _ := st.User("B")
	assertMoney(t, 1000, b.WalletBalance, "B wallet")
	assert.True(t, b.HasMadeFirstDeposit)

	a, _ := st.User("A")
	assertMoney(t, 50, a.WithdrawableBalance, "A withdrawable")
	assertMoney(t, 50, a.ReferralEarnings, "A earnings")
	assert.Equal(t, 1, a.ReferralCount)
	require.NotNil(t, out.Referrer)
	assert.Equal(t, "A", out.Referrer.Phone)
	assertMoney(t, 50, out.ReferralBonus, "bonus")

	st, second, err := e.SubmitTransactionRequest(st, "B", RequestDraft{Amount: d(500)})
	require.NoError(t, err)
	st, out, err = e.ProcessRequest(st, second.ID, StatusApproved)
	require.NoError(t, err)

	b, _ = st.User("B")
	assertMoney(t, 1500, b.WalletBalance, "B wallet after second")
	a, _ = st.User("A")
	assertMoney(t, 50, a.WithdrawableBalance, "A withdrawable after second")
	assertMoney(t, 50, a.ReferralEarnings, "A earnings after second")
	assert.Equal(t, 1, a.ReferralCount)
	assert.Nil(t, out.Referrer)
}

func TestRejectedFirstDepositDoesNotConsumeReferral(t *testing.T) {
	e := newTestEngine()
	st := referralState()

	st, rejected, err := e.SubmitTransactionRequest(st, "B", RequestDraft{Amount: d(1000)})
	require.NoError(t, err)
	st, _, err = e.ProcessRequest(st, rejected.ID, StatusRejected)
	require.NoError(t, err)

	st, approved, err := e.SubmitTransactionRequest(st, "B", RequestDraft{Amount: d(1000)})
	require.NoError(t, err)
	st, out, err := e.ProcessRequest(st, approved.ID, StatusApproved)
	require.NoError(t, err)

	require.NotNil(t, out.Referrer)
	a, _ := st.User("A")
	assert.Equal(t, 1, a.ReferralCount)
}

func TestDepositWithUnknownReferrerStillCredits(t *testing.T) {
	e := newTestEngine()
	u := user("B", 0, 0)
	u.ReferredBy = "GONE"
	st := State{Users: []UserProfile{u}, Settings: DefaultSettings()}

	st, req, err := e.SubmitTransactionRequest(st, "B", RequestDraft{Amount: d(300)})
	require.NoError(t, err)
	st, out, err := e.ProcessRequest(st, req.ID, StatusApproved)
	require.NoError(t, err)
	assert.Nil(t, out.Referrer)
	assertMoney(t, 300, st.Users[0].WalletBalance, "wallet")
}

func TestProcessRequestTwiceIsRejected(t *testing.T) {
	e := newTestEngine()
	st := referralState()
	st, req, err := e.SubmitTransactionRequest(st, "B", RequestDraft{Amount: d(1000)})
	require.NoError(t, err)
	st, _, err = e.ProcessRequest(st, req.ID, StatusApproved)
	require.NoError(t, err)

	again, _, err := e.ProcessRequest(st, req.ID, StatusApproved)
	require.ErrorIs(t, err, ErrRequestNotPending)
	assert.Equal(t, st, again)

	_, _, err = e.ProcessRequest(st, req.ID, StatusRejected)
	require.ErrorIs(t, err, ErrRequestNotPending)
}

func TestProcessRequestErrors(t *testing.T) {
	e := newTestEngine()
	st := referralState()

	_, _, err := e.ProcessRequest(st, "missing", StatusApproved)
	assert.ErrorIs(t, err, ErrRequestNotFound)

	_, _, err = e.ProcessRequest(st, "missing", StatusPending)
	assert.ErrorIs(t, err, ErrInvalidDecision)
}

func TestProcessRequestMissingSubmitter(t *testing.T) {
	e := newTestEngine()
	st := State{Users: []UserProfile{user("0300", 0, 0)}}
	st, req, err := e.SubmitTransactionRequest(st, "0300", RequestDraft{Amount: d(10)})
	require.NoError(t, err)
	st.Users = nil

	next, out, err := e.ProcessRequest(st, req.ID, StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, next.Requests[0].Status)
	assert.Nil(t, out.Submitter)
}

func TestUpdateBalance(t *testing.T) {
	u := user("0300", 100, 10)

	next, err := UpdateBalance(u, d(25), TargetWallet)
	require.NoError(t, err)
	assertMoney(t, 125, next.WalletBalance, "wallet")

	next, err = UpdateBalance(next, d(-30), TargetWithdrawable)
	require.NoError(t, err)
	assertMoney(t, -20, next.WithdrawableBalance, "withdrawable is not clamped")

	_, err = UpdateBalance(u, d(1), "bonus")
	assert.True(t, errors.Is(err, ErrInvalidTarget))
}

func TestRegisterUser(t *testing.T) {
	e := newTestEngine()
	st := referralState()

	next, u, err := e.RegisterUser(st, Registration{Name: " Sara ", Phone: "0311", ReferredBy: "ref1"})
	require.NoError(t, err)

	assert.Equal(t, "Sara", u.Name)
	assert.True(t, u.IsRegistered)
	assert.Equal(t, "REF1", u.ReferredBy)
	assertMoney(t, 2500, u.WalletBalance, "welcome balance")
	assert.NotEmpty(t, u.ReferralCode)
	assert.NotEqual(t, "REF1", u.ReferralCode)
	require.Len(t, next.Users, 3)
	assert.Len(t, st.Users, 2)

	_, _, err = e.RegisterUser(next, Registration{Name: "Dup", Phone: "0311"})
	assert.ErrorIs(t, err, ErrPhoneTaken)
	_, _, err = e.RegisterUser(next, Registration{Name: "X", Phone: "0322", ReferredBy: "NOPE"})
	assert.ErrorIs(t, err, ErrUnknownReferralCode)
	_, _, err = e.RegisterUser(next, Registration{Name: "X"})
	assert.ErrorIs(t, err, ErrPhoneRequired)
	_, _, err = e.RegisterUser(next, Registration{Phone: "0322"})
	assert.ErrorIs(t, err, ErrNameRequired)
}

func TestRegisterUserReferralCodesAreUnique(t *testing.T) {
	e := newTestEngine()
	st := State{}
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		var u UserProfile
		var err error
		st, u, err = e.RegisterUser(st, Registration{Name: "n", Phone: fmt.Sprintf("03%02d", i)})
		require.NoError(t, err)
		assert.False(t, seen[u.ReferralCode], "duplicate code %s", u.ReferralCode)
		seen[u.ReferralCode] = true
	}
}

func TestUpdateProfileRekeysPhone(t *testing.T) {
	e := newTestEngine()
	st := referralState()
	newPhone := "C"
	name := "Bilal"

	next, u, err := e.UpdateProfile(st, "B", ProfilePatch{Phone: &newPhone, Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "C", u.Phone)
	assert.Equal(t, "Bilal", u.Name)
	assert.Equal(t, -1, next.UserIndex("B"))
	assert.Len(t, next.Users, 2)

	taken := "A"
	_, _, err = e.UpdateProfile(next, "C", ProfilePatch{Phone: &taken})
	assert.ErrorIs(t, err, ErrPhoneTaken)

	_, _, err = e.UpdateProfile(next, "B", ProfilePatch{Name: &name})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateProfilePhoneCarriesPendingRequests(t *testing.T) {
	e := newTestEngine()
	st := State{Users: []UserProfile{user("0300", 0, 200), user("0399", 0, 0)}, Settings: DefaultSettings()}

	st, withdraw, err := e.SubmitTransactionRequest(st, "0300", RequestDraft{Type: RequestWithdraw, Amount: d(150)})
	require.NoError(t, err)
	st, deposit, err := e.SubmitTransactionRequest(st, "0300", RequestDraft{Amount: d(1000)})
	require.NoError(t, err)
	st, other, err := e.SubmitTransactionRequest(st, "0399", RequestDraft{Amount: d(10)})
	require.NoError(t, err)

	newPhone := "0311"
	st, _, err = e.UpdateProfile(st, "0300", ProfilePatch{Phone: &newPhone})
	require.NoError(t, err)
	for _, req := range st.Requests {
		if req.ID == other.ID {
			assert.Equal(t, "0399", req.UserPhone)
			continue
		}
		assert.Equal(t, "0311", req.UserPhone)
		assert.Equal(t, "0311", req.UserID)
	}

	st, _, err = e.ProcessRequest(st, withdraw.ID, StatusRejected)
	require.NoError(t, err)
	st, _, err = e.ProcessRequest(st, deposit.ID, StatusApproved)
	require.NoError(t, err)

	u, ok := st.User("0311")
	require.True(t, ok)
	assertMoney(t, 200, u.WithdrawableBalance, "withdraw refunded")
	assertMoney(t, 1000, u.WalletBalance, "deposit credited")
	assert.True(t, u.HasMadeFirstDeposit)
}

func TestTouchActivity(t *testing.T) {
	e := newTestEngine()
	st := referralState()

	next, err := e.TouchActivity(st, "A")
	require.NoError(t, err)
	a, _ := next.User("A")
	require.NotNil(t, a.LastActive)
	assert.Equal(t, testNow, *a.LastActive)
	assert.Nil(t, st.Users[0].LastActive)
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	s.ScratchWinProbability = 1.5
	assert.ErrorIs(t, s.Validate(), ErrInvalidSettings)

	s = DefaultSettings()
	s.ReferralBonus = d(-1)
	assert.ErrorIs(t, s.Validate(), ErrInvalidSettings)
}

func TestStateCloneIsDeep(t *testing.T) {
	e := newTestEngine()
	u, _, err := e.InvestInPlan(user("A", 100, 0), "p", d(10))
	require.NoError(t, err)
	st := State{Users: []UserProfile{u}}

	cp := st.Clone()
	cp.Users[0].ActiveInvestments[0].IsClaimed = true
	cp.Users[0].WalletBalance = d(0)
	assert.False(t, st.Users[0].ActiveInvestments[0].IsClaimed)
	assertMoney(t, 90, st.Users[0].WalletBalance, "original wallet")
}

func TestMoneyEncodesAsNumbers(t *testing.T) {
	u := user("0300", 2500, 0)
	u.WithdrawableBalance = decimal.RequireFromString("12.50")
	raw, err := json.Marshal(u)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, float64(2500), fields["walletBalance"])
	assert.Equal(t, 12.5, fields["withdrawableBalance"])

	var back UserProfile
	require.NoError(t, json.Unmarshal([]byte(`{"phone":"0300","walletBalance":"99.5","withdrawableBalance":3}`), &back))
	assertMoney(t, 3, back.WithdrawableBalance, "numeric input")
	assert.True(t, decimal.RequireFromString("99.5").Equal(back.WalletBalance))
}
