package ledger

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultMaturationWindow is the time between a purchase and its claim date.
const DefaultMaturationWindow = 24 * time.Hour

// Config tunes the engine. Zero values select the defaults.
type Config struct {
	MaturationWindow time.Duration
	WelcomeBalance   decimal.Decimal
	Now              func() time.Time
	NewID            func() string
}

// Engine applies ledger events to state. Every method is a pure transform:
// inputs are never mutated and the returned values share no memory with them.
type Engine struct {
	window  time.Duration
	welcome decimal.Decimal
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

// New builds an engine from cfg.
func New(cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaturationWindow <= 0 {
		cfg.MaturationWindow = DefaultMaturationWindow
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		window:  cfg.MaturationWindow,
		welcome: cfg.WelcomeBalance,
		now:     cfg.Now,
		newID:   cfg.NewID,
		logger:  logger.With("component", "ledger"),
	}
}

// Now exposes the engine clock so callers apply policy against the same time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// InvestInPlan debits amount from the wallet and records a new investment.
// When the wallet cannot cover amount the user is returned unchanged.
func (e *Engine) InvestInPlan(user UserProfile, planID string, amount decimal.Decimal) (UserProfile, ActiveInvestment, error) {
	if !amount.IsPositive() {
		return user, ActiveInvestment{}, ErrInvalidAmount
	}
	if user.WalletBalance.LessThan(amount) {
		return user, ActiveInvestment{}, ErrInsufficientBalance
	}

	investedAt := e.now()
	inv := ActiveInvestment{
		ID:          e.newID(),
		PlanID:      planID,
		Amount:      amount,
		InvestedAt:  investedAt,
		NextClaimAt: investedAt.Add(e.window),
	}

	next := user.Clone()
	next.WalletBalance = next.WalletBalance.Sub(amount)
	next.ActiveInvestments = append(next.ActiveInvestments, inv)
	next.HasMadeFirstInvestment = true
	return next, inv, nil
}

// ClaimProfit settles an investment: profit goes to the withdrawable balance
// and, when matured, principal returns to the wallet. The investment becomes
// terminal and a second claim is rejected.
func (e *Engine) ClaimProfit(user UserProfile, investmentID string, profit, principal decimal.Decimal, matured bool) (UserProfile, error) {
	idx := -1
	for i := range user.ActiveInvestments {
		if user.ActiveInvestments[i].ID == investmentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.logger.Warn("claim for unknown investment", "phone", user.Phone, "investment_id", investmentID)
		return user, ErrInvestmentNotFound
	}
	if user.ActiveInvestments[idx].IsClaimed {
		return user, ErrAlreadyClaimed
	}

	next := user.Clone()
	next.WithdrawableBalance = next.WithdrawableBalance.Add(profit)
	if matured {
		next.WalletBalance = next.WalletBalance.Add(principal)
	}
	next.ActiveInvestments[idx].IsClaimed = true
	next.ActiveInvestments[idx].IsMatured = true
	return next, nil
}

// SubmitTransactionRequest appends a pending request for the user with phone
// at the head of the log. Withdrawals reserve the amount immediately.
func (e *Engine) SubmitTransactionRequest(st State, phone string, draft RequestDraft) (State, TransactionRequest, error) {
	ui := st.UserIndex(phone)
	if ui < 0 {
		return st, TransactionRequest{}, ErrUserNotFound
	}

	req := TransactionRequest{
		ID:        e.newID(),
		UserID:    phone,
		UserPhone: phone,
		UserName:  st.Users[ui].Name,
		Type:      RequestDeposit,
		Amount:    draft.Amount,
		Method:    MethodEasyPaisa,
		Status:    StatusPending,
		Timestamp: e.now(),
	}
	if draft.Type != "" {
		req.Type = draft.Type
	}
	if draft.Method != "" {
		req.Method = draft.Method
	}

	if req.Type != RequestDeposit && req.Type != RequestWithdraw {
		return st, TransactionRequest{}, ErrInvalidRequestType
	}
	if !req.Amount.IsPositive() {
		return st, TransactionRequest{}, ErrInvalidAmount
	}

	next := st.Clone()
	next.Requests = append([]TransactionRequest{req}, next.Requests...)
	if req.Type == RequestWithdraw {
		u := &next.Users[ui]
		u.WithdrawableBalance = u.WithdrawableBalance.Sub(req.Amount)
	}
	return next, req, nil
}

// Outcome describes what a processed request changed.
type Outcome struct {
	Request       TransactionRequest
	Submitter     *UserProfile
	Referrer      *UserProfile
	ReferralBonus decimal.Decimal
	Refund        decimal.Decimal
}

// ProcessRequest records an admin decision on a pending request and applies
// its balance effects, including the first deposit referral payout.
func (e *Engine) ProcessRequest(st State, requestID string, decision RequestStatus) (State, Outcome, error) {
	if decision != StatusApproved && decision != StatusRejected {
		return st, Outcome{}, ErrInvalidDecision
	}
	ri := st.RequestIndex(requestID)
	if ri < 0 {
		e.logger.Warn("process unknown request", "request_id", requestID)
		return st, Outcome{}, ErrRequestNotFound
	}
	if st.Requests[ri].Status != StatusPending {
		return st, Outcome{}, fmt.Errorf("%w: %s is %s", ErrRequestNotPending, requestID, st.Requests[ri].Status)
	}

	next := st.Clone()
	processedAt := e.now()
	req := &next.Requests[ri]
	req.Status = decision
	req.ProcessedAt = &processedAt

	out := Outcome{Request: *req}
	ui := next.UserIndex(req.UserPhone)
	if ui < 0 {
		e.logger.Warn("request submitter missing", "request_id", req.ID, "phone", req.UserPhone)
		return next, out, nil
	}

	switch {
	case req.Type == RequestDeposit && decision == StatusApproved:
		// Snapshot the linkage before the submitter changes.
		before := next.Users[ui]
		firstDeposit := !before.HasMadeFirstDeposit
		referredBy := before.ReferredBy

		u := &next.Users[ui]
		u.WalletBalance = u.WalletBalance.Add(req.Amount)
		u.HasMadeFirstDeposit = true

		if firstDeposit && referredBy != "" {
			if refIdx := next.referrerIndex(referredBy); refIdx >= 0 {
				bonus := next.Settings.ReferralBonus
				ref := &next.Users[refIdx]
				ref.WithdrawableBalance = ref.WithdrawableBalance.Add(bonus)
				ref.ReferralEarnings = ref.ReferralEarnings.Add(bonus)
				ref.ReferralCount++
				out.ReferralBonus = bonus
				refCopy := ref.Clone()
				out.Referrer = &refCopy
			} else {
				e.logger.Warn("referrer not found", "request_id", req.ID, "referral_code", referredBy)
			}
		}
	case req.Type == RequestWithdraw && decision == StatusRejected:
		u := &next.Users[ui]
		u.WithdrawableBalance = u.WithdrawableBalance.Add(req.Amount)
		out.Refund = req.Amount
	}

	sub := next.Users[ui].Clone()
	out.Submitter = &sub
	return next, out, nil
}

// UpdateBalance adds amount, which may be negative, to the target balance.
// The result is not clamped at zero.
func UpdateBalance(user UserProfile, amount decimal.Decimal, target BalanceTarget) (UserProfile, error) {
	next := user.Clone()
	switch target {
	case TargetWallet:
		next.WalletBalance = next.WalletBalance.Add(amount)
	case TargetWithdrawable:
		next.WithdrawableBalance = next.WithdrawableBalance.Add(amount)
	default:
		return user, ErrInvalidTarget
	}
	return next, nil
}

// Registration is the validated output of the sign-up form.
type Registration struct {
	Name           string `json:"name"`
	CNIC           string `json:"cnic"`
	Address        string `json:"address"`
	Phone          string `json:"phone"`
	ReferredBy     string `json:"referredBy,omitempty"`
	ProfilePicture string `json:"profilePicture,omitempty"`
	IsAdmin        bool   `json:"isAdmin,omitempty"`
}

// RegisterUser adds a new profile with a fresh referral code.
func (e *Engine) RegisterUser(st State, reg Registration) (State, UserProfile, error) {
	phone := strings.TrimSpace(reg.Phone)
	name := strings.TrimSpace(reg.Name)
	referredBy := strings.ToUpper(strings.TrimSpace(reg.ReferredBy))
	if phone == "" {
		return st, UserProfile{}, ErrPhoneRequired
	}
	if name == "" {
		return st, UserProfile{}, ErrNameRequired
	}
	if st.UserIndex(phone) >= 0 {
		return st, UserProfile{}, ErrPhoneTaken
	}
	if referredBy != "" && st.referrerIndex(referredBy) < 0 {
		return st, UserProfile{}, ErrUnknownReferralCode
	}

	// A fresh code never collides with an existing one, so a user cannot
	// end up referred by themselves.
	code := e.referralCode(st)

	now := e.now()
	user := UserProfile{
		Name:                name,
		CNIC:                strings.TrimSpace(reg.CNIC),
		Address:             strings.TrimSpace(reg.Address),
		Phone:               phone,
		WalletBalance:       e.welcome,
		WithdrawableBalance: decimal.Zero,
		IsRegistered:        true,
		IsAdmin:             reg.IsAdmin,
		ActiveInvestments:   []ActiveInvestment{},
		ReferralCode:        code,
		ReferredBy:          referredBy,
		ReferralEarnings:    decimal.Zero,
		LastActive:          &now,
		ProfilePicture:      reg.ProfilePicture,
	}

	next := st.Clone()
	next.Users = append(next.Users, user)
	return next, user.Clone(), nil
}

func (e *Engine) referralCode(st State) string {
	for attempt := 0; attempt < 8; attempt++ {
		raw := strings.ReplaceAll(e.newID(), "-", "")
		if len(raw) > 6 {
			raw = raw[:6]
		}
		code := "PF" + strings.ToUpper(raw)
		if st.referrerIndex(code) < 0 {
			return code
		}
	}
	return "PF" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// ProfilePatch lists the editable profile fields. Nil fields are left alone.
type ProfilePatch struct {
	Name           *string `json:"name,omitempty"`
	CNIC           *string `json:"cnic,omitempty"`
	Address        *string `json:"address,omitempty"`
	Phone          *string `json:"phone,omitempty"`
	ProfilePicture *string `json:"profilePicture,omitempty"`
}

// UpdateProfile applies patch to the user with phone. Changing the phone
// re-keys the profile; pending requests keep the phone they were filed with.
func (e *Engine) UpdateProfile(st State, phone string, patch ProfilePatch) (State, UserProfile, error) {
	ui := st.UserIndex(phone)
	if ui < 0 {
		return st, UserProfile{}, ErrUserNotFound
	}
	if patch.Phone != nil {
		newPhone := strings.TrimSpace(*patch.Phone)
		if newPhone == "" {
			return st, UserProfile{}, ErrPhoneRequired
		}
		if newPhone != phone && st.UserIndex(newPhone) >= 0 {
			return st, UserProfile{}, ErrPhoneTaken
		}
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return st, UserProfile{}, ErrNameRequired
	}

	next := st.Clone()
	u := &next.Users[ui]
	if patch.Name != nil {
		u.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.CNIC != nil {
		u.CNIC = strings.TrimSpace(*patch.CNIC)
	}
	if patch.Address != nil {
		u.Address = strings.TrimSpace(*patch.Address)
	}
	if patch.ProfilePicture != nil {
		u.ProfilePicture = *patch.ProfilePicture
	}
	if patch.Phone != nil && strings.TrimSpace(*patch.Phone) != phone {
		u.Phone = strings.TrimSpace(*patch.Phone)
		// Requests follow the user so pending money still finds its owner.
		for i := range next.Requests {
			if next.Requests[i].UserPhone == phone {
				next.Requests[i].UserPhone = u.Phone
				next.Requests[i].UserID = u.Phone
			}
		}
	}
	return next, u.Clone(), nil
}

// TouchActivity stamps the user's last activity time.
func (e *Engine) TouchActivity(st State, phone string) (State, error) {
	ui := st.UserIndex(phone)
	if ui < 0 {
		return st, ErrUserNotFound
	}
	next := st.Clone()
	now := e.now()
	next.Users[ui].LastActive = &now
	return next, nil
}

// SetAdmin grants or revokes the admin role.
func (e *Engine) SetAdmin(st State, phone string, admin bool) (State, UserProfile, error) {
	ui := st.UserIndex(phone)
	if ui < 0 {
		return st, UserProfile{}, ErrUserNotFound
	}
	next := st.Clone()
	next.Users[ui].IsAdmin = admin
	return next, next.Users[ui].Clone(), nil
}

// ReplaceUser writes user back into the state under its phone key.
func ReplaceUser(st State, user UserProfile) (State, error) {
	ui := st.UserIndex(user.Phone)
	if ui < 0 {
		return st, ErrUserNotFound
	}
	next := st.Clone()
	next.Users[ui] = user.Clone()
	return next, nil
}
