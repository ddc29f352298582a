package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Stored records and API bodies carry money as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// RequestType distinguishes deposits from withdrawals.
type RequestType string

const (
	RequestDeposit  RequestType = "deposit"
	RequestWithdraw RequestType = "withdraw"
)

// RequestStatus is the lifecycle state of a transaction request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
)

// PaymentMethod identifies the payment channel a request was made through.
type PaymentMethod string

const (
	MethodEasyPaisa PaymentMethod = "easyPaisa"
	MethodJazzCash  PaymentMethod = "jazzCash"
)

// BalanceTarget names which balance an adjustment applies to.
type BalanceTarget string

const (
	TargetWallet       BalanceTarget = "wallet"
	TargetWithdrawable BalanceTarget = "withdrawable"
)

// UserProfile is one registrant, keyed by phone number.
type UserProfile struct {
	Name                   string             `json:"name"`
	CNIC                   string             `json:"cnic"`
	Address                string             `json:"address"`
	Phone                  string             `json:"phone"`
	WalletBalance          decimal.Decimal    `json:"walletBalance"`
	WithdrawableBalance    decimal.Decimal    `json:"withdrawableBalance"`
	IsRegistered           bool               `json:"isRegistered"`
	IsAdmin                bool               `json:"isAdmin"`
	ActiveInvestments      []ActiveInvestment `json:"activeInvestments"`
	ReferralCode           string             `json:"referralCode"`
	ReferredBy             string             `json:"referredBy,omitempty"`
	ReferralCount          int                `json:"referralCount"`
	ReferralEarnings       decimal.Decimal    `json:"referralEarnings"`
	HasMadeFirstInvestment bool               `json:"hasMadeFirstInvestment"`
	HasMadeFirstDeposit    bool               `json:"hasMadeFirstDeposit"`
	LastActive             *time.Time         `json:"lastActive,omitempty"`
	ProfilePicture         string             `json:"profilePicture,omitempty"`
}

// Clone returns a copy that shares no mutable memory with u.
func (u UserProfile) Clone() UserProfile {
	out := u
	if u.ActiveInvestments != nil {
		out.ActiveInvestments = make([]ActiveInvestment, len(u.ActiveInvestments))
		copy(out.ActiveInvestments, u.ActiveInvestments)
	}
	if u.LastActive != nil {
		t := *u.LastActive
		out.LastActive = &t
	}
	return out
}

// Investment returns the investment with the given id.
func (u UserProfile) Investment(id string) (ActiveInvestment, bool) {
	for _, inv := range u.ActiveInvestments {
		if inv.ID == id {
			return inv, true
		}
	}
	return ActiveInvestment{}, false
}

// ActiveInvestment is one plan purchase.
type ActiveInvestment struct {
	ID          string          `json:"id"`
	PlanID      string          `json:"planId"`
	Amount      decimal.Decimal `json:"amount"`
	InvestedAt  time.Time       `json:"investedAt"`
	NextClaimAt time.Time       `json:"nextClaimAt"`
	IsClaimed   bool            `json:"isClaimed"`
	IsMatured   bool            `json:"isMatured"`
}

// TransactionRequest is a deposit or withdrawal awaiting an admin decision.
type TransactionRequest struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	UserPhone   string          `json:"userPhone"`
	UserName    string          `json:"userName"`
	Type        RequestType     `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Method      PaymentMethod   `json:"method"`
	Status      RequestStatus   `json:"status"`
	Timestamp   time.Time       `json:"timestamp"`
	ProcessedAt *time.Time      `json:"processedAt,omitempty"`
}

// RequestDraft carries the caller supplied fields of a new request. Zero
// values fall back to deposit, zero amount and the default payment channel.
type RequestDraft struct {
	Type   RequestType     `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Method PaymentMethod   `json:"method"`
}

// Settings is the process-wide configuration record.
type Settings struct {
	DailyProfitPercentage decimal.Decimal `json:"dailyProfitPercentage"`
	ScratchCardPrice      decimal.Decimal `json:"scratchCardPrice"`
	ScratchWinProbability float64         `json:"scratchWinProbability"`
	ReferralBonus         decimal.Decimal `json:"referralBonus"`
	AdminEasyPaisaName    string          `json:"adminEasyPaisaName"`
	AdminEasyPaisaNumber  string          `json:"adminEasyPaisaNumber"`
	AdminJazzCashName     string          `json:"adminJazzCashName"`
	AdminJazzCashNumber   string          `json:"adminJazzCashNumber"`
	AdRewardAmount        decimal.Decimal `json:"adRewardAmount"`
	AdURL                 string          `json:"adUrl"`
	GlobalAnnouncement    string          `json:"globalAnnouncement"`
}

// DefaultSettings mirrors the values a fresh installation starts with.
func DefaultSettings() Settings {
	return Settings{
		DailyProfitPercentage: decimal.NewFromInt(15),
		ScratchCardPrice:      decimal.NewFromInt(50),
		ScratchWinProbability: 0.3,
		ReferralBonus:         decimal.NewFromInt(50),
		AdminEasyPaisaName:    "Tauseef Haider",
		AdminEasyPaisaNumber:  "03040007495",
		AdminJazzCashName:     "Tauseef Haider",
		AdminJazzCashNumber:   "03040007495",
		AdRewardAmount:        decimal.NewFromInt(5),
		AdURL:                 "https://www.google.com",
		GlobalAnnouncement:    "Welcome! Check out today's best profit plans.",
	}
}

// Validate reports settings that would break the ledger rules.
func (s Settings) Validate() error {
	switch {
	case s.ScratchWinProbability < 0 || s.ScratchWinProbability > 1:
		return ErrInvalidSettings
	case s.DailyProfitPercentage.IsNegative(),
		s.ScratchCardPrice.IsNegative(),
		s.ReferralBonus.IsNegative(),
		s.AdRewardAmount.IsNegative():
		return ErrInvalidSettings
	}
	return nil
}

// State is the full set of records the engine reconciles.
type State struct {
	Users    []UserProfile        `json:"users"`
	Requests []TransactionRequest `json:"requests"`
	Settings Settings             `json:"settings"`
}

// Clone deep copies the state so transforms never alias the input.
func (s State) Clone() State {
	out := State{Settings: s.Settings}
	if s.Users != nil {
		out.Users = make([]UserProfile, len(s.Users))
		for i, u := range s.Users {
			out.Users[i] = u.Clone()
		}
	}
	if s.Requests != nil {
		out.Requests = make([]TransactionRequest, len(s.Requests))
		for i, r := range s.Requests {
			if r.ProcessedAt != nil {
				t := *r.ProcessedAt
				r.ProcessedAt = &t
			}
			out.Requests[i] = r
		}
	}
	return out
}

// UserIndex returns the position of the user with phone, or -1.
func (s State) UserIndex(phone string) int {
	for i := range s.Users {
		if s.Users[i].Phone == phone {
			return i
		}
	}
	return -1
}

// User returns the user with the given phone.
func (s State) User(phone string) (UserProfile, bool) {
	if i := s.UserIndex(phone); i >= 0 {
		return s.Users[i], true
	}
	return UserProfile{}, false
}

// RequestIndex returns the position of the request with id, or -1.
func (s State) RequestIndex(id string) int {
	for i := range s.Requests {
		if s.Requests[i].ID == id {
			return i
		}
	}
	return -1
}

func (s State) referrerIndex(code string) int {
	if code == "" {
		return -1
	}
	for i := range s.Users {
		if s.Users[i].ReferralCode == code {
			return i
		}
	}
	return -1
}
