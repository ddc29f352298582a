package ledger

import "errors"

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidTarget       = errors.New("unknown balance target")
	ErrInvalidDecision     = errors.New("decision must be approved or rejected")
	ErrInvalidRequestType  = errors.New("unknown request type")
	ErrInvalidSettings     = errors.New("invalid settings")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvestmentNotFound  = errors.New("investment not found")
	ErrAlreadyClaimed      = errors.New("investment already claimed")
	ErrRequestNotFound     = errors.New("request not found")
	ErrRequestNotPending   = errors.New("request already processed")
	ErrPhoneRequired       = errors.New("phone is required")
	ErrNameRequired        = errors.New("name is required")
	ErrPhoneTaken          = errors.New("phone already registered")
	ErrUnknownReferralCode = errors.New("unknown referral code")
)
