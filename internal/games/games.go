// Package games implements the reward mini-games. Each leg of a game is a
// plain balance adjustment on the player's profile.
package games

import (
	"fmt"
	"math/rand/v2"

	"pak-finance/internal/ledger"

	"github.com/shopspring/decimal"
)

// Rand yields uniformly distributed values in [0, 1).
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// DefaultPrizeMultiplier is the scratch prize as a multiple of the card price.
var DefaultPrizeMultiplier = decimal.NewFromInt(3)

// Scratch plays scratch cards.
type Scratch struct {
	multiplier decimal.Decimal
	rnd        Rand
}

// NewScratch returns a scratch game paying multiplier times the card price.
// A nil rnd uses the shared math/rand source.
func NewScratch(multiplier decimal.Decimal, rnd Rand) *Scratch {
	if !multiplier.IsPositive() {
		multiplier = DefaultPrizeMultiplier
	}
	if rnd == nil {
		rnd = globalRand{}
	}
	return &Scratch{multiplier: multiplier, rnd: rnd}
}

// ScratchResult reports one played card.
type ScratchResult struct {
	Won   bool               `json:"won"`
	Cost  decimal.Decimal    `json:"cost"`
	Prize decimal.Decimal    `json:"prize"`
	User  ledger.UserProfile `json:"user"`
}

// Play charges the card price to the wallet and credits the prize on a win.
func (s *Scratch) Play(user ledger.UserProfile, settings ledger.Settings) (ScratchResult, error) {
	price := settings.ScratchCardPrice
	if user.WalletBalance.LessThan(price) {
		return ScratchResult{}, ledger.ErrInsufficientBalance
	}
	next, err := ledger.UpdateBalance(user, price.Neg(), ledger.TargetWallet)
	if err != nil {
		return ScratchResult{}, fmt.Errorf("charge scratch card: %w", err)
	}

	res := ScratchResult{Cost: price, Prize: decimal.Zero}
	if s.rnd.Float64() < settings.ScratchWinProbability {
		res.Won = true
		res.Prize = price.Mul(s.multiplier)
		if next, err = ledger.UpdateBalance(next, res.Prize, ledger.TargetWallet); err != nil {
			return ScratchResult{}, fmt.Errorf("credit scratch prize: %w", err)
		}
	}
	res.User = next
	return res, nil
}

// AdReward credits the configured ad view reward to the withdrawable balance.
func AdReward(user ledger.UserProfile, settings ledger.Settings) (ledger.UserProfile, decimal.Decimal, error) {
	amount := settings.AdRewardAmount
	next, err := ledger.UpdateBalance(user, amount, ledger.TargetWithdrawable)
	if err != nil {
		return user, decimal.Zero, fmt.Errorf("credit ad reward: %w", err)
	}
	return next, amount, nil
}
