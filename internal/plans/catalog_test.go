package plans

import (
	"errors"
	"testing"
	"time"

	"pak-finance/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var claimAt = time.Date(2024, 5, 21, 10, 0, 0, 0, time.UTC)

func investment(amount int64) ledger.ActiveInvestment {
	return ledger.ActiveInvestment{
		ID:          "inv-1",
		PlanID:      "silver",
		Amount:      decimal.NewFromInt(amount),
		InvestedAt:  claimAt.Add(-24 * time.Hour),
		NextClaimAt: claimAt,
	}
}

func TestDefaultCatalogSortedByPrice(t *testing.T) {
	list := Default().List()
	require.NotEmpty(t, list)
	for i := 1; i < len(list); i++ {
		assert.True(t, list[i-1].Price.LessThanOrEqual(list[i].Price))
	}
}

func TestLookupUnknownPlan(t *testing.T) {
	_, err := Default().Lookup("nope")
	assert.True(t, errors.Is(err, ErrPlanNotFound))
}

func TestNewCatalogRejectsDuplicates(t *testing.T) {
	p := Plan{ID: "a", Name: "A", Price: decimal.NewFromInt(1)}
	_, err := NewCatalog(p, p)
	assert.Error(t, err)

	_, err = NewCatalog(Plan{ID: "b", Price: decimal.Zero})
	assert.Error(t, err)
}

func TestSettleMaturedUsesSettingsPercent(t *testing.T) {
	settings := ledger.DefaultSettings()
	plan, err := Default().Lookup("silver")
	require.NoError(t, err)

	s, err := Settle(plan, investment(1000), claimAt, settings, false)
	require.NoError(t, err)
	assert.True(t, s.Matured)
	assert.Equal(t, "150", s.Profit.String())
	assert.Equal(t, "1000", s.Principal.String())
}

func TestSettlePlanPercentOverridesSettings(t *testing.T) {
	plan := Plan{ID: "x", Price: decimal.NewFromInt(100), ProfitPercent: decimal.RequireFromString("12.5")}
	s, err := Settle(plan, investment(333), claimAt.Add(time.Hour), ledger.DefaultSettings(), false)
	require.NoError(t, err)
	assert.Equal(t, "41.63", s.Profit.String())
}

func TestSettleEarly(t *testing.T) {
	plan, _ := Default().Lookup("silver")
	early := claimAt.Add(-time.Minute)

	_, err := Settle(plan, investment(1000), early, ledger.DefaultSettings(), false)
	assert.True(t, errors.Is(err, ErrNotMatured))

	s, err := Settle(plan, investment(1000), early, ledger.DefaultSettings(), true)
	require.NoError(t, err)
	assert.False(t, s.Matured)
	assert.Equal(t, "150", s.Profit.String())
	assert.True(t, s.Principal.IsZero())
}
