// Package plans resolves investment plans and settles matured investments.
package plans

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"pak-finance/internal/ledger"

	"github.com/shopspring/decimal"
)

var (
	ErrPlanNotFound = errors.New("plan not found")
	ErrNotMatured   = errors.New("investment not matured yet")
)

// Plan is one purchasable investment product.
type Plan struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	// ProfitPercent of zero defers to the daily profit percentage in settings.
	ProfitPercent decimal.Decimal `json:"profitPercent"`
	// Window of zero keeps the ledger's default maturation window.
	Window time.Duration `json:"window"`
}

// Catalog is an immutable set of plans keyed by id.
type Catalog struct {
	plans map[string]Plan
}

// NewCatalog builds a catalog, rejecting duplicate ids and non-positive prices.
func NewCatalog(list ...Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[string]Plan, len(list))}
	for _, p := range list {
		if p.ID == "" {
			return nil, errors.New("plan id is empty")
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("duplicate plan %s", p.ID)
		}
		if !p.Price.IsPositive() {
			return nil, fmt.Errorf("plan %s: price must be positive", p.ID)
		}
		if p.ProfitPercent.IsNegative() {
			return nil, fmt.Errorf("plan %s: profit percent is negative", p.ID)
		}
		c.plans[p.ID] = p
	}
	return c, nil
}

// Default returns the catalog a fresh installation ships with.
func Default() *Catalog {
	c, _ := NewCatalog(
		Plan{ID: "starter", Name: "Starter", Price: decimal.NewFromInt(500)},
		Plan{ID: "silver", Name: "Silver", Price: decimal.NewFromInt(1000)},
		Plan{ID: "gold", Name: "Gold", Price: decimal.NewFromInt(2500)},
		Plan{ID: "platinum", Name: "Platinum", Price: decimal.NewFromInt(5000)},
		Plan{ID: "diamond", Name: "Diamond", Price: decimal.NewFromInt(10000), ProfitPercent: decimal.NewFromInt(18)},
	)
	return c
}

// Lookup returns the plan with id.
func (c *Catalog) Lookup(id string) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("lookup %s: %w", id, ErrPlanNotFound)
	}
	return p, nil
}

// List returns all plans ordered by price.
func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price.Equal(out[j].Price) {
			return out[i].ID < out[j].ID
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}

// Settlement is the payout computed for a claim.
type Settlement struct {
	Profit    decimal.Decimal
	Principal decimal.Decimal
	Matured   bool
}

// Settle computes what claiming inv at now pays out. Before nextClaimAt the
// claim is refused unless allowEarly is set, in which case only profit is paid.
func Settle(plan Plan, inv ledger.ActiveInvestment, now time.Time, settings ledger.Settings, allowEarly bool) (Settlement, error) {
	pct := plan.ProfitPercent
	if pct.IsZero() {
		pct = settings.DailyProfitPercentage
	}
	profit := inv.Amount.Mul(pct).Div(decimal.NewFromInt(100)).Round(2)

	matured := !now.Before(inv.NextClaimAt)
	if !matured {
		if !allowEarly {
			return Settlement{}, fmt.Errorf("settle %s until %s: %w", inv.ID, inv.NextClaimAt.Format(time.RFC3339), ErrNotMatured)
		}
		return Settlement{Profit: profit, Principal: decimal.Zero}, nil
	}
	return Settlement{Profit: profit, Principal: inv.Amount, Matured: true}, nil
}
