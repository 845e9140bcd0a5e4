package tiers

import (
	"encoding/json"
	"fmt"
	"sort"

	pkgerrors "github.com/baltauto/loyalty-backend/pkg/errors"
)

// Tier is one loyalty level. Rates are expressed in basis points so that
// bonus math stays in exact integer arithmetic (100 bps = 1%).
type Tier struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	MinTotalSpent int64  `json:"min_total_spent"`
	AccrualBps    int    `json:"accrual_bps"`
	RedeemCapBps  int    `json:"redeem_cap_bps"`
}

const bpsDenominator = 10000

// Bonus returns the bonus earned on the eligible purchase amount, floored.
func (t Tier) Bonus(eligibleAmount int64) int64 {
	if eligibleAmount <= 0 {
		return 0
	}
	return eligibleAmount * int64(t.AccrualBps) / bpsDenominator
}

// RedeemLimit returns the maximum redeemable amount against a purchase,
// floored.
func (t Tier) RedeemLimit(purchaseAmount int64) int64 {
	if purchaseAmount <= 0 {
		return 0
	}
	return purchaseAmount * int64(t.RedeemCapBps) / bpsDenominator
}

// Table holds the ordered tier definitions. Tiers are sorted by
// MinTotalSpent ascending and the first tier always starts at zero, so every
// non-negative total maps to exactly one tier.
type Table struct {
	tiers []Tier
}

// Default returns the built-in tier table.
func Default() Table {
	return Table{tiers: []Tier{
		{ID: 1, Name: "Новичок", MinTotalSpent: 0, AccrualBps: 500, RedeemCapBps: 3000},
		{ID: 2, Name: "Серебро", MinTotalSpent: 1_500_000, AccrualBps: 700, RedeemCapBps: 3500},
		{ID: 3, Name: "Золото", MinTotalSpent: 4_000_000, AccrualBps: 1000, RedeemCapBps: 4000},
		{ID: 4, Name: "Платина", MinTotalSpent: 10_000_000, AccrualBps: 1500, RedeemCapBps: 5000},
	}}
}

// Parse builds a table from a JSON array of tier definitions. An empty
// string yields the default table.
func Parse(raw string) (Table, error) {
	if raw == "" {
		return Default(), nil
	}

	var defs []Tier
	if err := json.Unmarshal([]byte(raw), &defs); err != nil {
		return Table{}, pkgerrors.Wrap(pkgerrors.CodeConfig, err, "parsing tier table JSON")
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].MinTotalSpent < defs[j].MinTotalSpent })

	table := Table{tiers: defs}
	if err := table.Validate(); err != nil {
		return Table{}, err
	}
	return table, nil
}

// Validate checks the structural invariants of the table.
func (t Table) Validate() error {
	if len(t.tiers) == 0 {
		return pkgerrors.New(pkgerrors.CodeConfig, "tier table is empty")
	}
	if t.tiers[0].MinTotalSpent != 0 {
		return pkgerrors.New(pkgerrors.CodeConfig, "lowest tier must have a zero spend threshold")
	}

	seenIDs := map[int]bool{}
	for i, tier := range t.tiers {
		if tier.ID <= 0 {
			return pkgerrors.New(pkgerrors.CodeConfig, fmt.Sprintf("tier at position %d has invalid id %d", i, tier.ID))
		}
		if seenIDs[tier.ID] {
			return pkgerrors.New(pkgerrors.CodeConfig, fmt.Sprintf("duplicate tier id %d", tier.ID))
		}
		seenIDs[tier.ID] = true

		if tier.MinTotalSpent < 0 {
			return pkgerrors.New(pkgerrors.CodeConfig, fmt.Sprintf("tier %d has negative spend threshold", tier.ID))
		}
		if i > 0 && tier.MinTotalSpent <= t.tiers[i-1].MinTotalSpent {
			return pkgerrors.New(pkgerrors.CodeConfig, fmt.Sprintf("tier %d threshold must exceed the previous tier's", tier.ID))
		}
		if tier.AccrualBps < 0 || tier.AccrualBps > bpsDenominator {
			return pkgerrors.New(pkgerrors.CodeConfig, fmt.Sprintf("tier %d accrual rate out of range", tier.ID))
		}
		if tier.RedeemCapBps < 0 || tier.RedeemCapBps > bpsDenominator {
			return pkgerrors.New(pkgerrors.CodeConfig, fmt.Sprintf("tier %d redemption cap out of range", tier.ID))
		}
	}
	return nil
}

// Lowest returns the entry tier.
func (t Table) Lowest() Tier {
	return t.tiers[0]
}

// TierFor maps a cumulative spend total to the highest tier whose threshold
// it has reached.
func (t Table) TierFor(totalSpent int64) Tier {
	current := t.tiers[0]
	for _, tier := range t.tiers[1:] {
		if totalSpent < tier.MinTotalSpent {
			break
		}
		current = tier
	}
	return current
}

// ByID looks up a tier by its identifier.
func (t Table) ByID(id int) (Tier, error) {
	for _, tier := range t.tiers {
		if tier.ID == id {
			return tier, nil
		}
	}
	return Tier{}, pkgerrors.New(pkgerrors.CodeConfig, fmt.Sprintf("unknown tier id %d", id))
}

// Next returns the tier above the given one, or false when it is already the
// highest.
func (t Table) Next(id int) (Tier, bool) {
	for i, tier := range t.tiers {
		if tier.ID == id && i+1 < len(t.tiers) {
			return t.tiers[i+1], true
		}
	}
	return Tier{}, false
}

// Progress describes how far a customer is from the next tier.
type Progress struct {
	Current        Tier
	Next           *Tier
	TotalSpent     int64
	RemainingSpend int64
	Percent        float64
}

// ProgressFor reports progression toward the next tier for the given total.
func (t Table) ProgressFor(totalSpent int64) Progress {
	current := t.TierFor(totalSpent)
	p := Progress{Current: current, TotalSpent: totalSpent, Percent: 100}

	next, ok := t.Next(current.ID)
	if !ok {
		return p
	}
	p.Next = &next
	p.RemainingSpend = next.MinTotalSpent - totalSpent

	span := next.MinTotalSpent - current.MinTotalSpent
	if span > 0 {
		p.Percent = float64(totalSpent-current.MinTotalSpent) / float64(span) * 100
		if p.Percent > 100 {
			p.Percent = 100
		}
	}
	return p
}
