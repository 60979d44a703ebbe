package models

import "fmt"

// Tier is a subscription level. The set is closed.
type Tier string

const (
	TierFree  Tier = "free"
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
)

// Tiers lists every tier from lowest to highest.
var Tiers = []Tier{TierFree, TierBasic, TierPro}

// Rank orders tiers for upgrade/downgrade decisions. Unknown tiers rank -1.
func (t Tier) Rank() int {
	switch t {
	case TierFree:
		return 0
	case TierBasic:
		return 1
	case TierPro:
		return 2
	default:
		return -1
	}
}

// Valid reports whether t belongs to the closed tier set.
func (t Tier) Valid() bool {
	return t.Rank() >= 0
}

// BillingPeriod selects which of a plan's prices applies.
type BillingPeriod string

const (
	BillingMonthly BillingPeriod = "monthly"
	BillingYearly  BillingPeriod = "yearly"
)

// ParseBillingPeriod accepts exactly "monthly" or "yearly".
func ParseBillingPeriod(raw string) (BillingPeriod, error) {
	switch BillingPeriod(raw) {
	case BillingMonthly, BillingYearly:
		return BillingPeriod(raw), nil
	default:
		return "", fmt.Errorf("invalid billing period %q", raw)
	}
}

// WindowDays is the number of days one purchase of this period entitles.
func (p BillingPeriod) WindowDays() int {
	if p == BillingMonthly {
		return 30
	}
	return 365
}

// Price holds a plan's cost per billing period in minor currency units (paise).
type Price struct {
	Monthly int64 `json:"monthly" yaml:"monthly"`
	Yearly  int64 `json:"yearly" yaml:"yearly"`
}

// Plan is an immutable catalog entry.
type Plan struct {
	ID                Tier     `json:"id" yaml:"id"`
	Name              string   `json:"name" yaml:"name"`
	Description       string   `json:"description" yaml:"description"`
	Price             Price    `json:"price" yaml:"price"`
	Features          []string `json:"features" yaml:"features"`
	Recommended       bool     `json:"recommended,omitempty" yaml:"recommended"`
	DataRetentionDays int      `json:"dataRetentionDays" yaml:"data_retention_days"`
}

// PriceFor returns the plan price for the given period.
func (p Plan) PriceFor(period BillingPeriod) int64 {
	if period == BillingMonthly {
		return p.Price.Monthly
	}
	return p.Price.Yearly
}
