// Package catalog holds the fixed set of subscription plans offered by the
// dashboard. Plans are decoded once from an embedded YAML document.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/PortNumber53/dashmetrics/backend/internal/models"
)

// ErrPlanNotFound is returned when a plan id is outside the closed set.
var ErrPlanNotFound = errors.New("plan not found")

//go:embed plans.yaml
var defaultPlans []byte

// Catalog is an immutable plan lookup table.
type Catalog struct {
	plans map[models.Tier]models.Plan
}

type document struct {
	Plans []models.Plan `yaml:"plans"`
}

// Default returns the catalog built from the embedded plans.yaml.
func Default() (*Catalog, error) {
	return Parse(defaultPlans)
}

// MustDefault is Default for package initialisation and tests.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse decodes and validates a plan document.
func Parse(raw []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("catalog: decode plans: %w", err)
	}

	plans := make(map[models.Tier]models.Plan, len(doc.Plans))
	for _, p := range doc.Plans {
		if !p.ID.Valid() {
			return nil, fmt.Errorf("catalog: unknown plan id %q", p.ID)
		}
		if _, dup := plans[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate plan id %q", p.ID)
		}
		if p.Price.Monthly < 0 || p.Price.Yearly < 0 {
			return nil, fmt.Errorf("catalog: plan %q has a negative price", p.ID)
		}
		if p.ID != models.TierFree && (p.Price.Monthly == 0 || p.Price.Yearly == 0) {
			return nil, fmt.Errorf("catalog: paid plan %q is missing a price", p.ID)
		}
		plans[p.ID] = p
	}

	for _, tier := range models.Tiers {
		if _, ok := plans[tier]; !ok {
			return nil, fmt.Errorf("catalog: plan %q is not defined", tier)
		}
	}

	return &Catalog{plans: plans}, nil
}

// Lookup resolves a plan id.
func (c *Catalog) Lookup(planID string) (models.Plan, error) {
	p, ok := c.plans[models.Tier(planID)]
	if !ok {
		return models.Plan{}, ErrPlanNotFound
	}
	return p, nil
}

// Purchasable reports whether planID exists and costs money.
func (c *Catalog) Purchasable(planID string) bool {
	p, err := c.Lookup(planID)
	return err == nil && p.ID != models.TierFree
}

// List returns every plan from lowest to highest tier.
func (c *Catalog) List() []models.Plan {
	out := make([]models.Plan, 0, len(models.Tiers))
	for _, tier := range models.Tiers {
		out = append(out, c.plans[tier])
	}
	return out
}
