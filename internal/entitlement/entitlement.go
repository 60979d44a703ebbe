// Package entitlement computes how a verified purchase changes a user's
// subscription tier and expiry.
package entitlement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PortNumber53/dashmetrics/backend/internal/models"
)

var (
	// ErrNotPurchasable is returned for purchases of the free tier or of
	// tiers outside the closed set.
	ErrNotPurchasable = errors.New("tier cannot be purchased")
	// ErrDowngradeWhileActive is returned by the guarded policy when a lower
	// tier is bought while a higher one is still running.
	ErrDowngradeWhileActive = errors.New("downgrade while a higher tier is active")
)

// Mode selects how a purchase interacts with the current tier.
type Mode string

const (
	// ModeOverwrite assigns the purchased tier unconditionally.
	ModeOverwrite Mode = "overwrite"
	// ModeGuarded refuses to replace an unexpired higher tier.
	ModeGuarded Mode = "guarded"
)

// ParseMode accepts "overwrite" or "guarded" (case-insensitive). Empty means overwrite.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeOverwrite:
		return ModeOverwrite, nil
	case ModeGuarded:
		return ModeGuarded, nil
	default:
		return "", fmt.Errorf("unknown entitlement policy %q", raw)
	}
}

// Policy configures Transition.
type Policy struct {
	Mode Mode
	// StackRenewals extends a same-tier renewal from the later of now and
	// the current expiry. When false the window always starts at now.
	StackRenewals bool
}

// Purchase is the event produced by a verified payment.
type Purchase struct {
	Tier   models.Tier
	Period models.BillingPeriod
}

// Transition returns the entitlement that results from applying p to current at now.
func (pol Policy) Transition(current models.Entitlement, p Purchase, now time.Time) (models.Entitlement, error) {
	if p.Tier == models.TierFree || !p.Tier.Valid() {
		return current, fmt.Errorf("%w: %q", ErrNotPurchasable, p.Tier)
	}

	active := current.Active(now) && current.Tier != models.TierFree

	if pol.Mode == ModeGuarded && active && current.Tier.Rank() > p.Tier.Rank() {
		return current, fmt.Errorf("%w: %s until %s", ErrDowngradeWhileActive,
			current.Tier, current.ExpiresAt.UTC().Format(time.RFC3339))
	}

	start := now
	if pol.StackRenewals && active && current.Tier == p.Tier && current.ExpiresAt.After(now) {
		start = *current.ExpiresAt
	}

	expires := start.AddDate(0, 0, p.Period.WindowDays())
	return models.Entitlement{Tier: p.Tier, ExpiresAt: &expires}, nil
}
