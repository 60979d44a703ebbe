// Package checkout tracks hosted checkouts that have been opened but not yet
// verified. Each order gets one Completion that resolves at most once; a
// checkout the customer abandons simply never resolves, and waiters find out
// through their context deadline.
package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/PortNumber53/dashmetrics/backend/internal/models"
)

var (
	// ErrAbandoned is returned by Wait when the context ends before the
	// checkout resolves.
	ErrAbandoned = errors.New("checkout not completed")
	// ErrUnknownOrder is returned for orders the tracker never registered
	// or has already swept.
	ErrUnknownOrder = errors.New("checkout not tracked")
)

// Outcome is the final state of a checkout.
type Outcome struct {
	Accepted     bool                     `json:"accepted"`
	Reason       string                   `json:"reason,omitempty"`
	Subscription *models.SubscriptionView `json:"subscription,omitempty"`
	ResolvedAt   time.Time                `json:"resolvedAt"`
	// UID is the principal whose verification resolved the checkout.
	UID          string                   `json:"-"`
}

// Completion is a single-assignment result.
type Completion struct {
	done    chan struct{}
	once    sync.Once
	outcome Outcome
	created time.Time
	owner   string
}

func newCompletion(now time.Time, owner string) *Completion {
	return &Completion{done: make(chan struct{}), created: now, owner: owner}
}

// Owner is the uid that opened the checkout, or "" for a guest checkout.
func (c *Completion) Owner() string {
	return c.owner
}

// VisibleTo reports whether uid may read this checkout. Only the opener of
// a signed-in checkout may see it; once resolved, only the principal that
// verified the payment may see the outcome.
func (c *Completion) VisibleTo(uid string) bool {
	if uid == "" {
		return false
	}
	if c.owner != "" && c.owner != uid {
		return false
	}
	select {
	case <-c.done:
		return c.outcome.UID == "" || c.outcome.UID == uid
	default:
		return true
	}
}

// Resolve stores o and wakes every waiter. It returns false if the
// completion had already been resolved.
func (c *Completion) Resolve(o Outcome) bool {
	resolved := false
	c.once.Do(func() {
		c.outcome = o
		close(c.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the completion resolves.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the completion resolves or ctx ends.
func (c *Completion) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-c.done:
		return c.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ErrAbandoned
	}
}

// Tracker maps order ids to completions.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]*Completion
	ttl     time.Duration
	now     func() time.Time
}

// NewTracker creates a tracker that forgets checkouts older than ttl.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Tracker{
		pending: make(map[string]*Completion),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Register starts tracking orderRef for owner, the uid of the principal
// that created the order ("" for guests). Registering the same order twice
// returns the existing completion.
func (t *Tracker) Register(orderRef, owner string) *Completion {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.sweepLocked(now)

	if c, ok := t.pending[orderRef]; ok {
		return c
	}
	c := newCompletion(now, owner)
	t.pending[orderRef] = c
	return c
}

// Lookup returns the completion for orderRef.
func (t *Tracker) Lookup(orderRef string) (*Completion, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.pending[orderRef]
	if !ok {
		return nil, ErrUnknownOrder
	}
	return c, nil
}

// Resolve completes orderRef. It reports false when the order is unknown or
// was already resolved.
func (t *Tracker) Resolve(orderRef string, o Outcome) bool {
	t.mu.Lock()
	c, ok := t.pending[orderRef]
	t.mu.Unlock()
	if !ok {
		return false
	}
	if o.ResolvedAt.IsZero() {
		o.ResolvedAt = t.now()
	}
	return c.Resolve(o)
}

// Len is the number of tracked checkouts.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) sweepLocked(now time.Time) {
	for ref, c := range t.pending {
		if now.Sub(c.created) > t.ttl {
			delete(t.pending, ref)
		}
	}
}
