package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PortNumber53/dashmetrics/backend/internal/models"
)

// Memory is the in-process adapter used for local development and tests.
// It enforces the same uniqueness rules as the Postgres schema: unique
// Firebase uids, unique non-empty emails (case-insensitive) and unique
// payment provider ids.
type Memory struct {
	mu       sync.RWMutex
	users    map[int64]*models.User
	payments map[int64]*models.Payment

	nextUserID    int64
	nextPaymentID int64

	now func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:         make(map[int64]*models.User),
		payments:      make(map[int64]*models.Payment),
		nextUserID:    1,
		nextPaymentID: 1,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SeedDemo inserts the demo account the dashboard ships with: a pro user
// whose subscription runs for another 30 days.
func (m *Memory) SeedDemo() *models.User {
	expires := m.now().AddDate(0, 0, 30)
	avatar := "https://ui-avatars.com/api/?name=Demo+User"
	provider := "email"
	uid := "demo_firebase_uid"
	return m.AddUser(models.User{
		Username:              "demo_user",
		Email:                 "demo@example.com",
		Avatar:                &avatar,
		Provider:              &provider,
		FirebaseUID:           &uid,
		SubscriptionTier:      models.TierPro,
		SubscriptionExpiresAt: &expires,
	})
}

// AddUser stores u with a fresh id and returns a copy.
func (m *Memory) AddUser(u models.User) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()

	u.ID = m.nextUserID
	m.nextUserID++
	if u.SubscriptionTier == "" {
		u.SubscriptionTier = models.TierFree
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
	}
	stored := u
	m.users[u.ID] = &stored
	return copyUser(&stored)
}

func (m *Memory) GetUser(_ context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return copyUser(u), nil
}

func (m *Memory) GetUserByFirebaseUID(_ context.Context, uid string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if u := m.userByUIDLocked(uid); u != nil {
		return copyUser(u), nil
	}
	return nil, ErrUserNotFound
}

func (m *Memory) UpsertFirebaseUser(_ context.Context, fu models.FirebaseUser) (*models.User, error) {
	if fu.UID == "" {
		return nil, errors.New("store: firebase uid is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.userByUIDLocked(fu.UID); existing != nil {
		if fu.Email != "" {
			if other := m.userByEmailLocked(fu.Email); other != nil && other.ID != existing.ID {
				return nil, ErrEmailInUse
			}
			existing.Email = fu.Email
		}
		if fu.Picture != "" {
			pic := fu.Picture
			existing.Avatar = &pic
		}
		if fu.Provider != "" {
			prov := fu.Provider
			existing.Provider = &prov
		}
		return copyUser(existing), nil
	}

	if fu.Email != "" {
		if match := m.userByEmailLocked(fu.Email); match != nil {
			if match.FirebaseUID != nil || !fu.EmailVerified {
				return nil, ErrEmailInUse
			}
			uid := fu.UID
			match.FirebaseUID = &uid
			if match.Avatar == nil && fu.Picture != "" {
				pic := fu.Picture
				match.Avatar = &pic
			}
			if match.Provider == nil && fu.Provider != "" {
				prov := fu.Provider
				match.Provider = &prov
			}
			return copyUser(match), nil
		}
	}

	uid := fu.UID
	u := &models.User{
		ID:               m.nextUserID,
		Username:         fu.UID,
		Email:            fu.Email,
		FirebaseUID:      &uid,
		SubscriptionTier: models.TierFree,
		CreatedAt:        m.now(),
	}
	if fu.Picture != "" {
		pic := fu.Picture
		u.Avatar = &pic
	}
	if fu.Provider != "" {
		prov := fu.Provider
		u.Provider = &prov
	}
	m.nextUserID++
	m.users[u.ID] = u
	return copyUser(u), nil
}

func (m *Memory) userByUIDLocked(uid string) *models.User {
	for _, u := range m.users {
		if u.FirebaseUID != nil && *u.FirebaseUID == uid {
			return u
		}
	}
	return nil
}

// userByEmailLocked matches case-insensitively. Empty emails never match,
// like the partial unique index in Postgres.
func (m *Memory) userByEmailLocked(email string) *models.User {
	if email == "" {
		return nil
	}
	for _, u := range m.users {
		if u.Email != "" && strings.EqualFold(u.Email, email) {
			return u
		}
	}
	return nil
}

func (m *Memory) UpdateEntitlement(_ context.Context, userID int64, ent models.Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.SubscriptionTier = ent.Tier
	if ent.ExpiresAt != nil {
		t := *ent.ExpiresAt
		u.SubscriptionExpiresAt = &t
	} else {
		u.SubscriptionExpiresAt = nil
	}
	return nil
}

func (m *Memory) CreatePayment(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ProviderID != "" {
		for _, existing := range m.payments {
			if existing.ProviderID == p.ProviderID {
				return ErrDuplicatePayment
			}
		}
	}

	p.ID = m.nextPaymentID
	m.nextPaymentID++
	p.CreatedAt = m.now()
	stored := *p
	m.payments[p.ID] = &stored
	return nil
}

func (m *Memory) GetPaymentByProviderID(_ context.Context, providerID string) (*models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.payments {
		if p.ProviderID == providerID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m *Memory) ListUserPayments(_ context.Context, userID int64) ([]models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Payment
	for _, p := range m.payments {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// PaymentCount is the number of stored payments.
func (m *Memory) PaymentCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.payments)
}

func copyUser(u *models.User) *models.User {
	cp := *u
	if u.SubscriptionExpiresAt != nil {
		t := *u.SubscriptionExpiresAt
		cp.SubscriptionExpiresAt = &t
	}
	return &cp
}
