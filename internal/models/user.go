package models

import "time"

// User is the local account record linked to a Firebase identity. Only the
// subscription fields are written by the payment flow.
type User struct {
	ID                    int64      `json:"id"`
	Username              string     `json:"username"`
	Email                 string     `json:"email"`
	Avatar                *string    `json:"avatar,omitempty"`
	Provider              *string    `json:"provider,omitempty"`
	FirebaseUID           *string    `json:"firebaseUid,omitempty"`
	SubscriptionTier      Tier       `json:"subscriptionTier"`
	SubscriptionExpiresAt *time.Time `json:"subscriptionExpiresAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
}

// Entitlement returns the user's current tier and expiry.
func (u *User) Entitlement() Entitlement {
	tier := u.SubscriptionTier
	if tier == "" {
		tier = TierFree
	}
	return Entitlement{Tier: tier, ExpiresAt: u.SubscriptionExpiresAt}
}

// Entitlement is a user's subscription tier and when it lapses. A nil
// ExpiresAt means the tier never expires, which only holds for free.
type Entitlement struct {
	Tier      Tier       `json:"tier"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Active reports whether the entitlement is still in force at now.
func (e Entitlement) Active(now time.Time) bool {
	if e.Tier == TierFree || e.Tier == "" {
		return true
	}
	return e.ExpiresAt != nil && e.ExpiresAt.After(now)
}

// Principal is the authenticated identity attached to a request by the
// identity provider middleware.
type Principal struct {
	UID           string `json:"uid"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"emailVerified,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	Provider      string `json:"provider,omitempty"`
}

// FirebaseUser carries the fields used to create or refresh a local user
// after a Firebase sign-in. An existing account is only claimed by email
// when EmailVerified is set.
type FirebaseUser struct {
	UID           string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	Provider      string
}
