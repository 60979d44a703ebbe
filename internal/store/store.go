package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/PortNumber53/dashmetrics/backend/internal/models"
)

var (
	// ErrUserNotFound is returned when no local user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrPaymentNotFound is returned when no payment matches the lookup.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrDuplicatePayment is returned when a payment with the same provider
	// id has already been recorded.
	ErrDuplicatePayment = errors.New("payment already recorded")
	// ErrEmailInUse is returned when a sign-in names the email of an account
	// it is not allowed to claim.
	ErrEmailInUse = errors.New("email already belongs to another account")
)

const uniqueViolation = "23505"

const userColumns = `id, username, email, avatar, provider, firebase_uid,
  subscription_tier, subscription_expires_at, created_at`

const paymentColumns = `id, user_id, amount, currency, status, provider,
  provider_id, plan_type, created_at`

// Store provides database-backed accessors for users and payments.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u         models.User
		email     sql.NullString
		avatar    sql.NullString
		provider  sql.NullString
		uid       sql.NullString
		tier      sql.NullString
		expiresAt sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &email, &avatar, &provider, &uid, &tier, &expiresAt, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Email = email.String
	u.Avatar = nullStringPtr(avatar)
	u.Provider = nullStringPtr(provider)
	u.FirebaseUID = nullStringPtr(uid)
	u.SubscriptionTier = models.TierFree
	if tier.Valid && tier.String != "" {
		u.SubscriptionTier = models.Tier(tier.String)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		u.SubscriptionExpiresAt = &t
	}
	return &u, nil
}

// GetUser returns the user with the given id.
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("store: get user %d: %w", id, err)
	}
	return u, nil
}

// GetUserByFirebaseUID returns the user linked to a Firebase uid.
func (s *Store) GetUserByFirebaseUID(ctx context.Context, uid string) (*models.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE firebase_uid = $1`, uid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("store: get user by firebase uid: %w", err)
	}
	return u, nil
}

// UpsertFirebaseUser ensures that the given Firebase-authenticated user
// exists locally. A row already linked to the uid is refreshed. Otherwise a
// row with the same email (case-insensitive) is claimed only when it has no
// Firebase uid yet and the email is verified; any other email match returns
// ErrEmailInUse. New rows store an empty email as NULL.
func (s *Store) UpsertFirebaseUser(ctx context.Context, fu models.FirebaseUser) (*models.User, error) {
	if fu.UID == "" {
		return nil, errors.New("store: firebase uid is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin upsert firebase user tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var userID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE firebase_uid = $1`, fu.UID).Scan(&userID)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE users
			 SET email = COALESCE($2, email),
			     avatar = COALESCE($3, avatar),
			     provider = COALESCE($4, provider)
			 WHERE id = $1`,
			userID,
			nullIfEmpty(fu.Email),
			nullIfEmpty(fu.Picture),
			nullIfEmpty(fu.Provider),
		); err != nil {
			return nil, upsertError("refresh user", err)
		}

	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("store: lookup user by firebase uid: %w", err)

	default:
		linked, err := linkByEmail(ctx, tx, fu)
		if err != nil {
			return nil, err
		}
		userID = linked
		if userID == 0 {
			if err := tx.QueryRowContext(
				ctx,
				`INSERT INTO users (username, email, avatar, provider, firebase_uid)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (firebase_uid) DO UPDATE
				 SET avatar = COALESCE(EXCLUDED.avatar, users.avatar),
				     provider = COALESCE(EXCLUDED.provider, users.provider)
				 RETURNING id`,
				fu.UID,
				nullIfEmpty(fu.Email),
				nullIfEmpty(fu.Picture),
				nullIfEmpty(fu.Provider),
				fu.UID,
			).Scan(&userID); err != nil {
				return nil, upsertError("insert user", err)
			}
		}
	}

	u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("store: reload user %d: %w", userID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit upsert firebase user tx: %w", err)
	}
	return u, nil
}

// linkByEmail claims an unlinked row with fu's email. It returns 0 when no
// row has that email.
func linkByEmail(ctx context.Context, tx *sql.Tx, fu models.FirebaseUser) (int64, error) {
	if fu.Email == "" {
		return 0, nil
	}

	var (
		userID int64
		owner  sql.NullString
	)
	err := tx.QueryRowContext(
		ctx,
		`SELECT id, firebase_uid FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1 FOR UPDATE`,
		fu.Email,
	).Scan(&userID, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: lookup user by email: %w", err)
	}
	if owner.Valid || !fu.EmailVerified {
		return 0, ErrEmailInUse
	}

	result, err := tx.ExecContext(
		ctx,
		`UPDATE users
		 SET firebase_uid = $1,
		     avatar = COALESCE(avatar, $2),
		     provider = COALESCE(provider, $3)
		 WHERE id = $4 AND firebase_uid IS NULL`,
		fu.UID,
		nullIfEmpty(fu.Picture),
		nullIfEmpty(fu.Provider),
		userID,
	)
	if err != nil {
		return 0, upsertError("link existing user by email", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return 0, ErrEmailInUse
	}
	return userID, nil
}

func upsertError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return ErrEmailInUse
	}
	return fmt.Errorf("store: %s: %w", op, err)
}

// UpdateEntitlement overwrites the subscription fields of a user.
func (s *Store) UpdateEntitlement(ctx context.Context, userID int64, ent models.Entitlement) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET subscription_tier = $2, subscription_expires_at = $3 WHERE id = $1`,
		userID, string(ent.Tier), ent.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("store: update entitlement for user %d: %w", userID, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreatePayment inserts a payment row and fills in its id and created_at.
func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO payments (user_id, amount, currency, status, provider, provider_id, plan_type)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		p.UserID, p.Amount, p.Currency, string(p.Status), p.Provider, p.ProviderID, string(p.PlanType),
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("store: insert payment: %w", err)
	}
	return nil
}

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p          models.Payment
		status     string
		providerID sql.NullString
		planType   string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Amount, &p.Currency, &status, &p.Provider, &providerID, &planType, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Status = models.PaymentStatus(status)
	p.ProviderID = providerID.String
	p.PlanType = models.BillingPeriod(planType)
	return &p, nil
}

// GetPaymentByProviderID returns the payment recorded for a gateway payment id.
func (s *Store) GetPaymentByProviderID(ctx context.Context, providerID string) (*models.Payment, error) {
	p, err := scanPayment(s.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE provider_id = $1`, providerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("store: get payment by provider id: %w", err)
	}
	return p, nil
}

// ListUserPayments returns a user's payments, newest first.
func (s *Store) ListUserPayments(ctx context.Context, userID int64) ([]models.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list payments for user %d: %w", userID, err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate payments: %w", err)
	}
	return payments, nil
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
