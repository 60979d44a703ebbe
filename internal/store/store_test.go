package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/PortNumber53/dashmetrics/backend/internal/models"
)

var userCols = []string{"id", "username", "email", "avatar", "provider", "firebase_uid",
	"subscription_tier", "subscription_expires_at", "created_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return &Store{db: db}, mock
}

func TestNewStoreValidation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error when db is nil")
	}
}

func TestGetUserByFirebaseUID(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	expires := created.AddDate(0, 0, 30)

	rows := sqlmock.NewRows(userCols).
		AddRow(7, "demo_user", "demo@example.com", nil, "google.com", "uid-7", "basic", expires, created)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE firebase_uid = $1`)).
		WithArgs("uid-7").
		WillReturnRows(rows)

	u, err := s.GetUserByFirebaseUID(context.Background(), "uid-7")
	if err != nil {
		t.Fatalf("GetUserByFirebaseUID returned error: %v", err)
	}
	if u.ID != 7 || u.SubscriptionTier != models.TierBasic {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.Avatar != nil {
		t.Fatalf("expected nil avatar, got %q", *u.Avatar)
	}
	if u.SubscriptionExpiresAt == nil || !u.SubscriptionExpiresAt.Equal(expires) {
		t.Fatalf("unexpected expiry: %v", u.SubscriptionExpiresAt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
		WithArgs(int64(42)).
		WillReturnError(sql.ErrNoRows)

	if _, err := s.GetUser(context.Background(), 42); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestGetUserDefaultsNullTierToFree(t *testing.T) {
	s, mock := newMockStore(t)
	rows := sqlmock.NewRows(userCols).
		AddRow(1, "u", "u@example.com", nil, nil, nil, nil, nil, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).WillReturnRows(rows)

	u, err := s.GetUser(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetUser returned error: %v", err)
	}
	if u.SubscriptionTier != models.TierFree || u.SubscriptionExpiresAt != nil {
		t.Fatalf("expected free tier with no expiry, got %+v", u.Entitlement())
	}
}

func TestUpdateEntitlement(t *testing.T) {
	s, mock := newMockStore(t)
	expires := time.Now().UTC().AddDate(0, 0, 365)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET subscription_tier = $2, subscription_expires_at = $3 WHERE id = $1`)).
		WithArgs(int64(3), "pro", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.UpdateEntitlement(context.Background(), 3, models.Entitlement{Tier: models.TierPro, ExpiresAt: &expires}); err != nil {
		t.Fatalf("UpdateEntitlement returned error: %v", err)
	}

	mock.ExpectExec(`UPDATE users`).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.UpdateEntitlement(context.Background(), 4, models.Entitlement{Tier: models.TierPro, ExpiresAt: &expires}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreatePayment(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO payments`)).
		WithArgs(int64(1), int64(999), "INR", "completed", "razorpay", "pay_1", "monthly").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(11, created))

	p := &models.Payment{
		UserID: 1, Amount: 999, Currency: "INR", Status: models.PaymentCompleted,
		Provider: models.ProviderRazorpay, ProviderID: "pay_1", PlanType: models.BillingMonthly,
	}
	if err := s.CreatePayment(context.Background(), p); err != nil {
		t.Fatalf("CreatePayment returned error: %v", err)
	}
	if p.ID != 11 || !p.CreatedAt.Equal(created) {
		t.Fatalf("expected id/created_at to be filled, got %+v", p)
	}
}

func TestCreatePaymentDuplicate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO payments`)).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "payments_provider_id_key"})

	err := s.CreatePayment(context.Background(), &models.Payment{ProviderID: "pay_1"})
	if !errors.Is(err, ErrDuplicatePayment) {
		t.Fatalf("expected ErrDuplicatePayment, got %v", err)
	}
}

func TestListUserPayments(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "user_id", "amount", "currency", "status", "provider", "provider_id", "plan_type", "created_at"}).
		AddRow(2, 1, 29990, "INR", "completed", "razorpay", "pay_2", "yearly", now).
		AddRow(1, 1, 999, "INR", "completed", "razorpay", "pay_1", "monthly", now.Add(-time.Hour))

	mock.ExpectQuery(regexp.QuoteMeta(`FROM payments WHERE user_id = $1`)).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	payments, err := s.ListUserPayments(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListUserPayments returned error: %v", err)
	}
	if len(payments) != 2 || payments[0].PlanType != models.BillingYearly {
		t.Fatalf("unexpected payments: %+v", payments)
	}
}

func TestGetPaymentByProviderIDNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM payments WHERE provider_id = $1`)).
		WithArgs("pay_x").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.GetPaymentByProviderID(context.Background(), "pay_x"); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

const (
	uidLookup   = `SELECT id FROM users WHERE firebase_uid = $1`
	emailLookup = `SELECT id, firebase_uid FROM users WHERE LOWER(email) = LOWER($1)`
	reloadUser  = `FROM users WHERE id = $1`
)

func TestUpsertFirebaseUserCreates(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(uidLookup)).
		WithArgs("uid-new").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(emailLookup)).
		WithArgs("new@example.com").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
		WithArgs("uid-new", "new@example.com", nil, "google.com", "uid-new").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta(reloadUser)).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(5, "uid-new", "new@example.com", nil, "google.com", "uid-new", "free", nil, now))
	mock.ExpectCommit()

	u, err := s.UpsertFirebaseUser(context.Background(), models.FirebaseUser{
		UID: "uid-new", Email: "new@example.com", Provider: "google.com",
	})
	if err != nil {
		t.Fatalf("UpsertFirebaseUser returned error: %v", err)
	}
	if u.ID != 5 || u.FirebaseUID == nil || *u.FirebaseUID != "uid-new" {
		t.Fatalf("unexpected user: %+v", u)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertFirebaseUserRefreshesLinkedUser(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(uidLookup)).
		WithArgs("uid-3").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(regexp.QuoteMeta(`SET email = COALESCE($2, email)`)).
		WithArgs(int64(3), "three@example.com", nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(reloadUser)).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(3, "uid-3", "three@example.com", nil, nil, "uid-3", "basic", now.AddDate(0, 0, 10), now))
	mock.ExpectCommit()

	u, err := s.UpsertFirebaseUser(context.Background(), models.FirebaseUser{UID: "uid-3", Email: "three@example.com"})
	if err != nil {
		t.Fatalf("UpsertFirebaseUser returned error: %v", err)
	}
	if u.ID != 3 || u.SubscriptionTier != models.TierBasic {
		t.Fatalf("unexpected user: %+v", u)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertFirebaseUserLinksVerifiedEmail(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(uidLookup)).
		WithArgs("uid-demo").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(emailLookup)).
		WithArgs("Demo@Example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "firebase_uid"}).AddRow(1, nil))
	mock.ExpectExec(regexp.QuoteMeta(`WHERE id = $4 AND firebase_uid IS NULL`)).
		WithArgs("uid-demo", nil, nil, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(reloadUser)).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow(1, "demo_user", "demo@example.com", nil, nil, "uid-demo", "pro", now.AddDate(0, 0, 3), now))
	mock.ExpectCommit()

	u, err := s.UpsertFirebaseUser(context.Background(), models.FirebaseUser{
		UID: "uid-demo", Email: "Demo@Example.com", EmailVerified: true,
	})
	if err != nil {
		t.Fatalf("UpsertFirebaseUser returned error: %v", err)
	}
	if u.SubscriptionTier != models.TierPro {
		t.Fatalf("expected linked pro user, got %+v", u)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertFirebaseUserRefusesEmailClaims(t *testing.T) {
	tests := []struct {
		name     string
		owner    any
		verified bool
	}{
		{name: "row linked to another uid", owner: "demo_firebase_uid", verified: true},
		{name: "unverified email", owner: nil, verified: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)

			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta(uidLookup)).
				WithArgs("attacker_uid").
				WillReturnError(sql.ErrNoRows)
			mock.ExpectQuery(regexp.QuoteMeta(emailLookup)).
				WithArgs("DEMO@example.com").
				WillReturnRows(sqlmock.NewRows([]string{"id", "firebase_uid"}).AddRow(1, tt.owner))
			mock.ExpectRollback()

			_, err := s.UpsertFirebaseUser(context.Background(), models.FirebaseUser{
				UID: "attacker_uid", Email: "DEMO@example.com", EmailVerified: tt.verified,
			})
			if !errors.Is(err, ErrEmailInUse) {
				t.Fatalf("expected ErrEmailInUse, got %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestUpsertFirebaseUsersWithoutEmail(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	for i, uid := range []string{"phone-1", "phone-2"} {
		id := int64(10 + i)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(uidLookup)).
			WithArgs(uid).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
			WithArgs(uid, nil, nil, "phone", uid).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
		mock.ExpectQuery(regexp.QuoteMeta(reloadUser)).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows(userCols).
				AddRow(id, uid, nil, nil, "phone", uid, "free", nil, now))
		mock.ExpectCommit()
	}

	first, err := s.UpsertFirebaseUser(context.Background(), models.FirebaseUser{UID: "phone-1", Provider: "phone"})
	if err != nil {
		t.Fatalf("first UpsertFirebaseUser returned error: %v", err)
	}
	second, err := s.UpsertFirebaseUser(context.Background(), models.FirebaseUser{UID: "phone-2", Provider: "phone"})
	if err != nil {
		t.Fatalf("second UpsertFirebaseUser returned error: %v", err)
	}
	if first.ID == second.ID || second.Email != "" {
		t.Fatalf("expected two distinct emailless users, got %+v and %+v", first, second)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertFirebaseUserEmailRace(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(uidLookup)).
		WithArgs("uid-late").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(emailLookup)).
		WithArgs("race@example.com").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
		WithArgs("uid-late", "race@example.com", nil, nil, "uid-late").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_lower_key"})
	mock.ExpectRollback()

	_, err := s.UpsertFirebaseUser(context.Background(), models.FirebaseUser{UID: "uid-late", Email: "race@example.com"})
	if !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
