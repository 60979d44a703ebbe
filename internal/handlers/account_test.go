package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/PortNumber53/dashmetrics/backend/internal/auth"
	"github.com/PortNumber53/dashmetrics/backend/internal/catalog"
	"github.com/PortNumber53/dashmetrics/backend/internal/models"
	"github.com/PortNumber53/dashmetrics/backend/internal/payments"
	"github.com/PortNumber53/dashmetrics/backend/internal/store"
)

type mockAccount struct {
	view    models.SubscriptionView
	history []models.Payment
	err     error
}

func (m *mockAccount) Subscription(context.Context, *models.Principal) (models.SubscriptionView, error) {
	return m.view, m.err
}

func (m *mockAccount) History(context.Context, *models.Principal) ([]models.Payment, error) {
	return m.history, m.err
}

type mockSyncer struct {
	last models.FirebaseUser
	err  error
}

func (m *mockSyncer) UpsertFirebaseUser(_ context.Context, u models.FirebaseUser) (*models.User, error) {
	m.last = u
	if m.err != nil {
		return nil, m.err
	}
	uid := u.UID
	return &models.User{ID: 9, Email: u.Email, FirebaseUID: &uid, SubscriptionTier: models.TierFree}, nil
}

type failingPinger struct{}

func (failingPinger) PingContext(context.Context) error { return errors.New("connection refused") }

func TestPlansHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	Plans(catalog.MustDefault()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/plans", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	plans, _ := decodeBody(t, rr)["plans"].([]any)
	if len(plans) != 3 {
		t.Fatalf("expected 3 plans, got %d", len(plans))
	}
}

func TestSubscriptionHandler(t *testing.T) {
	logger, _ := test.NewNullLogger()
	account := &mockAccount{view: models.SubscriptionView{Tier: models.TierBasic, DataRetentionDays: 30}}

	rr := httptest.NewRecorder()
	Subscription(account, logger).ServeHTTP(rr, withPrincipal(httptest.NewRequest(http.MethodGet, "/api/subscription", nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	sub, _ := decodeBody(t, rr)["subscription"].(map[string]any)
	if sub["tier"] != "basic" {
		t.Fatalf("unexpected subscription: %v", sub)
	}

	account.err = payments.ErrUnauthenticated
	rr = httptest.NewRecorder()
	Subscription(account, logger).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/subscription", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func TestPaymentHistoryHandler(t *testing.T) {
	logger, _ := test.NewNullLogger()
	account := &mockAccount{history: []models.Payment{{ID: 1, ProviderID: "pay_1", Amount: 999}}}

	rr := httptest.NewRecorder()
	PaymentHistory(account, logger).ServeHTTP(rr, withPrincipal(httptest.NewRequest(http.MethodGet, "/api/payments", nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	list, _ := decodeBody(t, rr)["payments"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected 1 payment, got %v", list)
	}

	account.err = payments.ErrUserNotFound
	rr = httptest.NewRecorder()
	PaymentHistory(account, logger).ServeHTTP(rr, withPrincipal(httptest.NewRequest(http.MethodGet, "/api/payments", nil)))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestSyncUserHandler(t *testing.T) {
	logger, _ := test.NewNullLogger()
	syncer := &mockSyncer{}

	rr := httptest.NewRecorder()
	SyncUser(syncer, logger).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/auth/sync", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous sync, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	SyncUser(syncer, logger).ServeHTTP(rr, withPrincipal(httptest.NewRequest(http.MethodPost, "/api/auth/sync", nil)))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if syncer.last.UID != "uid-1" {
		t.Fatalf("expected uid-1 to be synced, got %q", syncer.last.UID)
	}

	syncer.err = errors.New("db down")
	rr = httptest.NewRecorder()
	SyncUser(syncer, logger).ServeHTTP(rr, withPrincipal(httptest.NewRequest(http.MethodPost, "/api/auth/sync", nil)))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", rr.Code)
	}
}

func TestSyncUserRefusesClaimedEmail(t *testing.T) {
	logger, _ := test.NewNullLogger()
	mem := store.NewMemory()
	demo := mem.SeedDemo()

	req := httptest.NewRequest(http.MethodPost, "/api/auth/sync", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), models.Principal{
		UID: "other_uid", Email: "DEMO@example.com", EmailVerified: true,
	}))
	rr := httptest.NewRecorder()
	SyncUser(mem, logger).ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d (%s)", rr.Code, rr.Body.String())
	}

	owner, err := mem.GetUserByFirebaseUID(context.Background(), "demo_firebase_uid")
	if err != nil || owner.ID != demo.ID || owner.SubscriptionTier != models.TierPro {
		t.Fatalf("demo account changed: %+v, %v", owner, err)
	}
}

func TestSyncUserPassesEmailVerified(t *testing.T) {
	logger, _ := test.NewNullLogger()
	syncer := &mockSyncer{}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/sync", nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), models.Principal{
		UID: "uid-2", Email: "two@example.com", EmailVerified: true,
	}))
	rr := httptest.NewRecorder()
	SyncUser(syncer, logger).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if !syncer.last.EmailVerified {
		t.Fatal("expected email_verified to reach the store")
	}
}

func TestHealthHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	Health(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || decodeBody(t, rr)["status"] != "ok" {
		t.Fatalf("unexpected health response: %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	Health(failingPinger{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rr.Code)
	}
}
