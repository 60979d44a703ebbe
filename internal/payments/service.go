// Package payments issues gateway orders and verifies signed checkout
// results, turning a verified payment into a subscription change.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/dashmetrics/backend/internal/catalog"
	"github.com/PortNumber53/dashmetrics/backend/internal/checkout"
	"github.com/PortNumber53/dashmetrics/backend/internal/entitlement"
	"github.com/PortNumber53/dashmetrics/backend/internal/models"
	"github.com/PortNumber53/dashmetrics/backend/internal/ordercache"
	"github.com/PortNumber53/dashmetrics/backend/internal/razorpay"
	"github.com/PortNumber53/dashmetrics/backend/internal/store"
)

const receiptPrefix = "receipt_order_"

// Gateway is the subset of the Razorpay client the service calls.
type Gateway interface {
	CreateOrder(ctx context.Context, req razorpay.OrderRequest) (models.Order, error)
	FetchOrder(ctx context.Context, orderID string) (models.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (models.GatewayPayment, error)
}

// OrderSource serves orders, usually through a cache, and accepts freshly
// created ones.
type OrderSource interface {
	FetchOrder(ctx context.Context, orderID string) (models.Order, error)
	Remember(ctx context.Context, order models.Order)
}

// UserRepository reads and updates local users.
type UserRepository interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByFirebaseUID(ctx context.Context, uid string) (*models.User, error)
	UpdateEntitlement(ctx context.Context, userID int64, ent models.Entitlement) error
}

// PaymentRepository records verified payments.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPaymentByProviderID(ctx context.Context, providerID string) (*models.Payment, error)
	ListUserPayments(ctx context.Context, userID int64) ([]models.Payment, error)
}

// Recorder receives business metrics. It may be nil.
type Recorder interface {
	ObserveOrderCreated(plan, period string)
	ObserveVerification(outcome string)
	ObserveEntitlementWriteFailure()
}

// Deps collects the collaborators of a Service.
type Deps struct {
	Catalog   *catalog.Catalog
	Gateway   Gateway
	Orders    OrderSource
	Users     UserRepository
	Payments  PaymentRepository
	Checkouts *checkout.Tracker
	Policy    entitlement.Policy
	KeyID     string
	KeySecret string
	Metrics   Recorder
	Log       logrus.FieldLogger
	Now       func() time.Time
}

// Service implements order creation and payment verification.
type Service struct {
	catalog   *catalog.Catalog
	gateway   Gateway
	orders    OrderSource
	users     UserRepository
	payments  PaymentRepository
	checkouts *checkout.Tracker
	policy    entitlement.Policy
	keyID     string
	keySecret string
	metrics   Recorder
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewService validates d and fills in defaults. Without an explicit
// OrderSource, orders are cached in process in front of the gateway.
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Catalog == nil:
		return nil, errors.New("payments: catalog is required")
	case d.Gateway == nil:
		return nil, errors.New("payments: gateway is required")
	case d.Users == nil || d.Payments == nil:
		return nil, errors.New("payments: repositories are required")
	case d.KeySecret == "":
		return nil, errors.New("payments: gateway key secret is required")
	}

	s := &Service{
		catalog:   d.Catalog,
		gateway:   d.Gateway,
		orders:    d.Orders,
		users:     d.Users,
		payments:  d.Payments,
		checkouts: d.Checkouts,
		policy:    d.Policy,
		keyID:     d.KeyID,
		keySecret: d.KeySecret,
		metrics:   d.Metrics,
		log:       d.Log,
		now:       d.Now,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if s.checkouts == nil {
		s.checkouts = checkout.NewTracker(0)
	}
	if s.orders == nil {
		var lookups ordercache.LookupRecorder
		if lr, ok := s.metrics.(ordercache.LookupRecorder); ok {
			lookups = lr
		}
		s.orders = ordercache.NewFetcher(ordercache.NewMemory(0, time.Hour), s.gateway, s.log, lookups)
	}
	return s, nil
}

// Checkouts exposes the tracker for the order status endpoint.
func (s *Service) Checkouts() *checkout.Tracker {
	return s.checkouts
}

// Catalog returns the plan catalog the service prices orders from.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// CreateOrder prices (planID, billingPeriod) from the catalog and mints a
// gateway order for it. principal may be nil for guest checkouts.
func (s *Service) CreateOrder(ctx context.Context, planID, billingPeriod string, principal *models.Principal) (models.OrderTicket, error) {
	if !s.catalog.Purchasable(planID) {
		return models.OrderTicket{}, ErrInvalidPlan
	}
	plan, err := s.catalog.Lookup(planID)
	if err != nil {
		return models.OrderTicket{}, ErrInvalidPlan
	}
	period, err := models.ParseBillingPeriod(billingPeriod)
	if err != nil {
		return models.OrderTicket{}, ErrInvalidPeriod
	}

	amount := plan.PriceFor(period)
	req := razorpay.OrderRequest{
		Amount:   amount,
		Currency: models.CurrencyINR,
		Receipt:  receiptPrefix + uuid.NewString(),
		Notes: models.OrderNotes{
			PlanID:        string(plan.ID),
			BillingPeriod: string(period),
			UserID:        s.noteUserID(ctx, principal),
		},
	}

	order, err := s.gateway.CreateOrder(ctx, req)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"plan": plan.ID, "period": period}).Error("payments: failed to create order")
		return models.OrderTicket{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if order.Notes == (models.OrderNotes{}) {
		order.Notes = req.Notes
	}

	s.orders.Remember(ctx, order)
	owner := ""
	if principal != nil {
		owner = principal.UID
	}
	s.checkouts.Register(order.ID, owner)
	s.metrics.ObserveOrderCreated(string(plan.ID), string(period))

	s.log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"plan":     plan.ID,
		"period":   period,
		"amount":   amount,
		"user_id":  req.Notes.UserID,
	}).Info("payments: order created")

	return models.OrderTicket{OrderID: order.ID, Amount: amount, Currency: models.CurrencyINR, KeyID: s.keyID}, nil
}

// noteUserID resolves the local user id recorded on the order, or "guest".
func (s *Service) noteUserID(ctx context.Context, principal *models.Principal) string {
	if principal == nil || principal.UID == "" {
		return models.GuestUserID
	}
	u, err := s.users.GetUserByFirebaseUID(ctx, principal.UID)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			s.log.WithError(err).WithField("uid", principal.UID).Warn("payments: user lookup failed; tagging order as guest")
		}
		return models.GuestUserID
	}
	return strconv.FormatInt(u.ID, 10)
}

// Subscription returns the principal's stored entitlement with the plan's
// retention window.
func (s *Service) Subscription(ctx context.Context, principal *models.Principal) (models.SubscriptionView, error) {
	u, err := s.userFor(ctx, principal)
	if err != nil {
		return models.SubscriptionView{}, err
	}
	return s.view(u.Entitlement()), nil
}

// History lists the principal's recorded payments, newest first.
func (s *Service) History(ctx context.Context, principal *models.Principal) ([]models.Payment, error) {
	u, err := s.userFor(ctx, principal)
	if err != nil {
		return nil, err
	}
	payments, err := s.payments.ListUserPayments(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("payments: list history: %w", err)
	}
	if payments == nil {
		payments = []models.Payment{}
	}
	return payments, nil
}

func (s *Service) userFor(ctx context.Context, principal *models.Principal) (*models.User, error) {
	if principal == nil || principal.UID == "" {
		return nil, ErrUnauthenticated
	}
	u, err := s.users.GetUserByFirebaseUID(ctx, principal.UID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("payments: load user: %w", err)
	}
	return u, nil
}

func (s *Service) view(ent models.Entitlement) models.SubscriptionView {
	v := models.SubscriptionView{Tier: ent.Tier, ExpiresAt: ent.ExpiresAt}
	if plan, err := s.catalog.Lookup(string(ent.Tier)); err == nil {
		v.DataRetentionDays = plan.DataRetentionDays
	}
	return v
}

type nopRecorder struct{}

func (nopRecorder) ObserveOrderCreated(string, string) {}
func (nopRecorder) ObserveVerification(string)         {}
func (nopRecorder) ObserveEntitlementWriteFailure()    {}
