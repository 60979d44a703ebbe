package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/PortNumber53/dashmetrics/backend/internal/checkout"
	"github.com/PortNumber53/dashmetrics/backend/internal/entitlement"
	"github.com/PortNumber53/dashmetrics/backend/internal/models"
	"github.com/PortNumber53/dashmetrics/backend/internal/observability"
	"github.com/PortNumber53/dashmetrics/backend/internal/razorpay"
	"github.com/PortNumber53/dashmetrics/backend/internal/store"
)

// Result is the outcome of a successful verification.
type Result struct {
	Accepted          bool
	Reason            string
	Duplicate         bool
	Tier              models.Tier
	ExpiresAt         *time.Time
	DataRetentionDays int
	Payment           *models.Payment
}

// Subscription is the entitlement part of r as returned to clients.
func (r Result) Subscription() models.SubscriptionView {
	return models.SubscriptionView{Tier: r.Tier, ExpiresAt: r.ExpiresAt, DataRetentionDays: r.DataRetentionDays}
}

// Verify checks a signed checkout result and, when it is genuine, records
// the payment and extends the principal's subscription. The checks run in a
// fixed order: principal, signature, order, user, payment. Nothing is read
// from the gateway or the database before the signature has been checked.
func (s *Service) Verify(ctx context.Context, sr models.SignedResult, principal *models.Principal) (Result, error) {
	if principal == nil || principal.UID == "" {
		s.metrics.ObserveVerification(observability.OutcomeUnauthenticated)
		return Result{}, ErrUnauthenticated
	}

	log := s.log.WithFields(logrus.Fields{
		"order_id":   sr.OrderRef,
		"payment_id": sr.ProviderPaymentID,
		"uid":        principal.UID,
	})

	if sr.OrderRef == "" || sr.ProviderPaymentID == "" || sr.Signature == "" {
		s.metrics.ObserveVerification(observability.OutcomeRejected)
		return Result{}, fmt.Errorf("%w: missing payment details", ErrInvalidInput)
	}

	if !razorpay.VerifySignature(s.keySecret, sr.OrderRef, sr.ProviderPaymentID, sr.Signature) {
		log.Warn("payments: invalid payment signature")
		s.metrics.ObserveVerification(observability.OutcomeInvalidSignature)
		return Result{}, ErrInvalidSignature
	}

	var (
		order      models.Order
		gwPayment  models.GatewayPayment
		orderErr   error
		paymentErr error
	)
	// Neither fetch cancels the other: each error is classified on its own.
	var g errgroup.Group
	g.Go(func() error {
		order, orderErr = s.orders.FetchOrder(ctx, sr.OrderRef)
		return orderErr
	})
	g.Go(func() error {
		gwPayment, paymentErr = s.gateway.FetchPayment(ctx, sr.ProviderPaymentID)
		return paymentErr
	})
	_ = g.Wait()

	if orderErr != nil {
		return s.fail(log, gatewayError("fetch order", orderErr, ErrUnknownOrder))
	}
	plan, period, err := s.purchaseFromNotes(order.Notes)
	if err != nil {
		return s.fail(log, err)
	}

	user, err := s.users.GetUserByFirebaseUID(ctx, principal.UID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return s.fail(log, ErrUserNotFound)
		}
		return s.fail(log, fmt.Errorf("payments: load user: %w", err))
	}
	log = log.WithField("user_id", user.ID)

	if paymentErr != nil {
		return s.fail(log, gatewayError("fetch payment", paymentErr, fmt.Errorf("%w: unknown payment", ErrInvalidInput)))
	}
	if gwPayment.OrderID != "" && gwPayment.OrderID != sr.OrderRef {
		return s.fail(log, fmt.Errorf("%w: payment belongs to a different order", ErrInvalidInput))
	}

	if existing, err := s.payments.GetPaymentByProviderID(ctx, sr.ProviderPaymentID); err == nil {
		return s.duplicate(ctx, log, sr.OrderRef, principal.UID, user.ID, existing)
	} else if !errors.Is(err, store.ErrPaymentNotFound) {
		return s.fail(log, fmt.Errorf("payments: lookup payment: %w", err))
	}

	now := s.now()
	next, err := s.policy.Transition(user.Entitlement(), entitlement.Purchase{Tier: plan.ID, Period: period}, now)
	if err != nil {
		log.WithError(err).WithField("current_tier", user.SubscriptionTier).Info("payments: purchase rejected by entitlement policy")
		s.metrics.ObserveVerification(observability.OutcomeRejected)
		s.checkouts.Resolve(sr.OrderRef, checkout.Outcome{Accepted: false, Reason: err.Error(), UID: principal.UID})
		return Result{}, err
	}

	amount, currency := gwPayment.Amount, gwPayment.Currency
	if amount == 0 {
		amount = order.Amount
	}
	if currency == "" {
		currency = models.CurrencyINR
	}
	record := &models.Payment{
		UserID:     user.ID,
		Amount:     amount,
		Currency:   currency,
		Status:     models.PaymentCompleted,
		Provider:   models.ProviderRazorpay,
		ProviderID: sr.ProviderPaymentID,
		PlanType:   period,
	}
	if err := s.payments.CreatePayment(ctx, record); err != nil {
		if errors.Is(err, store.ErrDuplicatePayment) {
			existing, lookupErr := s.payments.GetPaymentByProviderID(ctx, sr.ProviderPaymentID)
			if lookupErr != nil {
				return s.fail(log, fmt.Errorf("payments: reload duplicate payment: %w", lookupErr))
			}
			return s.duplicate(ctx, log, sr.OrderRef, principal.UID, user.ID, existing)
		}
		return s.fail(log, fmt.Errorf("payments: record payment: %w", err))
	}

	if err := s.users.UpdateEntitlement(ctx, user.ID, next); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"payment_record_id": record.ID,
			"tier":              next.Tier,
		}).Error("payments: payment recorded but entitlement update failed")
		s.metrics.ObserveEntitlementWriteFailure()
		return s.fail(log, fmt.Errorf("payments: update entitlement: %w", err))
	}

	result := s.result(next)
	result.Payment = record
	s.checkouts.Resolve(sr.OrderRef, checkout.Outcome{Accepted: true, Subscription: ptr(result.Subscription()), UID: principal.UID})
	s.metrics.ObserveVerification(observability.OutcomeAccepted)

	log.WithFields(logrus.Fields{
		"tier":       next.Tier,
		"expires_at": next.ExpiresAt,
		"amount":     amount,
	}).Info("payments: payment verified")
	return result, nil
}

// duplicate answers a replayed verification with the user's current
// entitlement; nothing is written.
func (s *Service) duplicate(ctx context.Context, log logrus.FieldLogger, orderRef, uid string, userID int64, existing *models.Payment) (Result, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return s.fail(log, fmt.Errorf("payments: reload user: %w", err))
	}
	result := s.result(user.Entitlement())
	result.Duplicate = true
	result.Payment = existing

	s.checkouts.Resolve(orderRef, checkout.Outcome{Accepted: true, Subscription: ptr(result.Subscription()), UID: uid})
	s.metrics.ObserveVerification(observability.OutcomeDuplicate)
	log.WithField("payment_record_id", existing.ID).Info("payments: payment already verified")
	return result, nil
}

func (s *Service) result(ent models.Entitlement) Result {
	v := s.view(ent)
	return Result{
		Accepted:          true,
		Tier:              v.Tier,
		ExpiresAt:         v.ExpiresAt,
		DataRetentionDays: v.DataRetentionDays,
	}
}

func (s *Service) purchaseFromNotes(notes models.OrderNotes) (models.Plan, models.BillingPeriod, error) {
	if !s.catalog.Purchasable(notes.PlanID) {
		return models.Plan{}, "", ErrInvalidPlan
	}
	plan, err := s.catalog.Lookup(notes.PlanID)
	if err != nil {
		return models.Plan{}, "", ErrInvalidPlan
	}
	period, err := models.ParseBillingPeriod(notes.BillingPeriod)
	if err != nil {
		return models.Plan{}, "", ErrInvalidPeriod
	}
	return plan, period, nil
}

func (s *Service) fail(log logrus.FieldLogger, err error) (Result, error) {
	outcome := observability.OutcomeError
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrUserNotFound) {
		outcome = observability.OutcomeRejected
		log.WithError(err).Info("payments: verification rejected")
	} else {
		log.WithError(err).Error("payments: failed to verify payment")
	}
	s.metrics.ObserveVerification(outcome)
	return Result{}, err
}

// gatewayError maps a 404 from the gateway to notFound and everything else
// to ErrGatewayUnavailable.
func gatewayError(op string, err, notFound error) error {
	if errors.Is(err, razorpay.ErrNotFound) {
		return notFound
	}
	return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, op, err)
}

func ptr[T any](v T) *T {
	return &v
}
