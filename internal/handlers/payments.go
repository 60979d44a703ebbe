package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/dashmetrics/backend/internal/auth"
	"github.com/PortNumber53/dashmetrics/backend/internal/checkout"
	"github.com/PortNumber53/dashmetrics/backend/internal/entitlement"
	"github.com/PortNumber53/dashmetrics/backend/internal/models"
	"github.com/PortNumber53/dashmetrics/backend/internal/payments"
)

const maxStatusWait = 30 * time.Second

// OrderIssuer creates gateway orders for a plan purchase.
type OrderIssuer interface {
	CreateOrder(ctx context.Context, planID, billingPeriod string, principal *models.Principal) (models.OrderTicket, error)
}

// PaymentVerifier checks signed checkout results.
type PaymentVerifier interface {
	Verify(ctx context.Context, sr models.SignedResult, principal *models.Principal) (payments.Result, error)
}

// AccountReader exposes the principal's subscription and payment history.
type AccountReader interface {
	Subscription(ctx context.Context, principal *models.Principal) (models.SubscriptionView, error)
	History(ctx context.Context, principal *models.Principal) ([]models.Payment, error)
}

// CheckoutLookup finds the completion tracked for an order.
type CheckoutLookup interface {
	Lookup(orderRef string) (*checkout.Completion, error)
}

type createOrderPayload struct {
	PlanID        string `json:"planId" validate:"required"`
	BillingPeriod string `json:"billingPeriod" validate:"required,oneof=monthly yearly"`
}

// CreateOrder returns a handler that opens a gateway order for the
// requested plan and billing period. Anonymous callers are allowed.
func CreateOrder(issuer OrderIssuer, log logrus.FieldLogger) http.HandlerFunc {
	log = log.WithField("handler", "CreateOrder")
	return func(w http.ResponseWriter, r *http.Request) {
		var payload createOrderPayload
		if err := decodeJSON(w, r, &payload); err != nil {
			log.WithError(err).Info("CreateOrder: invalid JSON payload")
			writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		if err := validate.Struct(payload); err != nil {
			if failedField(err) == "PlanID" {
				writeError(w, http.StatusBadRequest, "Invalid plan selected")
			} else {
				writeError(w, http.StatusBadRequest, "Invalid billing period")
			}
			return
		}

		principal, _ := auth.PrincipalFrom(r.Context())
		ticket, err := issuer.CreateOrder(r.Context(), payload.PlanID, payload.BillingPeriod, principal)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, ticket)
		case errors.Is(err, payments.ErrInvalidPlan):
			writeError(w, http.StatusBadRequest, "Invalid plan selected")
		case errors.Is(err, payments.ErrInvalidPeriod):
			writeError(w, http.StatusBadRequest, "Invalid billing period")
		case errors.Is(err, payments.ErrGatewayUnavailable):
			log.WithError(err).Error("CreateOrder: gateway call failed")
			writeError(w, http.StatusBadGateway, "Failed to create order")
		default:
			log.WithError(err).Error("CreateOrder: unexpected error")
			writeError(w, http.StatusInternalServerError, "Failed to create order")
		}
	}
}

type verifyResponse struct {
	Success      bool                     `json:"success"`
	Message      string                   `json:"message"`
	Duplicate    bool                     `json:"duplicate,omitempty"`
	Subscription *models.SubscriptionView `json:"subscription,omitempty"`
}

// VerifyPayment returns a handler that verifies a signed checkout result
// for the authenticated principal.
func VerifyPayment(verifier PaymentVerifier, log logrus.FieldLogger) http.HandlerFunc {
	log = log.WithField("handler", "VerifyPayment")
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFrom(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, verifyResponse{Message: "User not authenticated"})
			return
		}

		var payload models.SignedResult
		if err := decodeJSON(w, r, &payload); err != nil {
			log.WithError(err).Info("VerifyPayment: invalid JSON payload")
			writeJSON(w, http.StatusBadRequest, verifyResponse{Message: "invalid JSON payload"})
			return
		}
		if err := validate.Struct(payload); err != nil {
			writeJSON(w, http.StatusBadRequest, verifyResponse{Message: "Missing payment details"})
			return
		}

		result, err := verifier.Verify(r.Context(), payload, principal)
		if err != nil {
			status, message := verifyFailure(err)
			if status >= http.StatusInternalServerError {
				log.WithError(err).WithField("order_id", payload.OrderRef).Error("VerifyPayment: verification failed")
			}
			writeJSON(w, status, verifyResponse{Message: message})
			return
		}

		sub := result.Subscription()
		writeJSON(w, http.StatusOK, verifyResponse{
			Success:      true,
			Message:      "Payment verified successfully",
			Duplicate:    result.Duplicate,
			Subscription: &sub,
		})
	}
}

func verifyFailure(err error) (int, string) {
	switch {
	case errors.Is(err, payments.ErrUnauthenticated):
		return http.StatusUnauthorized, "User not authenticated"
	case errors.Is(err, payments.ErrInvalidSignature):
		return http.StatusBadRequest, "Invalid payment signature"
	case errors.Is(err, payments.ErrInvalidPlan):
		return http.StatusBadRequest, "Invalid plan selected"
	case errors.Is(err, payments.ErrInvalidPeriod):
		return http.StatusBadRequest, "Invalid billing period"
	case errors.Is(err, payments.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid payment details"
	case errors.Is(err, payments.ErrUserNotFound):
		return http.StatusNotFound, "User not found"
	case errors.Is(err, entitlement.ErrDowngradeWhileActive):
		return http.StatusConflict, "Cannot switch to a lower plan while the current plan is active"
	case errors.Is(err, payments.ErrGatewayUnavailable):
		return http.StatusBadGateway, "Failed to verify payment"
	default:
		return http.StatusInternalServerError, "Failed to verify payment"
	}
}

type orderStatusResponse struct {
	OrderID string            `json:"orderId"`
	Status  string            `json:"status"`
	Outcome *checkout.Outcome `json:"outcome,omitempty"`
}

// OrderStatus returns a handler reporting whether the checkout for an order
// has completed. With ?wait=<duration> it long-polls up to that long. Orders
// the principal may not see answer 404, like unknown ones.
func OrderStatus(checkouts CheckoutLookup, log logrus.FieldLogger) http.HandlerFunc {
	log = log.WithField("handler", "OrderStatus")
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFrom(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "User not authenticated")
			return
		}

		orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
		if orderID == "" {
			writeError(w, http.StatusBadRequest, "missing order id")
			return
		}

		wait := time.Duration(0)
		if raw := r.URL.Query().Get("wait"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d < 0 {
				writeError(w, http.StatusBadRequest, "invalid wait duration")
				return
			}
			wait = min(d, maxStatusWait)
		}

		c, err := checkouts.Lookup(orderID)
		if err != nil || !c.VisibleTo(principal.UID) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), wait)
		defer cancel()
		if wait == 0 {
			select {
			case <-c.Done():
				ctx = r.Context()
			default:
			}
		}

		outcome, err := c.Wait(ctx)
		if errors.Is(err, checkout.ErrAbandoned) {
			log.WithField("order_id", orderID).Debug("OrderStatus: checkout still pending")
			writeJSON(w, http.StatusOK, orderStatusResponse{OrderID: orderID, Status: "pending"})
			return
		}

		if !c.VisibleTo(principal.UID) {
			log.WithFields(logrus.Fields{"order_id": orderID, "uid": principal.UID}).Info("OrderStatus: checkout resolved for another principal")
			writeError(w, http.StatusNotFound, "order not found")
			return
		}

		status := "completed"
		if !outcome.Accepted {
			status = "rejected"
		}
		writeJSON(w, http.StatusOK, orderStatusResponse{OrderID: orderID, Status: status, Outcome: &outcome})
	}
}

// PaymentHistory returns a handler listing the principal's payments.
func PaymentHistory(reader AccountReader, log logrus.FieldLogger) http.HandlerFunc {
	log = log.WithField("handler", "PaymentHistory")
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := auth.PrincipalFrom(r.Context())
		history, err := reader.History(r.Context(), principal)
		if err != nil {
			status, message := accountFailure(err)
			if status >= http.StatusInternalServerError {
				log.WithError(err).Error("PaymentHistory: failed to list payments")
			}
			writeError(w, status, message)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"payments": history})
	}
}

func accountFailure(err error) (int, string) {
	switch {
	case errors.Is(err, payments.ErrUnauthenticated):
		return http.StatusUnauthorized, "User not authenticated"
	case errors.Is(err, payments.ErrUserNotFound):
		return http.StatusNotFound, "User not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
