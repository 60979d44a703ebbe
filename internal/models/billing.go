package models

import "time"

const (
	// CurrencyINR is the only currency orders are issued in.
	CurrencyINR = "INR"
	// ProviderRazorpay is recorded on every payment row.
	ProviderRazorpay = "razorpay"
	// GuestUserID tags orders created without a resolved local user.
	GuestUserID = "guest"
)

// PaymentStatus is the lifecycle state of a local payment record.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is a locally persisted, verified payment. Rows are never updated.
type Payment struct {
	ID         int64         `json:"id"`
	UserID     int64         `json:"userId"`
	Amount     int64         `json:"amount"`
	Currency   string        `json:"currency"`
	Status     PaymentStatus `json:"status"`
	Provider   string        `json:"provider"`
	ProviderID string        `json:"providerId"`
	PlanType   BillingPeriod `json:"planType"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// OrderNotes is the metadata attached to a gateway order at creation and
// read back during verification.
type OrderNotes struct {
	PlanID        string `json:"planId"`
	BillingPeriod string `json:"billingPeriod"`
	UserID        string `json:"userId"`
}

// Order is a gateway-side order. It is not stored locally.
type Order struct {
	ID       string     `json:"id"`
	Amount   int64      `json:"amount"`
	Currency string     `json:"currency"`
	Receipt  string     `json:"receipt"`
	Status   string     `json:"status"`
	Notes    OrderNotes `json:"notes"`
}

// GatewayPayment is the gateway's view of a captured or authorized payment.
type GatewayPayment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
	Email    string `json:"email"`
}

// SignedResult is what the hosted checkout hands back to the client after a
// successful payment.
type SignedResult struct {
	ProviderPaymentID string `json:"razorpay_payment_id" validate:"required"`
	OrderRef          string `json:"razorpay_order_id" validate:"required"`
	Signature         string `json:"razorpay_signature" validate:"required"`
}

// OrderTicket is returned to the client so it can open the hosted checkout.
// KeyID is the public gateway key; the secret never leaves the server.
type OrderTicket struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"keyId,omitempty"`
}

// SubscriptionView is the entitlement summary returned after verification.
type SubscriptionView struct {
	Tier              Tier       `json:"tier"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	DataRetentionDays int        `json:"dataRetentionDays"`
}
