// Package razorpay talks to the Razorpay orders and payments API and checks
// the signatures returned by its hosted checkout.
package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the checkout signature for an order/payment pair: the hex
// HMAC-SHA256 of "orderRef|paymentID" keyed with the account secret.
func Sign(secret, orderRef, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderRef + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches Sign(secret, orderRef, paymentID).
func VerifySignature(secret, orderRef, paymentID, signature string) bool {
	expected := Sign(secret, orderRef, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}
