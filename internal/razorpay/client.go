package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/PortNumber53/dashmetrics/backend/internal/models"
)

const defaultBaseURL = "https://api.razorpay.com/v1"

var (
	// ErrGatewayUnavailable covers transport failures, 5xx responses and
	// bodies that cannot be decoded.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrNotFound is matched by APIError values carrying a 404.
	ErrNotFound = errors.New("gateway resource not found")
)

// APIError is a 4xx response from the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("razorpay API error (%d %s): %s", e.StatusCode, e.Code, e.Description)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client wraps the Razorpay REST API directly (no SDK dependency).
type Client struct {
	keyID      string
	keySecret  string
	httpClient *http.Client
	baseURL    string
}

// Option customises a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithTimeout bounds every gateway round trip.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewClient creates a new Razorpay API client.
func NewClient(keyID, keySecret string, opts ...Option) *Client {
	c := &Client{
		keyID:      keyID,
		keySecret:  keySecret,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// KeyID is the public key identifier handed to the hosted checkout.
func (c *Client) KeyID() string {
	return c.keyID
}

// OrderRequest describes an order to mint.
type OrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    models.OrderNotes `json:"notes"`
}

// CreateOrder mints a new order on the gateway.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodPost, "/orders", req, &order); err != nil {
		return models.Order{}, fmt.Errorf("create order: %w", err)
	}
	if order.ID == "" {
		return models.Order{}, fmt.Errorf("create order: missing order ID in response: %w", ErrGatewayUnavailable)
	}
	return order, nil
}

// FetchOrder returns an existing order, including the notes it was created with.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &order); err != nil {
		return models.Order{}, fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	return order, nil
}

// FetchPayment returns the gateway's record of a payment.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (models.GatewayPayment, error) {
	var payment models.GatewayPayment
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &payment); err != nil {
		return models.GatewayPayment{}, fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}
	return payment, nil
}

// HTTP helpers

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("razorpay request failed: %v: %w", err, ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return fmt.Errorf("read razorpay response: %v: %w", err, ErrGatewayUnavailable)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("razorpay returned %d: %w", resp.StatusCode, ErrGatewayUnavailable)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: "UNKNOWN", Description: "unknown error"}
		var envelope struct {
			Error struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		}
		if json.Unmarshal(buf.Bytes(), &envelope) == nil {
			if envelope.Error.Code != "" {
				apiErr.Code = envelope.Error.Code
			}
			if envelope.Error.Description != "" {
				apiErr.Description = envelope.Error.Description
			}
		}
		return apiErr
	}

	if err := json.Unmarshal(buf.Bytes(), out); err != nil {
		return fmt.Errorf("parse razorpay response: %v: %w", err, ErrGatewayUnavailable)
	}
	return nil
}
