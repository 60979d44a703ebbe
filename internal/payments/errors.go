package payments

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput covers unknown plans, unknown billing periods and
	// malformed verification payloads.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidPlan is an ErrInvalidInput for plans that do not exist or are free.
	ErrInvalidPlan = fmt.Errorf("%w: invalid plan selected", ErrInvalidInput)
	// ErrInvalidPeriod is an ErrInvalidInput for billing periods other than
	// monthly and yearly.
	ErrInvalidPeriod = fmt.Errorf("%w: invalid billing period", ErrInvalidInput)
	// ErrUnknownOrder is an ErrInvalidInput for orders the gateway does not know.
	ErrUnknownOrder = fmt.Errorf("%w: unknown order", ErrInvalidInput)

	ErrUnauthenticated    = errors.New("user not authenticated")
	ErrInvalidSignature   = errors.New("invalid payment signature")
	ErrUserNotFound       = errors.New("user not found")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)
