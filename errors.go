package kstock

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig returned from constructors on programmer error
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotConnected the channel is not open
	ErrNotConnected = errors.New("channel not connected")

	// ErrTokenUnavailable the token provider returned no usable token
	ErrTokenUnavailable = errors.New("token unavailable")

	// ErrInvalidStockCode empty or malformed stock code
	ErrInvalidStockCode = errors.New("invalid stock code")

	// ErrTickMismatch order price is not aligned to the exchange tick size
	ErrTickMismatch = errors.New("price not aligned to tick size")

	// ErrRequestFailed REST collaborator returned a non-2xx status
	ErrRequestFailed = errors.New("request failed")
)

// NewError wraps err with the operation that produced it.
func NewError(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
