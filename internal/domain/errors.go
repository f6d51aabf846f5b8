package domain

import (
	"errors"
	"fmt"
	"strings"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// TransportError represents a failed call to the venue at the network level
// (dial, timeout, unreadable or undecodable body).
type TransportError struct {
	Op        string // Operation that failed (e.g., "place_order", "cancel_order")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) IsRetriable() bool {
	return e.Retriable
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new retriable transport error
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err, Retriable: true}
}

// NewFatalTransportError creates a non-retriable transport error
func NewFatalTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err, Retriable: false}
}

// APIResponseError is returned when the venue answered but flagged failure:
// either a non-2xx status or an envelope with ok=false.
type APIResponseError struct {
	StatusCode int
	Message    string
}

func (e *APIResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("api error: status=%d msg=%s", e.StatusCode, strings.TrimSpace(e.Message))
}

// IsRetriable reports true only for server-side failures.
func (e *APIResponseError) IsRetriable() bool {
	return e.StatusCode >= 500
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// WarningKind classifies a ConsistencyWarning.
type WarningKind string

const (
	WarnRequestMismatch   WarningKind = "request_mismatch"   // echoed field differs from the request
	WarnFillSumMismatch   WarningKind = "fill_sum_mismatch"  // totalFilled != sum(fills.qty)
	WarnRestingMismatch   WarningKind = "resting_mismatch"   // qty != originalQty - filled
	WarnUnexpectedField   WarningKind = "unexpected_field"   // unknown top-level key
	WarnOrderMismatch     WarningKind = "order_mismatch"     // later observation disagrees with stored order
	WarnFillsRewritten    WarningKind = "fills_rewritten"    // earlier fills changed or vanished
	WarnFilledDecreased   WarningKind = "filled_decreased"   // stale or out-of-order observation
	WarnReopened          WarningKind = "reopened"           // closed order reported open again
	WarnOpenAfterCancel   WarningKind = "open_after_cancel"  // cancel answered with open=true
	WarnNegativeRemaining WarningKind = "negative_remaining" // filled more than requested
)

// ConsistencyWarning describes one discrepancy between a venue response and
// what the client expected. The response is still taken as ground truth.
type ConsistencyWarning struct {
	OrderID  OrderID
	Kind     WarningKind
	Field    string
	Expected string
	Got      string
}

func (w ConsistencyWarning) Error() string {
	return fmt.Sprintf("order %d: %s [%s]: expected %s, got %s", w.OrderID, w.Kind, w.Field, w.Expected, w.Got)
}

// ConsistencyError aggregates the warnings raised by one operation. It is
// non-fatal: the operation it accompanies has already been applied.
type ConsistencyError struct {
	Warnings []ConsistencyWarning
}

func (e *ConsistencyError) Error() string {
	parts := make([]string, 0, len(e.Warnings))
	for _, w := range e.Warnings {
		parts = append(parts, w.Error())
	}
	return "consistency: " + strings.Join(parts, "; ")
}

// Has reports whether any warning of the given kind was raised.
func (e *ConsistencyError) Has(kind WarningKind) bool {
	for _, w := range e.Warnings {
		if w.Kind == kind {
			return true
		}
	}
	return false
}

// AsError returns nil for an empty warning list.
func AsError(warnings []ConsistencyWarning) error {
	if len(warnings) == 0 {
		return nil
	}
	return &ConsistencyError{Warnings: warnings}
}

// IsConsistencyFault reports whether err is only a non-fatal consistency fault.
func IsConsistencyFault(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}

var (
	// ErrUnknownOrder is returned when an update references an order id the ledger never recorded.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrNoMarkPrice is returned by Value when position is non-zero and no fill or quote price is known.
	ErrNoMarkPrice = errors.New("no mark price for open position")

	// ErrInvalidInstrument is returned when a venue or stock symbol is empty or malformed.
	ErrInvalidInstrument = errors.New("invalid instrument")

	// ErrInstrumentMismatch is returned when an order belongs to a different account or instrument.
	ErrInstrumentMismatch = errors.New("order does not belong to this ledger")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
