// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Standard sentinel errors
var (
	ErrDataUnavailable    = errors.New("data unavailable or stale")
	ErrNoSignal           = errors.New("no signal available")
	ErrPositionNotFound   = errors.New("position not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrDuplicateOrder     = errors.New("duplicate order suppressed")
	ErrCapitalLimit       = errors.New("capital limit exceeded")
	ErrMinTradeSize       = errors.New("below minimum trade size")
	ErrMonitorInactive    = errors.New("monitor task deactivated")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrOrderRejected      = errors.New("order rejected")
	ErrRateLimited        = errors.New("rate limited")
	ErrTimeout            = errors.New("operation timed out")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrConfigInvalid      = errors.New("invalid configuration")
)

// ErrorClass categorizes an exchange failure for the retry classifier.
type ErrorClass string

const (
	ClassNetwork    ErrorClass = "network"
	ClassTimeout    ErrorClass = "timeout"
	ClassRateLimit  ErrorClass = "rate_limit"
	ClassServer     ErrorClass = "server"
	ClassValidation ErrorClass = "validation"
	ClassRejected   ErrorClass = "rejected"
	ClassAuth       ErrorClass = "auth"
	ClassOther      ErrorClass = "other"
)

// Retryable reports whether failures of this class are worth retrying.
// Validation, rejection and auth failures never are.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ClassNetwork, ClassTimeout, ClassRateLimit, ClassServer:
		return true
	default:
		return false
	}
}

// ExchangeError represents a classified error from the exchange API.
type ExchangeError struct {
	Class   ErrorClass
	Code    string
	Message string
	Err     error
}

func (e *ExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exchange error [%s/%s]: %s: %v", e.Class, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("exchange error [%s/%s]: %s", e.Class, e.Code, e.Message)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// NewExchangeError creates a new ExchangeError.
func NewExchangeError(class ErrorClass, code, message string, err error) *ExchangeError {
	return &ExchangeError{
		Class:   class,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Classify maps an arbitrary error onto an ErrorClass. Classified
// ExchangeErrors keep their class; context and net errors map to
// timeout/network; anything else is ClassOther.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassOther
	}

	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Class
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return ClassTimeout
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimit
	case errors.Is(err, ErrConnectionFailed):
		return ClassNetwork
	case errors.Is(err, ErrOrderRejected), errors.Is(err, ErrInsufficientFunds):
		return ClassRejected
	case errors.Is(err, ErrInvalidCredentials):
		return ClassAuth
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}

	return ClassOther
}

// IsRetryable reports whether the error's class allows a retry.
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

// OrderError represents an error related to order operations.
type OrderError struct {
	OrderID string
	Symbol  string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.OrderID, e.Action, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.OrderID, e.Action, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, symbol, action, reason string, err error) *OrderError {
	return &OrderError{
		OrderID: orderID,
		Symbol:  symbol,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// PredictorError represents an error from a predictor collaborator.
type PredictorError struct {
	Source    string
	Operation string
	Err       error
}

func (e *PredictorError) Error() string {
	return fmt.Sprintf("predictor error [%s] %s: %v", e.Source, e.Operation, e.Err)
}

func (e *PredictorError) Unwrap() error {
	return e.Err
}

// NewPredictorError creates a new PredictorError.
func NewPredictorError(source, operation string, err error) *PredictorError {
	return &PredictorError{
		Source:    source,
		Operation: operation,
		Err:       err,
	}
}

// RiskError represents a risk limit violation.
type RiskError struct {
	Rule    string
	Current float64
	Limit   float64
	Message string
}

func (e *RiskError) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (current: %.2f, limit: %.2f)", e.Rule, e.Message, e.Current, e.Limit)
}

// NewRiskError creates a new RiskError.
func NewRiskError(rule string, current, limit float64, message string) *RiskError {
	return &RiskError{
		Rule:    rule,
		Current: current,
		Limit:   limit,
		Message: message,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
