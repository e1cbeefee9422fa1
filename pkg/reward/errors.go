package reward

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the reward flow and its collaborators.
var (
	ErrInvalidConfig         = errors.New("invalid config")
	ErrMissingParameters     = errors.New("missing parameters")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrDirectoryUnavailable  = errors.New("follower directory unavailable")
	ErrNotFollowing          = errors.New("not following")
	ErrLedgerFetchFailed     = errors.New("ledger fetch failed")
	ErrLedgerDecodeFailed    = errors.New("ledger decode failed")
	ErrAlreadyPaid           = errors.New("already paid")
	ErrRecipientUnresolvable = errors.New("recipient unresolvable")
	ErrInvoiceCreationFailed = errors.New("invoice creation failed")
	ErrWalletConnectFailed   = errors.New("wallet connect failed")
	ErrPaymentRejected       = errors.New("payment rejected")
	ErrLedgerCommitFailed    = errors.New("ledger commit failed")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// classify keeps err when it already carries one of the accepted sentinels and
// otherwise tags it with fallback.
func classify(err error, fallback error, accepted ...error) error {
	if errors.Is(err, fallback) {
		return err
	}
	for _, sentinel := range accepted {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", fallback, err)
}
