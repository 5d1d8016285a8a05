package engine

import (
	"errors"
	"fmt"
)

// ContractError reports a request the lifecycle cannot honor. It is
// returned immediately and never absorbed.
type ContractError struct {
	// Code identifies the violation.
	Code ContractErrorCode

	// Message is a human-readable description.
	Message string

	// Entry is the fullname of the entry involved, if any.
	Entry string
}

// ContractErrorCode categorizes contract violations.
type ContractErrorCode string

const (
	// ErrCodeRejectAccepted: an accepted entry cannot be rejected; roll
	// back its consumer instead.
	ErrCodeRejectAccepted ContractErrorCode = "REJECT_ACCEPTED"

	// ErrCodeRollbackAboveCurrent: the rollback target is above the
	// entry's current status.
	ErrCodeRollbackAboveCurrent ContractErrorCode = "ROLLBACK_ABOVE_CURRENT"

	// ErrCodeInvalidStatus: the requested status is not a valid target.
	ErrCodeInvalidStatus ContractErrorCode = "INVALID_STATUS"

	// ErrCodeInvalidSelector: the selector names no single entry.
	ErrCodeInvalidSelector ContractErrorCode = "INVALID_SELECTOR"

	// ErrCodeIterationsExceeded: check did not reach a fixed point within
	// the iteration limit.
	ErrCodeIterationsExceeded ContractErrorCode = "ITERATIONS_EXCEEDED"
)

// Error implements the error interface.
func (e *ContractError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("%s: %s (entry=%s)", e.Code, e.Message, e.Entry)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newContractError(code ContractErrorCode, entry, format string, args ...any) *ContractError {
	return &ContractError{Code: code, Entry: entry, Message: fmt.Sprintf(format, args...)}
}

// IsContractError returns true if err is any contract violation.
func IsContractError(err error) bool {
	var ce *ContractError
	return errors.As(err, &ce)
}

func hasCode(err error, code ContractErrorCode) bool {
	var ce *ContractError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsRejectAccepted returns true if err reports a reject of an accepted
// entry.
func IsRejectAccepted(err error) bool { return hasCode(err, ErrCodeRejectAccepted) }

// IsRollbackAboveCurrent returns true if err reports a rollback target
// above the current status.
func IsRollbackAboveCurrent(err error) bool { return hasCode(err, ErrCodeRollbackAboveCurrent) }

// IsInvalidSelector returns true if err reports a bad selector.
func IsInvalidSelector(err error) bool { return hasCode(err, ErrCodeInvalidSelector) }

// IsIterationsExceeded returns true if check gave up before a fixed point.
func IsIterationsExceeded(err error) bool { return hasCode(err, ErrCodeIterationsExceeded) }
