package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition indicates an illegal or stale order status change.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrTerminalState indicates the order can no longer be modified.
	ErrTerminalState = errors.New("order is in a terminal state")
	// ErrOverRefund indicates a refund larger than what was paid.
	ErrOverRefund = errors.New("refund exceeds paid amount")
	// ErrDuplicateReference indicates the payment reference was already applied.
	ErrDuplicateReference = errors.New("duplicate payment reference")
	// ErrGateway indicates the payment gateway could not confirm the payment.
	ErrGateway = errors.New("payment gateway error")
	// ErrLedgerInvariant indicates a computed ledger state broke balance rules.
	ErrLedgerInvariant = errors.New("ledger invariant violated")
	// ErrUnauthorized indicates a missing or invalid principal.
	ErrUnauthorized = errors.New("unauthorized")
)
