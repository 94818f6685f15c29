package core

// errors.go implements the concrete error kinds of §7. Each is a distinct
// Go type so callers can switch on kind with errors.As instead of string
// matching. core returns these values unwrapped; Wrap (pkg/utils), used by
// pkg/config and cmd/synnergy, adds context without losing the underlying
// kind.

import (
	"errors"
	"fmt"
)

// ValidationError signals a static schema or format failure, surfaced to
// the caller as-is.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("validation: %s", e.Reason) }

// ApplyPenaltyError signals a block failed consensus validation; the
// caller must issue a peer penalty of 100.
type ApplyPenaltyError struct {
	Reason  string
	Penalty int
}

func (e *ApplyPenaltyError) Error() string {
	return fmt.Sprintf("apply penalty (%d): %s", e.Penalty, e.Reason)
}

// NewApplyPenaltyError builds an ApplyPenaltyError with the standard
// consensus-violation penalty of 100.
func NewApplyPenaltyError(reason string) *ApplyPenaltyError {
	return &ApplyPenaltyError{Reason: reason, Penalty: 100}
}

// TransactionApplyError wraps the transaction id and cause of a failed
// in-block transaction application; the entire block is rejected.
type TransactionApplyError struct {
	TxID  ID
	Cause error
}

func (e *TransactionApplyError) Error() string {
	return fmt.Sprintf("transaction %s apply failed: %v", e.TxID.Hex(), e.Cause)
}

func (e *TransactionApplyError) Unwrap() error { return e.Cause }

// ForkError signals an unknown fork status; fatal.
type ForkError struct {
	Status ForkStatus
}

func (e *ForkError) Error() string { return fmt.Sprintf("unknown fork status: %v", e.Status) }

// DBError wraps an I/O failure from the KV store. The caller aborts the
// current operation; the system continues running.
type DBError struct {
	Op    string
	Cause error
}

func (e *DBError) Error() string { return fmt.Sprintf("db %s: %v", e.Op, e.Cause) }
func (e *DBError) Unwrap() error { return e.Cause }

// NotFoundError is routine; callers treat it as absence.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s", e.Key) }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// DuplicateError signals an attempted double-registration of a module,
// event, action, or an attempt to add an already-pooled transaction.
type DuplicateError struct {
	Kind string
	Name string
}

func (e *DuplicateError) Error() string { return fmt.Sprintf("duplicate %s: %s", e.Kind, e.Name) }

// RateLimitError signals a peer exceeded its call rate; the caller applies
// a penalty of 10.
type RateLimitError struct {
	PeerID string
	RPC    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for peer %s on %s", e.PeerID, e.RPC)
}

// InvalidRequestError signals a malformed or oversize RPC request; the
// caller applies a penalty of 100.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string { return fmt.Sprintf("invalid request: %s", e.Reason) }

// UnknownReducerError signals ReducerHandler.invoke was given a name that
// does not resolve to a registered module:func pair.
type UnknownReducerError struct {
	Name string
}

func (e *UnknownReducerError) Error() string { return fmt.Sprintf("unknown reducer: %s", e.Name) }

// ShutdownError signals a mutating Processor entry point was called after
// stop(); per §5 this is a no-op, surfaced to the caller as an error rather
// than silently discarded.
type ShutdownError struct {
	Op string
}

func (e *ShutdownError) Error() string { return fmt.Sprintf("processor stopped: refusing %s", e.Op) }
