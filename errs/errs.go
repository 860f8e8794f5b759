// Package errs implements the error taxonomy from spec.md §7: a small set
// of sentinel kinds that every subsystem wraps its failures in, so callers
// can branch with errors.Is instead of string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy members from spec.md §7.
type Kind error

var (
	// NotFound: key absent in all reachable tiers. Not logged as an error —
	// spec.md §7 treats it as a normal outcome of Get.
	NotFound Kind = errors.New("shortenly: not found")

	// Validation: input violates a static constraint enforced upstream of
	// the core (the core itself only surfaces this if a collaborator
	// passes it through).
	Validation Kind = errors.New("shortenly: validation failed")

	// CodeGen: the generator exhausted its shard retries or failed to
	// encode an id. Fatal to the current shorten request.
	CodeGen Kind = errors.New("shortenly: code generation failed")

	// Remote: a remote KV call failed after retries.
	Remote Kind = errors.New("shortenly: remote store error")

	// Rejected: the circuit breaker denied the attempt outright (endpoint
	// unhealthy). Does NOT count toward tripping the breaker further.
	Rejected Kind = errors.New("shortenly: rejected by circuit breaker")

	// PoolExhausted: no pooled connection became available in time.
	PoolExhausted Kind = errors.New("shortenly: connection pool exhausted")

	// Timeout: a bounded wait was exceeded.
	Timeout Kind = errors.New("shortenly: timeout")

	// Internal: an invariant was violated. Logged; surfaced as a 5xx by
	// whatever HTTP boundary sits above the core (out of scope here).
	Internal Kind = errors.New("shortenly: internal error")

	// AlreadyExists: a conditional (SetNX-style) write lost a race against
	// an existing key. Additive member for the custom-alias path (see
	// SPEC_FULL.md §3); spec.md §7's taxonomy predates custom aliases.
	AlreadyExists Kind = errors.New("shortenly: already exists")
)

// wrapped pairs a taxonomy Kind with the underlying cause, preserving both
// for errors.Is (against the Kind) and %w unwrapping (to the cause).
type wrapped struct {
	kind  Kind
	cause error
}

func (w *wrapped) Error() string {
	if w.cause == nil {
		return w.kind.Error()
	}
	return fmt.Sprintf("%s: %v", w.kind.Error(), w.cause)
}

func (w *wrapped) Unwrap() []error { return []error{w.kind, w.cause} }

// Wrap annotates cause with kind. errors.Is(Wrap(Remote, err), Remote) is
// true, and errors.Is(Wrap(Remote, err), err) is also true.
func Wrap(kind Kind, cause error) error {
	if cause == nil {
		return kind
	}
	return &wrapped{kind: kind, cause: cause}
}

// Is reports whether err's chain contains kind.
func Is(err error, kind Kind) bool { return errors.Is(err, kind) }
