package memory

import (
	"errors"
	"fmt"

	"github.com/opsignal/threatmem/internal/kv"
)

// Sentinel errors for every named failure cause. Callers branch on these
// with errors.Is; the system never returns an opaque failure for a
// condition listed here.
var (
	// ErrNotFound means the referenced threat is absent from the tier the
	// operation expected it in (including TTL expiry).
	ErrNotFound = errors.New("record not found in tier")

	// ErrAlreadyExists means AddThreat was called for a threat_id that is
	// already under active investigation. Promote or dismiss it first.
	ErrAlreadyExists = errors.New("threat already in working memory")

	// ErrValidation means the caller supplied a malformed severity,
	// confidence, or memory type. Never retried.
	ErrValidation = errors.New("invalid input")

	// ErrPromotionInvariant means a promotion was attempted from a tier
	// where the source record does not exist. Always a stale reference on
	// the caller's side; never retried.
	ErrPromotionInvariant = errors.New("promotion source record does not exist")
)

// ErrDependencyUnavailable is the store-unreachable cause. It is the kv
// sentinel so tier code does not need to translate transport errors; the
// resilience layer retries on it. The retries-exhausted cause lives with
// the retry executor (resilience.ErrExhausted) — tier code never
// produces it directly.
var ErrDependencyUnavailable = kv.ErrUnavailable

// Error carries the context a caller needs to decide whether to retry,
// re-fetch, or page an operator: the operation, the tier it ran against,
// and the record it referenced. L1 operations are keyed by ThreatID;
// L2/L3 operations are keyed by MemoryID and carry the ThreatID too
// whenever the record was in hand when the failure happened.
type Error struct {
	Op       string
	Tier     string
	ThreatID string
	MemoryID string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.MemoryID != "" && e.ThreatID != "":
		return fmt.Sprintf("%s [%s] memory %s (threat %s): %v", e.Op, e.Tier, e.MemoryID, e.ThreatID, e.Err)
	case e.MemoryID != "":
		return fmt.Sprintf("%s [%s] memory %s: %v", e.Op, e.Tier, e.MemoryID, e.Err)
	case e.ThreatID != "":
		return fmt.Sprintf("%s [%s] threat %s: %v", e.Op, e.Tier, e.ThreatID, e.Err)
	default:
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.Tier, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// opErr wraps err with operation context, preserving errors.Is chains.
func opErr(op, tier, threatID string, err error) error {
	return &Error{Op: op, Tier: tier, ThreatID: threatID, Err: err}
}

// recErr is opErr for id-keyed L2/L3 operations: it carries the memory
// id and, when the record was already fetched, its threat id.
func recErr(op, tier, memoryID, threatID string, err error) error {
	return &Error{Op: op, Tier: tier, ThreatID: threatID, MemoryID: memoryID, Err: err}
}

// rewrapOp re-labels a tier error with the operation the caller asked
// for, keeping tier, ids, and cause. Used when an operation delegates
// its read to Get.
func rewrapOp(err error, op string) error {
	var e *Error
	if errors.As(err, &e) {
		return &Error{Op: op, Tier: e.Tier, ThreatID: e.ThreatID, MemoryID: e.MemoryID, Err: e.Err}
	}
	return err
}
