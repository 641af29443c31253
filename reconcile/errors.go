/*
errors.go - Error taxonomy for reconciliation runs

ERROR CATEGORIES:
  1. Missing source data - a feed has no rows at all; the run is skipped, not failed
  2. Invalid range - the computed window is malformed; fatal
  3. Unknown product - a raw id did not resolve; the entry is dropped, the run continues
  4. Storage failure - anything the collaborators return; propagated unchanged

Nothing is written until the whole window has been computed, so no error
leaves a partially updated document range behind.
*/
package reconcile

import (
	"errors"
	"fmt"

	"github.com/warp/attribution-engine/ledger"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMissingSourceData means one of the feeds has no rows in its whole history.
	// Reconcile reports it as a skipped Result, with its text as the Reason.
	ErrMissingSourceData = errors.New("missing source data")

	// ErrInvalidRange is returned when the recompute window is inverted or undefined.
	ErrInvalidRange = errors.New("invalid reconciliation range")

	// ErrUnknownProduct is returned by registries for identifiers they cannot resolve.
	ErrUnknownProduct = errors.New("unknown product identifier")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// InvalidRangeError carries the offending window.
type InvalidRangeError struct {
	Start  ledger.Date
	End    ledger.Date
	Detail string
}

func (e *InvalidRangeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("invalid reconciliation range [%s, %s]: %s", e.Start, e.End, e.Detail)
	}
	return fmt.Sprintf("invalid reconciliation range [%s, %s]", e.Start, e.End)
}

func (e *InvalidRangeError) Unwrap() error {
	return ErrInvalidRange
}

// UnknownProductError names the identifier that failed resolution.
type UnknownProductError struct {
	RawID string
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("unknown product %q", e.RawID)
}

func (e *UnknownProductError) Unwrap() error {
	return ErrUnknownProduct
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRange)
}
