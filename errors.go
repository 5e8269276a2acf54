package harmonizer

import "errors"

// Sentinel errors for the engine's error taxonomy. Each kind below is
// surfaced as one of these package-level vars and inspected at call sites
// with errors.Is/errors.As; internal packages wrap them with fmt.Errorf
// ("%w: ...") to attach context without losing the sentinel identity.
var (
	// ErrValidation covers inputs that violate a contract: bad filename,
	// oversized upload, missing required fields, invalid ontology.
	ErrValidation = errors.New("harmonizer: validation error")

	// ErrDuplicateHash is returned when a document's content hash already
	// exists; ingestion of a duplicate is rejected at the boundary.
	ErrDuplicateHash = errors.New("harmonizer: duplicate content hash")

	// ErrTooLarge is returned when an upload exceeds the configured max size.
	ErrTooLarge = errors.New("harmonizer: upload exceeds maximum size")

	// ErrInvalidLabel is returned when a graph label or relation type fails
	// the safe-identifier regex. Fatal at the call site; mapped to 4xx at
	// the boundary.
	ErrInvalidLabel = errors.New("harmonizer: identifier fails safe-label pattern")

	// ErrInvalidStatusTransition is returned when a document or enrichment
	// status transition is not in the allowed set. Usually non-fatal in
	// background tasks (log-and-skip).
	ErrInvalidStatusTransition = errors.New("harmonizer: invalid status transition")

	// ErrUnresolvedEntity is not a failure — it signals that a mention could
	// not be placed by the Resolver and was queued for enrichment.
	ErrUnresolvedEntity = errors.New("harmonizer: entity unresolved")

	// ErrTransientProvider marks an LLM/DB/storage failure as retryable.
	ErrTransientProvider = errors.New("harmonizer: transient provider error")

	// ErrPermanentProvider marks a failure that exhausted its retry budget;
	// the caller routes the unit of work to the dead-letter handler.
	ErrPermanentProvider = errors.New("harmonizer: permanent provider error")

	// ErrConsistency marks a mid-transaction invariant violation; the unit
	// of work aborts and is logged for investigation.
	ErrConsistency = errors.New("harmonizer: consistency invariant violated")

	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("harmonizer: document not found")

	// ErrNoResults is returned when retrieval yields no matching chunks.
	ErrNoResults = errors.New("harmonizer: no results found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("harmonizer: store is closed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("harmonizer: invalid configuration")
)

// boundaryStatus is the small set of user-visible statuses internal error
// kinds collapse to at the host boundary (§7). The HTTP surface itself is
// host-owned; this mapping only decides which bucket an error belongs to.
type boundaryStatus int

const (
	StatusAccepted boundaryStatus = iota
	StatusBadRequest
	StatusConflict
	StatusTooLarge
	StatusNotFound
	StatusInternal
)

// BoundaryStatus classifies err into one of the user-visible status buckets
// a host surface would map onto actual transport status codes.
func BoundaryStatus(err error) boundaryStatus {
	switch {
	case err == nil:
		return StatusAccepted
	case errors.Is(err, ErrDuplicateHash):
		return StatusConflict
	case errors.Is(err, ErrTooLarge):
		return StatusTooLarge
	case errors.Is(err, ErrDocumentNotFound):
		return StatusNotFound
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidLabel):
		return StatusBadRequest
	default:
		return StatusInternal
	}
}
