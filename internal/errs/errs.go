// Package errs defines the error kinds spec.md §7 names. They're plain
// sentinel errors wrapped with fmt.Errorf("...: %w", err), matching the
// teacher's error handling (risk/engine.go, oms/service.go use errors.New
// and fmt.Errorf directly - no custom error-code struct hierarchy).
package errs

import "errors"

var (
	// ErrTransientStore indicates the database was unreachable or a query
	// failed. The loader wraps query errors with it and returns them
	// without retrying; a change handler that receives it returns it to
	// the dispatcher, which logs it.
	ErrTransientStore = errors.New("transient store error")

	// ErrInvalidPayload indicates an unparseable or missing-required-field
	// change notification. Logged and dropped; no state change.
	ErrInvalidPayload = errors.New("invalid notification payload")

	// ErrUnknownReference indicates a notification referenced an id the
	// cache doesn't know about. Treated as a no-op on DELETE and as an
	// INSERT on UPDATE by the caller.
	ErrUnknownReference = errors.New("unknown entity reference")

	// ErrIntegrityConflict indicates a compare-and-set retry budget was
	// exhausted during index maintenance. The caller proceeds best-effort.
	ErrIntegrityConflict = errors.New("integrity conflict during index update")

	// ErrPersistFailure indicates a tracker aggregate write to the
	// database failed. Logged at error level; the tracker is evicted
	// anyway (see DESIGN.md Open Question Decisions).
	ErrPersistFailure = errors.New("aggregate persist failure")

	// ErrSubscriberLost indicates the dedicated LISTEN connection
	// dropped. State is retained; reconnect with backoff is attempted.
	ErrSubscriberLost = errors.New("change subscriber connection lost")
)
