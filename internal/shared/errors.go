package shared

import (
	"errors"
	"fmt"
)

var (
	// Pipeline failures that end a transfer operation
	ErrSourceFetch = fmt.Errorf("source fetch failed")
	ErrLocalWrite  = fmt.Errorf("local write failed")
	ErrEncode      = fmt.Errorf("encode failed")
	ErrUpload      = fmt.Errorf("upload failed")

	// Degraded-success failures; bytes are already in the object store
	ErrBackendReconcile = fmt.Errorf("backend reconcile failed")
	ErrReferenceUpdate  = fmt.Errorf("reference update failed")

	// Configuration errors
	ErrConfiguration = fmt.Errorf("configuration error")

	// Transfer and orchestration errors
	ErrObjectTooLarge    = fmt.Errorf("object exceeds maximum size")
	ErrInvalidTransition = fmt.Errorf("invalid state transition")
	ErrStepNotEligible   = fmt.Errorf("step not eligible")
	ErrWorklistBusy      = fmt.Errorf("worklist already running")
	ErrConfirmRequired   = fmt.Errorf("confirmation required")
	ErrAssetBusy         = fmt.Errorf("asset already has an active operation")
	ErrAlreadyMigrated   = fmt.Errorf("asset already migrated")

	// Event channel errors
	ErrConnectionLost = fmt.Errorf("connection lost")
	ErrStreamClosed   = fmt.Errorf("stream closed")

	// API and service errors
	ErrAPIRequest = fmt.Errorf("API request failed")
	ErrNotFound   = fmt.Errorf("not found")
	ErrForbidden  = fmt.Errorf("forbidden")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
)

// IsFatal reports whether err ends the current transfer operation.
//
// Backend and reference update failures are not fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range []error{ErrSourceFetch, ErrLocalWrite, ErrEncode, ErrUpload} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ErrorKind names the taxonomy member err belongs to, for status strings and event payloads.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSourceFetch):
		return "SourceFetchError"
	case errors.Is(err, ErrLocalWrite):
		return "LocalWriteError"
	case errors.Is(err, ErrEncode):
		return "EncodeError"
	case errors.Is(err, ErrUpload):
		return "UploadError"
	case errors.Is(err, ErrBackendReconcile):
		return "BackendReconcileError"
	case errors.Is(err, ErrReferenceUpdate):
		return "ReferenceUpdateError"
	case errors.Is(err, ErrConfiguration):
		return "ConfigurationError"
	default:
		return "Error"
	}
}
