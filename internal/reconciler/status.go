package reconciler

import (
	"errors"
	"fmt"
	"intake/internal/model"
	"strings"
)

// ErrUnknownRemoteState is returned when the extraction service reports a
// state outside its documented vocabulary. Unknown states are recorded as
// job errors, never silently passed through.
var ErrUnknownRemoteState = errors.New("unknown remote job state")

// MapRemoteState maps the extraction service's state vocabulary onto the
// local job status. The mapping is total over the documented vocabulary.
func MapRemoteState(state string) (model.JobStatus, error) {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "validating", "queued", "pending":
		return model.StatusPending, nil
	case "in_progress", "running", "finalizing":
		return model.StatusProcessing, nil
	case "completed", "succeeded", "ended":
		return model.StatusCompleted, nil
	case "failed", "expired":
		return model.StatusFailed, nil
	case "cancelling", "cancelled", "canceled":
		return model.StatusCancelled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRemoteState, state)
	}
}
