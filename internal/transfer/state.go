// Package transfer moves one media asset from the CMS CDN to the object store.
//
// An [Operation] walks a fixed state machine: download, an optional transcode for video, upload
// (single-shot or multipart, chosen by size), and a single attempt to patch the CMS sidecar. The bytes
// landing in the object store is the success criterion; a failed CMS patch downgrades the outcome
// instead of failing it.
package transfer

import (
	"fmt"

	"github.com/desertthunder/mvx/internal/shared"
)

// State is a position in the transfer state machine.
type State string

const (
	StatePending         State = "pending"
	StateDownloading     State = "downloading"
	StateCompressing     State = "compressing"
	StateUploading       State = "uploading"
	StateUpdatingBackend State = "updating_backend"
	StateComplete        State = "complete"
	StateError           State = "error"
)

var transitions = map[State][]State{
	StatePending:         {StateDownloading},
	StateDownloading:     {StateCompressing, StateUploading},
	StateCompressing:     {StateUploading},
	StateUploading:       {StateUpdatingBackend},
	StateUpdatingBackend: {StateComplete},
}

// Terminal reports whether s is complete or error.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

// CanTransition reports whether moving from s to next is allowed.
//
// Every non-terminal state may move to error.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateError {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s State) String() string {
	return string(s)
}

func invalidTransition(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidTransition, from, to)
}
