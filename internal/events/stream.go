package events

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/desertthunder/mvx/internal/shared"
)

// Stream writes events to one SSE response.
//
// Stream is safe for concurrent use. Transferred never decreases across frames of the same phase, and
// nothing is written after a terminal event.
type Stream struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	last    map[string]int64
	closed  bool
	now     func() time.Time
}

// NewStream prepares w for server-sent events and writes the response headers.
func NewStream(w http.ResponseWriter) *Stream {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &Stream{w: w, last: map[string]int64{}, now: time.Now}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
		f.Flush()
	}
	return s
}

// Send writes e as one frame, stamping its time and clamping its byte counter.
func (s *Stream) Send(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return shared.ErrStreamClosed
	}

	if last := s.last[e.Phase]; e.Transferred < last {
		e.Transferred = last
	}
	s.last[e.Phase] = e.Transferred
	if e.Time.IsZero() {
		e.Time = s.now()
	}

	if err := writeFrame(s.w, e); err != nil {
		s.closed = true
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}

	if e.Type.Terminal() {
		s.closed = true
	}
	return nil
}

// Report adapts Send to a [Reporter], dropping write errors.
func (s *Stream) Report(e Event) {
	_ = s.Send(e)
}

// Close ends the stream. A stream closed before any terminal event emits an error event first.
func (s *Stream) Close() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return nil
	}
	return s.Send(Event{Type: TypeError, Error: "stream closed before completion"})
}

// Closed reports whether a terminal event has been written.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func writeFrame(w io.Writer, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}
