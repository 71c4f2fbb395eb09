package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/desertthunder/mvx/internal/shared"
)

const maxFrameSize = 1 << 20

// RemoteError is a terminal error event received from the server.
type RemoteError struct {
	Event Event
}

func (e *RemoteError) Error() string {
	if e.Event.Error == "" {
		return "transfer failed"
	}
	return e.Event.Error
}

// Read parses frames from r, calling fn for each event, until a terminal event arrives.
//
// It returns the complete event on success, a [*RemoteError] for an error event, and
// [shared.ErrConnectionLost] when r ends or fails first.
func Read(ctx context.Context, r io.Reader, fn func(Event)) (Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	var (
		eventType string
		data      []string
	)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		line := scanner.Text()
		switch {
		case line == "":
			if len(data) == 0 {
				eventType = ""
				continue
			}
			e, err := decodeFrame(eventType, data)
			eventType, data = "", nil
			if err != nil {
				return Event{}, err
			}

			if fn != nil {
				fn(e)
			}
			switch e.Type {
			case TypeComplete:
				return e, nil
			case TypeError:
				return e, &RemoteError{Event: e}
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if err := scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("%w: %w", shared.ErrConnectionLost, err)
	}
	return Event{}, shared.ErrConnectionLost
}

func decodeFrame(eventType string, data []string) (Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(strings.Join(data, "\n")), &e); err != nil {
		return Event{}, fmt.Errorf("%w: malformed event: %w", shared.ErrInvalidInput, err)
	}
	if eventType != "" {
		e.Type = Type(eventType)
	}
	return e, nil
}

// Subscribe opens an SSE stream at url and reads it to its terminal event.
func Subscribe(ctx context.Context, client *http.Client, url string, fn func(Event)) (Event, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Event{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Event{}, err
		}
		return Event{}, fmt.Errorf("%w: %w", shared.ErrConnectionLost, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Event{}, fmt.Errorf("%w: status %d: %s", shared.ErrAPIRequest, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	return Read(ctx, resp.Body, fn)
}
