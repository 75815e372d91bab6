package assistant

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/codeopen/codeopen/internal/apperr"
	"github.com/codeopen/codeopen/internal/store"
)

// Event is one server-sent event from the assistant.
type Event struct {
	Type       string
	Properties json.RawMessage
}

// EventStream is a lazy sequence of assistant events. The channel closes when
// the downstream terminates or the stream is closed; Err reports why, nil
// meaning a clean end.
type EventStream struct {
	events chan Event
	cancel context.CancelFunc

	done chan struct{}
	err  error
}

// Events returns the event channel.
func (s *EventStream) Events() <-chan Event {
	return s.events
}

// Err returns the terminal error. Valid once the event channel has closed.
func (s *EventStream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close terminates the stream. Safe to call more than once.
func (s *EventStream) Close() {
	s.cancel()
}

// SubscribeEvents opens the assistant's SSE endpoint and bridges it to a
// channel. The stream ends when the downstream closes the connection or ctx
// is canceled; cancellation is a clean end, not an error.
func (p *Proxy) SubscribeEvents(ctx context.Context, projectID string) (*EventStream, error) {
	proj, err := p.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if proj.Status != store.StatusRunning {
		return nil, apperr.New(apperr.KindUnavailable, "project_not_running",
			"project %s is %s, not running", projectID, proj.Status)
	}
	c, err := p.clientFor(ctx, proj)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+"/event", nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The shared client enforces a request timeout, which would kill a
	// long-lived stream; use the bare transport instead.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, apperr.Wrap(ctx.Err(), apperr.KindTransport, "assistant_canceled",
				"event subscription canceled")
		}
		return nil, apperr.Wrap(err, apperr.KindUpstream, "assistant_unreachable", "subscribing to events")
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		cancel()
		return nil, statusError(resp.StatusCode, nil)
	}

	s := &EventStream{
		events: make(chan Event),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.pump(streamCtx, resp)
	return s, nil
}

// pump reads SSE frames and forwards them until the body ends or the stream
// is canceled.
func (s *EventStream) pump(ctx context.Context, resp *http.Response) {
	defer resp.Body.Close()
	defer close(s.done)
	defer close(s.events)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var eventType string
	var data strings.Builder
	flush := func() bool {
		if data.Len() == 0 {
			eventType = ""
			return true
		}
		ev := parseEvent(eventType, data.String())
		eventType = ""
		data.Reset()
		select {
		case s.events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if !flush() {
				return
			}
		case strings.HasPrefix(line, ":"):
			// comment/keepalive
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.err = apperr.Wrap(err, apperr.KindUpstream, "assistant_stream", "reading event stream")
	}
}

// parseEvent maps one SSE frame onto an Event. The assistant encodes the
// event type inside the JSON payload; an explicit SSE event field wins when
// present.
func parseEvent(eventType, data string) Event {
	ev := Event{Type: eventType, Properties: json.RawMessage(data)}
	var envelope struct {
		Type       string          `json:"type"`
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err == nil {
		if ev.Type == "" {
			ev.Type = envelope.Type
		}
		if len(envelope.Properties) > 0 {
			ev.Properties = envelope.Properties
		}
	}
	if ev.Type == "" {
		ev.Type = "message"
	}
	return ev
}
