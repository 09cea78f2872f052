package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// EventKind is the first element of a json-stream line
type EventKind string

const (
	EventStart EventKind = "start"
	EventPass  EventKind = "pass"
	EventFail  EventKind = "fail"
	EventEnd   EventKind = "end"
)

// Event is one decoded reporter event
type Event struct {
	Kind      EventKind
	Title     string
	FullTitle string
	File      string
	Duration  *int64
	Err       string
	Stack     string
	// Total is set on start events
	Total int
	// Stats is set on end events
	Stats *Stats
}

// Stats is the payload of the end event
type Stats struct {
	Suites   int    `json:"suites"`
	Tests    int    `json:"tests"`
	Passes   int    `json:"passes"`
	Pending  int    `json:"pending"`
	Failures int    `json:"failures"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Duration int64  `json:"duration"`
}

type testPayload struct {
	Title     string `json:"title"`
	FullTitle string `json:"fullTitle"`
	File      string `json:"file"`
	Duration  *int64 `json:"duration"`
	Err       string `json:"err"`
	Stack     string `json:"stack"`
}

// MochaJSONStreamParser decodes the output of mocha's json-stream reporter
type MochaJSONStreamParser struct{}

// NewMochaJSONStreamParser creates a new MochaJSONStreamParser
func NewMochaJSONStreamParser() *MochaJSONStreamParser {
	return &MochaJSONStreamParser{}
}

// ParseLine returns false for anything that is not a reporter event, such as console output of the tests
func (p *MochaJSONStreamParser) ParseLine(line string) (*Event, bool) {
	trimmed := bytes.TrimSpace([]byte(line))
	if len(trimmed) < 2 || trimmed[0] != '[' {
		return nil, false
	}
	event, err := decode(trimmed)
	if err != nil {
		return nil, false
	}
	return event, true
}

func decode(data []byte) (*Event, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if len(raw) != 2 {
		return nil, fmt.Errorf("expected [kind, payload], got %d elements", len(raw))
	}
	var kind EventKind
	if err := json.Unmarshal(raw[0], &kind); err != nil {
		return nil, fmt.Errorf("event kind: %w", err)
	}

	event := &Event{Kind: kind}
	switch kind {
	case EventStart:
		var payload struct {
			Total int `json:"total"`
		}
		if err := json.Unmarshal(raw[1], &payload); err != nil {
			return nil, fmt.Errorf("start payload: %w", err)
		}
		event.Total = payload.Total
	case EventPass, EventFail:
		var payload testPayload
		if err := json.Unmarshal(raw[1], &payload); err != nil {
			return nil, fmt.Errorf("%s payload: %w", kind, err)
		}
		event.Title = payload.Title
		event.FullTitle = payload.FullTitle
		event.File = payload.File
		event.Duration = payload.Duration
		event.Err = payload.Err
		event.Stack = payload.Stack
	case EventEnd:
		var stats Stats
		if err := json.Unmarshal(raw[1], &stats); err != nil {
			return nil, fmt.Errorf("end payload: %w", err)
		}
		event.Stats = &stats
	default:
		return nil, fmt.Errorf("unknown event %q", kind)
	}
	return event, nil
}

// IsHook reports whether a failure belongs to a before/after hook rather than a test
func (e *Event) IsHook() bool {
	return strings.HasPrefix(e.Title, `"before `) || strings.HasPrefix(e.Title, `"after `)
}
