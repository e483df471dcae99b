package event

import (
	"encoding/json"
	"fmt"
)

// frame is the NDJSON wire representation shared by the pipe-in and pipe-out
// protocols. One frame per line.
type frame struct {
	Type      string         `json:"type"`
	Content   any            `json:"content,omitempty"`
	Timestamp float64        `json:"timestamp,omitempty"`
	Priority  string         `json:"priority,omitempty"`
	Source    string         `json:"source,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// directOutputSpec is the nested content of a "direct_output" frame: an
// output event description injected from outside the decision layer.
type directOutputSpec struct {
	EventType string         `json:"event_type"`
	Content   any            `json:"content,omitempty"`
	Priority  string         `json:"priority,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DecodeFrame parses one pipe-in NDJSON line into an input event.
//
// The special type "direct_output" wraps an output spec in content; the
// resulting event carries the fully-built output Event as its Content so the
// decision layer only has to unwrap it.
func DecodeFrame(line []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(line, &f); err != nil {
		return Event{}, fmt.Errorf("event: decode frame: %w", err)
	}

	kind, err := ParseInputKind(f.Type)
	if err != nil {
		return Event{}, err
	}

	prio, err := ParsePriority(f.Priority)
	if err != nil {
		return Event{}, err
	}

	opts := []Option{WithPriority(prio)}
	if f.Metadata != nil {
		opts = append(opts, WithMetadata(f.Metadata))
	}
	if f.Source != "" {
		opts = append(opts, WithSource(f.Source))
	}

	if kind == InputDirectOutput {
		inner, err := decodeDirectOutput(f.Content)
		if err != nil {
			return Event{}, err
		}
		return NewInput(InputDirectOutput, inner, opts...), nil
	}
	return NewInput(kind, f.Content, opts...), nil
}

// decodeDirectOutput rebuilds the wrapped output event from the raw content
// of a direct_output frame.
func decodeDirectOutput(content any) (Event, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return Event{}, fmt.Errorf("event: direct_output content: %w", err)
	}
	var spec directOutputSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return Event{}, fmt.Errorf("event: direct_output content: %w", err)
	}

	kind, err := ParseOutputKind(spec.EventType)
	if err != nil {
		return Event{}, err
	}
	prio, err := ParsePriority(spec.Priority)
	if err != nil {
		return Event{}, err
	}

	opts := []Option{WithPriority(prio)}
	if spec.Metadata != nil {
		opts = append(opts, WithMetadata(spec.Metadata))
	}
	return NewOutput(kind, spec.Content, opts...), nil
}

// EncodeFrame serialises ev as one pipe-out NDJSON line, without a trailing
// newline. Payload structs (HistoryEntry, MemoryFact, nested Events) encode
// through their JSON tags.
func EncodeFrame(ev Event) ([]byte, error) {
	f := frame{
		Type:      ev.Kind(),
		Content:   ev.Content,
		Timestamp: ev.Timestamp,
		Priority:  ev.Priority.String(),
		Source:    ev.Source,
		Metadata:  ev.Metadata,
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("event: encode frame: %w", err)
	}
	return b, nil
}
