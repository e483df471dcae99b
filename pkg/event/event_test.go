package event

import (
	"testing"
	"time"
)

// ─── TestParsePriority ───────────────────────────────────────────────────────

func TestParsePriority(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		in      string
		want    Priority
		wantErr bool
	}{
		{"critical", "CRITICAL", PriorityCritical, false},
		{"high", "HIGH", PriorityHigh, false},
		{"normal", "NORMAL", PriorityNormal, false},
		{"low", "LOW", PriorityLow, false},
		{"empty defaults to normal", "", PriorityNormal, false},
		{"lowercase rejected", "high", PriorityNormal, true},
		{"garbage", "URGENT", PriorityNormal, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePriority(tc.in)
			if tc.wantErr != (err != nil) {
				t.Fatalf("ParsePriority(%q): err = %v, wantErr = %v", tc.in, err, tc.wantErr)
			}
			if err == nil && got != tc.want {
				t.Errorf("ParsePriority(%q): want %v, got %v", tc.in, tc.want, got)
			}
		})
	}
}

// ─── TestParseKinds ──────────────────────────────────────────────────────────

func TestParseKinds(t *testing.T) {
	t.Parallel()

	if _, err := ParseInputKind("user_speech"); err != nil {
		t.Errorf("ParseInputKind(user_speech): %v", err)
	}
	if _, err := ParseInputKind("speak"); err == nil {
		t.Error("ParseInputKind accepted an output kind")
	}
	if _, err := ParseOutputKind("speak"); err != nil {
		t.Errorf("ParseOutputKind(speak): %v", err)
	}
	if _, err := ParseOutputKind("wakeword"); err == nil {
		t.Error("ParseOutputKind accepted an input kind")
	}
}

// ─── TestConstructors ────────────────────────────────────────────────────────

func TestConstructors(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now
	now = func() time.Time { return fixed }
	defer func() { now = old }()

	ev := NewInput(InputUserSpeech, "ciao",
		WithPriority(PriorityHigh),
		WithSource("voice"),
		WithMeta("lang", "it"),
	)

	if !ev.IsInput() || ev.IsOutput() {
		t.Error("NewInput produced an event that is not input-only")
	}
	if ev.Kind() != "user_speech" {
		t.Errorf("Kind: want user_speech, got %s", ev.Kind())
	}
	if ev.Priority != PriorityHigh || ev.Source != "voice" {
		t.Errorf("options not applied: %+v", ev)
	}
	if ev.Text() != "ciao" {
		t.Errorf("Text: want ciao, got %q", ev.Text())
	}
	if want := float64(fixed.UnixNano()) / 1e9; ev.Timestamp != want {
		t.Errorf("Timestamp: want %v, got %v", want, ev.Timestamp)
	}
	if ev.MetaString("lang") != "it" {
		t.Errorf("MetaString(lang): want it, got %q", ev.MetaString("lang"))
	}

	out := NewOutput(OutputSpeak, "hello")
	if !out.IsOutput() || out.Priority != PriorityNormal {
		t.Errorf("NewOutput defaults wrong: %+v", out)
	}
}

// ─── TestMetaAccessors ───────────────────────────────────────────────────────

func TestMetaAccessors(t *testing.T) {
	t.Parallel()

	ev := NewOutput(OutputLedControl, nil, WithMetadata(map[string]any{
		MetaLed:        LedListening,
		MetaLedCommand: LedCommandBlink,
		MetaContinuous: true,
		MetaOnTime:     0.5,
		MetaTimes:      3, // ints widen to float
	}))

	if ev.MetaString(MetaLed) != LedListening {
		t.Errorf("MetaString(led): got %q", ev.MetaString(MetaLed))
	}
	if !ev.MetaBool(MetaContinuous) {
		t.Error("MetaBool(continuous): want true")
	}
	if ev.MetaFloat(MetaOnTime) != 0.5 {
		t.Errorf("MetaFloat(on_time): got %v", ev.MetaFloat(MetaOnTime))
	}
	if ev.MetaFloat(MetaTimes) != 3 {
		t.Errorf("MetaFloat(times): got %v", ev.MetaFloat(MetaTimes))
	}
	if ev.MetaFloat("missing") != 0 || ev.MetaString("missing") != "" || ev.MetaBool("missing") {
		t.Error("missing keys must yield zero values")
	}
}
