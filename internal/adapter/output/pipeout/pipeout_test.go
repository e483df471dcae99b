package pipeout

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/pkg/event"
)

func newTestWriter(t *testing.T, cfg map[string]any) (*Writer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.pipe")
	if cfg == nil {
		cfg = map[string]any{}
	}
	cfg["path"] = path
	a, err := New(cfg, adapter.Env{Log: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a.(*Writer), path
}

func TestWriter_MirrorsFrames(t *testing.T) {
	t.Parallel()

	w, path := newTestWriter(t, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	r, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	if !w.Offer(event.NewOutput(event.OutputSpeak, "pronto",
		event.WithPriority(event.PriorityHigh), event.WithSource("brain"))) {
		t.Fatal("offer rejected")
	}

	// A FIFO read with no writer attached yet reports EOF, which a single
	// bufio.Scanner treats as terminal; retry with a fresh scanner until the
	// frame arrives.
	var line []byte
	deadline := time.Now().Add(3 * time.Second)
	for {
		sc := bufio.NewScanner(r)
		if sc.Scan() {
			line = sc.Bytes()
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no frame on pipe")
		}
		time.Sleep(10 * time.Millisecond)
	}

	var frame struct {
		Type     string `json:"type"`
		Content  string `json:"content"`
		Priority string `json:"priority"`
		Source   string `json:"source"`
	}
	if err := json.Unmarshal(line, &frame); err != nil {
		t.Fatalf("unmarshal %q: %v", line, err)
	}
	if frame.Type != "speak" || frame.Content != "pronto" {
		t.Errorf("frame: %+v", frame)
	}
	if frame.Priority != "HIGH" || frame.Source != "brain" {
		t.Errorf("frame priority/source: %+v", frame)
	}
}

func TestWriter_NoReaderDropsSilently(t *testing.T) {
	t.Parallel()

	w, path := newTestWriter(t, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	w.Offer(event.NewOutput(event.OutputSpeak, "nessuno ascolta"))

	// The frame is gone; a reader attached later sees a quiet pipe and the
	// next frame still comes through.
	time.Sleep(100 * time.Millisecond)
	r, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	w.Offer(event.NewOutput(event.OutputSpeak, "ora sì"))
	// Same EOF-retry dance as above: scanners are single-use after EOF.
	var line []byte
	deadline := time.Now().Add(3 * time.Second)
	for {
		sc := bufio.NewScanner(r)
		if sc.Scan() {
			line = sc.Bytes()
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no frame on pipe")
		}
		time.Sleep(10 * time.Millisecond)
	}
	var frame struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(line, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Content != "ora sì" {
		t.Errorf("content: %q", frame.Content)
	}
}

func TestNew_KindFilter(t *testing.T) {
	t.Parallel()

	w, _ := newTestWriter(t, map[string]any{"kinds": []any{"speak", "light_on"}})
	got := w.Kinds()
	if len(got) != 2 || got[0] != event.OutputSpeak || got[1] != event.OutputLightOn {
		t.Errorf("kinds: %v", got)
	}

	if _, err := New(map[string]any{"kinds": []any{"teleport"}},
		adapter.Env{Log: slog.New(slog.DiscardHandler)}); err == nil {
		t.Error("unknown kind accepted")
	}
}
