// Package pipeout implements the pipe output adapter. Every routed event
// matching its configured kind filter is serialised as one NDJSON line and
// written non-blocking to a named FIFO. With no reader attached the frame is
// dropped silently.
package pipeout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/internal/adapter/input/pipein"
	"github.com/buddy-assistant/buddy/pkg/event"
)

const (
	defaultName = "out.pipe"
	queueSize   = 64
)

// allKinds is the default filter: mirror everything.
var allKinds = []event.OutputKind{
	event.OutputSpeak, event.OutputLedControl, event.OutputSaveHistory,
	event.OutputSaveMemory, event.OutputDistillMemory,
	event.OutputLightOn, event.OutputLightOff,
}

// Writer is the pipe output adapter.
type Writer struct {
	*adapter.Worker
	log   *slog.Logger
	path  string
	kinds []event.OutputKind
}

var _ adapter.OutputAdapter = (*Writer)(nil)

// New builds a Writer from its adapter options. Recognised options: "path"
// (FIFO location, default under the Buddy home directory) and "kinds" (list
// of output kind names to mirror, default all).
func New(cfg map[string]any, env adapter.Env) (adapter.OutputAdapter, error) {
	w := &Writer{
		log:  env.Log.With("adapter", "pipeout"),
		path: adapter.OptString(cfg, "path", filepath.Join(env.Home, defaultName)),
	}

	names, err := adapter.OptStrings(cfg, "kinds")
	if err != nil {
		return nil, fmt.Errorf("pipeout: %w", err)
	}
	if len(names) == 0 {
		w.kinds = allKinds
	} else {
		for _, name := range names {
			kind, err := event.ParseOutputKind(name)
			if err != nil {
				return nil, fmt.Errorf("pipeout: %w", err)
			}
			w.kinds = append(w.kinds, kind)
		}
	}

	w.Worker = adapter.NewWorker("pipeout", queueSize, env.Log, w.write)
	return w, nil
}

// Name implements [adapter.OutputAdapter].
func (w *Writer) Name() string { return "pipeout" }

// Kinds lists the output kinds configured for mirroring.
func (w *Writer) Kinds() []event.OutputKind { return w.kinds }

// Start creates the FIFO if needed and launches the drain loop.
func (w *Writer) Start(ctx context.Context) error {
	if err := pipein.EnsureFIFO(w.path); err != nil {
		return fmt.Errorf("pipeout: %w", err)
	}
	return w.Worker.Start(ctx)
}

// HandleCommand implements [adapter.OutputAdapter]. The pipe writer reacts to
// no adapter commands.
func (w *Writer) HandleCommand(adapter.Command) bool { return false }

// write serialises one event to the FIFO. The write side is opened per event
// in non-blocking mode: ENXIO means no reader is attached, which is the
// normal idle condition and drops the frame without noise.
func (w *Writer) write(_ context.Context, ev event.Event) error {
	line, err := event.EncodeFrame(ev)
	if err != nil {
		return err
	}

	pipe, err := os.OpenFile(w.path, os.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, syscall.ENXIO) {
			return nil
		}
		return fmt.Errorf("open %s: %w", w.path, err)
	}
	defer pipe.Close()

	if _, err := pipe.Write(append(line, '\n')); err != nil {
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EPIPE) {
			w.log.Debug("pipe full or reader gone, frame dropped", "kind", ev.Kind())
			return nil
		}
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	return nil
}
