// Package pipein implements the pipe input adapter. It reads newline-delimited
// JSON frames from a named FIFO and publishes each one as a typed input event.
// Malformed frames and unknown kinds are logged and dropped.
package pipein

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/pkg/event"
)

const (
	defaultName = "in.pipe"
	maxLine     = 1 << 20
	joinTimeout = 3 * time.Second
)

// Reader is the pipe input adapter.
type Reader struct {
	log  *slog.Logger
	pub  adapter.Publisher
	path string

	pipe   *os.File
	cancel context.CancelFunc
	done   chan struct{}
}

var _ adapter.InputAdapter = (*Reader)(nil)

// New builds a Reader from its adapter options. The only recognised option is
// "path"; by default the FIFO lives under the Buddy home directory.
func New(cfg map[string]any, env adapter.Env) (adapter.InputAdapter, error) {
	if env.Pub == nil {
		return nil, fmt.Errorf("pipein: a publisher is required")
	}
	return &Reader{
		log:  env.Log.With("adapter", "pipein"),
		pub:  env.Pub,
		path: adapter.OptString(cfg, "path", filepath.Join(env.Home, defaultName)),
		done: make(chan struct{}),
	}, nil
}

// Name implements [adapter.InputAdapter].
func (r *Reader) Name() string { return "pipein" }

// Start creates the FIFO if needed and launches the read loop. A path that
// exists but is not a FIFO is a construction-time failure.
func (r *Reader) Start(ctx context.Context) error {
	if err := EnsureFIFO(r.path); err != nil {
		return fmt.Errorf("pipein: %w", err)
	}
	// Opened read-write so the read side never sees EOF between writers, and
	// non-blocking so the runtime poller can interrupt reads on Close.
	pipe, err := os.OpenFile(r.path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return fmt.Errorf("pipein: open %s: %w", r.path, err)
	}
	r.pipe = pipe
	ctx, r.cancel = context.WithCancel(ctx)
	go r.run(ctx)
	return nil
}

// Stop closes the FIFO and joins the read loop.
func (r *Reader) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.pipe != nil {
		r.pipe.Close()
	}
	select {
	case <-r.done:
	case <-time.After(joinTimeout):
		r.log.Warn("read loop did not stop in time", "timeout", joinTimeout)
	}
	return nil
}

// HandleCommand implements [adapter.InputAdapter]. The pipe reader reacts to
// no adapter commands.
func (r *Reader) HandleCommand(adapter.Command) bool { return false }

func (r *Reader) run(ctx context.Context) {
	defer close(r.done)

	sc := bufio.NewScanner(r.pipe)
	sc.Buffer(make([]byte, 4096), maxLine)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := event.DecodeFrame(line)
		if err != nil {
			r.log.Warn("malformed frame dropped", "error", err)
			continue
		}
		r.log.Debug("frame received", "kind", ev.Kind(), "priority", ev.Priority)
		if !r.pub.Publish(ev) {
			r.log.Warn("input queue full, frame dropped", "kind", ev.Kind())
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, os.ErrClosed) {
		r.log.Error("pipe read failed", "error", err)
	}
}

// EnsureFIFO creates a FIFO at path, tolerating an existing one. An existing
// non-FIFO file at the path is an error.
func EnsureFIFO(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	err := syscall.Mkfifo(path, 0o644)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode()&fs.ModeNamedPipe == 0 {
		return fmt.Errorf("%s exists and is not a FIFO", path)
	}
	return nil
}
