// Package bulb implements the smart-bulb output adapter. It talks to the
// vendor gateway over a websocket, translating light_on/light_off events for
// the targets "stanza", "ingresso" and "tutto" into gateway commands. A
// transient send failure triggers exactly one reconnect-and-retry.
package bulb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/pkg/event"
)

const (
	queueSize   = 16
	dialTimeout = 5 * time.Second
	sendTimeout = 5 * time.Second
)

// command is one gateway frame.
type command struct {
	Device string `json:"device"`
	Target string `json:"target"`
	State  string `json:"state"`
}

var validTargets = map[string]bool{
	event.LightTargetRoom: true,
	event.LightTargetHall: true,
	event.LightTargetAll:  true,
}

// Gateway is the smart-bulb output adapter.
type Gateway struct {
	*adapter.Worker
	log *slog.Logger
	url string

	mu   sync.Mutex
	conn *websocket.Conn
}

var _ adapter.OutputAdapter = (*Gateway)(nil)

// New builds a Gateway from its adapter options. The "url" option is
// required: the websocket endpoint of the vendor gateway.
func New(cfg map[string]any, env adapter.Env) (adapter.OutputAdapter, error) {
	url, err := adapter.RequireString(cfg, "url")
	if err != nil {
		return nil, fmt.Errorf("bulb: %w", err)
	}
	g := &Gateway{
		log: env.Log.With("adapter", "bulb"),
		url: url,
	}
	g.Worker = adapter.NewWorker("bulb", queueSize, env.Log, g.apply)
	return g, nil
}

// Name implements [adapter.OutputAdapter].
func (g *Gateway) Name() string { return "bulb" }

// Kinds implements [adapter.OutputAdapter].
func (g *Gateway) Kinds() []event.OutputKind {
	return []event.OutputKind{event.OutputLightOn, event.OutputLightOff}
}

// Start connects to the gateway, then launches the drain loop. An unreachable
// gateway is a construction-time failure.
func (g *Gateway) Start(ctx context.Context) error {
	conn, err := g.dial(ctx)
	if err != nil {
		return fmt.Errorf("bulb: %w", err)
	}
	g.setConn(conn)
	return g.Worker.Start(ctx)
}

// Stop drains the worker and closes the gateway connection.
func (g *Gateway) Stop() error {
	err := g.Worker.Stop()
	g.mu.Lock()
	conn := g.conn
	g.conn = nil
	g.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "shutdown")
	}
	return err
}

// HandleCommand implements [adapter.OutputAdapter]. The gateway reacts to no
// adapter commands.
func (g *Gateway) HandleCommand(adapter.Command) bool { return false }

func (g *Gateway) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, g.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", g.url, err)
	}
	return conn, nil
}

func (g *Gateway) setConn(conn *websocket.Conn) {
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
}

// apply sends one light command, reconnecting once if the gateway dropped
// the connection in the meantime.
func (g *Gateway) apply(ctx context.Context, ev event.Event) error {
	target := ev.Text()
	if !validTargets[target] {
		return fmt.Errorf("unknown light target %q", ev.Content)
	}
	state := "on"
	if ev.Output == event.OutputLightOff {
		state = "off"
	}
	cmd := command{Device: "light", Target: target, State: state}

	if err := g.send(ctx, cmd); err != nil {
		g.log.Warn("gateway send failed, reconnecting", "error", err)
		conn, derr := g.dial(ctx)
		if derr != nil {
			return fmt.Errorf("reconnect: %w", derr)
		}
		g.setConn(conn)
		if err := g.send(ctx, cmd); err != nil {
			return fmt.Errorf("send after reconnect: %w", err)
		}
	}
	g.log.Info("light command sent", "target", target, "state", state)
	return nil
}

func (g *Gateway) send(ctx context.Context, cmd command) error {
	g.mu.Lock()
	conn := g.conn
	g.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, cmd)
}
