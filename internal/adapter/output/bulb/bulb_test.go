package bulb

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/pkg/event"
)

// newGatewayServer runs a websocket endpoint that collects every received
// command.
func newGatewayServer(t *testing.T) (*httptest.Server, chan command) {
	t.Helper()
	received := make(chan command, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			var cmd command
			if err := wsjson.Read(r.Context(), conn, &cmd); err != nil {
				return
			}
			received <- cmd
		}
	}))
	t.Cleanup(srv.Close)
	return srv, received
}

func newTestGateway(t *testing.T, url string) *Gateway {
	t.Helper()
	a, err := New(map[string]any{"url": url}, adapter.Env{Log: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a.(*Gateway)
}

func TestApply_SendsLightCommands(t *testing.T) {
	t.Parallel()

	srv, received := newGatewayServer(t)
	g := newTestGateway(t, srv.URL)
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer g.Stop()

	g.Offer(event.NewOutput(event.OutputLightOn, event.LightTargetAll))
	g.Offer(event.NewOutput(event.OutputLightOff, event.LightTargetRoom))

	want := []command{
		{Device: "light", Target: "tutto", State: "on"},
		{Device: "light", Target: "stanza", State: "off"},
	}
	for _, w := range want {
		select {
		case got := <-received:
			if got != w {
				t.Errorf("command: %+v, want %+v", got, w)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("command %+v never arrived", w)
		}
	}
}

func TestApply_ReconnectsOnceOnDroppedConnection(t *testing.T) {
	t.Parallel()

	srv, received := newGatewayServer(t)
	g := newTestGateway(t, srv.URL)
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer g.Stop()

	// Drop the connection under the adapter's feet.
	g.mu.Lock()
	g.conn.CloseNow()
	g.mu.Unlock()

	g.Offer(event.NewOutput(event.OutputLightOn, event.LightTargetHall))
	select {
	case got := <-received:
		if got.Target != "ingresso" || got.State != "on" {
			t.Errorf("command: %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("command never arrived after reconnect")
	}
}

func TestApply_UnknownTargetIsError(t *testing.T) {
	t.Parallel()

	srv, _ := newGatewayServer(t)
	g := newTestGateway(t, srv.URL)
	if err := g.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer g.Stop()

	err := g.apply(context.Background(), event.NewOutput(event.OutputLightOn, "cantina"))
	if err == nil {
		t.Fatal("unknown target accepted")
	}
}

func TestStart_UnreachableGatewayFails(t *testing.T) {
	t.Parallel()

	g := newTestGateway(t, "http://127.0.0.1:1")
	if err := g.Start(context.Background()); err == nil {
		g.Stop()
		t.Fatal("unreachable gateway accepted")
	}
}

func TestNew_RequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, adapter.Env{Log: slog.New(slog.DiscardHandler)}); err == nil {
		t.Fatal("missing url accepted")
	}
}
