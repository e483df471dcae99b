package adapter

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/buddy-assistant/buddy/internal/audiodev"
	"github.com/buddy-assistant/buddy/internal/state"
	"github.com/buddy-assistant/buddy/pkg/memory"
	"github.com/buddy-assistant/buddy/pkg/provider/embeddings"
	"github.com/buddy-assistant/buddy/pkg/provider/llm"
	"github.com/buddy-assistant/buddy/pkg/provider/stt"
	"github.com/buddy-assistant/buddy/pkg/provider/tts"
)

// Env bundles the shared dependencies handed to every adapter factory.
// Adapters pick what they need; a factory that requires a dependency left nil
// fails construction.
type Env struct {
	Log   *slog.Logger
	Pub   Publisher
	State *state.Global
	Audio *audiodev.Coordinator

	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider

	History memory.HistoryStore
	Facts   memory.FactStore

	// SessionID reports the decision layer's current chat session, so the
	// persistence adapter can tag history rows with it.
	SessionID func() string

	// Home is the root for resolving relative paths in adapter config.
	Home string
}

// ErrClassNotRegistered is returned when configuration names an adapter class
// no factory has been registered for.
var ErrClassNotRegistered = errors.New("adapter: class not registered")

// InputFactory builds an input adapter from its per-instance config.
type InputFactory func(cfg map[string]any, env Env) (InputAdapter, error)

// OutputFactory builds an output adapter from its per-instance config.
type OutputFactory func(cfg map[string]any, env Env) (OutputAdapter, error)

// Registry maps adapter class names to their factories. Safe for concurrent
// use.
type Registry struct {
	mu     sync.RWMutex
	input  map[string]InputFactory
	output map[string]OutputFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		input:  make(map[string]InputFactory),
		output: make(map[string]OutputFactory),
	}
}

// RegisterInput registers an input adapter factory under class. Subsequent
// calls with the same class overwrite the previous registration.
func (r *Registry) RegisterInput(class string, factory InputFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.input[class] = factory
}

// RegisterOutput registers an output adapter factory under class.
func (r *Registry) RegisterOutput(class string, factory OutputFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output[class] = factory
}

// CreateInput instantiates the input adapter registered under class.
// Returns [ErrClassNotRegistered] for unknown classes.
func (r *Registry) CreateInput(class string, cfg map[string]any, env Env) (InputAdapter, error) {
	r.mu.RLock()
	factory, ok := r.input[class]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: input/%q", ErrClassNotRegistered, class)
	}
	return factory(cfg, env)
}

// CreateOutput instantiates the output adapter registered under class.
func (r *Registry) CreateOutput(class string, cfg map[string]any, env Env) (OutputAdapter, error) {
	r.mu.RLock()
	factory, ok := r.output[class]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: output/%q", ErrClassNotRegistered, class)
	}
	return factory(cfg, env)
}
