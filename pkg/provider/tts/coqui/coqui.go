// Package coqui provides a local Coqui TTS-backed provider that connects to
// a standard Coqui TTS server (ghcr.io/coqui-ai/tts-cpu) via its REST API.
// Synthesis is performed with one GET /api/tts call per utterance; the server
// answers with a complete WAV stream.
//
// Typical usage:
//
//	p := coqui.New("http://localhost:5002",
//	    coqui.WithLanguage("it"),
//	    coqui.WithTimeout(15*time.Second),
//	)
//	audio, err := p.Synthesize(ctx, "ciao")
package coqui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/buddy-assistant/buddy/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	apiTTSEndpoint = "/api/tts"
	defaultTimeout = 30 * time.Second
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the language ID sent to the TTS server for multilingual
// models (e.g. "it", "en"). Empty means the server's model default.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSpeaker sets the speaker ID for multi-speaker models.
func WithSpeaker(speaker string) Option {
	return func(p *Provider) { p.speaker = speaker }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements tts.Provider backed by a Coqui TTS HTTP server.
type Provider struct {
	serverURL  string
	language   string
	speaker    string
	httpClient *http.Client
}

// New creates a Provider targeting the Coqui server at serverURL (e.g.
// "http://localhost:5002").
func New(serverURL string, opts ...Option) *Provider {
	p := &Provider{
		serverURL:  serverURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("coqui: text must not be empty")
	}

	q := url.Values{}
	q.Set("text", text)
	if p.speaker != "" {
		q.Set("speaker_id", p.speaker)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}

	endpoint := p.serverURL + apiTTSEndpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: server returned HTTP %d", resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read audio body: %w", err)
	}
	if len(wav) == 0 {
		return nil, errors.New("coqui: server returned empty audio")
	}
	return wav, nil
}
