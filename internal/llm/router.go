// Package llm routes agent chat-completion requests to configured providers.
//
// The agent addresses models as "provider/model". The router resolves that
// identifier against the routing table, forwards the request to the
// provider's chat-completions endpoint with the provider's credential, and
// returns the upstream response verbatim. Upstream errors are passed through
// as the completion response; they never fail the host process.
package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/autominion/minion/internal/log"
)

// Provider holds the routing target for one LLM provider.
type Provider struct {
	// Endpoint is the provider's chat-completions URL.
	Endpoint string
	// APIKey is the bearer credential for the provider.
	APIKey string
}

// RouterTable maps provider tags to their endpoints and credentials.
// Built once from configuration before a run starts; immutable thereafter.
type RouterTable struct {
	// Default is the provider tag used when a model identifier carries no
	// known provider prefix.
	Default string
	// Providers maps case-sensitive provider tags to details.
	Providers map[string]Provider
}

// ErrNoProvider is returned when neither the model prefix nor the default
// tag names a configured provider.
var ErrNoProvider = errors.New("no configured provider for model")

// Resolve maps a "provider/model" identifier to a provider and the model
// name to forward. If the part before the first slash names a configured
// provider, that provider is selected and the prefix stripped; otherwise the
// whole identifier is treated as a model name for the default provider.
func (t RouterTable) Resolve(model string) (Provider, string, error) {
	if prefix, rest, ok := strings.Cut(model, "/"); ok {
		if p, found := t.Providers[prefix]; found {
			return p, rest, nil
		}
	}
	p, found := t.Providers[t.Default]
	if !found {
		return Provider{}, "", fmt.Errorf("%w: %q", ErrNoProvider, model)
	}
	return p, model, nil
}

// Interaction is one recorded request/response pair.
type Interaction struct {
	Provider string
	Model    string
	Status   int
	Request  []byte
	Response []byte
	Duration time.Duration
}

// Recorder persists proxied interactions for later inspection.
type Recorder interface {
	Record(Interaction) error
}

// Router forwards chat-completion requests per the routing table.
type Router struct {
	table    RouterTable
	client   *http.Client
	recorder Recorder
}

// NewRouter creates a Router. recorder may be nil to disable recording.
func NewRouter(table RouterTable, recorder Recorder) *Router {
	return &Router{
		table:    table,
		client:   &http.Client{},
		recorder: recorder,
	}
}

// ServeHTTP handles a chat-completion request from the agent.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		http.Error(w, "request body is not a JSON object", http.StatusBadRequest)
		return
	}
	var model string
	if raw, ok := fields["model"]; ok {
		_ = json.Unmarshal(raw, &model)
	}

	provider, forwardModel, err := r.table.Resolve(model)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tag := providerTag(r.table, provider)
	if forwardModel != model {
		renamed, err := json.Marshal(forwardModel)
		if err == nil {
			fields["model"] = renamed
			if body, err = json.Marshal(fields); err != nil {
				http.Error(w, "re-encoding request", http.StatusInternalServerError)
				return
			}
		}
	}

	upstream, err := http.NewRequestWithContext(req.Context(), http.MethodPost, provider.Endpoint, bytes.NewReader(body))
	if err != nil {
		http.Error(w, "building upstream request", http.StatusInternalServerError)
		return
	}
	upstream.Header.Set("Content-Type", "application/json")
	upstream.Header.Set("Authorization", "Bearer "+provider.APIKey)

	start := time.Now()
	resp, err := r.client.Do(upstream)
	if err != nil {
		log.Warn("upstream provider unreachable", "provider", tag, "error", err)
		http.Error(w, "upstream provider unreachable: "+err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, "reading upstream response", http.StatusBadGateway)
		return
	}

	r.record(Interaction{
		Provider: tag,
		Model:    forwardModel,
		Status:   resp.StatusCode,
		Request:  body,
		Response: respBody,
		Duration: time.Since(start),
	})

	// Pass the upstream status and body through verbatim, including provider
	// error payloads.
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

func (r *Router) record(in Interaction) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Record(in); err != nil {
		log.Warn("recording llm interaction", "error", err)
	}
}

// providerTag reverse-maps a provider back to its tag for logging and
// recording. Tables are small, so a scan is fine.
func providerTag(t RouterTable, p Provider) string {
	for tag, candidate := range t.Providers {
		if candidate == p {
			return tag
		}
	}
	return t.Default
}
