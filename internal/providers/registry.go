package providers

import (
	"net/http"
)

// Provider ids
const (
	OpenRouter = "openrouter"
	OpenAI     = "openai"
	Together   = "together"
	Groq       = "groq"
	Custom     = "custom"
)

// MetadataCustomURL is the metadata key holding a custom provider's base URL.
const MetadataCustomURL = "custom_url"

// BuiltinDefinitions returns the known providers in display order.
func BuiltinDefinitions() []Definition {
	return []Definition{
		{
			ID:          OpenRouter,
			Name:        "OpenRouter",
			BaseURL:     "https://openrouter.ai/api",
			ModelsPaths: []string{"/v1/models"},
			Headers: map[string]string{
				"HTTP-Referer": "https://github.com/KHAEntertainment/claude-throne",
				"X-Title":      "Claude-Throne",
			},
			InvalidKeyMessage: "Invalid API key. Get your key at: https://openrouter.ai/keys",
		},
		{
			ID:                OpenAI,
			Name:              "OpenAI",
			BaseURL:           "https://api.openai.com",
			ModelsPaths:       []string{"/v1/models"},
			InvalidKeyMessage: "Invalid API key. Get your key at: https://platform.openai.com/api-keys",
			RateLimitMessage:  "Rate limited or quota exceeded. Check your OpenAI billing.",
		},
		{
			ID:                Together,
			Name:              "Together AI",
			BaseURL:           "https://api.together.xyz",
			ModelsPaths:       []string{"/v1/models"},
			InvalidKeyMessage: "Invalid API key. Get your key at: https://api.together.xyz/settings/api-keys",
		},
		{
			ID:                Groq,
			Name:              "Groq",
			BaseURL:           "https://api.groq.com",
			ModelsPaths:       []string{"/openai/v1/models"},
			InvalidKeyMessage: "Invalid API key. Get your key at: https://console.groq.com/keys",
		},
		{
			ID:                Custom,
			Name:              "Custom Provider",
			BaseURL:           "https://api.example.com",
			ModelsPaths:       []string{"/v1/models", "/models", "/openai/v1/models"},
			InvalidKeyMessage: "Invalid API key for custom provider",
			TimeoutMessage:    "Request timed out. Check your internet connection and provider URL.",
			RawRateLimit:      true,
		},
	}
}

// Registry is the ordered set of supported providers.
type Registry struct {
	order    []string
	adapters map[string]Adapter
}

// NewRegistry builds a registry from adapters, keeping their order. A later
// adapter with the same id replaces the earlier one in place.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, ok := r.adapters[a.ID()]; !ok {
			r.order = append(r.order, a.ID())
		}
		r.adapters[a.ID()] = a
	}
	return r
}

// DefaultRegistry builds the built-in providers sharing client.
func DefaultRegistry(client *http.Client) *Registry {
	defs := BuiltinDefinitions()
	adapters := make([]Adapter, 0, len(defs))
	for _, def := range defs {
		adapters = append(adapters, NewOpenAICompatible(def, client))
	}
	return NewRegistry(adapters...)
}

// Get returns the adapter for id.
func (r *Registry) Get(id string) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// Has reports whether id is a known provider.
func (r *Registry) Has(id string) bool {
	_, ok := r.adapters[id]
	return ok
}

// IDs returns provider ids in registry order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// All returns adapters in registry order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.adapters[id])
	}
	return out
}

// ForRecord returns the adapter for id, pointed at the custom base URL from
// metadata when the provider supports one.
func (r *Registry) ForRecord(id string, metadata map[string]string) (Adapter, bool) {
	a, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	url := metadata[MetadataCustomURL]
	if id != Custom || url == "" {
		return a, true
	}
	if oc, ok := a.(*OpenAICompatible); ok {
		return oc.WithBaseURL(url), true
	}
	return a, true
}
