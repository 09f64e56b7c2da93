package providers

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported provider")
	ErrCustomURLRequired   = errors.New("custom_url is required for custom provider")
)

// ProxyRequest carries the caller's proxy settings.
type ProxyRequest struct {
	Port           int
	CustomURL      string
	ReasoningModel string
	ExecutionModel string
	Debug          bool
}

type proxyTarget struct {
	baseURL string
	keyEnv  string
}

// proxyTargets are the upstream URLs the proxy talks to. Groq's differs
// from its validation base URL.
var proxyTargets = map[string]proxyTarget{
	OpenRouter: {"https://openrouter.ai/api", "OPENROUTER_API_KEY"},
	OpenAI:     {"https://api.openai.com", "OPENAI_API_KEY"},
	Together:   {"https://api.together.xyz", "TOGETHER_API_KEY"},
	Groq:       {"https://api.groq.com/openai", "GROQ_API_KEY"},
	Custom:     {"", "CUSTOM_API_KEY"},
}

// KeyEnv returns the environment variable carrying id's API key.
func KeyEnv(id string) (string, bool) {
	t, ok := proxyTargets[id]
	return t.keyEnv, ok
}

// ProxyEnv builds the proxy environment for provider id.
func ProxyEnv(id, apiKey string, req ProxyRequest) (map[string]string, error) {
	target, ok := proxyTargets[id]
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUnsupportedProvider, id)
	}

	baseURL := target.baseURL
	if id == Custom {
		if req.CustomURL == "" {
			return nil, ErrCustomURLRequired
		}
		baseURL = req.CustomURL
	}

	env := map[string]string{
		"PORT":                     strconv.Itoa(req.Port),
		"ANTHROPIC_PROXY_BASE_URL": baseURL,
		target.keyEnv:              apiKey,
	}
	if req.ReasoningModel != "" {
		env["REASONING_MODEL"] = req.ReasoningModel
	}
	if req.ExecutionModel != "" {
		env["COMPLETION_MODEL"] = req.ExecutionModel
	}
	if req.Debug {
		env["DEBUG"] = "1"
	}
	return env, nil
}
