// Package providers validates API keys against upstream model providers and
// builds the environment the local proxy needs for each of them.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// UserAgent is sent on every validation request.
const UserAgent = "Claude-Throne-Secrets-Daemon/0.1.0"

// DefaultTimeout bounds a single validation call.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is echoed back
const maxErrorBody = 4 * 1024

// Result is the outcome of validating a key.
type Result struct {
	Success        bool
	ErrorMessage   string
	ProviderStatus string
}

// Adapter validates keys for one provider.
type Adapter interface {
	ID() string
	Name() string
	BaseURL() string
	Validate(ctx context.Context, apiKey string) Result
}

// Definition describes an OpenAI-compatible provider.
type Definition struct {
	ID      string
	Name    string
	BaseURL string

	// ModelsPaths are tried in order. With more than one path, a 404 or a
	// transport error moves on to the next path.
	ModelsPaths []string

	// Headers are sent in addition to the standard ones.
	Headers map[string]string

	InvalidKeyMessage string
	RateLimitMessage  string
	TimeoutMessage    string

	// RawRateLimit reports a 429 as status and body instead of RateLimitMessage.
	RawRateLimit bool
}

// OpenAICompatible validates a key by listing models.
type OpenAICompatible struct {
	def    Definition
	client *http.Client
}

// NewOpenAICompatible creates an adapter. A nil client gets one with DefaultTimeout.
func NewOpenAICompatible(def Definition, client *http.Client) *OpenAICompatible {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if def.RateLimitMessage == "" {
		def.RateLimitMessage = "Rate limited. Please try again in a moment."
	}
	if def.TimeoutMessage == "" {
		def.TimeoutMessage = "Request timed out. Check your internet connection."
	}
	if def.InvalidKeyMessage == "" {
		def.InvalidKeyMessage = "Invalid API key"
	}
	def.BaseURL = strings.TrimRight(def.BaseURL, "/")
	return &OpenAICompatible{def: def, client: client}
}

func (a *OpenAICompatible) ID() string      { return a.def.ID }
func (a *OpenAICompatible) Name() string    { return a.def.Name }
func (a *OpenAICompatible) BaseURL() string { return a.def.BaseURL }

// WithBaseURL returns a copy of the adapter pointed at another base URL.
func (a *OpenAICompatible) WithBaseURL(baseURL string) *OpenAICompatible {
	def := a.def
	def.BaseURL = strings.TrimRight(baseURL, "/")
	return &OpenAICompatible{def: def, client: a.client}
}

type modelsResponse struct {
	Data []json.RawMessage `json:"data"`
}

// Validate implements Adapter.
func (a *OpenAICompatible) Validate(ctx context.Context, apiKey string) Result {
	probing := len(a.def.ModelsPaths) > 1

	for _, path := range a.def.ModelsPaths {
		resp, err := a.get(ctx, a.def.BaseURL+path, apiKey)
		if err != nil {
			if probing && ctx.Err() == nil {
				continue
			}
			if isTimeout(err) {
				return Result{ErrorMessage: a.def.TimeoutMessage}
			}
			return Result{ErrorMessage: fmt.Sprintf("Connection failed: %v", err)}
		}

		res, next := a.interpret(resp)
		resp.Body.Close()
		if next && probing {
			continue
		}
		return res
	}

	if probing {
		return Result{ErrorMessage: "No valid models endpoint found. Ensure your provider is OpenAI-compatible."}
	}
	return Result{ErrorMessage: "No models endpoint configured"}
}

func (a *OpenAICompatible) get(ctx context.Context, url, apiKey string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	for k, v := range a.def.Headers {
		req.Header.Set(k, v)
	}
	return a.client.Do(req)
}

// interpret maps a models response to a Result. next reports a 404, which
// lets a probing adapter try its next path.
func (a *OpenAICompatible) interpret(resp *http.Response) (res Result, next bool) {
	switch resp.StatusCode {
	case http.StatusOK:
		var body modelsResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return Result{ErrorMessage: fmt.Sprintf("Invalid models response: %v", err)}, false
		}
		return Result{
			Success:        true,
			ProviderStatus: fmt.Sprintf("OK - %d models available", len(body.Data)),
		}, false
	case http.StatusUnauthorized:
		return Result{ErrorMessage: a.def.InvalidKeyMessage}, false
	case http.StatusTooManyRequests:
		if a.def.RawRateLimit {
			return statusResult(resp), false
		}
		return Result{ErrorMessage: a.def.RateLimitMessage}, false
	case http.StatusNotFound:
		return statusResult(resp), true
	default:
		return statusResult(resp), false
	}
}

func statusResult(resp *http.Response) Result {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return Result{ErrorMessage: fmt.Sprintf("API returned status %d: %s", resp.StatusCode, body)}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// SafeValidate runs a.Validate and turns a panic into a failed Result.
func SafeValidate(ctx context.Context, a Adapter, apiKey string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{ErrorMessage: fmt.Sprintf("Test failed: %v", r)}
		}
	}()
	return a.Validate(ctx, apiKey)
}
