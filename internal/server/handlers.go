package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/illarion/ctsecretsd/internal/providers"
	"github.com/illarion/ctsecretsd/internal/state"
)

const maxBodyBytes = 64 * 1024

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func roundMS(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}

type healthResponse struct {
	Status    string  `json:"status"`
	Version   string  `json:"version"`
	Timestamp float64 `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: Version, Timestamp: unixSeconds(time.Now())})
}

type providerStatus struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	BaseURL    string   `json:"base_url"`
	HasKey     bool     `json:"has_key"`
	LastTested *float64 `json:"last_tested"`
}

type providersResponse struct {
	Providers []providerStatus `json:"providers"`
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := providersResponse{Providers: []providerStatus{}}
	withKeys := 0

	for _, a := range s.opts.Registry.All() {
		ps := providerStatus{
			ID:      a.ID(),
			Name:    a.Name(),
			BaseURL: a.BaseURL(),
			HasKey:  s.opts.Store.Has(ctx, a.ID()),
		}
		if ps.HasKey {
			withKeys++
		}
		if rec := s.lastTest(a.ID()); rec != nil {
			t := unixSeconds(rec.TestedAt)
			ps.LastTested = &t
		}
		resp.Providers = append(resp.Providers, ps)
	}

	s.logger.InfoContext(ctx, "listed providers",
		"provider_count", len(resp.Providers),
		"providers_with_keys", withKeys,
		"request_id", RequestID(ctx),
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) lastTest(id string) *state.TestRecord {
	if s.opts.State == nil {
		return nil
	}
	rec, err := s.opts.State.LastTest(id)
	if err != nil {
		s.logger.Warn("failed to read provider state", "provider_id", id, "error", err)
		return nil
	}
	return rec
}

// knownProvider writes a 404 and returns false for unknown ids
func (s *Server) knownProvider(w http.ResponseWriter, id string) bool {
	if !s.opts.Registry.Has(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Provider '%s' not found", id))
		return false
	}
	return true
}

type storeKeyRequest struct {
	APIKey   string            `json:"api_key"`
	Metadata map[string]string `json:"metadata"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleStoreKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if !s.knownProvider(w, id) {
		return
	}

	var req storeKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.APIKey == "" {
		writeError(w, http.StatusBadRequest, "api_key is required")
		return
	}

	if !s.opts.Store.Store(ctx, id, req.APIKey, req.Metadata) {
		s.logger.ErrorContext(ctx, "failed to store API key", "provider_id", id, "request_id", RequestID(ctx))
		writeError(w, http.StatusInternalServerError, "Failed to store API key securely")
		return
	}

	s.logger.InfoContext(ctx, "API key stored", "provider_id", id, "request_id", RequestID(ctx))
	writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("API key stored for %s", id)})
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if !s.knownProvider(w, id) {
		return
	}

	if !s.opts.Store.Delete(ctx, id) {
		s.logger.ErrorContext(ctx, "failed to delete API key", "provider_id", id, "request_id", RequestID(ctx))
		writeError(w, http.StatusInternalServerError, "Failed to delete API key")
		return
	}
	if s.opts.State != nil {
		if err := s.opts.State.Forget(id); err != nil {
			s.logger.Warn("failed to clear provider state", "provider_id", id, "error", err)
		}
	}

	s.logger.InfoContext(ctx, "API key deleted", "provider_id", id, "request_id", RequestID(ctx))
	writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("API key deleted for %s", id)})
}

type testResponse struct {
	Success        bool     `json:"success"`
	ErrorMessage   string   `json:"error_message,omitempty"`
	LatencyMS      *float64 `json:"latency_ms,omitempty"`
	ProviderStatus string   `json:"provider_status,omitempty"`
}

func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	if !s.knownProvider(w, id) {
		return
	}

	rec, ok := s.opts.Store.GetRecord(ctx, id)
	if !ok {
		writeJSON(w, http.StatusOK, testResponse{ErrorMessage: fmt.Sprintf("No API key stored for %s", id)})
		return
	}
	adapter, _ := s.opts.Registry.ForRecord(id, rec.Metadata)

	vctx, cancel := context.WithTimeout(ctx, s.opts.ValidationTimeout)
	defer cancel()

	start := time.Now()
	res := providers.SafeValidate(vctx, adapter, rec.APIKey)
	elapsed := time.Since(start)
	latency := roundMS(elapsed)

	s.logger.InfoContext(ctx, "provider test completed",
		"provider_id", id,
		"success", res.Success,
		"latency_ms", latency,
		"request_id", RequestID(ctx),
	)
	if s.metrics != nil {
		s.metrics.RecordValidation(id, res.Success, elapsed)
	}
	if s.opts.State != nil {
		err := s.opts.State.RecordTest(id, state.TestRecord{
			Success:   res.Success,
			LatencyMS: latency,
			TestedAt:  time.Now(),
			Status:    res.ProviderStatus,
		})
		if err != nil {
			s.logger.Warn("failed to record provider test", "provider_id", id, "error", err)
		}
	}

	resp := testResponse{Success: res.Success, LatencyMS: &latency, ProviderStatus: res.ProviderStatus}
	if !res.Success {
		resp.ErrorMessage = res.ErrorMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

type proxyStatusResponse struct {
	Running bool `json:"running"`
	Port    int  `json:"port,omitempty"`
	PID     int  `json:"pid,omitempty"`
}

func (s *Server) handleProxyStatus(w http.ResponseWriter, r *http.Request) {
	if info, ok := s.opts.Proxy.Info(); ok {
		writeJSON(w, http.StatusOK, proxyStatusResponse{Running: true, Port: info.Port, PID: info.PID})
		return
	}
	writeJSON(w, http.StatusOK, proxyStatusResponse{Running: false})
}

type proxyStartRequest struct {
	Provider       string `json:"provider"`
	CustomURL      string `json:"custom_url"`
	ReasoningModel string `json:"reasoning_model"`
	ExecutionModel string `json:"execution_model"`
	Port           *int   `json:"port"`
	Debug          bool   `json:"debug"`
}

func (s *Server) handleProxyStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req proxyStartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := req.Provider
	if !s.opts.Registry.Has(id) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown provider '%s'", id))
		return
	}
	port := s.opts.DefaultProxyPort
	if req.Port != nil {
		port = *req.Port
	}
	if port < 1 || port > 65535 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid port %d", port))
		return
	}

	rec, ok := s.opts.Store.GetRecord(ctx, id)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("No API key stored for provider '%s'", id))
		return
	}

	customURL := req.CustomURL
	if customURL == "" {
		customURL = rec.Metadata[providers.MetadataCustomURL]
	}
	env, err := providers.ProxyEnv(id, rec.APIKey, providers.ProxyRequest{
		Port:           port,
		CustomURL:      customURL,
		ReasoningModel: req.ReasoningModel,
		ExecutionModel: req.ExecutionModel,
		Debug:          req.Debug,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := s.opts.Proxy.Start(ctx, env, port)
	if s.metrics != nil {
		s.metrics.RecordProxyStart(id, err == nil)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "proxy start failed", "provider_id", id, "port", port, "error", err)
		msg := err.Error()
		if errors.Is(err, context.Canceled) {
			msg = "proxy start cancelled"
		} else if _, stderr := s.opts.Proxy.Output(); lastLine(stderr) != "" {
			msg += " (proxy stderr: " + lastLine(stderr) + ")"
		}
		writeError(w, http.StatusInternalServerError, msg)
		return
	}

	writeJSON(w, http.StatusOK, proxyStatusResponse{Running: true, Port: info.Port, PID: info.PID})
}

// lastLine returns the last non-empty line of s
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

type proxyStopResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleProxyStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, proxyStopResponse{Success: s.opts.Proxy.Stop()})
}
