package generators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/taskmesh/taskmesh/pkg/interfaces"
	"github.com/taskmesh/taskmesh/pkg/logger"
)

const defaultAPITimeout = 120 * time.Second

// APIGenerator calls a JSON-over-HTTP generation endpoint
type APIGenerator struct {
	endpoint string
	model    string
	client   *http.Client
	logger   logger.Logger
}

// NewAPIGenerator creates an HTTP API backed generator
func NewAPIGenerator(endpoint, model string, log logger.Logger) *APIGenerator {
	return &APIGenerator{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: defaultAPITimeout},
		logger:   log,
	}
}

// Name returns the backend name
func (g *APIGenerator) Name() string { return "httpapi" }

// IsAvailable reports whether the endpoint is configured
func (g *APIGenerator) IsAvailable() bool { return g.endpoint != "" }

type apiRequest struct {
	Model     string `json:"model,omitempty"`
	Prompt    string `json:"prompt"`
	System    string `json:"system,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

type apiResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Generate performs one generation call
func (g *APIGenerator) Generate(ctx context.Context, req *interfaces.GenerateRequest) (*interfaces.GenerateResult, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}

	body, err := json.Marshal(apiRequest{
		Model:     model,
		Prompt:    req.Prompt,
		System:    req.SystemPrompt,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read generation response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generation endpoint returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed apiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse generation response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("generation endpoint error: %s", parsed.Error)
	}

	return &interfaces.GenerateResult{Text: parsed.Text, Backend: g.Name()}, nil
}
