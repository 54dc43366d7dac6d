package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client is the interface for the embedding backend. The backend is an
// optional collaborator: the engine must keep working without one, so callers
// treat any error here as "skip similarity filtering", never as fatal.
type Client interface {
	// Embed returns a fixed-dimension vector for the given text
	Embed(ctx context.Context, text string) ([]float32, error)

	// Health checks if the embedding service is available
	Health(ctx context.Context) error
}

// embedRequest is the Ollama /api/embed request shape
type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the Ollama /api/embed response shape
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// ollamaClient implements Client against an Ollama-compatible API
type ollamaClient struct {
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new embedding client. Every call carries the
// configured timeout so a stalled backend cannot stall a detection run.
func NewOllamaClient(baseURL, model string, dimension int, timeout time.Duration, logger *slog.Logger) Client {
	return &ollamaClient{
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Embed sends text to the backend and returns the embedding vector
func (c *ollamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	reqBody, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		c.baseURL+"/api/embed",
		bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding backend returned status %d: %s", resp.StatusCode, string(body))
	}

	var embResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(embResp.Embeddings) == 0 {
		return nil, fmt.Errorf("embedding backend returned no vectors")
	}

	vector := embResp.Embeddings[0]
	if c.dimension > 0 && len(vector) != c.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vector), c.dimension)
	}

	c.logger.Debug("Embedding computed",
		"model", c.model,
		"text_length", len(text),
		"dimension", len(vector),
		"duration_ms", time.Since(start).Milliseconds())

	return vector, nil
}

// Health checks if the backend is available
func (c *ollamaClient) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// MockClient is a mock embedding client for testing
type MockClient struct {
	EmbedFunc  func(ctx context.Context, text string) ([]float32, error)
	HealthFunc func(ctx context.Context) error
}

func (m *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	// Deterministic default: a unit vector keyed off the text length
	vec := make([]float32, 8)
	vec[len(text)%8] = 1.0
	return vec, nil
}

func (m *MockClient) Health(ctx context.Context) error {
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// NewMockClient creates a mock client with default behavior
func NewMockClient() *MockClient {
	return &MockClient{}
}
