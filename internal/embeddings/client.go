// Package embeddings generates text embeddings through a local Ollama
// instance and carries the vector math the scorer and resolver share.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/httpkit"
)

const defaultModel = "nomic-embed-text"

// Config locates the Ollama instance.
type Config struct {
	BaseURL string // e.g. "http://localhost:11434"
	Model   string // defaults to nomic-embed-text
}

// Client calls Ollama's embedding endpoint.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

// New builds a client for the configured Ollama instance.
func New(cfg Config) *Client {
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Client{
		baseURL: cfg.BaseURL,
		model:   model,
		client: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			// Ollama restarts drop the socket mid-sweep; up to two
			// quick retries ride it out.
			httpkit.WithRetry(2, time.Second),
		),
	}
}

// Generate returns the embedding vector for text.
func (c *Client) Generate(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]string{
		"model":  c.model,
		"prompt": text,
	})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d: %s",
			resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return out.Embedding, nil
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// 0 for mismatched lengths or zero vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
