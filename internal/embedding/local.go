package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// localBackend talks to an embedding model served on the same host, using
// the Ollama-compatible /api/embed endpoint. "Local" means the model runs
// next to this process and is managed by it, as opposed to a shared remote
// service.
type localBackend struct {
	baseURL string
	model   string
	device  string
	client  *http.Client
}

// localEmbedRequest is the /api/embed request body. Input accepts a batch;
// the response carries one embedding per input in order.
type localEmbedRequest struct {
	Model   string            `json:"model"`
	Input   []string          `json:"input"`
	Options map[string]string `json:"options,omitempty"`
}

type localEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func newLocalBackend(model, device string) *localBackend {
	return &localBackend{
		baseURL: "http://localhost:11434",
		model:   model,
		device:  device,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Embed encodes a batch of texts in a single round trip.
func (b *localBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := localEmbedRequest{
		Model: b.model,
		Input: texts,
	}
	if b.device != "" {
		reqBody.Options = map[string]string{"device": b.device}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/api/embed", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding backend returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData localEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(respData.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding backend returned %d vectors for %d inputs",
			len(respData.Embeddings), len(texts))
	}

	return respData.Embeddings, nil
}
