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

// remoteBackend posts batches to a shared embedding service.
type remoteBackend struct {
	endpoint string
	model    string
	token    string
	client   *http.Client
}

// remoteEmbedRequest is the remote wire contract: the service receives the
// model identifier and the text batch, and answers with one vector per text
// in input order.
type remoteEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type remoteEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func newRemoteBackend(endpoint, model, token string) *remoteBackend {
	return &remoteBackend{
		endpoint: endpoint,
		model:    model,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Embed encodes a batch of texts against the remote service.
func (b *remoteBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	jsonData, err := json.Marshal(remoteEmbedRequest{Model: b.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", b.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData remoteEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(respData.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d inputs",
			len(respData.Embeddings), len(texts))
	}

	return respData.Embeddings, nil
}
