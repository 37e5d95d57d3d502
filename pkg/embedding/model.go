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

// Model is the external encoder collaborator. Implementations supply raw
// vectors; the Embedder owns truncation, normalization, caching and the
// circuit breaker.
type Model interface {
	// Encode returns one vector per input text.
	Encode(ctx context.Context, texts []string) ([][]float32, error)

	// Close releases the model's resources.
	Close() error
}

// Loader performs the one-time heavy model initialization. It is called at
// most once per load cycle, under the embedder's load mutex.
type Loader func(ctx context.Context) (Model, error)

// HTTPModel talks to a sidecar encoder process over HTTP. The sidecar owns
// the model weights and tokenizer; this adapter only ships text over and
// vectors back.
type HTTPModel struct {
	baseURL string
	client  *http.Client
}

// NewHTTPLoader returns a Loader that probes the sidecar once and hands back
// an HTTPModel. The probe is what makes first-call latency visible at the
// embedder layer instead of on an arbitrary later request.
func NewHTTPLoader(baseURL string) Loader {
	return func(ctx context.Context) (Model, error) {
		m := &HTTPModel{
			baseURL: baseURL,
			client:  &http.Client{Timeout: 60 * time.Second},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
		if err != nil {
			return nil, err
		}
		resp, err := m.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: encoder health returned %d", ErrUnavailable, resp.StatusCode)
		}
		return m, nil
	}
}

type encodeRequest struct {
	Texts []string `json:"texts"`
}

type encodeResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// Encode ships texts to the sidecar and returns its raw vectors.
func (m *HTTPModel) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(encodeRequest{Texts: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/encode", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: encoder returned %d", ErrUnavailable, resp.StatusCode)
	}

	var out encodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(out.Vectors) != len(texts) {
		return nil, fmt.Errorf("%w: encoder returned %d vectors for %d texts", ErrUnavailable, len(out.Vectors), len(texts))
	}
	return out.Vectors, nil
}

// Close is a no-op for the HTTP adapter; the sidecar owns its lifecycle.
func (*HTTPModel) Close() error { return nil }
