// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrBackend marks an embedding backend failure. Non-fatal everywhere:
// the indexer degrades failed batches to zero-vectors and the retriever
// returns empty results.
var ErrBackend = errors.New("embedding backend failure")

// Backend produces embedding vectors for text batches.
//
// Implementations must return exactly one vector per input text, in
// input order. Model identity is configuration, never hard-coded by
// callers; Identity feeds the index snapshot key so a model change
// invalidates the persisted index.
type Backend interface {
	// Embed returns one vector per text. A returned error wraps
	// ErrBackend.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Identity returns a stable description of the backend and model,
	// e.g. "ollama/nomic-embed-text-v2-moe".
	Identity() string
}

// FallbackDimension returns the vector dimension used for zero-vector
// degradation when a batch fails to embed. VECTOR_DIM wins when set;
// otherwise the dimension is inferred from the model name, with 1024
// as the generic fallback.
func FallbackDimension(model string) int {
	if raw := os.Getenv("VECTOR_DIM"); raw != "" {
		if dim, err := strconv.Atoi(raw); err == nil && dim > 0 {
			return dim
		}
	}
	switch {
	case strings.Contains(model, "small"):
		return 1536
	case strings.Contains(model, "large"):
		return 3072
	default:
		return 1024
	}
}

// =============================================================================
// Ollama Backend
// =============================================================================

// ollamaEmbedReq is the Ollama /api/embed request body. Input accepts
// a batch and the response carries one embedding per input.
type ollamaEmbedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResp is the Ollama /api/embed response body.
type ollamaEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaBackend embeds through Ollama's /api/embed endpoint.
//
// # Thread Safety
//
// Safe for concurrent use.
type OllamaBackend struct {
	url    string
	model  string
	client *http.Client
}

// NewOllamaBackend creates a backend from the environment.
//
// Reads EMBEDDING_SERVICE_URL (default the in-container Ollama host)
// and EMBEDDING_MODEL (default nomic-embed-text-v2-moe).
func NewOllamaBackend() *OllamaBackend {
	return NewOllamaBackendAt(os.Getenv("EMBEDDING_SERVICE_URL"), os.Getenv("EMBEDDING_MODEL"))
}

// NewOllamaBackendAt creates a backend with explicit endpoint and model.
// Empty values fall back to the defaults.
func NewOllamaBackendAt(url, model string) *OllamaBackend {
	if url == "" {
		url = "http://host.containers.internal:11434/api/embed"
	}
	if model == "" {
		model = "nomic-embed-text-v2-moe"
	}
	return &OllamaBackend{
		url:   url,
		model: model,
		client: &http.Client{
			Timeout: 60 * time.Second, // index batches can be slow on cold models
		},
	}
}

// Identity implements Backend.
func (b *OllamaBackend) Identity() string {
	return "ollama/" + b.model
}

// Embed implements Backend.
func (b *OllamaBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(ollamaEmbedReq{Model: b.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrBackend, err)
	}

	body, err := postJSON(ctx, b.client, b.url, reqBody)
	if err != nil {
		return nil, err
	}

	var resp ollamaEmbedResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrBackend, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrBackend, len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// =============================================================================
// OpenAI-Compatible Backend
// =============================================================================

// openaiEmbedReq is the OpenAI /v1/embeddings request body.
type openaiEmbedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// openaiEmbedResp is the OpenAI /v1/embeddings response body.
type openaiEmbedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// OpenAIBackend embeds through an OpenAI-compatible /v1/embeddings
// endpoint. Any server speaking that wire format works.
//
// # Thread Safety
//
// Safe for concurrent use.
type OpenAIBackend struct {
	url    string
	model  string
	apiKey string
	client *http.Client
}

// NewOpenAIBackend creates a backend from the environment.
//
// Reads EMBEDDING_SERVICE_URL (default https://api.openai.com/v1/embeddings),
// EMBEDDING_MODEL (default text-embedding-3-small) and OPENAI_API_KEY.
func NewOpenAIBackend() *OpenAIBackend {
	return NewOpenAIBackendAt(os.Getenv("EMBEDDING_SERVICE_URL"), os.Getenv("EMBEDDING_MODEL"))
}

// NewOpenAIBackendAt creates a backend with explicit endpoint and model.
// Empty values fall back to the defaults. The API key still comes from
// OPENAI_API_KEY; it never lives in a config file.
func NewOpenAIBackendAt(url, model string) *OpenAIBackend {
	if url == "" {
		url = "https://api.openai.com/v1/embeddings"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIBackend{
		url:    url,
		model:  model,
		apiKey: os.Getenv("OPENAI_API_KEY"),
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// Identity implements Backend.
func (b *OpenAIBackend) Identity() string {
	return "openai/" + b.model
}

// Embed implements Backend.
func (b *OpenAIBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody, err := json.Marshal(openaiEmbedReq{Model: b.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrBackend, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrBackend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	body, err := doJSON(b.client, req)
	if err != nil {
		return nil, err
	}

	var resp openaiEmbedResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrBackend, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrBackend, len(resp.Data), len(texts))
	}
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// =============================================================================
// HTTP Helpers
// =============================================================================

// postJSON posts a JSON body and returns the response payload, mapping
// transport and status failures onto ErrBackend.
func postJSON(ctx context.Context, client *http.Client, url string, reqBody []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrBackend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return doJSON(client, req)
}

func doJSON(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrBackend, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrBackend, resp.StatusCode, string(body))
	}
	return body, nil
}
