package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"encore.app/embedding"
	"encore.app/llmclient"
)

// httpEmbeddingProducer and httpLLMProducer are thin JSON-over-HTTP adapters
// to the embedding and LLM producers, which spec.md §1 treats as external
// collaborators outside this module's scope. They exist only to give
// embedding.Client and llmclient.Client a concrete Producer to drive; the
// wire format is intentionally minimal since the producer contract itself
// is not specified beyond its input/output shape (spec.md §4.3, §4.4).
type httpEmbeddingProducer struct {
	endpoint string
	http     *http.Client
}

func newHTTPEmbeddingProducer(endpoint string, httpClient *http.Client) *httpEmbeddingProducer {
	return &httpEmbeddingProducer{endpoint: endpoint, http: httpClient}
}

func (p *httpEmbeddingProducer) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding producer returned status %d: %s", resp.StatusCode, respBody)
	}

	var decoded struct {
		Vector []float32 `json:"vector"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	return embedding.Vector(decoded.Vector), nil
}

type httpLLMProducer struct {
	endpoint string
	http     *http.Client
}

func newHTTPLLMProducer(endpoint string, httpClient *http.Client) *httpLLMProducer {
	return &httpLLMProducer{endpoint: endpoint, http: httpClient}
}

func (p *httpLLMProducer) Complete(ctx context.Context, req llmclient.Request) (llmclient.Response, int, error) {
	body, err := json.Marshal(map[string]interface{}{
		"prompt":            req.Prompt,
		"model":             req.Model,
		"temperature":       req.Temperature,
		"max_output_tokens": req.MaxOutputTokens,
	})
	if err != nil {
		return llmclient.Response{}, 0, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return llmclient.Response{}, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return llmclient.Response{}, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return llmclient.Response{}, resp.StatusCode, fmt.Errorf("llm producer returned status %d: %s", resp.StatusCode, respBody)
	}

	var decoded struct {
		CompletionText   string `json:"completion_text"`
		InputTokenCount  int    `json:"input_token_count"`
		OutputTokenCount int    `json:"output_token_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return llmclient.Response{}, resp.StatusCode, err
	}

	return llmclient.Response{
		CompletionText:   decoded.CompletionText,
		InputTokenCount:  decoded.InputTokenCount,
		OutputTokenCount: decoded.OutputTokenCount,
	}, resp.StatusCode, nil
}
