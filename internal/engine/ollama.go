package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/flm-project/flm-gateway/internal/domain"
	"github.com/flm-project/flm-gateway/pkg/modelid"
)

// OllamaAdapter translates between the gateway's OpenAI shape and Ollama's
// native HTTP API (spec §4.D, "Ollama").
type OllamaAdapter struct {
	id         string
	baseURL    string
	client     *http.Client
	streamer   *http.Client
	capability domain.EngineCapabilities
}

// NewOllamaAdapter creates an adapter bound to an Ollama instance at baseURL.
func NewOllamaAdapter(id, baseURL string) *OllamaAdapter {
	return &OllamaAdapter{
		id:         id,
		baseURL:    baseURL,
		client:     newHTTPClient(),
		streamer:   newStreamingHTTPClient(),
		capability: domain.DefaultCapabilities(),
	}
}

func (a *OllamaAdapter) ID() string                             { return a.id }
func (a *OllamaAdapter) Kind() domain.EngineKind                { return domain.EngineOllama }
func (a *OllamaAdapter) Capabilities() domain.EngineCapabilities { return a.capability }

func (a *OllamaAdapter) HealthCheck(ctx context.Context) (domain.EngineStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return domain.EngineStatus{}, domain.NewEngineError(domain.EngineNetworkError, "building health check request", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return domain.EngineStatus{}, domain.NewEngineError(domain.EngineNetworkError, "ollama unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return domain.EngineStatus{}, domain.NewEngineAPIError(resp.StatusCode, "ollama health check failed", nil)
	}
	return domain.RunningHealthy(0), nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Model string `json:"model"`
	} `json:"models"`
}

func (a *OllamaAdapter) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, domain.NewEngineError(domain.EngineNetworkError, "building list models request", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, domain.NewEngineError(domain.EngineNetworkError, "listing ollama models", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, domain.NewEngineAPIError(resp.StatusCode, "listing ollama models", nil)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, domain.NewEngineError(domain.EngineInvalidResponse, "decoding ollama tags", err)
	}

	out := make([]domain.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		mid := modelid.New(a.id, m.Model)
		out = append(out, domain.ModelInfo{ID: mid.String(), EngineID: a.id, Name: m.Model})
	}
	return out, nil
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

func toOllamaMessages(msgs []domain.ChatMessage) []ollamaMessage {
	out := make([]ollamaMessage, len(msgs))
	for i, m := range msgs {
		out[i] = ollamaMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func (a *OllamaAdapter) Chat(ctx context.Context, creq domain.ChatRequest) (domain.ChatResponse, error) {
	body := mustMarshal(ollamaChatRequest{Model: creq.Model, Messages: toOllamaMessages(creq.Messages), Stream: false})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return domain.ChatResponse{}, domain.NewEngineError(domain.EngineNetworkError, "building chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.ChatResponse{}, domain.NewEngineError(domain.EngineNetworkError, "calling ollama chat", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return domain.ChatResponse{}, domain.NewEngineAPIError(resp.StatusCode, "ollama chat failed", nil)
	}

	var or ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return domain.ChatResponse{}, domain.NewEngineError(domain.EngineInvalidResponse, "decoding ollama chat response", err)
	}

	return domain.ChatResponse{
		Model:   or.Model,
		Message: domain.ChatMessage{Role: domain.RoleAssistant, Content: or.Message.Content},
		Usage: domain.Usage{
			PromptTokens:     or.PromptEvalCount,
			CompletionTokens: or.EvalCount,
			TotalTokens:      or.PromptEvalCount + or.EvalCount,
		},
	}, nil
}

func (a *OllamaAdapter) ChatStream(ctx context.Context, creq domain.ChatRequest) (<-chan domain.ChatStreamChunk, error) {
	body := mustMarshal(ollamaChatRequest{Model: creq.Model, Messages: toOllamaMessages(creq.Messages), Stream: true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewEngineError(domain.EngineNetworkError, "building chat stream request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.streamer.Do(req)
	if err != nil {
		return nil, domain.NewEngineError(domain.EngineNetworkError, "calling ollama chat stream", err)
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, domain.NewEngineAPIError(resp.StatusCode, "ollama chat stream failed", nil)
	}

	out := make(chan domain.ChatStreamChunk)
	go decodeNDJSON(ctx, resp.Body, func(line []byte) (domain.ChatStreamChunk, bool, error) {
		var or ollamaChatResponse
		if err := json.Unmarshal(line, &or); err != nil {
			return domain.ChatStreamChunk{}, false, fmt.Errorf("decoding ollama stream chunk: %w", err)
		}
		chunk := domain.ChatStreamChunk{Model: or.Model, Delta: or.Message.Content}
		if or.Done {
			chunk.IsDone = true
			chunk.Usage = &domain.Usage{
				PromptTokens:     or.PromptEvalCount,
				CompletionTokens: or.EvalCount,
				TotalTokens:      or.PromptEvalCount + or.EvalCount,
			}
		}
		return chunk, or.Done, nil
	}, out)

	return out, nil
}

type ollamaEmbeddingsRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingsResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (a *OllamaAdapter) Embeddings(ctx context.Context, ereq domain.EmbeddingsRequest) (domain.EmbeddingsResponse, error) {
	out := domain.EmbeddingsResponse{Model: ereq.Model, Data: make([][]float64, 0, len(ereq.Input))}
	for _, input := range ereq.Input {
		body := mustMarshal(ollamaEmbeddingsRequest{Model: ereq.Model, Prompt: input})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/embeddings", bytes.NewReader(body))
		if err != nil {
			return domain.EmbeddingsResponse{}, domain.NewEngineError(domain.EngineNetworkError, "building embeddings request", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return domain.EmbeddingsResponse{}, domain.NewEngineError(domain.EngineNetworkError, "calling ollama embeddings", err)
		}
		var er ollamaEmbeddingsResponse
		decErr := json.NewDecoder(resp.Body).Decode(&er)
		status := resp.StatusCode
		resp.Body.Close()
		if status/100 != 2 {
			return domain.EmbeddingsResponse{}, domain.NewEngineAPIError(status, "ollama embeddings failed", nil)
		}
		if decErr != nil {
			return domain.EmbeddingsResponse{}, domain.NewEngineError(domain.EngineInvalidResponse, "decoding ollama embeddings response", decErr)
		}
		out.Data = append(out.Data, er.Embedding)
	}
	return out, nil
}
