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

// OpenAICompatAdapter backs vLLM, LM Studio and llama.cpp, all of which
// expose an OpenAI-compatible surface (spec §4.D).
type OpenAICompatAdapter struct {
	id         string
	kind       domain.EngineKind
	baseURL    string
	client     *http.Client
	streamer   *http.Client
	capability domain.EngineCapabilities
}

// NewOpenAICompatAdapter creates an adapter for one of the OpenAI-compatible
// engine kinds, bound to baseURL.
func NewOpenAICompatAdapter(id string, kind domain.EngineKind, baseURL string) *OpenAICompatAdapter {
	return &OpenAICompatAdapter{
		id:         id,
		kind:       kind,
		baseURL:    baseURL,
		client:     newHTTPClient(),
		streamer:   newStreamingHTTPClient(),
		capability: domain.DefaultCapabilities(),
	}
}

func (a *OpenAICompatAdapter) ID() string                             { return a.id }
func (a *OpenAICompatAdapter) Kind() domain.EngineKind                { return a.kind }
func (a *OpenAICompatAdapter) Capabilities() domain.EngineCapabilities { return a.capability }

func (a *OpenAICompatAdapter) HealthCheck(ctx context.Context) (domain.EngineStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/models", nil)
	if err != nil {
		return domain.EngineStatus{}, domain.NewEngineError(domain.EngineNetworkError, "building health check request", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return domain.EngineStatus{}, domain.NewEngineError(domain.EngineNetworkError, "engine unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return domain.EngineStatus{}, domain.NewEngineAPIError(resp.StatusCode, "health check failed", nil)
	}
	return domain.RunningHealthy(0), nil
}

type openaiModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (a *OpenAICompatAdapter) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, domain.NewEngineError(domain.EngineNetworkError, "building list models request", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, domain.NewEngineError(domain.EngineNetworkError, "listing models", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, domain.NewEngineAPIError(resp.StatusCode, "listing models", nil)
	}

	var mr openaiModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, domain.NewEngineError(domain.EngineInvalidResponse, "decoding models response", err)
	}

	out := make([]domain.ModelInfo, 0, len(mr.Data))
	for _, m := range mr.Data {
		mid := modelid.New(a.id, m.ID)
		out = append(out, domain.ModelInfo{ID: mid.String(), EngineID: a.id, Name: m.ID})
	}
	return out, nil
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      openaiMessage `json:"message"`
		Delta        openaiMessage `json:"delta"`
		FinishReason *string       `json:"finish_reason"`
	} `json:"choices"`
	Usage openaiUsage `json:"usage"`
}

func toOpenAIMessages(msgs []domain.ChatMessage) []openaiMessage {
	out := make([]openaiMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openaiMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

func (a *OpenAICompatAdapter) Chat(ctx context.Context, creq domain.ChatRequest) (domain.ChatResponse, error) {
	body := mustMarshal(openaiChatRequest{
		Model: creq.Model, Messages: toOpenAIMessages(creq.Messages),
		Temperature: creq.Temperature, MaxTokens: creq.MaxTokens, Stop: creq.Stop,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return domain.ChatResponse{}, domain.NewEngineError(domain.EngineNetworkError, "building chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.ChatResponse{}, domain.NewEngineError(domain.EngineNetworkError, "calling chat completions", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return domain.ChatResponse{}, domain.NewEngineAPIError(resp.StatusCode, "chat completions failed", nil)
	}

	var cr openaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return domain.ChatResponse{}, domain.NewEngineError(domain.EngineInvalidResponse, "decoding chat response", err)
	}
	if len(cr.Choices) == 0 {
		return domain.ChatResponse{}, domain.NewEngineError(domain.EngineInvalidResponse, "chat response has no choices", nil)
	}

	return domain.ChatResponse{
		ID:      cr.ID,
		Model:   cr.Model,
		Message: domain.ChatMessage{Role: domain.RoleAssistant, Content: cr.Choices[0].Message.Content},
		Usage: domain.Usage{
			PromptTokens:     cr.Usage.PromptTokens,
			CompletionTokens: cr.Usage.CompletionTokens,
			TotalTokens:      cr.Usage.TotalTokens,
		},
	}, nil
}

func (a *OpenAICompatAdapter) ChatStream(ctx context.Context, creq domain.ChatRequest) (<-chan domain.ChatStreamChunk, error) {
	body := mustMarshal(openaiChatRequest{
		Model: creq.Model, Messages: toOpenAIMessages(creq.Messages), Stream: true,
		Temperature: creq.Temperature, MaxTokens: creq.MaxTokens, Stop: creq.Stop,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewEngineError(domain.EngineNetworkError, "building chat stream request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.streamer.Do(req)
	if err != nil {
		return nil, domain.NewEngineError(domain.EngineNetworkError, "calling chat stream", err)
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, domain.NewEngineAPIError(resp.StatusCode, "chat stream failed", nil)
	}

	out := make(chan domain.ChatStreamChunk)
	go decodeSSE(ctx, resp.Body, func(payload []byte) (domain.ChatStreamChunk, error) {
		var cr openaiChatResponse
		if err := json.Unmarshal(payload, &cr); err != nil {
			return domain.ChatStreamChunk{}, fmt.Errorf("decoding sse chunk: %w", err)
		}
		chunk := domain.ChatStreamChunk{ID: cr.ID, Model: cr.Model}
		if len(cr.Choices) > 0 {
			chunk.Delta = cr.Choices[0].Delta.Content
			if cr.Choices[0].FinishReason != nil {
				chunk.IsDone = true
				chunk.Usage = &domain.Usage{
					PromptTokens:     cr.Usage.PromptTokens,
					CompletionTokens: cr.Usage.CompletionTokens,
					TotalTokens:      cr.Usage.TotalTokens,
				}
			}
		}
		return chunk, nil
	}, out)

	return out, nil
}

type openaiEmbeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage openaiUsage `json:"usage"`
}

func (a *OpenAICompatAdapter) Embeddings(ctx context.Context, ereq domain.EmbeddingsRequest) (domain.EmbeddingsResponse, error) {
	body := mustMarshal(openaiEmbeddingsRequest{Model: ereq.Model, Input: ereq.Input})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return domain.EmbeddingsResponse{}, domain.NewEngineError(domain.EngineNetworkError, "building embeddings request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.EmbeddingsResponse{}, domain.NewEngineError(domain.EngineNetworkError, "calling embeddings", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return domain.EmbeddingsResponse{}, domain.NewEngineAPIError(resp.StatusCode, "embeddings failed", nil)
	}

	var er openaiEmbeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return domain.EmbeddingsResponse{}, domain.NewEngineError(domain.EngineInvalidResponse, "decoding embeddings response", err)
	}

	out := domain.EmbeddingsResponse{
		Model: ereq.Model,
		Data:  make([][]float64, len(er.Data)),
		Usage: domain.Usage{PromptTokens: er.Usage.PromptTokens, TotalTokens: er.Usage.TotalTokens},
	}
	for i, d := range er.Data {
		out.Data[i] = d.Embedding
	}
	return out, nil
}
