package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flm-project/flm-gateway/internal/domain"
	"github.com/flm-project/flm-gateway/internal/engine"
)

type fakeAdapter struct {
	id    string
	chunk []domain.ChatStreamChunk
}

func (f *fakeAdapter) ID() string                          { return f.id }
func (f *fakeAdapter) Kind() domain.EngineKind              { return domain.EngineOllama }
func (f *fakeAdapter) Capabilities() domain.EngineCapabilities { return domain.DefaultCapabilities() }
func (f *fakeAdapter) HealthCheck(ctx context.Context) (domain.EngineStatus, error) {
	return domain.RunningHealthy(1), nil
}
func (f *fakeAdapter) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	return []domain.ModelInfo{{ID: "flm://" + f.id + "/llama3"}}, nil
}
func (f *fakeAdapter) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	return domain.ChatResponse{ID: "resp-1", Model: req.Model, Message: domain.ChatMessage{Role: domain.RoleAssistant, Content: "hi"}}, nil
}
func (f *fakeAdapter) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.ChatStreamChunk, error) {
	out := make(chan domain.ChatStreamChunk, len(f.chunk))
	for _, c := range f.chunk {
		out <- c
	}
	close(out)
	return out, nil
}
func (f *fakeAdapter) Embeddings(ctx context.Context, req domain.EmbeddingsRequest) (domain.EmbeddingsResponse, error) {
	return domain.EmbeddingsResponse{Model: req.Model, Data: [][]float64{{0.1, 0.2}}}, nil
}

func newTestDispatcher(a engine.Adapter) *Dispatcher {
	reg := engine.NewRegistry()
	reg.Register(a)
	return NewDispatcher(reg)
}

func TestResolveInvalidFormReturns400(t *testing.T) {
	d := newTestDispatcher(&fakeAdapter{id: "ollama-1"})
	body, _ := json.Marshal(domain.ChatRequest{Model: "not-a-flm-url"})
	r := httptest.NewRequest(http.MethodPost, "/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()

	d.handleChatCompletions(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed model id, got %d", w.Code)
	}
}

func TestResolveUnregisteredEngineReturns404(t *testing.T) {
	d := newTestDispatcher(&fakeAdapter{id: "ollama-1"})
	body, _ := json.Marshal(domain.ChatRequest{Model: "flm://vllm-1/llama3"})
	r := httptest.NewRequest(http.MethodPost, "/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()

	d.handleChatCompletions(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unregistered engine, got %d", w.Code)
	}
}

func TestHandleChatCompletionsNonStreaming(t *testing.T) {
	d := newTestDispatcher(&fakeAdapter{id: "ollama-1"})
	body, _ := json.Marshal(domain.ChatRequest{Model: "flm://ollama-1/llama3"})
	r := httptest.NewRequest(http.MethodPost, "/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()

	d.handleChatCompletions(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp domain.ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Message.Content != "hi" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleChatCompletionsStreamingEmitsDoneOnce(t *testing.T) {
	chunks := []domain.ChatStreamChunk{
		{ID: "1", Delta: "he"},
		{ID: "1", Delta: "llo", IsDone: true, Usage: &domain.Usage{TotalTokens: 3}},
	}
	d := newTestDispatcher(&fakeAdapter{id: "ollama-1", chunk: chunks})
	body, _ := json.Marshal(domain.ChatRequest{Model: "flm://ollama-1/llama3", Stream: true})
	r := httptest.NewRequest(http.MethodPost, "/chat/completions", bytes.NewReader(body))
	w := httptest.NewRecorder()

	d.handleChatCompletions(w, r)

	out := w.Body.String()
	doneCount := bytes.Count([]byte(out), []byte("data: [DONE]"))
	if doneCount != 1 {
		t.Fatalf("expected exactly one terminal [DONE] event, got %d in:\n%s", doneCount, out)
	}
}

func TestHandleListModelsUnionsEngines(t *testing.T) {
	reg := engine.NewRegistry()
	reg.Register(&fakeAdapter{id: "ollama-1"})
	reg.Register(&fakeAdapter{id: "vllm-1"})
	d := NewDispatcher(reg)

	r := httptest.NewRequest(http.MethodGet, "/models", nil)
	w := httptest.NewRecorder()

	d.handleListModels(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out struct {
		Data []domain.ModelInfo `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(out.Data) != 2 {
		t.Fatalf("expected 2 models across engines, got %d", len(out.Data))
	}
}

func TestHandleEmbeddings(t *testing.T) {
	d := newTestDispatcher(&fakeAdapter{id: "ollama-1"})
	body, _ := json.Marshal(domain.EmbeddingsRequest{Model: "flm://ollama-1/all-minilm", Input: []string{"hello"}})
	r := httptest.NewRequest(http.MethodPost, "/embeddings", bytes.NewReader(body))
	w := httptest.NewRecorder()

	d.handleEmbeddings(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}
