package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flm-project/flm-gateway/internal/config"
	"github.com/flm-project/flm-gateway/internal/domain"
)

func TestOllamaAdapterListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]string{{"model": "llama3:8b"}},
		})
	}))
	defer srv.Close()

	a := NewOllamaAdapter("ollama-1", srv.URL)
	models, err := a.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 {
		t.Fatalf("expected 1 model, got %d", len(models))
	}
	if models[0].ID != "flm://ollama-1/llama3:8b" {
		t.Fatalf("unexpected model id %q", models[0].ID)
	}
}

func TestOllamaAdapterChatStreamTerminatesOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		lines := []string{
			`{"model":"llama3","message":{"role":"assistant","content":"hi"},"done":false}`,
			`{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":3,"eval_count":2}`,
		}
		for _, l := range lines {
			fmt.Fprintln(w, l)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	a := NewOllamaAdapter("ollama-1", srv.URL)
	ch, err := a.ChatStream(context.Background(), domain.ChatRequest{
		Model:    "llama3",
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var doneCount int
	var chunks []domain.ChatStreamChunk
	for c := range ch {
		chunks = append(chunks, c)
		if c.IsDone {
			doneCount++
		}
	}
	if doneCount != 1 {
		t.Fatalf("expected exactly one terminal chunk, got %d", doneCount)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].Usage == nil || chunks[1].Usage.TotalTokens != 5 {
		t.Fatalf("unexpected usage on terminal chunk: %+v", chunks[1].Usage)
	}
}

func TestOpenAICompatAdapterChatStreamSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"1\",\"model\":\"m\",\"choices\":[{\"delta\":{\"content\":\"he\"}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"id\":\"1\",\"model\":\"m\",\"choices\":[{\"delta\":{\"content\":\"\"},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":1,\"completion_tokens\":1,\"total_tokens\":2}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	a := NewOpenAICompatAdapter("vllm-1", domain.EngineVLLM, srv.URL)
	ch, err := a.ChatStream(context.Background(), domain.ChatRequest{
		Model:    "m",
		Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var chunks []domain.ChatStreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !chunks[1].IsDone {
		t.Fatalf("expected second chunk to be terminal")
	}
}

func TestOpenAICompatAdapterEmbeddings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float64{0.1, 0.2}}},
			"usage": map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	defer srv.Close()

	a := NewOpenAICompatAdapter("lms-1", domain.EngineLMStudio, srv.URL)
	resp, err := a.Embeddings(context.Background(), domain.EmbeddingsRequest{Model: "m", Input: []string{"hi"}})
	if err != nil {
		t.Fatalf("Embeddings: %v", err)
	}
	if len(resp.Data) != 1 || len(resp.Data[0]) != 2 {
		t.Fatalf("unexpected embeddings response: %+v", resp)
	}
}

func TestRegistryRegisterGetList(t *testing.T) {
	reg := NewRegistry()
	a := NewOllamaAdapter("ollama-1", "http://localhost:11434")
	reg.Register(a)

	if len(reg.List()) != 1 {
		t.Fatalf("expected 1 registered adapter")
	}
	got, ok := reg.Get("ollama-1")
	if !ok || got.ID() != "ollama-1" {
		t.Fatalf("Get returned unexpected adapter")
	}

	reg.Unregister("ollama-1")
	if _, ok := reg.Get("ollama-1"); ok {
		t.Fatalf("expected adapter to be unregistered")
	}
}

func TestDetectOneFallsBackToInstalledOnlyOrErrorNetwork(t *testing.T) {
	a := NewOllamaAdapter("ollama-1", "http://127.0.0.1:1")
	state := DetectOne(context.Background(), &config.Config{}, a, EngineProbe{Kind: domain.EngineOllama, Binary: "definitely-not-a-real-binary-xyz"})
	if state.Status.Kind != domain.StatusErrorNetwork {
		t.Fatalf("expected StatusErrorNetwork when engine is unreachable and binary missing, got %v", state.Status.Kind)
	}
}

func TestProbeBinaryFalseForUnknownBinary(t *testing.T) {
	if ProbeBinary(EngineProbe{Binary: "definitely-not-a-real-binary-xyz"}) {
		t.Fatalf("expected ProbeBinary to return false for a nonexistent binary")
	}
}

func TestEngineCacheTTLConstant(t *testing.T) {
	if EngineCacheTTL != 300*time.Second {
		t.Fatalf("unexpected EngineCacheTTL: %v", EngineCacheTTL)
	}
}
