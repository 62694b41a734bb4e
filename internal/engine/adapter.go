// Package engine implements the engine registry, detection probes, and the
// per-engine HTTP adapters that translate between the gateway's OpenAI shape
// and each backend's native API.
package engine

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/flm-project/flm-gateway/internal/domain"
)

// Adapter is the capability set every engine kind implements (spec §4.C.3,
// §9). The registry stores these behind a single interface; there is no
// dynamic dispatch exposed through persisted data.
type Adapter interface {
	ID() string
	Kind() domain.EngineKind
	Capabilities() domain.EngineCapabilities
	HealthCheck(ctx context.Context) (domain.EngineStatus, error)
	ListModels(ctx context.Context) ([]domain.ModelInfo, error)
	Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
	ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.ChatStreamChunk, error)
	Embeddings(ctx context.Context, req domain.EmbeddingsRequest) (domain.EmbeddingsResponse, error)
}

// newHTTPClient builds the shared engine HTTP client (spec §4.D.2): 30s
// total timeout, 10s connect timeout. Streaming calls use a client without a
// response-body deadline and enforce the 60s idle timeout themselves.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext},
	}
}

func newStreamingHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext},
	}
}
