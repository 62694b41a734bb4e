package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flm-project/flm-gateway/internal/engine"
	"github.com/flm-project/flm-gateway/pkg/modelid"
)

// decodeProxyBody decodes a proxy request body leniently: unlike the admin
// API, OpenAI-compatible clients routinely send extra fields (n, user,
// presence_penalty, ...) this gateway doesn't model, and those must not
// cause a 400.
func decodeProxyBody(r *http.Request, dst any) error {
	const maxBody = 1 << 20
	body := http.MaxBytesReader(nil, r.Body, maxBody)
	defer body.Close()
	return json.NewDecoder(body).Decode(dst)
}

// Dispatcher mounts the proxy routes (spec §4.G.1) onto a chi.Router.
type Dispatcher struct {
	registry *engine.Registry
}

func NewDispatcher(registry *engine.Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// notRegisteredError distinguishes an unregistered engine from a malformed
// model id so callers can map the two to different HTTP status codes.
type notRegisteredError struct {
	engineID string
}

func (e *notRegisteredError) Error() string {
	return fmt.Sprintf("engine %q is not registered", e.engineID)
}

// resolve parses a canonical flm://{engine}/{model} identifier and looks
// up its adapter (spec §4.G.2).
func (d *Dispatcher) resolve(raw string) (engine.Adapter, modelid.ModelID, error) {
	mid, err := modelid.Parse(raw)
	if err != nil {
		return nil, modelid.ModelID{}, err
	}
	a, ok := d.registry.Get(mid.EngineID)
	if !ok {
		return nil, modelid.ModelID{}, &notRegisteredError{engineID: mid.EngineID}
	}
	return a, mid, nil
}

func writeEngineError(w http.ResponseWriter, err error) {
	RespondError(w, http.StatusBadGateway, "engine_error", err.Error())
}

// Routes registers the OpenAI-compatible proxy endpoints on r (spec §4.G.1).
// The caller mounts the admission chain on r before calling Routes.
func (d *Dispatcher) Routes(r chi.Router) {
	r.Get("/models", d.handleListModels)
	r.Post("/chat/completions", d.handleChatCompletions)
	r.Post("/embeddings", d.handleEmbeddings)
}
