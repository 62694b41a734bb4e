package httpapi

import (
	"net/http"

	"github.com/flm-project/flm-gateway/internal/domain"
)

// handleListModels returns the union of list_models() across every
// registered engine (spec §4.G.1, GET /v1/models).
func (d *Dispatcher) handleListModels(w http.ResponseWriter, r *http.Request) {
	var out []domain.ModelInfo
	for _, a := range d.registry.List() {
		models, err := a.ListModels(r.Context())
		if err != nil {
			continue // one engine's failure doesn't fail the whole listing
		}
		out = append(out, models...)
	}
	Respond(w, http.StatusOK, map[string]any{"object": "list", "data": out})
}
