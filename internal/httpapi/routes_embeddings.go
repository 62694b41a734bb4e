package httpapi

import (
	"net/http"

	"github.com/flm-project/flm-gateway/internal/domain"
)

// handleEmbeddings implements POST /v1/embeddings (spec §4.G.1).
func (d *Dispatcher) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req domain.EmbeddingsRequest
	if err := decodeProxyBody(r, &req); err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return
	}

	a, mid, err := d.resolve(req.Model)
	if err != nil {
		writeModelResolveError(w, err)
		return
	}
	req.Model = mid.Name

	resp, err := a.Embeddings(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	Respond(w, http.StatusOK, resp)
}
