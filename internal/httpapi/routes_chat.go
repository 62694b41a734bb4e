package httpapi

import (
	"errors"
	"net/http"

	"github.com/flm-project/flm-gateway/internal/domain"
)

// handleChatCompletions implements POST /v1/chat/completions (spec §4.G.1).
func (d *Dispatcher) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
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

	if req.Stream {
		d.streamChat(w, r, a, req)
		return
	}

	resp, err := a.Chat(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	Respond(w, http.StatusOK, resp)
}

func writeModelResolveError(w http.ResponseWriter, err error) {
	var notFound *notRegisteredError
	if errors.As(err, &notFound) {
		RespondError(w, http.StatusNotFound, "engine_not_found", err.Error())
		return
	}
	RespondError(w, http.StatusBadRequest, "invalid_model_id", "expected model id of the form flm://{engine}/{model}: "+err.Error())
}
