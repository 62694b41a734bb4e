package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/flm-project/flm-gateway/internal/domain"
	"github.com/flm-project/flm-gateway/internal/engine"
)

// streamChat bridges an engine's chat stream onto an SSE response, stopping
// as soon as either side closes (spec §4.G.1 streaming path).
func (d *Dispatcher) streamChat(w http.ResponseWriter, r *http.Request, a engine.Adapter, req domain.ChatRequest) {
	ch, err := a.ChatStream(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)

	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(chunk)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
			if chunk.IsDone {
				fmt.Fprint(w, "data: [DONE]\n\n")
				if canFlush {
					flusher.Flush()
				}
				return
			}
		}
	}
}
