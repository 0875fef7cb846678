package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// events streams job-update events as Server-Sent Events: each broker
// Event is newline-delimited JSON per SPEC_FULL §6 ("text/event-stream,
// each event `data: <json>\n\n`"). The stream ends when the client
// disconnects, when the server shuts down, when the hub drops this
// subscriber for a full mailbox, or when the router's 2-minute request
// timeout cancels the request context, whichever comes first.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		if h.deps.Logger != nil {
			h.deps.Logger.Error("response writer does not support flushing, cannot stream events")
		}
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := h.deps.Broker.Subscribe()
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
