package notifier

import (
	"fmt"
	"net/http"
	"time"

	httputil "roomview/pkg/http"

	"github.com/julienschmidt/httprouter"
)

// Snapshot serves one rendered display document, for screens that poll
// instead of streaming.
func (n *Notifier) Snapshot(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	payload, err := n.buildPayload(time.Now())
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			n.log.Error("failed to write error response", "handler", "Snapshot", "error", writeErr)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// Stream holds an SSE connection per display screen and forwards one snapshot
// per interval. The per-client loop ends cleanly when the screen goes away,
// detected on send failure or context cancellation; other screens and the
// booking engine are unaffected.
func (n *Notifier) Stream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		if writeErr := httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{
			Error: "Streaming unsupported",
		}); writeErr != nil {
			n.log.Error("failed to write error response", "handler", "Stream", "error", writeErr)
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := n.subscribe()
	defer n.unsubscribe(ch)

	// First snapshot immediately so a fresh screen does not sit blank for a
	// whole interval.
	payload, err := n.buildPayload(time.Now())
	if err != nil {
		n.log.Error("Failed to build display snapshot", "error", err)
	} else {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()
	}

	for {
		select {
		case payload := <-ch:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (n *Notifier) RegisterRoutes(router *httprouter.Router) {
	router.GET("/api/v1/display/snapshot", n.Snapshot)
	router.GET("/api/v1/display/stream", n.Stream)
}
