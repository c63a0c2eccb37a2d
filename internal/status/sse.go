package status

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
)

// handleStream streams live SOL bytes for one chassis over SSE,
// base64-encoded since the payload is arbitrary console bytes, not
// valid UTF-8 event data — same encoding the teacher's sse.go uses.
// Catchup replays the chassis's current screen buffer before live
// bytes start, so a client connecting mid-session sees the current
// screen instead of a blank terminal.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	b, ok := s.registry.ByName(name)
	if !ok {
		http.Error(w, "bmc not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", name)
	flusher.Flush()

	ch, catchup := b.SubscribeConsole()
	defer b.UnsubscribeConsole(ch)

	if len(catchup) > 0 {
		fmt.Fprintf(w, "data: %s\n\n", base64.StdEncoding.EncodeToString(catchup))
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", base64.StdEncoding.EncodeToString(data))
			flusher.Flush()
		}
	}
}
