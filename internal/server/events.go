package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

var keepaliveInterval = 15 * time.Second

// handleJobEvents streams a job's progress as server-sent events: one
// "progress" event per report, then a final "done" event carrying the job.
// Last-Event-ID resumes after the given sequence number.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.jobs.get(id); !ok {
		writeError(w, http.StatusNotFound, "install.not_found", "no such installation", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "stream.unsupported", "streaming unsupported", nil)
		return
	}
	cursor := 0
	if last, err := strconv.Atoi(r.Header.Get("Last-Event-ID")); err == nil && last >= 0 {
		cursor = last + 1
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()
	for {
		job, evs, changed, _ := s.jobs.since(id, cursor)
		for _, ev := range evs {
			b, _ := json.Marshal(ev)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", ev.Seq, b)
			cursor = ev.Seq + 1
		}
		if job.done() {
			b, _ := json.Marshal(job)
			fmt.Fprintf(w, "event: done\ndata: %s\n\n", b)
			flusher.Flush()
			return
		}
		flusher.Flush()
		select {
		case <-r.Context().Done():
			return
		case <-changed:
		case <-keepalive.C:
			_, _ = w.Write([]byte(": keepalive\n\n"))
		}
	}
}
