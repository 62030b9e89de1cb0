package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vocab-ingest/internal/models"
	"vocab-ingest/internal/progress"
)

// handleStreamTask serves a task's progress as server-sent events. A stream
// opened after the task finished replays one terminal event and ends, so
// late subscribers never hang waiting for history.
func (s *Server) handleStreamTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, flusher, progress.Event{
		Type:    progress.EventConnected,
		Message: "streaming task " + task.ID,
		Data:    map[string]any{"status": string(task.Status)},
	})

	if task.Status.Terminal() {
		writeEvent(w, flusher, terminalEvent(task))
		return
	}

	events, unsubscribe := s.hub.Subscribe(r.Context(), task.ID)
	defer unsubscribe()

	// The task can finish between the snapshot and the subscription; events
	// published in that window are gone. Re-check once the subscription is
	// live and replay the terminal event from persisted state.
	if task, err = s.store.GetTask(r.Context(), task.ID); err == nil && task.Status.Terminal() {
		writeEvent(w, flusher, terminalEvent(task))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeEvent(w, flusher, ev)
			if ev.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev progress.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
	flusher.Flush()
}

// terminalEvent reconstructs the closing event from persisted task state.
func terminalEvent(task models.Task) progress.Event {
	switch task.Status {
	case models.StatusCompleted:
		ev := progress.Event{Type: progress.EventDone, Message: "task completed"}
		if summary, ok := task.Metadata["summary"].(map[string]any); ok {
			ev.Data = summary
		}
		return ev
	case models.StatusCancelled:
		return progress.Event{Type: progress.EventError, Message: "task cancelled"}
	default:
		msg := "task failed"
		if task.ErrorMessage != nil {
			msg = *task.ErrorMessage
		}
		return progress.Event{Type: progress.EventError, Message: msg}
	}
}
