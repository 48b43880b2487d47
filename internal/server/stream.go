package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/sitebuilder/internal/jobs"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/server/middleware"
)

// streamIdleTimeout ends a stream that has seen no events for this long.
const streamIdleTimeout = 60 * time.Second

// streamEvent is one server-sent event.
type streamEvent struct {
	Type      string      `json:"type"`
	JobID     string      `json:"jobId"`
	Status    jobs.Status `json:"status,omitempty"`
	Progress  int         `json:"progress"`
	Step      string      `json:"step,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// streamHub fans job events out to open SSE connections, keyed by job id.
type streamHub struct {
	mu          sync.RWMutex
	subscribers map[string][]chan streamEvent
}

func newStreamHub() *streamHub {
	return &streamHub{subscribers: make(map[string][]chan streamEvent)}
}

// subscribe returns a channel of events for jobID and a function to
// unsubscribe.
func (h *streamHub) subscribe(jobID string) (<-chan streamEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan streamEvent, 16)
	h.subscribers[jobID] = append(h.subscribers[jobID], ch)

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subscribers[jobID]
		for i, sub := range subs {
			if sub == ch {
				h.subscribers[jobID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
		if len(h.subscribers[jobID]) == 0 {
			delete(h.subscribers, jobID)
		}
	}
}

// publish is registered on the job event bus. Sends never block the job.
func (h *streamHub) publish(e jobs.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ev := streamEvent{Type: e.Type, JobID: e.JobID, Status: e.Status, Progress: e.Progress, Timestamp: time.Now().UTC()}
	for _, ch := range h.subscribers[e.JobID] {
		select {
		case ch <- ev:
		default:
			slog.Warn("Event stream full, dropping event", logfields.JobID(e.JobID))
		}
	}
}

// closeAll ends every open stream.
func (h *streamHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, subs := range h.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(h.subscribers, id)
	}
}

func (h *streamHub) count(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[jobID])
}

// handleStream sends the job snapshot, then each lifecycle event, until the
// job reaches a terminal status or the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.deps.Jobs.Status(r.Context(), id, middleware.UserID(r.Context()))
	if err != nil {
		s.adapter.WriteErrorResponse(w, r, err)
		return
	}

	// Subscribe before writing the snapshot so no transition is missed.
	events, unsubscribe := s.streams.subscribe(id)
	defer unsubscribe()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sendSSE(w, rc, streamEvent{
		Type: "snapshot", JobID: job.ID, Status: job.Status, Progress: job.Progress,
		Step: job.CurrentStep, Timestamp: time.Now().UTC(),
	})
	if job.Status.Terminal() {
		return
	}

	idle := time.NewTimer(streamIdleTimeout)
	defer idle.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-idle.C:
			sendSSE(w, rc, streamEvent{Type: "timeout", JobID: id, Timestamp: time.Now().UTC()})
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			sendSSE(w, rc, ev)
			if ev.Status.Terminal() {
				return
			}
			idle.Reset(streamIdleTimeout)
		}
	}
}

func sendSSE(w http.ResponseWriter, rc *http.ResponseController, ev streamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal stream event", logfields.Error(err))
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	if err := rc.Flush(); err != nil {
		slog.Debug("Stream flush failed", logfields.Error(err))
	}
}
