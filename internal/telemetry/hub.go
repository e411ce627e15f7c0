// Package telemetry collects the tune events the control plane emits and
// fans them out to live subscribers, a bounded history, and the event
// web endpoints.
package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/sdrgrid/radioctl/dboard"
	"github.com/sdrgrid/radioctl/internal/logging"
)

const (
	defaultHistoryLimit = 500
	maxHistoryLimit     = 10_000
	subscriberBuffer    = 16
)

// Hub stores recent tune events and fans out live updates to subscribers.
// It satisfies dboard.EventSink, so a Frontend can publish straight into
// it.
type Hub struct {
	log logging.Logger

	mu           sync.RWMutex
	history      []dboard.TuneEvent
	historyLimit int
	subscribers  map[chan dboard.TuneEvent]struct{}
}

// NewHub builds a hub keeping at most historyLimit events. Non-positive
// limits fall back to the default.
func NewHub(historyLimit int, log logging.Logger) *Hub {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	if historyLimit > maxHistoryLimit {
		historyLimit = maxHistoryLimit
	}
	return &Hub{
		log:          logging.Component(log, "telemetry"),
		historyLimit: historyLimit,
		subscribers:  make(map[chan dboard.TuneEvent]struct{}),
	}
}

// Publish records one tune event and forwards it to every subscriber.
// Slow subscribers lose their oldest buffered event, never the hub.
func (h *Hub) Publish(ev dboard.TuneEvent) {
	h.mu.Lock()
	h.history = append(h.history, ev)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
	h.mu.Unlock()
}

// History returns a copy of the stored events, oldest first.
func (h *Hub) History() []dboard.TuneEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]dboard.TuneEvent, len(h.history))
	copy(out, h.history)
	return out
}

// Subscribe registers a listener for live events. The cancel func
// unregisters it and closes the channel.
func (h *Hub) Subscribe() (chan dboard.TuneEvent, func()) {
	ch := make(chan dboard.TuneEvent, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *Hub) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.History())
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	// Replay history first so a fresh page shows something immediately.
	for _, ev := range h.History() {
		writeSSE(w, ev)
	}
	flusher.Flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, ev dboard.TuneEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
}
