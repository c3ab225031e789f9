package orchestrator

import (
	"encoding/json"
	"sync"
)

// Event kinds published on the hub.
const (
	EventState     = "state"
	EventQuestions = "questions"
	EventReport    = "report"
)

// Event is one SSE payload.
type Event struct {
	Event   string `json:"event"`
	RunID   string `json:"run_id"`
	Payload any    `json:"payload,omitempty"`
}

type subscriber chan []byte

// Hub fans run events out to subscribers. Slow subscribers miss events rather than
// block the pipeline.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[subscriber]struct{} // runID -> set of subscribers
}

func NewHub() *Hub { return &Hub{subs: map[string]map[subscriber]struct{}{}} }

func (h *Hub) Subscribe(runID string) (<-chan []byte, func()) {
	ch := make(subscriber, 16)
	h.mu.Lock()
	set := h.subs[runID]
	if set == nil {
		set = map[subscriber]struct{}{}
		h.subs[runID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[runID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, runID)
				}
			}
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, unsubscribe
}

func (h *Hub) Publish(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.RLock()
	for ch := range h.subs[ev.RunID] {
		select {
		case ch <- b:
		default:
		}
	}
	h.mu.RUnlock()
}
