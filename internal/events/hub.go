// Package events fans job events out to live subscribers in this process.
package events

import (
	"sync"

	"omniavatar/server/internal/model"

	"github.com/google/uuid"
)

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[string]chan model.JobEvent
}

func NewHub() *Hub {
	return &Hub{
		subs: map[string]map[string]chan model.JobEvent{},
	}
}

// Subscribe registers a buffered listener for jobID. The returned func
// unsubscribes and closes the channel; calling it twice is safe.
func (h *Hub) Subscribe(jobID string, buf int) (<-chan model.JobEvent, func()) {
	if buf < 1 {
		buf = 1
	}
	subID := uuid.NewString()
	ch := make(chan model.JobEvent, buf)

	h.mu.Lock()
	if _, ok := h.subs[jobID]; !ok {
		h.subs[jobID] = map[string]chan model.JobEvent{}
	}
	h.subs[jobID][subID] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			jobSubs := h.subs[jobID]
			if c, ok := jobSubs[subID]; ok {
				delete(jobSubs, subID)
				close(c)
			}
			if len(jobSubs) == 0 {
				delete(h.subs, jobID)
			}
		})
	}
}

// Publish never blocks: a full subscriber misses the event and is expected to
// catch up from the stored event log.
func (h *Hub) Publish(evt model.JobEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[evt.JobID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}
