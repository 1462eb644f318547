package syncengine

import (
	"sync"
	"time"
)

// State is the coarse phase shown to the UI.
type State string

const (
	StateIdle      State = "idle"
	StateSyncing   State = "syncing"
	StateSucceeded State = "succeeded"
	StateErrored   State = "errored"
)

// Status is the observable sync state.
type Status struct {
	State     State     `json:"state"`
	IsSyncing bool      `json:"is_syncing"`
	LastSync  time.Time `json:"last_sync,omitempty"`
	// ErrorMessage describes the last failed session. Cleared by the next success.
	ErrorMessage string `json:"error_message,omitempty"`
}

// statusHub holds the current Status and fans changes out to subscribers.
type statusHub struct {
	mu      sync.RWMutex
	current Status
	subs    map[int]chan Status
	nextSub int
}

func newStatusHub() *statusHub {
	return &statusHub{
		current: Status{State: StateIdle},
		subs:    make(map[int]chan Status),
	}
}

func (h *statusHub) get() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

func (h *statusHub) update(fn func(*Status)) Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.current)
	for _, ch := range h.subs {
		publishLatest(ch, h.current)
	}
	return h.current
}

func (h *statusHub) subscribe(buffer int) (<-chan Status, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Status, buffer)

	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	ch <- h.current
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// publishLatest never blocks; a full channel loses its oldest entry.
func publishLatest(ch chan Status, s Status) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
