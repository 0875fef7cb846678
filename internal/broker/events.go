package broker

import "sync"

// Event is a single job state transition announcement, per SPEC_FULL §4.1:
// "{type:"job_update", job_id, status}", no replay of past events.
type Event struct {
	Type   string `json:"type"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

const subscriberMailboxSize = 32

// hub is the publish/subscribe event bus. Delivery to every subscriber's
// mailbox is a non-blocking send: a subscriber whose mailbox is full is
// dropped rather than allowed to slow the broker, per SPEC_FULL §5's
// "Subscriber isolation" property.
type hub struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

func newHub() *hub {
	return &hub{subscribers: make(map[chan Event]struct{})}
}

// Subscribe registers a new mailbox and returns it plus an unsubscribe
// function the caller must invoke on disconnect.
func (h *hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberMailboxSize)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish broadcasts an event to every current subscriber without blocking
// on any one of them; a full mailbox is dropped outright (the connection
// is considered stalled) rather than buffered further.
func (h *hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			delete(h.subscribers, ch)
			close(ch)
		}
	}
}

func (h *hub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
