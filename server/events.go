package server

import (
	"sync"
	"time"

	"github.com/santiagomed/forge/core"
)

type Event struct {
	Type  string    `json:"type"`
	Step  string    `json:"step,omitempty"`
	State string    `json:"state"`
	Error string    `json:"error,omitempty"`
	Time  time.Time `json:"time"`
}

// hub is the StepPublisher of one session. It fans events out to websocket
// subscribers; a subscriber that falls behind loses events.
type hub struct {
	mu      sync.Mutex
	subs    map[chan Event]struct{}
	session *core.Session
	closed  bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan Event]struct{})}
}

func (h *hub) PublishStep(step core.StepType) {
	h.broadcast(Event{Type: "step", Step: step.String()})
}

func (h *hub) Error(step core.StepType, err error) {
	msg := err.Error()
	if h.session != nil {
		msg = core.UserMessage(h.session.Mode(), err)
	}
	h.broadcast(Event{Type: "error", Step: step.String(), Error: msg})
}

func (h *hub) snapshot() Event {
	return h.stamp(Event{Type: "state"})
}

func (h *hub) stamp(e Event) Event {
	if h.session != nil {
		e.State = string(h.session.State())
	}
	e.Time = time.Now()
	return e
}

func (h *hub) broadcast(e Event) {
	e = h.stamp(e)
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *hub) subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// close ends every subscription, e.g. when the session is evicted.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
