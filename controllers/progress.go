package controller

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"outreach/dispatch"
)

// ProgressEvent is one message on the dispatch progress stream
type ProgressEvent struct {
	Type    string            `json:"type"`
	Index   int               `json:"index,omitempty"`
	Total   int               `json:"total,omitempty"`
	Outcome *dispatch.Outcome `json:"outcome,omitempty"`
	Summary string            `json:"summary,omitempty"`
}

const (
	EventOutcome = "outcome"
	EventDone    = "done"
)

// ProgressHub fans dispatch outcomes out to the websockets of one session
type ProgressHub struct {
	mu   sync.Mutex
	subs map[string]map[chan ProgressEvent]struct{}
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{subs: make(map[string]map[chan ProgressEvent]struct{})}
}

// Subscribe returns a buffered channel and a func that closes it
func (h *ProgressHub) Subscribe(session string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 64)
	h.mu.Lock()
	if h.subs[session] == nil {
		h.subs[session] = make(map[chan ProgressEvent]struct{})
	}
	h.subs[session][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[session], ch)
			if len(h.subs[session]) == 0 {
				delete(h.subs, session)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish never blocks; slow listeners lose events
func (h *ProgressHub) Publish(session string, ev ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[session] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// HandleDispatchProgressWS streams progress events for the caller's session
// until the client goes away.
func HandleDispatchProgressWS(hub *ProgressHub, logger *logrus.Entry) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		defer c.Close()

		session, _ := c.Locals("sessionID").(string)
		events, cancel := hub.Subscribe(session)
		defer cancel()

		// reader notices the client closing
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := c.WriteJSON(ev); err != nil {
					logger.WithError(err).Debug("Progress stream closed")
					return
				}
			}
		}
	}
}
