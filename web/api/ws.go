package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsSubscription struct {
	batchID string
	ch      chan SSEEvent
}

// WSHub fans batch-scoped events out to websocket subscribers
type WSHub struct {
	subscribers map[string]map[chan SSEEvent]bool
	send        chan SSEEvent
	sendTo      chan struct {
		batchID string
		event   SSEEvent
	}
	register   chan wsSubscription
	unregister chan wsSubscription
}

// NewWSHub creates a new websocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		subscribers: make(map[string]map[chan SSEEvent]bool),
		sendTo: make(chan struct {
			batchID string
			event   SSEEvent
		}, 64),
		register:   make(chan wsSubscription),
		unregister: make(chan wsSubscription),
	}
}

// Run starts the hub loop
func (h *WSHub) Run() {
	for {
		select {
		case sub := <-h.register:
			if h.subscribers[sub.batchID] == nil {
				h.subscribers[sub.batchID] = make(map[chan SSEEvent]bool)
			}
			h.subscribers[sub.batchID][sub.ch] = true

		case sub := <-h.unregister:
			if subs, ok := h.subscribers[sub.batchID]; ok {
				if _, ok := subs[sub.ch]; ok {
					delete(subs, sub.ch)
					close(sub.ch)
				}
				if len(subs) == 0 {
					delete(h.subscribers, sub.batchID)
				}
			}

		case msg := <-h.sendTo:
			for ch := range h.subscribers[msg.batchID] {
				select {
				case ch <- msg.event:
				default:
					close(ch)
					delete(h.subscribers[msg.batchID], ch)
				}
			}
		}
	}
}

// Send delivers an event to subscribers of one batch
func (h *WSHub) Send(batchID string, event SSEEvent) {
	select {
	case h.sendTo <- struct {
		batchID string
		event   SSEEvent
	}{batchID, event}:
	default:
	}
}

// serveBatchWS streams live progress events for one batch over a
// websocket connection
func (s *Server) serveBatchWS(w http.ResponseWriter, r *http.Request, batchID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sub := wsSubscription{batchID: batchID, ch: make(chan SSEEvent, 16)}
	s.wsHub.register <- sub

	// Reader goroutine only to detect disconnects
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.wsHub.unregister <- sub
			conn.Close()
		})
	}
	defer cleanup()

	for {
		select {
		case <-done:
			return
		case event, ok := <-sub.ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				log.Printf("websocket write for batch %s: %v", batchID, err)
				return
			}
		}
	}
}
