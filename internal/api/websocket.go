package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"agent-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamedEvents are the bus topics forwarded to websocket clients.
var streamedEvents = []events.Event{
	events.EventSnapshotUpdated,
	events.EventActionQueued,
	events.EventActionTriggered,
	events.EventActionExecuted,
	events.EventActionFailed,
	events.EventOrderPlaced,
	events.EventPositionClosed,
	events.EventTickCompleted,
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("api: ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	type envelope struct {
		Event   string `json:"event"`
		Payload any    `json:"payload"`
	}

	merged := make(chan envelope, 100)
	done := make(chan struct{})
	defer close(done)

	for _, e := range streamedEvents {
		stream, unsub := s.Bus.Subscribe(e, 100)
		defer unsub()
		go func(e events.Event, stream <-chan any) {
			for msg := range stream {
				select {
				case merged <- envelope{Event: string(e), Payload: msg}:
				case <-done:
					return
				}
			}
		}(e, stream)
	}

	for {
		select {
		case msg := <-merged:
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("api: ws write error: %v", err)
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}
