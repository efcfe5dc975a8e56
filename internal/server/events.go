package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ShayCichocki/hive/internal/orchestrator"
)

const (
	clientBuffer  = 64
	writeDeadline = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// eventHub fans the orchestrator's single event stream out to every
// connected websocket. A client that cannot keep up is dropped.
type eventHub struct {
	debugLog func(format string, args ...interface{})

	mu      sync.Mutex
	clients map[*websocket.Conn]chan orchestrator.Event
	closed  bool
}

func newEventHub(debugLog func(format string, args ...interface{})) *eventHub {
	return &eventHub{
		debugLog: debugLog,
		clients:  make(map[*websocket.Conn]chan orchestrator.Event),
	}
}

// pump consumes the orchestrator event channel and broadcasts.
func (h *eventHub) pump(ctx context.Context, events <-chan orchestrator.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			h.broadcast(ev)
		}
	}
}

func (h *eventHub) broadcast(ev orchestrator.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- ev:
		default:
			h.debugLog("[server] dropping slow event client %s", conn.RemoteAddr())
			delete(h.clients, conn)
			close(ch)
		}
	}
}

func (h *eventHub) add(conn *websocket.Conn) (chan orchestrator.Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	ch := make(chan orchestrator.Event, clientBuffer)
	h.clients[conn] = ch
	return ch, true
}

func (h *eventHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn, ch := range h.clients {
		delete(h.clients, conn)
		close(ch)
		conn.Close()
	}
}

// handleEvents upgrades the connection and streams orchestrator events
// as JSON until the client disconnects.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.debugLog("[server] websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ch, ok := s.hub.add(conn)
	if !ok {
		return
	}
	defer s.hub.remove(conn)

	// Reader goroutine: surfaces client disconnects, discards input.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
