package webservice

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ohowland/winterriver/internal/pkg/engine"
	"github.com/ohowland/winterriver/internal/pkg/msg"
)

const (
	writeWait  = 2 * time.Second
	clientSend = 4
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsClient struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Hub fans tick results out to websocket clients. A client that cannot
// keep up misses ticks.
type Hub struct {
	mux     *sync.RWMutex
	pid     uuid.UUID
	clients map[uuid.UUID]*wsClient
	closed  bool
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		mux:     &sync.RWMutex{},
		pid:     uuid.New(),
		clients: make(map[uuid.UUID]*wsClient),
	}
}

// Clients counts connected clients.
func (h *Hub) Clients() int {
	h.mux.RLock()
	defer h.mux.RUnlock()
	return len(h.clients)
}

// Process broadcasts every tick published by system until ctx is cancelled.
func (h *Hub) Process(ctx context.Context, system msg.Publisher) error {
	ch, err := system.Subscribe(h.pid, msg.Status)
	if err != nil {
		return err
	}
	defer system.Unsubscribe(h.pid)
	log.Println("[Webservice] Hub Started")
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			if result, ok := m.Payload().(engine.TickResult); ok {
				h.Broadcast(result)
			}
		case <-ctx.Done():
			log.Println("[Webservice] Hub Shutdown")
			return nil
		}
	}
}

// Broadcast queues result for every client.
func (h *Hub) Broadcast(result engine.TickResult) {
	body, err := json.Marshal(result)
	if err != nil {
		log.Println("[Webservice] malformed JSON:", err)
		return
	}
	h.mux.RLock()
	defer h.mux.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- body:
		default:
		}
	}
}

// ServeWS upgrades the request and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[Webservice] upgrade:", err)
		return
	}
	c := &wsClient{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, clientSend),
		done: make(chan struct{}),
	}

	h.mux.Lock()
	if h.closed {
		h.mux.Unlock()
		conn.Close()
		return
	}
	h.clients[c.id] = c
	h.mux.Unlock()

	go h.readPump(c)
	go h.writePump(c)
}

// readPump discards client frames and unregisters the client when the
// connection ends.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.mux.Lock()
		delete(h.clients, c.id)
		h.mux.Unlock()
		close(c.done)
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	for {
		select {
		case body := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mux.Lock()
	defer h.mux.Unlock()
	h.closed = true
	for _, c := range h.clients {
		c.conn.Close()
	}
}
