package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/chepyr/taskmaster/internal/models"
	"github.com/chepyr/taskmaster/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	EventTaskCreated = "task_created"
	EventTaskUpdated = "task_updated"
	EventTaskDeleted = "task_deleted"

	writeWait = 5 * time.Second
	// events queued per connection before a slow reader is dropped
	sendBuffer = 32
)

type taskEvent struct {
	Event  string        `json:"event"`
	TaskID uuid.UUID     `json:"task_id"`
	Task   *taskResponse `json:"task"`
}

// wsClient is one open feed. Only writePump writes data frames to conn.
type wsClient struct {
	ownerID   uuid.UUID
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(ownerID uuid.UUID, conn *websocket.Conn) *wsClient {
	return &wsClient{
		ownerID: ownerID,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsClient) writePump() {
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to send WebSocket message: %v", err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// WSHub fans task changes out to the owner's open connections. A user never
// receives events about someone else's tasks. Broadcast only queues; network
// writes happen on each connection's own goroutine.
type WSHub struct {
	connections map[uuid.UUID]map[*wsClient]bool
	mutex       sync.Mutex
}

func NewWSHub() *WSHub {
	return &WSHub{connections: make(map[uuid.UUID]map[*wsClient]bool)}
}

func (h *WSHub) register(c *wsClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.connections[c.ownerID] == nil {
		h.connections[c.ownerID] = make(map[*wsClient]bool)
	}
	h.connections[c.ownerID][c] = true
}

func (h *WSHub) unregister(c *wsClient) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if conns, ok := h.connections[c.ownerID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.connections, c.ownerID)
		}
	}
}

func (h *WSHub) subscribers(ownerID uuid.UUID) []*wsClient {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	conns := h.connections[ownerID]
	out := make([]*wsClient, 0, len(conns))
	for c := range conns {
		out = append(out, c)
	}
	return out
}

// Broadcast queues a task event for every connection of ownerID.
// task is nil for deletions. A connection whose queue is full is dropped.
func (h *WSHub) Broadcast(ownerID uuid.UUID, event string, taskID uuid.UUID, task *models.Task) {
	clients := h.subscribers(ownerID)
	if len(clients) == 0 {
		return
	}

	msg := taskEvent{Event: event, TaskID: taskID}
	if task != nil {
		resp := newTaskResponse(task)
		msg.Task = &resp
	}
	message, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Failed to marshal task event: %v", err)
		return
	}

	for _, c := range clients {
		select {
		case c.send <- message:
		case <-c.done:
		default:
			log.Printf("Dropping slow WebSocket subscriber of %s", ownerID)
			h.unregister(c)
			c.close()
		}
	}
}

// CloseAll drops every connection, used on shutdown.
func (h *WSHub) CloseAll() {
	h.mutex.Lock()
	var clients []*wsClient
	for ownerID, conns := range h.connections {
		for c := range conns {
			clients = append(clients, c)
		}
		delete(h.connections, ownerID)
	}
	h.mutex.Unlock()

	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.close()
	}
}

// GET /api/ws
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	user, ok := session.UserFromContext(r.Context())
	if !ok {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return checkOrigin(r, h.AllowedOrigins)
		},
	}
	// Upgrade replies to the client itself on failure
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := newWSClient(user.ID, conn)
	h.WSHub.register(client)
	go client.writePump()
	defer func() {
		h.WSHub.unregister(client)
		client.close()
	}()

	// the feed is one-way; reading only detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
	}
}
