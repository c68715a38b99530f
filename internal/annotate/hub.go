package annotate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/logging"
)

// Connection is one preview subscribed to a project.
type Connection struct {
	ID        string
	ProjectID string
	Conn      *websocket.Conn
	Send      chan []byte
	mu        sync.Mutex
}

// ProjectMessage is a payload for every preview of a project.
type ProjectMessage struct {
	ProjectID string
	Data      []byte
}

// Hub fans annotations out to the previews of each project.
type Hub struct {
	connections map[string]*Connection
	projects    map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *ProjectMessage
	done       chan struct{}

	// OnDrop is called when a message is dropped. Set before Run.
	OnDrop func(projectID string)

	mu sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		projects:    make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *ProjectMessage, 256),
		done:        make(chan struct{}),
	}
}

// Run starts the hub's main loop. It returns when ctx is done, after
// closing every connection's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, conn := range h.connections {
				close(conn.Send)
				delete(h.connections, id)
			}
			h.projects = make(map[string]map[string]bool)
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.projects[conn.ProjectID] == nil {
				h.projects[conn.ProjectID] = make(map[string]bool)
			}
			h.projects[conn.ProjectID][conn.ID] = true
			h.mu.Unlock()
			logging.Debug("preview connected", "conn_id", conn.ID, "project_id", conn.ProjectID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if ids := h.projects[conn.ProjectID]; ids != nil {
					delete(ids, conn.ID)
					if len(ids) == 0 {
						delete(h.projects, conn.ProjectID)
					}
				}
				close(conn.Send)
			}
			h.mu.Unlock()
			logging.Debug("preview disconnected", "conn_id", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for connID := range h.projects[msg.ProjectID] {
				conn := h.connections[connID]
				select {
				case conn.Send <- msg.Data:
				default:
					// Slow preview: annotations are ephemeral, drop this one.
					h.dropped(msg.ProjectID)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection creates a connection for a project. It is not registered yet.
func (h *Hub) NewConnection(ws *websocket.Conn, projectID string) *Connection {
	return &Connection{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Conn:      ws,
		Send:      make(chan []byte, 64),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Broadcast queues data for every preview of a project without blocking.
func (h *Hub) Broadcast(projectID string, data []byte) {
	select {
	case h.broadcast <- &ProjectMessage{ProjectID: projectID, Data: data}:
	default:
		h.dropped(projectID)
	}
}

// BroadcastJSON sends a JSON message to all previews of a project.
func (h *Hub) BroadcastJSON(projectID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(projectID, data)
	return nil
}

// Highlight implements Channel.
func (h *Hub) Highlight(projectID, selector string, kind domain.ActionKind) {
	_ = h.BroadcastJSON(projectID, Highlight(selector, kind))
}

// Clear implements Channel.
func (h *Hub) Clear(projectID string) {
	_ = h.BroadcastJSON(projectID, Clear())
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// HasActiveConnections checks if a project has any preview attached.
func (h *Hub) HasActiveConnections(projectID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.projects[projectID]) > 0
}

func (h *Hub) dropped(projectID string) {
	logging.Debug("annotation dropped", "project_id", projectID)
	if h.OnDrop != nil {
		h.OnDrop(projectID)
	}
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
