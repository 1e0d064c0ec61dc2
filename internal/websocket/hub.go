package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single write to a subscriber.
const writeWait = 5 * time.Second

// Client wraps a WebSocket connection. Writes are serialized because a
// gorilla connection supports only one concurrent writer.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// WriteMessage writes one text message to the connection.
func (c *Client) WriteMessage(msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// WriteJSON writes v as one JSON text message.
func (c *Client) WriteJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteMessage(payload)
}

// Hub manages the WebSocket subscribers of each view session.
// A session may have several subscribers (e.g., a render surface and a debugging tab).
// Bridge connections are tracked separately: they receive no pushes and do not
// count against the limit, but are closed together with the session.
type Hub struct {
	mu            sync.RWMutex
	clients       map[string]map[*Client]struct{} // sessionID -> set of clients
	bridges       map[string]map[*Client]struct{} // sessionID -> set of bridge connections
	maxPerSession int
}

// NewHub creates a new Hub with a per-session connection limit.
func NewHub(maxPerSession int) *Hub {
	if maxPerSession <= 0 {
		maxPerSession = 10
	}
	return &Hub{
		clients:       make(map[string]map[*Client]struct{}),
		bridges:       make(map[string]map[*Client]struct{}),
		maxPerSession: maxPerSession,
	}
}

// Register adds a WebSocket connection for the given session.
// If the per-session limit is exceeded, the new connection is closed and nil is returned.
func (h *Hub) Register(sessionID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessionClients, ok := h.clients[sessionID]
	if !ok {
		sessionClients = make(map[*Client]struct{})
		h.clients[sessionID] = sessionClients
	}

	if len(sessionClients) >= h.maxPerSession {
		log.Printf("websocket: session %s exceeded max connections (%d), closing new connection", sessionID, h.maxPerSession)
		closeWithReason(conn, websocket.ClosePolicyViolation, "too many connections for this session")
		if len(sessionClients) == 0 {
			delete(h.clients, sessionID)
		}
		return nil
	}

	client := &Client{conn: conn}
	sessionClients[client] = struct{}{}
	return client
}

// Unregister removes a client for the given session and closes the connection.
func (h *Hub) Unregister(sessionID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	removeClient(h.clients, sessionID, client)
	h.mu.Unlock()

	_ = client.conn.Close()
}

// RegisterBridge tracks a bridge connection of the session so CloseSession can
// disconnect it.
func (h *Hub) RegisterBridge(sessionID string, conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessionBridges, ok := h.bridges[sessionID]
	if !ok {
		sessionBridges = make(map[*Client]struct{})
		h.bridges[sessionID] = sessionBridges
	}

	client := &Client{conn: conn}
	sessionBridges[client] = struct{}{}
	return client
}

// UnregisterBridge stops tracking a bridge connection and closes it.
func (h *Hub) UnregisterBridge(sessionID string, client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	removeClient(h.bridges, sessionID, client)
	h.mu.Unlock()

	_ = client.conn.Close()
}

// Send broadcasts a message to all active clients of the session.
func (h *Hub) Send(sessionID string, msg []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[sessionID]))
	for client := range h.clients[sessionID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if err := client.WriteMessage(msg); err != nil {
			log.Printf("websocket: failed to write message for session %s: %v", sessionID, err)
			// Best-effort cleanup: unregister this client.
			go h.Unregister(sessionID, client)
		}
	}
}

// SendJSON marshals v and broadcasts it to the session.
func (h *Hub) SendJSON(sessionID string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("websocket: failed to marshal message for session %s: %v", sessionID, err)
		return
	}
	h.Send(sessionID, payload)
}

// CloseSession disconnects every subscriber and bridge of the session.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	targets := collectClients(nil, h.clients[sessionID])
	targets = collectClients(targets, h.bridges[sessionID])
	delete(h.clients, sessionID)
	delete(h.bridges, sessionID)
	h.mu.Unlock()

	closeClients(targets, "session closed")
}

// CloseAll disconnects every connection of every session.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	var targets []*Client
	for _, sessionClients := range h.clients {
		targets = collectClients(targets, sessionClients)
	}
	for _, sessionBridges := range h.bridges {
		targets = collectClients(targets, sessionBridges)
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.bridges = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	closeClients(targets, "server shutting down")
}

// ActiveConnections returns the number of active WebSocket connections for a session.
func (h *Hub) ActiveConnections(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[sessionID])
}

// ActiveBridges returns the number of bridge connections for a session.
func (h *Hub) ActiveBridges(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.bridges[sessionID])
}

func removeClient(sessions map[string]map[*Client]struct{}, sessionID string, client *Client) {
	if sessionClients, ok := sessions[sessionID]; ok {
		delete(sessionClients, client)
		if len(sessionClients) == 0 {
			delete(sessions, sessionID)
		}
	}
}

func collectClients(dst []*Client, set map[*Client]struct{}) []*Client {
	for client := range set {
		dst = append(dst, client)
	}
	return dst
}

func closeClients(clients []*Client, reason string) {
	for _, client := range clients {
		client.writeMu.Lock()
		closeWithReason(client.conn, websocket.CloseNormalClosure, reason)
		client.writeMu.Unlock()
	}
}

func closeWithReason(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	_ = conn.Close()
}
