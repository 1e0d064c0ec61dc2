package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/vdavid/threadview/internal/auth"
	"github.com/vdavid/threadview/internal/threadview"
	ws "github.com/vdavid/threadview/internal/websocket"
)

// WebSocketHandler serves the render subscription and bridge WebSocket endpoints.
// Both authenticate via query parameter (?token=...) since WebSocket connections
// cannot set custom headers in browsers.
type WebSocketHandler struct {
	registry *threadview.Registry
	hub      *ws.Hub
	apiToken string
}

// NewWebSocketHandler creates a new WebSocketHandler instance.
func NewWebSocketHandler(registry *threadview.Registry, hub *ws.Hub, apiToken string) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		hub:      hub,
		apiToken: apiToken,
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// For now, allow all origins. This server is expected to be used
		// behind a reverse proxy in a trusted environment.
		return true
	},
}

// Subscribe upgrades the connection and registers it as a render surface of the
// session. The current view is sent right away; every change after that is
// pushed by the hub.
func (h *WebSocketHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	t, ok := h.authorize(w, r)
	if !ok {
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocketHandler: failed to upgrade connection for view %s: %v", t.ID(), err)
		return
	}

	client := h.hub.Register(t.ID(), conn)
	if client == nil {
		log.Printf("WebSocketHandler: Connection rejected for view %s (max connections exceeded)", t.ID())
		return
	}

	// Queued behind pending pushes so the initial view never overwrites a newer one.
	t.WithView(func(v threadview.View) {
		if err := client.WriteJSON(renderMessage{Type: "view", View: v}); err != nil {
			log.Printf("WebSocketHandler: failed to send initial view %s: %v", t.ID(), err)
			h.hub.Unregister(t.ID(), client)
		}
	})

	go h.readLoop(t.ID(), client)
}

// Bridge upgrades the connection and applies the native layer's commands to the
// session, replying to each one in order.
func (h *WebSocketHandler) Bridge(w http.ResponseWriter, r *http.Request) {
	t, ok := h.authorize(w, r)
	if !ok {
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocketHandler: failed to upgrade bridge for view %s: %v", t.ID(), err)
		return
	}

	client := h.hub.RegisterBridge(t.ID(), conn)
	log.Printf("WebSocketHandler: bridge connected for view %s", t.ID())
	go h.bridgeLoop(t, client)
}

func (h *WebSocketHandler) authorize(w http.ResponseWriter, r *http.Request) (*threadview.Thread, bool) {
	token, err := auth.TokenFromRequest(r)
	if err != nil {
		log.Printf("WebSocketHandler: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	if err := auth.ValidateToken(h.apiToken, token); err != nil {
		log.Printf("WebSocketHandler: Token validation failed: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	return GetSessionFromPath(w, r, h.registry)
}

// readLoop reads messages from the WebSocket until the connection is closed,
// then unregisters the client.
func (h *WebSocketHandler) readLoop(sessionID string, client *ws.Client) {
	conn := client.Conn()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.hub.Unregister(sessionID, client)
}

// bridgeLoop applies commands until the connection drops or the view is
// closed. A command that arrives after the close is answered with an error.
func (h *WebSocketHandler) bridgeLoop(t *threadview.Thread, client *ws.Client) {
	defer h.hub.UnregisterBridge(t.ID(), client)
	conn := client.Conn()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("WebSocketHandler: bridge for view %s closed: %v", t.ID(), err)
			}
			return
		}

		if _, err := h.registry.Get(t.ID()); err != nil {
			log.Printf("WebSocketHandler: bridge command for closed view %s", t.ID())
			_ = client.WriteJSON(closedViewReply(data))
			return
		}

		reply := handleBridgeCommand(t, data)
		if reply.Error != "" {
			log.Printf("WebSocketHandler: bridge command %q failed for view %s: %s", reply.Op, t.ID(), reply.Error)
		}
		if err := client.WriteJSON(reply); err != nil {
			log.Printf("WebSocketHandler: failed to reply on bridge for view %s: %v", t.ID(), err)
			return
		}
	}
}
