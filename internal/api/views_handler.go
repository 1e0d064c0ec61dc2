package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/vdavid/threadview/internal/background"
	"github.com/vdavid/threadview/internal/threadview"
	ws "github.com/vdavid/threadview/internal/websocket"
)

const defaultFolder = "INBOX"

// ThreadLoader loads the raw messages of a thread and reports mailbox changes.
// *imap.Source implements it.
type ThreadLoader interface {
	LoadThread(ctx context.Context, folder, messageID string) ([]map[string]any, error)
	Watch(ctx context.Context, folder string, onChange func()) error
}

// renderMessage is pushed to render subscribers after every change.
type renderMessage struct {
	Type string          `json:"type"`
	View threadview.View `json:"view"`
}

type createViewRequest struct {
	ThreadKey string `json:"thread_key"`
	Folder    string `json:"folder"`
	MessageID string `json:"message_id"`
}

type createViewResponse struct {
	ID string `json:"id"`
}

type listViewsResponse struct {
	Views []string `json:"views"`
}

type addMessageResponse struct {
	ID      string `json:"id"`
	Focused string `json:"focused"`
}

// ViewsHandler serves the /api/v1/views endpoints.
type ViewsHandler struct {
	registry  *threadview.Registry
	hub       *ws.Hub
	collector *background.Collector
	loader    ThreadLoader

	mu          sync.Mutex
	loadCancels map[string]context.CancelFunc
}

// NewViewsHandler creates a new ViewsHandler. loader may be nil when no IMAP
// server is configured; views are then fed through the bridge only.
func NewViewsHandler(registry *threadview.Registry, hub *ws.Hub, collector *background.Collector, loader ThreadLoader) *ViewsHandler {
	return &ViewsHandler{
		registry:    registry,
		hub:         hub,
		collector:   collector,
		loader:      loader,
		loadCancels: make(map[string]context.CancelFunc),
	}
}

// CreateView opens a view session and, when possible, starts loading its thread.
func (h *ViewsHandler) CreateView(w http.ResponseWriter, r *http.Request) {
	var req createViewRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Folder == "" {
		req.Folder = defaultFolder
	}

	t, err := h.registry.Open(r.Context(), req.ThreadKey)
	if err != nil {
		log.Printf("ViewsHandler: Failed to open view: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	id := t.ID()
	t.OnChange(func(v threadview.View) {
		h.hub.SendJSON(id, renderMessage{Type: "view", View: v})
	})

	if h.loader != nil && req.MessageID != "" {
		h.startLoading(t, req.Folder, req.MessageID)
	}

	writeJSON(w, http.StatusCreated, createViewResponse{ID: id})
}

// ListViews returns the ids of the open sessions.
func (h *ViewsHandler) ListViews(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, listViewsResponse{Views: h.registry.List()})
}

// GetView returns the projected view of a session.
func (h *ViewsHandler) GetView(w http.ResponseWriter, r *http.Request) {
	t, ok := GetSessionFromPath(w, r, h.registry)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t.Project())
}

// DeleteView stops loading, disconnects subscribers and bridges, then saves the
// view state.
func (h *ViewsHandler) DeleteView(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.registry.Get(id); errors.Is(err, threadview.ErrSessionNotFound) {
		http.Error(w, "View not found", http.StatusNotFound)
		return
	}

	h.stopLoading(id)
	h.hub.CloseSession(id)

	err := h.registry.Close(r.Context(), id)
	if errors.Is(err, threadview.ErrSessionNotFound) {
		http.Error(w, "View not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("ViewsHandler: Failed to close view %s: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// FocusNext moves focus to the next element.
func (h *ViewsHandler) FocusNext(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, (*threadview.Thread).FocusNextElement)
}

// FocusPrevious moves focus to the previous element.
func (h *ViewsHandler) FocusPrevious(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, (*threadview.Thread).FocusPreviousElement)
}

// FocusIndex focuses the element at {index}, clamped to the element list.
func (h *ViewsHandler) FocusIndex(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		http.Error(w, "index must be an integer", http.StatusBadRequest)
		return
	}
	h.withSession(w, r, func(t *threadview.Thread) string {
		return t.FocusElement(index)
	})
}

// ExpandMessage expands {mid}.
func (h *ViewsHandler) ExpandMessage(w http.ResponseWriter, r *http.Request) {
	mid := r.PathValue("mid")
	h.withSession(w, r, func(t *threadview.Thread) string {
		return t.ExpandMessage(mid)
	})
}

// CollapseMessage collapses {mid}.
func (h *ViewsHandler) CollapseMessage(w http.ResponseWriter, r *http.Request) {
	mid := r.PathValue("mid")
	h.withSession(w, r, func(t *threadview.Thread) string {
		return t.CollapseMessage(mid)
	})
}

// ToggleMessage flips the expanded flag of {mid}.
func (h *ViewsHandler) ToggleMessage(w http.ResponseWriter, r *http.Request) {
	mid := r.PathValue("mid")
	h.withSession(w, r, func(t *threadview.Thread) string {
		return t.ToggleMessage(mid)
	})
}

// AddMessage inserts or replaces a message from a raw JSON body.
func (h *ViewsHandler) AddMessage(w http.ResponseWriter, r *http.Request) {
	t, ok := GetSessionFromPath(w, r, h.registry)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	msg, focused, err := t.AddMessageJSON(data)
	if err != nil {
		http.Error(w, "Invalid message: "+err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, addMessageResponse{ID: msg.ID, Focused: focused})
}

// ClearMessages removes every message from the session.
func (h *ViewsHandler) ClearMessages(w http.ResponseWriter, r *http.Request) {
	t, ok := GetSessionFromPath(w, r, h.registry)
	if !ok {
		return
	}
	t.ClearMessages()
	writeJSON(w, http.StatusOK, focusResponse{Focused: ""})
}

// Close stops every background load.
func (h *ViewsHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, cancel := range h.loadCancels {
		cancel()
		delete(h.loadCancels, id)
	}
}

func (h *ViewsHandler) withSession(w http.ResponseWriter, r *http.Request, op func(*threadview.Thread) string) {
	t, ok := GetSessionFromPath(w, r, h.registry)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, focusResponse{Focused: op(t)})
}

// startLoading loads the thread from IMAP on the collector and keeps it fresh
// with an IDLE watch until the session closes.
func (h *ViewsHandler) startLoading(t *threadview.Thread, folder, messageID string) {
	sessionCtx, cancel := context.WithCancel(context.Background())

	h.mu.Lock()
	h.loadCancels[t.ID()] = cancel
	h.mu.Unlock()

	h.collector.Go("load thread "+t.ID(), func(ctx context.Context) error {
		defer h.stopLoading(t.ID())

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(sessionCtx, cancel)
		defer stop()

		if err := h.reload(ctx, t, folder, messageID); err != nil {
			return err
		}

		return h.loader.Watch(ctx, folder, func() {
			if err := h.reload(ctx, t, folder, messageID); err != nil {
				log.Printf("ViewsHandler: Failed to reload view %s: %v", t.ID(), err)
			}
		})
	})
}

func (h *ViewsHandler) reload(ctx context.Context, t *threadview.Thread, folder, messageID string) error {
	raws, err := h.loader.LoadThread(ctx, folder, messageID)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	for _, raw := range raws {
		t.AddMessage(raw)
	}
	return nil
}

func (h *ViewsHandler) stopLoading(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cancel, ok := h.loadCancels[id]; ok {
		cancel()
		delete(h.loadCancels, id)
	}
}
