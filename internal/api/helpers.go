package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/vdavid/threadview/internal/threadview"
)

// maxMessageBytes bounds a single message payload read from a request body.
const maxMessageBytes = 8 << 20

// focusResponse is returned by every operation that may move focus.
type focusResponse struct {
	Focused string `json:"focused"`
}

// GetSessionFromPath resolves the {id} path value to an open view session and
// writes the appropriate HTTP error when it fails. Returns (thread, true) on success.
func GetSessionFromPath(w http.ResponseWriter, r *http.Request, registry *threadview.Registry) (*threadview.Thread, bool) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "view id is required", http.StatusBadRequest)
		return nil, false
	}

	t, err := registry.Get(id)
	if err != nil {
		if errors.Is(err, threadview.ErrSessionNotFound) {
			http.Error(w, "View not found", http.StatusNotFound)
			return nil, false
		}
		log.Printf("API: Failed to get view %s: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}

	return t, true
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: Failed to encode response: %v", err)
	}
}

// focusedString formats the focused pair of a session, or "" when nothing is focused.
func focusedString(t *threadview.Thread) string {
	if el, ok := t.Focused(); ok {
		return el.String()
	}
	return ""
}
