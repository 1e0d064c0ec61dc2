package threadview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/vdavid/threadview/internal/models"
)

// ErrSessionNotFound is returned when a session id does not match an open view.
var ErrSessionNotFound = errors.New("view session not found")

// ViewStateStore persists view state per thread key.
type ViewStateStore interface {
	LoadViewState(ctx context.Context, threadKey string) (models.ViewState, error)
	SaveViewState(ctx context.Context, threadKey string, state models.ViewState) error
}

// Registry owns the open view sessions.
type Registry struct {
	store   ViewStateStore
	palette map[string]models.TagColor

	mu       sync.RWMutex
	sessions map[string]*Thread
}

// NewRegistry creates a registry. A nil store disables persistence.
func NewRegistry(store ViewStateStore, palette map[string]models.TagColor) *Registry {
	return &Registry{
		store:    store,
		palette:  palette,
		sessions: make(map[string]*Thread),
	}
}

// Open starts a new session for a thread key, restoring the saved view state if any.
func (r *Registry) Open(ctx context.Context, threadKey string) (*Thread, error) {
	var restore models.ViewState
	if r.store != nil && threadKey != "" {
		state, err := r.store.LoadViewState(ctx, threadKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load view state: %w", err)
		}
		restore = state
	}

	t := NewThread(uuid.New().String(), threadKey, restore, r.palette)

	r.mu.Lock()
	r.sessions[t.ID()] = t
	r.mu.Unlock()

	log.Printf("ThreadView: opened session %s for thread %q", t.ID(), threadKey)
	return t, nil
}

// Get returns an open session.
func (r *Registry) Get(id string) (*Thread, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return t, nil
}

// Close removes a session and saves its view state. The session is removed even
// when saving fails.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	t, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	log.Printf("ThreadView: closed session %s", id)
	if r.store == nil || t.Key() == "" {
		return nil
	}
	if err := r.store.SaveViewState(ctx, t.Key(), t.ViewState()); err != nil {
		return fmt.Errorf("failed to save view state: %w", err)
	}
	return nil
}

// List returns the ids of the open sessions, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseAll closes every session, returning the first save error.
func (r *Registry) CloseAll(ctx context.Context) error {
	var firstErr error
	for _, id := range r.List() {
		if err := r.Close(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
