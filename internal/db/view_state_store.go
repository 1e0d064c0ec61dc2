package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/threadview/internal/models"
)

// ViewStateStore persists thread view state in Postgres.
type ViewStateStore struct {
	pool *pgxpool.Pool
}

// NewViewStateStore creates a ViewStateStore that uses the given database pool.
func NewViewStateStore(pool *pgxpool.Pool) *ViewStateStore {
	return &ViewStateStore{pool: pool}
}

// LoadViewState returns the expanded flags and focus saved for a thread.
// A thread that was never saved yields an empty state.
func (s *ViewStateStore) LoadViewState(ctx context.Context, threadKey string) (models.ViewState, error) {
	expanded, err := GetExpandedMessages(ctx, s.pool, threadKey)
	if err != nil {
		return models.ViewState{}, err
	}

	state := models.ViewState{Expanded: expanded}

	focus, err := GetFocus(ctx, s.pool, threadKey)
	switch {
	case err == nil:
		state.Focus = &focus
	case !errors.Is(err, ErrViewStateNotFound):
		return models.ViewState{}, err
	}

	return state, nil
}

// SaveViewState stores the expanded flags and focus of a thread.
func (s *ViewStateStore) SaveViewState(ctx context.Context, threadKey string, state models.ViewState) error {
	if err := SaveViewState(ctx, s.pool, threadKey, state.Expanded); err != nil {
		return err
	}
	if state.Focus == nil {
		return DeleteFocus(ctx, s.pool, threadKey)
	}
	return SaveFocus(ctx, s.pool, threadKey, *state.Focus)
}
