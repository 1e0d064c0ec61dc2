package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/threadview/internal/models"
)

// ErrViewStateNotFound is returned when no focus was saved for a thread.
var ErrViewStateNotFound = errors.New("view state not found")

// SaveViewState upserts the expanded flag of every message of a thread.
func SaveViewState(ctx context.Context, pool *pgxpool.Pool, threadKey string, expanded map[string]bool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for messageID, isExpanded := range expanded {
		_, err := tx.Exec(ctx, `
			INSERT INTO view_state (thread_key, message_id, expanded, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (thread_key, message_id) DO UPDATE SET
				expanded = EXCLUDED.expanded,
				updated_at = now()
		`, threadKey, messageID, isExpanded)
		if err != nil {
			return fmt.Errorf("failed to save view state: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit view state: %w", err)
	}
	return nil
}

// GetExpandedMessages returns the ids of the messages saved as expanded for a thread.
func GetExpandedMessages(ctx context.Context, pool *pgxpool.Pool, threadKey string) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `
		SELECT message_id
		FROM view_state
		WHERE thread_key = $1 AND expanded
	`, threadKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get expanded messages: %w", err)
	}
	defer rows.Close()

	expanded := make(map[string]bool)
	for rows.Next() {
		var messageID string
		if err := rows.Scan(&messageID); err != nil {
			return nil, fmt.Errorf("failed to scan expanded message: %w", err)
		}
		expanded[messageID] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read expanded messages: %w", err)
	}

	return expanded, nil
}

// SaveFocus stores the focused element of a thread.
func SaveFocus(ctx context.Context, pool *pgxpool.Pool, threadKey string, focus models.Element) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO view_focus (thread_key, message_id, element_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (thread_key) DO UPDATE SET
			message_id = EXCLUDED.message_id,
			element_id = EXCLUDED.element_id,
			updated_at = now()
	`, threadKey, focus.MessageID, focus.ElementID)
	if err != nil {
		return fmt.Errorf("failed to save focus: %w", err)
	}
	return nil
}

// DeleteFocus forgets the focused element of a thread.
func DeleteFocus(ctx context.Context, pool *pgxpool.Pool, threadKey string) error {
	if _, err := pool.Exec(ctx, `DELETE FROM view_focus WHERE thread_key = $1`, threadKey); err != nil {
		return fmt.Errorf("failed to delete focus: %w", err)
	}
	return nil
}

// GetFocus returns the focused element saved for a thread.
func GetFocus(ctx context.Context, pool *pgxpool.Pool, threadKey string) (models.Element, error) {
	var focus models.Element
	err := pool.QueryRow(ctx, `
		SELECT message_id, element_id
		FROM view_focus
		WHERE thread_key = $1
	`, threadKey).Scan(&focus.MessageID, &focus.ElementID)

	if errors.Is(err, pgx.ErrNoRows) {
		return models.Element{}, ErrViewStateNotFound
	}
	if err != nil {
		return models.Element{}, fmt.Errorf("failed to get focus: %w", err)
	}

	return focus, nil
}
