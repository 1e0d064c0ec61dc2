package imap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/threadview/internal/models"
	"github.com/vdavid/threadview/internal/testutil"
	"github.com/vdavid/threadview/internal/threadview"
)

func TestSource_LoadThread(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	t.Cleanup(server.Close)
	server.EnsureINBOX(t)
	seedThread(t, server)

	source := NewSource(server.Address, server.Username(), server.Password(), false, ParseOptions{})
	t.Cleanup(source.Close)

	ctx := context.Background()

	t.Run("loads every message of the thread", func(t *testing.T) {
		raws, err := source.LoadThread(ctx, "INBOX", "<reply1@test>")
		require.NoError(t, err)
		require.Len(t, raws, 3)

		var msgs []models.Message
		for _, raw := range raws {
			msgs = append(msgs, threadview.Normalize(raw))
		}
		assert.Equal(t, "root@test", msgs[0].ID)
		assert.Equal(t, "reply1@test", msgs[1].ID)
		assert.Equal(t, "reply2@test", msgs[2].ID)
		assert.Equal(t, "root@test", msgs[1].InReplyTo)

		seen := map[models.Element]bool{}
		eids := map[string]bool{}
		for _, el := range threadview.Flatten(msgs) {
			assert.False(t, seen[el], "duplicate element %v", el)
			seen[el] = true
			if !el.IsRoot() {
				assert.False(t, eids[el.ElementID], "element id %s reused across messages", el.ElementID)
				eids[el.ElementID] = true
			}
		}
		assert.Len(t, eids, 3, "one text part per message")
	})

	t.Run("reuses the connection", func(t *testing.T) {
		_, err := source.LoadThread(ctx, "INBOX", "<root@test>")
		require.NoError(t, err)
		_, err = source.LoadThread(ctx, "INBOX", "<root@test>")
		require.NoError(t, err)
	})

	t.Run("unknown message", func(t *testing.T) {
		_, err := source.LoadThread(ctx, "INBOX", "<missing@test>")
		assert.ErrorIs(t, err, ErrThreadNotFound)
	})

	t.Run("unknown folder", func(t *testing.T) {
		_, err := source.LoadThread(ctx, "Nope", "<root@test>")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to select folder")
	})

	t.Run("canceled context", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := source.LoadThread(canceled, "INBOX", "<root@test>")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSource_LoadThreadBadCredentials(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	t.Cleanup(server.Close)

	source := NewSource(server.Address, "username", "wrong", false, ParseOptions{})
	t.Cleanup(source.Close)

	_, err := source.LoadThread(context.Background(), "INBOX", "<root@test>")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to IMAP server")
}
