package imap

import (
	"context"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/stretchr/testify/assert"
	"github.com/vdavid/threadview/internal/testutil"
)

func TestIsMailboxChange(t *testing.T) {
	tests := []struct {
		name   string
		update imapclient.Update
		want   bool
	}{
		{"nil update", nil, false},
		{"status of watched folder", &imapclient.MailboxUpdate{Mailbox: &imap.MailboxStatus{Name: "INBOX", Messages: 3}}, true},
		{"status of another folder", &imapclient.MailboxUpdate{Mailbox: &imap.MailboxStatus{Name: "Sent"}}, false},
		{"status without mailbox", &imapclient.MailboxUpdate{}, false},
		{"expunge", &imapclient.ExpungeUpdate{SeqNum: 1}, true},
		{"flags change", &imapclient.MessageUpdate{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isMailboxChange(tt.update, "INBOX"))
		})
	}
}

func withShortIdleSleep(t *testing.T) {
	t.Helper()
	original := idleListenerSleep
	idleListenerSleep = 10 * time.Millisecond
	t.Cleanup(func() { idleListenerSleep = original })
}

func TestSource_WatchStopsOnCancel(t *testing.T) {
	withShortIdleSleep(t)

	t.Run("while idling", func(t *testing.T) {
		server := testutil.NewTestIMAPServer(t)
		t.Cleanup(server.Close)
		server.EnsureINBOX(t)

		source := NewSource(server.Address, server.Username(), server.Password(), false, ParseOptions{})
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() {
			done <- source.Watch(ctx, "INBOX", func() {})
		}()

		time.Sleep(200 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("Watch did not return after cancel")
		}
	})

	t.Run("while reconnecting", func(t *testing.T) {
		source := NewSource("127.0.0.1:1", "u", "p", false, ParseOptions{})
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() {
			done <- source.Watch(ctx, "INBOX", func() {})
		}()

		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("Watch did not return after cancel")
		}
	})
}
