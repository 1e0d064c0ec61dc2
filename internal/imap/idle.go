package imap

import (
	"context"
	"log"
	"time"

	idle "github.com/emersion/go-imap-idle"
	imapclient "github.com/emersion/go-imap/client"
)

// idleListenerSleep is the backoff duration after an error before retrying IDLE.
var idleListenerSleep = 10 * time.Second

// Watch runs an IMAP IDLE loop on folder and calls onChange whenever the server
// reports a mailbox update. It uses its own connection, reconnects after errors,
// and blocks until ctx is canceled.
func (s *Source) Watch(ctx context.Context, folder string, onChange func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		c, err := Dial(s.server, s.username, s.password, s.useTLS)
		if err != nil {
			log.Printf("IMAP IDLE: failed to connect: %v", err)
		} else {
			runIdleLoop(ctx, c, folder, onChange)
			_ = c.Logout()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(idleListenerSleep):
		}
	}
}

// runIdleLoop runs the IDLE command and handles mailbox updates.
func runIdleLoop(ctx context.Context, client *imapclient.Client, folder string, onChange func()) {
	if _, err := client.Select(folder, true); err != nil {
		log.Printf("IMAP IDLE: failed to select %s: %v", folder, err)
		return
	}

	idleClient := idle.NewClient(client)

	updates := make(chan imapclient.Update, 10)
	client.Updates = updates

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idleClient.IdleWithFallback(stop, 5*time.Second)
	}()

	for {
		select {
		case <-ctx.Done():
			close(stop)
			// Keep draining so the client can deliver pending updates and finish IDLE.
			for {
				select {
				case <-done:
					return
				case <-updates:
				}
			}
		case err := <-done:
			if err != nil {
				log.Printf("IMAP IDLE: idle loop ended with error for %s: %v", folder, err)
			}
			return
		case update := <-updates:
			if isMailboxChange(update, folder) {
				onChange()
			}
		}
	}
}

// isMailboxChange reports whether an update may have added or removed messages in folder.
func isMailboxChange(update imapclient.Update, folder string) bool {
	switch u := update.(type) {
	case *imapclient.MailboxUpdate:
		return u.Mailbox != nil && (u.Mailbox.Name == "" || u.Mailbox.Name == folder)
	case *imapclient.ExpungeUpdate:
		return true
	}
	return false
}
