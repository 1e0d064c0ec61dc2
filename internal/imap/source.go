package imap

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
)

// Source loads threads from one IMAP account and turns them into raw message payloads.
type Source struct {
	server   string
	username string
	password string
	useTLS   bool
	opts     ParseOptions

	mu     sync.Mutex
	client *imapclient.Client
}

// NewSource creates a Source. No connection is made until it is first used.
func NewSource(server, username, password string, useTLS bool, opts ParseOptions) *Source {
	return &Source{
		server:   server,
		username: username,
		password: password,
		useTLS:   useTLS,
		opts:     opts,
	}
}

// LoadThread returns the raw payloads of every message in the thread of messageID,
// ordered by UID. Element ids are unique across the returned messages.
func (s *Source) LoadThread(ctx context.Context, folder, messageID string) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.connection()
	if err != nil {
		return nil, err
	}

	messages, err := loadThread(c, folder, messageID)
	if err != nil {
		// A broken connection is replaced on the next call.
		if c.State() == imap.LogoutState {
			s.client = nil
		}
		return nil, err
	}

	eids := &ElementIDs{}
	raws := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		raw, err := ParseMessage(msg, eids, s.opts)
		if err != nil {
			log.Printf("IMAP: skipping message UID %d: %v", msg.Uid, err)
			continue
		}
		raws = append(raws, raw)
	}

	log.Printf("IMAP: loaded %d messages for thread %s in %s", len(raws), messageID, folder)
	return raws, nil
}

func loadThread(c *imapclient.Client, folder, messageID string) ([]*imap.Message, error) {
	if _, err := c.Select(folder, true); err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", folder, err)
	}

	uids, err := FindThreadUIDs(c, messageID)
	if err != nil {
		return nil, err
	}

	return FetchFullMessages(c, uids)
}

// Close logs out of the shared connection.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		_ = s.client.Logout()
		s.client = nil
	}
}

// connection returns the shared client, dialing if needed. Caller must hold s.mu.
func (s *Source) connection() (*imapclient.Client, error) {
	if s.client != nil && s.client.State() != imap.LogoutState {
		return s.client, nil
	}

	c, err := Dial(s.server, s.username, s.password, s.useTLS)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	s.client = c
	return c, nil
}
