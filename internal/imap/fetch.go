package imap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"
)

// fetchUIDs runs a UID FETCH for the given UIDs and collects the results.
func fetchUIDs(c *client.Client, uids []uint32, items []imap.FetchItem) ([]*imap.Message, error) {
	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var result []*imap.Message
	for msg := range messages {
		result = append(result, msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return result, nil
}

// referencesSection is the header-only section holding the threading headers.
var referencesSection = &imap.BodySectionName{
	BodyPartName: imap.BodyPartName{
		Specifier: imap.HeaderSpecifier,
		Fields:    []string{"Message-ID", "In-Reply-To", "References"},
	},
	Peek: true,
}

// FetchThreadHeaders returns, per UID, every Message-ID the message mentions:
// its own, its In-Reply-To and its References.
func FetchThreadHeaders(c *client.Client, uids []uint32) (map[uint32][]string, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	if len(uids) == 0 {
		return map[uint32][]string{}, nil
	}

	messages, err := fetchUIDs(c, uids, []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchUid,
		referencesSection.FetchItem(),
	})
	if err != nil {
		return nil, err
	}

	result := make(map[uint32][]string, len(messages))
	for _, msg := range messages {
		var ids []string
		if msg.Envelope != nil {
			ids = append(ids, msg.Envelope.MessageId)
			ids = append(ids, strings.Fields(msg.Envelope.InReplyTo)...)
		}
		if body := msg.GetBody(referencesSection); body != nil {
			if env, err := enmime.ReadEnvelope(body); err == nil {
				ids = append(ids, strings.Fields(env.GetHeader("References"))...)
			}
		}
		result[msg.Uid] = compactIDs(ids)
	}

	return result, nil
}

// fullBodySection is the whole RFC 822 message, fetched without setting \Seen.
var fullBodySection = &imap.BodySectionName{Peek: true}

// FetchFullMessages fetches envelope, flags and the full body of the given UIDs,
// ordered by UID.
func FetchFullMessages(c *client.Client, uids []uint32) ([]*imap.Message, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	if len(uids) == 0 {
		return []*imap.Message{}, nil
	}

	messages, err := fetchUIDs(c, uids, []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchUid,
		imap.FetchRFC822Size,
		fullBodySection.FetchItem(),
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Uid < messages[j].Uid
	})
	return messages, nil
}

func compactIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
