package imap

import (
	"errors"
	"fmt"
	"slices"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
	"github.com/emersion/go-imap/client"
)

// ErrThreadNotFound is returned when no message in the folder has the requested Message-ID.
var ErrThreadNotFound = errors.New("thread not found")

// maxFallbackRounds bounds the header-search walk used when the server lacks THREAD.
const maxFallbackRounds = 32

// RunThreadCommand runs the THREAD command and returns the thread structure.
// Uses the REFERENCES algorithm to build thread relationships.
func RunThreadCommand(c *client.Client) ([]*sortthread.Thread, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	threadClient := sortthread.NewThreadClient(c)

	threads, err := threadClient.UidThread(sortthread.References, imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("THREAD command returned error: %w", err)
	}

	return threads, nil
}

// FindThreadUIDs returns the UIDs of every message in the thread containing the
// message with the given Message-ID, in ascending order. The folder must be selected.
func FindThreadUIDs(c *client.Client, messageID string) ([]uint32, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	start, err := searchHeader(c, "Message-ID", messageID)
	if err != nil {
		return nil, err
	}
	if len(start) == 0 {
		return nil, ErrThreadNotFound
	}

	supported, err := c.Support("THREAD=REFERENCES")
	if err == nil && supported {
		threads, err := RunThreadCommand(c)
		if err != nil {
			return nil, err
		}
		if uids := threadContaining(threads, start[0]); len(uids) > 0 {
			return uids, nil
		}
	}

	return findThreadByHeaders(c, messageID)
}

// threadContaining flattens the thread tree that contains uid.
func threadContaining(threads []*sortthread.Thread, uid uint32) []uint32 {
	var collect func(*sortthread.Thread, *[]uint32)
	collect = func(thread *sortthread.Thread, out *[]uint32) {
		if thread == nil {
			return
		}
		if thread.Id != 0 {
			*out = append(*out, thread.Id)
		}
		for _, child := range thread.Children {
			collect(child, out)
		}
	}

	for _, thread := range threads {
		var uids []uint32
		collect(thread, &uids)
		if slices.Contains(uids, uid) {
			slices.Sort(uids)
			return uids
		}
	}
	return nil
}

// findThreadByHeaders rebuilds a thread from References / In-Reply-To headers for
// servers without the THREAD extension. Starting from one Message-ID, it keeps
// pulling in parents and replies until no new message turns up.
func findThreadByHeaders(c *client.Client, messageID string) ([]uint32, error) {
	seenIDs := map[string]bool{}
	found := map[uint32]bool{}
	pending := []string{messageID}

	for round := 0; len(pending) > 0 && round < maxFallbackRounds; round++ {
		var next []uint32
		for _, id := range pending {
			if seenIDs[id] {
				continue
			}
			seenIDs[id] = true

			for _, header := range []string{"Message-ID", "In-Reply-To", "References"} {
				uids, err := searchHeader(c, header, id)
				if err != nil {
					return nil, err
				}
				for _, uid := range uids {
					if !found[uid] {
						found[uid] = true
						next = append(next, uid)
					}
				}
			}
		}

		pending = pending[:0]
		if len(next) == 0 {
			break
		}

		related, err := FetchThreadHeaders(c, next)
		if err != nil {
			return nil, err
		}
		for _, ids := range related {
			for _, id := range ids {
				if !seenIDs[id] {
					pending = append(pending, id)
				}
			}
		}
	}

	if len(found) == 0 {
		return nil, ErrThreadNotFound
	}

	uids := make([]uint32, 0, len(found))
	for uid := range found {
		uids = append(uids, uid)
	}
	slices.Sort(uids)
	return uids, nil
}

func searchHeader(c *client.Client, header, value string) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Header.Add(header, value)

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", header, err)
	}
	return uids, nil
}
