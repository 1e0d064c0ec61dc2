package imap

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/emersion/go-imap"
	"github.com/jaytaylor/html2text"
	"github.com/jhillyerd/enmime"
)

const previewLength = 160

// ElementIDs hands out element ids that are unique across one thread.
type ElementIDs struct {
	next int
}

// Next returns a fresh element id.
func (e *ElementIDs) Next() int {
	e.next++
	return e.next
}

// ParseOptions controls how messages are turned into thread-view payloads.
type ParseOptions struct {
	PreferPlain bool
	Now         func() time.Time
}

// ParseMessage converts a fetched IMAP message into the raw message payload the
// thread view consumes. Parts that can take focus get ids from eids.
func ParseMessage(imapMsg *imap.Message, eids *ElementIDs, opts ParseOptions) (map[string]any, error) {
	if imapMsg == nil {
		return nil, fmt.Errorf("imap message is nil")
	}
	if eids == nil {
		eids = &ElementIDs{}
	}

	raw := map[string]any{
		"id":              fmt.Sprintf("uid-%d", imapMsg.Uid),
		"from":            []any{},
		"to":              []any{},
		"cc":              []any{},
		"bcc":             []any{},
		"tags":            tagsFromFlags(imapMsg.Flags),
		"focused":         false,
		"missing_content": true,
		"patch":           false,
		"sibling":         false,
		"body":            []any{},
		"mime_messages":   []any{},
		"attachments":     []any{},
	}

	if env := imapMsg.Envelope; env != nil {
		if id := trimMessageID(env.MessageId); id != "" {
			raw["id"] = id
		}
		raw["from"] = formatAddressList(env.From)
		raw["to"] = formatAddressList(env.To)
		raw["cc"] = formatAddressList(env.Cc)
		raw["bcc"] = formatAddressList(env.Bcc)
		raw["in_reply_to"] = trimMessageID(env.InReplyTo)
		raw["subject"] = env.Subject
		raw["patch"] = strings.Contains(strings.ToUpper(env.Subject), "[PATCH")
		raw["date"] = formatDate(env.Date, opts.Now)
		if len(env.From) > 0 && env.From[0] != nil {
			raw["gravatar"] = gravatarURL(env.From[0].Address())
		}
	}

	if bodyReader := imapMsg.GetBody(&imap.BodySectionName{}); bodyReader != nil {
		if err := parseBody(bodyReader, raw, eids, opts); err != nil {
			// Headers are still worth showing.
			log.Printf("IMAP: failed to parse body of %v: %v", raw["id"], err)
		}
	}

	return raw, nil
}

// parseBody parses the email body using enmime.
func parseBody(bodyReader io.Reader, raw map[string]any, eids *ElementIDs, opts ParseOptions) error {
	envelope, err := enmime.ReadEnvelope(bodyReader)
	if err != nil {
		return fmt.Errorf("failed to parse email body: %w", err)
	}

	raw["missing_content"] = false

	preferHTML := envelope.HTML != "" && (!opts.PreferPlain || envelope.Text == "")

	body := make([]any, 0, 2)
	if envelope.Text != "" {
		body = append(body, bodyPart(eids.Next(), "text/plain", envelope.Text, !preferHTML))
	}
	if envelope.HTML != "" {
		body = append(body, bodyPart(eids.Next(), "text/html", envelope.HTML, preferHTML))
	}
	raw["body"] = body
	raw["preview"] = preview(envelope.Text, envelope.HTML)

	mimeMessages := make([]any, 0)
	attachments := make([]any, 0)
	parts := append(slices.Clone(envelope.Attachments), envelope.Inlines...)
	for _, part := range parts {
		size := humanize.Bytes(uint64(len(part.Content)))

		if strings.EqualFold(part.ContentType, "message/rfc822") {
			mimeMessages = append(mimeMessages, map[string]any{
				"eid":      eids.Next(),
				"message":  embeddedSubject(part.Content),
				"filename": part.FileName,
				"size":     size,
			})
			continue
		}

		attachments = append(attachments, map[string]any{
			"eid":       eids.Next(),
			"filename":  part.FileName,
			"size":      size,
			"signed":    false,
			"encrypted": false,
		})
	}
	raw["mime_messages"] = mimeMessages
	raw["attachments"] = attachments

	return nil
}

func bodyPart(eid int, mimeType, content string, preferred bool) map[string]any {
	return map[string]any{
		"eid":       eid,
		"mime_type": mimeType,
		"content":   content,
		"preferred": preferred,
		"encrypted": false,
		"signed":    false,
		"sibling":   false,
		"children":  []any{},
	}
}

// preview returns the start of the message text, converting HTML when there is no plain part.
func preview(text, html string) string {
	if text == "" && html != "" {
		converted, err := html2text.FromString(html, html2text.Options{OmitLinks: true, TextOnly: true})
		if err == nil {
			text = converted
		}
	}

	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	return string([]rune(text)[:previewLength]) + "…"
}

func embeddedSubject(content []byte) string {
	env, err := enmime.ReadEnvelope(strings.NewReader(string(content)))
	if err != nil {
		return ""
	}
	return env.GetHeader("Subject")
}

// formatAddressList converts IMAP addresses into contact objects.
func formatAddressList(addresses []*imap.Address) []any {
	result := make([]any, 0, len(addresses))
	for _, address := range addresses {
		if address == nil || (address.MailboxName == "" && address.HostName == "") {
			continue
		}
		result = append(result, map[string]any{
			"address": address.Address(),
			"name":    address.PersonalName,
		})
	}
	return result
}

func formatDate(date time.Time, now func() time.Time) map[string]any {
	if date.IsZero() {
		return map[string]any{"pretty": "", "verbose": "", "timestamp": 0}
	}
	if now == nil {
		now = time.Now
	}
	return map[string]any{
		"pretty":    humanize.RelTime(date, now(), "ago", "from now"),
		"verbose":   date.Format(time.RFC1123Z),
		"timestamp": date.Unix(),
	}
}

// tagsFromFlags maps IMAP flags onto notmuch-style tags.
func tagsFromFlags(flags []string) []any {
	seen := false
	var tags []string
	for _, flag := range flags {
		switch flag {
		case imap.SeenFlag:
			seen = true
		case imap.FlaggedFlag:
			tags = append(tags, "flagged")
		case imap.AnsweredFlag:
			tags = append(tags, "replied")
		case imap.DraftFlag:
			tags = append(tags, "draft")
		case imap.DeletedFlag:
			tags = append(tags, "deleted")
		case imap.RecentFlag:
		default:
			if !strings.HasPrefix(flag, "\\") {
				tags = append(tags, strings.ToLower(flag))
			}
		}
	}
	if !seen {
		tags = append(tags, "unread")
	}
	slices.Sort(tags)

	out := make([]any, 0, len(tags))
	for _, tag := range tags {
		out = append(out, tag)
	}
	return out
}

func gravatarURL(address string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(address))))
	return "https://www.gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "?d=retro&s=48"
}

func trimMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
