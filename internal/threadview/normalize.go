package threadview

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/vdavid/threadview/internal/models"
)

// ErrNotAnObject is returned when a message payload is valid JSON but not an object.
var ErrNotAnObject = errors.New("message payload is not a JSON object")

// DecodeMessage parses a raw message payload from the native layer without interpreting it.
// Numbers are kept as json.Number so element ids survive untouched.
func DecodeMessage(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}

	raw, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotAnObject
	}
	return raw, nil
}

// NormalizeJSON decodes and normalizes a message payload.
func NormalizeJSON(data []byte) (models.Message, error) {
	raw, err := DecodeMessage(data)
	if err != nil {
		return models.Message{}, err
	}
	return Normalize(raw), nil
}

// Normalize repairs a message as serialized by the native layer and converts it
// into the typed representation.
//
// The native serializer cannot emit empty arrays (they arrive as "") and emits
// booleans as the strings "true"/"false". Every list field therefore falls back
// to an empty slice when it is not a list, and every flag is true only for the
// literal "true" (or a real JSON true). Missing fields get their zero value;
// Normalize never fails.
func Normalize(raw map[string]any) models.Message {
	msg := models.Message{
		ID:             stringField(raw, "id"),
		From:           contactsField(raw, "from"),
		To:             contactsField(raw, "to"),
		CC:             contactsField(raw, "cc"),
		BCC:            contactsField(raw, "bcc"),
		InReplyTo:      stringField(raw, "in_reply_to"),
		Date:           dateField(raw, "date"),
		Subject:        stringField(raw, "subject"),
		Gravatar:       stringField(raw, "gravatar"),
		Tags:           tagsField(raw, "tags"),
		Focused:        boolField(raw, "focused"),
		MissingContent: boolField(raw, "missing_content"),
		Patch:          boolField(raw, "patch"),
		Sibling:        boolField(raw, "sibling"),
		Preview:        stringField(raw, "preview"),
		Body:           bodyField(raw, "body"),
		MimeMessages:   mimeMessagesField(raw, "mime_messages"),
		Attachments:    attachmentsField(raw, "attachments"),
	}

	// The preferred alternative is rendered first; the rest keep their order.
	sort.SliceStable(msg.Body, func(i, j int) bool {
		return msg.Body[i].Preferred && !msg.Body[j].Preferred
	})

	return msg
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

// boolField is true only for the string "true" and, unlike the native layer's
// own coercion, a JSON true: a typed message serialized back to JSON must
// normalize to itself.
func boolField(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case string:
		return v == "true"
	case bool:
		return v
	}
	return false
}

func intField(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case string:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return 0
}

func listField(m map[string]any, key string) []any {
	if l, ok := m[key].([]any); ok {
		return l
	}
	return nil
}

func objectField(m map[string]any, key string) map[string]any {
	if o, ok := m[key].(map[string]any); ok {
		return o
	}
	return nil
}

func contactsField(m map[string]any, key string) []models.Contact {
	contacts := make([]models.Contact, 0)
	for _, item := range listField(m, key) {
		switch v := item.(type) {
		case map[string]any:
			contacts = append(contacts, models.Contact{
				Address: stringField(v, "address"),
				Name:    stringField(v, "name"),
			})
		case string:
			if v != "" {
				contacts = append(contacts, models.Contact{Address: v})
			}
		}
	}
	return contacts
}

func tagsField(m map[string]any, key string) []models.Tag {
	tags := make([]models.Tag, 0)
	for _, item := range listField(m, key) {
		switch v := item.(type) {
		case map[string]any:
			tags = append(tags, models.Tag{
				Tag: stringField(v, "tag"),
				FG:  stringField(v, "fg"),
				BG:  stringField(v, "bg"),
			})
		case string:
			if v != "" {
				tags = append(tags, models.Tag{Tag: v})
			}
		}
	}
	return tags
}

func dateField(m map[string]any, key string) models.Date {
	d := objectField(m, key)
	if d == nil {
		// Some producers send a bare pretty-printed string.
		return models.Date{Pretty: stringField(m, key), Verbose: stringField(m, key)}
	}
	return models.Date{
		Pretty:    stringField(d, "pretty"),
		Verbose:   stringField(d, "verbose"),
		Timestamp: intField(d, "timestamp"),
	}
}

// bodyField reads the body list, splicing in parts that arrive wrapped in an extra list.
func bodyField(m map[string]any, key string) []models.BodyPart {
	parts := make([]models.BodyPart, 0)
	for _, item := range listField(m, key) {
		switch v := item.(type) {
		case map[string]any:
			parts = append(parts, bodyPart(v))
		case []any:
			for _, nested := range v {
				if o, ok := nested.(map[string]any); ok {
					parts = append(parts, bodyPart(o))
				}
			}
		}
	}
	return parts
}

func bodyPart(m map[string]any) models.BodyPart {
	children := make([]models.BodyPart, 0)
	for _, item := range listField(m, "children") {
		if o, ok := item.(map[string]any); ok {
			children = append(children, bodyPart(o))
		}
	}

	return models.BodyPart{
		EID:       stringField(m, "eid"),
		MimeType:  stringField(m, "mime_type"),
		Content:   stringField(m, "content"),
		Preferred: boolField(m, "preferred"),
		Encrypted: boolField(m, "encrypted"),
		Signed:    boolField(m, "signed"),
		Sibling:   boolField(m, "sibling"),
		Children:  children,
	}
}

func mimeMessagesField(m map[string]any, key string) []models.MimeMessage {
	out := make([]models.MimeMessage, 0)
	for _, item := range listField(m, key) {
		o, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, models.MimeMessage{
			EID:      stringField(o, "eid"),
			Message:  stringField(o, "message"),
			Filename: stringField(o, "filename"),
			Size:     stringField(o, "size"),
		})
	}
	return out
}

func attachmentsField(m map[string]any, key string) []models.Attachment {
	out := make([]models.Attachment, 0)
	for _, item := range listField(m, key) {
		o, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, models.Attachment{
			EID:       stringField(o, "eid"),
			Filename:  stringField(o, "filename"),
			Size:      stringField(o, "size"),
			Thumbnail: stringField(o, "thumbnail"),
			Signed:    boolField(o, "signed"),
			Encrypted: boolField(o, "encrypted"),
		})
	}
	return out
}
