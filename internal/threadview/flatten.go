package threadview

import (
	"sort"

	"github.com/vdavid/threadview/internal/models"
)

// Flatten expands messages into the ordered list of every element they contain.
// Messages are visited in id order; each contributes its root element followed by
// its embedded elements in depth-first discovery order.
func Flatten(messages []models.Message) []models.Element {
	return flatten(messages, func(string) bool { return true })
}

// FlattenVisible is Flatten restricted to what can take focus: a collapsed
// message only contributes its root element.
func FlattenVisible(messages []models.Message, expanded func(messageID string) bool) []models.Element {
	return flatten(messages, expanded)
}

func flatten(messages []models.Message, expanded func(string) bool) []models.Element {
	elements := make([]models.Element, 0, len(messages))
	for _, msg := range sortByID(messages) {
		elements = append(elements, models.Element{MessageID: msg.ID, ElementID: msg.ID})
		if !expanded(msg.ID) {
			continue
		}
		for _, eid := range embeddedElementIDs(msg) {
			elements = append(elements, models.Element{MessageID: msg.ID, ElementID: eid})
		}
	}
	return elements
}

// sortByID returns the messages ordered by id without touching the input.
func sortByID(messages []models.Message) []models.Message {
	sorted := make([]models.Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// embeddedElementIDs walks the body tree, then embedded messages and attachments.
// Each id is reported once so (message, element) pairs stay unique.
func embeddedElementIDs(msg models.Message) []string {
	var ids []string
	seen := map[string]bool{msg.ID: true}
	add := func(eid string) {
		if eid == "" || seen[eid] {
			return
		}
		seen[eid] = true
		ids = append(ids, eid)
	}

	var walk func(parts []models.BodyPart)
	walk = func(parts []models.BodyPart) {
		for _, part := range parts {
			add(part.EID)
			walk(part.Children)
		}
	}
	walk(msg.Body)

	for _, mm := range msg.MimeMessages {
		add(mm.EID)
	}
	for _, att := range msg.Attachments {
		add(att.EID)
	}

	return ids
}
