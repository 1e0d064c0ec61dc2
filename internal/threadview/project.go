package threadview

import (
	"fmt"
	"strings"

	"github.com/vdavid/threadview/internal/models"
)

const (
	defaultTagFG = "#000000"
	defaultTagBG = "rgba(225, 171, 21, 0.5)"
)

// View is the render tree handed to a rendering surface. Seq grows with every
// change of the thread, so a surface can tell a stale view from a fresh one.
type View struct {
	Seq      uint64           `json:"seq"`
	Messages []MessageView    `json:"messages"`
	Elements []models.Element `json:"elements"`
	Focused  *models.Element  `json:"focused,omitempty"`
}

// MessageView is one message as rendered, collapsed or expanded.
type MessageView struct {
	ID          string           `json:"id"`
	Class       string           `json:"class"`
	Expanded    bool             `json:"expanded"`
	Indented    bool             `json:"indented,omitempty"`
	Gravatar    string           `json:"gravatar,omitempty"`
	Warning     string           `json:"warning,omitempty"`
	Info        string           `json:"info,omitempty"`
	Headers     []HeaderField    `json:"headers"`
	Tags        []TagView        `json:"tags"`
	Subject     string           `json:"subject"`
	Preview     string           `json:"preview"`
	Patch       bool             `json:"patch,omitempty"`
	Body        BodyView         `json:"body"`
	Attachments []AttachmentView `json:"attachments"`
	MimeParts   []AttachmentView `json:"mime_messages"`
	Missing     bool             `json:"missing_content,omitempty"`
}

// HeaderField is one labelled header line. Important fields stay visible when
// the message is collapsed.
type HeaderField struct {
	Label     string `json:"label"`
	Value     string `json:"value"`
	Verbose   string `json:"verbose,omitempty"`
	Important bool   `json:"important,omitempty"`
}

// TagView is a tag with its resolved colours.
type TagView struct {
	Name string `json:"name"`
	FG   string `json:"fg"`
	BG   string `json:"bg"`
}

// BodyView is the preferred part plus buttons for the other alternatives.
type BodyView struct {
	EID          string            `json:"eid,omitempty"`
	MimeType     string            `json:"mime_type,omitempty"`
	Content      string            `json:"content"`
	Encrypted    bool              `json:"encrypted,omitempty"`
	Signed       bool              `json:"signed,omitempty"`
	Alternatives []AlternativeView `json:"alternatives"`
}

// AlternativeView is the button for a body part that is not shown.
type AlternativeView struct {
	EID      string `json:"eid,omitempty"`
	MimeType string `json:"mime_type"`
	Label    string `json:"label"`
}

// AttachmentView is an attachment or an attached message.
type AttachmentView struct {
	EID      string `json:"eid,omitempty"`
	Filename string `json:"filename"`
	Size     string `json:"size"`
}

// Projection is everything Project reads.
type Projection struct {
	Messages []models.Message
	Elements []models.Element
	Focused  *models.Element
	Flags    map[string]models.Flags
	Notices  map[string]models.Notices
	Palette  map[string]models.TagColor
}

// Project maps the thread state onto a render tree. It reads its input only.
func Project(p Projection) View {
	view := View{
		Messages: make([]MessageView, 0, len(p.Messages)),
		Elements: append([]models.Element{}, p.Elements...),
	}
	if p.Focused != nil {
		focused := *p.Focused
		view.Focused = &focused
	}

	for _, msg := range sortByID(p.Messages) {
		view.Messages = append(view.Messages, projectMessage(msg, p))
	}
	return view
}

func projectMessage(msg models.Message, p Projection) MessageView {
	flags := p.Flags[msg.ID]
	notices := p.Notices[msg.ID]

	class := "email hide"
	if p.Focused != nil && p.Focused.MessageID == msg.ID {
		class = "email focused"
	}

	mv := MessageView{
		ID:          msg.ID,
		Class:       class,
		Expanded:    flags.Expanded,
		Indented:    notices.Indented,
		Gravatar:    msg.Gravatar,
		Warning:     notices.Warning,
		Info:        notices.Info,
		Headers:     projectHeaders(msg),
		Tags:        projectTags(msg.Tags, p.Palette),
		Subject:     msg.Subject,
		Preview:     msg.Preview,
		Patch:       msg.Patch,
		Body:        projectBody(msg.Body),
		Attachments: make([]AttachmentView, 0, len(msg.Attachments)),
		MimeParts:   make([]AttachmentView, 0, len(msg.MimeMessages)),
		Missing:     msg.MissingContent,
	}

	for _, att := range msg.Attachments {
		mv.Attachments = append(mv.Attachments, AttachmentView{EID: att.EID, Filename: att.Filename, Size: att.Size})
	}
	for _, mm := range msg.MimeMessages {
		mv.MimeParts = append(mv.MimeParts, AttachmentView{EID: mm.EID, Filename: mm.Filename, Size: mm.Size})
	}

	return mv
}

func projectHeaders(msg models.Message) []HeaderField {
	headers := make([]HeaderField, 0, 7)

	addresses := []struct {
		label     string
		contacts  []models.Contact
		important bool
	}{
		{"From", msg.From, true},
		{"To", msg.To, false},
		{"Cc", msg.CC, false},
		{"Bcc", msg.BCC, false},
	}
	for _, a := range addresses {
		if len(a.contacts) == 0 {
			continue
		}
		headers = append(headers, HeaderField{
			Label:     a.label,
			Value:     formatContacts(a.contacts),
			Important: a.important,
		})
	}

	if msg.Date.Pretty != "" || msg.Date.Verbose != "" {
		headers = append(headers, HeaderField{
			Label:     "Date",
			Value:     msg.Date.Pretty,
			Verbose:   msg.Date.Verbose,
			Important: true,
		})
	}
	if msg.Subject != "" {
		headers = append(headers, HeaderField{Label: "Subject", Value: msg.Subject})
	}
	if len(msg.Tags) > 0 {
		names := make([]string, 0, len(msg.Tags))
		for _, t := range msg.Tags {
			names = append(names, t.Tag)
		}
		headers = append(headers, HeaderField{Label: "Tags", Value: strings.Join(names, ", ")})
	}

	return headers
}

// formatContact renders "Name <address>", or just the address when there is no name.
func formatContact(c models.Contact) string {
	if strings.TrimSpace(c.Name) == "" {
		return c.Address
	}
	return fmt.Sprintf("%s <%s>", c.Name, c.Address)
}

func formatContacts(contacts []models.Contact) string {
	parts := make([]string, 0, len(contacts))
	for _, c := range contacts {
		parts = append(parts, formatContact(c))
	}
	return strings.Join(parts, ", ")
}

// projectTags resolves tag colours: the message's own colours win, then the
// palette, then the defaults.
func projectTags(tags []models.Tag, palette map[string]models.TagColor) []TagView {
	out := make([]TagView, 0, len(tags))
	for _, t := range tags {
		tv := TagView{Name: t.Tag, FG: defaultTagFG, BG: defaultTagBG}
		if c, ok := palette[t.Tag]; ok {
			if c.FG != "" {
				tv.FG = c.FG
			}
			if c.BG != "" {
				tv.BG = c.BG
			}
		}
		if t.FG != "" {
			tv.FG = t.FG
		}
		if t.BG != "" {
			tv.BG = t.BG
		}
		out = append(out, tv)
	}
	return out
}

// projectBody shows the first part (the preferred one after normalization) and
// offers the others as alternatives.
func projectBody(parts []models.BodyPart) BodyView {
	body := BodyView{Alternatives: make([]AlternativeView, 0)}
	if len(parts) == 0 {
		return body
	}

	selected := parts[0]
	body.EID = selected.EID
	body.MimeType = selected.MimeType
	body.Content = selected.Content
	body.Encrypted = selected.Encrypted
	body.Signed = selected.Signed

	for _, alt := range parts[1:] {
		body.Alternatives = append(body.Alternatives, AlternativeView{
			EID:      alt.EID,
			MimeType: alt.MimeType,
			Label:    alternativeLabel(alt.MimeType),
		})
	}
	return body
}

func alternativeLabel(mimeType string) string {
	label := fmt.Sprintf("Alternative part (type: %s)", mimeType)
	if strings.Contains(strings.ToLower(mimeType), "html") {
		label += " - potentially sketchy"
	}
	return label
}
