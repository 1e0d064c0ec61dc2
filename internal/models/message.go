package models

// Contact is a sender or recipient of a message.
type Contact struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Tag is a notmuch-style tag with optional display colours.
type Tag struct {
	Tag string `json:"tag"`
	FG  string `json:"fg,omitempty"`
	BG  string `json:"bg,omitempty"`
}

// Date carries a message date in the formats the view needs.
type Date struct {
	Pretty    string `json:"pretty"`
	Verbose   string `json:"verbose"`
	Timestamp int64  `json:"timestamp"`
}

// BodyPart is one MIME part of a message body. Parts form a tree through Children.
type BodyPart struct {
	EID       string     `json:"eid,omitempty"`
	MimeType  string     `json:"mime_type"`
	Content   string     `json:"content"`
	Preferred bool       `json:"preferred"`
	Encrypted bool       `json:"encrypted"`
	Signed    bool       `json:"signed"`
	Sibling   bool       `json:"sibling"`
	Children  []BodyPart `json:"children"`
}

// MimeMessage is a message/rfc822 part embedded in a message.
type MimeMessage struct {
	EID      string `json:"eid,omitempty"`
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Size     string `json:"size"`
}

// Attachment is a non-inline MIME part offered for download.
type Attachment struct {
	EID       string `json:"eid,omitempty"`
	Filename  string `json:"filename"`
	Size      string `json:"size"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Signed    bool   `json:"signed"`
	Encrypted bool   `json:"encrypted"`
}

// Message is a normalized email message as rendered by the thread view.
// Every slice field is non-nil once the message went through normalization.
type Message struct {
	ID             string        `json:"id"`
	From           []Contact     `json:"from"`
	To             []Contact     `json:"to"`
	CC             []Contact     `json:"cc"`
	BCC            []Contact     `json:"bcc"`
	InReplyTo      string        `json:"in_reply_to"`
	Date           Date          `json:"date"`
	Subject        string        `json:"subject"`
	Gravatar       string        `json:"gravatar"`
	Tags           []Tag         `json:"tags"`
	Focused        bool          `json:"focused"`
	MissingContent bool          `json:"missing_content"`
	Patch          bool          `json:"patch"`
	Sibling        bool          `json:"sibling"`
	Preview        string        `json:"preview"`
	Body           []BodyPart    `json:"body"`
	MimeMessages   []MimeMessage `json:"mime_messages"`
	Attachments    []Attachment  `json:"attachments"`
}

// TagColor overrides the display colours of a tag.
type TagColor struct {
	FG string `json:"fg" yaml:"fg"`
	BG string `json:"bg" yaml:"bg"`
}
