package models

// Element is one focusable unit of the thread view: either a message itself
// (ElementID == MessageID) or a part embedded in it.
type Element struct {
	MessageID string `json:"message_id"`
	ElementID string `json:"element_id"`
}

// IsRoot reports whether the element represents the message itself.
func (e Element) IsRoot() bool {
	return e.ElementID == e.MessageID
}

// String returns the composite "<message_id>,<element_id>" identifier handed to the UI shell.
func (e Element) String() string {
	return e.MessageID + "," + e.ElementID
}

// Flags is transient per-message view state.
type Flags struct {
	Focused  bool `json:"focused"`
	Expanded bool `json:"expanded"`
}

// Notices holds the banners and layout hints the host attached to a message.
type Notices struct {
	Warning  string `json:"warning,omitempty"`
	Info     string `json:"info,omitempty"`
	Indented bool   `json:"indented,omitempty"`
}

// IsZero reports whether no notice is set.
func (n Notices) IsZero() bool {
	return n.Warning == "" && n.Info == "" && !n.Indented
}

// ViewState is the part of a thread view kept across sessions of the same thread.
type ViewState struct {
	Expanded map[string]bool
	Focus    *Element
}
