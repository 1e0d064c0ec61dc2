package threadview

import (
	"log"
	"slices"
	"sync"

	"github.com/vdavid/threadview/internal/models"
)

// Thread is one open thread view: the message collection, the focus navigator
// and the notices the host attached to messages.
//
// Every inbound and outbound operation is serialized by the thread's mutex,
// standing in for the single event loop that drives a view. Change listeners
// are called after the lock is released, one view at a time and in the order
// the changes were made.
type Thread struct {
	id  string
	key string

	mu       sync.Mutex
	messages []models.Message
	nav      *Navigator
	notices  map[string]models.Notices
	palette  map[string]models.TagColor
	restore  models.ViewState
	onChange func(View)
	seq      uint64

	notifyMu  sync.Mutex
	pending   []notification
	notifying bool
}

// notification is one projected view waiting for its listener.
type notification struct {
	deliver func(View)
	view    View
}

// NewThread creates an empty, unfocused thread view. The restore state, if any,
// is applied lazily as the matching messages arrive.
func NewThread(id, key string, restore models.ViewState, palette map[string]models.TagColor) *Thread {
	if restore.Expanded == nil {
		restore.Expanded = make(map[string]bool)
	}
	return &Thread{
		id:      id,
		key:     key,
		nav:     NewNavigator(),
		notices: make(map[string]models.Notices),
		palette: palette,
		restore: restore,
	}
}

// ID returns the session id.
func (t *Thread) ID() string {
	return t.id
}

// Key returns the thread key the view was opened for.
func (t *Thread) Key() string {
	return t.key
}

// OnChange registers the listener notified with a fresh projection after every change.
func (t *Thread) OnChange(fn func(View)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = fn
}

// AddMessage normalizes a raw message and inserts it, or replaces the message
// with the same id. New messages start collapsed unless a restored view state
// says otherwise; replaced messages keep their flags. It returns the message
// and the focused pair right after the insert.
func (t *Thread) AddMessage(raw map[string]any) (models.Message, string) {
	msg := Normalize(raw)

	focused := t.update(func() {
		i, found := slices.BinarySearchFunc(t.messages, msg.ID, func(m models.Message, id string) int {
			switch {
			case m.ID < id:
				return -1
			case m.ID > id:
				return 1
			}
			return 0
		})
		if found {
			t.messages[i] = msg
		} else {
			t.messages = slices.Insert(t.messages, i, msg)
			t.nav.Track(msg.ID)
			if t.restore.Expanded[msg.ID] {
				t.nav.SetExpanded(msg.ID, true)
			}
		}

		log.Printf("ThreadView %s: add_message %s (new: %t)", t.id, msg.ID, !found)
		t.rebuild()
	})

	return msg, focused
}

// AddMessageJSON decodes a raw payload and adds it. Only undecodable payloads fail.
func (t *Thread) AddMessageJSON(data []byte) (models.Message, string, error) {
	raw, err := DecodeMessage(data)
	if err != nil {
		return models.Message{}, "", err
	}
	msg, focused := t.AddMessage(raw)
	return msg, focused, nil
}

// ClearMessages removes every message and leaves the view unfocused.
func (t *Thread) ClearMessages() {
	t.update(func() {
		log.Printf("ThreadView %s: clear_messages", t.id)
		t.messages = nil
		t.notices = make(map[string]models.Notices)
		t.nav.Reset()
	})
}

// FocusNextElement moves focus down and returns the focused "<mid>,<eid>" pair.
func (t *Thread) FocusNextElement() string {
	return t.update(func() {
		t.nav.FocusNext()
	})
}

// FocusPreviousElement moves focus up and returns the focused "<mid>,<eid>" pair.
func (t *Thread) FocusPreviousElement() string {
	return t.update(func() {
		t.nav.FocusPrevious()
	})
}

// FocusElement jumps to position i (clamped) and returns the focused pair.
func (t *Thread) FocusElement(i int) string {
	return t.update(func() {
		t.nav.FocusIndex(i)
	})
}

// ExpandMessage shows the message's parts and returns the focused pair.
func (t *Thread) ExpandMessage(messageID string) string {
	return t.setExpanded(messageID, true)
}

// CollapseMessage hides the message's parts and returns the focused pair.
func (t *Thread) CollapseMessage(messageID string) string {
	return t.setExpanded(messageID, false)
}

// ToggleMessage flips the expanded flag and returns the focused pair.
func (t *Thread) ToggleMessage(messageID string) string {
	return t.update(func() {
		t.nav.SetExpanded(messageID, !t.nav.IsExpanded(messageID))
		t.rebuild()
	})
}

func (t *Thread) setExpanded(messageID string, expanded bool) string {
	return t.update(func() {
		t.nav.SetExpanded(messageID, expanded)
		t.rebuild()
	})
}

// SetWarning shows a warning banner on a message.
func (t *Thread) SetWarning(messageID, text string) string {
	return t.setNotice(messageID, func(n *models.Notices) { n.Warning = text })
}

// HideWarning removes the warning banner of a message.
func (t *Thread) HideWarning(messageID string) string {
	return t.setNotice(messageID, func(n *models.Notices) { n.Warning = "" })
}

// SetInfo shows an info banner on a message.
func (t *Thread) SetInfo(messageID, text string) string {
	return t.setNotice(messageID, func(n *models.Notices) { n.Info = text })
}

// HideInfo removes the info banner of a message.
func (t *Thread) HideInfo(messageID string) string {
	return t.setNotice(messageID, func(n *models.Notices) { n.Info = "" })
}

// IndentState marks a message as indented (a reply rendered under its parent).
func (t *Thread) IndentState(messageID string, indent bool) string {
	return t.setNotice(messageID, func(n *models.Notices) { n.Indented = indent })
}

func (t *Thread) setNotice(messageID string, fn func(*models.Notices)) string {
	return t.update(func() {
		n := t.notices[messageID]
		fn(&n)
		if n.IsZero() {
			delete(t.notices, messageID)
		} else {
			t.notices[messageID] = n
		}
	})
}

// Messages returns the messages in display order.
func (t *Thread) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.messages)
}

// Elements returns the focusable elements.
func (t *Thread) Elements() []models.Element {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nav.Elements()
}

// Focused returns the focused element, or false when nothing is focused.
func (t *Thread) Focused() (models.Element, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nav.Focused()
}

// Flags returns the flags of a message.
func (t *Thread) Flags(messageID string) models.Flags {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nav.Flags(messageID)
}

// Project returns the current render tree.
func (t *Thread) Project() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.project()
}

// ViewState captures the expanded flags and focus for persistence.
func (t *Thread) ViewState() models.ViewState {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := models.ViewState{Expanded: make(map[string]bool)}
	for id, f := range t.nav.AllFlags() {
		state.Expanded[id] = f.Expanded
	}
	if el, ok := t.nav.Focused(); ok {
		state.Focus = &el
	}
	return state
}

// WithView hands the current view to fn through the same queue as change
// notifications, so fn never sees it after a newer change was delivered.
func (t *Thread) WithView(fn func(View)) {
	t.mu.Lock()
	t.enqueue(fn, t.project())
	t.mu.Unlock()

	t.flush()
}

// update runs fn under the lock, then notifies the listener. It returns the
// focused pair as seen right after fn.
func (t *Thread) update(fn func()) string {
	t.mu.Lock()
	fn()
	t.seq++
	focused := ""
	if el, ok := t.nav.Focused(); ok {
		focused = el.String()
	}
	if t.onChange != nil {
		t.enqueue(t.onChange, t.project())
	}
	t.mu.Unlock()

	t.flush()
	return focused
}

// enqueue must be called with t.mu held so the queue follows the change order.
func (t *Thread) enqueue(deliver func(View), view View) {
	t.notifyMu.Lock()
	t.pending = append(t.pending, notification{deliver: deliver, view: view})
	t.notifyMu.Unlock()
}

// flush delivers queued views in order. Only one goroutine delivers at a time;
// the others leave their views to it and return.
func (t *Thread) flush() {
	t.notifyMu.Lock()
	if t.notifying {
		t.notifyMu.Unlock()
		return
	}
	t.notifying = true

	for len(t.pending) > 0 {
		next := t.pending[0]
		t.pending[0] = notification{}
		t.pending = t.pending[1:]
		t.notifyMu.Unlock()

		next.deliver(next.view)

		t.notifyMu.Lock()
	}

	t.notifying = false
	t.notifyMu.Unlock()
}

// rebuild recomputes the element list and re-validates focus. A focus saved by
// a previous session is applied once its element shows up, unless the user
// already moved focus.
func (t *Thread) rebuild() {
	t.nav.Rebuild(FlattenVisible(t.messages, t.nav.IsExpanded))

	if t.restore.Focus == nil {
		return
	}
	if _, focused := t.nav.Focused(); focused {
		t.restore.Focus = nil
		return
	}
	if t.nav.FocusElement(*t.restore.Focus) {
		t.restore.Focus = nil
	}
}

func (t *Thread) project() View {
	var focused *models.Element
	if el, ok := t.nav.Focused(); ok {
		focused = &el
	}
	view := Project(Projection{
		Messages: t.messages,
		Elements: t.nav.Elements(),
		Focused:  focused,
		Flags:    t.nav.AllFlags(),
		Notices:  t.notices,
		Palette:  t.palette,
	})
	view.Seq = t.seq
	return view
}
