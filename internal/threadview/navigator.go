package threadview

import (
	"slices"

	"github.com/vdavid/threadview/internal/models"
)

// unfocused is the index value used when no element holds focus.
const unfocused = -1

// Navigator tracks keyboard focus over a flattened element list together with
// the per-message flags. Every operation is total: out-of-range requests are
// clamped and an empty element list leaves the navigator unfocused.
//
// A Navigator is not safe for concurrent use; Thread serializes access.
type Navigator struct {
	elements []models.Element
	index    int
	flags    map[string]models.Flags
}

// NewNavigator returns an unfocused navigator with no elements.
func NewNavigator() *Navigator {
	return &Navigator{
		index: unfocused,
		flags: make(map[string]models.Flags),
	}
}

// Elements returns a copy of the current element list.
func (n *Navigator) Elements() []models.Element {
	return slices.Clone(n.elements)
}

// Len returns the number of focusable elements.
func (n *Navigator) Len() int {
	return len(n.elements)
}

// Focused returns the focused element, or false when nothing is focused.
func (n *Navigator) Focused() (models.Element, bool) {
	if n.index == unfocused {
		return models.Element{}, false
	}
	return n.elements[n.index], true
}

// FocusedIndex returns the focused position, or false when nothing is focused.
func (n *Navigator) FocusedIndex() (int, bool) {
	if n.index == unfocused {
		return 0, false
	}
	return n.index, true
}

// FocusNext moves focus one element down, stopping at the last element.
// From the unfocused state it focuses the first element.
func (n *Navigator) FocusNext() (models.Element, bool) {
	if len(n.elements) == 0 {
		return models.Element{}, false
	}
	if n.index == unfocused {
		n.focus(0)
	} else {
		n.focus(min(n.index+1, len(n.elements)-1))
	}
	return n.Focused()
}

// FocusPrevious moves focus one element up, stopping at the first element.
// From the unfocused state it focuses the first element.
func (n *Navigator) FocusPrevious() (models.Element, bool) {
	if len(n.elements) == 0 {
		return models.Element{}, false
	}
	if n.index == unfocused {
		n.focus(0)
	} else {
		n.focus(max(n.index-1, 0))
	}
	return n.Focused()
}

// FocusIndex jumps to position i, clamped into the element list.
func (n *Navigator) FocusIndex(i int) (models.Element, bool) {
	if len(n.elements) == 0 {
		return models.Element{}, false
	}
	n.focus(clamp(i, 0, len(n.elements)-1))
	return n.Focused()
}

// FocusElement focuses the given element if it is in the list.
func (n *Navigator) FocusElement(el models.Element) bool {
	i := slices.Index(n.elements, el)
	if i < 0 {
		return false
	}
	n.focus(i)
	return true
}

// Flags returns the flags of a message; unknown messages have all flags unset.
func (n *Navigator) Flags(messageID string) models.Flags {
	return n.flags[messageID]
}

// AllFlags returns a copy of the flags of every tracked message.
func (n *Navigator) AllFlags() map[string]models.Flags {
	out := make(map[string]models.Flags, len(n.flags))
	for id, f := range n.flags {
		out[id] = f
	}
	return out
}

// Track makes sure a message has a flags entry.
func (n *Navigator) Track(messageID string) {
	if _, ok := n.flags[messageID]; !ok {
		n.flags[messageID] = models.Flags{}
	}
}

// SetExpanded sets the expanded flag of a message. It never moves focus by
// itself; callers rebuild the element list afterwards.
func (n *Navigator) SetExpanded(messageID string, expanded bool) {
	f := n.flags[messageID]
	f.Expanded = expanded
	n.flags[messageID] = f
}

// IsExpanded reports the expanded flag of a message.
func (n *Navigator) IsExpanded(messageID string) bool {
	return n.flags[messageID].Expanded
}

// Rebuild replaces the element list and re-validates focus against it.
//
// The previously focused (message, element) pair keeps focus if it survived.
// Otherwise focus goes to the root element of the same message, then to the
// nearest surviving element above the old position, then to the old index
// clamped into range. An empty list leaves the navigator unfocused.
func (n *Navigator) Rebuild(elements []models.Element) {
	prev := n.elements
	prevIndex := n.index
	n.elements = slices.Clone(elements)

	if len(n.elements) == 0 {
		n.index = unfocused
		n.clearFocusFlags()
		return
	}
	if prevIndex == unfocused {
		return
	}

	n.focus(n.retarget(prev, prevIndex))
}

// Reset drops elements, flags and focus.
func (n *Navigator) Reset() {
	n.elements = nil
	n.index = unfocused
	n.flags = make(map[string]models.Flags)
}

func (n *Navigator) retarget(prev []models.Element, prevIndex int) int {
	old := prev[prevIndex]
	if i := slices.Index(n.elements, old); i >= 0 {
		return i
	}

	root := models.Element{MessageID: old.MessageID, ElementID: old.MessageID}
	if i := slices.Index(n.elements, root); i >= 0 {
		return i
	}

	for j := prevIndex - 1; j >= 0; j-- {
		if i := slices.Index(n.elements, prev[j]); i >= 0 {
			return i
		}
	}

	return clamp(prevIndex, 0, len(n.elements)-1)
}

// focus moves to index i and makes its message the only focused one.
func (n *Navigator) focus(i int) {
	n.index = i
	target := n.elements[i].MessageID

	for id, f := range n.flags {
		f.Focused = id == target
		n.flags[id] = f
	}
	f := n.flags[target]
	f.Focused = true
	n.flags[target] = f
}

func (n *Navigator) clearFocusFlags() {
	for id, f := range n.flags {
		f.Focused = false
		n.flags[id] = f
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
