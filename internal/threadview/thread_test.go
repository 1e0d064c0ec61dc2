package threadview

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/threadview/internal/models"
)

func rawMessage(id string, eids ...string) map[string]any {
	body := make([]any, 0, len(eids))
	for _, eid := range eids {
		body = append(body, map[string]any{"eid": eid, "mime_type": "text/plain", "content": "part " + eid})
	}
	return map[string]any{"id": id, "subject": "Subject " + id, "body": body}
}

func newTestThread() *Thread {
	return NewThread("session", "thread", models.ViewState{}, nil)
}

func TestThread_AddMessage(t *testing.T) {
	t.Run("inserts in id order and keeps the view unfocused", func(t *testing.T) {
		th := newTestThread()

		th.AddMessage(rawMessage("m2"))
		th.AddMessage(rawMessage("m1"))

		msgs := th.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, "m1", msgs[0].ID)
		assert.Equal(t, []models.Element{el("m1", "m1"), el("m2", "m2")}, th.Elements())

		_, ok := th.Focused()
		assert.False(t, ok)
	})

	t.Run("upsert replaces content and keeps flags", func(t *testing.T) {
		th := newTestThread()
		th.AddMessage(rawMessage("m1", "1"))
		th.ExpandMessage("m1")

		th.AddMessage(map[string]any{"id": "m1", "subject": "Updated", "body": []any{map[string]any{"eid": "1"}, map[string]any{"eid": "2"}}})

		msgs := th.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "Updated", msgs[0].Subject)
		assert.True(t, th.Flags("m1").Expanded)
		assert.Equal(t, []models.Element{el("m1", "m1"), el("m1", "1"), el("m1", "2")}, th.Elements())
	})

	t.Run("keeps focus on the same element across additions", func(t *testing.T) {
		th := newTestThread()
		th.AddMessage(rawMessage("m2"))
		assert.Equal(t, "m2,m2", th.FocusNextElement())

		th.AddMessage(rawMessage("m1"))

		el, ok := th.Focused()
		require.True(t, ok)
		assert.Equal(t, "m2,m2", el.String())
	})

	t.Run("JSON payloads", func(t *testing.T) {
		th := newTestThread()

		msg, focused, err := th.AddMessageJSON([]byte(`{"id": "m1", "to": "", "focused": "false"}`))
		require.NoError(t, err)
		assert.Equal(t, "m1", msg.ID)
		assert.NotNil(t, msg.To)
		assert.Empty(t, focused)

		_, _, err = th.AddMessageJSON([]byte(`not json`))
		assert.Error(t, err)
		assert.Len(t, th.Messages(), 1)
	})
}

func TestThread_ClearMessages(t *testing.T) {
	th := newTestThread()
	th.AddMessage(rawMessage("m1", "1"))
	th.ExpandMessage("m1")
	th.FocusNextElement()
	th.SetWarning("m1", "careful")

	th.ClearMessages()

	assert.Empty(t, th.Messages())
	assert.Empty(t, th.Elements())
	assert.Equal(t, models.Flags{}, th.Flags("m1"))
	_, ok := th.Focused()
	assert.False(t, ok)
	assert.Equal(t, "", th.FocusNextElement())
}

func TestThread_Focus(t *testing.T) {
	th := newTestThread()
	assert.Equal(t, "", th.FocusNextElement(), "empty view stays unfocused")
	assert.Equal(t, "", th.FocusPreviousElement())

	th.AddMessage(rawMessage("m1"))
	th.AddMessage(rawMessage("m2"))
	th.AddMessage(rawMessage("m3"))

	assert.Equal(t, "m1,m1", th.FocusNextElement())
	assert.Equal(t, "m2,m2", th.FocusNextElement())
	assert.Equal(t, "m3,m3", th.FocusNextElement())
	assert.Equal(t, "m3,m3", th.FocusNextElement())
	assert.Equal(t, "m2,m2", th.FocusPreviousElement())
	assert.Equal(t, "m1,m1", th.FocusElement(-1))
	assert.Equal(t, "m3,m3", th.FocusElement(10))

	assert.True(t, th.Flags("m3").Focused)
	assert.False(t, th.Flags("m1").Focused)
}

func TestThread_ExpandCollapse(t *testing.T) {
	t.Run("expand then collapse restores flags and elements", func(t *testing.T) {
		th := newTestThread()
		th.AddMessage(rawMessage("m1", "1", "2"))
		th.AddMessage(rawMessage("m2"))
		before := th.Elements()
		flagsBefore := th.Flags("m1")

		th.ExpandMessage("m1")
		assert.Len(t, th.Elements(), 4)

		th.CollapseMessage("m1")
		assert.Equal(t, flagsBefore.Expanded, th.Flags("m1").Expanded)
		assert.Equal(t, before, th.Elements())
	})

	t.Run("collapse retargets focus to the message root", func(t *testing.T) {
		th := newTestThread()
		th.AddMessage(rawMessage("m1"))
		th.AddMessage(rawMessage("m2", "1"))
		th.ExpandMessage("m2")
		require.Equal(t, []models.Element{el("m1", "m1"), el("m2", "m2"), el("m2", "1")}, th.Elements())

		assert.Equal(t, "m2,1", th.FocusElement(2))

		focused := th.CollapseMessage("m2")

		assert.Equal(t, "m2,m2", focused)
		assert.Len(t, th.Elements(), 2)
	})

	t.Run("expand does not move focus", func(t *testing.T) {
		th := newTestThread()
		th.AddMessage(rawMessage("m1", "1"))
		th.AddMessage(rawMessage("m2"))
		th.FocusElement(1)

		assert.Equal(t, "m2,m2", th.ExpandMessage("m1"))
	})

	t.Run("toggle flips the flag", func(t *testing.T) {
		th := newTestThread()
		th.AddMessage(rawMessage("m1", "1"))

		th.ToggleMessage("m1")
		assert.True(t, th.Flags("m1").Expanded)
		th.ToggleMessage("m1")
		assert.False(t, th.Flags("m1").Expanded)
	})
}

func TestThread_Notices(t *testing.T) {
	th := newTestThread()
	th.AddMessage(rawMessage("m1"))

	th.SetWarning("m1", "Could not verify signature")
	th.SetInfo("m1", "Decrypted")
	th.IndentState("m1", true)

	mv := th.Project().Messages[0]
	assert.Equal(t, "Could not verify signature", mv.Warning)
	assert.Equal(t, "Decrypted", mv.Info)
	assert.True(t, mv.Indented)

	th.HideWarning("m1")
	th.HideInfo("m1")
	th.IndentState("m1", false)

	mv = th.Project().Messages[0]
	assert.Empty(t, mv.Warning)
	assert.Empty(t, mv.Info)
	assert.False(t, mv.Indented)
}

func TestThread_OnChange(t *testing.T) {
	th := newTestThread()

	var views []View
	th.OnChange(func(v View) {
		views = append(views, v)
	})

	th.AddMessage(rawMessage("m1"))
	th.FocusNextElement()

	require.Len(t, views, 2)
	assert.Nil(t, views[0].Focused)
	require.NotNil(t, views[1].Focused)
	assert.Equal(t, "m1,m1", views[1].Focused.String())
}

func TestThread_AddMessageReturnsFocus(t *testing.T) {
	th := newTestThread()
	th.AddMessage(rawMessage("m2"))
	th.FocusNextElement()

	// Inserting before the focused message keeps the focused pair.
	msg, focused := th.AddMessage(rawMessage("m1"))
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "m2,m2", focused)
}

func TestThread_OnChangeDeliversInOrder(t *testing.T) {
	th := newTestThread()

	var mu sync.Mutex
	var views []View
	first := true
	entered := make(chan struct{})
	release := make(chan struct{})
	th.OnChange(func(v View) {
		mu.Lock()
		block := first
		first = false
		mu.Unlock()

		if block {
			close(entered)
			<-release
		}

		mu.Lock()
		views = append(views, v)
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		th.AddMessage(rawMessage("m1"))
	}()
	<-entered

	// The second change completes while the first view is still being delivered.
	th.AddMessage(rawMessage("m2"))
	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, views, 2)
	assert.Len(t, views[0].Messages, 1)
	assert.Len(t, views[1].Messages, 2)
	assert.Less(t, views[0].Seq, views[1].Seq)
	assert.Equal(t, th.Project(), views[len(views)-1])
}

func TestThread_WithView(t *testing.T) {
	th := newTestThread()
	th.AddMessage(rawMessage("m1"))

	var seqs []uint64
	th.OnChange(func(v View) {
		seqs = append(seqs, v.Seq)
	})

	var got View
	th.WithView(func(v View) {
		got = v
		seqs = append(seqs, v.Seq)
	})
	th.FocusNextElement()

	assert.Len(t, got.Messages, 1)
	assert.Equal(t, uint64(1), got.Seq)
	assert.Equal(t, []uint64{1, 2}, seqs)
}

func TestThread_OnChangeMayReadThread(t *testing.T) {
	th := newTestThread()

	var elements []models.Element
	th.OnChange(func(View) {
		elements = th.Elements()
	})

	th.AddMessage(rawMessage("m1"))

	assert.Len(t, elements, 1)
}

func TestThread_RestoreViewState(t *testing.T) {
	focus := el("m2", "5")
	th := NewThread("session", "thread", models.ViewState{
		Expanded: map[string]bool{"m2": true},
		Focus:    &focus,
	}, nil)

	th.AddMessage(rawMessage("m1"))
	_, ok := th.Focused()
	assert.False(t, ok, "saved focus waits for its element")

	th.AddMessage(rawMessage("m2", "5"))

	assert.True(t, th.Flags("m2").Expanded)
	got, ok := th.Focused()
	require.True(t, ok)
	assert.Equal(t, focus, got)

	state := th.ViewState()
	assert.Equal(t, map[string]bool{"m1": false, "m2": true}, state.Expanded)
	require.NotNil(t, state.Focus)
	assert.Equal(t, focus, *state.Focus)
}

func TestThread_RestoreSkippedAfterUserFocus(t *testing.T) {
	focus := el("m2", "m2")
	th := NewThread("session", "thread", models.ViewState{Focus: &focus}, nil)

	th.AddMessage(rawMessage("m1"))
	th.FocusNextElement()
	th.AddMessage(rawMessage("m2"))

	got, ok := th.Focused()
	require.True(t, ok)
	assert.Equal(t, el("m1", "m1"), got)
}

func TestThread_ConcurrentUse(t *testing.T) {
	th := newTestThread()
	for _, id := range []string{"m1", "m2", "m3"} {
		th.AddMessage(rawMessage(id, id+"-1"))
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if i%2 == 0 {
					th.FocusNextElement()
				} else {
					th.ToggleMessage("m2")
					th.FocusPreviousElement()
				}
			}
		}()
	}
	wg.Wait()

	el, ok := th.Focused()
	require.True(t, ok)
	assert.Contains(t, th.Elements(), el)
}
