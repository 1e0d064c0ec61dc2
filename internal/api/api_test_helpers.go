package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/vdavid/threadview/internal/background"
	"github.com/vdavid/threadview/internal/threadview"
	ws "github.com/vdavid/threadview/internal/websocket"
)

const testToken = "test-token"

// fakeLoader serves a fixed set of raw messages and lets tests trigger mailbox changes.
type fakeLoader struct {
	mu      sync.Mutex
	raws    []map[string]any
	err     error
	loads   int
	changes chan struct{}
}

func newFakeLoader(raws ...map[string]any) *fakeLoader {
	return &fakeLoader{raws: raws, changes: make(chan struct{})}
}

func (f *fakeLoader) LoadThread(_ context.Context, _, _ string) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	return append([]map[string]any(nil), f.raws...), nil
}

func (f *fakeLoader) Watch(ctx context.Context, _ string, onChange func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.changes:
			onChange()
		}
	}
}

func (f *fakeLoader) setRaws(raws ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raws = raws
}

func (f *fakeLoader) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

type testEnv struct {
	registry  *threadview.Registry
	hub       *ws.Hub
	collector *background.Collector
	views     *ViewsHandler
	sockets   *WebSocketHandler
}

// newTestEnv wires the handlers the way the server does. loader may be nil.
func newTestEnv(t *testing.T, loader ThreadLoader) *testEnv {
	t.Helper()

	registry := threadview.NewRegistry(nil, nil)
	hub := ws.NewHub(10)
	collector := background.NewCollector(context.Background())

	env := &testEnv{
		registry:  registry,
		hub:       hub,
		collector: collector,
		sockets:   NewWebSocketHandler(registry, hub, testToken),
	}
	env.views = NewViewsHandler(registry, hub, collector, loader)

	t.Cleanup(func() {
		env.views.Close()
		collector.Stop()
	})
	return env
}

// mux routes the view endpoints the same way the server does, without auth.
func (e *testEnv) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/views", e.views.CreateView)
	mux.HandleFunc("GET /api/v1/views", e.views.ListViews)
	mux.HandleFunc("GET /api/v1/views/{id}", e.views.GetView)
	mux.HandleFunc("DELETE /api/v1/views/{id}", e.views.DeleteView)
	mux.HandleFunc("POST /api/v1/views/{id}/focus/next", e.views.FocusNext)
	mux.HandleFunc("POST /api/v1/views/{id}/focus/previous", e.views.FocusPrevious)
	mux.HandleFunc("POST /api/v1/views/{id}/focus/{index}", e.views.FocusIndex)
	mux.HandleFunc("POST /api/v1/views/{id}/messages", e.views.AddMessage)
	mux.HandleFunc("DELETE /api/v1/views/{id}/messages", e.views.ClearMessages)
	mux.HandleFunc("POST /api/v1/views/{id}/messages/{mid}/expand", e.views.ExpandMessage)
	mux.HandleFunc("POST /api/v1/views/{id}/messages/{mid}/collapse", e.views.CollapseMessage)
	mux.HandleFunc("POST /api/v1/views/{id}/messages/{mid}/toggle", e.views.ToggleMessage)
	mux.HandleFunc("GET /api/v1/views/{id}/ws", e.sockets.Subscribe)
	mux.HandleFunc("GET /api/v1/views/{id}/bridge", e.sockets.Bridge)
	return mux
}

// do sends a request through the test mux and returns the recorder.
func (e *testEnv) do(method, url, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	rr := httptest.NewRecorder()
	e.mux().ServeHTTP(rr, req)
	return rr
}

func rawMessage(id string, eids ...string) map[string]any {
	body := make([]any, 0, len(eids))
	for _, eid := range eids {
		body = append(body, map[string]any{"eid": eid, "mime_type": "text/plain", "content": "part " + eid})
	}
	return map[string]any{"id": id, "subject": "Subject " + id, "body": body}
}
