// Package testutil holds test doubles shared across packages.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// MockYouTubeServer serves canned responses for youtube.com pages and the
// YouTube Data API. Handlers are keyed by URL path.
type MockYouTubeServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
}

// NewMockYouTubeServer creates a mock server closed at test cleanup.
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.hits[r.URL.Path]++
		handler, ok := m.handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a handler for path.
func (m *MockYouTubeServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = h
}

// Hits returns how many requests path has received.
func (m *MockYouTubeServer) Hits(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[path]
}

// MockPage serves body as HTML at path with the given status.
func (m *MockYouTubeServer) MockPage(path string, status int, body string) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body)) //nolint:errcheck // test mock response
	})
}

// MockVideosResponse adds a handler for the videos.list endpoint returning
// one video with the given active live chat id ("" for none).
func (m *MockYouTubeServer) MockVideosResponse(videoID, liveChatID string) {
	m.Handle("/youtube/v3/videos", func(w http.ResponseWriter, r *http.Request) {
		items := []map[string]any{}
		if r.URL.Query().Get("id") == videoID {
			details := map[string]any{}
			if liveChatID != "" {
				details["activeLiveChatId"] = liveChatID
			}
			items = append(items, map[string]any{
				"id":                   videoID,
				"liveStreamingDetails": details,
			})
		}
		writeJSON(w, map[string]any{"items": items})
	})
}

// LiveChatPage is one canned liveChatMessages.list response.
type LiveChatPage struct {
	Items         []map[string]any
	NextPageToken string
	OfflineAt     string
	Status        int
}

// MockLiveChat serves pages in order for the liveChatMessages.list endpoint;
// the last page repeats once the list is exhausted.
func (m *MockYouTubeServer) MockLiveChat(pages ...LiveChatPage) {
	var mu sync.Mutex
	i := 0
	m.Handle("/youtube/v3/liveChat/messages", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		p := pages[i]
		if i < len(pages)-1 {
			i++
		}
		mu.Unlock()
		if p.Status != 0 && p.Status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(p.Status)
			_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // test mock response
				"error": map[string]any{"code": p.Status, "message": http.StatusText(p.Status)},
			})
			return
		}
		body := map[string]any{
			"items":                 p.Items,
			"nextPageToken":         p.NextPageToken,
			"pollingIntervalMillis": 0,
		}
		if p.OfflineAt != "" {
			body["offlineAt"] = p.OfflineAt
		}
		writeJSON(w, body)
	})
}

// ChatItem builds one liveChatMessage resource.
func ChatItem(author, text string, sponsor bool, amount string) map[string]any {
	snippet := map[string]any{"displayMessage": text, "type": "textMessageEvent"}
	if amount != "" {
		snippet["type"] = "superChatEvent"
		snippet["superChatDetails"] = map[string]any{"amountDisplayString": amount}
	}
	return map[string]any{
		"snippet":       snippet,
		"authorDetails": map[string]any{"displayName": author, "isChatSponsor": sponsor},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// RewriteTransport sends every request to Target, keeping path and query, so
// code with hard-coded hosts can be pointed at an httptest server.
type RewriteTransport struct {
	Transport http.RoundTripper
	Target    string
}

func (t *RewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	target, err := url.Parse(t.Target)
	if err != nil {
		return nil, err
	}
	r := req.Clone(req.Context())
	r.URL.Scheme = target.Scheme
	r.URL.Host = target.Host
	r.Host = target.Host
	rt := t.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	return rt.RoundTrip(r)
}

// Client returns an http.Client routing all requests to the mock server.
func (m *MockYouTubeServer) Client() *http.Client {
	return &http.Client{Transport: &RewriteTransport{Target: m.URL}}
}
