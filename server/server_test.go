package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/chatcaster/chat"
	"github.com/onnwee/chatcaster/feed"
	"github.com/onnwee/chatcaster/hub"
	"github.com/onnwee/chatcaster/resolver"
	"github.com/onnwee/chatcaster/speech"
)

type stubController struct {
	mu          sync.Mutex
	hub         *hub.Hub
	state       string
	videoID     string
	connects    []string
	disconnects int
	speechOn    bool
	spoken      []string
	settings    *speech.Settings
	noSpeech    bool
	blacklist   []string
	resolveErr  error
	reloadErr   error
}

func newStub() *stubController {
	return &stubController{hub: hub.New(), state: "idle", settings: speech.NewSettings()}
}

func (s *stubController) Hub() *hub.Hub { return s.hub }

func (s *stubController) Status() feed.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return feed.Status{State: s.state, VideoID: s.videoID}
}

func (s *stubController) Resolve(_ context.Context, ref string) (resolver.Resolved, error) {
	if s.resolveErr != nil {
		return resolver.Resolved{}, s.resolveErr
	}
	return resolver.Resolved{SourceRef: ref, VideoID: "RESOLVED001", Method: "canonical", ResolvedAt: time.Unix(0, 0).UTC()}, nil
}

func (s *stubController) ConnectRefAsync(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects = append(s.connects, ref)
}

func (s *stubController) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
}

func (s *stubController) EnqueueSpeech(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.speechOn {
		return false
	}
	s.spoken = append(s.spoken, text)
	return true
}

func (s *stubController) TestVoice(text string) error {
	if s.noSpeech {
		return feed.ErrSpeechUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *stubController) SpeechSettings() (speech.SettingsSnapshot, error) {
	if s.noSpeech {
		return speech.SettingsSnapshot{}, feed.ErrSpeechUnavailable
	}
	return s.settings.Snapshot(), nil
}

func (s *stubController) UpdateSpeechSettings(snap speech.SettingsSnapshot) error {
	if s.noSpeech {
		return feed.ErrSpeechUnavailable
	}
	s.settings.Apply(snap)
	return nil
}

func (s *stubController) ReloadBlacklist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadErr
}

func (s *stubController) ReloadSlang() error { return s.ReloadBlacklist() }

func (s *stubController) SaveBlacklist(entries []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist = entries
	return nil
}

func (s *stubController) Blacklist() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.blacklist...)
}

func (s *stubController) locked(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

type stubHistory struct {
	mu      sync.Mutex
	videoID string
	limit   int
}

func (h *stubHistory) RecentMessages(_ context.Context, videoID string, limit int) ([]chat.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.videoID, h.limit = videoID, limit
	return []chat.Message{{Author: "alice", Text: "archived", VideoID: videoID}}, nil
}

func newTestServer(t *testing.T, ctl Controller, opts Options) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(NewMux(ctx, ctl, opts))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string, hdr ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthzAndCorrelationID(t *testing.T) {
	srv := newTestServer(t, newStub(), Options{})

	resp := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Correlation-ID"))

	resp = do(t, srv, http.MethodGet, "/healthz", "", "X-Correlation-ID", "corr-123")
	assert.Equal(t, "corr-123", resp.Header.Get("X-Correlation-ID"))
}

func TestReadyz(t *testing.T) {
	ctl := newStub()
	var (
		mu    sync.Mutex
		dbErr error
	)
	setErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		dbErr = err
	}
	check := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		return dbErr
	}
	srv := newTestServer(t, ctl, Options{ReadyChecks: []ReadyCheck{{Name: "archive", Check: check}}})

	resp := do(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	setErr(errors.New("db unreachable"))
	resp = do(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "archive", body["failed_check"])

	setErr(nil)
	ctl.locked(func() { ctl.state = chat.StateError.String() })
	resp = do(t, srv, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	decode(t, resp, &body)
	assert.Equal(t, "session", body["failed_check"])
}

func TestStatus(t *testing.T) {
	ctl := newStub()
	ctl.state, ctl.videoID = "polling", "VIDEO000001"
	srv := newTestServer(t, ctl, Options{})

	resp := do(t, srv, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st feed.Status
	decode(t, resp, &st)
	assert.Equal(t, "polling", st.State)
	assert.Equal(t, "VIDEO000001", st.VideoID)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, newStub(), Options{})
	resp := do(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConnect(t *testing.T) {
	ctl := newStub()
	srv := newTestServer(t, ctl, Options{})

	resp := do(t, srv, http.MethodPost, "/connect", `{"ref":" https://youtu.be/ABCDEFGHIJK "}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	ctl.locked(func() { assert.Equal(t, []string{"https://youtu.be/ABCDEFGHIJK"}, ctl.connects) })

	resp = do(t, srv, http.MethodPost, "/connect", `{"ref":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = do(t, srv, http.MethodPost, "/connect", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = do(t, srv, http.MethodGet, "/connect", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestResolveStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"found", nil, http.StatusOK},
		{"not found", resolver.ErrNotFound, http.StatusNotFound},
		{"invalid ref", fmt.Errorf("%w: %w", resolver.ErrNotFound, resolver.ErrInvalidRef), http.StatusNotFound},
		{"network", fmt.Errorf("%w: dial tcp", resolver.ErrNetwork), http.StatusBadGateway},
		{"page status", &resolver.StatusError{URL: "u", StatusCode: 503}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := newStub()
			ctl.resolveErr = tt.err
			srv := newTestServer(t, ctl, Options{})
			resp := do(t, srv, http.MethodPost, "/resolve", `{"ref":"https://www.youtube.com/@chan"}`)
			assert.Equal(t, tt.want, resp.StatusCode)
			if tt.want == http.StatusOK {
				var body resolveResponse
				decode(t, resp, &body)
				assert.Equal(t, "RESOLVED001", body.VideoID)
				assert.Equal(t, "https://www.youtube.com/watch?v=RESOLVED001", body.WatchURL)
			}
		})
	}
}

func TestDisconnect(t *testing.T) {
	ctl := newStub()
	srv := newTestServer(t, ctl, Options{})
	resp := do(t, srv, http.MethodPost, "/disconnect", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	ctl.locked(func() { assert.Equal(t, 1, ctl.disconnects) })
}

func TestSpeechEndpoints(t *testing.T) {
	ctl := newStub()
	srv := newTestServer(t, ctl, Options{})

	resp := do(t, srv, http.MethodPost, "/speech", `{"text":"hello"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	ctl.locked(func() { ctl.speechOn = true })
	resp = do(t, srv, http.MethodPost, "/speech", `{"text":"hello"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp = do(t, srv, http.MethodPost, "/speech", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/speech/test", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	ctl.locked(func() { assert.Len(t, ctl.spoken, 2) })

	resp = do(t, srv, http.MethodPut, "/speech/settings", `{"enabled":true,"translate_enabled":true,"direction":"to_en","volume":1.5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap speech.SettingsSnapshot
	decode(t, resp, &snap)
	assert.True(t, snap.Enabled)
	assert.Equal(t, speech.ToEnglish, snap.Direction)
	assert.Equal(t, 1.0, snap.Volume)

	resp = do(t, srv, http.MethodGet, "/speech/settings", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSpeechUnavailable(t *testing.T) {
	ctl := newStub()
	ctl.noSpeech = true
	srv := newTestServer(t, ctl, Options{})
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/speech/settings", "").StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodPost, "/speech/test", `{"text":"x"}`).StatusCode)
}

func TestBlacklistEndpoints(t *testing.T) {
	ctl := newStub()
	srv := newTestServer(t, ctl, Options{})

	resp := do(t, srv, http.MethodPut, "/blacklist", `{"entries":["spam","scam"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body blacklistRequest
	decode(t, resp, &body)
	assert.Equal(t, []string{"spam", "scam"}, body.Entries)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/blacklist/reload", "").StatusCode)
	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodPost, "/slang/reload", "").StatusCode)

	ctl.locked(func() { ctl.reloadErr = errors.New("permission denied") })
	assert.Equal(t, http.StatusInternalServerError, do(t, srv, http.MethodPost, "/blacklist/reload", "").StatusCode)
}

func TestMessagesEndpoint(t *testing.T) {
	ctl := newStub()
	srv := newTestServer(t, ctl, Options{})
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/messages", "").StatusCode)

	hist := &stubHistory{}
	srv = newTestServer(t, ctl, Options{History: hist})
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/messages", "").StatusCode)

	ctl.locked(func() { ctl.videoID = "CURRENTVID1" })
	resp := do(t, srv, http.MethodGet, "/messages?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var msgs []chat.Message
	decode(t, resp, &msgs)
	require.Len(t, msgs, 1)
	hist.mu.Lock()
	defer hist.mu.Unlock()
	assert.Equal(t, "CURRENTVID1", hist.videoID)
	assert.Equal(t, 5, hist.limit)
}

func TestAdminToken(t *testing.T) {
	ctl := newStub()
	srv := newTestServer(t, ctl, Options{AdminToken: "secret"})

	assert.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodPost, "/disconnect", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodPost, "/disconnect", "", "X-Admin-Token", "wrong").StatusCode)
	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodPost, "/disconnect", "", "X-Admin-Token", "secret").StatusCode)
	// Read-only endpoints stay open.
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/status", "").StatusCode)
}

func TestRateLimit(t *testing.T) {
	ctl := newStub()
	srv := newTestServer(t, ctl, Options{RequestsPerMinute: 6})

	codes := map[int]int{}
	for i := 0; i < 5; i++ {
		codes[do(t, srv, http.MethodPost, "/disconnect", "").StatusCode]++
	}
	assert.Equal(t, 1, codes[http.StatusNoContent])
	assert.Equal(t, 4, codes[http.StatusTooManyRequests])

	// Another client has its own bucket.
	resp := do(t, srv, http.MethodPost, "/disconnect", "", "X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	// Status is never limited.
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/status", "").StatusCode)
}

func TestRateLimiterCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := newIPRateLimiter(ctx, 60)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }
	assert.True(t, rl.allow("10.0.0.1"))

	now = now.Add(10 * time.Minute)
	rl.cleanup()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.visitors)
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, newStub(), Options{AllowedOrigins: []string{"https://overlay.example", "*.example.org"}})

	resp := do(t, srv, http.MethodOptions, "/connect", "", "Origin", "https://overlay.example")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://overlay.example", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = do(t, srv, http.MethodGet, "/status", "", "Origin", "https://obs.example.org")
	assert.Equal(t, "https://obs.example.org", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = do(t, srv, http.MethodGet, "/status", "", "Origin", "https://evil.test")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	open := newTestServer(t, newStub(), Options{})
	resp = do(t, open, http.MethodGet, "/status", "", "Origin", "https://anything.test")
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

// readSSE returns the next event name and data payload.
func readSSE(t *testing.T, rd *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := rd.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "" && event != "":
			return event, data
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestEventsSSE(t *testing.T) {
	ctl := newStub()
	srv := newTestServer(t, ctl, Options{})

	resp := do(t, srv, http.MethodGet, "/events", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	rd := bufio.NewReader(resp.Body)

	event, _ := readSSE(t, rd)
	assert.Equal(t, "status", event)

	require.Eventually(t, func() bool { return ctl.hub.Len() == 1 }, time.Second, time.Millisecond)
	ctl.hub.Publish(hub.MessageEvent(chat.Message{Author: "alice", Text: "hi"}))
	ctl.hub.Publish(hub.NotificationEvent("Connected", time.Now()))

	event, data := readSSE(t, rd)
	assert.Equal(t, "message", event)
	var ev hub.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "hi", ev.Text)

	event, data = readSSE(t, rd)
	assert.Equal(t, "notification", event)
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, chat.SystemAuthor, ev.Author)

	resp.Body.Close()
	assert.Eventually(t, func() bool { return ctl.hub.Len() == 0 }, time.Second, time.Millisecond)
}

func TestWebSocketStream(t *testing.T) {
	ctl := newStub()
	srv := newTestServer(t, ctl, Options{})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first["kind"])

	require.Eventually(t, func() bool { return ctl.hub.Len() == 1 }, time.Second, time.Millisecond)
	ctl.hub.Publish(hub.MessageEvent(chat.Message{Author: "bob", Text: "over ws", IsMember: true}))

	var ev hub.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, hub.KindMessage, ev.Kind)
	require.NotNil(t, ev.Message)
	assert.True(t, ev.Message.IsMember)

	ctl.hub.Close()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestWebSocketRejectsOrigin(t *testing.T) {
	srv := newTestServer(t, newStub(), Options{AllowedOrigins: []string{"https://overlay.example"}})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.test"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
