package resolver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/chatcaster/testutil"
)

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) Notify(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		ref  string
		want RefKind
	}{
		{"https://www.youtube.com/watch?v=abcdefghijk", KindVideo},
		{"https://youtu.be/abcdefghijk?si=xyz", KindVideo},
		{"https://www.youtube.com/live/abcdefghijk", KindVideo},
		{"https://www.youtube.com/@somechannel", KindChannel},
		{"https://www.youtube.com/channel/UC123", KindChannel},
		{"https://www.youtube.com/c/legacy", KindChannel},
		{"https://www.youtube.com/user/olduser", KindChannel},
		{"hello world", KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.ref))
		})
	}
}

func TestExtractVideoID_Priority(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		want string
		ok   bool
	}{
		{"watch", "https://www.youtube.com/watch?v=XXXXXXXXXXX", "XXXXXXXXXXX", true},
		{"watch with extra params", "https://www.youtube.com/watch?v=XXXXXXXXXXX&t=42", "XXXXXXXXXXX", true},
		{"short link", "https://youtu.be/YYYYYYYYYYY", "YYYYYYYYYYY", true},
		{"short link tracking param", "https://youtu.be/YYYYYYYYYYY?si=abc", "YYYYYYYYYYY", true},
		{"live path", "https://www.youtube.com/live/ZZZZZZZZZZZ?feature=share", "ZZZZZZZZZZZ", true},
		{"channel", "https://www.youtube.com/@chan", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractVideoID(tt.ref)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLivePageURL(t *testing.T) {
	tests := map[string]string{
		"https://www.youtube.com/@chan":            "https://www.youtube.com/@chan/live",
		"https://www.youtube.com/@chan/?si=tracked": "https://www.youtube.com/@chan/live",
		"https://www.youtube.com/channel/UC123/":     "https://www.youtube.com/channel/UC123/live",
		"https://www.youtube.com/c/legacy":          "https://www.youtube.com/@legacy/live",
		"https://www.youtube.com/user/old":          "https://www.youtube.com/user/old/live",
		"https://www.youtube.com/@chan/live":        "https://www.youtube.com/@chan/live",
	}
	for in, want := range tests {
		assert.Equal(t, want, LivePageURL(in), in)
	}
}

func TestResolve_VideoRefNeedsNoNetwork(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	r := &Resolver{HTTPClient: srv.Client()}

	res, err := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=XXXXXXXXXXX")
	require.NoError(t, err)
	assert.Equal(t, "XXXXXXXXXXX", res.VideoID)
	assert.Equal(t, "url", res.Method)
	assert.Equal(t, 0, srv.Hits("/watch"))
}

func TestResolve_InvalidRefIsNotFound(t *testing.T) {
	r := &Resolver{}
	_, err := r.Resolve(context.Background(), "not a url")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestResolve_ChannelMatcherPriority(t *testing.T) {
	canonical := `<link rel="canonical" href="https://www.youtube.com/watch?v=CANONICAL01">`
	videoID := `{"videoId":"VIDEOIDTOK1"}`
	bare := `<a href="/watch?v=BAREWATCH01">`

	tests := []struct {
		name       string
		body       string
		wantID     string
		wantMethod string
	}{
		{"all three present", bare + videoID + canonical, "CANONICAL01", "canonical"},
		{"videoId beats bare watch", bare + videoID, "VIDEOIDTOK1", "videoId"},
		{"bare watch only", bare, "BAREWATCH01", "watch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockYouTubeServer(t)
			srv.MockPage("/@chan/live", http.StatusOK, "<html>"+tt.body+"</html>")
			notes := &recordingNotifier{}
			r := &Resolver{HTTPClient: srv.Client(), Notifier: notes}

			res, err := r.Resolve(context.Background(), "https://www.youtube.com/@chan")
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, res.VideoID)
			assert.Equal(t, tt.wantMethod, res.Method)
			assert.Equal(t, "https://www.youtube.com/@chan", res.SourceRef)
			assert.Equal(t, 1, srv.Hits("/@chan/live"))
			assert.NotEmpty(t, notes.all())
		})
	}
}

func TestResolve_ChannelNotLive(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockPage("/@quiet/live", http.StatusOK, "<html><body>nothing here</body></html>")
	notes := &recordingNotifier{}
	r := &Resolver{HTTPClient: srv.Client(), Notifier: notes}

	_, err := r.Resolve(context.Background(), "https://www.youtube.com/@quiet")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, notes.all(), "No live stream found on this channel")
}

func TestResolve_ChannelLegacyAliasRewritten(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockPage("/@legacy/live", http.StatusOK, `"videoId":"LEGACYVID01"`)
	r := &Resolver{HTTPClient: srv.Client()}

	res, err := r.Resolve(context.Background(), "https://www.youtube.com/c/legacy")
	require.NoError(t, err)
	assert.Equal(t, "LEGACYVID01", res.VideoID)
}

func TestResolve_NonSuccessStatus(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	srv.MockPage("/@gone/live", http.StatusServiceUnavailable, "down")
	notes := &recordingNotifier{}
	r := &Resolver{HTTPClient: srv.Client(), Notifier: notes}

	_, err := r.Resolve(context.Background(), "https://www.youtube.com/@gone")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.False(t, errors.Is(err, ErrNotFound))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Contains(t, notes.all(), "Channel page error (status 503)")
}

func TestResolve_SendsBrowserHeaders(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	var ua, lang string
	srv.Handle("/@chan/live", func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		lang = r.Header.Get("Accept-Language")
		_, _ = w.Write([]byte(`"videoId":"ABCDEFGHIJK"`))
	})
	r := &Resolver{HTTPClient: srv.Client()}

	_, err := r.Resolve(context.Background(), "https://www.youtube.com/@chan")
	require.NoError(t, err)
	assert.Contains(t, ua, "Mozilla/5.0")
	assert.Equal(t, "en-US,en;q=0.9", lang)
}

func TestResolve_TransportFailure(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	client := srv.Client()
	srv.Close()
	r := &Resolver{HTTPClient: client}

	_, err := r.Resolve(context.Background(), "https://www.youtube.com/@chan")
	require.ErrorIs(t, err, ErrNetwork)
}

func TestResolve_CanceledCallerDoesNotFailSharedFetch(t *testing.T) {
	srv := testutil.NewMockYouTubeServer(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv.Handle("/@chan/live", func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-release
		_, _ = w.Write([]byte(`"videoId":"SHAREDVID01"`))
	})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	r := &Resolver{HTTPClient: srv.Client()}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctxA, "https://www.youtube.com/@chan")
		errA <- err
	}()
	<-started

	type result struct {
		res Resolved
		err error
	}
	resB := make(chan result, 1)
	go func() {
		res, err := r.Resolve(context.Background(), "https://www.youtube.com/@chan")
		resB <- result{res, err}
	}()

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller did not return")
	}

	time.Sleep(20 * time.Millisecond)
	unblock()
	select {
	case got := <-resB:
		require.NoError(t, got.err)
		assert.Equal(t, "SHAREDVID01", got.res.VideoID)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
}
