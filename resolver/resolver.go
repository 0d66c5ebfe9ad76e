// Package resolver turns a user-supplied channel or video reference into the
// identifier of a currently-live YouTube broadcast.
//
// Video references are parsed locally. Channel references are resolved by
// fetching the channel's /live page once and scanning the HTML for the video
// the platform redirects to while the channel is live.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/onnwee/chatcaster/telemetry"
)

// DefaultTimeout bounds a single channel page fetch.
const DefaultTimeout = 10 * time.Second

// maxPageBytes caps how much of a channel page is read.
const maxPageBytes = 8 << 20

var (
	// ErrNotFound means no identifier could be extracted: the video reference
	// is malformed or the channel has no current broadcast.
	ErrNotFound = errors.New("no live broadcast found")
	// ErrNetwork wraps transport failures and non-success statuses.
	ErrNetwork = errors.New("network error")
	// ErrInvalidRef means the reference is neither a video nor a channel. It is
	// always reported together with ErrNotFound.
	ErrInvalidRef = errors.New("not a video or channel reference")
)

// StatusError reports a non-200 response from the channel page.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrNetwork }

// Notifier receives human-readable progress messages.
type Notifier interface {
	Notify(text string)
}

// Resolved is the outcome of a successful resolution.
type Resolved struct {
	SourceRef  string
	VideoID    string
	ResolvedAt time.Time
	// Method names the matcher that produced VideoID.
	Method string
}

// WatchURL returns the canonical watch URL for the resolved video.
func (r Resolved) WatchURL() string { return WatchURL(r.VideoID) }

// WatchURL returns the canonical watch URL for id.
func WatchURL(id string) string { return "https://www.youtube.com/watch?v=" + id }

// browserHeaders mimic a desktop browser; the live page is served differently
// to unknown clients.
var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"Accept-Language": "en-US,en;q=0.9",
}

// Resolver resolves references. The zero value is usable.
type Resolver struct {
	HTTPClient *http.Client
	Notifier   Notifier
	Timeout    time.Duration
	Now        func() time.Time

	group singleflight.Group
}

func (r *Resolver) http() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return http.DefaultClient
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Resolver) notify(format string, args ...any) {
	if r.Notifier != nil {
		r.Notifier.Notify(fmt.Sprintf(format, args...))
	}
}

// Resolve returns the live broadcast identifier for ref. Concurrent calls for
// the same ref share one fetch.
func (r *Resolver) Resolve(ctx context.Context, ref string) (Resolved, error) {
	ref = strings.TrimSpace(ref)
	ctx, span := telemetry.StartSpan(ctx, "resolver", "resolver.Resolve", attribute.String("ref", ref))
	defer span.End()

	var res Resolved
	var err error
	telemetry.TimeFunc(telemetry.ResolveDuration, func() {
		// the shared fetch is bounded by Timeout, not by whichever caller
		// started it
		ch := r.group.DoChan(ref, func() (any, error) {
			return r.resolve(context.WithoutCancel(ctx), ref)
		})
		select {
		case out := <-ch:
			res, _ = out.Val.(Resolved)
			err = out.Err
		case <-ctx.Done():
			err = ctx.Err()
		}
	})

	switch {
	case err == nil:
		telemetry.IncOutcome(telemetry.ResolvesTotal, "found")
		span.SetAttributes(attribute.String("video_id", res.VideoID))
		telemetry.SetSpanSuccess(span)
	case errors.Is(err, ErrNotFound), errors.Is(err, context.Canceled):
		// expected outcome, not a failure
		telemetry.IncOutcome(telemetry.ResolvesTotal, "not_found")
	default:
		telemetry.IncOutcome(telemetry.ResolvesTotal, "error")
		telemetry.RecordError(span, err)
	}
	return res, err
}

func (r *Resolver) resolve(ctx context.Context, ref string) (Resolved, error) {
	switch Classify(ref) {
	case KindVideo:
		id, _ := ExtractVideoID(ref)
		return Resolved{SourceRef: ref, VideoID: id, ResolvedAt: r.now(), Method: "url"}, nil
	case KindChannel:
		return r.resolveChannel(ctx, ref)
	default:
		return Resolved{}, fmt.Errorf("%w: %w: %q", ErrNotFound, ErrInvalidRef, ref)
	}
}

func (r *Resolver) resolveChannel(ctx context.Context, ref string) (Resolved, error) {
	liveURL := LivePageURL(ref)
	r.notify("Fetching %s", liveURL)
	slog.Debug("resolving channel", slog.String("url", liveURL), slog.String("component", "resolver"))

	body, err := r.fetch(ctx, liveURL)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			r.notify("Channel page error (status %d)", se.StatusCode)
		} else {
			r.notify("Error while looking for live stream: %v", err)
		}
		return Resolved{}, err
	}

	id, method, ok := FindLiveVideoID(body)
	if !ok {
		r.notify("No live stream found on this channel")
		return Resolved{}, ErrNotFound
	}
	r.notify("Found video ID (%s): %s", method, id)
	return Resolved{SourceRef: ref, VideoID: id, ResolvedAt: r.now(), Method: method}, nil
}

func (r *Resolver) fetch(ctx context.Context, url string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}
	resp, err := r.http().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}
	return string(b), nil
}

// pageMatchers run in priority order. The canonical link is only rendered
// while a broadcast is actually live, so it wins over looser matches.
var pageMatchers = []struct {
	method string
	re     *regexp.Regexp
}{
	{"canonical", regexp.MustCompile(`<link rel="canonical" href="https://www\.youtube\.com/watch\?v=([a-zA-Z0-9_-]{11})">`)},
	{"videoId", regexp.MustCompile(`"videoId":"([a-zA-Z0-9_-]{11})"`)},
	{"watch", regexp.MustCompile(`watch\?v=([a-zA-Z0-9_-]{11})`)},
}

// FindLiveVideoID scans a channel /live page body.
func FindLiveVideoID(body string) (id, method string, ok bool) {
	for _, m := range pageMatchers {
		if sub := m.re.FindStringSubmatch(body); sub != nil {
			return sub[1], m.method, true
		}
	}
	return "", "", false
}
