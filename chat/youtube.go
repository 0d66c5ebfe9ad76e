package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	yt "google.golang.org/api/youtube/v3"
)

// ErrVideoNotFound is returned by YouTubeProvider.Open for unknown videos.
var ErrVideoNotFound = errors.New("video not found")

var (
	videoParts   = []string{"liveStreamingDetails"}
	messageParts = []string{"snippet", "authorDetails"}
)

// YouTubeProvider reads live chat through the YouTube Data API.
type YouTubeProvider struct {
	Service *yt.Service
	// Clock is used to honour the server's minimum polling gap.
	Clock clockwork.Clock
}

func (p *YouTubeProvider) clock() clockwork.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return clockwork.NewRealClock()
}

// Open looks up the active live chat of videoID. A video without an active
// chat yields a handle that reports not alive.
func (p *YouTubeProvider) Open(ctx context.Context, videoID string) (Handle, error) {
	if p.Service == nil {
		return nil, errors.New("nil youtube service")
	}
	resp, err := p.Service.Videos.List(videoParts).Id(videoID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("videos.list %s: %w", videoID, err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, videoID)
	}
	h := &youtubeHandle{svc: p.Service, clock: p.clock()}
	if d := resp.Items[0].LiveStreamingDetails; d != nil && d.ActiveLiveChatId != "" {
		h.liveChatID = d.ActiveLiveChatId
		h.alive = true
	}
	return h, nil
}

type youtubeHandle struct {
	svc        *yt.Service
	clock      clockwork.Clock
	liveChatID string

	mu        sync.Mutex
	alive     bool
	pageToken string
	nextPoll  time.Time
}

func (h *youtubeHandle) IsAlive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *youtubeHandle) Poll(ctx context.Context) ([]RawEvent, error) {
	h.mu.Lock()
	if !h.alive {
		h.mu.Unlock()
		return nil, nil
	}
	if h.clock.Now().Before(h.nextPoll) {
		h.mu.Unlock()
		return nil, nil
	}
	token := h.pageToken
	h.mu.Unlock()

	call := h.svc.LiveChatMessages.List(h.liveChatID, messageParts).Context(ctx)
	if token != "" {
		call = call.PageToken(token)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("liveChatMessages.list: %w", err)
	}

	h.mu.Lock()
	h.pageToken = resp.NextPageToken
	h.nextPoll = h.clock.Now().Add(time.Duration(resp.PollingIntervalMillis) * time.Millisecond)
	if resp.OfflineAt != "" {
		h.alive = false
	}
	h.mu.Unlock()

	events := make([]RawEvent, 0, len(resp.Items))
	for _, item := range resp.Items {
		if ev, ok := youtubeEvent(item); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (h *youtubeHandle) Close() error {
	h.mu.Lock()
	h.alive = false
	h.mu.Unlock()
	return nil
}

// youtubeEvent maps a message resource. Items without a snippet or author are
// skipped.
func youtubeEvent(m *yt.LiveChatMessage) (RawEvent, bool) {
	if m == nil || m.Snippet == nil || m.AuthorDetails == nil {
		return RawEvent{}, false
	}
	ev := RawEvent{
		Author:   m.AuthorDetails.DisplayName,
		Text:     m.Snippet.DisplayMessage,
		IsMember: m.AuthorDetails.IsChatSponsor,
	}
	switch {
	case m.Snippet.SuperChatDetails != nil:
		ev.GiftAmount = m.Snippet.SuperChatDetails.AmountDisplayString
	case m.Snippet.SuperStickerDetails != nil:
		ev.GiftAmount = m.Snippet.SuperStickerDetails.AmountDisplayString
	}
	return ev, true
}
