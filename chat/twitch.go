package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// maxBuffered bounds the events held between polls; the oldest are dropped.
const maxBuffered = 1000

// TwitchProvider reads chat over Twitch IRC. The "video id" is the channel
// login. Without credentials the client joins anonymously.
type TwitchProvider struct {
	Username   string
	OAuthToken string
}

func (p *TwitchProvider) newClient() *twitch.Client {
	if p.Username == "" || p.OAuthToken == "" {
		return twitch.NewAnonymousClient()
	}
	token := p.OAuthToken
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	return twitch.NewClient(p.Username, token)
}

// Open joins channel and starts the IRC connection in the background.
func (p *TwitchProvider) Open(ctx context.Context, channel string) (Handle, error) {
	channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#"))
	if channel == "" {
		return nil, errors.New("empty twitch channel")
	}
	client := p.newClient()
	h := &twitchHandle{client: client, channel: channel, alive: true}
	client.OnPrivateMessage(h.onMessage)
	client.Join(channel)

	go func() {
		err := client.Connect()
		if errors.Is(err, twitch.ErrClientDisconnected) {
			err = nil
		}
		h.stop(err)
		if err != nil {
			slog.Error("twitch chat connect error", slog.String("channel", channel), slog.Any("err", err))
		}
	}()
	return h, nil
}

type twitchHandle struct {
	client  *twitch.Client
	channel string

	mu     sync.Mutex
	alive  bool
	err    error
	buffer []RawEvent
}

func (h *twitchHandle) onMessage(msg twitch.PrivateMessage) {
	ev := twitchEvent(msg)
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buffer) >= maxBuffered {
		h.buffer = h.buffer[1:]
	}
	h.buffer = append(h.buffer, ev)
}

func (h *twitchHandle) stop(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alive = false
	if err != nil && h.err == nil {
		h.err = err
	}
}

func (h *twitchHandle) IsAlive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive || len(h.buffer) > 0 || h.err != nil
}

// Poll drains buffered messages. A connection error is returned once the
// buffer has been drained.
func (h *twitchHandle) Poll(ctx context.Context) ([]RawEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buffer) > 0 {
		out := h.buffer
		h.buffer = nil
		return out, nil
	}
	if h.err != nil {
		return nil, h.err
	}
	return nil, nil
}

func (h *twitchHandle) Close() error {
	h.mu.Lock()
	h.alive = false
	h.mu.Unlock()
	err := h.client.Disconnect()
	if errors.Is(err, twitch.ErrConnectionIsNotOpen) {
		return nil
	}
	return err
}

func twitchEvent(msg twitch.PrivateMessage) RawEvent {
	author := msg.User.DisplayName
	if author == "" {
		author = msg.User.Name
	}
	ev := RawEvent{
		Author:   author,
		Text:     msg.Message,
		IsMember: msg.User.Badges["subscriber"] > 0 || msg.User.Badges["founder"] > 0,
	}
	if msg.Bits > 0 {
		ev.GiftAmount = fmt.Sprintf("%d bits", msg.Bits)
	}
	return ev
}
