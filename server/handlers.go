package server

import (
	"context"

	"github.com/onnwee/chatcaster/chat"
	"github.com/onnwee/chatcaster/feed"
	"github.com/onnwee/chatcaster/hub"
	"github.com/onnwee/chatcaster/resolver"
	"github.com/onnwee/chatcaster/speech"
)

// Controller is the part of *feed.Controller the handlers use.
type Controller interface {
	Hub() *hub.Hub
	Status() feed.Status
	Resolve(ctx context.Context, ref string) (resolver.Resolved, error)
	ConnectRefAsync(ref string)
	Disconnect()
	EnqueueSpeech(text string) bool
	TestVoice(text string) error
	SpeechSettings() (speech.SettingsSnapshot, error)
	UpdateSpeechSettings(s speech.SettingsSnapshot) error
	ReloadBlacklist() error
	ReloadSlang() error
	SaveBlacklist(entries []string) error
	Blacklist() []string
}

// ReadyCheck is one named dependency probe for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// MessageHistory returns archived messages for a video, oldest first.
type MessageHistory interface {
	RecentMessages(ctx context.Context, videoID string, limit int) ([]chat.Message, error)
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctl            Controller
	ready          []ReadyCheck
	history        MessageHistory
	allowedOrigins []string
}

func NewHandlers(ctl Controller, opts Options) *Handlers {
	return &Handlers{
		ctl:            ctl,
		ready:          opts.ReadyChecks,
		history:        opts.History,
		allowedOrigins: opts.AllowedOrigins,
	}
}
