// Package feed wires the resolver, chat session, dispatcher, speech queue and
// event hub together. The Controller is the single entry point for commands
// from the HTTP API and startup code; everything it produces for display goes
// out through the hub.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/chatcaster/chat"
	"github.com/onnwee/chatcaster/hub"
	"github.com/onnwee/chatcaster/resolver"
	"github.com/onnwee/chatcaster/speech"
	"github.com/onnwee/chatcaster/telemetry"
	"github.com/onnwee/chatcaster/wordlist"
)

// ErrSpeechUnavailable is returned by speech commands when no worker is
// configured.
var ErrSpeechUnavailable = errors.New("speech not configured")

// SpeechQueue is the part of the speech worker the controller drives.
type SpeechQueue interface {
	Enqueue(text string) bool
	Speak(text string) bool
	Len() int
	Settings() *speech.Settings
	Stop()
}

// Options configure a Controller. Provider and Words are required.
type Options struct {
	Provider chat.Provider
	// Resolver turns references into video ids. Its Notifier is set to the
	// controller when nil.
	Resolver *resolver.Resolver
	// DirectRefs passes references to the provider unchanged, for providers
	// whose stream identifier is the channel name.
	DirectRefs     bool
	Speech         SpeechQueue
	Words          *wordlist.Store
	Sinks          []chat.MessageSink
	SessionOptions []chat.SessionOption
	Hub            *hub.Hub
}

// Status is a point-in-time summary.
type Status struct {
	State       string                   `json:"state"`
	VideoID     string                   `json:"video_id,omitempty"`
	SourceRef   string                   `json:"source_ref,omitempty"`
	QueueDepth  int                      `json:"queue_depth"`
	Speech      *speech.SettingsSnapshot `json:"speech,omitempty"`
	Subscribers int                      `json:"subscribers"`
	Blacklist   int                      `json:"blacklist_entries"`
}

type Controller struct {
	hub        *hub.Hub
	session    *chat.Session
	resolver   *resolver.Resolver
	directRefs bool
	speech     SpeechQueue
	words      *wordlist.Store
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	// connectMu orders connect requests so the most recent one ends up
	// connected and recorded as the source.
	connectMu sync.Mutex

	mu        sync.Mutex
	sourceRef string
	closed    bool
}

// New builds a controller and its session. The hub receives every accepted
// message before any other sink.
func New(opts Options) *Controller {
	h := opts.Hub
	if h == nil {
		h = hub.New()
	}
	r := opts.Resolver
	if r == nil {
		r = &resolver.Resolver{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		hub:        h,
		resolver:   r,
		directRefs: opts.DirectRefs,
		speech:     opts.Speech,
		words:      opts.Words,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
	if r.Notifier == nil {
		r.Notifier = c
	}

	sinks := append([]chat.MessageSink{hubSink{h}}, opts.Sinks...)
	var speechSink chat.SpeechSink
	if opts.Speech != nil {
		speechSink = opts.Speech
	}
	var bl chat.BlacklistSource
	if opts.Words != nil {
		bl = opts.Words
	}
	dispatcher := chat.NewDispatcher(bl, speechSink, sinks...)
	c.session = chat.NewSession(opts.Provider, dispatcher, c, opts.SessionOptions...)
	return c
}

// Hub returns the outbound event hub.
func (c *Controller) Hub() *hub.Hub { return c.hub }

// Session returns the chat session.
func (c *Controller) Session() *chat.Session { return c.session }

// Notify publishes a System notification. It is shown to subscribers and
// never spoken.
func (c *Controller) Notify(text string) {
	slog.Info("notification", slog.String("component", "feed"), slog.String("text", text))
	c.hub.Publish(hub.NotificationEvent(text, c.now()))
}

// Resolve resolves ref without connecting.
func (c *Controller) Resolve(ctx context.Context, ref string) (resolver.Resolved, error) {
	return c.resolver.Resolve(ctx, ref)
}

// ConnectRef resolves ref and switches the session to the resulting stream.
// Failures are reported as notifications and returned.
func (c *Controller) ConnectRef(ctx context.Context, ref string) error {
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "feed"))
	videoID := ref
	if !c.directRefs {
		if resolver.Classify(ref) == resolver.KindChannel {
			c.Notify("Looking for a live stream on the channel...")
		}
		res, err := c.resolver.Resolve(ctx, ref)
		if err != nil {
			if errors.Is(err, resolver.ErrInvalidRef) {
				c.Notify("Not a YouTube video or channel link")
			}
			log.Warn("resolve failed", slog.String("ref", ref), slog.Any("err", err))
			return err
		}
		videoID = res.VideoID
	}

	c.Notify("Connecting to video...")
	if err := c.switchTo(ctx, videoID, ref); err != nil {
		log.Warn("connect failed", slog.String("video_id", videoID), slog.Any("err", err))
		return err
	}
	log.Info("connected", slog.String("ref", ref), slog.String("video_id", videoID))
	return nil
}

// ConnectRefAsync runs ConnectRef in the background. Errors are only logged
// and notified.
func (c *Controller) ConnectRefAsync(ref string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.bg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.bg.Done()
		if err := c.ConnectRef(c.ctx, ref); err != nil && c.ctx.Err() == nil {
			slog.Info("background connect failed", slog.String("ref", ref), slog.Any("err", err))
		}
	}()
}

// Connect switches the session to videoID directly.
func (c *Controller) Connect(ctx context.Context, videoID string) error {
	return c.switchTo(ctx, videoID, videoID)
}

func (c *Controller) switchTo(ctx context.Context, videoID, ref string) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	if err := c.session.Reconnect(ctx, videoID); err != nil {
		return err
	}
	c.mu.Lock()
	c.sourceRef = ref
	c.mu.Unlock()
	return nil
}

// Disconnect stops the current session.
func (c *Controller) Disconnect() {
	active := c.session.State() != chat.StateIdle && c.session.State() != chat.StateDisconnected
	c.session.Disconnect()
	if active {
		c.Notify("Disconnected")
	}
}

// EnqueueSpeech queues text for speech if speech is enabled.
func (c *Controller) EnqueueSpeech(text string) bool {
	if c.speech == nil {
		return false
	}
	return c.speech.Enqueue(text)
}

// TestVoice enables speech and queues text.
func (c *Controller) TestVoice(text string) error {
	if c.speech == nil {
		return ErrSpeechUnavailable
	}
	c.speech.Speak(text)
	return nil
}

// SpeechSettings returns the current speech settings.
func (c *Controller) SpeechSettings() (speech.SettingsSnapshot, error) {
	if c.speech == nil {
		return speech.SettingsSnapshot{}, ErrSpeechUnavailable
	}
	return c.speech.Settings().Snapshot(), nil
}

// UpdateSpeechSettings replaces the speech settings.
func (c *Controller) UpdateSpeechSettings(s speech.SettingsSnapshot) error {
	if c.speech == nil {
		return ErrSpeechUnavailable
	}
	c.speech.Settings().Apply(s)
	return nil
}

// ReloadBlacklist rereads the blacklist file.
func (c *Controller) ReloadBlacklist() error {
	if err := c.words.ReloadBlacklist(); err != nil {
		c.Notify(fmt.Sprintf("Could not reload blacklist: %v", err))
		return err
	}
	c.Notify(fmt.Sprintf("Blacklist reloaded (%d entries)", c.words.Blacklist().Len()))
	return nil
}

// ReloadSlang rereads the slang table.
func (c *Controller) ReloadSlang() error {
	if err := c.words.ReloadSlang(); err != nil {
		c.Notify(fmt.Sprintf("Could not reload slang table: %v", err))
		return err
	}
	return nil
}

// SaveBlacklist persists entries and makes them active.
func (c *Controller) SaveBlacklist(entries []string) error {
	if err := c.words.SaveBlacklist(entries); err != nil {
		return err
	}
	c.Notify(fmt.Sprintf("Blacklist saved (%d entries)", c.words.Blacklist().Len()))
	return nil
}

// Blacklist returns the active blacklist entries.
func (c *Controller) Blacklist() []string {
	return c.words.Blacklist().Entries()
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	ref := c.sourceRef
	c.mu.Unlock()
	st := Status{
		State:       c.session.State().String(),
		VideoID:     c.session.VideoID(),
		SourceRef:   ref,
		Subscribers: c.hub.Len(),
	}
	if c.words != nil {
		st.Blacklist = c.words.Blacklist().Len()
	}
	if c.speech != nil {
		snap := c.speech.Settings().Snapshot()
		st.Speech = &snap
		st.QueueDepth = c.speech.Len()
	}
	return st
}

// Close stops background connects, the session, the speech worker and the
// hub, in that order.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.bg.Wait()
	c.session.Disconnect()
	if c.speech != nil {
		c.speech.Stop()
	}
	c.hub.Close()
}

// hubSink republishes accepted messages to the hub.
type hubSink struct{ h *hub.Hub }

func (s hubSink) Publish(_ context.Context, msg chat.Message) {
	s.h.Publish(hub.MessageEvent(msg))
}
