package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/chatcaster/telemetry"
	"github.com/onnwee/chatcaster/wordlist"
)

// SystemAuthor is the author of application notifications. Its messages are
// displayed but never spoken.
const SystemAuthor = "System"

// RawEvent is a chat event as reported by a provider.
type RawEvent struct {
	Author     string
	Text       string
	IsMember   bool
	GiftAmount string
}

// Message is a normalized chat message.
type Message struct {
	ID         uuid.UUID `json:"id"`
	Author     string    `json:"author"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	IsMember   bool      `json:"is_member"`
	IsGift     bool      `json:"is_gift"`
	GiftAmount string    `json:"gift_amount,omitempty"`
	VideoID    string    `json:"video_id,omitempty"`
}

// Normalize converts raw into a Message stamped with now. Author, text and
// amount are copied verbatim.
func Normalize(raw RawEvent, now time.Time) Message {
	return Message{
		ID:         uuid.New(),
		Author:     raw.Author,
		Text:       raw.Text,
		Timestamp:  now,
		IsMember:   raw.IsMember,
		IsGift:     raw.GiftAmount != "",
		GiftAmount: raw.GiftAmount,
	}
}

// Accept reports whether msg passes the blacklist.
func Accept(msg Message, bl *wordlist.Blacklist) bool {
	return !bl.Blocks(msg.Text)
}

// MessageSink receives accepted messages.
type MessageSink interface {
	Publish(ctx context.Context, msg Message)
}

// SpeechSink queues text for speech.
type SpeechSink interface {
	Enqueue(text string) bool
}

// BlacklistSource returns the current blacklist snapshot.
type BlacklistSource interface {
	Blacklist() *wordlist.Blacklist
}

// Dispatcher turns raw events into messages and fans them out. It implements
// EventSink.
type Dispatcher struct {
	blacklist BlacklistSource
	speech    SpeechSink
	sinks     []MessageSink
	now       func() time.Time
}

// NewDispatcher returns a dispatcher publishing to sinks in order. speech may
// be nil.
func NewDispatcher(bl BlacklistSource, speech SpeechSink, sinks ...MessageSink) *Dispatcher {
	return &Dispatcher{blacklist: bl, speech: speech, sinks: sinks, now: time.Now}
}

// HandleEvent normalizes ev, filters it and forwards it.
func (d *Dispatcher) HandleEvent(ctx context.Context, videoID string, ev RawEvent) {
	msg := Normalize(ev, d.now())
	msg.VideoID = videoID
	d.Dispatch(ctx, msg)
}

// Dispatch filters and forwards an already normalized message.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	var bl *wordlist.Blacklist
	if d.blacklist != nil {
		bl = d.blacklist.Blacklist()
	}
	if !Accept(msg, bl) {
		slog.Debug("message rejected by blacklist", slog.String("component", "chat"), slog.String("author", msg.Author))
		return
	}
	telemetry.Inc(telemetry.MessagesAccepted)
	for _, s := range d.sinks {
		s.Publish(ctx, msg)
	}
	if d.speech != nil && msg.Author != SystemAuthor {
		d.speech.Enqueue(msg.Text)
	}
}
