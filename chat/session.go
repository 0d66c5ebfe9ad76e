package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/onnwee/chatcaster/telemetry"
)

const (
	DefaultGraceDelay   = time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

var (
	// ErrAlreadyConnected is returned by Connect while a session is active.
	ErrAlreadyConnected = errors.New("chat session already connected")
	// ErrProvider wraps failures to open the chat stream.
	ErrProvider = errors.New("chat provider error")
	// ErrConnectAborted means Disconnect or a newer Reconnect ran while the
	// stream was being opened.
	ErrConnectAborted = errors.New("connect aborted by disconnect")
)

// Notifications sent by a Session.
const (
	NoteFetching   = "Fetching messages..."
	NoteNotLive    = "Chat does not look live yet, trying anyway"
	NoteStreamEnd  = "Chat stream ended"
	noteLostFormat = "Lost connection to chat: %v"
	noteOpenFormat = "Could not connect to chat: %v"
)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithClock sets the clock used for the grace delay and poll interval.
func WithClock(c clockwork.Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

// WithGraceDelay sets the wait between connecting and the first poll.
func WithGraceDelay(d time.Duration) SessionOption {
	return func(s *Session) { s.graceDelay = d }
}

// WithPollInterval sets the wait between polls.
func WithPollInterval(d time.Duration) SessionOption {
	return func(s *Session) { s.pollInterval = d }
}

// Session owns at most one live chat connection at a time.
type Session struct {
	provider     Provider
	sink         EventSink
	notifier     Notifier
	clock        clockwork.Clock
	graceDelay   time.Duration
	pollInterval time.Duration

	// deliverMu is held for reading while an event is handed to sink and for
	// writing whenever gen is replaced, so a superseded loop cannot deliver
	// once its generation is gone.
	deliverMu sync.RWMutex

	mu      sync.Mutex
	state   State
	videoID string
	gen     uuid.UUID
	handle  Handle
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSession creates an idle session. notifier may be nil.
func NewSession(p Provider, sink EventSink, notifier Notifier, opts ...SessionOption) *Session {
	done := make(chan struct{})
	close(done)
	s := &Session{
		provider:     p,
		sink:         sink,
		notifier:     notifier,
		clock:        clockwork.NewRealClock(),
		graceDelay:   DefaultGraceDelay,
		pollInterval: DefaultPollInterval,
		done:         done,
	}
	for _, o := range opts {
		o(s)
	}
	telemetry.SetGauge(telemetry.SessionStateGauge, float64(StateIdle))
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// VideoID returns the broadcast of the current or most recent connection.
func (s *Session) VideoID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoID
}

// Done is closed when the current polling loop exits.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Session) setStateLocked(st State) {
	s.state = st
	telemetry.SetGauge(telemetry.SessionStateGauge, float64(st))
}

func (s *Session) notify(text string) {
	if s.notifier != nil {
		s.notifier.Notify(text)
	}
}

// Connect opens the chat of videoID and starts polling it. The polling loop
// outlives ctx; use Disconnect to stop it.
func (s *Session) Connect(ctx context.Context, videoID string) error {
	return s.connect(ctx, videoID, false)
}

// Reconnect replaces any current connection with one to videoID. The old
// generation is dropped in the same step the new one is claimed, so of two
// overlapping calls the later one wins and the earlier returns
// ErrConnectAborted.
func (s *Session) Reconnect(ctx context.Context, videoID string) error {
	return s.connect(ctx, videoID, true)
}

func (s *Session) connect(ctx context.Context, videoID string, supersede bool) error {
	s.deliverMu.Lock()
	s.mu.Lock()
	if !supersede && !s.state.canConnect() {
		st := s.state
		s.mu.Unlock()
		s.deliverMu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrAlreadyConnected, st)
	}
	oldHandle, oldCancel, oldVideo := s.handle, s.cancel, s.videoID
	s.handle, s.cancel = nil, nil
	gen := uuid.New()
	s.gen = gen
	s.videoID = videoID
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()
	s.deliverMu.Unlock()

	s.release(oldHandle, oldCancel, oldVideo)

	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat"), slog.String("video_id", videoID))
	log.Info("connecting to chat")

	h, err := s.provider.Open(ctx, videoID)
	if err != nil {
		s.deliverMu.Lock()
		s.mu.Lock()
		current := s.gen == gen
		if current {
			s.gen = uuid.Nil
			s.setStateLocked(StateError)
		}
		s.mu.Unlock()
		s.deliverMu.Unlock()
		if !current {
			return ErrConnectAborted
		}
		log.Warn("chat open failed", slog.Any("err", err))
		s.notify(fmt.Sprintf(noteOpenFormat, err))
		return fmt.Errorf("%w: %w", ErrProvider, err)
	}

	if !h.IsAlive() {
		log.Warn("chat handle not alive after open; continuing")
		s.notify(NoteNotLive)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		cancel()
		closeHandle(h, videoID)
		return ErrConnectAborted
	}
	s.setStateLocked(StateLive)
	s.handle = h
	s.cancel = cancel
	s.done = done
	s.setStateLocked(StatePolling)
	s.mu.Unlock()

	go s.pollLoop(loopCtx, gen, h, videoID, done)
	return nil
}

// Disconnect stops the current connection, if any. Safe to call repeatedly
// and from any state.
func (s *Session) Disconnect() {
	s.deliverMu.Lock()
	s.mu.Lock()
	h, cancel, videoID := s.handle, s.cancel, s.videoID
	s.handle, s.cancel = nil, nil
	s.gen = uuid.Nil
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()
	s.deliverMu.Unlock()

	s.release(h, cancel, videoID)
}

// release stops a loop and closes its handle after the session let go of
// them.
func (s *Session) release(h Handle, cancel context.CancelFunc, videoID string) {
	if cancel != nil {
		cancel()
	}
	if h != nil {
		closeHandle(h, videoID)
		slog.Info("chat disconnected", slog.String("component", "chat"), slog.String("video_id", videoID))
	}
}

func closeHandle(h Handle, videoID string) {
	if err := h.Close(); err != nil {
		slog.Warn("chat handle close", slog.String("video_id", videoID), slog.Any("err", err))
	}
}

// current reports whether gen still owns the session.
func (s *Session) current(gen uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// finish moves the session to st if gen still owns it and releases the
// handle. It reports whether the transition happened.
func (s *Session) finish(gen uuid.UUID, st State) bool {
	s.deliverMu.Lock()
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.deliverMu.Unlock()
		return false
	}
	h, cancel, videoID := s.handle, s.cancel, s.videoID
	s.handle, s.cancel = nil, nil
	s.gen = uuid.Nil
	s.setStateLocked(st)
	s.mu.Unlock()
	s.deliverMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if h != nil {
		closeHandle(h, videoID)
	}
	return true
}

func (s *Session) pollLoop(ctx context.Context, gen uuid.UUID, h Handle, videoID string, done chan struct{}) {
	defer close(done)
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat"), slog.String("video_id", videoID))

	if !s.sleep(ctx, s.graceDelay) || !s.current(gen) {
		return
	}
	s.notify(NoteFetching)
	log.Info("chat polling started", slog.Duration("interval", s.pollInterval))

	for {
		if !s.current(gen) {
			return
		}
		if !h.IsAlive() {
			if s.finish(gen, StateDisconnected) {
				log.Info("chat stream ended")
				s.notify(NoteStreamEnd)
			}
			return
		}
		events, err := h.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if s.finish(gen, StateError) {
				telemetry.Inc(telemetry.PollErrorsTotal)
				log.Warn("chat poll failed", slog.Any("err", err))
				s.notify(fmt.Sprintf(noteLostFormat, err))
			}
			return
		}
		for _, ev := range events {
			if !s.deliver(ctx, gen, videoID, ev) {
				return
			}
		}
		if !s.sleep(ctx, s.pollInterval) {
			return
		}
	}
}

// deliver hands ev to the sink if gen still owns the session. The read lock
// is held across the sink call.
func (s *Session) deliver(ctx context.Context, gen uuid.UUID, videoID string, ev RawEvent) bool {
	s.deliverMu.RLock()
	defer s.deliverMu.RUnlock()
	if !s.current(gen) {
		return false
	}
	telemetry.Inc(telemetry.ChatEventsTotal)
	s.sink.HandleEvent(ctx, videoID, ev)
	return true
}

// sleep waits d on the session clock. It returns false if ctx ends first.
func (s *Session) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := s.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
		return true
	}
}
