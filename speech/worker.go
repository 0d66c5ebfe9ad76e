// Package speech reads chat messages aloud. A single worker goroutine drains
// a FIFO queue: each item is optionally slang-expanded and translated, then
// synthesized to a temporary MP3 file, played, and deleted.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/chatcaster/telemetry"
	"github.com/onnwee/chatcaster/wordlist"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultLanguage     = "en"
	sourceAuto          = "auto"
)

var (
	ErrTranslation = errors.New("translation failed")
	ErrSynthesis   = errors.New("synthesis failed")
	ErrPlayback    = errors.New("playback failed")
)

// Translator translates text from source ("auto" to detect) into target.
type Translator interface {
	Translate(ctx context.Context, text, target, source string) (string, error)
}

// Synthesizer writes MP3 audio for text spoken in lang to w.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string, w io.Writer) error
}

// Player starts playback of an audio file.
type Player interface {
	Play(ctx context.Context, path string, volume float64) (Playback, error)
}

// Playback is a running playback.
type Playback interface {
	IsPlaying() bool
	Stop() error
	Close() error
}

// SlangSource returns the current slang table.
type SlangSource interface {
	Slang() *wordlist.SlangTable
}

type Option func(*Worker)

func WithClock(c clockwork.Clock) Option { return func(w *Worker) { w.clock = c } }

// WithTempDir sets where audio files are written. Defaults to os.TempDir().
func WithTempDir(dir string) Option { return func(w *Worker) { w.tempDir = dir } }

// WithPollInterval sets how often a running playback is checked.
func WithPollInterval(d time.Duration) Option { return func(w *Worker) { w.pollEvery = d } }

// WithDefaultLanguage sets the voice used when translation is off.
func WithDefaultLanguage(lang string) Option { return func(w *Worker) { w.defaultLang = lang } }

// Worker is the speech queue consumer.
type Worker struct {
	settings    *Settings
	slang       SlangSource
	translator  Translator
	synth       Synthesizer
	player      Player
	clock       clockwork.Clock
	tempDir     string
	pollEvery   time.Duration
	defaultLang string

	mu    sync.Mutex
	queue []string
	seq   uint64

	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	stopped bool
}

// NewWorker creates a stopped worker. slang may be nil.
func NewWorker(settings *Settings, slang SlangSource, tr Translator, synth Synthesizer, player Player, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		settings:    settings,
		slang:       slang,
		translator:  tr,
		synth:       synth,
		player:      player,
		clock:       clockwork.NewRealClock(),
		tempDir:     os.TempDir(),
		pollEvery:   DefaultPollInterval,
		defaultLang: DefaultLanguage,
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Settings returns the live settings.
func (w *Worker) Settings() *Settings { return w.settings }

// Start launches the consumer goroutine. Later calls do nothing.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.stopped {
		return
	}
	w.started = true
	go w.run()
}

// Stop halts the worker, interrupting playback, and waits for the consumer
// to exit. Safe to call repeatedly.
func (w *Worker) Stop() {
	w.mu.Lock()
	started := w.started
	w.stopped = true
	w.mu.Unlock()

	w.cancel()
	w.signal()
	if started {
		<-w.done
	}
}

// Enqueue appends text when speech is enabled. It reports whether the text
// was queued.
func (w *Worker) Enqueue(text string) bool {
	if !w.settings.Enabled() || strings.TrimSpace(text) == "" {
		return false
	}
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	w.queue = append(w.queue, text)
	n := len(w.queue)
	w.mu.Unlock()

	telemetry.SetGauge(telemetry.SpeechQueueDepth, float64(n))
	w.signal()
	return true
}

// Speak enables speech and queues text, bypassing the current toggle.
func (w *Worker) Speak(text string) bool {
	w.settings.SetEnabled(true)
	return w.Enqueue(text)
}

// Len returns the number of queued items.
func (w *Worker) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) pop() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return "", false
	}
	text := w.queue[0]
	w.queue[0] = ""
	w.queue = w.queue[1:]
	telemetry.SetGauge(telemetry.SpeechQueueDepth, float64(len(w.queue)))
	return text, true
}

func (w *Worker) nextFilename() string {
	w.mu.Lock()
	w.seq++
	seq := w.seq
	w.mu.Unlock()
	return filepath.Join(w.tempDir, fmt.Sprintf("tts_%d_%d.mp3", w.clock.Now().UnixMilli(), seq))
}

func (w *Worker) run() {
	defer close(w.done)
	slog.Info("speech worker started", slog.String("component", "speech"))
	for {
		if w.ctx.Err() != nil {
			slog.Info("speech worker stopped", slog.String("component", "speech"))
			return
		}
		text, ok := w.pop()
		if !ok {
			select {
			case <-w.ctx.Done():
			case <-w.wake:
			}
			continue
		}
		w.process(w.ctx, text)
	}
}

func (w *Worker) process(ctx context.Context, text string) {
	ctx, span := telemetry.StartSpan(ctx, "speech", "speech.Process")
	defer span.End()
	log := slog.Default().With(slog.String("component", "speech"))

	outcome := "spoken"
	defer func() {
		telemetry.IncOutcome(telemetry.SpeechItemsTotal, outcome)
		span.SetAttributes(attribute.String("outcome", outcome))
	}()

	snap := w.settings.Snapshot()
	if !snap.Enabled {
		outcome = "discarded"
		return
	}

	telemetry.TimeFunc(telemetry.SpeechDuration, func() {
		spoken, lang := w.prepare(ctx, text, snap)
		span.SetAttributes(attribute.String("lang", lang))

		path := w.nextFilename()
		if err := w.synthesize(ctx, spoken, lang, path); err != nil {
			outcome = "synth_failed"
			if ctx.Err() == nil {
				log.Warn("speech synthesis failed", slog.Any("err", err))
				telemetry.RecordError(span, err)
			}
			removeFile(path)
			return
		}
		defer removeFile(path)

		if err := w.play(ctx, path); err != nil {
			outcome = "play_failed"
			log.Warn("speech playback failed", slog.Any("err", err))
			telemetry.RecordError(span, err)
			return
		}
		telemetry.SetSpanSuccess(span)
	})
}

// prepare applies slang expansion and translation. A failed translation falls
// back to the original text but keeps the target language.
func (w *Worker) prepare(ctx context.Context, text string, snap SettingsSnapshot) (spoken, lang string) {
	if !snap.TranslateEnabled {
		return text, w.defaultLang
	}
	lang = snap.Direction.Target()
	if w.translator == nil {
		return text, lang
	}
	input := text
	if w.slang != nil {
		input = w.slang.Slang().Expand(text)
	}
	out, err := w.translator.Translate(ctx, input, lang, sourceAuto)
	if err != nil || strings.TrimSpace(out) == "" {
		telemetry.Inc(telemetry.TranslationFailures)
		slog.Warn("translation failed, speaking original text", slog.String("component", "speech"), slog.Any("err", err))
		return text, lang
	}
	return out, lang
}

func (w *Worker) synthesize(ctx context.Context, text, lang, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrSynthesis, path, err)
	}
	err = w.synth.Synthesize(ctx, text, lang, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: close %s: %v", ErrSynthesis, path, cerr)
	}
	return err
}

func (w *Worker) play(ctx context.Context, path string) error {
	pb, err := w.player.Play(ctx, path, w.settings.Volume())
	if err != nil {
		return err
	}
	defer func() {
		if err := pb.Close(); err != nil {
			slog.Debug("playback close", slog.Any("err", err))
		}
	}()
	for pb.IsPlaying() {
		select {
		case <-ctx.Done():
			if err := pb.Stop(); err != nil {
				slog.Debug("playback stop", slog.Any("err", err))
			}
			return nil
		case <-w.clock.After(w.pollEvery):
		}
	}
	return nil
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove speech file", slog.String("path", path), slog.Any("err", err))
	}
}
