package archive

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/chatcaster/chat"
	"github.com/onnwee/chatcaster/telemetry"
)

// Store persists a batch of messages.
type Store interface {
	InsertBatch(ctx context.Context, msgs []chat.Message) error
}

// Config controls batching.
type Config struct {
	MaxBatch     int
	FlushEvery   time.Duration
	QueueSize    int
	FlushTimeout time.Duration
}

// DefaultConfig is used for zero fields of the Config passed to New.
var DefaultConfig = Config{
	MaxBatch:     100,
	FlushEvery:   2 * time.Second,
	QueueSize:    1000,
	FlushTimeout: 10 * time.Second,
}

// Archiver is a chat.MessageSink that writes accepted messages to a Store in
// batches. Publish never blocks; when the queue is full the message is
// dropped and counted.
type Archiver struct {
	input chan chat.Message
	cfg   Config
	store Store
	clock clockwork.Clock

	dropped atomic.Uint64
	written atomic.Uint64
	stopped atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option customizes an Archiver.
type Option func(*Archiver)

// WithClock sets the clock driving the flush ticker.
func WithClock(c clockwork.Clock) Option { return func(a *Archiver) { a.clock = c } }

func New(store Store, cfg Config, opts ...Option) *Archiver {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultConfig.MaxBatch
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = DefaultConfig.FlushEvery
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig.QueueSize
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultConfig.FlushTimeout
	}
	a := &Archiver{
		input: make(chan chat.Message, cfg.QueueSize),
		cfg:   cfg,
		store: store,
		clock: clockwork.NewRealClock(),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Start launches the flush loop. Calling it more than once has no effect.
func (a *Archiver) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		ctx, a.cancel = context.WithCancel(ctx)
		go a.run(ctx)
	})
}

// Stop ends the flush loop after writing whatever is queued.
func (a *Archiver) Stop() {
	a.stopOnce.Do(func() {
		a.stopped.Store(true)
		a.startOnce.Do(func() { close(a.done) })
		if a.cancel != nil {
			a.cancel()
		}
		<-a.done
	})
}

// Publish queues msg for archiving.
func (a *Archiver) Publish(_ context.Context, msg chat.Message) {
	if a.stopped.Load() {
		return
	}
	select {
	case a.input <- msg:
	default:
		n := a.dropped.Add(1)
		telemetry.Inc(telemetry.ArchiveDropped)
		if n%100 == 1 {
			slog.Warn("archive queue full, dropping messages", slog.String("component", "archive"), slog.Uint64("dropped_total", n))
		}
	}
}

// Dropped returns how many messages were dropped because the queue was full.
func (a *Archiver) Dropped() uint64 { return a.dropped.Load() }

// Written returns how many messages were stored.
func (a *Archiver) Written() uint64 { return a.written.Load() }

func (a *Archiver) run(ctx context.Context) {
	defer close(a.done)
	log := slog.Default().With(slog.String("component", "archive"))
	ticker := a.clock.NewTicker(a.cfg.FlushEvery)
	defer ticker.Stop()

	batch := make([]chat.Message, 0, a.cfg.MaxBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.FlushTimeout)
		defer cancel()
		if err := a.store.InsertBatch(fctx, batch); err != nil {
			log.Error("archive flush failed", slog.Int("messages", len(batch)), slog.Any("err", err))
		} else {
			a.written.Add(uint64(len(batch)))
			telemetry.Add(telemetry.ArchiveWritten, float64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case msg := <-a.input:
					batch = append(batch, msg)
					if len(batch) >= a.cfg.MaxBatch {
						flush()
					}
				default:
					break drain
				}
			}
			flush()
			log.Info("archiver stopped", slog.Uint64("written", a.written.Load()), slog.Uint64("dropped", a.dropped.Load()))
			return
		case <-ticker.Chan():
			flush()
		case msg := <-a.input:
			batch = append(batch, msg)
			if len(batch) >= a.cfg.MaxBatch {
				flush()
			}
		}
	}
}
