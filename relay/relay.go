// Package relay republishes accepted chat messages to a Redis pub/sub
// channel so other processes can follow the chat without polling YouTube.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/chatcaster/chat"
	"github.com/onnwee/chatcaster/telemetry"
)

// DefaultChannel is the Redis channel messages are published to.
const DefaultChannel = "chatcaster:messages"

const (
	queueSize      = 256
	publishTimeout = 3 * time.Second
)

// redisPublisher is the subset of *redis.Client used here.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher is a chat.MessageSink. Messages are encoded as JSON and
// published from a background goroutine; a full queue drops the message.
type Publisher struct {
	rdb     redisPublisher
	channel string
	queue   chan chat.Message

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewPublisher(rdb redisPublisher, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{
		rdb:     rdb,
		channel: channel,
		queue:   make(chan chat.Message, queueSize),
		done:    make(chan struct{}),
	}
}

// Connect parses a redis:// URL and verifies the server answers PING.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Channel returns the Redis channel name.
func (p *Publisher) Channel() string { return p.channel }

func (p *Publisher) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		go p.run(ctx)
	})
}

// Stop publishes what is already queued, then returns.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		p.startOnce.Do(func() { close(p.done) })
		if p.cancel != nil {
			p.cancel()
		}
		<-p.done
	})
}

// Publish queues msg without blocking.
func (p *Publisher) Publish(_ context.Context, msg chat.Message) {
	select {
	case p.queue <- msg:
	default:
		telemetry.Inc(telemetry.RelayPublishFailures)
		slog.Debug("relay queue full, dropping message", slog.String("component", "relay"))
	}
}

func (p *Publisher) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case msg := <-p.queue:
					p.send(context.WithoutCancel(ctx), msg)
				default:
					return
				}
			}
		case msg := <-p.queue:
			p.send(ctx, msg)
		}
	}
}

func (p *Publisher) send(ctx context.Context, msg chat.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		telemetry.Inc(telemetry.RelayPublishFailures)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		telemetry.Inc(telemetry.RelayPublishFailures)
		slog.Warn("relay publish failed", slog.String("component", "relay"), slog.String("channel", p.channel), slog.Any("err", err))
	}
}
