package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/chatcaster/chat"
)

type fakeRedis struct {
	mu       sync.Mutex
	channels []string
	payloads [][]byte
	err      error
	calls    int
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, message.([]byte))
	cmd.SetVal(1)
	return cmd
}

func (f *fakeRedis) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func TestPublisher_PublishesJSON(t *testing.T) {
	rdb := &fakeRedis{}
	p := NewPublisher(rdb, "")
	assert.Equal(t, DefaultChannel, p.Channel())
	p.Start(context.Background())

	id := uuid.New()
	p.Publish(context.Background(), chat.Message{
		ID: id, Author: "alice", Text: "hi", Timestamp: time.Unix(100, 0).UTC(),
		IsGift: true, GiftAmount: "$2.00", VideoID: "vid",
	})
	p.Stop()

	require.Equal(t, 1, rdb.count())
	assert.Equal(t, DefaultChannel, rdb.channels[0])

	var got map[string]any
	require.NoError(t, json.Unmarshal(rdb.payloads[0], &got))
	assert.Equal(t, id.String(), got["id"])
	assert.Equal(t, "alice", got["author"])
	assert.Equal(t, "hi", got["text"])
	assert.Equal(t, true, got["is_gift"])
	assert.Equal(t, "$2.00", got["gift_amount"])
	assert.Equal(t, "vid", got["video_id"])
}

func TestPublisher_StopDrainsQueue(t *testing.T) {
	rdb := &fakeRedis{}
	p := NewPublisher(rdb, "custom")
	for i := 0; i < 10; i++ {
		p.Publish(context.Background(), chat.Message{Text: "m"})
	}
	p.Start(context.Background())
	p.Stop()
	p.Stop()
	assert.Equal(t, 10, rdb.count())
}

func TestPublisher_ErrorsDoNotStopLoop(t *testing.T) {
	rdb := &fakeRedis{err: errors.New("connection refused")}
	p := NewPublisher(rdb, "c")
	p.Start(context.Background())
	p.Publish(context.Background(), chat.Message{Text: "lost"})
	assert.Eventually(t, func() bool {
		rdb.mu.Lock()
		defer rdb.mu.Unlock()
		return rdb.calls == 1
	}, time.Second, time.Millisecond)

	rdb.mu.Lock()
	rdb.err = nil
	rdb.mu.Unlock()
	p.Publish(context.Background(), chat.Message{Text: "kept"})
	assert.Eventually(t, func() bool { return rdb.count() == 1 }, time.Second, time.Millisecond)
	p.Stop()
}

func TestPublisher_FullQueueDrops(t *testing.T) {
	p := NewPublisher(&fakeRedis{}, "c")
	for i := 0; i < queueSize+5; i++ {
		p.Publish(context.Background(), chat.Message{Text: "m"})
	}
	assert.Equal(t, queueSize, len(p.queue))
	p.Stop()
}
