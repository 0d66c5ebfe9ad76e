package relay_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/chatcaster/chat"
	"github.com/onnwee/chatcaster/relay"
	"github.com/onnwee/chatcaster/testutil"
)

func TestPublisher_RoundTripThroughRedis(t *testing.T) {
	rdb := testutil.SetupTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	channel := "chatcaster:test:" + time.Now().Format("150405.000000")
	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := relay.NewPublisher(rdb, channel)
	p.Start(ctx)
	p.Publish(ctx, chat.Message{Author: "alice", Text: "over redis"})

	select {
	case m := <-sub.Channel():
		var got chat.Message
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &got))
		assert.Equal(t, "over redis", got.Text)
	case <-ctx.Done():
		t.Fatal("no message received")
	}
	p.Stop()
}
