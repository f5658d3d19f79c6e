package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/fieldsync/pkg/messaging"
)

func TestPublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	broker := NewRedisBroker(client, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := broker.Subscribe(ctx, "fieldsync.events")
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, "fieldsync.events", messaging.Message{Type: "draft.synced", Payload: "d1"}))

	select {
	case raw := <-msgs:
		var got messaging.Message
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "draft.synced", got.Type)
		assert.Equal(t, "d1", got.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-msgs
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPublishRejectsUnencodable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	err := NewRedisBroker(client, nil).Publish(context.Background(), "c", make(chan int))
	assert.Error(t, err)
}
