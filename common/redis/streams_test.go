package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStreamValue(t *testing.T) {
	cases := map[string]interface{}{
		"abc":          "abc",
		"42":           42,
		"7":            int64(7),
		"2.5":          2.5,
		"true":         true,
		`{"zone":"a"}`: map[string]string{"zone": "a"},
	}
	for want, in := range cases {
		got, err := streamValue(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestPublishAndReadFromStream(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, CreateConsumerGroup(ctx, client, "safetrack:test", "engine"))
	// second create is a no-op
	require.NoError(t, CreateConsumerGroup(ctx, client, "safetrack:test", "engine"))

	payload := map[string]interface{}{"zone_id": "courtyard", "value": 71.5}
	id, err := PublishJSONToStream(ctx, client, "safetrack:test", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := ReadFromStream(ctx, client, "safetrack:test", "engine", "worker-1", 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &decoded))
	assert.Equal(t, "courtyard", decoded["zone_id"])

	require.NoError(t, Ack(ctx, client, "safetrack:test", "engine", msgs[0].ID))
	require.NoError(t, Ack(ctx, client, "safetrack:test", "engine"))
}
