package notify

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"go.uber.org/zap"

	testcontainersredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisPublisherRoundTrip(t *testing.T) {
	if os.Getenv("GAMEUPDATER_INTEGRATION") == "" {
		t.Skip("set GAMEUPDATER_INTEGRATION to run against a redis container")
	}

	ctx := context.Background()
	redisContainer, err := testcontainersredis.RunContainer(ctx, testcontainers.WithImage("redis:7"))
	require.NoError(t, err)
	defer func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}()

	redisURL, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)
	u, err := url.Parse(redisURL)
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: u.Hostname() + ":" + u.Port()})
	defer client.Close()

	publisher := NewRedisPublisher(client, "gameupdater:events", zap.NewNop())
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	envelopes, err := publisher.Subscribe(subCtx)
	require.NoError(t, err)

	publisher.Notify(ctx, Event{Type: EventUpdateStatus, RequestID: "r1", Status: "COMPLETED"})

	select {
	case envelope := <-envelopes:
		assert.Equal(t, string(EventUpdateStatus), envelope.Type)
		var event Event
		require.NoError(t, json.Unmarshal(envelope.Data, &event))
		assert.Equal(t, "r1", event.RequestID)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received from redis")
	}
}
