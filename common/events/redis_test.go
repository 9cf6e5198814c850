package events

import (
	"context"
	"testing"
	"time"

	"github.com/lyzr/appforge/common/logger"
	rediscommon "github.com/lyzr/appforge/common/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires Redis on localhost:6379; skipped otherwise
func TestRedisBridge_FansOutAcrossInstances(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log := logger.Nop()
	client, err := rediscommon.Connect(ctx, rediscommon.Options{Addr: "localhost:6379", DB: 15}, log)
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer client.Close()

	// two hubs stand in for two server instances
	hubA := NewHub(log)
	hubB := NewHub(log)
	require.NoError(t, NewRedisSubscriber(client, hubA, log).Start(ctx))
	require.NoError(t, NewRedisSubscriber(client, hubB, log).Start(ctx))

	subA := NewSubscriber("a", 8)
	subB := NewSubscriber("b", 8)
	hubA.Join("bridge-p1", subA)
	hubB.Join("bridge-p1", subB)

	pub := NewRedisPublisher(client)
	require.NoError(t, pub.Publish(ctx, "bridge-p1", GenerationStart, StartPayload{GenerationID: "g1"}))
	require.NoError(t, pub.Publish(ctx, "bridge-p1", GenerationLog, LogPayload{GenerationID: "g1", Message: "hello"}))

	for _, sub := range []*Subscriber{subA, subB} {
		got := drain(t, sub, 2)
		assert.Equal(t, GenerationStart, got[0].Type)
		assert.Equal(t, GenerationLog, got[1].Type)
		assert.Equal(t, "bridge-p1", got[1].ProjectID)
	}
}
