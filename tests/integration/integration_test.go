package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nasiridrishi/FocusHive-sub020/aggregate"
	"github.com/nasiridrishi/FocusHive-sub020/events"
	"github.com/nasiridrishi/FocusHive-sub020/presence"
	"github.com/nasiridrishi/FocusHive-sub020/rooms"
	"github.com/nasiridrishi/FocusHive-sub020/sessions"
	"github.com/nasiridrishi/FocusHive-sub020/store"
)

const testTimeout = 15 * time.Second

// newRedisClient connects to the Redis named by REDIS_ADDR (default
// localhost:6379) and skips the test when it is not reachable.
func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", addr, err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	client := newRedisClient(t)
	backend := store.NewRedisBackend(client)
	pub := events.NewRedisPublisher(client, zap.NewNop())
	logger := zap.NewNop()
	clock := store.SystemClock{}

	presenceStore := presence.NewStore(backend, pub, clock, logger)
	roomIndex := rooms.NewIndex(backend, pub, logger)
	registry := sessions.NewRegistry(backend, pub, clock, sessions.Config{
		Grace:     10 * time.Minute,
		Retention: time.Hour,
	}, logger)
	aggregator := aggregate.NewService(presenceStore, roomIndex, registry, logger)

	roomCh, err := pub.Subscribe(ctx, events.RoomChannel("lobby"))
	require.NoError(t, err)
	// Give the subscription a moment to settle before publishing.
	time.Sleep(100 * time.Millisecond)

	// A user comes online and joins the lobby.
	require.NoError(t, presenceStore.Put(ctx, presence.UserPresence{
		UserID:        "alice",
		Status:        presence.StatusOnline,
		CurrentRoomID: "lobby",
	}, time.Minute))
	_, err = roomIndex.Join(ctx, "lobby", "alice")
	require.NoError(t, err)

	waitFor(t, roomCh, events.StatusChanged)
	waitFor(t, roomCh, events.UserJoined)

	// She starts a focus session; a second start must lose.
	s := &sessions.FocusSession{
		UserID:                 "alice",
		RoomID:                 "lobby",
		Type:                   sessions.TypeFocus,
		PlannedDurationMinutes: 25,
	}
	require.NoError(t, registry.Start(ctx, s))
	err = registry.Start(ctx, &sessions.FocusSession{
		UserID:                 "alice",
		Type:                   sessions.TypeFocus,
		PlannedDurationMinutes: 25,
	})
	assert.ErrorIs(t, err, sessions.ErrActiveSessionExists)

	// The aggregator reports her as focusing.
	summary, err := aggregator.RoomSummary(ctx, "lobby")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ActiveUserCount)
	assert.Equal(t, 1, summary.FocusingSessionCount)
	require.Len(t, summary.OnlineMembers, 1)
	assert.Equal(t, presence.StatusFocusing, summary.OnlineMembers[0].Status)

	// Complete the session and leave.
	_, err = registry.Complete(ctx, s.ID, "alice", 0)
	require.NoError(t, err)
	require.NoError(t, presenceStore.MarkOffline(ctx, "alice"))
	require.NoError(t, roomIndex.Remove(ctx, "alice"))

	summary, err = aggregator.RoomSummary(ctx, "lobby")
	require.NoError(t, err)
	assert.Zero(t, summary.ActiveUserCount)
}

func TestRedisRoomSwitch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	client := newRedisClient(t)
	backend := store.NewRedisBackend(client)
	pub := events.NewRedisPublisher(client, zap.NewNop())
	roomIndex := rooms.NewIndex(backend, pub, zap.NewNop())

	_, err := roomIndex.Join(ctx, "a", "alice")
	require.NoError(t, err)
	prev, err := roomIndex.Join(ctx, "b", "alice")
	require.NoError(t, err)
	assert.Equal(t, "a", prev)

	a, err := roomIndex.Members(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, a)

	b, err := roomIndex.Members(ctx, "b")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice"}, b)
}

func TestRedisPresenceExpiry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	client := newRedisClient(t)
	backend := store.NewRedisBackend(client)
	pub := events.NewRedisPublisher(client, zap.NewNop())
	presenceStore := presence.NewStore(backend, pub, store.SystemClock{}, zap.NewNop())

	require.NoError(t, presenceStore.Put(ctx, presence.UserPresence{
		UserID: "alice",
		Status: presence.StatusOnline,
	}, time.Second))

	require.Eventually(t, func() bool {
		p, err := presenceStore.Get(ctx, "alice")
		return err == nil && p == nil
	}, 5*time.Second, 200*time.Millisecond, "presence should expire with its Redis TTL")
}

func waitFor(t *testing.T, ch <-chan events.Message, eventType string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-ch:
			evt, err := msg.PresencePayload()
			require.NoError(t, err)
			if evt.Type == eventType {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}
