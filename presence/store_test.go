package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nasiridrishi/FocusHive-sub020/events"
	"github.com/nasiridrishi/FocusHive-sub020/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock *fakeClock
	pub   *events.InProcPublisher
	store *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	pub := events.NewInProcPublisher(zap.NewNop())
	t.Cleanup(func() { pub.Close() })
	backend := store.NewMemoryBackend(clock)
	return &fixture{
		clock: clock,
		pub:   pub,
		store: NewStore(backend, pub, clock, zap.NewNop()),
	}
}

func receivePresence(t *testing.T, ch <-chan events.Message) events.PresenceEvent {
	t.Helper()
	select {
	case msg := <-ch:
		evt, err := msg.PresencePayload()
		require.NoError(t, err)
		return evt
	case <-time.After(time.Second):
		t.Fatal("expected a presence event")
		return events.PresenceEvent{}
	}
}

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := UserPresence{
		UserID:        "alice",
		Status:        StatusOnline,
		CurrentRoomID: "lobby",
		ActivityLabel: "writing",
	}
	require.NoError(t, f.store.Put(ctx, p, time.Minute))

	got, err := f.store.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, StatusOnline, got.Status)
	assert.Equal(t, "lobby", got.CurrentRoomID)
	assert.Equal(t, "writing", got.ActivityLabel)
	assert.Equal(t, f.clock.Now(), got.LastActivityAt, "zero LastActivityAt is stamped with now")
}

func TestPutValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.store.Put(ctx, UserPresence{Status: StatusOnline}, time.Minute)
	assert.Error(t, err, "missing user id must be rejected")

	err = f.store.Put(ctx, UserPresence{UserID: "alice", Status: "NAPPING"}, time.Minute)
	assert.Error(t, err, "unknown status must be rejected")
}

func TestGetAbsentIsNotAnError(t *testing.T) {
	f := newFixture(t)

	got, err := f.store.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPresenceExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := UserPresence{UserID: "alice", Status: StatusOnline}
	require.NoError(t, f.store.Put(ctx, p, 60*time.Second))

	f.clock.Advance(61 * time.Second)

	got, err := f.store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got, "an unrefreshed record must expire")
}

func TestRefreshKeepsRecordAlive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := UserPresence{UserID: "alice", Status: StatusOnline, LastActivityAt: f.clock.Now()}
	require.NoError(t, f.store.Put(ctx, p, 60*time.Second))

	for i := 0; i < 3; i++ {
		f.clock.Advance(45 * time.Second)
		require.NoError(t, f.store.Put(ctx, p, 60*time.Second))
	}

	got, err := f.store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.NotNil(t, got, "refreshing within the TTL must keep the record alive")
}

func TestPutEmitsOnSemanticChangeOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	userCh, err := f.pub.Subscribe(ctx, events.UserChannel("alice"))
	require.NoError(t, err)
	roomCh, err := f.pub.Subscribe(ctx, events.RoomChannel("lobby"))
	require.NoError(t, err)

	base := UserPresence{
		UserID:         "alice",
		Status:         StatusOnline,
		CurrentRoomID:  "lobby",
		LastActivityAt: f.clock.Now(),
	}

	// First write is always a change.
	require.NoError(t, f.store.Put(ctx, base, time.Minute))
	evt := receivePresence(t, userCh)
	assert.Equal(t, events.StatusChanged, evt.Type)
	assert.Equal(t, string(StatusOnline), evt.Status)
	receivePresence(t, roomCh) // room channel gets the same broadcast

	// Identical rewrite is a heartbeat refresh: silent.
	require.NoError(t, f.store.Put(ctx, base, time.Minute))
	assert.Empty(t, userCh, "pure refresh must not emit")
	assert.Empty(t, roomCh)

	// Status change emits STATUS_CHANGED.
	away := base
	away.Status = StatusAway
	require.NoError(t, f.store.Put(ctx, away, time.Minute))
	evt = receivePresence(t, userCh)
	assert.Equal(t, events.StatusChanged, evt.Type)
	assert.Equal(t, string(StatusAway), evt.Status)
	receivePresence(t, roomCh)

	// Activity change alone emits ACTIVITY_CHANGED.
	working := away
	working.ActivityLabel = "deep work"
	require.NoError(t, f.store.Put(ctx, working, time.Minute))
	evt = receivePresence(t, userCh)
	assert.Equal(t, events.ActivityChanged, evt.Type)
	assert.Equal(t, "deep work", evt.ActivityLabel)
}

func TestDeleteEmitsUserLeft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := UserPresence{UserID: "alice", Status: StatusOnline, CurrentRoomID: "lobby"}
	require.NoError(t, f.store.Put(ctx, p, time.Minute))

	roomCh, err := f.pub.Subscribe(ctx, events.RoomChannel("lobby"))
	require.NoError(t, err)

	require.NoError(t, f.store.Delete(ctx, "alice"))

	evt := receivePresence(t, roomCh)
	assert.Equal(t, events.UserLeft, evt.Type)
	assert.Equal(t, "alice", evt.UserID)

	got, err := f.store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting again is a quiet no-op.
	require.NoError(t, f.store.Delete(ctx, "alice"))
	assert.Empty(t, roomCh)
}

func TestMarkOffline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p := UserPresence{UserID: "alice", Status: StatusOnline, CurrentRoomID: "lobby"}
	require.NoError(t, f.store.Put(ctx, p, time.Minute))

	userCh, err := f.pub.Subscribe(ctx, events.UserChannel("alice"))
	require.NoError(t, err)

	require.NoError(t, f.store.MarkOffline(ctx, "alice"))

	evt := receivePresence(t, userCh)
	assert.Equal(t, events.StatusChanged, evt.Type)
	assert.Equal(t, string(StatusOffline), evt.Status)

	evt = receivePresence(t, userCh)
	assert.Equal(t, events.UserLeft, evt.Type)

	got, err := f.store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Absent user: no-op.
	require.NoError(t, f.store.MarkOffline(ctx, "ghost"))
}

func TestListAndCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, id := range []string{"alice", "bob", "carol"} {
		p := UserPresence{UserID: id, Status: StatusOnline}
		require.NoError(t, f.store.Put(ctx, p, time.Minute))
	}

	ids, err := f.store.ListUserIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, ids)

	count, err := f.store.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	f.clock.Advance(2 * time.Minute)
	count, err = f.store.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "expired records must not be counted")
}
