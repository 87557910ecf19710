// Package rooms maintains the bidirectional room-membership index: each room
// owns a set of user IDs, and a per-user pointer records which room the user
// occupies. The pointer is the source of truth for the "at most one room"
// invariant; the sets follow it atomically via set-move operations.
package rooms

import (
	"context"
	"sync"

	"github.com/nasiridrishi/FocusHive-sub020/events"
	"github.com/nasiridrishi/FocusHive-sub020/metrics"
	"github.com/nasiridrishi/FocusHive-sub020/store"
	"go.uber.org/zap"
)

const (
	memberKeyPrefix = "rooms:members:"
	pointerPrefix   = "rooms:user:"
	catalogKey      = "rooms:catalog"
)

func membersKey(roomID string) string {
	return memberKeyPrefix + roomID
}

func pointerKey(userID string) string {
	return pointerPrefix + userID
}

// Index is the room membership index. Membership entries carry no TTL of
// their own; expired users are filtered at read time by the aggregator and
// removed by Sweep.
type Index struct {
	backend   store.Backend
	publisher events.Publisher
	logger    *zap.Logger

	// userLocks serializes membership changes per user within this process.
	// The pointer check in Join covers races with other instances.
	userLocks sync.Map
}

func (i *Index) lockUser(userID string) func() {
	v, _ := i.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// NewIndex creates a membership index on the given backend.
func NewIndex(backend store.Backend, publisher events.Publisher, logger *zap.Logger) *Index {
	return &Index{
		backend:   backend,
		publisher: publisher,
		logger:    logger,
	}
}

// Join adds the user to the room. If the user occupied a different room the
// prior membership is removed in the same set-move step, so a concurrent
// Members call never observes the user in two rooms, nor in none. Returns
// the room the user came from, if any.
func (i *Index) Join(ctx context.Context, roomID, userID string) (string, error) {
	defer i.lockUser(userID)()

	prevRaw, err := i.backend.SetWithPrev(ctx, pointerKey(userID), []byte(roomID), 0)
	if err != nil {
		return "", err
	}
	prev := string(prevRaw)

	if err := i.backend.SetAdd(ctx, catalogKey, roomID); err != nil {
		return prev, err
	}

	switch prev {
	case roomID:
		// Rejoining the same room; make sure the set agrees and stay quiet.
		if err := i.backend.SetAdd(ctx, membersKey(roomID), userID); err != nil {
			return prev, err
		}
		return prev, nil
	case "":
		if err := i.backend.SetAdd(ctx, membersKey(roomID), userID); err != nil {
			return prev, err
		}
	default:
		moved, err := i.backend.SetMove(ctx, membersKey(prev), membersKey(roomID), userID)
		if err != nil {
			return prev, err
		}
		if !moved {
			// The old set had already been reconciled; plain add.
			if err := i.backend.SetAdd(ctx, membersKey(roomID), userID); err != nil {
				return prev, err
			}
		}
	}

	// A concurrent switch may have re-pointed the user while the set ops
	// ran. The pointer wins: back out the now-stale membership and emit
	// nothing, the competing join reports its own events.
	cur, err := i.backend.Get(ctx, pointerKey(userID))
	if err != nil {
		return prev, err
	}
	if string(cur) != roomID {
		if err := i.backend.SetRemove(ctx, membersKey(roomID), userID); err != nil {
			return prev, err
		}
		return prev, nil
	}

	if prev != "" {
		i.publish(ctx, prev, events.PresenceEvent{
			Type:   events.UserLeft,
			UserID: userID,
			RoomID: prev,
		})
	}
	i.publish(ctx, roomID, events.PresenceEvent{
		Type:   events.UserJoined,
		UserID: userID,
		RoomID: roomID,
	})
	return prev, nil
}

// Leave removes the user from the room. Idempotent: leaving a room the user
// is not in does nothing and emits nothing.
func (i *Index) Leave(ctx context.Context, roomID, userID string) error {
	defer i.lockUser(userID)()

	if err := i.backend.SetRemove(ctx, membersKey(roomID), userID); err != nil {
		return err
	}
	wasMember, err := i.backend.CompareAndDelete(ctx, pointerKey(userID), []byte(roomID))
	if err != nil {
		return err
	}
	if !wasMember {
		return nil
	}
	i.publish(ctx, roomID, events.PresenceEvent{
		Type:   events.UserLeft,
		UserID: userID,
		RoomID: roomID,
	})
	return nil
}

// Members returns a point-in-time snapshot of the room's member set. The
// snapshot may still contain users whose presence has silently expired; the
// aggregator filters those out at read time.
func (i *Index) Members(ctx context.Context, roomID string) ([]string, error) {
	return i.backend.SetMembers(ctx, membersKey(roomID))
}

// RoomOf returns the room the user currently occupies, or "" if none.
func (i *Index) RoomOf(ctx context.Context, userID string) (string, error) {
	data, err := i.backend.Get(ctx, pointerKey(userID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Remove clears the user's membership wherever it is. Used by maintenance
// paths that only know the user went away.
func (i *Index) Remove(ctx context.Context, userID string) error {
	roomID, err := i.RoomOf(ctx, userID)
	if err != nil {
		return err
	}
	if roomID == "" {
		return nil
	}
	return i.Leave(ctx, roomID, userID)
}

// Rooms returns the IDs of all rooms that have seen at least one join.
func (i *Index) Rooms(ctx context.Context) ([]string, error) {
	return i.backend.SetMembers(ctx, catalogKey)
}

// Sweep walks every room and removes members the alive check no longer
// recognizes. Not required for correctness, only to bound memory: the
// aggregator already filters stale members on every read.
func (i *Index) Sweep(ctx context.Context, alive func(ctx context.Context, userID string) (bool, error)) (int, error) {
	roomIDs, err := i.Rooms(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, roomID := range roomIDs {
		members, err := i.Members(ctx, roomID)
		if err != nil {
			return removed, err
		}
		for _, userID := range members {
			ok, err := alive(ctx, userID)
			if err != nil {
				return removed, err
			}
			if ok {
				continue
			}
			if err := i.Leave(ctx, roomID, userID); err != nil {
				return removed, err
			}
			removed++
			metrics.StaleMembersPruned.Inc()
		}
		if len(members) == 0 {
			// Room has drained; drop it from the catalog. It comes back on
			// the next join.
			if err := i.backend.SetRemove(ctx, catalogKey, roomID); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}

func (i *Index) publish(ctx context.Context, roomID string, evt events.PresenceEvent) {
	msg := events.NewPresenceMessage(events.RoomChannel(roomID), evt)
	if err := i.publisher.Publish(ctx, events.RoomChannel(roomID), msg); err != nil {
		i.logger.Warn("failed to publish membership event",
			zap.String("room", roomID), zap.String("user", evt.UserID), zap.Error(err))
	}
}
