package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nasiridrishi/FocusHive-sub020/events"
	"github.com/nasiridrishi/FocusHive-sub020/metrics"
	"github.com/nasiridrishi/FocusHive-sub020/store"
	"go.uber.org/zap"
)

const presenceKeyPrefix = "presence:user:"

func presenceKey(userID string) string {
	return presenceKeyPrefix + userID
}

// Store holds per-user liveness records with expiry. Every write that
// changes status, room or activity broadcasts a presence event; a write
// that is a pure heartbeat refresh stays silent.
type Store struct {
	backend   store.Backend
	publisher events.Publisher
	clock     store.Clock
	logger    *zap.Logger
}

// NewStore creates a presence store on the given backend.
func NewStore(backend store.Backend, publisher events.Publisher, clock store.Clock, logger *zap.Logger) *Store {
	if clock == nil {
		clock = store.SystemClock{}
	}
	return &Store{
		backend:   backend,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

// Put inserts or replaces the user's presence record and resets its expiry
// clock to ttl from now. Overwriting is not an error.
func (s *Store) Put(ctx context.Context, p UserPresence, ttl time.Duration) error {
	if p.UserID == "" {
		return fmt.Errorf("presence record has no user id")
	}
	if !p.Status.Valid() {
		return fmt.Errorf("invalid presence status: %q", p.Status)
	}
	if p.LastActivityAt.IsZero() {
		p.LastActivityAt = s.clock.Now()
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	prevRaw, err := s.backend.SetWithPrev(ctx, presenceKey(p.UserID), data, ttl)
	if err != nil {
		return err
	}
	metrics.PresenceUpdates.Inc()

	s.emitChange(ctx, prevRaw, p)
	return nil
}

// emitChange compares the new record against the prior one and broadcasts
// exactly one event for a semantic change, none for a bare refresh.
func (s *Store) emitChange(ctx context.Context, prevRaw []byte, p UserPresence) {
	var prev *UserPresence
	if prevRaw != nil {
		var decoded UserPresence
		if err := json.Unmarshal(prevRaw, &decoded); err == nil {
			prev = &decoded
		}
	}

	var eventType string
	switch {
	case prev == nil || prev.Status != p.Status || prev.CurrentRoomID != p.CurrentRoomID:
		eventType = events.StatusChanged
	case prev.ActivityLabel != p.ActivityLabel:
		eventType = events.ActivityChanged
	default:
		return // heartbeat refresh, nothing changed
	}

	evt := events.PresenceEvent{
		Type:          eventType,
		UserID:        p.UserID,
		Status:        string(p.Status),
		ActivityLabel: p.ActivityLabel,
		RoomID:        p.CurrentRoomID,
	}
	s.broadcast(ctx, evt, p.CurrentRoomID, p.UserID)
}

// broadcast publishes to the room channel (when the user occupies a room)
// and to the user's personal channel. Failures are logged, not returned:
// event delivery is best effort by contract.
func (s *Store) broadcast(ctx context.Context, evt events.PresenceEvent, roomID, userID string) {
	if roomID != "" {
		msg := events.NewPresenceMessage(events.RoomChannel(roomID), evt)
		if err := s.publisher.Publish(ctx, events.RoomChannel(roomID), msg); err != nil {
			s.logger.Warn("failed to publish presence event",
				zap.String("room", roomID), zap.Error(err))
		}
	}
	msg := events.NewPresenceMessage(events.UserChannel(userID), evt)
	if err := s.publisher.Publish(ctx, events.UserChannel(userID), msg); err != nil {
		s.logger.Warn("failed to publish presence event",
			zap.String("user", userID), zap.Error(err))
	}
}

// Get returns the user's presence record, or nil if it is absent or has
// expired. Absence is a normal outcome, not an error.
func (s *Store) Get(ctx context.Context, userID string) (*UserPresence, error) {
	data, err := s.backend.Get(ctx, presenceKey(userID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var p UserPresence
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence: %w", err)
	}
	return &p, nil
}

// Delete removes the record (clean disconnect). Idempotent. If a record
// existed, a USER_LEFT event is broadcast for the room it occupied.
func (s *Store) Delete(ctx context.Context, userID string) error {
	prev, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, presenceKey(userID)); err != nil {
		return err
	}
	if prev == nil {
		return nil
	}
	evt := events.PresenceEvent{
		Type:   events.UserLeft,
		UserID: userID,
		Status: string(StatusOffline),
		RoomID: prev.CurrentRoomID,
	}
	s.broadcast(ctx, evt, prev.CurrentRoomID, userID)
	return nil
}

// MarkOffline broadcasts a final OFFLINE status change and then deletes the
// record. Used by the transport layer when a user disconnects explicitly.
func (s *Store) MarkOffline(ctx context.Context, userID string) error {
	prev, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if prev == nil {
		return nil
	}

	evt := events.PresenceEvent{
		Type:          events.StatusChanged,
		UserID:        userID,
		Status:        string(StatusOffline),
		ActivityLabel: prev.ActivityLabel,
		RoomID:        prev.CurrentRoomID,
	}
	s.broadcast(ctx, evt, prev.CurrentRoomID, userID)

	return s.Delete(ctx, userID)
}

// ListUserIDs returns the user IDs of all live presence records. Best-effort
// snapshot for maintenance and aggregation paths; it may include users whose
// TTL is about to elapse.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	keys, err := s.backend.Keys(ctx, presenceKeyPrefix)
	if err != nil {
		return nil, err
	}
	userIDs := make([]string, 0, len(keys))
	for _, key := range keys {
		userIDs = append(userIDs, strings.TrimPrefix(key, presenceKeyPrefix))
	}
	return userIDs, nil
}

// CountActive returns the number of distinct users with a live record.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	ids, err := s.ListUserIDs(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
