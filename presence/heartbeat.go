package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nasiridrishi/FocusHive-sub020/metrics"
	"github.com/nasiridrishi/FocusHive-sub020/store"
)

const heartbeatKeyPrefix = "presence:hb:"

func heartbeatKey(userID string) string {
	return heartbeatKeyPrefix + userID
}

// HeartbeatMonitor records liveness pulses separately from the full presence
// record. The pulse is a bare unix-millisecond timestamp, so high-frequency
// ticks never re-serialize room or activity state, and the pulse TTL may
// differ from the presence TTL.
type HeartbeatMonitor struct {
	backend store.Backend
}

// NewHeartbeatMonitor creates a heartbeat monitor on the given backend.
func NewHeartbeatMonitor(backend store.Backend) *HeartbeatMonitor {
	return &HeartbeatMonitor{backend: backend}
}

// Record stores or refreshes the user's liveness pulse.
func (m *HeartbeatMonitor) Record(ctx context.Context, userID string, at time.Time, ttl time.Duration) error {
	value := strconv.FormatInt(at.UnixMilli(), 10)
	if err := m.backend.Set(ctx, heartbeatKey(userID), []byte(value), ttl); err != nil {
		return err
	}
	metrics.Heartbeats.Inc()
	return nil
}

// Last returns the user's most recent pulse. The second return value is
// false when no pulse is stored or it has expired.
func (m *HeartbeatMonitor) Last(ctx context.Context, userID string) (time.Time, bool, error) {
	data, err := m.backend.Get(ctx, heartbeatKey(userID))
	if err != nil {
		return time.Time{}, false, err
	}
	if data == nil {
		return time.Time{}, false, nil
	}
	millis, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt heartbeat for %s: %w", userID, err)
	}
	return time.UnixMilli(millis), true, nil
}

// IsStale reports whether the user has not pulsed within staleAfter of now.
// A user with no stored pulse is stale.
func (m *HeartbeatMonitor) IsStale(ctx context.Context, userID string, now time.Time, staleAfter time.Duration) (bool, error) {
	last, ok, err := m.Last(ctx, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return now.Sub(last) > staleAfter, nil
}
