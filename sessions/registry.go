package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nasiridrishi/FocusHive-sub020/events"
	"github.com/nasiridrishi/FocusHive-sub020/metrics"
	"github.com/nasiridrishi/FocusHive-sub020/store"
	"go.uber.org/zap"
)

var (
	// ErrActiveSessionExists rejects a start while the user already has an
	// ACTIVE or PAUSED session.
	ErrActiveSessionExists = errors.New("user already has an active session")

	// ErrSessionNotFound marks a transition on an absent or expired session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidTransition marks a transition the state machine forbids.
	ErrInvalidTransition = errors.New("invalid session state transition")

	// ErrNotOwner marks a transition attempted by someone other than the
	// session owner.
	ErrNotOwner = errors.New("session not owned by caller")
)

const (
	sessionKeyPrefix = "sessions:id:"
	activeKeyPrefix  = "sessions:active:"

	// casRetries bounds optimistic-concurrency retries on a contended
	// transition before giving up.
	casRetries = 5
)

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func activeKey(userID string) string {
	return activeKeyPrefix + userID
}

// Config carries the registry's expiry tuning.
type Config struct {
	// Grace is added to the planned duration when computing record TTLs, so
	// a session outlives its timer long enough for the client to end it.
	Grace time.Duration

	// Retention is how long terminal records stay readable before expiry.
	Retention time.Duration
}

// Registry tracks focus sessions and the per-user active-session pointer.
// The pointer is written with set-if-absent, which is what guarantees a
// user never holds two live sessions even under concurrent starts.
type Registry struct {
	backend   store.Backend
	publisher events.Publisher
	clock     store.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewRegistry creates a session registry on the given backend.
func NewRegistry(backend store.Backend, publisher events.Publisher, clock store.Clock, cfg Config, logger *zap.Logger) *Registry {
	if clock == nil {
		clock = store.SystemClock{}
	}
	return &Registry{
		backend:   backend,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// liveTTL bounds how long the active pointer blocks new starts: the planned
// duration plus grace.
func (r *Registry) liveTTL(s *FocusSession) time.Duration {
	return time.Duration(s.PlannedDurationMinutes)*time.Minute + r.cfg.Grace
}

// recordTTL bounds the record itself. It outlives the pointer by the
// retention window so an overdue session can still be abandoned audibly
// instead of vanishing.
func (r *Registry) recordTTL(s *FocusSession) time.Duration {
	return r.liveTTL(s) + r.cfg.Retention
}

// Start registers a new session as ACTIVE. Fails with
// ErrActiveSessionExists if the user already has an ACTIVE or PAUSED
// session. A missing ID is filled with a generated one. The session record
// is only written after the active pointer is won; if the record write
// fails the pointer is rolled back, so the operation never half-applies.
func (r *Registry) Start(ctx context.Context, s *FocusSession) error {
	if s.UserID == "" {
		return fmt.Errorf("session has no user id")
	}
	if !s.Type.Valid() {
		return fmt.Errorf("invalid session type: %q", s.Type)
	}
	if s.PlannedDurationMinutes <= 0 {
		return fmt.Errorf("planned duration must be positive")
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.StartTime.IsZero() {
		s.StartTime = r.clock.Now()
	}
	s.Status = StateActive
	s.EndTime = nil
	s.ActualDurationMinutes = 0

	won, err := r.backend.SetNX(ctx, activeKey(s.UserID), []byte(s.ID), r.liveTTL(s))
	if err != nil {
		return err
	}
	if !won {
		metrics.SessionConflicts.Inc()
		return ErrActiveSessionExists
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.backend.Set(ctx, sessionKey(s.ID), data, r.recordTTL(s)); err != nil {
		// Roll the pointer back so the failed start leaves no trace.
		if _, rbErr := r.backend.CompareAndDelete(ctx, activeKey(s.UserID), []byte(s.ID)); rbErr != nil {
			r.logger.Error("failed to roll back active-session pointer",
				zap.String("user", s.UserID), zap.String("session", s.ID), zap.Error(rbErr))
		}
		return err
	}

	metrics.SessionsStarted.Inc()
	r.publish(ctx, s, events.SessionStarted)
	return nil
}

// Pause transitions ACTIVE → PAUSED and counts the interruption.
func (r *Registry) Pause(ctx context.Context, sessionID, userID string) (*FocusSession, error) {
	s, err := r.transition(ctx, sessionID, userID, StatePaused, func(s *FocusSession) {
		s.Interruptions++
	})
	if err != nil {
		return nil, err
	}
	r.publish(ctx, s, events.SessionPaused)
	return s, nil
}

// Resume transitions PAUSED → ACTIVE.
func (r *Registry) Resume(ctx context.Context, sessionID, userID string) (*FocusSession, error) {
	s, err := r.transition(ctx, sessionID, userID, StateActive, nil)
	if err != nil {
		return nil, err
	}
	r.publish(ctx, s, events.SessionResumed)
	return s, nil
}

// Complete ends the session as COMPLETED. When actualDurationMinutes is not
// positive the elapsed time since start is recorded instead. The user's
// active-session pointer is cleared.
func (r *Registry) Complete(ctx context.Context, sessionID, userID string, actualDurationMinutes int) (*FocusSession, error) {
	now := r.clock.Now()
	s, err := r.transition(ctx, sessionID, userID, StateCompleted, func(s *FocusSession) {
		end := now
		s.EndTime = &end
		if actualDurationMinutes > 0 {
			s.ActualDurationMinutes = actualDurationMinutes
		} else {
			s.ActualDurationMinutes = int(now.Sub(s.StartTime) / time.Minute)
		}
	})
	if err != nil {
		return nil, err
	}
	r.clearPointer(ctx, s)
	metrics.SessionsCompleted.Inc()
	r.publish(ctx, s, events.SessionCompleted)
	return s, nil
}

// Abandon ends the session as ABANDONED. It may be called by the owner or
// by TTL-driven cleanup, so there is no ownership check.
func (r *Registry) Abandon(ctx context.Context, sessionID, reason string) (*FocusSession, error) {
	now := r.clock.Now()
	s, err := r.transition(ctx, sessionID, "", StateAbandoned, func(s *FocusSession) {
		end := now
		s.EndTime = &end
		s.ActualDurationMinutes = int(now.Sub(s.StartTime) / time.Minute)
		s.AbandonReason = reason
	})
	if err != nil {
		return nil, err
	}
	r.clearPointer(ctx, s)
	metrics.SessionsAbandoned.Inc()
	r.publish(ctx, s, events.SessionAbandoned)
	return s, nil
}

// transition loads the session, validates ownership and the state machine,
// applies mutate and swaps the record in with compare-and-swap. Contended
// swaps are retried against the fresh record. An empty userID skips the
// ownership check (system-initiated transitions).
func (r *Registry) transition(ctx context.Context, sessionID, userID string, to State, mutate func(*FocusSession)) (*FocusSession, error) {
	for attempt := 0; attempt < casRetries; attempt++ {
		raw, err := r.backend.Get(ctx, sessionKey(sessionID))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, ErrSessionNotFound
		}

		var cur FocusSession
		if err := json.Unmarshal(raw, &cur); err != nil {
			return nil, fmt.Errorf("corrupt session %s: %w", sessionID, err)
		}
		if userID != "" && cur.UserID != userID {
			return nil, ErrNotOwner
		}
		if !canTransition(cur.Status, to) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
		}

		next := cur
		next.Status = to
		if mutate != nil {
			mutate(&next)
		}

		ttl := r.recordTTL(&next)
		if to.Terminal() {
			ttl = r.cfg.Retention
		}

		data, err := json.Marshal(&next)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session: %w", err)
		}
		swapped, err := r.backend.CompareAndSwap(ctx, sessionKey(sessionID), raw, data, ttl)
		if err != nil {
			return nil, err
		}
		if swapped {
			return &next, nil
		}
	}
	return nil, fmt.Errorf("session %s: too much contention", sessionID)
}

func (r *Registry) clearPointer(ctx context.Context, s *FocusSession) {
	// Compare-and-delete so a newer session's pointer is never clobbered.
	if _, err := r.backend.CompareAndDelete(ctx, activeKey(s.UserID), []byte(s.ID)); err != nil {
		r.logger.Warn("failed to clear active-session pointer",
			zap.String("user", s.UserID), zap.String("session", s.ID), zap.Error(err))
	}
}

// ActiveSessionFor returns the user's ACTIVE or PAUSED session, or nil when
// there is none. A dangling pointer to a terminal or expired record is
// treated as absent.
func (r *Registry) ActiveSessionFor(ctx context.Context, userID string) (*FocusSession, error) {
	raw, err := r.backend.Get(ctx, activeKey(userID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	s, err := r.Get(ctx, string(raw))
	if err != nil {
		return nil, err
	}
	if s == nil || s.Status.Terminal() {
		return nil, nil
	}
	return s, nil
}

// Get returns the session record, or nil when absent or expired.
func (r *Registry) Get(ctx context.Context, sessionID string) (*FocusSession, error) {
	raw, err := r.backend.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var s FocusSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", sessionID, err)
	}
	return &s, nil
}

// AbandonOverdue abandons every live session whose planned duration plus
// grace has elapsed without a terminal transition. This is the fallback the
// state machine promises when a client vanishes mid-session; the record's
// own TTL is the backstop behind it.
func (r *Registry) AbandonOverdue(ctx context.Context) (int, error) {
	keys, err := r.backend.Keys(ctx, sessionKeyPrefix)
	if err != nil {
		return 0, err
	}

	now := r.clock.Now()
	abandoned := 0
	for _, key := range keys {
		raw, err := r.backend.Get(ctx, key)
		if err != nil {
			return abandoned, err
		}
		if raw == nil {
			continue
		}
		var s FocusSession
		if err := json.Unmarshal(raw, &s); err != nil {
			r.logger.Warn("skipping corrupt session record", zap.String("key", key), zap.Error(err))
			continue
		}
		if s.Status.Terminal() {
			continue
		}
		deadline := s.StartTime.Add(time.Duration(s.PlannedDurationMinutes)*time.Minute + r.cfg.Grace)
		if now.Before(deadline) {
			continue
		}
		if _, err := r.Abandon(ctx, s.ID, "expired"); err != nil {
			// Somebody else may have just ended it; that's fine.
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrSessionNotFound) {
				continue
			}
			return abandoned, err
		}
		abandoned++
	}
	return abandoned, nil
}

func (r *Registry) publish(ctx context.Context, s *FocusSession, eventType string) {
	evt := events.SessionEvent{
		Type:      eventType,
		SessionID: s.ID,
		UserID:    s.UserID,
		RoomID:    s.RoomID,
		Status:    string(s.Status),
	}
	if s.RoomID != "" {
		msg := events.NewSessionMessage(events.RoomChannel(s.RoomID), evt)
		if err := r.publisher.Publish(ctx, events.RoomChannel(s.RoomID), msg); err != nil {
			r.logger.Warn("failed to publish session event",
				zap.String("room", s.RoomID), zap.Error(err))
		}
	}
	msg := events.NewSessionMessage(events.UserChannel(s.UserID), evt)
	if err := r.publisher.Publish(ctx, events.UserChannel(s.UserID), msg); err != nil {
		r.logger.Warn("failed to publish session event",
			zap.String("user", s.UserID), zap.Error(err))
	}
}
