package sessions

import "time"

// Type classifies what kind of timed work a session is.
type Type string

const (
	TypeFocus      Type = "FOCUS"
	TypeBreak      Type = "BREAK"
	TypeMeditation Type = "MEDITATION"
	TypePlanning   Type = "PLANNING"
)

// Valid reports whether t is one of the known session types.
func (t Type) Valid() bool {
	switch t {
	case TypeFocus, TypeBreak, TypeMeditation, TypePlanning:
		return true
	}
	return false
}

// State is a session's lifecycle state.
type State string

const (
	StateActive    State = "ACTIVE"
	StatePaused    State = "PAUSED"
	StateCompleted State = "COMPLETED"
	StateAbandoned State = "ABANDONED"
)

// Terminal reports whether no further transition may leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAbandoned
}

// canTransition encodes the allowed edges: ACTIVE and PAUSED swap freely,
// either may end COMPLETED or ABANDONED, terminal states are final.
func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StatePaused:
		return from == StateActive
	case StateActive:
		return from == StatePaused
	case StateCompleted, StateAbandoned:
		return from == StateActive || from == StatePaused
	}
	return false
}

// FocusSession is one timed work interval. A session may run outside any
// room (RoomID empty). Once Status is terminal the record is immutable and
// is retained only briefly for client reconciliation.
type FocusSession struct {
	ID                     string     `json:"id"`
	UserID                 string     `json:"user_id"`
	RoomID                 string     `json:"room_id,omitempty"`
	StartTime              time.Time  `json:"start_time"`
	EndTime                *time.Time `json:"end_time,omitempty"`
	PlannedDurationMinutes int        `json:"planned_duration_minutes"`
	ActualDurationMinutes  int        `json:"actual_duration_minutes,omitempty"`
	Type                   Type       `json:"type"`
	Status                 State      `json:"status"`
	Interruptions          int        `json:"interruptions,omitempty"`
	AbandonReason          string     `json:"abandon_reason,omitempty"`
}
