package presence

import "time"

// Status is a user's coarse presence state.
type Status string

const (
	StatusOnline   Status = "ONLINE"
	StatusAway     Status = "AWAY"
	StatusFocusing Status = "FOCUSING"
	StatusOffline  Status = "OFFLINE"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusFocusing, StatusOffline:
		return true
	}
	return false
}

// UserPresence is the live record for one online user. It is exclusively
// owned by the presence Store: no other component mutates it directly.
type UserPresence struct {
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	CurrentRoomID  string    `json:"current_room_id,omitempty"`
	ActivityLabel  string    `json:"activity_label,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
}
