// Package models holds the durable and in-memory data types shared across
// the coordinator, store, and gateway packages.
package models

import "time"

// Alliance identifies one side of a match.
type Alliance string

const (
	AllianceRed  Alliance = "RED"
	AllianceBlue Alliance = "BLUE"
)

// EventType enumerates the kinds of annotation that can appear on a match
// timeline.
type EventType string

const (
	EventTypeAutoScoring    EventType = "AUTO_SCORING"
	EventTypeEndgameScoring EventType = "ENDGAME_SCORING"
	EventTypeVarReview      EventType = "VAR_REVIEW"
	EventTypeMajorFoul      EventType = "MAJOR_FOUL"
	EventTypeMinorFoul      EventType = "MINOR_FOUL"
)

// MatchEvent is a single annotation on a match's recording timeline.
type MatchEvent struct {
	EventID     string    `json:"event_id"`
	EventType   EventType `json:"event_type"`
	TimeSeconds float64   `json:"time_seconds"`

	Alliance    *Alliance `json:"alliance,omitempty"`
	TeamIndex   *int      `json:"team_index,omitempty"`
	ArenaFoulID *int      `json:"arena_foul_id,omitempty"`
}

// AllianceTeams is the ordered 3-tuple of team numbers stationed on one
// alliance for a match.
type AllianceTeams [3]int

// Teams maps each alliance to its stationed teams.
type Teams struct {
	Red  AllianceTeams `json:"red"`
	Blue AllianceTeams `json:"blue"`
}

// TeamIndex returns the 0-based station index of teamNumber within the
// alliance, or false if the team is not stationed on this alliance.
func (t Teams) TeamIndex(alliance Alliance, teamNumber int) (int, bool) {
	var stations AllianceTeams
	switch alliance {
	case AllianceRed:
		stations = t.Red
	case AllianceBlue:
		stations = t.Blue
	default:
		return 0, false
	}
	for i, team := range stations {
		if team == teamNumber {
			return i, true
		}
	}
	return 0, false
}

// RecordedMatch is the durable record of a single match attempt: its
// identity, its teams, and the timeline of events accumulated during and
// after recording.
type RecordedMatch struct {
	InternalID string `json:"internal_id"`
	ArenaID    int    `json:"arena_id"`

	ClipFileName string `json:"clip_file_name"`
	ClipID       *int   `json:"clip_id,omitempty"`

	MatchStartTime     time.Time `json:"match_start_time"`
	RecordingStartTime time.Time `json:"recording_start_time"`

	Teams Teams `json:"teams"`

	Events []MatchEvent `json:"events"`
}

// FindEventByArenaFoulID returns the index of the event carrying the given
// arena-foul-id, or -1 if none is present. A RecordedMatch holds at most one
// event per arena-foul-id.
func (m *RecordedMatch) FindEventByArenaFoulID(arenaFoulID int) int {
	for i := range m.Events {
		if m.Events[i].ArenaFoulID != nil && *m.Events[i].ArenaFoulID == arenaFoulID {
			return i
		}
	}
	return -1
}

// ArenaClientState is the durable record of the arena session credential.
type ArenaClientState struct {
	SessionToken string `json:"session_token,omitempty"`
}
