package coordinator

import (
	"github.com/ebot1234/var-coordinator/pkg/models"
)

// State is the Coordinator's controller-state.
type State string

const (
	StateIdle                     State = "Idle"
	StateRecording                State = "Recording"
	StateReviewingCurrentMatch    State = "ReviewingCurrentMatch"
	StateReviewingHistoricalMatch State = "ReviewingHistoricalMatch"
)

// MatchListEntry is one entry of the in-memory match list: a durable record
// paired with whether its clip is currently playable. Arena score data is
// looked up fresh from the arena client when the match list is emitted,
// rather than cached here, since it can change after the match is recorded.
type MatchListEntry struct {
	Match         *models.RecordedMatch
	ClipAvailable bool
}
