package coordinator

import (
	"context"
	"encoding/json"

	"github.com/ebot1234/var-coordinator/pkg/arena"
	"github.com/ebot1234/var-coordinator/pkg/hyperdeck"
	"github.com/ebot1234/var-coordinator/pkg/notify"
)

// ArenaSource is the subset of *arena.Client the Coordinator depends on.
// Declaring it as an interface (rather than importing the concrete client)
// lets tests drive the state machine with a fake.
type ArenaSource interface {
	Subscribe(notifier string, handler notify.Handler)
	Connected() bool
	RealtimeScore() arena.RealtimeScoreData
	MatchLoad() *arena.MatchLoadData
	MatchTiming() json.RawMessage
	MatchTime() arena.MatchTimeData
	MatchResult(arenaID int) (arena.MatchWithResult, bool)
}

// Recorder is the subset of *hyperdeck.Client the Coordinator depends on.
type Recorder interface {
	Subscribe(notifier string, handler notify.Handler)
	Connected() bool
	Recording() bool
	TransportMode() string
	HasPlayableClip(clipID int) bool
	GetCurrentTimeWithinClip(clipID int) (float64, error)
	GetActiveWorkingSet() hyperdeck.WorkingSet
	StartRecording(ctx context.Context, name string) error
	StopRecording(ctx context.Context) (int, error)
	WarpToClip(ctx context.Context, clipID int, timeSeconds float64) error
	ShowLiveView(ctx context.Context) error
}
