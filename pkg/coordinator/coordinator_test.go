package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebot1234/var-coordinator/pkg/arena"
	"github.com/ebot1234/var-coordinator/pkg/bus"
	"github.com/ebot1234/var-coordinator/pkg/hyperdeck"
	"github.com/ebot1234/var-coordinator/pkg/models"
	"github.com/ebot1234/var-coordinator/pkg/notify"
	"github.com/ebot1234/var-coordinator/pkg/store"
)

type fakeArena struct {
	dispatcher *notify.Dispatcher
	matchLoad  *arena.MatchLoadData
	matchTime  arena.MatchTimeData
}

func newFakeArena() *fakeArena {
	return &fakeArena{dispatcher: notify.New()}
}

func (f *fakeArena) Subscribe(n string, h notify.Handler)          { f.dispatcher.Subscribe(n, h) }
func (f *fakeArena) Connected() bool                               { return true }
func (f *fakeArena) RealtimeScore() arena.RealtimeScoreData        { return arena.RealtimeScoreData{} }
func (f *fakeArena) MatchLoad() *arena.MatchLoadData               { return f.matchLoad }
func (f *fakeArena) MatchTiming() json.RawMessage                  { return nil }
func (f *fakeArena) MatchTime() arena.MatchTimeData                { return f.matchTime }
func (f *fakeArena) MatchResult(int) (arena.MatchWithResult, bool) { return arena.MatchWithResult{}, false }
func (f *fakeArena) fire(notifier string, data any)                { f.dispatcher.Fire(notifier, data) }

type warpCall struct {
	clipID int
	time   float64
}

type fakeRecorder struct {
	mu            sync.Mutex
	stopClipID    int
	stopErr       error
	warpCalls     []warpCall
	startCalls    []string
	playableClips map[int]bool
	shownLive     int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{playableClips: make(map[int]bool)}
}

func (f *fakeRecorder) Subscribe(string, notify.Handler) {}
func (f *fakeRecorder) Connected() bool                  { return true }
func (f *fakeRecorder) Recording() bool                  { return false }
func (f *fakeRecorder) TransportMode() string            { return "" }

func (f *fakeRecorder) HasPlayableClip(clipID int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playableClips[clipID]
}

func (f *fakeRecorder) GetCurrentTimeWithinClip(int) (float64, error) { return 0, nil }
func (f *fakeRecorder) GetActiveWorkingSet() hyperdeck.WorkingSet     { return hyperdeck.WorkingSet{} }

func (f *fakeRecorder) StartRecording(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls = append(f.startCalls, name)
	return nil
}

func (f *fakeRecorder) StopRecording(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopClipID, f.stopErr
}

func (f *fakeRecorder) WarpToClip(_ context.Context, clipID int, t float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.warpCalls = append(f.warpCalls, warpCall{clipID: clipID, time: t})
	return nil
}

func (f *fakeRecorder) ShowLiveView(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shownLive++
	return nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeArena, *fakeRecorder) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)

	fa := newFakeArena()
	fr := newFakeRecorder()
	eventBus := bus.New()

	c, err := New(Config{
		AutoScoringDelaySec:    3.0,
		EndgameScoringDelaySec: 3.0,
		RecordingExtraTimeSec:  2.0,
		VarReviewBackdateSec:   0.0,
	}, st, fa, fr, eventBus)
	require.NoError(t, err)
	c.Start(context.Background())

	return c, fa, fr
}

func TestHandleMatchStarted_AllocatesIDAndStartsRecording(t *testing.T) {
	c, fa, fr := newTestCoordinator(t)
	fa.matchLoad = &arena.MatchLoadData{MatchInfo: arena.Match{ID: 1, ShortName: "Q1", Red1: 100, Red2: 200, Red3: 300, Blue1: 400, Blue2: 500, Blue3: 600}}

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	fa.fire(arena.NotifierMatchStarted, nil)

	assert.Equal(t, StateRecording, c.state)
	assert.Equal(t, "Q1", c.currentMatchID)
	require.Contains(t, c.matches, "Q1")
	assert.Equal(t, []string{"Q1"}, fr.startCalls)
	assert.Equal(t, models.AllianceTeams{100, 200, 300}, c.matches["Q1"].Match.Teams.Red)
}

func TestAllocateMatchID_CollisionAppendsDisambiguator(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	c.matches["Q5_replay"] = &MatchListEntry{Match: &models.RecordedMatch{InternalID: "Q5_replay"}}

	id := c.allocateMatchID("Q5", true)
	assert.Equal(t, "Q5_replay_1", id)
}

func TestHappyPathMatchLifecycle_S2(t *testing.T) {
	c, fa, fr := newTestCoordinator(t)
	fa.matchLoad = &arena.MatchLoadData{MatchInfo: arena.Match{ID: 1, ShortName: "Q1"}}

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	current := base
	c.now = func() time.Time { return current }

	fa.fire(arena.NotifierMatchStarted, nil) // t=0

	current = base.Add(15 * time.Second)
	fa.fire(arena.NotifierAutoPeriodEnded, nil) // t=15 -> event at 18.0

	current = base.Add(150 * time.Second)
	fa.fire(arena.NotifierMatchEnded, nil) // t=150 -> event at 153.0, schedules stop at +5s

	fr.stopClipID = 42

	c.handleDelayedStop(c.stopGeneration) // simulate the timer firing directly

	require.Len(t, c.matches["Q1"].Match.Events, 2)
	assert.Equal(t, models.EventTypeAutoScoring, c.matches["Q1"].Match.Events[0].EventType)
	assert.InDelta(t, 18.0, c.matches["Q1"].Match.Events[0].TimeSeconds, 0.001)
	assert.Equal(t, models.EventTypeEndgameScoring, c.matches["Q1"].Match.Events[1].EventType)
	assert.InDelta(t, 153.0, c.matches["Q1"].Match.Events[1].TimeSeconds, 0.001)

	assert.Equal(t, StateReviewingCurrentMatch, c.state)
	require.NotNil(t, c.matches["Q1"].Match.ClipID)
	assert.Equal(t, 42, *c.matches["Q1"].Match.ClipID)
	require.Len(t, fr.warpCalls, 1)
	assert.Equal(t, 42, fr.warpCalls[0].clipID)
	assert.InDelta(t, 18.0, fr.warpCalls[0].time, 0.001)

	current = base.Add(200 * time.Second)
	fa.fire(arena.NotifierMatchCommittedOrDiscarded, nil)

	assert.Equal(t, StateIdle, c.state)
	assert.Equal(t, "", c.currentMatchID)
	assert.Equal(t, 1, fr.shownLive)
}

func TestFoulReconciliation_S4(t *testing.T) {
	c, fa, _ := newTestCoordinator(t)
	fa.matchLoad = &arena.MatchLoadData{MatchInfo: arena.Match{ID: 1, ShortName: "Q1", Red1: 2056, Red2: 0, Red3: 0}}
	c.now = func() time.Time { return time.Unix(0, 0) }
	fa.fire(arena.NotifierMatchStarted, nil)

	foulID := 7
	teamID := 2056
	score := arena.RealtimeScoreData{
		Red: arena.ScoreWithSummary{Score: arena.Score{Fouls: []arena.Foul{{FoulID: &foulID, IsMajor: false, TeamID: teamID}}}},
	}
	c.handleRealtimeScoreUpdated(score)

	events := c.matches["Q1"].Match.Events
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeMinorFoul, events[0].EventType)
	require.NotNil(t, events[0].TeamIndex)
	assert.Equal(t, 0, *events[0].TeamIndex)
	require.NotNil(t, events[0].Alliance)
	assert.Equal(t, models.AllianceRed, *events[0].Alliance)

	// Upgrade to major, change team to an unlisted number -> same event updated in place.
	unlistedTeam := 9999
	score2 := arena.RealtimeScoreData{
		Red: arena.ScoreWithSummary{Score: arena.Score{Fouls: []arena.Foul{{FoulID: &foulID, IsMajor: true, TeamID: unlistedTeam}}}},
	}
	c.handleRealtimeScoreUpdated(score2)

	events = c.matches["Q1"].Match.Events
	require.Len(t, events, 1, "no new event should be created")
	assert.Equal(t, models.EventTypeMajorFoul, events[0].EventType)
	assert.Nil(t, events[0].TeamIndex)
}

func TestFoulsWithoutArenaFoulIDAreIgnored(t *testing.T) {
	c, fa, _ := newTestCoordinator(t)
	fa.matchLoad = &arena.MatchLoadData{MatchInfo: arena.Match{ID: 1, ShortName: "Q1"}}
	c.now = func() time.Time { return time.Unix(0, 0) }
	fa.fire(arena.NotifierMatchStarted, nil)

	score := arena.RealtimeScoreData{
		Red: arena.ScoreWithSummary{Score: arena.Score{Fouls: []arena.Foul{{IsMajor: true, TeamID: 100}}}},
	}
	c.handleRealtimeScoreUpdated(score)

	assert.Empty(t, c.matches["Q1"].Match.Events)
}

func TestStopRecordingTimeout_StillAdvancesWithoutClipID_S6(t *testing.T) {
	c, fa, fr := newTestCoordinator(t)
	fa.matchLoad = &arena.MatchLoadData{MatchInfo: arena.Match{ID: 1, ShortName: "Q1"}}
	c.now = func() time.Time { return time.Unix(0, 0) }
	fa.fire(arena.NotifierMatchStarted, nil)

	fr.stopErr = hyperdeck.ErrStopTimeout

	c.handleDelayedStop(c.stopGeneration)

	assert.Equal(t, StateReviewingCurrentMatch, c.state)
	assert.Nil(t, c.matches["Q1"].Match.ClipID)
	assert.False(t, c.matches["Q1"].ClipAvailable)
}

func TestMatchCommittedBeforeDelayedStopCompletes_StillReachesIdle(t *testing.T) {
	c, fa, _ := newTestCoordinator(t)
	fa.matchLoad = &arena.MatchLoadData{MatchInfo: arena.Match{ID: 1, ShortName: "Q1"}}
	c.now = func() time.Time { return time.Unix(0, 0) }
	fa.fire(arena.NotifierMatchStarted, nil)

	generationAtScheduling := c.stopGeneration
	fa.fire(arena.NotifierMatchCommittedOrDiscarded, nil)
	assert.Equal(t, StateIdle, c.state)

	// A stale delayed-stop for the old generation must be a no-op.
	c.handleDelayedStop(generationAtScheduling)
	assert.Equal(t, StateIdle, c.state)
}

func TestLoadMatchCommand_WarpsToClipStartWhenPlayable(t *testing.T) {
	c, _, fr := newTestCoordinator(t)
	clipID := 9
	c.matches["Q2"] = &MatchListEntry{Match: &models.RecordedMatch{InternalID: "Q2", ClipID: &clipID}}
	fr.playableClips[9] = true

	err := c.handleLoadMatchCommand(mustJSON(t, map[string]any{"match_id": "Q2"}))
	require.NoError(t, err)

	assert.Equal(t, StateReviewingHistoricalMatch, c.state)
	assert.Equal(t, "Q2", c.currentMatchID)
	require.Len(t, fr.warpCalls, 1)
	assert.Equal(t, 9, fr.warpCalls[0].clipID)
	assert.InDelta(t, 0.0, fr.warpCalls[0].time, 0.001)
}

func TestLoadMatchCommand_RejectsWhileRecording(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	c.matches["Q2"] = &MatchListEntry{Match: &models.RecordedMatch{InternalID: "Q2"}}
	c.state = StateRecording

	err := c.handleLoadMatchCommand(mustJSON(t, map[string]any{"match_id": "Q2"}))
	assert.Error(t, err)
}

func TestExitReviewCommand_ReturnsToIdle(t *testing.T) {
	c, _, fr := newTestCoordinator(t)
	c.matches["Q2"] = &MatchListEntry{Match: &models.RecordedMatch{InternalID: "Q2"}}
	c.currentMatchID = "Q2"
	c.state = StateReviewingHistoricalMatch

	err := c.handleExitReviewCommand(nil)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, c.state)
	assert.Equal(t, 1, fr.shownLive)
}

func TestAddVarReviewCommand_BackdatesWhileRecording(t *testing.T) {
	c, fa, _ := newTestCoordinator(t)
	fa.matchLoad = &arena.MatchLoadData{MatchInfo: arena.Match{ID: 1, ShortName: "Q1"}}
	c.now = func() time.Time { return time.Unix(0, 0) }
	fa.fire(arena.NotifierMatchStarted, nil)
	c.cfg.VarReviewBackdateSec = 2.0

	err := c.handleAddVarReviewCommand(mustJSON(t, map[string]any{"match_id": "Q1", "time": 10.0}))
	require.NoError(t, err)

	events := c.matches["Q1"].Match.Events
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeVarReview, events[0].EventType)
	assert.InDelta(t, 8.0, events[0].TimeSeconds, 0.001)
}

func TestAddVarReviewCommand_RejectsNonCurrentMatch(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	c.matches["Q2"] = &MatchListEntry{Match: &models.RecordedMatch{InternalID: "Q2"}}

	err := c.handleAddVarReviewCommand(mustJSON(t, map[string]any{"match_id": "Q2", "time": 1.0}))
	assert.Error(t, err)
}

func TestUpdateEventCommand_OnlyWhitelistedFieldsApply(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	c.matches["Q1"] = &MatchListEntry{Match: &models.RecordedMatch{
		InternalID: "Q1",
		Events:     []models.MatchEvent{{EventID: "e1", EventType: models.EventTypeMinorFoul, TimeSeconds: 1.0}},
	}}

	err := c.handleUpdateEventCommand(mustJSON(t, map[string]any{
		"match_id": "Q1",
		"event_id": "e1",
		"updates":  map[string]any{"event_type": "MAJOR_FOUL", "event_id": "should-be-ignored"},
	}))
	require.NoError(t, err)

	assert.Equal(t, models.EventTypeMajorFoul, c.matches["Q1"].Match.Events[0].EventType)
	assert.Equal(t, "e1", c.matches["Q1"].Match.Events[0].EventID)
}

func TestUpdateEventCommand_UnknownEventIDErrors(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	c.matches["Q1"] = &MatchListEntry{Match: &models.RecordedMatch{InternalID: "Q1"}}

	err := c.handleUpdateEventCommand(mustJSON(t, map[string]any{
		"match_id": "Q1",
		"event_id": "nope",
		"updates":  map[string]any{"event_type": "MAJOR_FOUL"},
	}))
	assert.Error(t, err)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
