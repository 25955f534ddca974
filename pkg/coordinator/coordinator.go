// Package coordinator implements the central match-lifecycle state machine:
// it turns Arena Client notifications into Recorder Client commands and
// durable match records, annotates timelines with scored events, and
// services operator commands received from the Event Bus.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ebot1234/var-coordinator/pkg/arena"
	"github.com/ebot1234/var-coordinator/pkg/bus"
	"github.com/ebot1234/var-coordinator/pkg/models"
	"github.com/ebot1234/var-coordinator/pkg/store"
)

// Config carries the VAR timing parameters.
type Config struct {
	AutoScoringDelaySec    float64
	EndgameScoringDelaySec float64
	RecordingExtraTimeSec  float64
	VarReviewBackdateSec   float64
}

// Coordinator is the process-wide state machine. All mutable fields below
// the mutex are guarded by it for the duration of every lifecycle and
// command handler.
type Coordinator struct {
	cfg       Config
	store     *store.Store
	arena     ArenaSource
	recorder  Recorder
	bus       *bus.Bus
	log       *slog.Logger
	now       func() time.Time
	ctxHolder *ctxHolder

	mu             sync.Mutex
	state          State
	matches        map[string]*MatchListEntry
	currentMatchID string
	swapRedBlue    bool
	stopGeneration int
}

// ctxHolder lets the long-lived Start context reach handlers invoked from
// the arena/recorder clients' own goroutines without plumbing a context
// through every notifier signature.
type ctxHolder struct {
	mu  sync.RWMutex
	ctx context.Context
}

func (h *ctxHolder) get() context.Context {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.ctx == nil {
		return context.Background()
	}
	return h.ctx
}

func (h *ctxHolder) set(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctx = ctx
}

// New creates a Coordinator, loads durable match records, and wires its
// lifecycle handlers to arenaSource and topic emitters/commands to eventBus.
// Call Start once the arena and recorder clients' session loops are
// running.
func New(cfg Config, st *store.Store, arenaSource ArenaSource, recorder Recorder, eventBus *bus.Bus) (*Coordinator, error) {
	loaded, err := st.LoadAllMatches()
	if err != nil {
		return nil, fmt.Errorf("load match records: %w", err)
	}

	matches := make(map[string]*MatchListEntry, len(loaded))
	for id, m := range loaded {
		matches[id] = &MatchListEntry{Match: m}
	}

	c := &Coordinator{
		cfg:       cfg,
		store:     st,
		arena:     arenaSource,
		recorder:  recorder,
		bus:       eventBus,
		log:       slog.With("component", "coordinator"),
		now:       time.Now,
		ctxHolder: &ctxHolder{},
		state:     StateIdle,
		matches:   matches,
	}

	c.wireArenaNotifiers()
	c.wireRecorderNotifiers()
	c.registerTopics()
	c.registerCommands()

	return c, nil
}

// Start records the context handlers should use for outbound recorder
// calls. It does not spawn any goroutine of its own — the Coordinator is
// purely reactive to notifiers and commands.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctxHolder.set(ctx)
}

func (c *Coordinator) ctx() context.Context {
	return c.ctxHolder.get()
}

func (c *Coordinator) wireArenaNotifiers() {
	c.arena.Subscribe(arena.NotifierMatchStarted, func(any) { c.handleMatchStarted() })
	c.arena.Subscribe(arena.NotifierAutoPeriodEnded, func(any) { c.handleAutoPeriodEnded() })
	c.arena.Subscribe(arena.NotifierMatchEnded, func(any) { c.handleMatchEnded() })
	c.arena.Subscribe(arena.NotifierMatchCommittedOrDiscarded, func(any) { c.handleMatchCommittedOrDiscarded() })
	c.arena.Subscribe(arena.NotifierRealtimeScoreUpdated, func(data any) {
		score, ok := data.(arena.RealtimeScoreData)
		if !ok {
			return
		}
		c.handleRealtimeScoreUpdated(score)
	})

	for _, n := range []string{
		arena.NotifierConnectionStateUpdated,
		arena.NotifierHistoricalScoresUpdated,
		arena.NotifierMatchTimingUpdated,
		arena.NotifierMatchTimeUpdated,
		arena.NotifierMatchDataUpdated,
		arena.NotifierArenaReadyToStart,
		arena.NotifierTeleopPeriodStarted,
	} {
		n := n
		c.arena.Subscribe(n, func(any) { c.republishArenaTopics(n) })
	}
}

func (c *Coordinator) wireRecorderNotifiers() {
	for _, n := range []string{
		"CONNECTION_STATE_UPDATED",
		"TRANSPORT_MODE_UPDATED",
		"PLAYBACK_STATE_UPDATED",
		"DISK_SPACE_UPDATED",
	} {
		c.recorder.Subscribe(n, func(any) { c.bus.Notify("hyperdeck_status") })
	}
	c.recorder.Subscribe("CONNECTION_STATE_UPDATED", func(any) { c.bus.Notify("hyperdeck_connection") })
	c.recorder.Subscribe("CLIP_LIST_UPDATED", func(any) {
		c.recomputeClipAvailability()
		c.bus.Notify("match_list")
		c.bus.Notify("hyperdeck_status")
	})
}

// republishArenaTopics re-emits the topics whose underlying arena state
// changed. Most arena data notifiers map 1:1 onto a passthrough topic.
func (c *Coordinator) republishArenaTopics(notifier string) {
	switch notifier {
	case arena.NotifierConnectionStateUpdated:
		c.bus.Notify("arena_connection")
	case arena.NotifierHistoricalScoresUpdated:
		c.recomputeClipAvailability()
		c.bus.Notify("match_list")
	case arena.NotifierMatchTimingUpdated:
		c.bus.Notify("match_timing")
	case arena.NotifierMatchTimeUpdated:
		c.bus.Notify("current_match_time")
	case arena.NotifierMatchDataUpdated:
		c.bus.Notify("current_match_data")
	}
}

func teamsFromMatch(m arena.Match) models.Teams {
	return models.Teams{
		Red: models.AllianceTeams{m.Red1, m.Red2, m.Red3},
		Blue: models.AllianceTeams{m.Blue1, m.Blue2, m.Blue3},
	}
}

// allocateMatchID implements the base/_replay/_N disambiguation scheme for
// match ids that collide with one already on file. Caller must hold c.mu.
func (c *Coordinator) allocateMatchID(shortName string, isReplay bool) string {
	base := shortName
	if isReplay {
		base += "_replay"
	}
	if _, exists := c.matches[base]; !exists {
		return base
	}
	for i := 1;; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if _, exists := c.matches[candidate]; !exists {
			return candidate
		}
	}
}

// elapsedSinceRecordingStart returns now - recordingStart, floored at 0.
func (c *Coordinator) elapsedSinceRecordingStart(m *models.RecordedMatch) float64 {
	elapsed := c.now().Sub(m.RecordingStartTime).Seconds()
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func (c *Coordinator) persistLocked(m *models.RecordedMatch) {
	if err := c.store.SaveMatch(m); err != nil {
		c.log.Error("failed to persist match record", "internal_id", m.InternalID, "error", err)
	}
}

func newEventID() string {
	return uuid.NewString()
}

// handleMatchStarted implements Idle --MATCH_STARTED--> Recording.
func (c *Coordinator) handleMatchStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		c.log.Warn("MATCH_STARTED received while not Idle, ignoring", "state", c.state)
		return
	}

	load := c.arena.MatchLoad()
	if load == nil {
		c.log.Error("MATCH_STARTED received with no matchLoad snapshot available")
		return
	}

	id := c.allocateMatchID(load.MatchInfo.ShortName, load.IsReplay)
	now := c.now()

	match := &models.RecordedMatch{
		InternalID:         id,
		ArenaID:            load.MatchInfo.ID,
		ClipFileName:       id,
		MatchStartTime:     now,
		RecordingStartTime: now,
		Teams:              teamsFromMatch(load.MatchInfo),
		Events:             []models.MatchEvent{},
	}

	if err := c.recorder.StartRecording(c.ctx(), id); err != nil {
		c.log.Error("failed to start recorder", "internal_id", id, "error", err)
	}

	c.persistLocked(match)
	c.matches[id] = &MatchListEntry{Match: match}
	c.currentMatchID = id
	c.state = StateRecording
	c.stopGeneration++

	c.log.Info("match started", "internal_id", id, "arena_id", match.ArenaID)

	c.bus.Notify("controller_status")
	c.bus.Notify("match_list")
}

// handleAutoPeriodEnded implements Recording --AUTO_PERIOD_ENDED--> Recording.
func (c *Coordinator) handleAutoPeriodEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return
	}
	entry := c.matches[c.currentMatchID]
	if entry == nil {
		return
	}

	elapsed := c.elapsedSinceRecordingStart(entry.Match)
	event := models.MatchEvent{
		EventID:     newEventID(),
		EventType:   models.EventTypeAutoScoring,
		TimeSeconds: elapsed + c.cfg.AutoScoringDelaySec,
	}
	entry.Match.Events = append(entry.Match.Events, event)
	c.persistLocked(entry.Match)

	c.bus.Notify("match_list")
}

// handleMatchEnded implements Recording --MATCH_ENDED--> Recording, scheduling
// the delayed stop.
func (c *Coordinator) handleMatchEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return
	}
	entry := c.matches[c.currentMatchID]
	if entry == nil {
		return
	}

	elapsed := c.elapsedSinceRecordingStart(entry.Match)
	event := models.MatchEvent{
		EventID:     newEventID(),
		EventType:   models.EventTypeEndgameScoring,
		TimeSeconds: elapsed + c.cfg.EndgameScoringDelaySec,
	}
	entry.Match.Events = append(entry.Match.Events, event)
	c.persistLocked(entry.Match)
	c.bus.Notify("match_list")

	delay := time.Duration((c.cfg.EndgameScoringDelaySec + c.cfg.RecordingExtraTimeSec) * float64(time.Second))
	generation := c.stopGeneration
	time.AfterFunc(delay, func() { c.handleDelayedStop(generation) })
}

// handleDelayedStop implements Recording --delayed-stop fires-->
// ReviewingCurrentMatch. generation guards against a stale timer firing
// after the match was committed/discarded or replaced.
func (c *Coordinator) handleDelayedStop(generation int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording || generation != c.stopGeneration {
		c.log.Info("delayed stop fired outside its matching recording, skipping")
		return
	}

	entry := c.matches[c.currentMatchID]
	if entry == nil {
		return
	}

	clipID, err := c.recorder.StopRecording(c.ctx())
	if err != nil {
		c.log.Warn("stop-recording finalization failed or timed out", "internal_id", entry.Match.InternalID, "error", err)
	} else {
		entry.Match.ClipID = &clipID
	}

	c.persistLocked(entry.Match)

	if entry.Match.ClipID != nil {
		if autoTime, ok := firstEventTime(entry.Match, models.EventTypeAutoScoring); ok {
			if err := c.recorder.WarpToClip(c.ctx(), *entry.Match.ClipID, autoTime); err != nil {
				c.log.Warn("failed to warp to auto-scoring event", "internal_id", entry.Match.InternalID, "error", err)
			}
		}
	}

	c.recomputeClipAvailabilityLocked()
	c.state = StateReviewingCurrentMatch

	c.bus.Notify("controller_status")
	c.bus.Notify("match_list")
}

func firstEventTime(m *models.RecordedMatch, eventType models.EventType) (float64, bool) {
	for _, e := range m.Events {
		if e.EventType == eventType {
			return e.TimeSeconds, true
		}
	}
	return 0, false
}

// handleMatchCommittedOrDiscarded implements Recording/ReviewingCurrentMatch
// --MATCH_COMMITTED_OR_DISCARDED--> Idle.
func (c *Coordinator) handleMatchCommittedOrDiscarded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording && c.state != StateReviewingCurrentMatch {
		return
	}

	if entry := c.matches[c.currentMatchID]; entry != nil {
		c.persistLocked(entry.Match)
	}

	c.currentMatchID = ""
	c.state = StateIdle
	c.stopGeneration++

	if err := c.recorder.ShowLiveView(c.ctx()); err != nil {
		c.log.Warn("failed to show live view", "error", err)
	}

	c.bus.Notify("controller_status")
	c.bus.Notify("match_list")
}

// handleRealtimeScoreUpdated implements foul reconciliation against the
// current match's recorded events while Recording.
func (c *Coordinator) handleRealtimeScoreUpdated(score arena.RealtimeScoreData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return
	}
	entry := c.matches[c.currentMatchID]
	if entry == nil {
		return
	}

	changed := false
	changed = c.reconcileFouls(entry.Match, models.AllianceRed, score.Red.Score.Fouls) || changed
	changed = c.reconcileFouls(entry.Match, models.AllianceBlue, score.Blue.Score.Fouls) || changed

	if changed {
		c.persistLocked(entry.Match)
		c.bus.Notify("match_list")
	}
}

// reconcileFouls applies one alliance's foul list against the match's
// event timeline, appending new foul events and updating changed ones in
// place. Fouls without a FoulID are ignored (source-format compatibility).
// Caller must hold c.mu.
func (c *Coordinator) reconcileFouls(m *models.RecordedMatch, alliance models.Alliance, fouls []arena.Foul) bool {
	changed := false

	for _, foul := range fouls {
		if foul.FoulID == nil {
			continue
		}
		arenaFoulID := *foul.FoulID

		eventType := models.EventTypeMinorFoul
		if foul.IsMajor {
			eventType = models.EventTypeMajorFoul
		}

		var teamIndex *int
		if idx, ok := m.Teams.TeamIndex(alliance, foul.TeamID); ok {
			teamIndex = &idx
		}

		if i := m.FindEventByArenaFoulID(arenaFoulID); i >= 0 {
			existing := &m.Events[i]
			if existing.EventType != eventType || !intPtrEqual(existing.TeamIndex, teamIndex) {
				existing.EventType = eventType
				existing.TeamIndex = teamIndex
				changed = true
			}
			continue
		}

		alliance := alliance
		event := models.MatchEvent{
			EventID:     newEventID(),
			EventType:   eventType,
			TimeSeconds: c.elapsedSinceRecordingStart(m),
			Alliance:    &alliance,
			TeamIndex:   teamIndex,
			ArenaFoulID: &arenaFoulID,
		}
		m.Events = append(m.Events, event)
		changed = true
	}

	return changed
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// recomputeClipAvailability recomputes ClipAvailable for every match entry
// from the recorder's current clip/timeline knowledge.
func (c *Coordinator) recomputeClipAvailability() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recomputeClipAvailabilityLocked()
}

func (c *Coordinator) recomputeClipAvailabilityLocked() {
	for _, entry := range c.matches {
		entry.ClipAvailable = entry.Match.ClipID != nil && c.recorder.HasPlayableClip(*entry.Match.ClipID)
	}
}
