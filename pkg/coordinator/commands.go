package coordinator

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/ebot1234/var-coordinator/pkg/models"
)

// registerCommands wires every command name this package handles to its
// handler.
func (c *Coordinator) registerCommands() {
	c.bus.AddCommandHandler("load_match", c.handleLoadMatchCommand)
	c.bus.AddCommandHandler("warp_to_time", c.handleWarpToTimeCommand)
	c.bus.AddCommandHandler("add_var_review", c.handleAddVarReviewCommand)
	c.bus.AddCommandHandler("exit_review", c.handleExitReviewCommand)
	c.bus.AddCommandHandler("update_event", c.handleUpdateEventCommand)
}

type loadMatchCommand struct {
	MatchID string `json:"match_id"`
}

// handleLoadMatchCommand implements Idle/ReviewingHistoricalMatch
// --load-match--> ReviewingHistoricalMatch.
func (c *Coordinator) handleLoadMatchCommand(data json.RawMessage) error {
	var cmd loadMatchCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("decode load_match: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle && c.state != StateReviewingHistoricalMatch {
		return fmt.Errorf("load_match not valid in state %s", c.state)
	}
	entry, ok := c.matches[cmd.MatchID]
	if !ok {
		return fmt.Errorf("unknown match id %q", cmd.MatchID)
	}

	c.currentMatchID = cmd.MatchID
	c.state = StateReviewingHistoricalMatch

	if entry.Match.ClipID != nil && c.recorder.HasPlayableClip(*entry.Match.ClipID) {
		if err := c.recorder.WarpToClip(c.ctx(), *entry.Match.ClipID, 0); err != nil {
			c.log.Warn("failed to warp to start of clip", "internal_id", cmd.MatchID, "error", err)
		}
	}

	c.bus.Notify("controller_status")
	return nil
}

type warpToTimeCommand struct {
	MatchID string  `json:"match_id"`
	Time    float64 `json:"time"`
}

func (c *Coordinator) handleWarpToTimeCommand(data json.RawMessage) error {
	var cmd warpToTimeCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("decode warp_to_time: %w", err)
	}

	c.mu.Lock()
	if cmd.MatchID != c.currentMatchID {
		c.mu.Unlock()
		return fmt.Errorf("warp_to_time for non-current match %q", cmd.MatchID)
	}
	entry := c.matches[cmd.MatchID]
	c.mu.Unlock()

	if entry == nil || entry.Match.ClipID == nil {
		return fmt.Errorf("match %q has no clip to warp within", cmd.MatchID)
	}
	return c.recorder.WarpToClip(c.ctx(), *entry.Match.ClipID, cmd.Time)
}

type addVarReviewCommand struct {
	MatchID string  `json:"match_id"`
	Time    float64 `json:"time"`
}

// handleAddVarReviewCommand implements the VAR_REVIEW annotation rule:
// while Recording, the event time is backdated by the configured
// reaction-time offset (floor 0); otherwise it is taken literally.
func (c *Coordinator) handleAddVarReviewCommand(data json.RawMessage) error {
	var cmd addVarReviewCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("decode add_var_review: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cmd.MatchID != c.currentMatchID {
		return fmt.Errorf("add_var_review for non-current match %q", cmd.MatchID)
	}
	entry := c.matches[cmd.MatchID]
	if entry == nil {
		return fmt.Errorf("unknown match id %q", cmd.MatchID)
	}

	eventTime := cmd.Time
	if c.state == StateRecording {
		eventTime = math.Max(0, cmd.Time-c.cfg.VarReviewBackdateSec)
	}

	entry.Match.Events = append(entry.Match.Events, models.MatchEvent{
		EventID:     newEventID(),
		EventType:   models.EventTypeVarReview,
		TimeSeconds: eventTime,
	})
	c.persistLocked(entry.Match)
	c.bus.Notify("match_list")
	return nil
}

// handleExitReviewCommand implements ReviewingHistoricalMatch
// --exit-review--> Idle.
func (c *Coordinator) handleExitReviewCommand(json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReviewingHistoricalMatch {
		return fmt.Errorf("exit_review not valid in state %s", c.state)
	}

	c.currentMatchID = ""
	c.state = StateIdle

	if err := c.recorder.ShowLiveView(c.ctx()); err != nil {
		c.log.Warn("failed to show live view", "error", err)
	}

	c.bus.Notify("controller_status")
	return nil
}

type updateEventCommand struct {
	MatchID string         `json:"match_id"`
	EventID string         `json:"event_id"`
	Updates map[string]any `json:"updates"`
}

// updatableEventFields whitelists the MatchEvent fields update_event may
// patch; anything else in Updates is ignored.
var updatableEventFields = map[string]bool{
	"time_seconds": true,
	"event_type": true,
	"alliance": true,
	"team_index": true,
}

// handleUpdateEventCommand patches a whitelisted set of fields on an
// existing event.
func (c *Coordinator) handleUpdateEventCommand(data json.RawMessage) error {
	var cmd updateEventCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return fmt.Errorf("decode update_event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.matches[cmd.MatchID]
	if !ok {
		return fmt.Errorf("unknown match id %q", cmd.MatchID)
	}

	idx := -1
	for i := range entry.Match.Events {
		if entry.Match.Events[i].EventID == cmd.EventID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("unknown event id %q on match %q", cmd.EventID, cmd.MatchID)
	}

	event := &entry.Match.Events[idx]
	for field, value := range cmd.Updates {
		if !updatableEventFields[field] {
			c.log.Warn("update_event: ignoring non-whitelisted field", "field", field)
			continue
		}
		if err := applyEventFieldUpdate(event, field, value); err != nil {
			return fmt.Errorf("apply update to %s: %w", field, err)
		}
	}

	c.persistLocked(entry.Match)
	c.bus.Notify("match_list")
	return nil
}

func applyEventFieldUpdate(event *models.MatchEvent, field string, value any) error {
	switch field {
	case "time_seconds":
		v, ok := value.(float64)
		if !ok {
			return fmt.Errorf("time_seconds must be a number")
		}
		event.TimeSeconds = v
	case "event_type":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("event_type must be a string")
		}
		event.EventType = models.EventType(v)
	case "alliance":
		if value == nil {
			event.Alliance = nil
			return nil
		}
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("alliance must be a string or null")
		}
		a := models.Alliance(v)
		event.Alliance = &a
	case "team_index":
		if value == nil {
			event.TeamIndex = nil
			return nil
		}
		v, ok := value.(float64)
		if !ok {
			return fmt.Errorf("team_index must be a number or null")
		}
		i := int(v)
		event.TeamIndex = &i
	}
	return nil
}
