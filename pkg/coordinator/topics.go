package coordinator

// controllerStatus is the shape of the controller_status topic.
type controllerStatus struct {
	SelectedMatchID string `json:"selected_match_id,omitempty"`
	Recording       bool   `json:"recording"`
	RealtimeData    bool   `json:"realtime_data"`
}

// matchListEntryView is the JSON shape of one match_list entry.
type matchListEntryView struct {
	VarData       any  `json:"var_data"`
	ArenaData     any  `json:"arena_data,omitempty"`
	ClipAvailable bool `json:"clip_available"`
}

// connectionStatus is the shape of arena_connection/hyperdeck_connection.
type connectionStatus struct {
	Connected bool `json:"connected"`
}

// hyperdeckStatus is the shape of the hyperdeck_status topic.
type hyperdeckStatus struct {
	TransportMode       string  `json:"transport_mode"`
	Playing             bool    `json:"playing"`
	ClipTime            float64 `json:"clip_time"`
	RemainingRecordTime float64 `json:"remaining_record_time"`
	TotalSpace          int64   `json:"total_space"`
	RemainingSpace      int64   `json:"remaining_space"`
}

// uiSettings is the shape of the ui_settings topic.
type uiSettings struct {
	SwapRedBlue bool `json:"swap_red_blue"`
}

// registerTopics wires every topic name this package serves to its
// on-demand emitter.
func (c *Coordinator) registerTopics() {
	c.bus.AddEventType("controller_status", c.emitControllerStatus)
	c.bus.AddEventType("match_list", c.emitMatchList)
	c.bus.AddEventType("match_timing", c.emitMatchTiming)
	c.bus.AddEventType("current_match_time", c.emitCurrentMatchTime)
	c.bus.AddEventType("current_match_data", c.emitCurrentMatchData)
	c.bus.AddEventType("realtime_score", c.emitRealtimeScore)
	c.bus.AddEventType("arena_connection", c.emitArenaConnection)
	c.bus.AddEventType("hyperdeck_connection", c.emitHyperdeckConnection)
	c.bus.AddEventType("hyperdeck_status", c.emitHyperdeckStatus)
	c.bus.AddEventType("ui_settings", c.emitUISettings)
}

func (c *Coordinator) emitControllerStatus() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return controllerStatus{
		SelectedMatchID: c.currentMatchID,
		Recording:       c.state == StateRecording,
		RealtimeData:    c.state != StateReviewingHistoricalMatch,
	}, true
}

func (c *Coordinator) emitMatchList() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]matchListEntryView, len(c.matches))
	for id, entry := range c.matches {
		view := matchListEntryView{VarData: entry.Match, ClipAvailable: entry.ClipAvailable}
		if result, ok := c.arena.MatchResult(entry.Match.ArenaID); ok {
			view.ArenaData = result
		}
		out[id] = view
	}
	return out, true
}

func (c *Coordinator) emitMatchTiming() (any, bool) {
	data := c.arena.MatchTiming()
	if len(data) == 0 {
		return nil, false
	}
	return data, true
}

func (c *Coordinator) emitCurrentMatchTime() (any, bool) {
	return c.arena.MatchTime(), true
}

func (c *Coordinator) emitCurrentMatchData() (any, bool) {
	return c.arena.MatchLoad(), c.arena.MatchLoad() != nil
}

func (c *Coordinator) emitRealtimeScore() (any, bool) {
	return c.arena.RealtimeScore(), true
}

func (c *Coordinator) emitArenaConnection() (any, bool) {
	return connectionStatus{Connected: c.arena.Connected()}, true
}

func (c *Coordinator) emitHyperdeckConnection() (any, bool) {
	return connectionStatus{Connected: c.recorder.Connected()}, true
}

func (c *Coordinator) emitHyperdeckStatus() (any, bool) {
	workingSet := c.recorder.GetActiveWorkingSet()

	status := hyperdeckStatus{
		TransportMode:       c.recorder.TransportMode(),
		RemainingRecordTime: workingSet.RemainingRecordTime,
		TotalSpace:          workingSet.TotalSpace,
		RemainingSpace:      workingSet.RemainingSpace,
	}

	c.mu.Lock()
	entry := c.matches[c.currentMatchID]
	c.mu.Unlock()
	if entry != nil && entry.Match.ClipID != nil {
		if t, err := c.recorder.GetCurrentTimeWithinClip(*entry.Match.ClipID); err == nil {
			status.ClipTime = t
		}
	}
	status.Playing = c.recorder.Recording()

	return status, true
}

func (c *Coordinator) emitUISettings() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uiSettings{SwapRedBlue: c.swapRedBlue}, true
}
