// Package hyperdeck implements the Recorder Client: a reconnecting REST+
// WebSocket session against a professional disk recorder's control API.
package hyperdeck

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ebot1234/var-coordinator/pkg/notify"
)

// Config carries the connection parameters the Client needs. It mirrors
// config.HyperdeckConfig without importing pkg/config, keeping the client
// reusable and independently testable.
type Config struct {
	BaseURL          string
	WebsocketURL     string
	ReconnectDelay   time.Duration
	StopPollInterval time.Duration
	StopPollTimeout  time.Duration
}

// Client maintains the recorder session and exposes the command/snapshot
// surface used by the rest of the program. All snapshot fields are written
// exclusively from the run() goroutine and read opportunistically by
// callers.
type Client struct {
	cfg        Config
	httpClient *http.Client
	dispatcher *notify.Dispatcher
	log        *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	conn          *websocket.Conn
	connected     bool
	recording     bool
	transportMode string
	playback      playbackValue
	clips         map[int]ClipRef
	workingSet    WorkingSet

	reqID int
}

// New creates a Client. Call Start to begin the reconnecting session.
func New(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dispatcher: notify.New(),
		log:        slog.With("component", "hyperdeck"),
		stopCh:     make(chan struct{}),
		clips:      make(map[int]ClipRef),
	}
}

// Subscribe registers handler to be invoked whenever notifier fires.
func (c *Client) Subscribe(notifier string, handler notify.Handler) {
	c.dispatcher.Subscribe(notifier, handler)
}

// Start begins the reconnecting session loop in a goroutine.
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop signals the session loop to stop and waits for it to finish. Safe to
// call multiple times.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// run is the reconnecting session loop, grounded on the worker
// run()/sleep() pattern: attempt a session, and on any error back off for
// ReconnectDelay before retrying, all interruptible by stopCh/ctx.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := c.session(ctx); err != nil {
			c.log.Warn("recorder session ended", "error", err)
		}
		c.setConnected(false)

		c.sleep(ctx, c.cfg.ReconnectDelay)
	}
}

// sleep waits for d or until stop/ctx cancellation, whichever first.
func (c *Client) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-c.stopCh:
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// session dials the WebSocket endpoint, subscribes to the recorder's
// property set, and processes inbound frames until the connection drops or
// the client is stopped.
func (c *Client) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.WebsocketURL, nil)
	if err != nil {
		return fmt.Errorf("dial recorder websocket: %w", err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.subscribe(conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	c.setConnected(true)
	c.dispatcher.Fire(NotifierConnectionStateUpdated, true)

	done := make(chan struct{})
	go func() {
		select {
		case <-c.stopCh:
		case <-ctx.Done():
		case <-done:
			return
		}
		_ = conn.Close()
	}()
	defer close(done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read recorder frame: %w", err)
		}
		c.handleFrame(message)
	}
}

// subscribe sends the single subscribe request for the property set.
func (c *Client) subscribe(conn *websocket.Conn) error {
	req := wireRequest{
		Type: "request",
		Data: wireRequestData{
			Action: ActionSubscribe,
			Properties: []string{
				PropertyTransport,
				PropertyPlayback,
				PropertyTimeline,
				PropertyDiskStorage,
			},
		},
	}
	return conn.WriteJSON(req)
}

// handleFrame decodes one inbound WebSocket frame and dispatches it.
// Unknown or malformed frames are logged and skipped.
func (c *Client) handleFrame(raw []byte) {
	var frame wireFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.log.Warn("malformed recorder frame", "error", err)
		return
	}

	switch frame.Type {
	case "response":
		var data wireResponseData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			c.log.Warn("malformed recorder response", "error", err)
			return
		}
		if !data.Success {
			c.log.Warn("recorder rejected request", "action", data.Action)
			return
		}
		c.handleInitialValues(data)
	case "event":
		var data wireEventData
		if err := json.Unmarshal(frame.Data, &data); err != nil {
			c.log.Warn("malformed recorder event", "error", err)
			return
		}
		if data.Action != ActionPropertyChange {
			c.log.Warn("unknown recorder event action", "action", data.Action)
			return
		}
		c.handlePropertyChange(data.Property, data.Value)
	default:
		c.log.Warn("unknown recorder frame type", "type", frame.Type)
	}
}

// handleInitialValues applies the subscribe reply's initial values, keyed
// per-property inside a single JSON object (best-effort: recorders vary in
// whether they echo all subscribed properties at once or per-property).
func (c *Client) handleInitialValues(data wireResponseData) {
	if len(data.Values) == 0 {
		return
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(data.Values, &values); err != nil {
		c.log.Warn("malformed initial values", "error", err)
		return
	}
	for property, raw := range values {
		c.handlePropertyChange(property, raw)
	}
}

// handlePropertyChange applies a single property update and fires the
// corresponding notifier(s).
func (c *Client) handlePropertyChange(property string, raw json.RawMessage) {
	switch property {
	case PropertyTransport:
		var v transportValue
		if err := json.Unmarshal(raw, &v); err != nil {
			c.log.Warn("malformed transport value", "error", err)
			return
		}
		c.mu.Lock()
		c.transportMode = v.Mode
		c.recording = v.Status == "record"
		c.mu.Unlock()
		c.dispatcher.Fire(NotifierTransportModeUpdated, v.Mode)

	case PropertyPlayback:
		var v playbackValue
		if err := json.Unmarshal(raw, &v); err != nil {
			c.log.Warn("malformed playback value", "error", err)
			return
		}
		c.mu.Lock()
		c.playback = v
		c.mu.Unlock()
		c.dispatcher.Fire(NotifierPlaybackStateUpdated, v)

	case PropertyTimeline:
		var v timelineValue
		if err := json.Unmarshal(raw, &v); err != nil {
			c.log.Warn("malformed timeline value", "error", err)
			return
		}
		c.applyTimeline(v)

	case PropertyDiskStorage:
		var v storageValue
		if err := json.Unmarshal(raw, &v); err != nil {
			c.log.Warn("malformed storage value", "error", err)
			return
		}
		c.mu.Lock()
		c.workingSet.RemainingRecordTime = v.RemainingRecordTime
		c.workingSet.TotalSpace = v.TotalSpace
		c.workingSet.RemainingSpace = v.RemainingSpace
		c.mu.Unlock()
		c.dispatcher.Fire(NotifierDiskSpaceUpdated, v)

	default:
		c.log.Warn("unknown recorder property", "property", property)
	}
}

// applyTimeline rebuilds the known clip-id set from a timeline update,
// firing CLIP_LIST_UPDATED only when the set of ids actually changed.
func (c *Client) applyTimeline(v timelineValue) {
	next := make(map[int]ClipRef, len(v.Clips))
	for _, clip := range v.Clips {
		next[clip.ClipUniqueID] = ClipRef{
			ClipID:     clip.ClipUniqueID,
			FrameRate:  clip.FrameRate,
			FrameCount: clip.FrameCount,
			ClipIn:     clip.ClipIn,
			TimelineIn: clip.TimelineIn,
		}
	}

	c.mu.Lock()
	changed := !sameClipIDs(c.clips, next)
	c.clips = next
	c.mu.Unlock()

	if changed {
		c.dispatcher.Fire(NotifierClipListUpdated, nil)
	}
}

func sameClipIDs(a, b map[int]ClipRef) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	changed := c.connected != connected
	c.connected = connected
	c.mu.Unlock()
	if changed && !connected {
		c.dispatcher.Fire(NotifierConnectionStateUpdated, false)
	}
}

// Connected reports whether the WebSocket session is currently up.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Recording reports whether the transport is currently in record mode.
func (c *Client) Recording() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recording
}

// TransportMode returns the last known transport mode.
func (c *Client) TransportMode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transportMode
}

// PlaybackPosition returns the last known playback timeline position.
func (c *Client) PlaybackPosition() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.playback.Position
}

// HasPlayableClip reports whether clipID is present in the clip set taken
// from the recorder's timeline. The recorder's separate clip listing
// (GET /clips) is not consulted.
func (c *Client) HasPlayableClip(clipID int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.clips[clipID]
	return ok
}

// GetCurrentTimeWithinClip returns the current playback position expressed
// as seconds within clipID, clamped to [0, duration).
func (c *Client) GetCurrentTimeWithinClip(clipID int) (float64, error) {
	c.mu.RLock()
	ref, ok := c.clips[clipID]
	position := c.playback.Position
	c.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownClip, clipID)
	}
	clip := Clip{ClipID: ref.ClipID, FrameRate: ref.FrameRate, FrameCount: ref.FrameCount, ClipIn: ref.ClipIn, TimelineIn: ref.TimelineIn}
	return CurrentTimeWithinClip(clip, position), nil
}

// GetActiveWorkingSet returns the recorder's remaining capacity snapshot.
func (c *Client) GetActiveWorkingSet() WorkingSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.workingSet
}

// StartRecording issues a start-recording request and returns once
// the recorder has accepted it.
func (c *Client) StartRecording(ctx context.Context, name string) error {
	body := map[string]any{}
	if name != "" {
		body["clipName"] = name
	}
	return c.postJSON(ctx, "/transports/0/record", body, nil)
}

// StopRecording issues a stop-recording request and polls
// /transports/0/clip until the recorder reports a finalized clip (id and
// frame-count present), or ErrStopTimeout after StopPollTimeout.
func (c *Client) StopRecording(ctx context.Context) (int, error) {
	if err := c.postJSON(ctx, "/transports/0/stop", nil, nil); err != nil {
		return 0, fmt.Errorf("stop request: %w", err)
	}

	deadline := time.Now().Add(c.cfg.StopPollTimeout)
	ticker := time.NewTicker(c.cfg.StopPollInterval)
	defer ticker.Stop()

	for {
		var clip clipRecord
		if err := c.getJSON(ctx, "/transports/0/clip", &clip); err != nil {
			return 0, fmt.Errorf("poll clip: %w", err)
		}
		if clip.finalized() {
			return clip.ClipUniqueID, nil
		}
		if time.Now().After(deadline) {
			return 0, ErrStopTimeout
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-c.stopCh:
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WarpToClip jumps playback to timeSeconds within clipID.
func (c *Client) WarpToClip(ctx context.Context, clipID int, timeSeconds float64) error {
	c.mu.RLock()
	ref, ok := c.clips[clipID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownClip, clipID)
	}

	clip := Clip{ClipID: ref.ClipID, FrameRate: ref.FrameRate, ClipIn: ref.ClipIn, FrameCount: ref.FrameCount, TimelineIn: ref.TimelineIn}
	position := TimelinePosition(clip, timeSeconds)

	body := map[string]any{
		"type": PlaybackJog,
		"loop": false,
		"singleClip": true,
		"speed": 0,
		"position": position,
	}
	return c.putJSON(ctx, "/transports/0/playback", body)
}

// ShowLiveView switches the transport to live preview.
func (c *Client) ShowLiveView(ctx context.Context) error {
	return c.putJSON(ctx, "/transports/0", map[string]any{"mode": ModeInputPreview})
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

func (c *Client) putJSON(ctx context.Context, path string, body any) error {
	return c.doJSON(ctx, http.MethodPut, path, body, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s -> %d", ErrUnexpectedStatus, method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
