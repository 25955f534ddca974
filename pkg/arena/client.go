// Package arena implements the Arena Client: a reconnecting REST+WebSocket
// session against the match-management arena server.
package arena

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ebot1234/var-coordinator/pkg/models"
	"github.com/ebot1234/var-coordinator/pkg/notify"
	"github.com/ebot1234/var-coordinator/pkg/store"
)

// Notifier names fired through Client's Dispatcher.
const (
	NotifierArenaReadyToStart         = "ARENA_READY_TO_START"
	NotifierMatchStarted              = "MATCH_STARTED"
	NotifierAutoPeriodEnded           = "AUTO_PERIOD_ENDED"
	NotifierTeleopPeriodStarted       = "TELEOP_PERIOD_STARTED"
	NotifierMatchEnded                = "MATCH_ENDED"
	NotifierMatchCommittedOrDiscarded = "MATCH_COMMITTED_OR_DISCARDED"

	NotifierConnectionStateUpdated  = "CONNECTION_STATE_UPDATED"
	NotifierHistoricalScoresUpdated = "HISTORICAL_SCORES_UPDATED"
	NotifierRealtimeScoreUpdated    = "REALTIME_SCORE_UPDATED"
	NotifierMatchTimingUpdated      = "MATCH_TIMING_UPDATED"
	NotifierMatchTimeUpdated        = "MATCH_TIME_UPDATED"
	NotifierMatchDataUpdated        = "MATCH_DATA_UPDATED"
)

// Config carries the connection parameters the Client needs.
type Config struct {
	BaseURL        string
	Username       string
	Password       string
	Compat         bool
	ReconnectDelay time.Duration
}

// Client maintains the arena session and exposes the snapshot/notifier
// surface used by the rest of the program. Snapshot fields are written
// exclusively from the run() goroutine and read opportunistically by
// callers.
type Client struct {
	cfg        Config
	store      *store.Store
	dispatcher *notify.Dispatcher
	log        *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	connected     bool
	matchResults  map[int]MatchWithResult
	realtimeScore RealtimeScoreData
	matchLoad     *MatchLoadData
	matchTiming   json.RawMessage
	matchTime     MatchTimeData
	arenaStatus   ArenaStatusData
}

// New creates a Client. Call Start to begin the reconnecting session.
func New(cfg Config, st *store.Store) *Client {
	return &Client{
		cfg:          cfg,
		store:        st,
		dispatcher:   notify.New(),
		log:          slog.With("component", "arena"),
		stopCh:       make(chan struct{}),
		matchResults: make(map[int]MatchWithResult),
	}
}

// Subscribe registers handler to be invoked whenever notifier fires.
func (c *Client) Subscribe(notifier string, handler notify.Handler) {
	c.dispatcher.Subscribe(notifier, handler)
}

// Start begins the reconnecting session loop in a goroutine. Any ErrExit
// raised inside a session is delivered to exitCh, once, and the loop
// terminates without reconnecting.
func (c *Client) Start(ctx context.Context, exitCh chan<- error) {
	c.wg.Add(1)
	go c.run(ctx, exitCh)
}

// Stop signals the session loop to stop and waits for it to finish.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Client) run(ctx context.Context, exitCh chan<- error) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		err := c.session(ctx)
		c.setConnected(false)

		if errors.Is(err, ErrExit) {
			if exitCh != nil {
				exitCh <- err
			}
			return
		}
		if err != nil {
			c.log.Warn("arena session ended", "error", err)
		}

		c.sleep(c.cfg.ReconnectDelay)
	}
}

func (c *Client) sleep(d time.Duration) {
	select {
	case <-c.stopCh:
	case <-time.After(d):
	}
}

// session performs one full connect-authenticate-subscribe-receive cycle.
func (c *Client) session(ctx context.Context) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("create cookie jar: %w", err)
	}
	httpClient := &http.Client{Timeout: 10 * time.Second, Jar: jar}

	state, err := c.store.LoadArenaClientState()
	if err != nil {
		c.log.Warn("failed to load arena client state", "error", err)
		state = nil
	}
	if state != nil && state.SessionToken != "" {
		c.attachSessionCookie(jar, state.SessionToken)
	}

	authRequired, err := c.checkAuthRequired(ctx, httpClient)
	if err != nil {
		return err
	}
	if authRequired {
		if err := c.acquireSession(ctx, httpClient, jar); err != nil {
			return err
		}
	}

	wsEndpoint := c.websocketEndpoint()
	header := http.Header{}
	for _, cookie := range jar.Cookies(mustParseURL(c.cfg.BaseURL)) {
		header.Add("Cookie", cookie.String())
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsEndpoint, header)
	if err != nil {
		return fmt.Errorf("dial arena websocket: %w", err)
	}
	defer conn.Close()

	c.setConnected(true)

	if err := c.refreshMatchResults(ctx, httpClient); err != nil {
		c.log.Warn("failed to refresh historical match results", "error", err)
	}

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
			return fmt.Errorf("read arena frame: %w", err)
		}
		c.handleMessage(ctx, httpClient, message)
	}
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

func (c *Client) attachSessionCookie(jar *cookiejar.Jar, token string) {
	u := mustParseURL(c.cfg.BaseURL)
	jar.SetCookies(u, []*http.Cookie{{Name: "session_token", Value: token}})
}

// checkAuthRequired implements step 1 of the session protocol.
func (c *Client) checkAuthRequired(ctx context.Context, httpClient *http.Client) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/panels/referee", nil)
	if err != nil {
		return false, fmt.Errorf("build auth probe request: %w", err)
	}
	httpClient.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("auth probe request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusTemporaryRedirect:
		return true, nil
	case http.StatusOK:
		return false, nil
	default:
		return false, fmt.Errorf("%w: auth probe -> %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}

// acquireSession implements step 2 of the session protocol.
func (c *Client) acquireSession(ctx context.Context, httpClient *http.Client, jar *cookiejar.Jar) error {
	if c.cfg.Password == "" {
		c.log.Error("arena requires authentication but no password is configured")
		return ErrExit
	}

	form := url.Values{"username": {c.cfg.Username}, "password": {c.cfg.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusSeeOther:
		for _, cookie := range resp.Cookies() {
			if cookie.Name == "session_token" {
				jar.SetCookies(mustParseURL(c.cfg.BaseURL), []*http.Cookie{cookie})
				if err := c.store.SaveArenaClientState(&models.ArenaClientState{SessionToken: cookie.Value}); err != nil {
					c.log.Warn("failed to persist arena session token", "error", err)
				}
				return nil
			}
		}
		return fmt.Errorf("%w: login succeeded without a session_token cookie", ErrUnexpectedStatus)
	case http.StatusOK:
		c.log.Error("incorrect arena password")
		return ErrExit
	default:
		return fmt.Errorf("%w: login -> %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}

func (c *Client) websocketEndpoint() string {
	base := strings.TrimPrefix(c.cfg.BaseURL, "http://")
	base = strings.TrimPrefix(base, "https://")
	if c.cfg.Compat {
		return "ws://" + base + "/panels/referee/websocket"
	}
	return "ws://" + base + "/video_referee/websocket"
}

// refreshMatchResults fetches historical match results for every match
// type and merges them indexed by arena match id.
func (c *Client) refreshMatchResults(ctx context.Context, httpClient *http.Client) error {
	merged := make(map[int]MatchWithResult)

	for _, matchType := range matchTypes {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/matches/"+matchType, nil)
		if err != nil {
			return fmt.Errorf("build matches request: %w", err)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("fetch matches of type %s: %w", matchType, err)
		}

		var matches []MatchWithResult
		decodeErr := json.NewDecoder(resp.Body).Decode(&matches)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: matches/%s -> %d", ErrUnexpectedStatus, matchType, resp.StatusCode)
		}
		if decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
			return fmt.Errorf("decode matches of type %s: %w", matchType, decodeErr)
		}

		for _, m := range matches {
			merged[m.ID] = m
		}
	}

	c.mu.Lock()
	c.matchResults = merged
	c.mu.Unlock()
	c.dispatcher.Fire(NotifierHistoricalScoresUpdated, nil)
	return nil
}

// handleMessage dispatches one inbound websocket frame by its type string.
// Unknown types and validation failures are logged and skipped, never
// fatal.
func (c *Client) handleMessage(ctx context.Context, httpClient *http.Client, raw []byte) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Warn("malformed arena message envelope", "error", err)
		return
	}

	switch msg.Type {
	case MessageTypeMatchLoad:
		var data MatchLoadData
		if !c.decode(msg.Type, msg.Data, &data) {
			return
		}
		c.mu.Lock()
		c.matchLoad = &data
		c.mu.Unlock()
		c.dispatcher.Fire(NotifierMatchDataUpdated, data)

	case MessageTypeMatchTiming:
		c.mu.Lock()
		c.matchTiming = msg.Data
		c.mu.Unlock()
		c.dispatcher.Fire(NotifierMatchTimingUpdated, msg.Data)

	case MessageTypeMatchTime:
		var data MatchTimeData
		if !c.decode(msg.Type, msg.Data, &data) {
			return
		}
		c.handleMatchTime(ctx, httpClient, data)

	case MessageTypeRealtimeScore:
		var data RealtimeScoreData
		if !c.decode(msg.Type, msg.Data, &data) {
			return
		}
		c.mu.Lock()
		c.realtimeScore = data
		c.mu.Unlock()
		c.dispatcher.Fire(NotifierRealtimeScoreUpdated, data)

	case MessageTypeArenaStatus:
		var data ArenaStatusData
		if !c.decode(msg.Type, msg.Data, &data) {
			return
		}
		c.handleArenaStatus(data)

	case MessageTypeScoringStatus, MessageTypePing:
		// No handler: acknowledged message types with nothing to act on.

	default:
		c.log.Warn("unknown arena message type", "type", msg.Type)
	}
}

func (c *Client) decode(msgType string, raw json.RawMessage, out any) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		c.log.Warn("malformed arena message", "type", msgType, "error", err)
		return false
	}
	return true
}

// handleMatchTime applies a matchTime update and drives the lifecycle
// notifiers from the previous-to-current state transition.
func (c *Client) handleMatchTime(ctx context.Context, httpClient *http.Client, data MatchTimeData) {
	c.mu.Lock()
	prev := c.matchTime.MatchState
	c.matchTime = data
	c.mu.Unlock()

	c.dispatcher.Fire(NotifierMatchTimeUpdated, data)

	if prev == data.MatchState {
		return
	}

	switch data.MatchState {
	case MatchStateAutoPeriod:
		c.dispatcher.Fire(NotifierMatchStarted, nil)
	case MatchStatePausePeriod:
		c.dispatcher.Fire(NotifierAutoPeriodEnded, nil)
	case MatchStateTeleopPeriod:
		c.dispatcher.Fire(NotifierTeleopPeriodStarted, nil)
	case MatchStatePostMatch:
		c.dispatcher.Fire(NotifierMatchEnded, nil)
	case MatchStatePreMatch:
		if prev == MatchStatePostMatch {
			if err := c.refreshMatchResults(ctx, httpClient); err != nil {
				c.log.Warn("failed to refresh match results after commit", "error", err)
			}
			c.dispatcher.Fire(NotifierMatchCommittedOrDiscarded, nil)
		}
	}
}

// handleArenaStatus applies an arenaStatus update, firing
// ARENA_READY_TO_START on the rising edge of can-start-match.
func (c *Client) handleArenaStatus(data ArenaStatusData) {
	c.mu.Lock()
	prev := c.arenaStatus
	c.arenaStatus = data
	c.mu.Unlock()

	if data.CanStartMatch && !prev.CanStartMatch {
		c.dispatcher.Fire(NotifierArenaReadyToStart, nil)
	}
}

func (c *Client) setConnected(connected bool) {
	c.mu.Lock()
	changed := c.connected != connected
	c.connected = connected
	c.mu.Unlock()
	if changed {
		c.dispatcher.Fire(NotifierConnectionStateUpdated, connected)
	}
}

// Connected reports whether the websocket session is currently up.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// RealtimeScore returns the latest realtimeScore snapshot.
func (c *Client) RealtimeScore() RealtimeScoreData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.realtimeScore
}

// MatchLoad returns the latest matchLoad snapshot, or nil if none has
// arrived yet.
func (c *Client) MatchLoad() *MatchLoadData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matchLoad
}

// MatchTiming returns the latest matchTiming payload, passed through
// unparsed.
func (c *Client) MatchTiming() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matchTiming
}

// MatchTime returns the latest matchTime snapshot.
func (c *Client) MatchTime() MatchTimeData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matchTime
}

// ArenaStatus returns the latest arenaStatus snapshot.
func (c *Client) ArenaStatus() ArenaStatusData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.arenaStatus
}

// MatchResult looks up a historical match result by arena match id.
func (c *Client) MatchResult(arenaID int) (MatchWithResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.matchResults[arenaID]
	return m, ok
}
