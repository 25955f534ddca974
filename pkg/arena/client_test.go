package arena

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebot1234/var-coordinator/pkg/store"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	return New(Config{BaseURL: baseURL, Username: "admin", Password: "secret", ReconnectDelay: 10 * time.Millisecond}, st)
}

func TestCheckAuthRequired_307MeansAuthRequired(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTemporaryRedirect)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	jar, _ := cookiejar.New(nil)
	required, err := c.checkAuthRequired(context.Background(), &http.Client{Jar: jar})
	require.NoError(t, err)
	assert.True(t, required)
}

func TestCheckAuthRequired_200MeansOpenAccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	required, err := c.checkAuthRequired(context.Background(), &http.Client{})
	require.NoError(t, err)
	assert.False(t, required)
}

func TestCheckAuthRequired_UnexpectedStatusIsTypedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.checkAuthRequired(context.Background(), &http.Client{})
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestAcquireSession_WrongPasswordRaisesExit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	jar, _ := cookiejar.New(nil)
	err := c.acquireSession(context.Background(), &http.Client{Jar: jar}, jar)
	assert.ErrorIs(t, err, ErrExit)
}

func TestAcquireSession_NoPasswordConfiguredRaisesExit(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	c.cfg.Password = ""
	jar, _ := cookiejar.New(nil)
	err := c.acquireSession(context.Background(), &http.Client{Jar: jar}, jar)
	assert.ErrorIs(t, err, ErrExit)
}

func TestAcquireSession_SuccessPersistsSessionToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session_token", Value: "abc123"})
		w.WriteHeader(http.StatusSeeOther)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	jar, _ := cookiejar.New(nil)
	err := c.acquireSession(context.Background(), &http.Client{Jar: jar}, jar)
	require.NoError(t, err)

	state, err := c.store.LoadArenaClientState()
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "abc123", state.SessionToken)
}

func TestHandleMatchTime_FiresMatchStartedOnAutoPeriod(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	var fired []string
	for _, n := range []string{NotifierMatchStarted, NotifierAutoPeriodEnded, NotifierTeleopPeriodStarted, NotifierMatchEnded, NotifierMatchCommittedOrDiscarded} {
		n := n
		c.Subscribe(n, func(any) { fired = append(fired, n) })
	}

	c.handleMatchTime(context.Background(), nil, MatchTimeData{MatchState: MatchStateAutoPeriod})
	assert.Equal(t, []string{NotifierMatchStarted}, fired)
}

func TestHandleMatchTime_FullLifecycleSequence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	var fired []string
	for _, n := range []string{NotifierMatchStarted, NotifierAutoPeriodEnded, NotifierTeleopPeriodStarted, NotifierMatchEnded, NotifierMatchCommittedOrDiscarded} {
		n := n
		c.Subscribe(n, func(any) { fired = append(fired, n) })
	}

	httpClient := &http.Client{}
	states := []MatchState{MatchStateAutoPeriod, MatchStatePausePeriod, MatchStateTeleopPeriod, MatchStatePostMatch, MatchStatePreMatch}
	for _, s := range states {
		c.handleMatchTime(context.Background(), httpClient, MatchTimeData{MatchState: s})
	}

	assert.Equal(t, []string{
		NotifierMatchStarted,
		NotifierAutoPeriodEnded,
		NotifierTeleopPeriodStarted,
		NotifierMatchEnded,
		NotifierMatchCommittedOrDiscarded,
	}, fired)
}

func TestHandleMatchTime_NoTransitionNoNotification(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	var fired int
	c.Subscribe(NotifierMatchStarted, func(any) { fired++ })

	c.handleMatchTime(context.Background(), nil, MatchTimeData{MatchState: MatchStateAutoPeriod})
	c.handleMatchTime(context.Background(), nil, MatchTimeData{MatchState: MatchStateAutoPeriod, MatchTimeSec: 5})
	assert.Equal(t, 1, fired)
}

func TestHandleArenaStatus_FiresOnlyOnRisingEdge(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	var fired int
	c.Subscribe(NotifierArenaReadyToStart, func(any) { fired++ })

	c.handleArenaStatus(ArenaStatusData{CanStartMatch: false})
	assert.Equal(t, 0, fired)

	c.handleArenaStatus(ArenaStatusData{CanStartMatch: true})
	assert.Equal(t, 1, fired)

	c.handleArenaStatus(ArenaStatusData{CanStartMatch: true})
	assert.Equal(t, 1, fired, "no re-fire while already true")

	c.handleArenaStatus(ArenaStatusData{CanStartMatch: false})
	c.handleArenaStatus(ArenaStatusData{CanStartMatch: true})
	assert.Equal(t, 2, fired, "fires again on the next rising edge")
}

func TestHandleMessage_UnknownTypeIsLoggedAndSkipped(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	assert.NotPanics(t, func() {
		c.handleMessage(context.Background(), nil, []byte(`{"type":"somethingUnknown","data":{}}`))
	})
}

func TestHandleMessage_MalformedEnvelopeIsSkipped(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	assert.NotPanics(t, func() {
		c.handleMessage(context.Background(), nil, []byte(`not json`))
	})
}

func TestRefreshMatchResults_MergesAcrossMatchTypes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/matches/test":
			_, _ = w.Write([]byte(`[{"Id":1,"ShortName":"T1"}]`))
		case "/api/matches/qualification":
			_, _ = w.Write([]byte(`[{"Id":2,"ShortName":"Q1"}]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	err := c.refreshMatchResults(context.Background(), &http.Client{})
	require.NoError(t, err)

	m1, ok := c.MatchResult(1)
	require.True(t, ok)
	assert.Equal(t, "T1", m1.ShortName)

	m2, ok := c.MatchResult(2)
	require.True(t, ok)
	assert.Equal(t, "Q1", m2.ShortName)
}

func TestWebsocketEndpoint_CompatVsVarSpecific(t *testing.T) {
	c := newTestClient(t, "http://10.0.100.5:8080")
	c.cfg.Compat = true
	assert.Equal(t, "ws://10.0.100.5:8080/panels/referee/websocket", c.websocketEndpoint())

	c.cfg.Compat = false
	assert.Equal(t, "ws://10.0.100.5:8080/video_referee/websocket", c.websocketEndpoint())
}
