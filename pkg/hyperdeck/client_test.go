package hyperdeck

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return New(Config{
		BaseURL:          baseURL,
		StopPollInterval: 5 * time.Millisecond,
		StopPollTimeout:  50 * time.Millisecond,
		ReconnectDelay:   10 * time.Millisecond,
	})
}

func TestStopRecording_ReturnsClipIDOnceFinalized(t *testing.T) {
	var calls int
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/transports/0/stop" {
			w.WriteHeader(http.StatusOK)
			return
		}
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if n < 3 {
			_ = json.NewEncoder(w).Encode(clipRecord{})
			return
		}
		_ = json.NewEncoder(w).Encode(clipRecord{ClipUniqueID: 9, FrameCount: 9000, FrameRate: 30})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	clipID, err := c.StopRecording(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, clipID)
}

func TestStopRecording_TimesOutWithoutFinalization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/transports/0/stop" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(clipRecord{})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	_, err := c.StopRecording(context.Background())
	assert.ErrorIs(t, err, ErrStopTimeout)
}

func TestWarpToClip_UnknownClipIsTypedError(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	err := c.WarpToClip(context.Background(), 404, 1.0)
	assert.ErrorIs(t, err, ErrUnknownClip)
}

func TestApplyTimeline_FiresClipListUpdatedOnlyWhenSetChanges(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	var fired int
	c.Subscribe(NotifierClipListUpdated, func(any) { fired++ })

	c.applyTimeline(timelineValue{Clips: []timelineClip{{ClipUniqueID: 1, FrameRate: 30, FrameCount: 100}}})
	assert.Equal(t, 1, fired)

	// Same set of ids again (even with different frame data) must not re-fire.
	c.applyTimeline(timelineValue{Clips: []timelineClip{{ClipUniqueID: 1, FrameRate: 30, FrameCount: 200}}})
	assert.Equal(t, 1, fired)

	c.applyTimeline(timelineValue{Clips: []timelineClip{{ClipUniqueID: 1}, {ClipUniqueID: 2}}})
	assert.Equal(t, 2, fired)
}

func TestHandlePropertyChange_TransportUpdatesRecordingAndFiresNotifier(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	var got string
	c.Subscribe(NotifierTransportModeUpdated, func(data any) { got = data.(string) })

	raw, err := json.Marshal(transportValue{Status: "record", Mode: ModeInputRecord})
	require.NoError(t, err)
	c.handlePropertyChange(PropertyTransport, raw)

	assert.True(t, c.Recording())
	assert.Equal(t, ModeInputRecord, c.TransportMode())
	assert.Equal(t, ModeInputRecord, got)
}

func TestHandleFrame_MalformedJSONIsSkippedNotFatal(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	assert.NotPanics(t, func() {
		c.handleFrame([]byte(`{not valid json`))
	})
}

func TestHasPlayableClip_UnknownClipIsFalse(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	assert.False(t, c.HasPlayableClip(123))
}
