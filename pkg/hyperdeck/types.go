package hyperdeck

import "encoding/json"

// Transport modes accepted by PUT /transports/0.
const (
	ModeInputPreview = "InputPreview"
	ModeInputRecord  = "InputRecord"
	ModeOutput       = "Output"
)

// Playback types accepted by PUT /transports/0/playback.
const (
	PlaybackJog = "Jog"
)

// Property names used in the subscribe request and in propertyValueChanged
// events.
const (
	PropertyTransport    = "/transports/0"
	PropertyPlayback     = "/transports/0/playback"
	PropertyTimeline     = "/timelines/0"
	PropertyDiskStorage  = "/storages/0"
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionPropertyChange = "propertyValueChanged"
)

// Notifier names fired through Client's Dispatcher.
const (
	NotifierConnectionStateUpdated = "CONNECTION_STATE_UPDATED"
	NotifierTransportModeUpdated   = "TRANSPORT_MODE_UPDATED"
	NotifierPlaybackStateUpdated   = "PLAYBACK_STATE_UPDATED"
	NotifierClipListUpdated        = "CLIP_LIST_UPDATED"
	NotifierDiskSpaceUpdated       = "DISK_SPACE_UPDATED"
)

// wireRequest is an outbound {type:"request",...} WebSocket frame.
type wireRequest struct {
	Type string          `json:"type"`
	Data wireRequestData `json:"data"`
	ID   int             `json:"id,omitempty"`
}

type wireRequestData struct {
	Action     string   `json:"action"`
	Properties []string `json:"properties,omitempty"`
}

// wireFrame is the shape common to every inbound WebSocket message. Type
// discriminates how Data is further decoded.
type wireFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	ID   int             `json:"id,omitempty"`
}

// wireResponseData is the payload of an inbound {type:"response"} frame.
type wireResponseData struct {
	Action     string          `json:"action"`
	Properties []string        `json:"properties,omitempty"`
	Success    bool            `json:"success"`
	Values     json.RawMessage `json:"values,omitempty"`
}

// wireEventData is the payload of an inbound {type:"event"} frame.
type wireEventData struct {
	Action   string          `json:"action"`
	Property string          `json:"property"`
	Value    json.RawMessage `json:"value"`
}

// transportValue is the decoded value of the /transports/0 property.
type transportValue struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
}

// playbackValue is the decoded value of the /transports/0/playback
// property.
type playbackValue struct {
	Speed    float64 `json:"speed"`
	Position int     `json:"position"`
	Loop     bool    `json:"loop"`
}

// timelineValue is the decoded value of the /timelines/0 property: the
// ordered list of clips placed on the recorder's timeline.
type timelineValue struct {
	Clips []timelineClip `json:"clips"`
}

type timelineClip struct {
	ClipUniqueID int     `json:"clipUniqueId"`
	ClipIn       int     `json:"clipIn"`
	FrameCount   int     `json:"frameCount"`
	TimelineIn   int     `json:"timelineIn"`
	FrameRate    float64 `json:"frameRate"`
}

// storageValue is the decoded value of the disk-space-equivalent property.
type storageValue struct {
	RemainingRecordTime float64 `json:"remainingRecordTime"`
	TotalSpace          int64   `json:"totalSpace"`
	RemainingSpace      int64   `json:"remainingSpace"`
}

// clipRecord is the response body of GET /transports/0/clip. A clip still
// being recorded has zero-value ClipUniqueID/FrameCount.
type clipRecord struct {
	ClipUniqueID int     `json:"clipUniqueId"`
	FrameCount   int     `json:"frameCount"`
	FrameRate    float64 `json:"frameRate"`
}

func (c clipRecord) finalized() bool {
	return c.ClipUniqueID != 0 && c.FrameCount != 0
}

// ClipRef names a recorder clip and its placement on the timeline: enough
// to translate a timeline-relative position into frames within the clip
// itself and back, per the frame/position arithmetic in timemath.go.
type ClipRef struct {
	ClipID     int
	FrameRate  float64
	FrameCount int
	ClipIn     int
	TimelineIn int
}

// WorkingSet summarizes the recorder's remaining capacity.
type WorkingSet struct {
	RemainingRecordTime float64
	TotalSpace          int64
	RemainingSpace      int64
}
