package hyperdeck

import "math"

// Clip describes the placement of one recorder clip within its timeline,
// using the field names from the wire protocol.
type Clip struct {
	ClipID     int
	FrameRate  float64
	ClipIn     int
	FrameCount int
	TimelineIn int
}

// clamp returns v bounded to [lo, hi] inclusive.
func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SecondsToFrame converts a seconds offset into an absolute frame number at
// the clip's frame rate: clip frame = floor(seconds x frameRate).
func SecondsToFrame(seconds, frameRate float64) int {
	return int(math.Floor(seconds * frameRate))
}

// TimelinePosition computes the timeline position for jumping to the given
// seconds offset within clip c, clamping the target frame to the clip's
// bounds:
//
//	position = timelineIn + clamp(floor(t*fps), clipIn, clipIn+frameCount-1) - clipIn
func TimelinePosition(c Clip, seconds float64) int {
	frame := SecondsToFrame(seconds, c.FrameRate)
	clamped := clamp(frame, c.ClipIn, c.ClipIn+c.FrameCount-1)
	return c.TimelineIn + clamped - c.ClipIn
}

// CurrentTimeWithinClip converts a timeline position back into a seconds
// offset within clip c, clamped to [0, duration).
func CurrentTimeWithinClip(c Clip, timelinePosition int) float64 {
	frame := timelinePosition - c.TimelineIn + c.ClipIn
	frame = clamp(frame, c.ClipIn, c.ClipIn+c.FrameCount-1)
	if c.FrameRate <= 0 {
		return 0
	}
	return float64(frame-c.ClipIn) / c.FrameRate
}
