package hyperdeck

import "errors"

var (
	// ErrStopTimeout is returned by StopRecording when the recorder has not
	// finished finalizing the clip (assigning a clip id and frame count)
	// within the configured poll timeout. The caller still advances the
	// state machine without a clip id.
	ErrStopTimeout = errors.New("hyperdeck: stop-recording finalization timed out")

	// ErrUnknownClip is returned by WarpToClip when the given clip id is not
	// present in the client's clip list.
	ErrUnknownClip = errors.New("hyperdeck: unknown clip id")

	// ErrUnexpectedStatus is returned when a REST call gets a response
	// outside the set the protocol allows for that endpoint.
	ErrUnexpectedStatus = errors.New("hyperdeck: unexpected HTTP status")
)
