package arena

import "errors"

// ErrExit is raised from inside a session to signal an unrecoverable
// authentication failure. run() propagates it unmodified so that callers
// can abort startup instead of retrying forever.
var ErrExit = errors.New("arena: unrecoverable authentication failure")

// ErrUnexpectedStatus is raised when an HTTP call receives a status code
// the protocol does not allow for that endpoint.
var ErrUnexpectedStatus = errors.New("arena: unexpected HTTP status")
