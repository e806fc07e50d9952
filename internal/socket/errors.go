package socket

import "errors"

// ErrNotConnected is returned by Send when the supervised connection is
// not in the open state. Frames are never queued for later delivery.
var ErrNotConnected = errors.New("socket is not connected")
