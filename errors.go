package voxcore

import "errors"

// ErrClosed is returned by every operation on a closed Call.
var ErrClosed = errors.New("call is closed")
