package vtest

import "errors"

// ErrSessionClosed is returned by Session.Notify after Close.
var ErrSessionClosed = errors.New("vtest: session closed")
