package session

import "errors"

var (
	ErrSessionClosed   = errors.New("session: closed")
	ErrNoMediaProvider = errors.New("session: no media provider configured")
)
