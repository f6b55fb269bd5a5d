package hub

import "errors"

var (
	ErrHubAlreadyRunning   = errors.New("hub is already running")
	ErrHubNotRunning       = errors.New("hub is not running")
	ErrDuplicateConnection = errors.New("connection id already registered")
)
