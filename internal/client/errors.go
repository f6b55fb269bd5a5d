package client

import "errors"

var (
	ErrClientClosed = errors.New("client closed")
	ErrNotConnected = errors.New("not connected")
)
