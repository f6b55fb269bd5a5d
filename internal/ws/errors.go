package ws

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteBufferFull  = errors.New("outbound buffer full, frame dropped")
)
