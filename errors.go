package centrifuge

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no reply arrives within Options.Timeout.
	ErrTimeout = errors.New("centrifuge: request timed out")

	// ErrConnectionClosed is returned for requests still pending when the connection closes.
	ErrConnectionClosed = errors.New("centrifuge: connection closed")

	// ErrNotConnected is returned for requests issued while the client is not connected.
	ErrNotConnected = errors.New("centrifuge: client not connected")

	// ErrClientClosed is returned for requests issued after Client.Close.
	ErrClientClosed = errors.New("centrifuge: client closed")

	// ErrSendFailed wraps transport errors returned while writing a command.
	ErrSendFailed = errors.New("centrifuge: send failed")

	// ErrDecode wraps malformed frames and payloads received from the server.
	ErrDecode = errors.New("centrifuge: decode error")

	// ErrTransportNotOpen is returned by transports asked to send before they are open or after close.
	ErrTransportNotOpen = errors.New("centrifuge: transport not open")

	// ErrSendQueueFull is returned by the websocket transport when its writer is backed up.
	ErrSendQueueFull = errors.New("centrifuge: send queue full")
)

// Error is an error reply sent by the server for a single command.
type Error struct {
	Code    uint32
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("centrifuge: server error %d: %s", e.Code, e.Message)
}

func decodeError(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDecode, what, err)
}
