package centrifuge

import "time"

const (
	// defaultTimeout is the default time to wait for a reply to any command. It also bounds the
	// websocket handshake and every write.
	defaultTimeout = 5 * time.Second

	// defaultPingInterval is the default time between keepalive pings
	defaultPingInterval = 25 * time.Second

	// defaultPrivateChannelPrefix marks channels that need a subscription token
	defaultPrivateChannelPrefix = "$"

	defaultMinReconnectDelay = 100 * time.Millisecond
	defaultMaxReconnectDelay = 10 * time.Second
	defaultReconnectFactor   = 2

	// closeNormal is the RFC 6455 status code used for every client initiated close
	closeNormal = 1000

	// closeGracePeriod is how long the websocket waits for the peer to answer a close frame
	closeGracePeriod = 250 * time.Millisecond

	// sendQueueSize is the number of frames the websocket writer buffers before Send fails
	sendQueueSize = 100
)

// Disconnect reasons reported through DisconnectEvent.Reason.
const (
	ReasonCleanDisconnect  = "clean disconnect"
	ReasonConnectError     = "connect error"
	ReasonNoPing           = "no ping"
	ReasonRefreshLate      = "token refreshed, but socket is closed"
	ReasonRefreshFailed    = "refresh token failed"
	ReasonRefreshError     = "refresh error"
	ReasonConnectionClosed = "connection closed"
)
