package centrifuge

// Connection level listener capabilities. A connection listener passed to NewClient may implement
// any subset of them; events for capabilities it lacks are dropped. All listener methods run on
// the client's event loop and must return promptly.

type ConnectHandler interface {
	OnConnect(c *Client, e ConnectEvent)
}

type MessageHandler interface {
	OnMessage(c *Client, e MessageEvent)
}

// RefreshHandler is asked for a new connection token when the current one expires. It must call
// cb exactly once, from any goroutine, possibly after returning.
type RefreshHandler interface {
	OnRefresh(c *Client, e RefreshEvent, cb TokenCallback)
}

type DisconnectHandler interface {
	OnDisconnect(c *Client, e DisconnectEvent)
}

type ErrorHandler interface {
	OnError(c *Client, e ErrorEvent)
}

// Subscription listener capabilities, implemented in any subset by the listener passed to
// Client.Subscribe.

// PrivateSubHandler is asked for a subscription token for channels carrying the private prefix.
// It must call cb exactly once, from any goroutine, possibly after returning.
type PrivateSubHandler interface {
	OnPrivateSub(c *Client, e PrivateSubEvent, cb TokenCallback)
}

type SubscribeSuccessHandler interface {
	OnSubscribeSuccess(s *Subscription, e SubscribeSuccessEvent)
}

type SubscribeErrorHandler interface {
	OnSubscribeError(s *Subscription, e SubscribeErrorEvent)
}

type PublicationHandler interface {
	OnPublication(s *Subscription, e PublicationEvent)
}

type JoinHandler interface {
	OnJoin(s *Subscription, e JoinEvent)
}

type LeaveHandler interface {
	OnLeave(s *Subscription, e LeaveEvent)
}

type UnsubscribeHandler interface {
	OnUnsubscribe(s *Subscription, e UnsubscribeEvent)
}

// TokenCallback completes a token request with either a token or an error.
type TokenCallback func(token string, err error)

type ConnectEvent struct {
	ConnectionID string
	Version      string
	Expires      bool
	TTL          uint32
	Data         []byte
}

type MessageEvent struct {
	ConnectionID string
	Channel      string
	Data         []byte
}

type RefreshEvent struct {
	ConnectionID string
}

type DisconnectEvent struct {
	ConnectionID string
	Reason       string
	Reconnect    bool
}

// Clean reports whether the disconnect was requested through Client.Disconnect.
func (e DisconnectEvent) Clean() bool {
	return e.Reason == ReasonCleanDisconnect
}

type ErrorEvent struct {
	Err error
}

type PrivateSubEvent struct {
	ConnectionID string
	Channel      string
}

type SubscribeSuccessEvent struct {
	ConnectionID string
	Channel      string
	Expires      bool
	TTL          uint32
	Recoverable  bool
	Recovered    bool
	Epoch        string
	Offset       uint64
	// Publications missed while disconnected, when the server recovered them.
	Publications []*Publication
}

type SubscribeErrorEvent struct {
	ConnectionID string
	Channel      string
	Code         uint32
	Message      string
}

type PublicationEvent struct {
	ConnectionID string
	Channel      string
	Publication  *Publication
}

type JoinEvent struct {
	ConnectionID string
	Channel      string
	ClientInfo   ClientInfo
}

type LeaveEvent struct {
	ConnectionID string
	Channel      string
	ClientInfo   ClientInfo
}

type UnsubscribeEvent struct {
	ConnectionID string
	Channel      string
	Resubscribe  bool
}
