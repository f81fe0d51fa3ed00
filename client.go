package centrifuge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/centrifugal/protocol"
	"go.opentelemetry.io/otel/trace"
)

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// ClientListener receives connection events. It may implement any subset of ConnectHandler,
// MessageHandler, RefreshHandler, DisconnectHandler, ErrorHandler and PrivateSubHandler. The
// latter serves subscriptions whose own listener does not implement it.
type ClientListener any

// disconnectReason travels from whatever started a close to the handler of the close completion.
type disconnectReason struct {
	Reason    string
	Reconnect bool
}

type disconnectCause int

const (
	causeConnectRejected disconnectCause = iota
	causeConnectFailed
	causeNoPing
	causeRefreshLate
	causeRefreshFailed
	causeRefreshRejected
	causeRefreshError
	causeClean
)

// disconnectPolicy decides the reason and reconnect intent of every client initiated close. An
// empty reason is replaced with the message of the server error that caused the close.
var disconnectPolicy = map[disconnectCause]disconnectReason{
	causeConnectRejected: {Reason: "", Reconnect: false},
	causeConnectFailed:   {Reason: ReasonConnectError, Reconnect: true},
	causeNoPing:          {Reason: ReasonNoPing, Reconnect: true},
	causeRefreshLate:     {Reason: ReasonRefreshLate, Reconnect: true},
	causeRefreshFailed:   {Reason: ReasonRefreshFailed, Reconnect: false},
	causeRefreshRejected: {Reason: "", Reconnect: false},
	causeRefreshError:    {Reason: ReasonRefreshError, Reconnect: true},
	causeClean:           {Reason: ReasonCleanDisconnect, Reconnect: false},
}

func reasonFor(cause disconnectCause, err error) disconnectReason {
	r := disconnectPolicy[cause]
	if r.Reason == "" {
		var serverErr *Error
		switch {
		case errors.As(err, &serverErr) && serverErr.Message != "":
			r.Reason = serverErr.Message
		case err != nil:
			r.Reason = err.Error()
		default:
			r.Reason = ReasonConnectionClosed
		}
	}
	return r
}

// Client is a single logical connection to a server, reconnecting as needed. Every state change
// happens on one event loop goroutine; the exported methods only queue work for it and are safe
// for concurrent use.
type Client struct {
	endPoint string
	opts     Options
	listener ClientListener

	logger  Logger
	metrics *metrics
	tracer  trace.Tracer
	codec   Codec
	clock   clock

	ctx       context.Context
	cancel    context.CancelFunc
	queue     *taskQueue
	closeOnce sync.Once

	subs *subscriptionRegistry

	mu     sync.RWMutex
	state  ConnState
	connID string

	// owned by the event loop
	transport         Transport
	epoch             uint64
	token             string
	ids               *commandIDs
	pending           *requestTable
	backoff           *Backoff
	pingTimer         *callbackTimer
	refreshTimer      *callbackTimer
	reconnectTimer    *callbackTimer
	pendingClose      *disconnectReason
	reconnect         bool
	connectAfterClose bool
}

func NewClient(endPoint string, opts Options, listener ClientListener) *Client {
	opts.normalize()

	c := &Client{
		endPoint: endPoint,
		opts:     opts,
		listener: listener,
		logger:   opts.Logger,
		metrics:  newMetrics(opts.MetricsRegisterer, opts.MetricsNamespace, opts.MetricsLabels),
		tracer:   newTracer(opts.TracerProvider),
		codec:    opts.Codec,
		clock:    opts.clock,
		subs:     newSubscriptionRegistry(),
		state:    StateDisconnected,
		ids:      newCommandIDs(),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.queue = newTaskQueue(func(v any) {
		c.logger.Printf(LogError, "client", "Listener panicked: %v", v)
	})

	c.pending = newRequestTable(c.clock, c.enqueue)
	c.pending.onDone = func(req *pendingRequest, err error) {
		req.span.end(err)
		c.metrics.commandDone(req, err, c.clock.Now().Sub(req.createdAt).Seconds())
	}

	c.backoff = NewBackoff(opts.MinReconnectDelay, opts.MaxReconnectDelay, opts.ReconnectFactor)
	c.backoff.Jitter = opts.ReconnectJitter

	c.pingTimer = newCallbackTimer(c.clock, c.timerTask(func() *callbackTimer { return c.pingTimer }, c.onPingTimer))
	c.refreshTimer = newCallbackTimer(c.clock, c.timerTask(func() *callbackTimer { return c.refreshTimer }, c.onRefreshTimer))
	c.reconnectTimer = newCallbackTimer(c.clock, c.timerTask(func() *callbackTimer { return c.reconnectTimer }, c.onReconnectTimer))

	return c
}

// timerTask hands a timer firing to the event loop, dropping it if the timer was stopped or
// rescheduled in the meantime.
func (c *Client) timerTask(timer func() *callbackTimer, fn func()) timerCallback {
	return func(seq uint64) {
		c.enqueue(func() {
			if timer().current(seq) {
				fn()
			}
		})
	}
}

func (c *Client) enqueue(task func()) bool {
	return c.queue.push(task)
}

// Connect starts connecting with token unless a connection is already up or underway. While a
// close is still in progress the connect happens right after it completes.
func (c *Client) Connect(token string) error {
	if !c.enqueue(func() { c.connect(token) }) {
		return ErrClientClosed
	}
	return nil
}

// Disconnect closes the connection for good: no reconnect follows. It also cancels a scheduled
// reconnect.
func (c *Client) Disconnect() error {
	if !c.enqueue(c.disconnect) {
		return ErrClientClosed
	}
	return nil
}

// Close disconnects and stops the event loop. Every later call fails with ErrClientClosed. Close
// must not be called from a listener.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.enqueue(c.shutdown)
		c.queue.close()
		<-c.queue.Done()
		c.cancel()
	})
}

func (c *Client) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

// ConnectionID returns the server assigned id of the current connection, empty unless connected.
func (c *Client) ConnectionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connID
}

func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Subscribe registers a subscription to channel, replacing any earlier one, and subscribes on the
// server once connected. The subscription survives reconnects until Unsubscribe.
func (c *Client) Subscribe(channel string, listener SubscriptionListener) (*Subscription, error) {
	sub := newSubscription(c, channel, listener)
	if !c.enqueue(func() { c.subscribe(sub) }) {
		return nil, ErrClientClosed
	}
	return sub, nil
}

func (c *Client) Unsubscribe(channel string) error {
	ok := c.enqueue(func() {
		if sub := c.subs.get(channel); sub != nil {
			c.unsubscribe(sub)
		}
	})
	if !ok {
		return ErrClientClosed
	}
	return nil
}

// GetSubscription returns the registered subscription to channel or nil.
func (c *Client) GetSubscription(channel string) *Subscription {
	return c.subs.get(channel)
}

func (c *Client) Publish(channel string, data []byte) *Future[PublishResult] {
	params := &protocol.PublishRequest{Channel: channel, Data: data}
	return request(c, MethodPublish, channel, params, func(*Reply) (PublishResult, error) {
		return PublishResult{}, nil
	})
}

func (c *Client) RPC(data []byte) *Future[RPCResult] {
	params := &protocol.RPCRequest{Data: data}
	return request(c, MethodRPC, "", params, func(reply *Reply) (RPCResult, error) {
		res, err := decodeRPCResult(reply.Result)
		if err != nil {
			return RPCResult{}, decodeError("rpc result", err)
		}
		return res, nil
	})
}

func (c *Client) History(channel string) *Future[HistoryResult] {
	params := &protocol.HistoryRequest{Channel: channel}
	return request(c, MethodHistory, channel, params, func(reply *Reply) (HistoryResult, error) {
		res, err := decodeHistoryResult(reply.Result)
		if err != nil {
			return HistoryResult{}, decodeError("history result", err)
		}
		return res, nil
	})
}

func (c *Client) Presence(channel string) *Future[PresenceResult] {
	params := &protocol.PresenceRequest{Channel: channel}
	return request(c, MethodPresence, channel, params, func(reply *Reply) (PresenceResult, error) {
		res, err := decodePresenceResult(reply.Result)
		if err != nil {
			return PresenceResult{}, decodeError("presence result", err)
		}
		return res, nil
	})
}

func (c *Client) PresenceStats(channel string) *Future[PresenceStatsResult] {
	params := &protocol.PresenceStatsRequest{Channel: channel}
	return request(c, MethodPresenceStats, channel, params, func(reply *Reply) (PresenceStatsResult, error) {
		res, err := decodePresenceStatsResult(reply.Result)
		if err != nil {
			return PresenceStatsResult{}, decodeError("presence stats result", err)
		}
		return res, nil
	})
}

// Send delivers data to the server without waiting for an answer. The future completes as soon
// as the command was handed to the transport.
func (c *Client) Send(data []byte) *Future[struct{}] {
	f := newFuture[struct{}]()
	params := &protocol.SendRequest{Data: data}
	ok := c.enqueue(func() {
		if c.state != StateConnected {
			f.complete(struct{}{}, ErrNotConnected)
			return
		}
		id := c.sendCommand(MethodSend, "", params, func(_ *Reply, err error) {
			f.complete(struct{}{}, err)
		})
		if c.pending.clear(id) {
			f.complete(struct{}{}, nil)
		}
	})
	if !ok {
		return failedFuture[struct{}](ErrClientClosed)
	}
	return f
}

// request sends a command from the event loop and completes the returned future with the
// decoded reply, the server error or the local failure.
func request[T any](c *Client, method MethodType, channel string, params any, decode func(*Reply) (T, error)) *Future[T] {
	f := newFuture[T]()
	ok := c.enqueue(func() {
		if c.state != StateConnected {
			var zero T
			f.complete(zero, ErrNotConnected)
			return
		}
		c.sendCommand(method, channel, params, func(reply *Reply, err error) {
			var v T
			switch {
			case err != nil:
			case reply.failed():
				err = reply.Error
			default:
				v, err = decode(reply)
			}
			f.complete(v, err)
		})
	})
	if !ok {
		return failedFuture[T](ErrClientClosed)
	}
	return f
}

func (c *Client) setState(state ConnState) {
	c.mu.Lock()
	prev := c.state
	c.state = state
	if state != StateConnected {
		c.connID = ""
	}
	c.mu.Unlock()

	if prev != state {
		c.logger.Printf(LogDebug, "client", "State %s -> %s", prev, state)
	}
}

func (c *Client) setConnected(connID string) {
	c.mu.Lock()
	c.connID = connID
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Printf(LogDebug, "client", "State %s -> %s", StateConnecting, StateConnected)
}

func (c *Client) connect(token string) {
	switch c.state {
	case StateDisconnected:
		c.token = token
		c.reconnect = true
		c.openTransport()
	case StateDisconnecting:
		c.token = token
		c.connectAfterClose = true
	default:
		c.logger.Printf(LogDebug, "client", "Connect ignored while %s", c.state)
	}
}

func (c *Client) disconnect() {
	c.connectAfterClose = false
	c.reconnect = false
	c.reconnectTimer.Stop()
	c.closeTransport(reasonFor(causeClean, nil))
}

func (c *Client) shutdown() {
	c.connectAfterClose = false
	c.reconnect = false
	c.reconnectTimer.Stop()
	if c.transport == nil {
		return
	}
	reason := reasonFor(causeClean, nil)
	if err := c.transport.Close(closeNormal, encodeCloseReason(reason)); err != nil {
		c.logger.Printf(LogWarning, "client", "Close failed: %v", err)
	}
	c.epoch++
	c.handleClosed(reason)
}

func (c *Client) openTransport() {
	c.reconnectTimer.Stop()
	c.epoch++
	c.setState(StateConnecting)
	c.logger.Printf(LogInfo, "client", "Connecting to %s", c.endPoint)
	c.transport = c.opts.TransportFactory(c.endPoint, &transportEvents{client: c, epoch: c.epoch})
	c.transport.Open(c.ctx)
}

// closeTransport starts closing the current transport with reason. A close already underway keeps
// its reason unless the new one forbids reconnecting.
func (c *Client) closeTransport(reason disconnectReason) {
	if c.transport == nil {
		return
	}
	c.pingTimer.Stop()
	c.refreshTimer.Stop()

	if c.state == StateDisconnecting && c.pendingClose != nil {
		if !reason.Reconnect {
			c.pendingClose = &reason
		}
		return
	}
	c.setState(StateDisconnecting)
	c.pendingClose = &reason
	c.logger.Printf(LogInfo, "client", "Disconnecting: %s (reconnect %t)", reason.Reason, reason.Reconnect)
	if err := c.transport.Close(closeNormal, encodeCloseReason(reason)); err != nil {
		c.logger.Printf(LogWarning, "client", "Close failed: %v", err)
	}
}

func (c *Client) onTransportOpen() {
	if c.state != StateConnecting {
		return
	}
	params := &protocol.ConnectRequest{Token: c.token, Name: c.opts.Name, Version: c.opts.Version}
	c.sendCommand(MethodConnect, "", params, c.onConnectReply)
}

func (c *Client) onTransportClosing(code int, reason string) {
	c.logger.Printf(LogDebug, "client", "Peer closing with %d %q", code, reason)
	if c.state == StateDisconnecting {
		return
	}
	c.pingTimer.Stop()
	c.refreshTimer.Stop()
	c.setState(StateDisconnecting)
}

func (c *Client) onTransportClose(code int, text string) {
	reason := disconnectReason{Reason: ReasonConnectionClosed, Reconnect: true}
	if c.pendingClose != nil {
		reason = *c.pendingClose
	} else if r, ok := decodeCloseReason(text); ok {
		reason = r
	}
	c.logger.Printf(LogInfo, "client", "Connection closed with %d: %s", code, reason.Reason)
	c.handleClosed(reason)
}

func (c *Client) onTransportError(err error) {
	c.logger.Printf(LogError, "client", "Transport error: %v", err)
	if h, ok := c.listener.(ErrorHandler); ok {
		h.OnError(c, ErrorEvent{Err: err})
	}
	reason := disconnectReason{Reason: err.Error(), Reconnect: true}
	if c.pendingClose != nil {
		reason = *c.pendingClose
	}
	c.handleClosed(reason)
}

// handleClosed completes a disconnect cycle once the transport is gone.
func (c *Client) handleClosed(reason disconnectReason) {
	prev := c.state
	connID := c.connID

	c.transport = nil
	c.pendingClose = nil
	c.pingTimer.Stop()
	c.refreshTimer.Stop()
	c.setState(StateDisconnected)

	if n := c.pending.failAll(ErrConnectionClosed); n > 0 {
		c.logger.Printf(LogDebug, "client", "Failed %d pending commands", n)
	}

	for _, sub := range c.subs.snapshot() {
		sub.onUnsubscribed(connID)
		if !sub.resubscribe() {
			c.subs.remove(sub)
		}
	}

	if prev != StateDisconnected {
		if h, ok := c.listener.(DisconnectHandler); ok {
			h.OnDisconnect(c, DisconnectEvent{
				ConnectionID: connID,
				Reason:       reason.Reason,
				Reconnect:    reason.Reconnect,
			})
		}
	}
	c.metrics.disconnected(reason.Reconnect)

	c.reconnect = reason.Reconnect
	if c.connectAfterClose {
		c.connectAfterClose = false
		c.reconnect = true
		c.openTransport()
		return
	}
	if c.reconnect {
		c.scheduleReconnect()
	}
}

func (c *Client) scheduleReconnect() {
	d := c.backoff.Duration()
	c.metrics.reconnectScheduled()
	c.logger.Printf(LogInfo, "client", "Reconnecting in %v (attempt %d)", d, c.backoff.Attempts())
	c.reconnectTimer.Run(d)
}

func (c *Client) onReconnectTimer() {
	c.reconnectTimer.Stop()
	if c.state != StateDisconnected || !c.reconnect {
		return
	}
	c.openTransport()
}

func (c *Client) onConnectReply(reply *Reply, err error) {
	if c.state != StateConnecting {
		return
	}
	if err != nil {
		c.logger.Printf(LogWarning, "client", "Connect failed: %v", err)
		c.closeTransport(reasonFor(causeConnectFailed, err))
		return
	}
	if reply.failed() {
		c.logger.Printf(LogWarning, "client", "Connect rejected: %v", reply.Error)
		c.closeTransport(reasonFor(causeConnectRejected, reply.Error))
		return
	}
	res, err := decodeConnectResult(reply.Result)
	if err != nil {
		c.decodeFailed(decodeError("connect result", err))
		c.closeTransport(reasonFor(causeConnectFailed, err))
		return
	}

	c.setConnected(res.Client)
	c.pendingClose = nil
	c.reconnect = true
	c.backoff.Reset()
	c.metrics.connected()
	c.logger.Printf(LogInfo, "client", "Connected as %s", res.Client)

	if h, ok := c.listener.(ConnectHandler); ok {
		h.OnConnect(c, ConnectEvent{
			ConnectionID: res.Client,
			Version:      res.Version,
			Expires:      res.Expires,
			TTL:          res.TTL,
			Data:         res.Data,
		})
	}
	if c.state != StateConnected {
		return
	}

	for _, sub := range c.subs.snapshot() {
		if !sub.resubscribe() {
			c.subs.remove(sub)
			continue
		}
		c.subscribeOnServer(sub)
	}

	if c.opts.PingInterval > 0 {
		c.pingTimer.Run(c.opts.PingInterval)
	}
	c.scheduleRefresh(res.Expires, res.TTL)
}

func (c *Client) onPingTimer() {
	if c.state != StateConnected {
		return
	}
	c.pingTimer.Run(c.opts.PingInterval)
	c.sendCommand(MethodPing, "", &protocol.PingRequest{}, func(_ *Reply, err error) {
		if err == nil || c.state != StateConnected {
			return
		}
		c.logger.Printf(LogWarning, "client", "Ping failed: %v", err)
		c.closeTransport(reasonFor(causeNoPing, err))
	})
}

func (c *Client) scheduleRefresh(expires bool, ttl uint32) {
	if !expires {
		return
	}
	c.logger.Printf(LogDebug, "client", "Token refresh in %ds", ttl)
	c.refreshTimer.Run(time.Duration(ttl) * time.Second)
}

func (c *Client) onRefreshTimer() {
	c.refreshTimer.Stop()
	if c.state != StateConnected {
		return
	}
	h, ok := c.listener.(RefreshHandler)
	if !ok {
		c.logger.Printf(LogWarning, "client", "Connection token expired but the listener cannot refresh it")
		return
	}
	var once sync.Once
	h.OnRefresh(c, RefreshEvent{ConnectionID: c.connID}, func(token string, err error) {
		once.Do(func() {
			c.enqueue(func() { c.onRefreshToken(token, err) })
		})
	})
}

func (c *Client) onRefreshToken(token string, err error) {
	if err != nil {
		c.logger.Printf(LogWarning, "client", "Token refresh failed: %v", err)
		if c.transport != nil {
			c.closeTransport(reasonFor(causeRefreshFailed, err))
			return
		}
		c.reconnect = false
		c.reconnectTimer.Stop()
		return
	}

	c.token = token
	switch {
	case c.state == StateConnected:
		c.sendRefresh()
	case c.transport != nil:
		c.closeTransport(reasonFor(causeRefreshLate, nil))
	}
}

func (c *Client) sendRefresh() {
	params := &protocol.RefreshRequest{Token: c.token}
	c.sendCommand(MethodRefresh, "", params, func(reply *Reply, err error) {
		if c.state != StateConnected {
			return
		}
		if err != nil {
			c.closeTransport(reasonFor(causeRefreshError, err))
			return
		}
		if reply.failed() {
			c.closeTransport(reasonFor(causeRefreshRejected, reply.Error))
			return
		}
		res, err := decodeRefreshResult(reply.Result)
		if err != nil {
			c.decodeFailed(decodeError("refresh result", err))
			return
		}
		c.scheduleRefresh(res.Expires, res.TTL)
	})
}

func (c *Client) subscribe(sub *Subscription) {
	if prev := c.subs.get(sub.Channel); prev != nil {
		c.unsubscribe(prev)
	}
	c.subs.set(sub)
	if c.state == StateConnected {
		c.subscribeOnServer(sub)
	}
}

func (c *Client) unsubscribe(sub *Subscription) {
	sub.setResubscribe(false)
	sub.onUnsubscribed(c.connID)
	c.subs.remove(sub)

	if c.state == StateConnected {
		params := &protocol.UnsubscribeRequest{Channel: sub.Channel}
		c.sendCommand(MethodUnsubscribe, sub.Channel, params, func(*Reply, error) {})
	}
}

func (c *Client) subscribeOnServer(sub *Subscription) {
	if sub.IsPrivate() {
		c.requestPrivateSub(sub)
		return
	}
	c.sendSubscribe(sub, "")
}

// requestPrivateSub asks the application for a subscription token bound to the current
// connection id. A token arriving after that connection is gone is discarded.
func (c *Client) requestPrivateSub(sub *Subscription) {
	h, ok := sub.listener.(PrivateSubHandler)
	if !ok {
		h, ok = c.listener.(PrivateSubHandler)
	}
	if !ok {
		c.logger.Printf(LogWarning, "subscription", "No token source for private channel %s", sub.Channel)
		c.failSubscription(sub, 0, "private channel needs a subscription token")
		return
	}

	connID := c.connID
	var once sync.Once
	h.OnPrivateSub(c, PrivateSubEvent{ConnectionID: connID, Channel: sub.Channel}, func(token string, err error) {
		once.Do(func() {
			c.enqueue(func() { c.onPrivateSubToken(sub, connID, token, err) })
		})
	})
}

func (c *Client) onPrivateSubToken(sub *Subscription, connID, token string, err error) {
	if c.state != StateConnected || c.connID != connID || !c.subs.is(sub) {
		c.logger.Printf(LogDebug, "subscription", "Discarding stale token for %s", sub.Channel)
		return
	}
	if err != nil {
		c.logger.Printf(LogWarning, "subscription", "Private subscription to %s failed: %v", sub.Channel, err)
		c.failSubscription(sub, 0, err.Error())
		return
	}
	c.sendSubscribe(sub, token)
}

func (c *Client) sendSubscribe(sub *Subscription, token string) {
	params := &protocol.SubscribeRequest{Channel: sub.Channel, Token: token}
	c.sendCommand(MethodSubscribe, sub.Channel, params, func(reply *Reply, err error) {
		if !c.subs.is(sub) || errors.Is(err, ErrConnectionClosed) {
			return
		}
		if err != nil {
			c.failSubscription(sub, 0, err.Error())
			return
		}
		if reply.failed() {
			c.failSubscription(sub, reply.Error.Code, reply.Error.Message)
			return
		}
		res, err := decodeSubscribeResult(reply.Result)
		if err != nil {
			err = decodeError("subscribe result", err)
			c.decodeFailed(err)
			c.failSubscription(sub, 0, err.Error())
			return
		}
		c.logger.Printf(LogDebug, "subscription", "Subscribed to %s", sub.Channel)
		sub.onSubscribeSuccess(c.connID, res)
	})
}

func (c *Client) failSubscription(sub *Subscription, code uint32, message string) {
	sub.onSubscribeError(c.connID, code, message)
	c.subs.remove(sub)
}

// sendCommand registers a pending request and writes the command carrying params, a protocol
// request record. A command that cannot be written fails right away through handler.
func (c *Client) sendCommand(method MethodType, channel string, params any, handler replyHandler) uint32 {
	id := c.ids.next(c.pending.has)
	cmd := &Command{ID: id, Method: method}

	req := c.pending.register(id, method, c.opts.Timeout, handler)
	req.span = startCommandSpan(c.tracer, cmd, channel)
	c.metrics.commandSent(method)

	var data []byte
	var err error
	cmd.Params, err = encodeParams(params)
	if err == nil {
		data, err = c.codec.EncodeCommand(cmd)
	}
	if err == nil {
		if c.transport == nil {
			err = ErrTransportNotOpen
		} else {
			err = c.transport.Send(data)
		}
	}
	if err != nil {
		c.logger.Printf(LogWarning, "client", "Sending %s command %d failed: %v", method, id, err)
		c.pending.fail(id, fmt.Errorf("%w: %v", ErrSendFailed, err))
		return id
	}
	c.logger.Printf(LogDebug, "client", "Sent %s command %d", method, id)
	return id
}

// onTransportMessage routes every record of a transport message. A record that fails to decode
// drops the rest of the message.
func (c *Client) onTransportMessage(data []byte) {
	dec := c.codec.NewReplyDecoder(data)
	for {
		reply, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			c.decodeFailed(decodeError("reply", err))
			return
		}

		if reply.ID != 0 {
			if !c.pending.resolve(reply.ID, reply) {
				c.logger.Printf(LogDebug, "client", "Dropping reply for unknown command %d", reply.ID)
			}
			continue
		}
		if err := c.handlePush(reply.Result); err != nil {
			c.decodeFailed(err)
			return
		}
	}
}

func (c *Client) handlePush(data []byte) error {
	push, err := decodePush(data)
	if err != nil {
		return decodeError("push", err)
	}
	c.metrics.push(push.Type)

	if push.Type == PushMessage {
		msg, err := decodeMessage(push.Data)
		if err != nil {
			return decodeError("message push", err)
		}
		if h, ok := c.listener.(MessageHandler); ok {
			h.OnMessage(c, MessageEvent{ConnectionID: c.connID, Channel: push.Channel, Data: msg})
		}
		return nil
	}

	sub := c.subs.get(push.Channel)
	if sub == nil {
		c.logger.Printf(LogDebug, "client", "Dropping %s push for unknown channel %s", push.Type, push.Channel)
		return nil
	}

	switch push.Type {
	case PushPublication:
		pub, err := decodePublication(push.Data)
		if err != nil {
			return decodeError("publication push", err)
		}
		sub.onPublication(c.connID, pub)
	case PushJoin:
		info, err := decodeJoin(push.Data)
		if err != nil {
			return decodeError("join push", err)
		}
		sub.onJoin(c.connID, info)
	case PushLeave:
		info, err := decodeLeave(push.Data)
		if err != nil {
			return decodeError("leave push", err)
		}
		sub.onLeave(c.connID, info)
	case PushUnsubscribe:
		// the server dropped the subscription for good
		sub.setResubscribe(false)
		sub.onUnsubscribed(c.connID)
		c.subs.remove(sub)
	default:
		c.logger.Printf(LogDebug, "client", "Ignoring push of type %d", push.Type)
	}
	return nil
}

func (c *Client) decodeFailed(err error) {
	c.logger.Printf(LogError, "client", "%v", err)
	c.metrics.decodeFailed()
}

// transportEvents feeds the events of one transport into the event loop. Events of a transport
// that was already replaced are dropped there.
type transportEvents struct {
	client *Client
	epoch  uint64
}

func (h *transportEvents) dispatch(fn func()) {
	c := h.client
	c.enqueue(func() {
		if c.epoch != h.epoch || c.transport == nil {
			return
		}
		fn()
	})
}

func (h *transportEvents) OnOpen() {
	h.dispatch(h.client.onTransportOpen)
}

func (h *transportEvents) OnMessage(data []byte) {
	h.dispatch(func() { h.client.onTransportMessage(data) })
}

func (h *transportEvents) OnClosing(code int, reason string) {
	h.dispatch(func() { h.client.onTransportClosing(code, reason) })
}

func (h *transportEvents) OnClose(code int, reason string) {
	h.dispatch(func() { h.client.onTransportClose(code, reason) })
}

func (h *transportEvents) OnError(err error) {
	h.dispatch(func() { h.client.onTransportError(err) })
}
