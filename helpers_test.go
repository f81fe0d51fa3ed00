package centrifuge

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/centrifugal/protocol"
	"google.golang.org/protobuf/encoding/protowire"
)

const testWait = 2 * time.Second

// manualClock only moves when Advance is called.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves the clock forward and runs every timer that came due, earliest first.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	remaining := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped || t.fired:
		case !t.at.After(c.now):
			t.fired = true
			due = append(due, t)
		default:
			remaining = append(remaining, t)
		}
	}
	c.timers = remaining
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// fakeNetwork hands out fakeTransports and keeps them for inspection.
type fakeNetwork struct {
	transports chan *fakeTransport
	endPoints  chan string
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		transports: make(chan *fakeTransport, 16),
		endPoints:  make(chan string, 16),
	}
}

func (n *fakeNetwork) factory(endPoint string, handler TransportHandler) Transport {
	t := &fakeTransport{
		handler:  handler,
		commands: make(chan *Command, 256),
	}
	n.endPoints <- endPoint
	n.transports <- t
	return t
}

func (n *fakeNetwork) next(tb testing.TB) *fakeTransport {
	tb.Helper()
	select {
	case t := <-n.transports:
		return t
	case <-time.After(testWait):
		tb.Fatalf("no transport was created")
		return nil
	}
}

func (n *fakeNetwork) expectNone(tb testing.TB) {
	tb.Helper()
	select {
	case <-n.transports:
		tb.Fatalf("unexpected transport")
	default:
	}
}

type fakeTransport struct {
	handler  TransportHandler
	commands chan *Command

	mu          sync.Mutex
	opened      bool
	sendErr     error
	closed      bool
	closeCode   int
	closeReason string
	// holdClose keeps Close from reporting OnClose, as a slow peer would.
	holdClose bool
}

func (t *fakeTransport) Open(_ context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.opened = true
}

func (t *fakeTransport) Send(data []byte) error {
	t.mu.Lock()
	err := t.sendErr
	t.mu.Unlock()
	if err != nil {
		return err
	}

	pos := 0
	for {
		body, err := nextRecord(data, &pos)
		if err != nil {
			break
		}
		var pc protocol.Command
		if err := pc.Unmarshal(body); err != nil {
			return err
		}
		t.commands <- &Command{ID: pc.Id, Method: MethodType(pc.Method), Params: pc.Params}
	}
	return nil
}

func (t *fakeTransport) Close(code int, reason string) error {
	t.mu.Lock()
	t.closed = true
	t.closeCode, t.closeReason = code, reason
	hold := t.holdClose
	t.mu.Unlock()

	if !hold {
		t.handler.OnClose(code, reason)
	}
	return nil
}

func (t *fakeTransport) setSendErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sendErr = err
}

func (t *fakeTransport) setHoldClose(hold bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.holdClose = hold
}

func (t *fakeTransport) closeRequest() (bool, int, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.closed, t.closeCode, t.closeReason
}

// finishClose delivers the OnClose a held Close never reported.
func (t *fakeTransport) finishClose() {
	t.mu.Lock()
	code, reason := t.closeCode, t.closeReason
	t.mu.Unlock()

	t.handler.OnClose(code, reason)
}

func (t *fakeTransport) deliver(replies ...*Reply) {
	t.handler.OnMessage(encodeReplies(replies...))
}

func (t *fakeTransport) expect(tb testing.TB, method MethodType) *Command {
	tb.Helper()
	select {
	case cmd := <-t.commands:
		if cmd.Method != method {
			tb.Fatalf("unexpected command: got %s, want %s", cmd.Method, method)
		}
		return cmd
	case <-time.After(testWait):
		tb.Fatalf("no %s command was sent", method)
		return nil
	}
}

func (t *fakeTransport) expectNone(tb testing.TB) {
	tb.Helper()
	select {
	case cmd := <-t.commands:
		tb.Fatalf("unexpected %s command %d", cmd.Method, cmd.ID)
	default:
	}
}

type marshaler interface {
	Marshal() ([]byte, error)
}

func mustMarshal(m marshaler) []byte {
	data, err := m.Marshal()
	if err != nil {
		panic(err)
	}
	return data
}

// rawRecord is an already encoded record.
type rawRecord []byte

func (r rawRecord) Marshal() ([]byte, error) {
	return r, nil
}

// infoRecord encodes a join or leave payload: a record whose first field is the ClientInfo.
func infoRecord(user string) rawRecord {
	info := mustMarshal(&protocol.ClientInfo{User: user, Client: user + "-conn"})
	buf := protowire.AppendTag(nil, 1, protowire.BytesType)
	return protowire.AppendBytes(buf, info)
}

func encodeReplies(replies ...*Reply) []byte {
	var buf []byte
	for _, r := range replies {
		pr := &protocol.Reply{Id: r.ID, Result: r.Result}
		if r.Error != nil {
			pr.Error = &protocol.Error{Code: r.Error.Code, Message: r.Error.Message}
		}
		body := mustMarshal(pr)
		buf = protowire.AppendVarint(buf, uint64(len(body)))
		buf = append(buf, body...)
	}
	return buf
}

func resultReply(id uint32, result marshaler) *Reply {
	return &Reply{ID: id, Result: mustMarshal(result)}
}

func errorReply(id uint32, code uint32, message string) *Reply {
	return &Reply{ID: id, Error: &Error{Code: code, Message: message}}
}

func pushReply(t PushType, channel string, data marshaler) *Reply {
	p := &protocol.Push{Type: protocol.Push_PushType(t), Channel: channel}
	if data != nil {
		p.Data = mustMarshal(data)
	}
	return &Reply{Result: mustMarshal(p)}
}

// decodeParams decodes the params of cmd into req.
func decodeParams(tb testing.TB, cmd *Command, req interface{ Unmarshal([]byte) error }) {
	tb.Helper()
	if err := req.Unmarshal(cmd.Params); err != nil {
		tb.Fatalf("unexpected decode error: %v", err)
	}
}

// flush waits until the event loop processed everything queued so far, including tasks queued by
// those tasks a few levels deep.
func flush(tb testing.TB, c *Client) {
	tb.Helper()
	for i := 0; i < 5; i++ {
		done := make(chan struct{})
		if !c.enqueue(func() { close(done) }) {
			return
		}
		select {
		case <-done:
		case <-time.After(testWait):
			tb.Fatalf("event loop is stuck")
		}
	}
}

// testContext is cancelled when the test ends.
func testContext(tb testing.TB) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)
	return ctx
}

func wait[T any](tb testing.TB, f *Future[T]) (T, error) {
	tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testWait)
	defer cancel()

	v, err := f.Wait(ctx)
	if err == context.DeadlineExceeded {
		tb.Fatalf("future did not complete")
	}
	return v, err
}

// recorder implements every listener capability and records what it saw.
type recorder struct {
	mu     sync.Mutex
	events []string

	privateSubs chan pendingToken
	refreshes   chan pendingToken
}

type pendingToken struct {
	event any
	cb    TokenCallback
}

func newRecorder() *recorder {
	return &recorder{
		privateSubs: make(chan pendingToken, 16),
		refreshes:   make(chan pendingToken, 16),
	}
}

func (r *recorder) add(format string, v ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, fmt.Sprintf(format, v...))
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.events...)
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.seen() {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recorder) has(tb testing.TB, event string) {
	tb.Helper()
	if r.count(event) == 0 {
		tb.Fatalf("missing event %q in %q", event, r.seen())
	}
}

func (r *recorder) hasNot(tb testing.TB, event string) {
	tb.Helper()
	if r.count(event) != 0 {
		tb.Fatalf("unexpected event %q in %q", event, r.seen())
	}
}

func (r *recorder) OnConnect(_ *Client, e ConnectEvent) {
	r.add("connect %s", e.ConnectionID)
}

func (r *recorder) OnMessage(_ *Client, e MessageEvent) {
	r.add("message %s", e.Data)
}

func (r *recorder) OnRefresh(_ *Client, e RefreshEvent, cb TokenCallback) {
	r.add("refresh %s", e.ConnectionID)
	r.refreshes <- pendingToken{event: e, cb: cb}
}

func (r *recorder) OnDisconnect(_ *Client, e DisconnectEvent) {
	r.add("disconnect %s %t", e.Reason, e.Reconnect)
}

func (r *recorder) OnError(_ *Client, e ErrorEvent) {
	r.add("error %v", e.Err)
}

func (r *recorder) OnPrivateSub(_ *Client, e PrivateSubEvent, cb TokenCallback) {
	r.add("private %s %s", e.Channel, e.ConnectionID)
	r.privateSubs <- pendingToken{event: e, cb: cb}
}

func (r *recorder) OnSubscribeSuccess(s *Subscription, e SubscribeSuccessEvent) {
	r.add("subscribed %s", s.Channel)
}

func (r *recorder) OnSubscribeError(s *Subscription, e SubscribeErrorEvent) {
	r.add("subscribe error %s %d %s", s.Channel, e.Code, e.Message)
}

func (r *recorder) OnPublication(s *Subscription, e PublicationEvent) {
	r.add("publication %s %s", s.Channel, e.Publication.Data)
}

func (r *recorder) OnJoin(s *Subscription, e JoinEvent) {
	r.add("join %s %s", s.Channel, e.ClientInfo.User)
}

func (r *recorder) OnLeave(s *Subscription, e LeaveEvent) {
	r.add("leave %s %s", s.Channel, e.ClientInfo.User)
}

func (r *recorder) OnUnsubscribe(s *Subscription, e UnsubscribeEvent) {
	r.add("unsubscribe %s %t", s.Channel, e.Resubscribe)
}

func nextToken(tb testing.TB, ch chan pendingToken) pendingToken {
	tb.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(testWait):
		tb.Fatalf("no token was requested")
		return pendingToken{}
	}
}

type testClient struct {
	*Client
	net   *fakeNetwork
	clock *manualClock
	rec   *recorder
}

func newTestClient(tb testing.TB, configure func(*Options)) *testClient {
	tb.Helper()
	net := newFakeNetwork()
	clk := newManualClock()
	rec := newRecorder()

	opts := DefaultOptions()
	opts.PingInterval = 0
	opts.TransportFactory = net.factory
	opts.clock = clk
	if configure != nil {
		configure(&opts)
	}

	c := NewClient("ws://example.test/connection", opts, rec)
	tb.Cleanup(c.Close)
	return &testClient{Client: c, net: net, clock: clk, rec: rec}
}

// connect runs a full connect cycle and returns the live transport.
func (tc *testClient) connect(tb testing.TB, result *protocol.ConnectResult) *fakeTransport {
	tb.Helper()
	if err := tc.Connect("token"); err != nil {
		tb.Fatalf("unexpected connect error: %v", err)
	}
	return tc.accept(tb, result)
}

// accept completes the connect cycle of the next transport the client creates.
func (tc *testClient) accept(tb testing.TB, result *protocol.ConnectResult) *fakeTransport {
	tb.Helper()
	tr := tc.net.next(tb)
	tr.handler.OnOpen()
	cmd := tr.expect(tb, MethodConnect)
	tr.deliver(resultReply(cmd.ID, result))
	flush(tb, tc.Client)
	if got := tc.State(); got != StateConnected {
		tb.Fatalf("unexpected state: %v", got)
	}
	return tr
}

// drop closes tr from the peer side and waits for the first reconnect attempt.
func (tc *testClient) drop(tb testing.TB, tr *fakeTransport) {
	tb.Helper()
	tr.handler.OnClose(1006, "")
	flush(tb, tc.Client)
	tc.clock.Advance(defaultMinReconnectDelay)
	flush(tb, tc.Client)
}

func (tc *testClient) subscribe(tb testing.TB, channel string) *Subscription {
	tb.Helper()
	sub, err := tc.Subscribe(channel, tc.rec)
	if err != nil {
		tb.Fatalf("unexpected subscribe error: %v", err)
	}
	flush(tb, tc.Client)
	return sub
}

func decodeSubscribe(tb testing.TB, cmd *Command) *protocol.SubscribeRequest {
	tb.Helper()
	req := &protocol.SubscribeRequest{}
	decodeParams(tb, cmd, req)
	return req
}
