package centrifuge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// maxCloseReason is the room left for the reason in a close frame (125 byte control payload
// minus the 2 byte status code).
const maxCloseReason = 123

// Websocket is the default Transport, built on gorilla/websocket.
type Websocket struct {
	dialer       *websocket.Dialer
	handler      TransportHandler
	endPoint     string
	header       http.Header
	interceptor  Interceptor
	writeTimeout time.Duration
	logger       Logger

	mu          sync.RWMutex
	conn        *websocket.Conn
	cancelDial  context.CancelFunc
	closeCode   int
	closeReason string
	closing     bool

	send     chan []byte
	done     chan struct{}
	terminal sync.Once
}

// WebsocketFactory returns a TransportFactory dialing with dialer, sending header on the
// handshake and bounding every write by writeTimeout.
func WebsocketFactory(dialer *websocket.Dialer, header http.Header, interceptor Interceptor, writeTimeout time.Duration, logger Logger) TransportFactory {
	return func(endPoint string, handler TransportHandler) Transport {
		return NewWebsocket(dialer, endPoint, header, interceptor, writeTimeout, logger, handler)
	}
}

func NewWebsocket(dialer *websocket.Dialer, endPoint string, header http.Header, interceptor Interceptor, writeTimeout time.Duration, logger Logger, handler TransportHandler) *Websocket {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if logger == nil {
		logger = NewNoopLogger()
	}
	return &Websocket{
		dialer:       dialer,
		handler:      handler,
		endPoint:     endPoint,
		header:       header,
		interceptor:  interceptor,
		writeTimeout: writeTimeout,
		logger:       logger,
		send:         make(chan []byte, sendQueueSize),
		done:         make(chan struct{}),
	}
}

func (w *Websocket) Open(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancelDial = cancel
	w.mu.Unlock()

	go w.dial(ctx)
}

func (w *Websocket) dial(ctx context.Context) {
	defer w.cancelDialCtx()

	endPoint, err := url.Parse(w.endPoint)
	if err != nil {
		w.fail(fmt.Errorf("parse endpoint: %w", err))
		return
	}
	req := &HandshakeRequest{URL: endPoint, Header: w.header.Clone()}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if w.interceptor != nil {
		if err := w.interceptor(req); err != nil {
			w.fail(fmt.Errorf("interceptor: %w", err))
			return
		}
	}

	conn, _, err := w.dialer.DialContext(ctx, req.URL.String(), req.Header)
	if err != nil {
		if code, reason, ok := w.closeRequested(); ok {
			w.finish(func() { w.handler.OnClose(code, reason) })
			return
		}
		w.fail(fmt.Errorf("dial %s: %w", req.URL.Redacted(), err))
		return
	}

	w.mu.Lock()
	if w.closing {
		code, reason := w.closeCode, w.closeReason
		w.mu.Unlock()
		_ = conn.Close()
		w.finish(func() { w.handler.OnClose(code, reason) })
		return
	}
	w.conn = conn
	w.mu.Unlock()

	conn.SetCloseHandler(func(code int, text string) error {
		w.handler.OnClosing(code, text)
		msg := websocket.FormatCloseMessage(code, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, w.controlDeadline())
		return nil
	})

	w.logger.Printf(LogInfo, "websocket", "Connected to %v", req.URL.Redacted())
	w.handler.OnOpen()

	go w.writer(conn)
	go w.reader(conn)
}

func (w *Websocket) Send(data []byte) error {
	if !w.connIsReady() {
		return ErrTransportNotOpen
	}
	select {
	case <-w.done:
		return ErrTransportNotOpen
	default:
	}

	select {
	case w.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// controlDeadline bounds a control frame write by writeTimeout. The zero time means no deadline.
func (w *Websocket) controlDeadline() time.Time {
	if w.writeTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(w.writeTimeout)
}

func (w *Websocket) Close(code int, reason string) error {
	reason = truncateReason(reason, maxCloseReason)

	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		return nil
	}
	w.closing = true
	w.closeCode, w.closeReason = code, reason
	conn := w.conn
	w.mu.Unlock()

	if conn == nil {
		// still dialing
		w.cancelDialCtx()
		return nil
	}

	// attempt to gracefully close the connection by sending a close websocket message
	msg := websocket.FormatCloseMessage(code, reason)
	err := conn.WriteControl(websocket.CloseMessage, msg, w.controlDeadline())
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("write close message: %w", err)
	}

	// the reader reports OnClose once the peer answers; stop waiting after the grace period
	time.AfterFunc(closeGracePeriod, func() {
		_ = conn.Close()
	})
	return nil
}

func (w *Websocket) cancelDialCtx() {
	w.mu.Lock()
	cancel := w.cancelDial
	w.cancelDial = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (w *Websocket) connIsReady() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.conn != nil && !w.closing
}

func (w *Websocket) closeRequested() (int, string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.closeCode, w.closeReason, w.closing
}

func (w *Websocket) writer(conn *websocket.Conn) {
	for {
		select {
		case <-w.done:
			return
		case data := <-w.send:
			if w.writeTimeout > 0 {
				_ = conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				w.logger.Printf(LogWarning, "websocket", "write failed: %v", err)
				// unblocks the reader, which reports the failure
				_ = conn.Close()
				return
			}
		}
	}
}

func (w *Websocket) reader(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case errors.As(err, &closeErr):
				w.finish(func() { w.handler.OnClose(closeErr.Code, closeErr.Text) })
			default:
				if code, reason, ok := w.closeRequested(); ok {
					w.finish(func() { w.handler.OnClose(code, reason) })
				} else {
					w.fail(fmt.Errorf("read: %w", err))
				}
			}
			return
		}
		w.handler.OnMessage(data)
	}
}

func (w *Websocket) fail(err error) {
	w.finish(func() { w.handler.OnError(err) })
}

// finish tears the connection down and delivers the single terminal event.
func (w *Websocket) finish(report func()) {
	w.terminal.Do(func() {
		close(w.done)

		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}

		report()
	})
}
