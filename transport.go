package centrifuge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"unicode/utf8"
)

// Transport is a single connection attempt. The client builds a fresh Transport through a
// TransportFactory for every attempt and never reuses one after it reported a terminal event.
type Transport interface {
	// Open starts connecting in the background and reports through the TransportHandler.
	Open(ctx context.Context)

	// Send writes one binary message.
	Send(data []byte) error

	// Close starts a clean close handshake. OnClose follows once it completes.
	Close(code int, reason string) error
}

// TransportHandler receives transport events. After Open exactly one terminal event, OnClose or
// OnError, is delivered.
type TransportHandler interface {
	OnOpen()
	OnMessage(data []byte)
	// OnClosing reports that the peer started a close handshake.
	OnClosing(code int, reason string)
	OnClose(code int, reason string)
	OnError(err error)
}

// TransportFactory builds the transport for one connection attempt.
type TransportFactory func(endPoint string, handler TransportHandler) Transport

// HandshakeRequest is what an Interceptor may modify before each dial.
type HandshakeRequest struct {
	URL    *url.URL
	Header http.Header
}

// Interceptor runs before every dial. Returning an error fails the attempt.
type Interceptor func(req *HandshakeRequest) error

// closePayload is the JSON body of the close frame, so the peer can learn the reason and whether
// this client intends to come back.
type closePayload struct {
	Reason    string `json:"reason"`
	Reconnect bool   `json:"reconnect"`
}

// encodeCloseReason shortens the reason on a rune boundary until the JSON fits a close frame.
func encodeCloseReason(r disconnectReason) string {
	reason := r.Reason
	for {
		data, err := json.Marshal(closePayload{Reason: reason, Reconnect: r.Reconnect})
		if err != nil {
			return truncateReason(r.Reason, maxCloseReason)
		}
		if len(data) <= maxCloseReason || reason == "" {
			return string(data)
		}
		_, size := utf8.DecodeLastRuneInString(reason)
		reason = reason[:len(reason)-size]
	}
}

// truncateReason cuts s to at most n bytes without splitting a rune.
func truncateReason(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// decodeCloseReason understands close payloads sent by the server in the same JSON form.
func decodeCloseReason(payload string) (disconnectReason, bool) {
	if payload == "" {
		return disconnectReason{}, false
	}
	var p closePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil || p.Reason == "" {
		return disconnectReason{}, false
	}
	return disconnectReason{Reason: p.Reason, Reconnect: p.Reconnect}, true
}
