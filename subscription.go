package centrifuge

import (
	"sort"
	"strings"
	"sync"
)

type SubscriptionState int

const (
	SubscriptionUnsubscribed SubscriptionState = iota
	SubscriptionSubscribed
	SubscriptionError
)

func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionUnsubscribed:
		return "unsubscribed"
	case SubscriptionSubscribed:
		return "subscribed"
	case SubscriptionError:
		return "subscribe error"
	}
	return "unknown"
}

// SubscriptionListener receives subscription events. It may implement any subset of
// PrivateSubHandler, SubscribeSuccessHandler, SubscribeErrorHandler, PublicationHandler,
// JoinHandler, LeaveHandler and UnsubscribeHandler.
type SubscriptionListener any

// Subscription is the client side of one channel subscription. Its state changes only on the
// client's event loop; State may be read from any goroutine.
type Subscription struct {
	Channel string

	client   *Client
	listener SubscriptionListener

	mu              sync.RWMutex
	state           SubscriptionState
	needResubscribe bool
}

func newSubscription(client *Client, channel string, listener SubscriptionListener) *Subscription {
	return &Subscription{
		Channel:         channel,
		client:          client,
		listener:        listener,
		state:           SubscriptionUnsubscribed,
		needResubscribe: true,
	}
}

func (s *Subscription) State() SubscriptionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

func (s *Subscription) IsSubscribed() bool {
	return s.State() == SubscriptionSubscribed
}

// IsPrivate reports whether subscribing needs a token from a PrivateSubHandler.
func (s *Subscription) IsPrivate() bool {
	prefix := s.client.opts.PrivateChannelPrefix
	return prefix != "" && strings.HasPrefix(s.Channel, prefix)
}

func (s *Subscription) Client() *Client {
	return s.client
}

// Unsubscribe removes the subscription unless it was already replaced or removed.
func (s *Subscription) Unsubscribe() error {
	c := s.client
	ok := c.enqueue(func() {
		if c.subs.is(s) {
			c.unsubscribe(s)
		}
	})
	if !ok {
		return ErrClientClosed
	}
	return nil
}

func (s *Subscription) setState(state SubscriptionState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
}

func (s *Subscription) resubscribe() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.needResubscribe
}

func (s *Subscription) setResubscribe(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.needResubscribe = v
}

func (s *Subscription) onSubscribeSuccess(connID string, res *subscribeResult) {
	s.setState(SubscriptionSubscribed)
	if h, ok := s.listener.(SubscribeSuccessHandler); ok {
		h.OnSubscribeSuccess(s, SubscribeSuccessEvent{
			ConnectionID: connID,
			Channel:      s.Channel,
			Expires:      res.Expires,
			TTL:          res.TTL,
			Recoverable:  res.Recoverable,
			Recovered:    res.Recovered,
			Epoch:        res.Epoch,
			Offset:       res.Offset,
			Publications: res.Publications,
		})
	}
}

func (s *Subscription) onSubscribeError(connID string, code uint32, message string) {
	s.setState(SubscriptionError)
	if h, ok := s.listener.(SubscribeErrorHandler); ok {
		h.OnSubscribeError(s, SubscribeErrorEvent{
			ConnectionID: connID,
			Channel:      s.Channel,
			Code:         code,
			Message:      message,
		})
	}
}

// onUnsubscribed moves the subscription to unsubscribed. The listener hears about it only if the
// subscription was active.
func (s *Subscription) onUnsubscribed(connID string) {
	s.mu.Lock()
	wasSubscribed := s.state == SubscriptionSubscribed
	resubscribe := s.needResubscribe
	s.state = SubscriptionUnsubscribed
	s.mu.Unlock()

	if !wasSubscribed {
		return
	}
	if h, ok := s.listener.(UnsubscribeHandler); ok {
		h.OnUnsubscribe(s, UnsubscribeEvent{
			ConnectionID: connID,
			Channel:      s.Channel,
			Resubscribe:  resubscribe,
		})
	}
}

func (s *Subscription) onPublication(connID string, pub *Publication) {
	if h, ok := s.listener.(PublicationHandler); ok {
		h.OnPublication(s, PublicationEvent{ConnectionID: connID, Channel: s.Channel, Publication: pub})
	}
}

func (s *Subscription) onJoin(connID string, info ClientInfo) {
	if h, ok := s.listener.(JoinHandler); ok {
		h.OnJoin(s, JoinEvent{ConnectionID: connID, Channel: s.Channel, ClientInfo: info})
	}
}

func (s *Subscription) onLeave(connID string, info ClientInfo) {
	if h, ok := s.listener.(LeaveHandler); ok {
		h.OnLeave(s, LeaveEvent{ConnectionID: connID, Channel: s.Channel, ClientInfo: info})
	}
}

// subscriptionRegistry maps channel names to subscriptions. Mutations happen on the event loop;
// lookups may come from any goroutine.
type subscriptionRegistry struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{subs: make(map[string]*Subscription)}
}

func (r *subscriptionRegistry) get(channel string) *Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.subs[channel]
}

// is reports whether sub is still the registered subscription for its channel.
func (r *subscriptionRegistry) is(sub *Subscription) bool {
	return sub != nil && r.get(sub.Channel) == sub
}

// set registers sub and returns the subscription it replaced, if any.
func (r *subscriptionRegistry) set(sub *Subscription) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.subs[sub.Channel]
	r.subs[sub.Channel] = sub
	return prev
}

// remove deletes sub if it is still the registered subscription for its channel.
func (r *subscriptionRegistry) remove(sub *Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.subs[sub.Channel] != sub {
		return false
	}
	delete(r.subs, sub.Channel)
	return true
}

// snapshot returns the registered subscriptions ordered by channel.
func (r *subscriptionRegistry) snapshot() []*Subscription {
	r.mu.RLock()
	subs := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].Channel < subs[j].Channel })
	return subs
}

func (r *subscriptionRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.subs)
}
