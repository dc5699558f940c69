package conn

import (
	"sync"

	"github.com/mickamy/govalkey/resp3"
)

// pushKind classifies a push-frame's first element, the way Valkey/Redis
// tags subscription control messages and payloads on the wire.
type pushKind string

const (
	pushMessage      pushKind = "message"
	pushPMessage     pushKind = "pmessage"
	pushSMessage     pushKind = "smessage"
	pushSubscribe    pushKind = "subscribe"
	pushPSubscribe   pushKind = "psubscribe"
	pushSSubscribe   pushKind = "ssubscribe"
	pushUnsubscribe  pushKind = "unsubscribe"
	pushPUnsubscribe pushKind = "punsubscribe"
	pushSUnsubscribe pushKind = "sunsubscribe"
)

// Message is one delivered subscription payload: a channel (or pattern,
// for a PSUBSCRIBE stream) paired with its published value.
type Message struct {
	Channel string
	Pattern string
	Payload resp3.Value
}

// Subscription is a handle on one or more channels/patterns subscribed
// together. Messages never drops payloads: if the consumer stalls, the
// connection's inbound read pauses.
type Subscription struct {
	conn     *Connection
	keys     []string
	pattern  bool
	shard    bool
	messages chan Message
	closeErr error
}

// Messages returns the channel this subscription's payloads arrive on. It
// is closed once Unsubscribe completes or the connection closes.
func (s *Subscription) Messages() <-chan Message { return s.messages }

// Err reports why Messages was closed, if the connection closed out from
// under the subscription rather than an explicit Unsubscribe.
func (s *Subscription) Err() error { return s.closeErr }

// subscriptionRegistry demultiplexes inbound push tokens by channel/pattern
// name and refcounts logical subscribers so that UNSUBSCRIBE is only sent
// to the server once the last caller interested in a given channel exits.
type subscriptionRegistry struct {
	mu         sync.Mutex
	byChannel  map[string][]*Subscription
	byPattern  map[string][]*Subscription
	byShardKey map[string][]*Subscription
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{
		byChannel:  make(map[string][]*Subscription),
		byPattern:  make(map[string][]*Subscription),
		byShardKey: make(map[string][]*Subscription),
	}
}

func (r *subscriptionRegistry) add(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.table(sub)
	for _, key := range sub.keys {
		table[key] = append(table[key], sub)
	}
}

// remove drops sub from every key it was registered under and returns the
// keys whose refcount dropped to zero, i.e. those that now need an actual
// UNSUBSCRIBE/PUNSUBSCRIBE frame.
func (r *subscriptionRegistry) remove(sub *Subscription) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.table(sub)
	var drained []string
	for _, key := range sub.keys {
		subs := table[key]
		for i, s := range subs {
			if s == sub {
				subs = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(subs) == 0 {
			delete(table, key)
			drained = append(drained, key)
		} else {
			table[key] = subs
		}
	}
	return drained
}

func (r *subscriptionRegistry) table(sub *Subscription) map[string][]*Subscription {
	return r.tableFor(sub.pattern, sub.shard)
}

func (r *subscriptionRegistry) tableFor(pattern, shard bool) map[string][]*Subscription {
	switch {
	case pattern:
		return r.byPattern
	case shard:
		return r.byShardKey
	default:
		return r.byChannel
	}
}

// dispatch routes one push-kind Value to every matching Subscription. Kind
// classifies the payload shape; subscribe/unsubscribe acks are consumed
// silently since the caller already knows what it subscribed to.
func (r *subscriptionRegistry) dispatch(v resp3.Value) {
	it, err := v.Elements()
	if err != nil {
		return
	}
	kindVal, ok, err := it.Next()
	if err != nil || !ok {
		return
	}
	kindStr, err := kindVal.AsString()
	if err != nil {
		return
	}

	switch pushKind(kindStr) {
	case pushMessage:
		r.dispatchPayload(it, r.byChannel, false)
	case pushSMessage:
		r.dispatchPayload(it, r.byShardKey, false)
	case pushPMessage:
		r.dispatchPatternPayload(it)
	case pushSubscribe, pushPSubscribe, pushSSubscribe, pushUnsubscribe, pushPUnsubscribe, pushSUnsubscribe:
		// Acknowledgement frames carry no payload callers need; the
		// handler's forget-request mechanism already tracks them.
	}
}

func (r *subscriptionRegistry) dispatchPayload(it *resp3.ArrayIter, table map[string][]*Subscription, pattern bool) {
	chanVal, ok, err := it.Next()
	if err != nil || !ok {
		return
	}
	channel, err := chanVal.AsString()
	if err != nil {
		return
	}
	payload, ok, err := it.Next()
	if err != nil || !ok {
		return
	}

	r.mu.Lock()
	subs := append([]*Subscription(nil), table[channel]...)
	r.mu.Unlock()

	for _, s := range subs {
		s.messages <- Message{Channel: channel, Payload: payload}
	}
}

func (r *subscriptionRegistry) dispatchPatternPayload(it *resp3.ArrayIter) {
	patVal, ok, err := it.Next()
	if err != nil || !ok {
		return
	}
	pattern, err := patVal.AsString()
	if err != nil {
		return
	}
	chanVal, ok, err := it.Next()
	if err != nil || !ok {
		return
	}
	channel, err := chanVal.AsString()
	if err != nil {
		return
	}
	payload, ok, err := it.Next()
	if err != nil || !ok {
		return
	}

	r.mu.Lock()
	subs := append([]*Subscription(nil), r.byPattern[pattern]...)
	r.mu.Unlock()

	for _, s := range subs {
		s.messages <- Message{Channel: channel, Pattern: pattern, Payload: payload}
	}
}

// closeAll closes every tracked subscription's Messages channel with err,
// used when the connection itself closes out from under them.
func (r *subscriptionRegistry) closeAll(err error) {
	r.mu.Lock()
	seen := make(map[*Subscription]bool)
	var all []*Subscription
	for _, table := range []map[string][]*Subscription{r.byChannel, r.byPattern, r.byShardKey} {
		for _, subs := range table {
			for _, s := range subs {
				if !seen[s] {
					seen[s] = true
					all = append(all, s)
				}
			}
		}
	}
	r.byChannel = make(map[string][]*Subscription)
	r.byPattern = make(map[string][]*Subscription)
	r.byShardKey = make(map[string][]*Subscription)
	r.mu.Unlock()

	for _, s := range all {
		s.closeErr = err
		close(s.messages)
	}
}
