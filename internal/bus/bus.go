// Package bus is the in-process message bus: topic publish/subscribe with
// wildcard patterns, point-to-point endpoints and request/response routing.
// It is single-threaded and must only be used from the runner goroutine.
package bus

import (
	"fmt"
	"slices"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/yanun0323/logs"

	"hftcore/internal/model"
	"hftcore/pkg/exception"
)

const defaultResolvedCacheSize = 4096

type Handler func(msg any)

type Subscription struct {
	ID       uint64
	Pattern  string
	Priority int
	Handler  Handler
	seq      uint64
}

// Request wraps a payload sent to an endpoint that expects to answer with
// MessageBus.Response using the correlation id.
type Request struct {
	CorrelationID model.UUID4
	Payload       any
}

type Stats struct {
	Published uint64
	Sent      uint64
	Requests  uint64
	Responses uint64
	Panics    uint64
}

type MessageBus struct {
	traderID model.TraderID
	name     string

	subs     map[uint64]*Subscription
	exact    map[string][]*Subscription
	wild     []*Subscription
	resolved *lru.Cache[string, []*Subscription]
	nextID   uint64

	endpoints   map[string]Handler
	correlation map[model.UUID4]Handler

	stats Stats
}

func NewMessageBus(traderID model.TraderID, name string) *MessageBus {
	resolved, err := lru.New[string, []*Subscription](defaultResolvedCacheSize)
	if err != nil {
		panic(err)
	}
	if name == "" {
		name = "MessageBus"
	}
	return &MessageBus{
		traderID:    traderID,
		name:        name,
		subs:        map[uint64]*Subscription{},
		exact:       map[string][]*Subscription{},
		resolved:    resolved,
		endpoints:   map[string]Handler{},
		correlation: map[model.UUID4]Handler{},
	}
}

func (b *MessageBus) TraderID() model.TraderID { return b.traderID }

func (b *MessageBus) Name() string { return b.name }

func (b *MessageBus) Stats() Stats { return b.stats }

// Subscribe registers handler for every topic matching pattern. Higher
// priority handlers run first; equal priorities run in subscription order.
func (b *MessageBus) Subscribe(pattern string, handler Handler, priority int) (uint64, error) {
	if pattern == "" {
		return 0, fmt.Errorf("%w: empty subscription pattern", exception.ErrInvalidArgument)
	}
	if handler == nil {
		return 0, fmt.Errorf("%w: nil handler for %s", exception.ErrInvalidArgument, pattern)
	}
	b.nextID++
	s := &Subscription{ID: b.nextID, Pattern: pattern, Priority: priority, Handler: handler, seq: b.nextID}
	b.subs[s.ID] = s
	if HasWildcard(pattern) {
		b.wild = append(b.wild, s)
	} else {
		b.exact[pattern] = append(b.exact[pattern], s)
	}
	b.resolved.Purge()
	return s.ID, nil
}

// Unsubscribe removes a registration. It reports whether one was removed.
func (b *MessageBus) Unsubscribe(pattern string, id uint64) bool {
	s, ok := b.subs[id]
	if !ok || s.Pattern != pattern {
		return false
	}
	delete(b.subs, id)
	drop := func(list []*Subscription) []*Subscription {
		return slices.DeleteFunc(slices.Clone(list), func(x *Subscription) bool { return x.ID == id })
	}
	if HasWildcard(pattern) {
		b.wild = drop(b.wild)
	} else if list := drop(b.exact[pattern]); len(list) == 0 {
		delete(b.exact, pattern)
	} else {
		b.exact[pattern] = list
	}
	b.resolved.Purge()
	return true
}

func (b *MessageBus) IsSubscribed(pattern string, id uint64) bool {
	s, ok := b.subs[id]
	return ok && s.Pattern == pattern
}

// HasSubscribers reports whether publishing to topic would reach anyone.
func (b *MessageBus) HasSubscribers(topic string) bool {
	return len(b.matching(topic)) > 0
}

// Subscriptions lists registrations whose pattern matches the given pattern
// filter, or all of them when the filter is empty.
func (b *MessageBus) Subscriptions(filter string) []Subscription {
	out := make([]Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if filter == "" || IsMatching(s.Pattern, filter) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Topics returns every distinct subscribed pattern.
func (b *MessageBus) Topics() []string {
	seen := map[string]struct{}{}
	for _, s := range b.subs {
		seen[s.Pattern] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (b *MessageBus) matching(topic string) []*Subscription {
	if subs, ok := b.resolved.Get(topic); ok {
		return subs
	}
	subs := slices.Clone(b.exact[topic])
	for _, s := range b.wild {
		if IsMatching(topic, s.Pattern) {
			subs = append(subs, s)
		}
	}
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].Priority != subs[j].Priority {
			return subs[i].Priority > subs[j].Priority
		}
		return subs[i].seq < subs[j].seq
	})
	b.resolved.Add(topic, subs)
	return subs
}

// Publish delivers msg synchronously to every matching handler. A handler
// that panics is logged and skipped. Handlers unsubscribed while the message
// is being delivered do not receive it.
func (b *MessageBus) Publish(topic string, msg any) {
	b.stats.Published++
	for _, s := range b.matching(topic) {
		if b.subs[s.ID] != s {
			continue
		}
		b.deliver(topic, s.Handler, msg)
	}
}

func (b *MessageBus) deliver(target string, h Handler, msg any) {
	defer func() {
		if r := recover(); r != nil {
			b.stats.Panics++
			logs.Errorf("[%s] handler for %s panicked: %v", b.name, target, r)
		}
	}()
	h(msg)
}

// Register binds a unique endpoint name to a handler.
func (b *MessageBus) Register(endpoint string, handler Handler) error {
	if endpoint == "" || handler == nil {
		return fmt.Errorf("%w: endpoint %q", exception.ErrInvalidArgument, endpoint)
	}
	if _, ok := b.endpoints[endpoint]; ok {
		return fmt.Errorf("%w: endpoint %s", exception.ErrDuplicateKey, endpoint)
	}
	b.endpoints[endpoint] = handler
	return nil
}

func (b *MessageBus) Deregister(endpoint string) bool {
	if _, ok := b.endpoints[endpoint]; !ok {
		return false
	}
	delete(b.endpoints, endpoint)
	return true
}

func (b *MessageBus) IsRegistered(endpoint string) bool {
	_, ok := b.endpoints[endpoint]
	return ok
}

func (b *MessageBus) Endpoints() []string {
	out := make([]string, 0, len(b.endpoints))
	for e := range b.endpoints {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// Send delivers msg to a single endpoint.
func (b *MessageBus) Send(endpoint string, msg any) error {
	h, ok := b.endpoints[endpoint]
	if !ok {
		return fmt.Errorf("%w: %s", exception.ErrUnknownEndpoint, endpoint)
	}
	b.stats.Sent++
	b.deliver(endpoint, h, msg)
	return nil
}

// RegisterResponseHandler installs a one-shot handler for correlationID.
func (b *MessageBus) RegisterResponseHandler(correlationID model.UUID4, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%w: nil response handler", exception.ErrInvalidArgument)
	}
	if _, ok := b.correlation[correlationID]; ok {
		return fmt.Errorf("%w: correlation id %s", exception.ErrDuplicateKey, correlationID)
	}
	b.correlation[correlationID] = handler
	return nil
}

// Request sends payload to endpoint wrapped in a Request and routes the
// first matching Response to handler.
func (b *MessageBus) Request(endpoint string, payload any, handler Handler) (model.UUID4, error) {
	id := model.NewUUID4()
	if err := b.RegisterResponseHandler(id, handler); err != nil {
		return id, err
	}
	b.stats.Requests++
	if err := b.Send(endpoint, Request{CorrelationID: id, Payload: payload}); err != nil {
		delete(b.correlation, id)
		return id, err
	}
	return id, nil
}

// Response routes payload to the handler registered for correlationID and
// drops the registration. Unknown ids are logged and ignored.
func (b *MessageBus) Response(correlationID model.UUID4, payload any) bool {
	h, ok := b.correlation[correlationID]
	if !ok {
		logs.Warnf("[%s] response for unknown correlation id %s dropped", b.name, correlationID)
		return false
	}
	delete(b.correlation, correlationID)
	b.stats.Responses++
	b.deliver(correlationID.String(), h, payload)
	return true
}

func (b *MessageBus) HasPendingResponse(correlationID model.UUID4) bool {
	_, ok := b.correlation[correlationID]
	return ok
}

// Dispose drops every registration.
func (b *MessageBus) Dispose() {
	clear(b.subs)
	clear(b.exact)
	b.wild = nil
	b.resolved.Purge()
	clear(b.endpoints)
	clear(b.correlation)
}
