package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBusClosed is returned when subscribing to a closed bus.
var ErrBusClosed = errors.New("event bus closed")

// Handler processes one event. Returned errors are logged by the bus and never
// reach the publisher.
type Handler func(ctx context.Context, e Event) error

// BusConfig configures an event bus.
type BusConfig struct {
	Logger      *zap.Logger // Defaults to a no-op logger
	HistorySize int         // Defaults to DefaultHistorySize
}

// Bus is a topic-pattern publish/subscribe bus.
// Each subscription owns an unbounded mailbox drained by its own goroutine, so
// a subscriber sees events in publication order and a slow handler never
// delays other subscribers or the publisher.
type Bus struct {
	mu      sync.RWMutex
	root    *node
	subs    map[*Subscription]struct{}
	closed  bool
	history *History
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBus creates a new event bus.
func NewBus(cfg BusConfig) *Bus {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		root:    newNode(),
		subs:    make(map[*Subscription]struct{}),
		history: NewHistory(cfg.HistorySize),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Subscribe registers a handler for every event whose type matches pattern.
func (b *Bus) Subscribe(pattern string, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("subscribe %q: nil handler", pattern)
	}
	return b.subscribe(pattern, h, nil)
}

// SubscribeChan returns a channel receiving matching events.
// Sends are non-blocking: if the channel buffer is full the event is dropped
// for this subscriber. bufSize defaults to 256 if <= 0. The channel is closed
// when the subscription ends.
func (b *Bus) SubscribeChan(pattern string, bufSize int) (<-chan Event, *Subscription, error) {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Event, bufSize)
	handler := func(_ context.Context, e Event) error {
		select {
		case ch <- e:
		default:
			b.logger.Debug("dropped event for full channel subscriber",
				zap.String("pattern", pattern),
				zap.String("event_type", e.Type))
		}
		return nil
	}

	sub, err := b.subscribe(pattern, handler, func() { close(ch) })
	if err != nil {
		return nil, nil, err
	}
	return ch, sub, nil
}

func (b *Bus) subscribe(pattern string, h Handler, onStop func()) (*Subscription, error) {
	segments, err := parsePattern(pattern)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		bus:      b,
		pattern:  pattern,
		segments: segments,
		handler:  h,
		onStop:   onStop,
		done:     make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	b.root.insert(segments, sub)
	b.subs[sub] = struct{}{}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.run(b.ctx)
	}()

	return sub, nil
}

// Unsubscribe removes a subscription. Events still queued for it are discarded.
// Safe to call multiple times.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		b.root.remove(sub.segments, sub)
		delete(b.subs, sub)
	}
	b.mu.Unlock()

	sub.stop(false)
}

// Publish fans the event out to every matching subscriber and returns
// immediately. The returned Delivery completes once every matching handler has
// run. A missing ID or timestamp is filled in.
func (b *Bus) Publish(e Event) *Delivery {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return completedDelivery()
	}

	b.history.Add(e)

	matched := b.root.match(strings.Split(e.Type, "."), nil)
	d := newDelivery(len(matched))
	for _, sub := range matched {
		sub.enqueue(envelope{event: e, delivery: d})
	}
	return d
}

// Recent returns up to n of the most recently published events, oldest first.
func (b *Bus) Recent(n int) []Event {
	return b.history.Recent(n)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close stops accepting events, lets every subscriber drain its mailbox, and
// waits for the subscriber goroutines to exit.
// Safe to call multiple times (idempotent).
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*Subscription]struct{})
	b.root = newNode()
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop(true)
	}
	b.wg.Wait()
	b.cancel()
}

// invoke runs a handler, containing errors and panics.
func (b *Bus) invoke(ctx context.Context, sub *Subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("pattern", sub.pattern),
				zap.String("event_type", e.Type),
				zap.Any("panic", r))
		}
	}()

	if err := sub.handler(ctx, e); err != nil {
		b.logger.Error("event handler failed",
			zap.String("pattern", sub.pattern),
			zap.String("event_type", e.Type),
			zap.Error(err))
	}
}

type envelope struct {
	event    Event
	delivery *Delivery
}

// Subscription is a live registration on a Bus.
type Subscription struct {
	bus      *Bus
	pattern  string
	segments []string
	handler  Handler
	onStop   func()

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []envelope
	stopped bool
	drain   bool
	done    chan struct{}
}

// Pattern returns the subscription's pattern.
func (s *Subscription) Pattern() string { return s.pattern }

// Unsubscribe removes the subscription from its bus.
func (s *Subscription) Unsubscribe() { s.bus.Unsubscribe(s) }

// Done is closed once the subscription has stopped delivering.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) enqueue(env envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		env.delivery.finish()
		return
	}
	s.queue = append(s.queue, env)
	s.cond.Signal()
}

// stop ends delivery. With drain set, queued events are still delivered first.
func (s *Subscription) stop(drain bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.drain = drain
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Subscription) next() (envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) == 0 && !s.stopped {
		s.cond.Wait()
	}

	if len(s.queue) == 0 || (s.stopped && !s.drain) {
		for _, env := range s.queue {
			env.delivery.finish()
		}
		s.queue = nil
		return envelope{}, false
	}

	env := s.queue[0]
	s.queue[0] = envelope{}
	s.queue = s.queue[1:]
	return env, true
}

func (s *Subscription) run(ctx context.Context) {
	defer func() {
		if s.onStop != nil {
			s.onStop()
		}
		close(s.done)
	}()

	for {
		env, ok := s.next()
		if !ok {
			return
		}
		s.bus.invoke(ctx, s, env.event)
		env.delivery.finish()
	}
}

// Delivery tracks the handlers targeted by one Publish call.
type Delivery struct {
	mu      sync.Mutex
	pending int
	matched int
	done    chan struct{}
}

func newDelivery(matched int) *Delivery {
	d := &Delivery{pending: matched, matched: matched, done: make(chan struct{})}
	if matched == 0 {
		close(d.done)
	}
	return d
}

func completedDelivery() *Delivery { return newDelivery(0) }

func (d *Delivery) finish() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending--
	if d.pending == 0 {
		close(d.done)
	}
}

// Matched returns the number of subscriptions the event was routed to.
func (d *Delivery) Matched() int { return d.matched }

// Done is closed once every matching handler has returned.
func (d *Delivery) Done() <-chan struct{} { return d.done }

// Wait blocks until every matching handler has returned or ctx is done.
func (d *Delivery) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
