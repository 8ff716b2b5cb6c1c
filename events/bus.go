package events

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the bus capacity used when none is given.
const DefaultQueueSize = 256

// Filter selects the events a subscription receives.
type Filter struct {
	kinds []Kind
	where func(Context) bool
}

// All matches every event.
func All() Filter { return Filter{} }

// OnKinds matches events of the listed kinds.
func OnKinds(kinds ...Kind) Filter { return Filter{kinds: kinds} }

// Where narrows the filter with a predicate run on the dispatch goroutine.
func (f Filter) Where(pred func(Context) bool) Filter {
	f.where = pred
	return f
}

func (f Filter) matchesKind(k Kind) bool {
	if len(f.kinds) == 0 {
		return true
	}
	for _, want := range f.kinds {
		if want == k {
			return true
		}
	}
	return false
}

func (f Filter) match(ctx Context) bool {
	return f.matchesKind(ctx.Kind()) && (f.where == nil || f.where(ctx))
}

// Subscription is a revocable registration on a Bus.
type Subscription struct {
	id      uint64
	bus     *Bus
	filter  Filter
	handler Handler

	mu        sync.Mutex
	cancelled bool
	ch        chan Context
}

// Cancel stops delivery. Events already queued are not delivered. Calling
// Cancel more than once is harmless.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	if s.ch != nil {
		close(s.ch)
	}
	s.mu.Unlock()
	s.bus.remove(s)
}

func (s *Subscription) deliver(ctx Context) Action {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return Keep
	}
	if s.ch != nil {
		select {
		case s.ch <- ctx:
		default:
			s.bus.drop(ctx)
		}
		s.mu.Unlock()
		return Keep
	}
	s.mu.Unlock()

	// The handler may cancel its own subscription, so it runs unlocked.
	return s.handler(ctx)
}

type delivery struct {
	ctx    Context
	attach *Attachment
}

// Bus fans events out to subscribers from a single dispatch goroutine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64

	listeners [numKinds]atomic.Int32
	queue     chan delivery
	dropped   atomic.Uint64
	onDrop    func()

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

// NewBus creates a bus with the given queue capacity and starts its
// dispatcher. Close must be called to stop it.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	b := &Bus{
		subs:    make(map[uint64]*Subscription),
		queue:   make(chan delivery, capacity),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// OnDrop registers a callback run whenever an event is dropped. It must be
// set before the bus is shared.
func (b *Bus) OnDrop(fn func()) { b.onDrop = fn }

// Subscribe registers h for events matching filter.
func (b *Bus) Subscribe(filter Filter, h Handler) *Subscription {
	return b.add(&Subscription{filter: filter, handler: h})
}

// SubscribeChan delivers matching events on a buffered channel. Events that
// do not fit are dropped. The channel is closed by Cancel.
func (b *Bus) SubscribeChan(filter Filter, buffer int) (*Subscription, <-chan Context) {
	ch := make(chan Context, buffer)
	return b.add(&Subscription{filter: filter, ch: ch}), ch
}

func (b *Bus) add(s *Subscription) *Subscription {
	s.bus = b

	b.mu.Lock()
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	b.mu.Unlock()

	for k := Kind(0); k < numKinds; k++ {
		if s.filter.matchesKind(k) {
			b.listeners[k].Add(1)
		}
	}
	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	_, ok := b.subs[s.id]
	delete(b.subs, s.id)
	b.mu.Unlock()

	if !ok {
		return
	}
	for k := Kind(0); k < numKinds; k++ {
		if s.filter.matchesKind(k) {
			b.listeners[k].Add(-1)
		}
	}
}

// HasSubscribers reports whether any subscription could match kind.
func (b *Bus) HasSubscribers(kind Kind) bool {
	if kind < 0 || kind >= numKinds {
		return false
	}
	return b.listeners[kind].Load() > 0
}

// Publish queues ctx for subscribers. It never blocks and reports whether
// the event was accepted.
func (b *Bus) Publish(ctx Context) bool {
	return b.enqueue(delivery{ctx: ctx})
}

// Deliver queues ctx for a single track-attached handler.
func (b *Bus) Deliver(a *Attachment, ctx Context) bool {
	return b.enqueue(delivery{ctx: ctx, attach: a})
}

func (b *Bus) enqueue(d delivery) bool {
	select {
	case <-b.done:
		return false
	default:
	}

	select {
	case b.queue <- d:
		return true
	default:
		b.drop(d.ctx)
		return false
	}
}

func (b *Bus) drop(ctx Context) {
	b.dropped.Add(1)
	if b.onDrop != nil {
		b.onDrop()
	}
	logrus.WithFields(logrus.Fields{
		"function": "Bus.drop",
		"kind":     ctx.Kind().String(),
	}).Debug("Event queue full, dropping event")
}

// Dropped returns how many events were discarded because a queue was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close stops the dispatcher once queued events have been delivered.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	<-b.stopped
}

func (b *Bus) dispatch() {
	defer close(b.stopped)
	for {
		select {
		case d := <-b.queue:
			b.handle(d)
		case <-b.done:
			for {
				select {
				case d := <-b.queue:
					b.handle(d)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) handle(d delivery) {
	if d.attach != nil {
		if !d.attach.Removed() || d.attach.Spec.Kind == KindTrackDelayed {
			safely(d.ctx, func() { d.attach.run(d.ctx) })
		}
		return
	}

	for _, sub := range b.snapshot() {
		safely(d.ctx, func() {
			if sub.filter.match(d.ctx) && sub.deliver(d.ctx) == Remove {
				sub.Cancel()
			}
		})
	}
}

// safely runs fn, logging instead of propagating a handler panic.
func safely(ctx Context, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Bus.dispatch",
				"kind":     ctx.Kind().String(),
				"panic":    r,
			}).Error("Event handler panicked")
		}
	}()
	fn()
}

// snapshot returns subscribers in registration order.
func (b *Bus) snapshot() []*Subscription {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	return subs
}
