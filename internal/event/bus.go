package event

import (
	"context"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"fswalk/internal/buffer"
	"fswalk/internal/logging"
)

const (
	defaultSubscriberBufferSize = 128
	defaultDropWarningThreshold = 0.01
	defaultDropWarningInterval  = 30 * time.Second
)

// BusOptions configures a Bus. Zero values select the defaults.
type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	// BlockOnFull makes Publish wait for a full subscriber, up to
	// WriteTimeout, instead of dropping. A subscriber that times out is
	// removed.
	BlockOnFull          bool
	WriteTimeout         time.Duration
	MaxSubscribers       int
	DropWarningThreshold float64
	DropWarningInterval  time.Duration
	HistorySize          int
	Logger               *logging.Logger
}

// Bus fans published values out to subscriber channels. Slow subscribers
// lose events unless BlockOnFull is set.
type Bus[T any] struct {
	options BusOptions
	logger  *logging.Logger

	mu          sync.Mutex
	subscribers map[uint64]*subscriber[T]
	nextID      uint64
	closed      bool
	history     *buffer.Ring[T]

	published   atomic.Int64
	dropped     atomic.Int64
	lastWarning atomic.Int64
}

func NewBus[T any](ctx context.Context, opts BusOptions) *Bus[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Name == "" {
		opts.Name = "event_bus"
	}
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	if opts.DropWarningThreshold <= 0 {
		opts.DropWarningThreshold = defaultDropWarningThreshold
	}
	if opts.DropWarningInterval <= 0 {
		opts.DropWarningInterval = defaultDropWarningInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	bus := &Bus[T]{
		options:     opts,
		logger:      logger.With(map[string]string{"fswalk.category": "event", "bus": opts.Name}),
		subscribers: make(map[uint64]*subscriber[T]),
	}
	if opts.HistorySize > 0 {
		bus.history = buffer.NewRing[T](opts.HistorySize)
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			bus.Close()
		}()
	}
	return bus
}

func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeFiltered(nil)
}

// SubscribeFiltered delivers values for which filter returns true; a nil
// filter accepts everything. The returned channel is already closed when the
// bus is closed or full.
func (b *Bus[T]) SubscribeFiltered(filter func(T) bool) (<-chan T, func()) {
	_, ch, cancel := b.subscribe(filter, false)
	return ch, cancel
}

// SubscribeWithHistory subscribes and returns the stored history that passes
// filter, both taken at the same instant: every value is either in the
// history or delivered on the channel, never both.
func (b *Bus[T]) SubscribeWithHistory(filter func(T) bool) ([]T, <-chan T, func()) {
	return b.subscribe(filter, true)
}

func (b *Bus[T]) subscribe(filter func(T) bool, withHistory bool) ([]T, <-chan T, func()) {
	if b == nil {
		return nil, closedChannel[T](), func() {}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || (b.options.MaxSubscribers > 0 && len(b.subscribers) >= b.options.MaxSubscribers) {
		return nil, closedChannel[T](), func() {}
	}
	var history []T
	if withHistory {
		for _, value := range b.history.List() {
			if filter == nil || filter(value) {
				history = append(history, value)
			}
		}
	}
	b.nextID++
	sub := newSubscriber(b.nextID, b.options.SubscriberBufferSize, filter)
	b.subscribers[sub.id] = sub
	return history, sub.ch, func() { b.remove(sub) }
}

// SubscribeTypes delivers only values implementing Event whose Type is one of
// eventTypes.
func (b *Bus[T]) SubscribeTypes(eventTypes ...string) (<-chan T, func()) {
	wanted := make(map[string]bool, len(eventTypes))
	for _, eventType := range eventTypes {
		if eventType != "" {
			wanted[eventType] = true
		}
	}
	if len(wanted) == 0 {
		return closedChannel[T](), func() {}
	}
	return b.SubscribeFiltered(func(value T) bool {
		typed, ok := any(value).(Event)
		return ok && wanted[typed.Type()]
	})
}

// Publish records value in the history and offers it to every subscriber.
// Nil values are ignored.
func (b *Bus[T]) Publish(value T) {
	if b == nil || isNil(value) {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.history != nil {
		b.history.Add(value)
	}
	targets := make([]*subscriber[T], 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	b.published.Add(1)
	for _, sub := range targets {
		if sub.filter != nil && !sub.filter(value) {
			continue
		}
		b.deliver(sub, value)
	}
}

func (b *Bus[T]) deliver(sub *subscriber[T], value T) {
	if sub.offer(value, b.options.BlockOnFull, b.options.WriteTimeout) {
		return
	}
	if sub.cancelled() {
		return
	}
	b.dropped.Add(1)
	if b.options.BlockOnFull {
		b.remove(sub)
		b.logger.Warn("subscriber timed out", map[string]string{
			"timeout": b.options.WriteTimeout.String(),
		})
	}
	b.warnOnDropRate()
}

func (b *Bus[T]) remove(sub *subscriber[T]) {
	b.mu.Lock()
	if b.subscribers[sub.id] == sub {
		delete(b.subscribers, sub.id)
	}
	b.mu.Unlock()
	sub.close()
}

// Close closes every subscriber channel. Later subscriptions receive a closed
// channel and Publish becomes a no-op.
func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subscribers := b.subscribers
	b.subscribers = make(map[uint64]*subscriber[T])
	b.mu.Unlock()

	for _, sub := range subscribers {
		sub.close()
	}
}

// ReplayLast sends the count most recent values to ch, oldest first. A count
// of zero or less replays the whole history.
func (b *Bus[T]) ReplayLast(count int, ch chan<- T) {
	if ch == nil {
		return
	}
	for _, value := range b.last(count) {
		ch <- value
	}
}

// History returns a copy of the stored history, oldest first.
func (b *Bus[T]) History() []T {
	return b.last(0)
}

func (b *Bus[T]) last(count int) []T {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.Last(count)
}

// Stats reports how many values were published and dropped.
func (b *Bus[T]) Stats() (published, dropped int64) {
	if b == nil {
		return 0, 0
	}
	return b.published.Load(), b.dropped.Load()
}

func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// warnOnDropRate logs at most once per DropWarningInterval while the share of
// dropped values stays above DropWarningThreshold.
func (b *Bus[T]) warnOnDropRate() {
	published := b.published.Load()
	dropped := b.dropped.Load()
	if published == 0 || float64(dropped)/float64(published) < b.options.DropWarningThreshold {
		return
	}
	now := time.Now().UnixNano()
	previous := b.lastWarning.Load()
	if previous > 0 && time.Duration(now-previous) < b.options.DropWarningInterval {
		return
	}
	if !b.lastWarning.CompareAndSwap(previous, now) {
		return
	}
	b.logger.Warn("event drop rate high", map[string]string{
		"dropped":   strconv.FormatInt(dropped, 10),
		"published": strconv.FormatInt(published, 10),
	})
}

// subscriber owns one output channel. Senders hold sending for reading so
// close can wait for them before closing ch.
type subscriber[T any] struct {
	id      uint64
	ch      chan T
	filter  func(T) bool
	quit    chan struct{}
	once    sync.Once
	sending sync.RWMutex
}

func newSubscriber[T any](id uint64, size int, filter func(T) bool) *subscriber[T] {
	return &subscriber[T]{
		id:     id,
		ch:     make(chan T, size),
		filter: filter,
		quit:   make(chan struct{}),
	}
}

func (s *subscriber[T]) offer(value T, block bool, timeout time.Duration) bool {
	s.sending.RLock()
	defer s.sending.RUnlock()
	if s.cancelled() {
		return false
	}
	if !block {
		select {
		case s.ch <- value:
			return true
		default:
			return false
		}
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case s.ch <- value:
		return true
	case <-s.quit:
		return false
	case <-expired:
		return false
	}
}

func (s *subscriber[T]) cancelled() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *subscriber[T]) close() {
	s.once.Do(func() {
		close(s.quit)
		s.sending.Lock()
		close(s.ch)
		s.sending.Unlock()
	})
}

func closedChannel[T any]() chan T {
	ch := make(chan T)
	close(ch)
	return ch
}

func isNil[T any](value T) bool {
	v := reflect.ValueOf(value)
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Pointer, reflect.Interface, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}
