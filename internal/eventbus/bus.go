// Package eventbus implements the synchronous, type-routed publish/subscribe
// primitive every service is wired through. There is no process-global bus:
// the orchestrator constructs exactly one Bus and hands it to every service
// it owns, the way the teacher's pipeline manager held one *EventBus rather
// than a package-level singleton.
package eventbus

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Bus is a typed, in-process publish/subscribe hub. Publish invokes every
// handler registered for an event's concrete type synchronously, on the
// publishing goroutine, in registration order. A handler's panic or returned
// error is caught, logged, and republished as an ErrorEvent; later handlers
// for the same event still run (error isolation). Subscribe and Publish may
// be called concurrently from any number of goroutines.
type Bus struct {
	log *zap.Logger

	mu   sync.RWMutex
	subs map[reflect.Type][]*subscription

	nextID atomic.Uint64
}

type subscription struct {
	id       uint64
	typ      reflect.Type
	source   string
	category Category
	invoke   func(event any) error
}

// New creates an empty Bus. log may be nil, in which case a no-op logger is
// used (useful for tests that don't care about log output).
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		log:  log.Named("eventbus"),
		subs: make(map[reflect.Type][]*subscription),
	}
}

// Subscribe registers handler for every event of type T published on b.
// source and category label ErrorEvents synthesized from a panic or error
// returned by handler. The returned func removes the subscription; it is
// safe to call more than once.
func Subscribe[T any](b *Bus, source string, category Category, handler func(T) error) func() {
	var zero T
	typ := reflect.TypeOf(zero)

	sub := &subscription{
		id:       b.nextID.Add(1),
		typ:      typ,
		source:   source,
		category: category,
		invoke: func(event any) error {
			return handler(event.(T))
		},
	}

	b.mu.Lock()
	b.subs[typ] = append(b.subs[typ], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[sub.typ]
		for i, s := range list {
			if s.id == sub.id {
				b.subs[sub.typ] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// ErrDropped is a sentinel a handler returns to signal non-fatal
// backpressure (its bounded queue was full) rather than a genuine failure.
// Publish reports it to the caller via its return value instead of
// republishing it as an ErrorEvent, per the backpressure protocol: the
// downstream's queue-full condition feeds a drop counter upstream, not an
// error log.
var ErrDropped = errDropped{}

type errDropped struct{}

func (errDropped) Error() string { return "eventbus: dropped (downstream queue full)" }

// Publish delivers event to every subscriber of its concrete type T, in
// registration order, on the calling goroutine. It reports whether any
// subscriber signalled ErrDropped, so publishers that need backpressure
// feedback (CaptureService) can react without every drop becoming a logged
// ErrorEvent.
func Publish[T any](b *Bus, event T) (anyDropped bool) {
	anyDropped, _ = PublishChecked(b, event)
	return anyDropped
}

// PublishChecked behaves like Publish but additionally reports whether any
// subscriber failed (returned a non-ErrDropped error, or panicked). Callers
// that must react to their own handlers failing — the pitch state machine
// reverting a transition when a PitchStartEvent/PitchEndEvent subscriber
// throws — use this instead of Publish. The failure is still logged and
// republished as an ErrorEvent exactly as Publish does; PublishChecked only
// adds a return value on top.
func PublishChecked[T any](b *Bus, event T) (anyDropped, anyFailed bool) {
	typ := reflect.TypeOf(event)

	b.mu.RLock()
	subs := b.subs[typ]
	// Snapshot under the read lock, then release it before invoking
	// handlers: a handler is free to Subscribe/Unsubscribe or publish
	// further events without deadlocking on b.mu.
	snapshot := make([]*subscription, len(subs))
	copy(snapshot, subs)
	b.mu.RUnlock()

	for _, sub := range snapshot {
		dropped, failed := b.dispatch(sub, event)
		anyDropped = anyDropped || dropped
		anyFailed = anyFailed || failed
	}
	return anyDropped, anyFailed
}

func (b *Bus) dispatch(sub *subscription, event any) (dropped, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			b.reportFailure(sub, fmt.Errorf("panic: %v", r))
			failed = true
		}
	}()

	err := sub.invoke(event)
	switch {
	case err == nil:
		return false, false
	case errors.Is(err, ErrDropped):
		return true, false
	default:
		b.reportFailure(sub, err)
		return false, true
	}
}

func (b *Bus) reportFailure(sub *subscription, err error) {
	b.log.Error("handler failed",
		zap.String("source", sub.source),
		zap.String("event_type", sub.typ.String()),
		zap.Error(err),
	)

	// ErrorEvents raised by a handler failure are themselves published on
	// the bus so UI/logging subscribers observe them uniformly. Guard
	// against an ErrorEvent handler itself failing and recursing forever:
	// handler-of-ErrorEvent failures are logged only, never re-published.
	if sub.typ == reflect.TypeOf(ErrorEvent{}) {
		b.log.Error("error handler itself failed, not re-publishing",
			zap.String("source", sub.source), zap.Error(err))
		return
	}

	Publish(b, ErrorEvent{
		Category:    sub.category,
		Severity:    SeverityError,
		Source:      sub.source,
		Message:     err.Error(),
		TimestampNs: NowNs(),
		Cause:       err,
	})
}

// Close removes every subscription. It does not wait for in-flight Publish
// calls; callers stop publishing before calling Close.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[reflect.Type][]*subscription)
}
