// Package signalbridge re-emits EventBus events over WebSocket for UIs that
// need them marshalled onto their own event loop. It is the Go equivalent
// of the "Qt-agnostic signal bridge": a thin adaptor that subscribes to the
// bus from any thread and fans events out to connected clients without ever
// blocking the publishing goroutine.
package signalbridge

import (
	"go.uber.org/zap"

	"pitchtracker/internal/eventbus"
)

// queueDepth bounds how many pending broadcasts the drain goroutine may
// lag behind the bus by. Overflow drops the oldest queued message rather
// than blocking the handler, so a slow or wedged WebSocket write can never
// stall capture, detection, or recording.
const queueDepth = 256

type queuedMessage struct {
	topic string
	msg   Message
}

// Bridge owns the hub of connected clients and the bus subscriptions that
// feed it.
type Bridge struct {
	log *zap.Logger
	hub *hub

	queue   chan queuedMessage
	dropped int64

	unsubs []func()
	done   chan struct{}
}

// New builds a Bridge. Call Start to subscribe it to a bus.
func New(log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("signalbridge")
	return &Bridge{
		log:   log,
		hub:   newHub(log),
		queue: make(chan queuedMessage, queueDepth),
		done:  make(chan struct{}),
	}
}

// Start subscribes the bridge to bus and begins draining its internal
// queue to connected clients. Safe to call once per Bridge.
func (b *Bridge) Start(bus *eventbus.Bus) {
	b.unsubs = append(b.unsubs,
		eventbus.Subscribe(bus, "signalbridge", eventbus.CategoryTracking, func(ev eventbus.PitchStartEvent) error {
			b.enqueue("pitch_start", pitchStartMessage(ev))
			return nil
		}),
		eventbus.Subscribe(bus, "signalbridge", eventbus.CategoryTracking, func(ev eventbus.PitchEndEvent) error {
			b.enqueue("pitch_end", pitchEndMessage(ev))
			return nil
		}),
		eventbus.Subscribe(bus, "signalbridge", eventbus.CategoryDetection, func(ev eventbus.ObservationDetectedEvent) error {
			b.enqueue("observation", observationMessage(ev))
			return nil
		}),
		eventbus.Subscribe(bus, "signalbridge", eventbus.CategoryCamera, func(ev eventbus.FrameDropEvent) error {
			b.enqueue("frame_drop", frameDropMessage(ev))
			return nil
		}),
		eventbus.Subscribe(bus, "signalbridge", eventbus.CategoryTracking, func(ev eventbus.ErrorEvent) error {
			b.enqueue("error", errorMessage(ev))
			return nil
		}),
	)

	go b.drain()
}

// Stop unsubscribes from the bus and stops the drain goroutine. It does not
// close client connections; the handler's read pumps notice on their own.
func (b *Bridge) Stop() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil
	close(b.done)
}

// ClientCount returns the number of currently connected WebSocket clients.
func (b *Bridge) ClientCount() int {
	return b.hub.clientCount()
}

// enqueue is called on the publishing goroutine — it must never block. A
// full queue means clients are falling behind; the oldest pending message
// is dropped in favor of the new one rather than stalling the bus thread.
func (b *Bridge) enqueue(topic string, msg Message) {
	select {
	case b.queue <- queuedMessage{topic: topic, msg: msg}:
	default:
		select {
		case <-b.queue:
		default:
		}
		select {
		case b.queue <- queuedMessage{topic: topic, msg: msg}:
		default:
			b.dropped++
		}
	}
}

func (b *Bridge) drain() {
	for {
		select {
		case qm := <-b.queue:
			b.hub.broadcast(qm.topic, qm.msg)
		case <-b.done:
			return
		}
	}
}
