package eventbus

import (
	"errors"
	"sync"
	"testing"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	bus := New(nil)
	var order []int

	for i := 0; i < 3; i++ {
		i := i
		Subscribe(bus, "test", CategoryShutdown, func(ev PitchStartEvent) error {
			order = append(order, i)
			return nil
		})
	}

	Publish(bus, PitchStartEvent{PitchIndex: 1})

	if len(order) != 3 {
		t.Fatalf("expected 3 invocations, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Errorf("handler %d ran out of order: got sequence %v", i, order)
			break
		}
	}
}

func TestPublishIsolatesHandlerPanic(t *testing.T) {
	bus := New(nil)
	ran := false

	Subscribe(bus, "panicky", CategoryTracking, func(ev PitchStartEvent) error {
		panic("boom")
	})
	Subscribe(bus, "survivor", CategoryTracking, func(ev PitchStartEvent) error {
		ran = true
		return nil
	})

	var gotErr ErrorEvent
	Subscribe(bus, "observer", CategoryShutdown, func(ev ErrorEvent) error {
		gotErr = ev
		return nil
	})

	Publish(bus, PitchStartEvent{PitchIndex: 0})

	if !ran {
		t.Fatal("later handler did not run after an earlier handler panicked")
	}
	if gotErr.Category != CategoryTracking {
		t.Errorf("expected ErrorEvent category TRACKING, got %q", gotErr.Category)
	}
}

func TestPublishForwardsHandlerError(t *testing.T) {
	bus := New(nil)
	Subscribe(bus, "failing", CategoryDetection, func(ev FrameDropEvent) error {
		return errors.New("detector unavailable")
	})

	var gotErr ErrorEvent
	Subscribe(bus, "observer", CategoryShutdown, func(ev ErrorEvent) error {
		gotErr = ev
		return nil
	})

	Publish(bus, FrameDropEvent{CameraID: "left"})

	if gotErr.Category != CategoryDetection {
		t.Errorf("expected category DETECTION, got %q", gotErr.Category)
	}
	if gotErr.Message == "" {
		t.Error("expected non-empty error message")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(nil)
	count := 0
	unsub := Subscribe(bus, "test", CategoryShutdown, func(ev PitchStartEvent) error {
		count++
		return nil
	})

	Publish(bus, PitchStartEvent{})
	unsub()
	Publish(bus, PitchStartEvent{})

	if count != 1 {
		t.Errorf("expected 1 delivery before unsubscribe, got %d", count)
	}
}

func TestConcurrentSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := Subscribe(bus, "concurrent", CategoryShutdown, func(ev FrameDropEvent) error {
				return nil
			})
			Publish(bus, FrameDropEvent{})
			unsub()
		}()
	}
	wg.Wait()
}

func TestPublishReportsDropWithoutErrorEvent(t *testing.T) {
	bus := New(nil)
	Subscribe(bus, "queue", CategoryDetection, func(ev FrameCapturedEvent) error {
		return ErrDropped
	})

	errEventSeen := false
	Subscribe(bus, "observer", CategoryShutdown, func(ev ErrorEvent) error {
		errEventSeen = true
		return nil
	})

	dropped := Publish(bus, FrameCapturedEvent{CameraID: "left"})
	if !dropped {
		t.Fatal("expected Publish to report a drop")
	}
	if errEventSeen {
		t.Error("ErrDropped must not be republished as an ErrorEvent")
	}
}

func TestPublishCheckedReportsFailure(t *testing.T) {
	bus := New(nil)
	Subscribe(bus, "start", CategoryTracking, func(ev PitchStartEvent) error {
		return errors.New("handler exploded")
	})

	_, failed := PublishChecked(bus, PitchStartEvent{PitchIndex: 0})
	if !failed {
		t.Fatal("expected PublishChecked to report a failure")
	}
}

func TestFailureCounterEscalates(t *testing.T) {
	fc := NewFailureCounter(3)
	if _, escalate := fc.Fail(); escalate {
		t.Fatal("escalated too early")
	}
	if _, escalate := fc.Fail(); escalate {
		t.Fatal("escalated too early")
	}
	if _, escalate := fc.Fail(); !escalate {
		t.Fatal("did not escalate at threshold")
	}
	fc.Reset()
	if fc.Count() != 0 {
		t.Errorf("expected count 0 after reset, got %d", fc.Count())
	}
}
