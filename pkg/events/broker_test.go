package events

import (
	"testing"
	"time"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	broker := NewBroker()

	first, cancelFirst := broker.Subscribe()
	defer cancelFirst()
	second, cancelSecond := broker.Subscribe()
	defer cancelSecond()

	broker.PublishConnected("alpha")

	for _, ch := range []<-chan Event{first, second} {
		evt := recvEvent(t, ch)
		if evt.Event != KindConnected {
			t.Errorf("event = %q, want %q", evt.Event, KindConnected)
		}
		data, ok := evt.Data.(ConnectedData)
		if !ok || data.SessionName != "alpha" {
			t.Errorf("data = %#v", evt.Data)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	broker := NewBroker()

	ch, cancel := broker.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
	if broker.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d, want 0", broker.SubscriberCount())
	}

	// Publishing with no subscribers must not block.
	broker.PublishQR("alpha", "data:image/png;base64,AAAA")
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	broker := NewBroker()

	_, cancel := broker.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*3; i++ {
			broker.PublishMessageSent("62812", "hello")
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestEventKinds(t *testing.T) {
	broker := NewBroker()
	ch, cancel := broker.Subscribe()
	defer cancel()

	broker.PublishQR("alpha", "data:image/png;base64,AAAA")
	evt := recvEvent(t, ch)
	if evt.Event != KindQR {
		t.Errorf("event = %q, want %q", evt.Event, KindQR)
	}
	if data, ok := evt.Data.(QRData); !ok || data.SessionName != "alpha" || data.QR == "" {
		t.Errorf("data = %#v", evt.Data)
	}

	broker.PublishMessageSent("62812", "hello")
	evt = recvEvent(t, ch)
	if evt.Event != KindMessageSent {
		t.Errorf("event = %q, want %q", evt.Event, KindMessageSent)
	}
	if data, ok := evt.Data.(MessageSentData); !ok || data.Phone != "62812" || data.Message != "hello" {
		t.Errorf("data = %#v", evt.Data)
	}
}
