package events

import "testing"

func TestBusDeliversToSubscribersOfType(t *testing.T) {
	bus := NewBus()
	np := bus.Subscribe(EventNowPlaying)
	other := bus.Subscribe(EventHalted)

	bus.Publish(EventNowPlaying, Payload{"channel_id": "c1", "track_id": "t1"})

	select {
	case p := <-np:
		if p.ChannelID() != "c1" {
			t.Fatalf("ChannelID() = %q, want c1", p.ChannelID())
		}
	default:
		t.Fatal("expected now_playing payload")
	}

	select {
	case p := <-other:
		t.Fatalf("unexpected payload on halted subscriber: %v", p)
	default:
	}
}

func TestBusPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventStateChanged)

	for i := 0; i < 100; i++ {
		bus.Publish(EventStateChanged, Payload{"n": i})
	}
	if got := len(sub); got != cap(sub) {
		t.Fatalf("buffered = %d, want %d", got, cap(sub))
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventNowPlaying)
	bus.Unsubscribe(EventNowPlaying, sub)

	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}

	// A second unsubscribe and a publish after removal must not panic.
	bus.Unsubscribe(EventNowPlaying, sub)
	bus.Publish(EventNowPlaying, Payload{})
}
