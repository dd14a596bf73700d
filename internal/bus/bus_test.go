package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("transcript.", 10)
	defer unsub()

	b.Emit(KindTranscriptRefreshed, TranscriptPayload{SelfID: 1, OtherID: 2, Count: 3})

	select {
	case evt := <-ch:
		if evt.Kind != KindTranscriptRefreshed {
			t.Errorf("got kind %q, want %s", evt.Kind, KindTranscriptRefreshed)
		}
		p, ok := evt.Payload.(TranscriptPayload)
		if !ok || p.Count != 3 {
			t.Errorf("payload = %#v, want TranscriptPayload with Count=3", evt.Payload)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Emit(KindHomeRefreshed, nil)
	b.Emit(KindMessageSendAck, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageSendAck {
			t.Errorf("got kind %q, want %s", evt.Kind, KindMessageSendAck)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmptyNamespaceMatchesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Emit(KindHomeRefreshed, nil)
	b.Emit(KindSessionStatusChanged, nil)

	for _, want := range []string{KindHomeRefreshed, KindSessionStatusChanged} {
		evt := <-ch
		if evt.Kind != want {
			t.Errorf("got %q, want %q", evt.Kind, want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()
	// Second call is a no-op.
	unsub()

	b.Emit(KindSessionStatusChanged, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("home.", 1)
	defer unsub()

	b.Emit(KindHomeRefreshed, HomePayload{Count: 1})
	// Dropped: buffer is full.
	b.Emit(KindHomeRefreshed, HomePayload{Count: 2})

	evt := <-ch
	if p := evt.Payload.(HomePayload); p.Count != 1 {
		t.Errorf("got count %d, want 1", p.Count)
	}
}

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	b.Emit(KindHomeRefreshed, nil)
}
