package monitor

import (
	"testing"

	"github.com/zitlem/DMXX-sub001/internal/dmx"
)

func TestSubscribePublish(t *testing.T) {
	b := NewBus()
	ch := make(chan Update, 4)

	id, err := b.Subscribe("", "main", ch)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if id == "" {
		t.Fatal("empty id should be generated")
	}

	var f dmx.Frame
	f[0] = 255
	b.Publish(Update{Universe: "main", Kind: KindOutput, Data: f})
	b.Publish(Update{Universe: "other", Kind: KindOutput}) // filtered out

	select {
	case u := <-ch:
		if u.Universe != "main" || u.Data[0] != 255 || u.Seq == 0 {
			t.Errorf("unexpected update: %+v", u)
		}
	default:
		t.Fatal("no update delivered")
	}
	select {
	case u := <-ch:
		t.Fatalf("update for wrong universe delivered: %+v", u)
	default:
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBus()
	ch := make(chan Update) // unbuffered, nobody reading

	id, err := b.Subscribe("slow", "", ch)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		b.Publish(Update{Universe: "main", Kind: KindInput})
	}

	st, err := b.Stats(id)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if st.Dropped != 10 || st.Sent != 0 {
		t.Errorf("stats = %+v, want 10 dropped", st)
	}
}

func TestSubscribeErrors(t *testing.T) {
	b := NewBus()
	ch := make(chan Update, 1)

	if _, err := b.Subscribe("x", "", nil); err != ErrNilChannel {
		t.Errorf("nil channel: got %v", err)
	}
	if _, err := b.Subscribe("x", "", ch); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if _, err := b.Subscribe("x", "", ch); err != ErrSubscriberExists {
		t.Errorf("duplicate id: got %v", err)
	}
	if err := b.Unsubscribe("missing"); err != ErrSubscriberNotFound {
		t.Errorf("unknown unsubscribe: got %v", err)
	}
	if err := b.Unsubscribe("x"); err != nil {
		t.Errorf("unsubscribe failed: %v", err)
	}
}

func TestClose(t *testing.T) {
	b := NewBus()
	ch := make(chan Update, 1)
	if _, err := b.Subscribe("x", "", ch); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	b.Close()
	b.Publish(Update{Universe: "main"})
	if len(ch) != 0 {
		t.Error("publish after close delivered")
	}
	if _, err := b.Subscribe("y", "", ch); err != ErrBusClosed {
		t.Errorf("subscribe after close: got %v", err)
	}
}
