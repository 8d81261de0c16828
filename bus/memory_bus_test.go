package bus

import (
	"errors"
	"testing"

	"github.com/sat8bit/nexus/message"
)

func TestMemoryBusBroadcast(t *testing.T) {
	b := NewMemoryBus()
	a := b.Subscribe()
	c := b.Subscribe()

	if err := b.Broadcast(&message.Message{Kind: message.KindChat, Text: "hi"}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	for _, ch := range []<-chan *message.Message{a, c} {
		m := <-ch
		if m.Text != "hi" {
			t.Errorf("got %q", m.Text)
		}
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryBus()
	a := b.Subscribe()
	b.Unsubscribe(a)
	if _, ok := <-a; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
	// 二重解除でパニックしない
	b.Unsubscribe(a)
	if err := b.Broadcast(&message.Message{Kind: message.KindLog}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
}

func TestMemoryBusDropsWhenFull(t *testing.T) {
	b := NewMemoryBus()
	ch := b.Subscribe()
	for i := 0; i < b.buffer+10; i++ {
		if err := b.Broadcast(&message.Message{Kind: message.KindLog}); err != nil {
			t.Fatalf("Broadcast: %v", err)
		}
	}
	if len(ch) != b.buffer {
		t.Errorf("len = %d, want %d", len(ch), b.buffer)
	}
}

func TestMemoryBusClose(t *testing.T) {
	b := NewMemoryBus()
	ch := b.Subscribe()
	b.Close()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	if err := b.Broadcast(&message.Message{}); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v", err)
	}
	if _, ok := <-b.Subscribe(); ok {
		t.Error("subscribe after close should return closed channel")
	}
}
