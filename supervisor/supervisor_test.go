package supervisor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/sat8bit/nexus/bus"
	"github.com/sat8bit/nexus/message"
)

func TestSupervisorFiresOncePerIdlePeriod(t *testing.T) {
	var n atomic.Int32
	s := NewSupervisor(15*time.Millisecond, func() { n.Add(1) })
	s.Touch()
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	if n.Load() != 1 {
		t.Fatalf("fired %d times in one idle period, want 1", n.Load())
	}

	s.Touch()
	deadline := time.Now().Add(time.Second)
	for n.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n.Load() != 2 {
		t.Fatalf("fired %d times after Touch, want 2", n.Load())
	}
}

func TestSupervisorTouchPostpones(t *testing.T) {
	var n atomic.Int32
	s := NewSupervisor(60*time.Millisecond, func() { n.Add(1) })
	s.Touch()
	defer s.Stop()

	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		s.Touch()
	}
	if n.Load() != 0 {
		t.Fatalf("fired %d times while active", n.Load())
	}
}

func TestSupervisorBackground(t *testing.T) {
	var n atomic.Int32
	s := NewSupervisor(10*time.Millisecond, func() { n.Add(1) })
	s.SetForeground(false)
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	if n.Load() != 0 {
		t.Fatalf("fired %d times in background", n.Load())
	}
}

func TestSupervisorStop(t *testing.T) {
	var n atomic.Int32
	s := NewSupervisor(10*time.Millisecond, func() { n.Add(1) })
	s.Touch()
	s.Stop()
	s.Touch()
	time.Sleep(40 * time.Millisecond)
	if n.Load() != 0 {
		t.Fatalf("fired %d times after Stop", n.Load())
	}
}

func TestSupervisorWatchesBus(t *testing.T) {
	var n atomic.Int32
	b := bus.NewMemoryBus()
	defer b.Close()
	s := NewSupervisor(60*time.Millisecond, func() { n.Add(1) })
	s.Start(b)
	defer s.Stop()

	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		_ = b.Broadcast(&message.Message{Kind: message.KindChat, Chat: &message.Chat{Role: message.RoleUser, Text: "hi"}})
	}
	if n.Load() != 0 {
		t.Fatalf("fired %d times while chat was active", n.Load())
	}
}

func TestSupervisorIgnoresCharacterEvents(t *testing.T) {
	fired := make(chan struct{}, 1)
	b := bus.NewMemoryBus()
	defer b.Close()
	s := NewSupervisor(60*time.Millisecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	s.Start(b)
	defer s.Stop()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		events := []*message.Message{
			{Kind: message.KindPose, Text: "neutral"},
			{Kind: message.KindState},
			{Kind: message.KindChat, Chat: &message.Chat{Role: message.RoleModel, Text: "hello?"}},
		}
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				_ = b.Broadcast(events[i%len(events)])
			}
		}
	}()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("character-side events kept postponing the idle timer")
	}
}
