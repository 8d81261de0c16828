package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestDecodePCM16(t *testing.T) {
	pcm := make([]byte, 7)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(0))
	binary.LittleEndian.PutUint16(pcm[2:], uint16(16384))
	v := int16(-32768)
	binary.LittleEndian.PutUint16(pcm[4:], uint16(v))

	got := DecodePCM16(pcm)
	want := []float32{0, 0.5, -1}
	if len(got) != len(want) {
		t.Fatalf("len = %d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEncodeWAV(t *testing.T) {
	pcm := make([]byte, 48000) // 1 秒分
	wav, err := EncodeWAV(pcm, 24000, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d", len(wav))
	}
	if !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) || !bytes.Equal(wav[36:40], []byte("data")) {
		t.Error("bad chunk ids")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 24000 {
		t.Errorf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d", got)
	}
	if d := Duration(pcm, 24000, 1); d != 1 {
		t.Errorf("duration = %v", d)
	}
	if _, err := EncodeWAV(pcm, 0, 1); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

type blockingSink struct {
	mu        sync.Mutex
	started   int
	cancelled int
}

func (s *blockingSink) Play(ctx context.Context, samples []float32, rate, ch int) error {
	s.mu.Lock()
	s.started++
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		s.mu.Lock()
		s.cancelled++
		s.mu.Unlock()
		return ctx.Err()
	case <-time.After(time.Second):
		return nil
	}
}

func TestPlayerLastWriteWins(t *testing.T) {
	sink := &blockingSink{}
	p := NewPlayer(sink, 24000, 1)

	p.Play([]byte{0, 0, 1, 0})
	p.Play([]byte{0, 0, 2, 0})
	if !p.Playing() {
		t.Fatal("expected playing")
	}
	p.Stop()
	p.Wait()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sink.mu.Lock()
		started, cancelled := sink.started, sink.cancelled
		sink.mu.Unlock()
		if started == 2 && cancelled == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("started=%d cancelled=%d, want both streams stopped", sink.started, sink.cancelled)
}

func TestEncodePCM16RoundTrip(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xff, 0x7f, 0x00, 0x80, 0x34, 0x12}
	if got := EncodePCM16(DecodePCM16(pcm)); !bytes.Equal(got, pcm) {
		t.Errorf("round trip = %x, want %x", got, pcm)
	}
	if got := EncodePCM16([]float32{2, -2}); !bytes.Equal(got, []byte{0xff, 0x7f, 0x00, 0x80}) {
		t.Errorf("clipping = %x", got)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last.wav")
	s := &FileSink{Path: path}
	if err := s.Play(context.Background(), []float32{0, 0.5}, 24000, 1); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 44+4 || string(data[:4]) != "RIFF" {
		t.Errorf("wav = %d bytes", len(data))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rt := &FileSink{Path: path, Realtime: true}
	if err := rt.Play(ctx, make([]float32, 24000), 24000, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled realtime play = %v", err)
	}
}
