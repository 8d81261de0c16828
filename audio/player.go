package audio

import (
	"context"
	"sync"
)

// Sink は実際に音を出す先です。Play は再生が終わるか ctx が終わるまでブロックします。
type Sink interface {
	Play(ctx context.Context, samples []float32, sampleRate, channels int) error
}

// Player は同時に 1 本だけ音声を流します。新しい再生を始めると前の再生は止まります。
type Player struct {
	sink       Sink
	sampleRate int
	channels   int

	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64
	done   chan struct{}
}

func NewPlayer(sink Sink, sampleRate, channels int) *Player {
	return &Player{sink: sink, sampleRate: sampleRate, channels: channels}
}

// Play は前の再生を止めてから pcm の再生を非同期に始めます。
func (p *Player) Play(pcm []byte) {
	if p.sink == nil || len(pcm) < 2 {
		return
	}
	samples := DecodePCM16(pcm)

	p.mu.Lock()
	p.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.seq++
	seq := p.seq
	done := make(chan struct{})
	p.done = done
	p.mu.Unlock()

	go func() {
		defer close(done)
		_ = p.sink.Play(ctx, samples, p.sampleRate, p.channels)
		p.mu.Lock()
		if p.seq == seq {
			p.cancel = nil
		}
		p.mu.Unlock()
		cancel()
	}()
}

// Stop は再生中の音声を止めます。
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Wait は最後に始めた再生が終わるまで待ちます。
func (p *Player) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Player) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}
