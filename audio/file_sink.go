package audio

import (
	"context"
	"fmt"
	"os"
	"time"
)

var _ Sink = (*FileSink)(nil)

// FileSink は音声を WAV ファイルに書き出し、再生時間ぶん待ちます。
// 端末で動かす chat コマンド用で、外部プレイヤーから最新の発話を聞けます。
type FileSink struct {
	Path string
	// Realtime が false なら書き出したらすぐに戻ります。
	Realtime bool
}

func (s *FileSink) Play(ctx context.Context, samples []float32, sampleRate, channels int) error {
	pcm := EncodePCM16(samples)
	wav, err := EncodeWAV(pcm, sampleRate, channels)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.Path, wav, 0644); err != nil {
		return fmt.Errorf("audio.FileSink.Play: %w", err)
	}
	if !s.Realtime {
		return nil
	}
	t := time.NewTimer(time.Duration(Duration(pcm, sampleRate, channels) * float64(time.Second)))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
