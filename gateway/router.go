package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sat8bit/nexus/character"
)

// Router は画像とテキストでそれぞれ独立にバックエンドを選び、失敗時はリトライと予備バックエンドへの切り替えを行います。
type Router struct {
	Image         ImageBackend
	ImageFallback ImageBackend
	Text          TextBackend
	TextFallback  TextBackend
	Speech        SpeechBackend

	// Attempts はバックエンドごとの試行回数です。0 以下なら 1 回。
	Attempts int
	Backoff  time.Duration
}

func (r *Router) SynthesizeImage(ctx context.Context, refs []character.ImageAsset, instructions string, aspect AspectRatio) (character.ImageAsset, error) {
	var img character.ImageAsset
	err := r.each(ctx, StageImage, len(r.imageBackends()), func(i int) error {
		var err error
		img, err = r.imageBackends()[i].SynthesizeImage(ctx, refs, instructions, aspect)
		if err == nil && img.Empty() {
			err = errors.New("empty image")
		}
		return err
	})
	if err != nil {
		return character.ImageAsset{}, err
	}
	return img, nil
}

func (r *Router) SynthesizeStructuredText(ctx context.Context, c Context, schema *Schema) (json.RawMessage, error) {
	var out json.RawMessage
	err := r.each(ctx, StageText, len(r.textBackends()), func(i int) error {
		raw, err := r.textBackends()[i].GenerateText(ctx, c, schema)
		if err != nil {
			return err
		}
		out, err = ExtractJSON(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Router) SynthesizeText(ctx context.Context, c Context) (string, error) {
	var out string
	err := r.each(ctx, StageText, len(r.textBackends()), func(i int) error {
		raw, err := r.textBackends()[i].GenerateText(ctx, c, nil)
		if err != nil {
			return err
		}
		out = strings.TrimSpace(raw)
		if out == "" {
			return errors.New("empty text")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func (r *Router) SynthesizeSpeech(ctx context.Context, text, voice string) ([]byte, error) {
	if r.Speech == nil {
		return nil, &GenerationError{Stage: StageSpeech, Err: errors.New("no speech backend configured")}
	}
	var pcm []byte
	err := r.each(ctx, StageSpeech, 1, func(int) error {
		var err error
		pcm, err = r.Speech.SynthesizeSpeech(ctx, text, voice)
		if err == nil && len(pcm) == 0 {
			err = errors.New("empty audio")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return pcm, nil
}

func (r *Router) imageBackends() []ImageBackend {
	var bs []ImageBackend
	if r.Image != nil {
		bs = append(bs, r.Image)
	}
	if r.ImageFallback != nil {
		bs = append(bs, r.ImageFallback)
	}
	return bs
}

func (r *Router) textBackends() []TextBackend {
	var bs []TextBackend
	if r.Text != nil {
		bs = append(bs, r.Text)
	}
	if r.TextFallback != nil {
		bs = append(bs, r.TextFallback)
	}
	return bs
}

// each は n 個のバックエンドを順に、それぞれ Attempts 回まで試します。
func (r *Router) each(ctx context.Context, stage Stage, n int, call func(i int) error) error {
	if n == 0 {
		return &GenerationError{Stage: stage, Err: errors.New("no backend configured")}
	}
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var last error
	for i := 0; i < n; i++ {
		for a := 0; a < attempts; a++ {
			if a > 0 {
				wait := r.Backoff * time.Duration(1<<(a-1))
				select {
				case <-ctx.Done():
					return &GenerationError{Stage: stage, Err: ctx.Err()}
				case <-time.After(wait):
				}
			}
			err := call(i)
			if err == nil {
				return nil
			}
			last = err
			slog.WarnContext(ctx, "generation attempt failed", "stage", stage, "backend", i, "attempt", a+1, "error", err)
			if ctx.Err() != nil {
				return &GenerationError{Stage: stage, Err: ctx.Err()}
			}
		}
	}
	return wrap(stage, last)
}

var _ Gateway = (*Router)(nil)
