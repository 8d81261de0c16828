// Package gatewaytest はテスト用の Gateway 実装を提供します。
package gatewaytest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sat8bit/nexus/character"
	"github.com/sat8bit/nexus/gateway"
)

// Fake は関数を差し替えて振る舞いを決められる Gateway です。
// 関数が nil のときは、画像は呼び出しごとに異なるダミー画像、テキストは "ok"、構造化テキストと音声はエラーを返します。
type Fake struct {
	ImageFunc      func(refs []character.ImageAsset, instructions string, aspect gateway.AspectRatio) (character.ImageAsset, error)
	StructuredFunc func(c gateway.Context, schema *gateway.Schema) (json.RawMessage, error)
	TextFunc       func(c gateway.Context) (string, error)
	SpeechFunc     func(text, voice string) ([]byte, error)

	mu           sync.Mutex
	imageCalls   int
	textCalls    int
	speechCalls  int
	Instructions []string
}

func (f *Fake) SynthesizeImage(ctx context.Context, refs []character.ImageAsset, instructions string, aspect gateway.AspectRatio) (character.ImageAsset, error) {
	f.mu.Lock()
	f.imageCalls++
	n := f.imageCalls
	f.Instructions = append(f.Instructions, instructions)
	fn := f.ImageFunc
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return character.ImageAsset{}, &gateway.GenerationError{Stage: gateway.StageImage, Err: err}
	}
	if fn != nil {
		img, err := fn(refs, instructions, aspect)
		if err != nil {
			return img, &gateway.GenerationError{Stage: gateway.StageImage, Err: err}
		}
		return img, nil
	}
	return Image(n), nil
}

func (f *Fake) SynthesizeStructuredText(ctx context.Context, c gateway.Context, schema *gateway.Schema) (json.RawMessage, error) {
	f.mu.Lock()
	f.textCalls++
	fn := f.StructuredFunc
	f.mu.Unlock()

	if fn == nil {
		return nil, &gateway.GenerationError{Stage: gateway.StageText, Err: errors.New("no structured reply scripted")}
	}
	raw, err := fn(c, schema)
	if err != nil {
		return nil, &gateway.GenerationError{Stage: gateway.StageText, Err: err}
	}
	return raw, nil
}

func (f *Fake) SynthesizeText(ctx context.Context, c gateway.Context) (string, error) {
	f.mu.Lock()
	f.textCalls++
	fn := f.TextFunc
	f.mu.Unlock()

	if fn == nil {
		return "ok", nil
	}
	s, err := fn(c)
	if err != nil {
		return "", &gateway.GenerationError{Stage: gateway.StageText, Err: err}
	}
	return s, nil
}

func (f *Fake) SynthesizeSpeech(ctx context.Context, text, voice string) ([]byte, error) {
	f.mu.Lock()
	f.speechCalls++
	fn := f.SpeechFunc
	f.mu.Unlock()

	if fn == nil {
		return nil, &gateway.GenerationError{Stage: gateway.StageSpeech, Err: errors.New("speech disabled")}
	}
	pcm, err := fn(text, voice)
	if err != nil {
		return nil, &gateway.GenerationError{Stage: gateway.StageSpeech, Err: err}
	}
	return pcm, nil
}

func (f *Fake) ImageCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.imageCalls
}

func (f *Fake) TextCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.textCalls
}

func (f *Fake) SpeechCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.speechCalls
}

// Image は n ごとに中身の異なる PNG 風のダミー画像を返します。
func Image(n int) character.ImageAsset {
	return character.ImageAsset{Data: []byte(fmt.Sprintf("\x89PNG-%d", n)), MIMEType: "image/png"}
}

// JSON は値を JSON にして StructuredFunc の戻り値に使える形にします。
func JSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

var _ gateway.Gateway = (*Fake)(nil)
