package gateway

import (
	"context"
	"encoding/json"

	"github.com/sat8bit/nexus/character"
	"github.com/sat8bit/nexus/message"
)

// AspectRatio は生成する画像の縦横比です。
type AspectRatio string

const (
	AspectPortrait  AspectRatio = "3:4"
	AspectSquare    AspectRatio = "1:1"
	AspectLandscape AspectRatio = "16:9"
)

// Speech の PCM 形式。16bit リトルエンディアン、モノラル、24kHz 固定です。
const (
	SpeechSampleRate = 24000
	SpeechChannels   = 1
)

// Context はテキスト生成に渡す会話の文脈です。
type Context struct {
	System  string
	History []message.Chat
	Prompt  string
	Images  []character.ImageAsset
}

// Gateway は生成バックエンドをまとめて扱うための窓口です。
// どのメソッドも失敗時は *GenerationError を返します。
type Gateway interface {
	SynthesizeImage(ctx context.Context, refs []character.ImageAsset, instructions string, aspect AspectRatio) (character.ImageAsset, error)
	// SynthesizeStructuredText returns a JSON value that matches schema.
	SynthesizeStructuredText(ctx context.Context, c Context, schema *Schema) (json.RawMessage, error)
	// SynthesizeText returns free-form text, trimmed.
	SynthesizeText(ctx context.Context, c Context) (string, error)
	// SynthesizeSpeech returns raw PCM16 mono audio at SpeechSampleRate.
	SynthesizeSpeech(ctx context.Context, text, voice string) ([]byte, error)
}

type ImageBackend interface {
	SynthesizeImage(ctx context.Context, refs []character.ImageAsset, instructions string, aspect AspectRatio) (character.ImageAsset, error)
}

// TextBackend はモデルの生の応答テキストを返します。schema が nil なら自由文です。
type TextBackend interface {
	GenerateText(ctx context.Context, c Context, schema *Schema) (string, error)
}

type SpeechBackend interface {
	SynthesizeSpeech(ctx context.Context, text, voice string) ([]byte, error)
}
