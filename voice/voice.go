// Package voice は録音された発話を文字起こしして、対話のターンに渡せるようにします。
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
)

// ErrNoSpeech は音声から何も聞き取れなかったときのエラーです。
var ErrNoSpeech = errors.New("voice: no speech recognized")

type Encoding string

const (
	EncodingWAV  Encoding = "wav"
	EncodingOgg  Encoding = "ogg"
	EncodingWebM Encoding = "webm"
)

// ParseEncoding は Content-Type か拡張子から Encoding を決めます。
func ParseEncoding(s string) (Encoding, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(s, "wav"):
		return EncodingWAV, nil
	case strings.Contains(s, "ogg"):
		return EncodingOgg, nil
	case strings.Contains(s, "webm"):
		return EncodingWebM, nil
	}
	return "", fmt.Errorf("voice: unsupported audio format %q", s)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, enc Encoding) (string, error)
}

var _ Transcriber = (*CloudSpeech)(nil)

// CloudSpeech は Google Cloud Speech-to-Text の同期認識を使います。
// 認証は Application Default Credentials に任せます。
type CloudSpeech struct {
	client    *speech.Client
	language  string
	recognize func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
}

func NewCloudSpeech(ctx context.Context, language string) (*CloudSpeech, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	c := &CloudSpeech{client: client, language: language}
	c.recognize = func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return client.Recognize(ctx, req)
	}
	return c, nil
}

func (c *CloudSpeech) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *CloudSpeech) Transcribe(ctx context.Context, audio []byte, enc Encoding) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoSpeech
	}
	resp, err := c.recognize(ctx, &speechpb.RecognizeRequest{
		Config: recognitionConfig(enc, c.language),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	})
	if err != nil {
		return "", fmt.Errorf("voice.CloudSpeech.Transcribe: %w", err)
	}
	text := transcript(resp)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

func recognitionConfig(enc Encoding, language string) *speechpb.RecognitionConfig {
	if language == "" {
		language = "en-US"
	}
	cfg := &speechpb.RecognitionConfig{
		LanguageCode:               language,
		EnableAutomaticPunctuation: true,
	}
	switch enc {
	case EncodingOgg:
		cfg.Encoding = speechpb.RecognitionConfig_OGG_OPUS
		cfg.SampleRateHertz = 48000
	case EncodingWebM:
		cfg.Encoding = speechpb.RecognitionConfig_WEBM_OPUS
		cfg.SampleRateHertz = 48000
	default:
		// WAV はヘッダからサンプルレートが読まれる
		cfg.Encoding = speechpb.RecognitionConfig_LINEAR16
	}
	return cfg
}

// transcript は各区間の最有力候補をつなげます。
func transcript(resp *speechpb.RecognizeResponse) string {
	var parts []string
	for _, r := range resp.GetResults() {
		if alts := r.GetAlternatives(); len(alts) > 0 {
			if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " ")
}
