package voice

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"
)

func fakeSpeech(resp *speechpb.RecognizeResponse, err error, seen **speechpb.RecognizeRequest) *CloudSpeech {
	return &CloudSpeech{
		language: "ja-JP",
		recognize: func(_ context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			*seen = req
			return resp, err
		},
	}
}

func result(texts ...string) *speechpb.SpeechRecognitionResult {
	r := &speechpb.SpeechRecognitionResult{}
	for _, t := range texts {
		r.Alternatives = append(r.Alternatives, &speechpb.SpeechRecognitionAlternative{Transcript: t})
	}
	return r
}

func TestTranscribeJoinsBestAlternatives(t *testing.T) {
	var req *speechpb.RecognizeRequest
	c := fakeSpeech(&speechpb.RecognizeResponse{Results: []*speechpb.SpeechRecognitionResult{
		result("hello there", "yellow there"),
		result(" how are you "),
		result(),
	}}, nil, &req)

	got, err := c.Transcribe(context.Background(), []byte{1, 2, 3}, EncodingOgg)
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello there how are you" {
		t.Errorf("transcript = %q", got)
	}
	if req.GetConfig().GetEncoding() != speechpb.RecognitionConfig_OGG_OPUS || req.GetConfig().GetLanguageCode() != "ja-JP" {
		t.Errorf("config = %+v", req.GetConfig())
	}
	if string(req.GetAudio().GetContent()) != "\x01\x02\x03" {
		t.Error("audio content not forwarded")
	}
}

func TestTranscribeNoSpeech(t *testing.T) {
	var req *speechpb.RecognizeRequest
	c := fakeSpeech(&speechpb.RecognizeResponse{}, nil, &req)
	if _, err := c.Transcribe(context.Background(), []byte{1}, EncodingWAV); !errors.Is(err, ErrNoSpeech) {
		t.Errorf("err = %v", err)
	}
	if _, err := c.Transcribe(context.Background(), nil, EncodingWAV); !errors.Is(err, ErrNoSpeech) {
		t.Errorf("empty audio err = %v", err)
	}
}

func TestTranscribeError(t *testing.T) {
	var req *speechpb.RecognizeRequest
	boom := errors.New("unavailable")
	c := fakeSpeech(nil, boom, &req)
	if _, err := c.Transcribe(context.Background(), []byte{1}, EncodingWebM); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestParseEncoding(t *testing.T) {
	tests := []struct {
		in   string
		want Encoding
		ok   bool
	}{
		{"audio/wav", EncodingWAV, true},
		{"audio/x-wav", EncodingWAV, true},
		{"audio/ogg; codecs=opus", EncodingOgg, true},
		{"audio/webm", EncodingWebM, true},
		{"audio/mpeg", "", false},
	}
	for _, tt := range tests {
		got, err := ParseEncoding(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseEncoding(%q) = %q, %v", tt.in, got, err)
		}
	}
}
