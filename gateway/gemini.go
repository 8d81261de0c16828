package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/sat8bit/nexus/character"
	"github.com/sat8bit/nexus/message"
)

const (
	DefaultGeminiTextModel   = "gemini-2.5-flash"
	DefaultGeminiImageModel  = "gemini-2.5-flash-image-preview"
	DefaultGeminiSpeechModel = "gemini-2.5-flash-preview-tts"
	DefaultVoice             = "Kore"
)

type GeminiConfig struct {
	APIKey string
	// APIKey が空なら Vertex AI を使います。
	Project  string
	Location string

	TextModel   string
	ImageModel  string
	SpeechModel string
	// VoiceName は Gemini の既定ボイス名です。
	VoiceName string
}

// NewGemini は Gemini API（または Vertex AI）のクライアントを作ります。
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.APIKey == "" {
		cc = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gateway.NewGemini: %w", err)
	}
	g := &Gemini{
		client:      client,
		textModel:   cfg.TextModel,
		imageModel:  cfg.ImageModel,
		speechModel: cfg.SpeechModel,
		voiceName:   cfg.VoiceName,
	}
	if g.voiceName == "" {
		g.voiceName = DefaultVoice
	}
	if g.textModel == "" {
		g.textModel = DefaultGeminiTextModel
	}
	if g.imageModel == "" {
		g.imageModel = DefaultGeminiImageModel
	}
	if g.speechModel == "" {
		g.speechModel = DefaultGeminiSpeechModel
	}
	return g, nil
}

type Gemini struct {
	client      *genai.Client
	textModel   string
	imageModel  string
	speechModel string
	voiceName   string
}

func (g *Gemini) GenerateText(ctx context.Context, c Context, schema *Schema) (string, error) {
	var contents []*genai.Content
	for _, h := range c.History {
		role := genai.RoleUser
		if h.Role == message.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: h.Text}},
		})
	}
	parts := imageParts(c.Images)
	if c.Prompt != "" {
		parts = append(parts, &genai.Part{Text: c.Prompt})
	}
	if len(parts) > 0 {
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
	}

	cfg := &genai.GenerateContentConfig{}
	if sys := strings.TrimSpace(c.System); sys != "" {
		cfg.SystemInstruction = &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: sys}},
		}
	}
	if schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = schema.toGenai()
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.textModel, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gateway.Gemini.GenerateText: %w", err)
	}
	txt := extractText(resp)
	if txt == "" {
		return "", errors.New("gateway.Gemini.GenerateText: empty response")
	}
	return txt, nil
}

func (g *Gemini) SynthesizeImage(ctx context.Context, refs []character.ImageAsset, instructions string, aspect AspectRatio) (character.ImageAsset, error) {
	parts := imageParts(refs)
	parts = append(parts, &genai.Part{Text: fmt.Sprintf("%s\nAspect ratio: %s.", instructions, aspect)})
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.imageModel, contents, cfg)
	if err != nil {
		return character.ImageAsset{}, fmt.Errorf("gateway.Gemini.SynthesizeImage: %w", err)
	}
	if blob := extractBlob(resp, "image/"); blob != nil {
		return character.ImageAsset{Data: blob.Data, MIMEType: blob.MIMEType}, nil
	}
	return character.ImageAsset{}, errors.New("gateway.Gemini.SynthesizeImage: no image in response")
}

// SynthesizeSpeech の voice は声の雰囲気の説明文です。ボイス自体は VoiceName で固定です。
func (g *Gemini) SynthesizeSpeech(ctx context.Context, text, voice string) ([]byte, error) {
	prompt := text
	if voice = strings.TrimSpace(voice); voice != "" {
		prompt = fmt.Sprintf("Say with a %s voice: %s", voice, text)
	}
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{{Text: prompt}}}}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: g.voiceName},
			},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.speechModel, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gateway.Gemini.SynthesizeSpeech: %w", err)
	}
	if blob := extractBlob(resp, "audio/"); blob != nil {
		return blob.Data, nil
	}
	return nil, errors.New("gateway.Gemini.SynthesizeSpeech: no audio in response")
}

func imageParts(imgs []character.ImageAsset) []*genai.Part {
	var parts []*genai.Part
	for _, img := range imgs {
		if img.Empty() {
			continue
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: img.Data, MIMEType: img.MIMEType}})
	}
	return parts
}

func extractText(res *genai.GenerateContentResponse) string {
	if res == nil || len(res.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, c := range res.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			b.WriteString(p.Text)
		}
		if b.Len() > 0 {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

func extractBlob(res *genai.GenerateContentResponse, mimePrefix string) *genai.Blob {
	if res == nil {
		return nil
	}
	for _, c := range res.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p.InlineData != nil && len(p.InlineData.Data) > 0 && strings.HasPrefix(p.InlineData.MIMEType, mimePrefix) {
				return p.InlineData
			}
		}
	}
	return nil
}

var (
	_ TextBackend   = (*Gemini)(nil)
	_ ImageBackend  = (*Gemini)(nil)
	_ SpeechBackend = (*Gemini)(nil)
)
