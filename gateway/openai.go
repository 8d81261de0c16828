package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sat8bit/nexus/message"
)

// OpenAICompat は OpenAI 互換の chat completions エンドポイント（LM Studio、Ollama など）を使うテキストバックエンドです。
// 画像入力は扱わず、構造化出力はスキーマをプロンプトに埋め込んで ExtractJSON で回収します。
type OpenAICompat struct {
	client openai.Client
	model  string
}

func NewOpenAICompat(baseURL, apiKey, model string) *OpenAICompat {
	if apiKey == "" {
		apiKey = "local"
	}
	return &OpenAICompat{
		client: openai.NewClient(option.WithBaseURL(baseURL), option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (o *OpenAICompat) GenerateText(ctx context.Context, c Context, schema *Schema) (string, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	sys := strings.TrimSpace(c.System)
	if schema != nil {
		sys = strings.TrimSpace(sys + "\n\nRespond with a single JSON value matching this JSON schema and nothing else:\n" + schema.JSON())
	}
	if sys != "" {
		msgs = append(msgs, openai.SystemMessage(sys))
	}
	for _, h := range c.History {
		if h.Role == message.RoleModel {
			msgs = append(msgs, openai.AssistantMessage(h.Text))
		} else {
			msgs = append(msgs, openai.UserMessage(h.Text))
		}
	}
	if c.Prompt != "" {
		msgs = append(msgs, openai.UserMessage(c.Prompt))
	}

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(o.model),
	})
	if err != nil {
		return "", fmt.Errorf("gateway.OpenAICompat.GenerateText: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("gateway.OpenAICompat.GenerateText: no choices")
	}
	txt := strings.TrimSpace(resp.Choices[0].Message.Content)
	if txt == "" {
		return "", errors.New("gateway.OpenAICompat.GenerateText: empty response")
	}
	return txt, nil
}

var _ TextBackend = (*OpenAICompat)(nil)
