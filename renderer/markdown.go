package renderer

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/sat8bit/nexus/message"
)

const markdownTemplate = `# {{ .Title }}

_exported {{ .Date }}_

{{ .Body }}`

// Transcript はチャット履歴をプレーンテキストにします。アーカイブの transcript.txt に使います。
func Transcript(name string, history []message.Chat) string {
	var sb strings.Builder
	for _, m := range history {
		sb.WriteString(speaker(name, m.Role))
		if m.Role == message.RoleModel && m.Emotion != "" {
			fmt.Fprintf(&sb, " [%s]", m.Emotion)
		}
		sb.WriteString(": ")
		sb.WriteString(m.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Markdown はチャット履歴を Markdown の会話ログにします。
func Markdown(name string, history []message.Chat, at time.Time) (string, error) {
	var body strings.Builder
	for _, m := range history {
		fmt.Fprintf(&body, "**%s:** %s\n\n", speaker(name, m.Role), m.Text)
		for _, c := range m.Choices {
			fmt.Fprintf(&body, "- %s\n", c)
		}
		if len(m.Choices) > 0 {
			body.WriteString("\n")
		}
	}

	tmpl, err := template.New("markdown").Parse(markdownTemplate)
	if err != nil {
		return "", fmt.Errorf("renderer.Markdown: %w", err)
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, map[string]string{
		"Title": name,
		"Date":  at.Format(time.RFC3339),
		"Body":  body.String(),
	})
	if err != nil {
		return "", fmt.Errorf("renderer.Markdown: %w", err)
	}
	return buf.String(), nil
}

func speaker(name string, r message.Role) string {
	if r == message.RoleModel {
		if name == "" {
			return "Model"
		}
		return name
	}
	return "You"
}
