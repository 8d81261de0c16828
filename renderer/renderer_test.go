package renderer

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sat8bit/nexus/bus"
	"github.com/sat8bit/nexus/message"
)

var history = []message.Chat{
	{Role: message.RoleUser, Text: "hello"},
	{Role: message.RoleModel, Text: "Hi there!", Emotion: message.EmotionHappy, Choices: []string{"Wave", "Leave"}},
}

func TestTranscript(t *testing.T) {
	got := Transcript("Nova", history)
	want := "You: hello\nNova [happy]: Hi there!\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if Transcript("Nova", nil) != "" {
		t.Error("empty history should render empty")
	}
}

func TestMarkdown(t *testing.T) {
	got, err := Markdown("Nova", history, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# Nova", "2026-01-02T03:04:05Z", "**You:** hello", "**Nova:** Hi there!", "- Wave"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in\n%s", want, got)
		}
	}
}

func TestConsoleRenderer(t *testing.T) {
	b := bus.NewMemoryBus()
	var out bytes.Buffer
	r := NewConsoleRenderer(&out, "Nova")
	r.delay = 0

	var wg sync.WaitGroup
	if err := r.Render(context.Background(), b, &wg); err != nil {
		t.Fatal(err)
	}
	_ = b.Broadcast(&message.Message{Kind: message.KindSystem, Text: "linked"})
	_ = b.Broadcast(&message.Message{Kind: message.KindChat, Chat: &history[0]})
	_ = b.Broadcast(&message.Message{Kind: message.KindChat, Chat: &history[1]})
	b.Close()
	wg.Wait()

	want := "[System] linked\nNova (happy): Hi there!\n  1) Wave\n  2) Leave\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}
