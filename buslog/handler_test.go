package buslog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/sat8bit/nexus/bus"
	"github.com/sat8bit/nexus/message"
)

func TestBusHandlerTees(t *testing.T) {
	b := bus.NewMemoryBus()
	defer b.Close()
	ch := b.Subscribe()

	var out bytes.Buffer
	logger := slog.New(NewBusHandler(b, slog.NewTextHandler(&out, nil), slog.LevelWarn))

	logger.With(SessionKey, "s-1").Warn("speech failed", "err", "quota")
	logger.Info("quiet on the bus")

	m := <-ch
	if m.Kind != message.KindLog || m.SessionID != "s-1" {
		t.Fatalf("message = %+v", m)
	}
	if !strings.Contains(m.Text, "speech failed") || !strings.Contains(m.Text, "err=quota") {
		t.Errorf("text = %q", m.Text)
	}
	if strings.Contains(m.Text, "session=") {
		t.Errorf("session attr should not be in text: %q", m.Text)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected bus message %+v", extra)
	default:
	}

	if !strings.Contains(out.String(), "speech failed") || !strings.Contains(out.String(), "quiet on the bus") {
		t.Errorf("wrapped handler output = %q", out.String())
	}
}
