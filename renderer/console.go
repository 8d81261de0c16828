package renderer

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sat8bit/nexus/bus"
	"github.com/sat8bit/nexus/message"
)

func NewConsoleRenderer(w io.Writer, name string) *ConsoleRenderer {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleRenderer{w: w, name: name, delay: 15 * time.Millisecond}
}

// ConsoleRenderer は chat コマンド用に、キャラクターの発話を1文字ずつ端末に流します。
type ConsoleRenderer struct {
	w     io.Writer
	name  string
	delay time.Duration
	mu    sync.Mutex
}

func (c *ConsoleRenderer) SetName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

func (c *ConsoleRenderer) Render(ctx context.Context, b bus.Bus, wg *sync.WaitGroup) error {
	ch := b.Subscribe()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer b.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case o, ok := <-ch:
				if !ok {
					return
				}
				c.print(o)
			}
		}
	}()
	return nil
}

func (c *ConsoleRenderer) print(o *message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch o.Kind {
	case message.KindSystem:
		fmt.Fprintf(c.w, "[System] %s\n", o.Text)
	case message.KindError:
		fmt.Fprintf(c.w, "[Error] %s\n", o.Text)
	case message.KindQuest:
		fmt.Fprintf(c.w, "[Quest] %s\n", o.Text)
	case message.KindState:
		fmt.Fprintf(c.w, "[Status] %s\n", o.Text)
	case message.KindChat:
		if o.Chat == nil || o.Chat.Role != message.RoleModel {
			return
		}
		fmt.Fprintf(c.w, "%s (%s): ", c.name, o.Chat.Emotion)
		for _, r := range o.Chat.Text {
			fmt.Fprint(c.w, string(r))
			if c.delay > 0 {
				time.Sleep(c.delay)
			}
		}
		fmt.Fprintln(c.w)
		for i, choice := range o.Chat.Choices {
			fmt.Fprintf(c.w, "  %d) %s\n", i+1, choice)
		}
	}
}

var _ Renderer = (*ConsoleRenderer)(nil)
