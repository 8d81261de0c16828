package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/sat8bit/nexus/audio"
	"github.com/sat8bit/nexus/builder"
	"github.com/sat8bit/nexus/dialogue"
	"github.com/sat8bit/nexus/gateway"
	"github.com/sat8bit/nexus/message"
	"github.com/sat8bit/nexus/relationship"
	"github.com/sat8bit/nexus/renderer"
	"github.com/sat8bit/nexus/session"
)

const chatHelp = `commands:
  /status              show relationship status
  /quest <title>       start a quest
  /unlock <reward id>  render a vault memory
  /buy <item id>       buy from the shop
  /use <item id>       use an inventory item
  /env <environment>   change the setting
  /outfit <style>      render a new outfit
  /rename <name>       rename the character
  /reroll              generate a new name
  /tts on|off          toggle speech
  /export <path>       write the session archive
  /quit                save and exit
  1-4                  pick one of the suggested replies`

func chatCmd() *cobra.Command {
	var (
		sessionID string
		prompt    string
		concept   int
		audioOut  string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Create or resume a character and talk to it in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogger(os.Stderr, "warn", false, nil)

			cat, err := relationship.LoadCatalog()
			if err != nil {
				return err
			}
			gw, err := cfg.Gateway(ctx)
			if err != nil {
				return err
			}
			st, err := cfg.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			opts := session.Options{PoseDwell: cfg.PoseDwell, IdleAfter: cfg.IdleAfter}
			if audioOut != "" {
				opts.Player = func() *audio.Player {
					return audio.NewPlayer(&audio.FileSink{Path: audioOut, Realtime: true}, gateway.SpeechSampleRate, gateway.SpeechChannels)
				}
			}
			sessions := session.NewRegistry(st, gw, cat, opts)
			defer sessions.Close(context.Background())

			var sess *session.Session
			if sessionID != "" {
				sess, err = sessions.Get(ctx, sessionID)
			} else {
				prompts, perr := cfg.Prompts(gw)
				if perr != nil {
					return perr
				}
				sess, err = forge(ctx, cmd.OutOrStdout(), builder.New(gw, cat, prompts), sessions, prompt, concept)
			}
			if err != nil {
				return err
			}
			return converse(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), sessions, sess)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "resume a saved session")
	cmd.Flags().StringVar(&prompt, "prompt", "", "describe a new character (random when empty)")
	cmd.Flags().IntVar(&concept, "concept", 0, "which concept image to build from")
	cmd.Flags().StringVar(&audioOut, "audio-out", "", "write each spoken reply to this WAV file")
	return cmd
}

// forge はお題からコンセプトを作り、1枚を選んでキャラクターを完成させます。
func forge(ctx context.Context, out io.Writer, b *builder.Builder, sessions *session.Registry, prompt string, pick int) (*session.Session, error) {
	if strings.TrimSpace(prompt) == "" {
		ps, err := b.SuggestPrompts(ctx, 1)
		if err != nil {
			return nil, err
		}
		prompt = ps[0]
	}
	fmt.Fprintf(out, "Forging: %s\n", prompt)
	concepts, err := b.GenerateConcepts(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if pick < 0 || pick >= len(concepts) {
		pick = 0
	}
	fmt.Fprintf(out, "%d concepts ready, building from #%d...\n", len(concepts), pick)
	res, err := b.BuildFromConcept(ctx, concepts[pick], prompt)
	if err != nil {
		return nil, err
	}
	return sessions.Create(ctx, res.Prompt, res.Character, res.State)
}

func converse(ctx context.Context, in io.Reader, out io.Writer, sessions *session.Registry, sess *session.Session) error {
	d := sess.Dialogue
	cr := renderer.NewConsoleRenderer(out, d.Name())
	rctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if err := cr.Render(rctx, d.Bus(), &wg); err != nil {
		cancel()
		return err
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	fmt.Fprintf(out, "Session %s with %s. Type /help for commands.\n", sess.ID, d.Name())
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return sessions.Save(context.Background(), sess.ID)
		case l, ok := <-lines:
			if !ok {
				return sessions.Save(context.Background(), sess.ID)
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		quit, err := command(ctx, out, sessions, sess, cr, line)
		if err != nil {
			fmt.Fprintln(out, "!", err)
		}
		if err := sessions.Save(ctx, sess.ID); err != nil {
			fmt.Fprintln(out, "! save failed:", err)
		}
		if quit {
			return nil
		}
	}
}

func command(ctx context.Context, out io.Writer, sessions *session.Registry, sess *session.Session, cr *renderer.ConsoleRenderer, line string) (bool, error) {
	d := sess.Dialogue
	if !strings.HasPrefix(line, "/") {
		if n, err := strconv.Atoi(line); err == nil {
			choice, ok := lastChoice(d.History(), n)
			if !ok {
				return false, fmt.Errorf("no reply #%d", n)
			}
			line = choice
		}
		_, err := d.HandleTurn(ctx, line)
		return false, err
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(out, chatHelp)
	case "status":
		st := d.Status()
		fmt.Fprintf(out, "%s | %s (affinity %d) | credits %d | hunger %d energy %d mood %d | %s\n",
			st.Name, st.Level, st.Affinity, st.Credits, st.Vitals.Hunger, st.Vitals.Energy, st.Vitals.Mood, st.Environment)
		for _, q := range st.Quests {
			fmt.Fprintf(out, "  quest: %s - %s\n", q.Title, q.Description)
		}
		for _, r := range st.Rewards {
			fmt.Fprintf(out, "  memory %s: %s (%s)\n", r.ID, r.Title, r.Status)
		}
	case "quest":
		return false, d.StartQuest(arg)
	case "unlock":
		_, err := d.UnlockReward(ctx, arg)
		return false, err
	case "buy":
		return false, d.Buy(arg)
	case "use":
		return false, d.Use(arg)
	case "env":
		return false, d.SetEnvironment(arg)
	case "outfit":
		_, err := d.ModifyImage(ctx, dialogue.ModifyRequest{Style: arg})
		return false, err
	case "rename":
		cr.SetName(d.Rename(arg))
	case "reroll":
		cr.SetName(d.RerollName(ctx))
	case "tts":
		d.SetTTS(arg == "on")
	case "export":
		if arg == "" {
			return false, errors.New("usage: /export <path>")
		}
		f, err := os.Create(arg)
		if err != nil {
			return false, err
		}
		defer f.Close()
		return false, sessions.Export(ctx, sess.ID, f)
	default:
		return false, fmt.Errorf("unknown command /%s", name)
	}
	return false, nil
}

func lastChoice(history []message.Chat, n int) (string, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != message.RoleModel {
			continue
		}
		if n < 1 || n > len(history[i].Choices) {
			return "", false
		}
		return history[i].Choices[n-1], true
	}
	return "", false
}
