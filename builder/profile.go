package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sat8bit/nexus/character"
	"github.com/sat8bit/nexus/gateway"
	"github.com/sat8bit/nexus/relationship"
)

// poseInstructions は character.PoseOrder と同じ並びです。
var poseInstructions = []string{
	"Head-to-toe full body view, standing neutral, entire body in frame.",
	"Head-to-toe full body view, laughing joyfully, wide smile, expressive standing pose.",
	"Head-to-toe full body view, aggressive angry combat pose, snarling expression.",
	"Head-to-toe full body view, thoughtful contemplative pose, finger to chin.",
}

var profileSchema = gateway.Object(map[string]*gateway.Schema{
	"name":        gateway.String("the character's name"),
	"personality": gateway.ArrayOf(gateway.String("a personality trait")),
	"backstory":   gateway.String("a short backstory that mentions the character by name"),
	"voicePrompt": gateway.String("a one sentence description of how the character sounds"),
	"baseApparel": gateway.ArrayOf(gateway.String("a distinct garment or accessory visible in the image")),
	"quests": gateway.ArrayOf(gateway.Object(map[string]*gateway.Schema{
		"title":       gateway.String(""),
		"description": gateway.String(""),
	}, "title", "description")),
}, "name", "personality", "backstory", "voicePrompt", "baseApparel", "quests")

// QuestSchema は代わりのクエスト1件分の構造です。
var QuestSchema = gateway.Object(map[string]*gateway.Schema{
	"title":       gateway.String("a short quest title"),
	"description": gateway.String("one or two sentences"),
}, "title", "description")

func conceptInstructions(prompt string) string {
	return fmt.Sprintf("Full-length standing character concept art. Head-to-toe view. The entire character including legs and shoes must be fully visible and centered in the frame. No cropping. Subject: %s. Cinematic lighting, white background.", prompt)
}

func canonicalInstructions(prompt string) string {
	return fmt.Sprintf("Maintain character consistency. Redraw this character as a clean canonical full-body reference, head-to-toe, neutral standing pose, plain white background. Subject: %s.", prompt)
}

// GenerateProfile は画像とお題から名前・性格・背景・衣装・クエストを生成します。
func GenerateProfile(ctx context.Context, gw gateway.Gateway, img character.ImageAsset, prompt string) (*character.Character, error) {
	text := "Analyze this character and create a profile in JSON."
	if prompt != "" && prompt != "Reforged" {
		text = fmt.Sprintf("Create a character profile in JSON for this character. Concept: %s", prompt)
	}
	text += " List every distinct garment or accessory you can see in baseApparel. Provide three quests."
	raw, err := gw.SynthesizeStructuredText(ctx, gateway.Context{
		Prompt: text,
		Images: []character.ImageAsset{img},
	}, profileSchema)
	if err != nil {
		return nil, fmt.Errorf("builder.GenerateProfile: %w", err)
	}
	var ch character.Character
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, fmt.Errorf("builder.GenerateProfile: %w", &gateway.GenerationError{Stage: gateway.StageText, Err: err})
	}
	ch.Name = strings.TrimSpace(ch.Name)
	if ch.Name == "" {
		return nil, fmt.Errorf("builder.GenerateProfile: %w", &gateway.GenerationError{Stage: gateway.StageText, Err: errors.New("profile has no name")})
	}
	return &ch, nil
}

// GeneratePoses は4つの感情ポーズを並行に生成します。1枚でも失敗したらエラーです。
func GeneratePoses(ctx context.Context, gw gateway.Gateway, canonical character.ImageAsset) ([]character.ImageAsset, error) {
	poses := make([]character.ImageAsset, len(poseInstructions))
	eg, ctx := errgroup.WithContext(ctx)
	for i, inst := range poseInstructions {
		eg.Go(func() error {
			img, err := gw.SynthesizeImage(ctx, []character.ImageAsset{canonical},
				fmt.Sprintf("Maintain character consistency. %s Ensure the entire character fits in the frame from top to bottom.", inst),
				gateway.AspectPortrait)
			if err != nil {
				return fmt.Errorf("pose %d: %w", i, err)
			}
			poses[i] = img
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("builder.GeneratePoses: %w", err)
	}
	return poses, nil
}

// GenerateQuest は完了したクエストの代わりを1件生成します。
func GenerateQuest(ctx context.Context, gw gateway.Gateway, ch *character.Character, completed string) (character.Quest, error) {
	var existing []string
	for _, q := range ch.Quests {
		existing = append(existing, q.Title)
	}
	raw, err := gw.SynthesizeStructuredText(ctx, gateway.Context{
		System: fmt.Sprintf("You write quests for %s. Personality: %s. Backstory: %s",
			ch.Name, strings.Join(ch.Personality, ", "), ch.Backstory),
		Prompt: fmt.Sprintf("The quest %q was just completed. Write one new quest that follows from it and differs from: %s.",
			completed, strings.Join(existing, "; ")),
	}, QuestSchema)
	if err != nil {
		return character.Quest{}, fmt.Errorf("builder.GenerateQuest: %w", err)
	}
	var q character.Quest
	if err := json.Unmarshal(raw, &q); err != nil || strings.TrimSpace(q.Title) == "" {
		if err == nil {
			err = errors.New("quest has no title")
		}
		return character.Quest{}, fmt.Errorf("builder.GenerateQuest: %w", &gateway.GenerationError{Stage: gateway.StageText, Err: err})
	}
	q.Title = strings.TrimSpace(q.Title)
	return q, nil
}

// RerollName は新しい名前を生成して全体に反映します。失敗時は何も変えません。
func RerollName(ctx context.Context, gw gateway.Gateway, ch *character.Character, s *relationship.State) (string, error) {
	name, err := gw.SynthesizeText(ctx, gateway.Context{
		Prompt: fmt.Sprintf("Based on this character profile, generate 1 unique and fitting name.\nPersonality: %s.\nBackstory: %s.\nReturn ONLY the name string.",
			strings.Join(ch.Personality, ", "), ch.Backstory),
	})
	if err != nil {
		return "", fmt.Errorf("builder.RerollName: %w", err)
	}
	name = cleanName(name)
	if name == "" {
		return "", fmt.Errorf("builder.RerollName: %w", &gateway.GenerationError{Stage: gateway.StageText, Err: errors.New("empty name")})
	}
	Rename(ch, s, name)
	return name, nil
}

// Rename は名前を変え、背景やクエスト、チャット履歴、報酬の文面に残る旧名を置き換えます。
// 旧名を返します。
func Rename(ch *character.Character, s *relationship.State, newName string) string {
	newName = strings.TrimSpace(newName)
	old := ch.Name
	if newName == "" || newName == old {
		return old
	}
	ch.Rename(newName)
	if s != nil {
		for i := range s.ChatHistory {
			s.ChatHistory[i].Text = character.ReplaceName(s.ChatHistory[i].Text, old, newName)
		}
		s.ActiveQuest = character.ReplaceName(s.ActiveQuest, old, newName)
		for i := range s.Rewards {
			r := &s.Rewards[i]
			r.Title = character.ReplaceName(r.Title, old, newName)
			r.Description = character.ReplaceName(r.Description, old, newName)
			r.Prompt = character.ReplaceName(r.Prompt, old, newName)
		}
		for i := range s.MemoryBank {
			s.MemoryBank[i] = character.ReplaceName(s.MemoryBank[i], old, newName)
		}
	}
	return old
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(strings.Trim(s, "\"'*`. "))
}
