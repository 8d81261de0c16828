package dialogue

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/sat8bit/nexus/character"
	"github.com/sat8bit/nexus/gateway"
	"github.com/sat8bit/nexus/message"
	"github.com/sat8bit/nexus/relationship"
)

const maxTurnRunes = 2000

var replySchema = gateway.Object(map[string]*gateway.Schema{
	"text": gateway.String("your spoken response"),
	"emotion": {
		Type: gateway.TypeString,
		Enum: []string{"happy", "angry", "thoughtful", "neutral"},
	},
	"affinityGain":  gateway.Integer("between -5 and 10, how the user's input affects your relationship"),
	"currencyGain":  gateway.Integer("between 0 and 10 credits earned by the user for this exchange"),
	"choices":       gateway.ArrayOf(gateway.String("a short reply the user could choose next")),
	"questComplete": gateway.Boolean("true only if this exchange completes the active quest"),
	"dispositionShift": gateway.Object(map[string]*gateway.Schema{
		"kindness":      gateway.Integer("between -5 and 5"),
		"assertiveness": gateway.Integer("between -5 and 5"),
		"intimacy":      gateway.Integer("between -5 and 5"),
	}),
}, "text", "emotion", "affinityGain", "currencyGain")

type reply struct {
	Text             string
	Emotion          message.Emotion
	AffinityGain     int
	CurrencyGain     int
	Choices          []string
	QuestComplete    bool
	DispositionShift *relationship.Disposition
}

// parseReply は生成された応答を読み取ります。
// 数値はスキーマで整数を指定していても小数で返ることがあるので、float64 で受けて丸めます。
func parseReply(raw json.RawMessage) (*reply, error) {
	var r struct {
		Text             string   `json:"text"`
		Emotion          string   `json:"emotion"`
		AffinityGain     float64  `json:"affinityGain"`
		CurrencyGain     float64  `json:"currencyGain"`
		Choices          []string `json:"choices"`
		QuestComplete    bool     `json:"questComplete"`
		DispositionShift *struct {
			Kindness      float64 `json:"kindness"`
			Assertiveness float64 `json:"assertiveness"`
			Intimacy      float64 `json:"intimacy"`
		} `json:"dispositionShift"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, &gateway.GenerationError{Stage: gateway.StageText, Err: err}
	}
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return nil, &gateway.GenerationError{Stage: gateway.StageText, Err: errors.New("reply has no text")}
	}
	out := &reply{
		Text:          text,
		Emotion:       message.ParseEmotion(r.Emotion),
		AffinityGain:  gain(r.AffinityGain, -5, 10),
		CurrencyGain:  gain(r.CurrencyGain, 0, 10),
		QuestComplete: r.QuestComplete,
	}
	for _, c := range r.Choices {
		if c = strings.TrimSpace(c); c != "" && len(out.Choices) < 4 {
			out.Choices = append(out.Choices, c)
		}
	}
	if d := r.DispositionShift; d != nil {
		out.DispositionShift = &relationship.Disposition{
			Kindness:      gain(d.Kindness, -5, 5),
			Assertiveness: gain(d.Assertiveness, -5, 5),
			Intimacy:      gain(d.Intimacy, -5, 5),
		}
	}
	return out, nil
}

func turnSystemPrompt(ch *character.Character, st *relationship.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n", ch.Name)
	fmt.Fprintf(&b, "Personality: %s.\n", strings.Join(ch.Personality, ", "))
	fmt.Fprintf(&b, "Backstory: %s\n", ch.Backstory)
	b.WriteString("Roleplay as this character in a dating-sim style interaction. Keep responses punchy and under 3 sentences.\n")
	fmt.Fprintf(&b, "Relationship level: %s (affinity %d).\n", st.Level(), st.AffinityScore)
	fmt.Fprintf(&b, "Vitals: hunger %d, energy %d, mood %d (0-100).\n", st.Vitals.Hunger, st.Vitals.Energy, st.Vitals.Mood)
	fmt.Fprintf(&b, "Disposition: kindness %d, assertiveness %d, intimacy %d (0-100).\n",
		st.Disposition.Kindness, st.Disposition.Assertiveness, st.Disposition.Intimacy)
	fmt.Fprintf(&b, "Setting: %s.\n", st.Environment)
	if wearing := wornApparel(ch, st); len(wearing) > 0 {
		fmt.Fprintf(&b, "Currently wearing: %s.\n", strings.Join(wearing, ", "))
	}
	if st.ActiveQuest != "" {
		desc := ""
		if i := ch.QuestIndex(st.ActiveQuest); i >= 0 {
			desc = ch.Quests[i].Description
		}
		fmt.Fprintf(&b, "Active quest framing this scene: %q. %s\n", st.ActiveQuest, desc)
		b.WriteString("Set questComplete to true only when the user's actions resolve this quest.\n")
	}
	b.WriteString("You MUST respond ONLY with a raw JSON object matching the requested schema. Offer up to 3 short choices the user might reply with.")
	return b.String()
}

func idlePrompt(ch *character.Character, st *relationship.State) gateway.Context {
	return gateway.Context{
		System: fmt.Sprintf("You are %s. Personality: %s.", ch.Name, strings.Join(ch.Personality, ", ")),
		Prompt: fmt.Sprintf("The user has gone quiet for a few minutes. Your relationship is at the %s level and your mood is %d out of 100. "+
			"Say one short, unprompted line to get their attention again. Reply with the line only.", st.Level(), st.Vitals.Mood),
	}
}

func wornApparel(ch *character.Character, st *relationship.State) []string {
	var out []string
	for _, a := range ch.BaseApparel {
		removed := false
		for _, r := range st.RemovedApparel {
			if strings.EqualFold(a, r) {
				removed = true
				break
			}
		}
		if !removed {
			out = append(out, a)
		}
	}
	return out
}

func trimTurn(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxTurnRunes {
		s = string(r[:maxTurnRunes])
	}
	return s
}

// gain は四捨五入してから範囲に収めます。
func gain(v float64, lo, hi int) int {
	if math.IsNaN(v) {
		return 0
	}
	return bound(int(math.Round(math.Max(math.Min(v, float64(hi)), float64(lo)))), lo, hi)
}

func bound(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
