package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/sat8bit/nexus/archive"
	"github.com/sat8bit/nexus/builder"
	"github.com/sat8bit/nexus/character"
	"github.com/sat8bit/nexus/gateway"
	"github.com/sat8bit/nexus/message"
	"github.com/sat8bit/nexus/relationship"
)

// completeQuestLocked は進行中のクエストを達成扱いにし、代わりのクエストを裏で生成します。
// 一覧からはすぐに取り除き、代わりは同じ位置に差し込みます。
func (o *Orchestrator) completeQuestLocked() relationship.Reward {
	title := o.st.ActiveQuest
	q := character.Quest{Title: title}
	if i := o.ch.QuestIndex(title); i >= 0 {
		q = o.ch.Quests[i]
	}
	at := o.ch.RemoveQuest(title)
	reward := o.st.CompleteQuest(q, o.newID(), o.now())

	snapshot := *o.ch
	snapshot.Quests = append([]character.Quest(nil), o.ch.Quests...)
	o.pending.Add(1)
	go o.replaceQuest(&snapshot, title, at)
	return reward
}

// replaceQuest は生成中に改名されていれば新しい名前に直してから差し込みます。
// 達成したクエストや同じ題のクエストが一覧に戻っていれば古い結果として捨てます。
func (o *Orchestrator) replaceQuest(snapshot *character.Character, completed string, at int) {
	defer o.pending.Done()
	ctx, cancel := context.WithTimeout(context.Background(), questTimeout)
	defer cancel()

	q, err := builder.GenerateQuest(ctx, o.gw, snapshot, completed)
	if err != nil {
		o.log.WarnContext(ctx, "replacement quest failed", "completed", completed, "error", err)
		return
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if name := o.ch.Name; name != snapshot.Name {
		completed = character.ReplaceName(completed, snapshot.Name, name)
		q.Title = character.ReplaceName(q.Title, snapshot.Name, name)
		q.Description = character.ReplaceName(q.Description, snapshot.Name, name)
	}
	if o.ch.QuestIndex(completed) >= 0 || o.ch.QuestIndex(q.Title) >= 0 {
		o.mu.Unlock()
		o.log.InfoContext(ctx, "discarding stale replacement quest", "completed", completed, "quest", q.Title)
		return
	}
	if at < 0 {
		at = len(o.ch.Quests)
	}
	o.ch.InsertQuest(at, q)
	o.mu.Unlock()
	o.publish(&message.Message{Kind: message.KindQuest, Text: "New quest: " + q.Title})
}

// StartQuest はクエストを会話のシナリオとして設定します。
func (o *Orchestrator) StartQuest(title string) error {
	o.mu.Lock()
	if o.ch.QuestIndex(title) < 0 {
		o.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownQuest, title)
	}
	o.st.StartQuest(title)
	o.mu.Unlock()
	o.publish(&message.Message{Kind: message.KindQuest, Text: "Quest started: " + title})
	return nil
}

// UnlockReward はロック中の記憶の画像を生成して解放します。
func (o *Orchestrator) UnlockReward(ctx context.Context, id string) (*relationship.Reward, error) {
	o.mu.Lock()
	r, err := o.st.Reward(id)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	if r.Status == relationship.RewardUnlocked {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", relationship.ErrRewardAlreadyUnlocked, id)
	}
	prompt := r.Prompt
	ref := o.ch.Gallery.Main
	o.mu.Unlock()

	img, err := o.gw.SynthesizeImage(ctx, []character.ImageAsset{ref}, prompt+" Maintain character consistency.", gateway.AspectLandscape)
	if err != nil {
		return nil, fmt.Errorf("dialogue.Orchestrator.UnlockReward: %w", err)
	}

	o.mu.Lock()
	if err := o.st.UnlockReward(id, img); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	r, _ = o.st.Reward(id)
	out := *r
	o.mu.Unlock()
	o.publishState()
	return &out, nil
}

// ModifyRequest は画像加工の依頼です。Style があれば衣装違い、なければ脱衣・背景の反映です。
type ModifyRequest struct {
	Style       string `json:"style,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// ModifyImage はメイン画像を元に加工した画像を生成し、ギャラリーへ振り分けて固定表示します。
// 衣装違いにはクレジットを消費します。
func (o *Orchestrator) ModifyImage(ctx context.Context, req ModifyRequest) (character.ImageAsset, error) {
	style := strings.TrimSpace(req.Style)
	env := strings.TrimSpace(req.Environment)

	o.mu.Lock()
	if env != "" && !o.catalog.HasEnvironment(env) {
		o.mu.Unlock()
		return character.ImageAsset{}, fmt.Errorf("%w: %q", relationship.ErrUnknownEnvironment, env)
	}
	if style != "" && o.st.Credits < o.catalog.CostumeCost {
		have := o.st.Credits
		o.mu.Unlock()
		return character.ImageAsset{}, fmt.Errorf("%w: have %d, need %d", relationship.ErrInsufficientCredits, have, o.catalog.CostumeCost)
	}
	if env == "" {
		env = o.st.Environment
	}
	if style == "" && req.Environment == "" && len(o.st.RemovedApparel) == 0 {
		o.mu.Unlock()
		return character.ImageAsset{}, ErrNothingToDraw
	}
	inst := modifyInstructions(style, env, wornApparel(o.ch, o.st), o.st.RemovedApparel)
	ref := o.ch.Gallery.Main
	o.mu.Unlock()

	img, err := o.gw.SynthesizeImage(ctx, []character.ImageAsset{ref}, inst, gateway.AspectPortrait)
	if err != nil {
		return character.ImageAsset{}, fmt.Errorf("dialogue.Orchestrator.ModifyImage: %w", err)
	}

	o.mu.Lock()
	if style != "" {
		if err := o.st.Spend(o.catalog.CostumeCost); err != nil {
			o.mu.Unlock()
			return character.ImageAsset{}, err
		}
	}
	if req.Environment != "" {
		_ = o.st.SetEnvironment(o.catalog, env)
	}
	o.st.RecordImageModification(&o.ch.Gallery, img, style != "")
	pinned := img
	o.pinned = &pinned
	o.mu.Unlock()

	o.publishState()
	o.publish(&message.Message{Kind: message.KindPose, Text: "pinned"})
	return img, nil
}

func modifyInstructions(style, env string, wearing, removed []string) string {
	var b strings.Builder
	b.WriteString("Maintain character consistency and identity. Head-to-toe full body view, entire body in frame.")
	if style != "" {
		fmt.Fprintf(&b, " Redress the character in this outfit style: %s.", style)
	} else {
		if len(removed) > 0 {
			fmt.Fprintf(&b, " The character is no longer wearing: %s.", strings.Join(removed, ", "))
		}
		if len(wearing) > 0 {
			fmt.Fprintf(&b, " Keep: %s.", strings.Join(wearing, ", "))
		}
	}
	fmt.Fprintf(&b, " Place the character in this setting: %s.", env)
	return b.String()
}

// ToggleApparel は衣装の着脱を切り替えます。画像は作り直しません。
func (o *Orchestrator) ToggleApparel(item string) []string {
	o.mu.Lock()
	out := append([]string(nil), o.st.ToggleApparel(o.ch, item)...)
	o.mu.Unlock()
	o.publishState()
	return out
}

func (o *Orchestrator) SetEnvironment(env string) error {
	o.mu.Lock()
	err := o.st.SetEnvironment(o.catalog, env)
	o.mu.Unlock()
	if err != nil {
		return err
	}
	o.publishState()
	return nil
}

func (o *Orchestrator) Buy(itemID string) error {
	o.mu.Lock()
	err := o.st.Purchase(o.catalog, itemID)
	o.mu.Unlock()
	if err != nil {
		return err
	}
	o.publishState()
	return nil
}

func (o *Orchestrator) Use(itemID string) error {
	o.mu.Lock()
	err := o.st.UseItem(o.catalog, itemID)
	o.mu.Unlock()
	if err != nil {
		return err
	}
	o.publishState()
	return nil
}

// Rename は名前を変えます。生成中の無操作メッセージは破棄され、クエストの差し替えは新しい名前で届きます。
func (o *Orchestrator) Rename(name string) string {
	o.mu.Lock()
	old := builder.Rename(o.ch, o.st, name)
	changed := o.ch.Name != old
	if changed {
		o.epoch++
	}
	current := o.ch.Name
	o.mu.Unlock()
	if changed {
		o.publish(&message.Message{Kind: message.KindSystem, Text: fmt.Sprintf("%s is now known as %s", old, current)})
	}
	return current
}

// RerollName は名前を生成し直します。失敗しても名前はそのままで、ログに残すだけです。
func (o *Orchestrator) RerollName(ctx context.Context) string {
	o.mu.Lock()
	subject := character.Character{Name: o.ch.Name, Personality: o.ch.Personality, Backstory: o.ch.Backstory}
	o.mu.Unlock()

	name, err := builder.RerollName(ctx, o.gw, &subject, nil)
	if err != nil {
		o.log.WarnContext(ctx, "name reroll failed", "error", err)
		return o.Name()
	}
	return o.Rename(name)
}

func (o *Orchestrator) Name() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ch.Name
}

// SetTTS は読み上げの有効・無効を切り替え、無効にしたときは再生中の音声を止めます。
func (o *Orchestrator) SetTTS(enabled bool) {
	o.mu.Lock()
	o.st.TTSEnabled = enabled
	o.mu.Unlock()
	if !enabled && o.player != nil {
		o.player.Stop()
	}
	o.publishState()
}

// Status は画面表示用の状態のスナップショットです。
type Status struct {
	Name           string                   `json:"name"`
	Level          relationship.Level       `json:"relationshipLevel"`
	Affinity       int                      `json:"affinityScore"`
	Credits        int                      `json:"credits"`
	Vitals         relationship.Vitals      `json:"vitals"`
	Disposition    relationship.Disposition `json:"disposition"`
	Environment    string                   `json:"environment"`
	RemovedApparel []string                 `json:"removedApparel"`
	ActiveQuest    string                   `json:"activeQuest,omitempty"`
	Quests         []character.Quest        `json:"quests"`
	Inventory      map[string]int           `json:"inventory"`
	TTSEnabled     bool                     `json:"ttsEnabled"`
	Pose           message.Emotion          `json:"pose"`
	Pinned         bool                     `json:"pinned"`
	View           View                     `json:"view"`
	Rewards        []RewardStatus           `json:"rewards"`
	Wardrobe       int                      `json:"wardrobe"`
	Modifications  int                      `json:"modifications"`
}

type RewardStatus struct {
	ID     string                    `json:"id"`
	Title  string                    `json:"title"`
	Status relationship.RewardStatus `json:"status"`
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Status{
		Name:           o.ch.Name,
		Level:          o.st.Level(),
		Affinity:       o.st.AffinityScore,
		Credits:        o.st.Credits,
		Vitals:         o.st.Vitals,
		Disposition:    o.st.Disposition,
		Environment:    o.st.Environment,
		RemovedApparel: append([]string{}, o.st.RemovedApparel...),
		ActiveQuest:    o.st.ActiveQuest,
		Quests:         append([]character.Quest{}, o.ch.Quests...),
		Inventory:      make(map[string]int, len(o.st.Inventory)),
		TTSEnabled:     o.st.TTSEnabled,
		Pose:           o.pose,
		Pinned:         o.pinned != nil,
		View:           o.view,
		Rewards:        []RewardStatus{},
		Wardrobe:       len(o.ch.Gallery.Wardrobe),
		Modifications:  len(o.ch.Gallery.Modifications),
	}
	for k, v := range o.st.Inventory {
		s.Inventory[k] = v
	}
	for _, r := range o.st.Rewards {
		s.Rewards = append(s.Rewards, RewardStatus{ID: r.ID, Title: r.Title, Status: r.Status})
	}
	return s
}

func (o *Orchestrator) History() []message.Chat {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]message.Chat(nil), o.st.ChatHistory...)
}

// Snapshot は保存・書き出し用に、現在のキャラクターと状態の複製を返します。
func (o *Orchestrator) Snapshot(prompt string) archive.Bundle {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := *o.ch
	ch.Personality = append([]string(nil), o.ch.Personality...)
	ch.BaseApparel = append([]string(nil), o.ch.BaseApparel...)
	ch.Quests = append([]character.Quest(nil), o.ch.Quests...)
	ch.Gallery.Poses = make(map[message.Emotion]character.ImageAsset, len(o.ch.Gallery.Poses))
	for k, v := range o.ch.Gallery.Poses {
		ch.Gallery.Poses[k] = v
	}
	ch.Gallery.Wardrobe = append([]character.ImageAsset(nil), o.ch.Gallery.Wardrobe...)
	ch.Gallery.Modifications = append([]character.ImageAsset(nil), o.ch.Gallery.Modifications...)

	st := *o.st
	st.RemovedApparel = append([]string(nil), o.st.RemovedApparel...)
	st.ChatHistory = append([]message.Chat(nil), o.st.ChatHistory...)
	st.Rewards = append([]relationship.Reward(nil), o.st.Rewards...)
	st.MemoryBank = append([]string(nil), o.st.MemoryBank...)
	st.Inventory = make(map[string]int, len(o.st.Inventory))
	for k, v := range o.st.Inventory {
		st.Inventory[k] = v
	}
	return archive.Bundle{Prompt: prompt, Character: &ch, State: &st}
}
