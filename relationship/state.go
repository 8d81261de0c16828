package relationship

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sat8bit/nexus/character"
	"github.com/sat8bit/nexus/message"
)

var (
	ErrUnknownItem           = errors.New("unknown item")
	ErrNotInInventory        = errors.New("item not in inventory")
	ErrInsufficientCredits   = errors.New("insufficient credits")
	ErrUnknownEnvironment    = errors.New("unknown environment")
	ErrUnknownReward         = errors.New("unknown reward")
	ErrRewardAlreadyUnlocked = errors.New("reward already unlocked")
)

const (
	statMin = 0
	statMax = 100
)

type Vitals struct {
	Hunger int `json:"hunger"`
	Energy int `json:"energy"`
	Mood   int `json:"mood"`
}

// Disposition はチャットのたびに少しずつ揺れる性格の傾きです。
// 加算用の差分としても同じ型を使います。
type Disposition struct {
	Kindness      int `json:"kindness"`
	Assertiveness int `json:"assertiveness"`
	Intimacy      int `json:"intimacy"`
}

type RewardStatus string

const (
	RewardLocked   RewardStatus = "locked"
	RewardUnlocked RewardStatus = "unlocked"
)

// Reward はクエスト達成で得られる「記憶」です。画像はアンロック時に生成されます。
type Reward struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Prompt      string                `json:"prompt"`
	Status      RewardStatus          `json:"status"`
	Image       *character.ImageAsset `json:"image,omitempty"`
	EarnedAt    time.Time             `json:"dateEarned"`
}

// State は1セッション分の可変な進行データです。
// 値の変更は必ずこのパッケージの遷移メソッドを通し、範囲の制約はそこで守ります。
type State struct {
	AffinityScore  int
	Credits        int
	Vitals         Vitals
	Disposition    Disposition
	RemovedApparel []string
	Environment    string
	ChatHistory    []message.Chat
	Inventory      map[string]int
	Rewards        []Reward
	ActiveQuest    string
	TTSEnabled     bool
	MemoryBank     []string
}

// New は新しいセッションの初期状態を返します。
func New(c *Catalog) *State {
	s := &State{
		Credits:     c.StartingCredits,
		Vitals:      Vitals{Hunger: 80, Energy: 80, Mood: 70},
		Disposition: Disposition{Kindness: 50, Assertiveness: 50, Intimacy: 20},
		Environment: c.DefaultEnvironment(),
		Inventory:   make(map[string]int),
		TTSEnabled:  true,
	}
	return s
}

func (s *State) Level() Level {
	return LevelFor(s.AffinityScore)
}

// ApplyChatDelta はチャット1ターン分の変化を反映します。
func (s *State) ApplyChatDelta(affinityGain, creditGain int, shift *Disposition) {
	s.AffinityScore = floor0(s.AffinityScore + affinityGain)
	s.Credits = floor0(s.Credits + creditGain)
	if shift != nil {
		s.Disposition.Kindness = clamp(s.Disposition.Kindness + shift.Kindness)
		s.Disposition.Assertiveness = clamp(s.Disposition.Assertiveness + shift.Assertiveness)
		s.Disposition.Intimacy = clamp(s.Disposition.Intimacy + shift.Intimacy)
	}
}

// ToggleApparel は衣装の着脱を切り替え、新しい removedApparel を返します。
// baseApparel に無い衣装は無視します。画像の再生成は行いません。
func (s *State) ToggleApparel(c *character.Character, item string) []string {
	name, ok := c.HasApparel(item)
	if !ok {
		return s.RemovedApparel
	}
	for i, r := range s.RemovedApparel {
		if r == name {
			s.RemovedApparel = append(s.RemovedApparel[:i:i], s.RemovedApparel[i+1:]...)
			return s.RemovedApparel
		}
	}
	s.RemovedApparel = append(s.RemovedApparel, name)
	return s.RemovedApparel
}

func (s *State) SetEnvironment(c *Catalog, env string) error {
	if !c.HasEnvironment(env) {
		return fmt.Errorf("%w: %q", ErrUnknownEnvironment, env)
	}
	s.Environment = env
	return nil
}

// Purchase はクレジットを消費してアイテムをインベントリに加えます。
func (s *State) Purchase(c *Catalog, itemID string) error {
	it, err := c.Item(itemID)
	if err != nil {
		return err
	}
	if err := s.Spend(it.Cost); err != nil {
		return err
	}
	if s.Inventory == nil {
		s.Inventory = make(map[string]int)
	}
	s.Inventory[it.ID]++
	return nil
}

// Spend はクレジットを消費します。足りなければ何も変えずにエラーを返します。
func (s *State) Spend(amount int) error {
	if amount < 0 {
		amount = 0
	}
	if s.Credits < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientCredits, s.Credits, amount)
	}
	s.Credits -= amount
	return nil
}

// UseItem はインベントリから1つ消費し、アイテムのステータス差分を反映します。
func (s *State) UseItem(c *Catalog, itemID string) error {
	it, err := c.Item(itemID)
	if err != nil {
		return err
	}
	if s.Inventory[it.ID] <= 0 {
		return fmt.Errorf("%w: %q", ErrNotInInventory, itemID)
	}
	s.Inventory[it.ID]--
	if s.Inventory[it.ID] == 0 {
		delete(s.Inventory, it.ID)
	}
	s.Vitals.Hunger = clamp(s.Vitals.Hunger + it.StatImpact.Hunger)
	s.Vitals.Energy = clamp(s.Vitals.Energy + it.StatImpact.Energy)
	s.Vitals.Mood = clamp(s.Vitals.Mood + it.StatImpact.Mood)
	s.AffinityScore = floor0(s.AffinityScore + it.StatImpact.Affinity)
	return nil
}

// RecordImageModification は画像加工の結果をギャラリーに振り分けます。
// 名前付きのスタイル（衣装）指定なら wardrobe、それ以外（脱衣・背景のみ）は modifications です。
func (s *State) RecordImageModification(g *character.Gallery, img character.ImageAsset, namedStyle bool) {
	if namedStyle {
		g.Wardrobe = append(g.Wardrobe, img)
		return
	}
	g.Modifications = append(g.Modifications, img)
}

func (s *State) AppendChat(m message.Chat) {
	s.ChatHistory = append(s.ChatHistory, m)
}

// StartQuest は会話のシナリオとして使うクエストを設定します。
func (s *State) StartQuest(title string) {
	s.ActiveQuest = strings.TrimSpace(title)
}

// CompleteQuest はクエストを達成扱いにし、ロック状態の Reward を1つ追加して返します。
// 代わりのクエスト生成は生成 API を伴うため呼び出し側の責務です。
func (s *State) CompleteQuest(q character.Quest, id string, now time.Time) Reward {
	if s.ActiveQuest == q.Title {
		s.ActiveQuest = ""
	}
	r := Reward{
		ID:          id,
		Title:       q.Title,
		Description: q.Description,
		Prompt:      fmt.Sprintf("A cinematic memory of the moment this quest was completed: %s. %s", q.Title, q.Description),
		Status:      RewardLocked,
		EarnedAt:    now,
	}
	s.Rewards = append(s.Rewards, r)
	s.Vitals.Mood = clamp(s.Vitals.Mood + 15)
	s.MemoryBank = append(s.MemoryBank, q.Title)
	return r
}

func (s *State) Reward(id string) (*Reward, error) {
	for i := range s.Rewards {
		if s.Rewards[i].ID == id {
			return &s.Rewards[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownReward, id)
}

// UnlockReward はロック中の Reward に画像を付けて解放します。
func (s *State) UnlockReward(id string, img character.ImageAsset) error {
	r, err := s.Reward(id)
	if err != nil {
		return err
	}
	if r.Status == RewardUnlocked {
		return fmt.Errorf("%w: %q", ErrRewardAlreadyUnlocked, id)
	}
	r.Status = RewardUnlocked
	r.Image = &img
	return nil
}

// Normalize は読み込んだ状態を制約の範囲に収めます。取り込み境界で使います。
func (s *State) Normalize(c *Catalog, ch *character.Character) {
	s.AffinityScore = floor0(s.AffinityScore)
	s.Credits = floor0(s.Credits)
	s.Vitals = Vitals{Hunger: clamp(s.Vitals.Hunger), Energy: clamp(s.Vitals.Energy), Mood: clamp(s.Vitals.Mood)}
	s.Disposition = Disposition{
		Kindness:      clamp(s.Disposition.Kindness),
		Assertiveness: clamp(s.Disposition.Assertiveness),
		Intimacy:      clamp(s.Disposition.Intimacy),
	}
	if !c.HasEnvironment(s.Environment) {
		s.Environment = c.DefaultEnvironment()
	}
	if s.Inventory == nil {
		s.Inventory = make(map[string]int)
	}
	for id, n := range s.Inventory {
		if n <= 0 {
			delete(s.Inventory, id)
		}
	}
	if ch != nil {
		kept := s.RemovedApparel[:0:0]
		for _, r := range s.RemovedApparel {
			if name, ok := ch.HasApparel(r); ok {
				kept = append(kept, name)
			}
		}
		s.RemovedApparel = kept
		if s.ActiveQuest != "" && ch.QuestIndex(s.ActiveQuest) < 0 {
			s.ActiveQuest = ""
		}
	}
}

func clamp(v int) int {
	if v < statMin {
		return statMin
	}
	if v > statMax {
		return statMax
	}
	return v
}

func floor0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
