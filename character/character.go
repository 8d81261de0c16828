package character

import (
	"bytes"
	"strings"
)

// ImageAsset は生成または取り込まれた画像1枚です。
// 一度作られたら変更せず、ギャラリーからは参照されるだけです。
type ImageAsset struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mimeType"`
}

func (a ImageAsset) Empty() bool {
	return len(a.Data) == 0
}

// Equal はバイト列が同一かどうかで比較します。
func (a ImageAsset) Equal(b ImageAsset) bool {
	return bytes.Equal(a.Data, b.Data)
}

// Quest はキャラクターが持つ物語上のクエストです。
// Title はチャットのシナリオから外部キーのように参照されます。
type Quest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Character は生成されたキャラクターのプロフィールと画像ギャラリーです。
type Character struct {
	Name        string   `json:"name"`
	Personality []string `json:"personality"`
	Backstory   string   `json:"backstory"`
	VoicePrompt string   `json:"voicePrompt"`
	BaseApparel []string `json:"baseApparel"`
	Quests      []Quest  `json:"quests"`
	Gallery     Gallery  `json:"-"`
}

// QuestIndex はタイトルが一致するクエストの位置を返します。見つからなければ -1。
func (c *Character) QuestIndex(title string) int {
	for i, q := range c.Quests {
		if q.Title == title {
			return i
		}
	}
	return -1
}

// RemoveQuest はタイトルが一致する最初の1件だけを取り除き、その位置を返します。
func (c *Character) RemoveQuest(title string) int {
	i := c.QuestIndex(title)
	if i < 0 {
		return -1
	}
	c.Quests = append(c.Quests[:i:i], c.Quests[i+1:]...)
	return i
}

// InsertQuest は指定位置にクエストを差し込みます。範囲外なら末尾に追加します。
func (c *Character) InsertQuest(at int, q Quest) {
	if at < 0 || at >= len(c.Quests) {
		c.Quests = append(c.Quests, q)
		return
	}
	c.Quests = append(c.Quests[:at], append([]Quest{q}, c.Quests[at:]...)...)
}

// HasApparel は baseApparel に含まれる衣装名かどうかを大文字小文字を無視して判定します。
func (c *Character) HasApparel(item string) (string, bool) {
	for _, a := range c.BaseApparel {
		if strings.EqualFold(a, item) {
			return a, true
		}
	}
	return "", false
}
