package character

import (
	"fmt"

	"github.com/sat8bit/nexus/message"
)

// PoseOrder はポーズスロットの並び順です。書き出し時もこの順番を使います。
var PoseOrder = []message.Emotion{
	message.EmotionNeutral,
	message.EmotionHappy,
	message.EmotionAngry,
	message.EmotionThoughtful,
}

// Gallery はキャラクター1人分の画像群です。
// ポーズは感情ラベルをキーに持ち、欠けているスロットは neutral、最後に Main へフォールバックします。
type Gallery struct {
	Main          ImageAsset
	Original      *ImageAsset
	Poses         map[message.Emotion]ImageAsset
	Wardrobe      []ImageAsset
	Modifications []ImageAsset
}

// SetPoses は PoseOrder の順に並んだ4枚をスロットへ割り当てます。
func (g *Gallery) SetPoses(poses []ImageAsset) error {
	if len(poses) != len(PoseOrder) {
		return fmt.Errorf("character.Gallery.SetPoses: want %d poses, got %d", len(PoseOrder), len(poses))
	}
	g.Poses = make(map[message.Emotion]ImageAsset, len(PoseOrder))
	for i, e := range PoseOrder {
		g.Poses[e] = poses[i]
	}
	return nil
}

// PoseList は PoseOrder の順でポーズを返します。欠けたスロットは含みません。
func (g *Gallery) PoseList() []ImageAsset {
	out := make([]ImageAsset, 0, len(PoseOrder))
	for _, e := range PoseOrder {
		if p, ok := g.Poses[e]; ok && !p.Empty() {
			out = append(out, p)
		}
	}
	return out
}

// Ready は4スロットすべてが埋まっているかを返します。対話モードに入る前提条件です。
func (g *Gallery) Ready() bool {
	return len(g.PoseList()) == len(PoseOrder)
}

func (g *Gallery) PoseFor(e message.Emotion) ImageAsset {
	if p, ok := g.Poses[e]; ok && !p.Empty() {
		return p
	}
	if p, ok := g.Poses[message.EmotionNeutral]; ok && !p.Empty() {
		return p
	}
	return g.Main
}

// Contains はギャラリー内のどこかに同一画像があるかを返します。
func (g *Gallery) Contains(img ImageAsset) bool {
	if g.Main.Equal(img) || (g.Original != nil && g.Original.Equal(img)) {
		return true
	}
	for _, p := range g.Poses {
		if p.Equal(img) {
			return true
		}
	}
	for _, list := range [][]ImageAsset{g.Wardrobe, g.Modifications} {
		for _, w := range list {
			if w.Equal(img) {
				return true
			}
		}
	}
	return false
}
