package dialogue

import (
	"time"

	"github.com/sat8bit/nexus/character"
	"github.com/sat8bit/nexus/message"
)

// setPoseLocked は表示ポーズを切り替え、neutral 以外なら dwell 後に neutral へ戻すタイマーを張ります。
// 新しいターンで上書きされたタイマーは何もしません。
func (o *Orchestrator) setPoseLocked(e message.Emotion) {
	o.pose = e
	o.poseSeq++
	if o.poseTimer != nil {
		o.poseTimer.Stop()
		o.poseTimer = nil
	}
	if e == message.EmotionNeutral {
		return
	}
	seq := o.poseSeq
	o.poseTimer = time.AfterFunc(o.dwell, func() { o.revertPose(seq) })
}

func (o *Orchestrator) revertPose(seq uint64) {
	o.mu.Lock()
	if seq != o.poseSeq || o.closed {
		o.mu.Unlock()
		return
	}
	o.pose = message.EmotionNeutral
	o.poseTimer = nil
	o.mu.Unlock()
	o.publish(&message.Message{Kind: message.KindPose, Text: string(message.EmotionNeutral)})
}

// Pose は現在の感情ラベルです。
func (o *Orchestrator) Pose() message.Emotion {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pose
}

// DisplayedImage は今表示すべき画像です。ピン留めがあればそれを優先します。
func (o *Orchestrator) DisplayedImage() character.ImageAsset {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pinned != nil {
		return *o.pinned
	}
	return o.ch.Gallery.PoseFor(o.pose)
}

// Pin はギャラリーの画像を固定表示します。固定中は感情によるポーズ切り替えを行いません。
func (o *Orchestrator) Pin(img character.ImageAsset) error {
	o.mu.Lock()
	if !o.ch.Gallery.Contains(img) && !o.inVaultLocked(img) {
		o.mu.Unlock()
		return ErrNotInGallery
	}
	o.pinned = &img
	o.mu.Unlock()
	o.publish(&message.Message{Kind: message.KindPose, Text: "pinned"})
	return nil
}

func (o *Orchestrator) Unpin() {
	o.mu.Lock()
	o.pinned = nil
	pose := o.pose
	o.mu.Unlock()
	o.publish(&message.Message{Kind: message.KindPose, Text: string(pose)})
}

func (o *Orchestrator) Pinned() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pinned != nil
}

func (o *Orchestrator) inVaultLocked(img character.ImageAsset) bool {
	for _, r := range o.st.Rewards {
		if r.Image != nil && r.Image.Equal(img) {
			return true
		}
	}
	return false
}
