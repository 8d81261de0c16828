package message

import (
	"strings"
	"time"
)

// Role は会話履歴における発話者の役割です。
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Emotion はキャラクターの表情（ポーズ）を決めるための感情ラベルです。
type Emotion string

const (
	EmotionNeutral    Emotion = "neutral"
	EmotionHappy      Emotion = "happy"
	EmotionAngry      Emotion = "angry"
	EmotionThoughtful Emotion = "thoughtful"
)

// ParseEmotion はモデルが返した自由形式の感情文字列を4種類のラベルに丸めます。
// 判定できないものはすべて neutral になります。
func ParseEmotion(s string) Emotion {
	e := strings.ToLower(strings.TrimSpace(s))
	switch {
	case containsAny(e, "happy", "laugh", "joy", "smile"):
		return EmotionHappy
	case containsAny(e, "angry", "anger", "rage", "aggressive"):
		return EmotionAngry
	case containsAny(e, "think", "ponder", "thoughtful"):
		return EmotionThoughtful
	default:
		return EmotionNeutral
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Chat は会話履歴の1件分です。
type Chat struct {
	Role    Role     `json:"role" yaml:"role"`
	Text    string   `json:"text" yaml:"text"`
	Emotion Emotion  `json:"emotion,omitempty" yaml:"emotion,omitempty"`
	Choices []string `json:"choices,omitempty" yaml:"choices,omitempty"`
}

type Kind string

const (
	KindSystem Kind = "system"
	KindChat   Kind = "chat"
	KindPose   Kind = "pose"
	KindState  Kind = "state"
	KindQuest  Kind = "quest"
	KindAudio  Kind = "audio"
	KindLog    Kind = "log"
	KindError  Kind = "error"
)

// Message はバスに流れるセッションイベントの封筒です。
type Message struct {
	Kind      Kind              `json:"kind"`
	SessionID string            `json:"sessionId,omitempty"`
	Chat      *Chat             `json:"chat,omitempty"`
	Text      string            `json:"text,omitempty"`
	Data      []byte            `json:"data,omitempty"`
	At        time.Time         `json:"at"`
	Meta      map[string]string `json:"meta,omitempty"`
}

func (m *Message) IsSystemMessage() bool {
	return m.Kind == KindSystem || m.Kind == KindLog
}
