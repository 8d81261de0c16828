package archive

import (
	"encoding/json"
	"time"

	"github.com/sat8bit/nexus/character"
	"github.com/sat8bit/nexus/message"
	"github.com/sat8bit/nexus/relationship"
)

// ManifestVersion は書き出すマニフェストの版です。version が無いものは 1 として読みます。
const ManifestVersion = 2

const (
	manifestName   = "manifest.json"
	transcriptName = "transcript.txt"
)

// ImageRef は画像を base64 で埋め込むか、パッケージ内の相対パスで参照します。
type ImageRef struct {
	Path     string `json:"path,omitempty"`
	Data     string `json:"data,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

type Manifest struct {
	Version    int               `json:"version"`
	Prompt     string            `json:"prompt,omitempty"`
	ExportedAt time.Time         `json:"exportedAt,omitempty"`
	Character  CharacterManifest `json:"character"`
	// 無ければ既定値で初期化します。
	InteractiveState json.RawMessage `json:"interactiveState,omitempty"`
}

type CharacterManifest struct {
	Details *character.Character `json:"details"`
	Images  ImagesManifest       `json:"images"`
}

type ImagesManifest struct {
	Main          *ImageRef  `json:"main,omitempty"`
	Original      *ImageRef  `json:"original,omitempty"`
	Poses         []ImageRef `json:"poses"`
	Wardrobe      []ImageRef `json:"wardrobe"`
	Modifications []ImageRef `json:"modifications"`
	// 旧形式では衣装違いがここに入っていました。
	Costumes []ImageRef `json:"costumes,omitempty"`
}

type StateManifest struct {
	AffinityScore      int                      `json:"affinityScore"`
	NexusCredits       int                      `json:"nexusCredits"`
	Hunger             int                      `json:"hunger"`
	Energy             int                      `json:"energy"`
	Mood               int                      `json:"mood"`
	BehaviorStats      relationship.Disposition `json:"behaviorStats"`
	RelationshipLevel  relationship.Level       `json:"relationshipLevel,omitempty"`
	RemovedApparel     []string                 `json:"removedApparel"`
	CurrentEnvironment string                   `json:"currentEnvironment"`
	MemoryBank         []string                 `json:"memoryBank"`
	ChatHistory        []message.Chat           `json:"chatHistory"`
	Inventory          []string                 `json:"inventory"`
	Rewards            []RewardManifest         `json:"rewards"`
	ActiveQuest        string                   `json:"activeQuest,omitempty"`
	IsTTSEnabled       bool                     `json:"isTtsEnabled"`
	Wardrobe           []ImageRef               `json:"wardrobe,omitempty"`
	Modifications      []ImageRef               `json:"modifications,omitempty"`
}

type RewardManifest struct {
	ID          string                    `json:"id"`
	Title       string                    `json:"title"`
	Description string                    `json:"description"`
	Prompt      string                    `json:"prompt"`
	Status      relationship.RewardStatus `json:"status"`
	Image       *ImageRef                 `json:"image,omitempty"`
	DateEarned  string                    `json:"dateEarned"`
}
