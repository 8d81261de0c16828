package character

import (
	"testing"

	"github.com/sat8bit/nexus/message"
)

func img(s string) ImageAsset {
	return ImageAsset{Data: []byte(s), MIMEType: "image/png"}
}

func TestGalleryPoseFor(t *testing.T) {
	g := Gallery{Main: img("main")}
	if got := g.PoseFor(message.EmotionHappy); !got.Equal(img("main")) {
		t.Errorf("empty gallery should fall back to main, got %q", got.Data)
	}
	if g.Ready() {
		t.Error("empty gallery must not be ready")
	}

	if err := g.SetPoses([]ImageAsset{img("n"), img("h"), img("a"), img("t")}); err != nil {
		t.Fatal(err)
	}
	if !g.Ready() {
		t.Error("gallery with 4 poses should be ready")
	}
	cases := map[message.Emotion]string{
		message.EmotionNeutral:    "n",
		message.EmotionHappy:      "h",
		message.EmotionAngry:      "a",
		message.EmotionThoughtful: "t",
		message.Emotion("bored"):  "n",
	}
	for e, want := range cases {
		if got := g.PoseFor(e); string(got.Data) != want {
			t.Errorf("PoseFor(%s) = %q, want %q", e, got.Data, want)
		}
	}

	if err := g.SetPoses([]ImageAsset{img("n")}); err == nil {
		t.Error("SetPoses should reject a short list")
	}
}

func TestQuestInsertRemove(t *testing.T) {
	c := &Character{Quests: []Quest{{Title: "A"}, {Title: "B"}, {Title: "C"}}}
	at := c.RemoveQuest("B")
	if at != 1 || len(c.Quests) != 2 {
		t.Fatalf("RemoveQuest: at=%d quests=%v", at, c.Quests)
	}
	if c.RemoveQuest("missing") != -1 {
		t.Error("removing a missing quest should return -1")
	}
	c.InsertQuest(at, Quest{Title: "D"})
	want := []string{"A", "D", "C"}
	for i, q := range c.Quests {
		if q.Title != want[i] {
			t.Errorf("quest[%d] = %q, want %q", i, q.Title, want[i])
		}
	}
}
