package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sat8bit/nexus/archive"
	"github.com/sat8bit/nexus/character"
	"github.com/sat8bit/nexus/gateway"
	"github.com/sat8bit/nexus/gateway/gatewaytest"
	"github.com/sat8bit/nexus/message"
	"github.com/sat8bit/nexus/relationship"
)

func catalog(t *testing.T) *relationship.Catalog {
	t.Helper()
	c, err := relationship.LoadCatalog()
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func profileReply(c gateway.Context, s *gateway.Schema) (json.RawMessage, error) {
	return gatewaytest.JSON(map[string]any{
		"name":        "Kael",
		"personality": []string{"brave", "dry humour"},
		"backstory":   "Kael once guarded the gate.",
		"voicePrompt": "low and calm",
		"baseApparel": []string{"Cloak", "Gauntlets"},
		"quests":      []map[string]string{{"title": "Kael's Oath", "description": "Renew the oath."}},
	}), nil
}

func TestGenerateConceptsPartialSuccess(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	gw := &gatewaytest.Fake{ImageFunc: func(refs []character.ImageAsset, inst string, a gateway.AspectRatio) (character.ImageAsset, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls%2 == 0 {
			return character.ImageAsset{}, errors.New("quota")
		}
		return gatewaytest.Image(calls), nil
	}}
	b := New(gw, catalog(t), nil)

	concepts, err := b.GenerateConcepts(context.Background(), "a knight")
	if err != nil {
		t.Fatalf("GenerateConcepts: %v", err)
	}
	if len(concepts) != 2 {
		t.Errorf("got %d concepts, want 2", len(concepts))
	}
	if st, _ := b.Status(); st != StatusSelectingConcept {
		t.Errorf("status = %s", st)
	}
	if !strings.Contains(gw.Instructions[0], "Subject: a knight") {
		t.Errorf("instructions = %q", gw.Instructions[0])
	}
}

func TestGenerateConceptsAllFail(t *testing.T) {
	gw := &gatewaytest.Fake{ImageFunc: func([]character.ImageAsset, string, gateway.AspectRatio) (character.ImageAsset, error) {
		return character.ImageAsset{}, errors.New("down")
	}}
	b := New(gw, catalog(t), nil)

	_, err := b.GenerateConcepts(context.Background(), "x")
	if !errors.Is(err, ErrNoConcepts) {
		t.Fatalf("err = %v", err)
	}
	if stage, ok := gateway.StageOf(err); !ok || stage != gateway.StageImage {
		t.Errorf("stage = %v %v", stage, ok)
	}
	st, cause := b.Status()
	if st != StatusError || cause == nil {
		t.Errorf("status = %s, %v", st, cause)
	}
	if err := b.Retry(); err != nil {
		t.Fatal(err)
	}
	if st, _ := b.Status(); st != StatusIdle {
		t.Errorf("status after retry = %s", st)
	}
	if err := b.Retry(); !errors.Is(err, ErrNotFailed) {
		t.Errorf("second retry = %v", err)
	}
}

func TestBuildFromConcept(t *testing.T) {
	gw := &gatewaytest.Fake{StructuredFunc: profileReply}
	cat := catalog(t)
	b := New(gw, cat, nil)

	concept := gatewaytest.Image(100)
	res, err := b.BuildFromConcept(context.Background(), concept, "a knight")
	if err != nil {
		t.Fatalf("BuildFromConcept: %v", err)
	}
	ch := res.Character
	if ch.Name != "Kael" || len(ch.BaseApparel) != 2 || len(ch.Quests) != 1 {
		t.Errorf("character = %+v", ch)
	}
	if !ch.Gallery.Ready() {
		t.Error("gallery should have 4 poses")
	}
	if ch.Gallery.Original == nil || !ch.Gallery.Original.Equal(concept) {
		t.Error("original should be the selected concept")
	}
	if ch.Gallery.Main.Equal(concept) {
		t.Error("main should be the canonical image, not the concept")
	}
	if gw.ImageCalls() != 5 {
		t.Errorf("image calls = %d, want canonical + 4 poses", gw.ImageCalls())
	}
	if res.State.Credits != cat.StartingCredits || res.State.AffinityScore != 0 {
		t.Errorf("state = %+v", res.State)
	}
	if st, _ := b.Status(); st != StatusDisplaying || b.Result() != res {
		t.Errorf("status = %s", st)
	}
}

func TestBuildFailsWhenEitherBranchFails(t *testing.T) {
	t.Run("profile", func(t *testing.T) {
		gw := &gatewaytest.Fake{}
		b := New(gw, catalog(t), nil)
		if _, err := b.BuildFromConcept(context.Background(), gatewaytest.Image(1), "x"); err == nil {
			t.Fatal("expected error")
		}
		if st, _ := b.Status(); st != StatusError || b.Result() != nil {
			t.Errorf("status = %s", st)
		}
	})
	t.Run("pose", func(t *testing.T) {
		var mu sync.Mutex
		n := 0
		gw := &gatewaytest.Fake{
			StructuredFunc: profileReply,
			ImageFunc: func([]character.ImageAsset, string, gateway.AspectRatio) (character.ImageAsset, error) {
				mu.Lock()
				defer mu.Unlock()
				n++
				if n == 3 {
					return character.ImageAsset{}, errors.New("blocked")
				}
				return gatewaytest.Image(n), nil
			},
		}
		b := New(gw, catalog(t), nil)
		_, err := b.BuildFromConcept(context.Background(), gatewaytest.Image(1), "x")
		if stage, ok := gateway.StageOf(err); !ok || stage != gateway.StageImage {
			t.Fatalf("err = %v", err)
		}
		if st, _ := b.Status(); st != StatusError {
			t.Errorf("status = %s", st)
		}
	})
}

func TestBuildFromUploadImage(t *testing.T) {
	gw := &gatewaytest.Fake{StructuredFunc: profileReply}
	b := New(gw, catalog(t), nil)

	res, err := b.BuildFromUpload(context.Background(), Upload{
		Name: "me.png", Data: []byte("\x89PNGseed"), MIMEType: "image/png", Instructions: "make it cyberpunk",
	})
	if err != nil {
		t.Fatalf("BuildFromUpload: %v", err)
	}
	// 編集 + 正規化 + 4ポーズ
	if gw.ImageCalls() != 6 {
		t.Errorf("image calls = %d", gw.ImageCalls())
	}
	if gw.Instructions[0] != "make it cyberpunk" {
		t.Errorf("first instruction = %q", gw.Instructions[0])
	}
	if res.Prompt != "make it cyberpunk" || res.Character.Gallery.Original.Equal(character.ImageAsset{Data: []byte("\x89PNGseed")}) {
		t.Errorf("result = %+v", res)
	}
}

func TestBuildFromUploadBundle(t *testing.T) {
	cat := catalog(t)
	ch := &character.Character{Name: "Mira", BaseApparel: []string{"Scarf"}}
	ch.Gallery.Main = gatewaytest.Image(1)
	st := relationship.New(cat)
	st.ApplyChatDelta(150, 0, nil)
	var buf bytes.Buffer
	if err := archive.Encode(&buf, archive.Bundle{Prompt: "p", Character: ch, State: st}, time.Now()); err != nil {
		t.Fatal(err)
	}

	gw := &gatewaytest.Fake{}
	b := New(gw, cat, nil)
	res, err := b.BuildFromUpload(context.Background(), Upload{Name: "mira.zip", Data: buf.Bytes()})
	if err != nil {
		t.Fatalf("BuildFromUpload: %v", err)
	}
	if res.Character.Name != "Mira" || res.State.AffinityScore != 150 {
		t.Errorf("result = %+v", res)
	}
	if gw.ImageCalls()+gw.TextCalls() != 0 {
		t.Error("bundle import must not call the gateway")
	}
}

func TestBuildFromUploadCorruptBundle(t *testing.T) {
	b := New(&gatewaytest.Fake{}, catalog(t), nil)
	_, err := b.BuildFromUpload(context.Background(), Upload{Name: "x.json", Data: []byte(`{"character":{}}`)})
	var ie *archive.InvalidBundleError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v", err)
	}
	if st, _ := b.Status(); st != StatusError || b.Result() != nil {
		t.Errorf("status = %s", st)
	}
}

func TestResetDiscardsInFlightBuild(t *testing.T) {
	release := make(chan struct{})
	gw := &gatewaytest.Fake{
		StructuredFunc: profileReply,
		ImageFunc: func([]character.ImageAsset, string, gateway.AspectRatio) (character.ImageAsset, error) {
			<-release
			return gatewaytest.Image(1), nil
		},
	}
	b := New(gw, catalog(t), nil)

	done := make(chan error, 1)
	go func() {
		_, err := b.BuildFromConcept(context.Background(), gatewaytest.Image(9), "x")
		done <- err
	}()
	for {
		if st, _ := b.Status(); st == StatusGeneratingDetails {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := b.GenerateConcepts(context.Background(), "y"); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent start = %v, want ErrBusy", err)
	}
	b.Reset()
	close(release)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("err = %v", err)
	}
	if st, _ := b.Status(); st != StatusIdle || b.Result() != nil {
		t.Errorf("status = %s", st)
	}
}

func TestRename(t *testing.T) {
	ch := &character.Character{
		Name:      "Kael",
		Backstory: "Kael met Kaelyn. kael laughed.",
		Quests:    []character.Quest{{Title: "Kael's Oath", Description: "Help Kael."}},
	}
	s := &relationship.State{
		ActiveQuest: "Kael's Oath",
		ChatHistory: []message.Chat{{Role: message.RoleModel, Text: "I am Kael."}},
		MemoryBank:  []string{"Kael's Oath"},
		Rewards: []relationship.Reward{{
			ID:          "r-1",
			Title:       "Kael's Oath",
			Description: "Kael kept a promise.",
			Prompt:      "Kael standing on the bridge at dawn",
		}},
	}
	old := Rename(ch, s, "Rhea")
	if old != "Kael" || ch.Name != "Rhea" {
		t.Fatalf("old=%q name=%q", old, ch.Name)
	}
	if ch.Backstory != "Rhea met Kaelyn. Rhea laughed." {
		t.Errorf("backstory = %q", ch.Backstory)
	}
	if ch.Quests[0].Title != "Rhea's Oath" || s.ActiveQuest != "Rhea's Oath" || s.MemoryBank[0] != "Rhea's Oath" {
		t.Errorf("quest links not updated: %q %q", ch.Quests[0].Title, s.ActiveQuest)
	}
	if s.ChatHistory[0].Text != "I am Rhea." {
		t.Errorf("history = %q", s.ChatHistory[0].Text)
	}
	if r := s.Rewards[0]; r.Title != "Rhea's Oath" || r.Description != "Rhea kept a promise." || r.Prompt != "Rhea standing on the bridge at dawn" {
		t.Errorf("reward = %+v", r)
	}
	if Rename(ch, s, "  ") != "Rhea" || ch.Name != "Rhea" {
		t.Error("blank rename should be a no-op")
	}
}

func TestRerollName(t *testing.T) {
	ch := &character.Character{Name: "Kael", Backstory: "Kael rides."}
	s := &relationship.State{}
	gw := &gatewaytest.Fake{TextFunc: func(gateway.Context) (string, error) { return "\"Orin\"\n", nil }}
	name, err := RerollName(context.Background(), gw, ch, s)
	if err != nil || name != "Orin" || ch.Backstory != "Orin rides." {
		t.Fatalf("name=%q err=%v backstory=%q", name, err, ch.Backstory)
	}

	gw.TextFunc = func(gateway.Context) (string, error) { return "", errors.New("quota") }
	if _, err := RerollName(context.Background(), gw, ch, s); err == nil || ch.Name != "Orin" {
		t.Errorf("failed reroll must not change name: %v %q", err, ch.Name)
	}
}

func TestGenerateQuest(t *testing.T) {
	ch := &character.Character{Name: "Kael", Quests: []character.Quest{{Title: "A"}}}
	gw := &gatewaytest.Fake{StructuredFunc: func(c gateway.Context, s *gateway.Schema) (json.RawMessage, error) {
		if !strings.Contains(c.Prompt, `"A"`) {
			t.Errorf("prompt = %q", c.Prompt)
		}
		return gatewaytest.JSON(character.Quest{Title: " B ", Description: "next"}), nil
	}}
	q, err := GenerateQuest(context.Background(), gw, ch, "A")
	if err != nil || q.Title != "B" {
		t.Fatalf("q=%+v err=%v", q, err)
	}
}
