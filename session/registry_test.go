package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sat8bit/nexus/archive"
	"github.com/sat8bit/nexus/character"
	"github.com/sat8bit/nexus/gateway"
	"github.com/sat8bit/nexus/gateway/gatewaytest"
	"github.com/sat8bit/nexus/relationship"
	"github.com/sat8bit/nexus/store"
)

func newRegistry(t *testing.T, gw gateway.Gateway) (*Registry, store.Store, *relationship.Catalog) {
	t.Helper()
	cat, err := relationship.LoadCatalog()
	if err != nil {
		t.Fatal(err)
	}
	st := store.NewFileStore(t.TempDir())
	n := 0
	clock := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	r := NewRegistry(st, gw, cat, Options{
		IdleAfter: time.Hour,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
		NewID: func() string { n++; return fmt.Sprintf("sess-%d", n) },
	})
	t.Cleanup(func() { _ = r.Close(context.Background()) })
	return r, st, cat
}

func readyCharacter() *character.Character {
	ch := &character.Character{Name: "Nova", Personality: []string{"bold"}, Backstory: "Nova flies.", BaseApparel: []string{"Jacket"}}
	ch.Gallery.Main = gatewaytest.Image(100)
	_ = ch.Gallery.SetPoses([]character.ImageAsset{gatewaytest.Image(101), gatewaytest.Image(102), gatewaytest.Image(103), gatewaytest.Image(104)})
	return ch
}

func TestCreatePersists(t *testing.T) {
	r, st, _ := newRegistry(t, &gatewaytest.Fake{})
	s, err := r.Create(context.Background(), "pilot", readyCharacter(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "sess-1" {
		t.Errorf("id = %s", s.ID)
	}
	list, err := r.List(context.Background())
	if err != nil || len(list) != 1 || list[0].Name != "Nova" || list[0].Prompt != "pilot" {
		t.Fatalf("List = %+v, %v", list, err)
	}
	rec, err := st.Load(context.Background(), s.ID)
	if err != nil || !archive.IsBundle(rec.Bundle) {
		t.Fatalf("stored record = %v", err)
	}
}

func TestCreateRejectsIncompleteGallery(t *testing.T) {
	r, _, _ := newRegistry(t, &gatewaytest.Fake{})
	ch := readyCharacter()
	delete(ch.Gallery.Poses, "angry")
	if _, err := r.Create(context.Background(), "", ch, nil); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("err = %v", err)
	}
}

func TestResumeFromStore(t *testing.T) {
	gw := &gatewaytest.Fake{StructuredFunc: func(gateway.Context, *gateway.Schema) (json.RawMessage, error) {
		return gatewaytest.JSON(map[string]any{"text": "Welcome back", "emotion": "happy", "affinityGain": 4, "currencyGain": 2}), nil
	}}
	r, st, cat := newRegistry(t, gw)
	s, err := r.Create(context.Background(), "pilot", readyCharacter(), nil)
	if err != nil {
		t.Fatal(err)
	}
	s.Dialogue.SetTTS(false)
	if _, err := s.Dialogue.HandleTurn(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	if err := r.Save(context.Background(), s.ID); err != nil {
		t.Fatal(err)
	}

	// 別プロセスからの再開を想定して新しい Registry で読み込む
	r2 := NewRegistry(st, gw, cat, Options{IdleAfter: time.Hour})
	defer r2.Close(context.Background())
	got, err := r2.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatal(err)
	}
	status := got.Dialogue.Status()
	if status.Affinity != 4 || status.TTSEnabled {
		t.Errorf("status = %+v", status)
	}
	if h := got.Dialogue.History(); len(h) != 2 || h[1].Text != "Welcome back" {
		t.Errorf("history = %+v", h)
	}
	again, _ := r2.Get(context.Background(), s.ID)
	if again != got {
		t.Error("second Get should return the live session")
	}
}

func TestImportAndExport(t *testing.T) {
	r, _, cat := newRegistry(t, &gatewaytest.Fake{})
	st := relationship.New(cat)
	st.AffinityScore = 300
	var buf bytes.Buffer
	if err := archive.Encode(&buf, archive.Bundle{Prompt: "imported", Character: readyCharacter(), State: st}, time.Now()); err != nil {
		t.Fatal(err)
	}
	s, err := r.Import(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if s.Prompt != "imported" || s.Dialogue.Status().Affinity != 300 {
		t.Errorf("imported session = %+v", s.Dialogue.Status())
	}

	var out bytes.Buffer
	if err := r.Export(context.Background(), s.ID, &out); err != nil {
		t.Fatal(err)
	}
	b, err := archive.Decode(out.Bytes(), cat)
	if err != nil || b.Character.Name != "Nova" {
		t.Fatalf("exported bundle = %v", err)
	}

	var invalid *archive.InvalidBundleError
	if _, err := r.Import(context.Background(), []byte("not a bundle")); !errors.As(err, &invalid) {
		t.Errorf("err = %v", err)
	}
}

func TestDelete(t *testing.T) {
	r, _, _ := newRegistry(t, &gatewaytest.Fake{})
	s, _ := r.Create(context.Background(), "", readyCharacter(), nil)
	if err := r.Delete(context.Background(), s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(context.Background(), s.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
	if err := r.Save(context.Background(), s.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Save after delete = %v", err)
	}
}

// gatedStore は Load を n 件そろうまで返さない store です。
type gatedStore struct {
	store.Store
	n       int
	mu      sync.Mutex
	arrived int
	release chan struct{}
}

func (g *gatedStore) Load(ctx context.Context, id string) (*store.Record, error) {
	g.mu.Lock()
	g.arrived++
	if g.arrived == g.n {
		close(g.release)
	}
	g.mu.Unlock()
	<-g.release
	return g.Store.Load(ctx, id)
}

func TestConcurrentGetSharesOneSession(t *testing.T) {
	r, st, cat := newRegistry(t, &gatewaytest.Fake{})
	s, err := r.Create(context.Background(), "pilot", readyCharacter(), nil)
	if err != nil {
		t.Fatal(err)
	}

	const callers = 4
	gated := &gatedStore{Store: st, n: callers, release: make(chan struct{})}
	r2 := NewRegistry(gated, &gatewaytest.Fake{}, cat, Options{IdleAfter: time.Hour})
	defer r2.Close(context.Background())

	got := make([]*Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := r2.Get(context.Background(), s.ID)
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			got[i] = sess
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if got[i] != got[0] {
			t.Fatalf("caller %d got a different session", i)
		}
	}
	r2.mu.Lock()
	live := r2.live[s.ID]
	r2.mu.Unlock()
	if live != got[0] {
		t.Error("registered session differs from the one returned")
	}
}
