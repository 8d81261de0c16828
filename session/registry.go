// Package session は対話中のセッションをプロセス内で保持し、store へ保存します。
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sat8bit/nexus/archive"
	"github.com/sat8bit/nexus/audio"
	"github.com/sat8bit/nexus/character"
	"github.com/sat8bit/nexus/dialogue"
	"github.com/sat8bit/nexus/gateway"
	"github.com/sat8bit/nexus/relationship"
	"github.com/sat8bit/nexus/store"
)

// ErrIncomplete はポーズが4枚そろっていないキャラクターで対話を始めようとしたときのエラーです。
var ErrIncomplete = errors.New("session: character gallery is incomplete")

// Session は1キャラクター分の対話セッションです。
type Session struct {
	ID        string
	Prompt    string
	CreatedAt time.Time
	Dialogue  *dialogue.Orchestrator
}

func (s *Session) Summary(now time.Time) store.Summary {
	return store.Summary{
		ID:        s.ID,
		Name:      s.Dialogue.Name(),
		Prompt:    s.Prompt,
		CreatedAt: s.CreatedAt,
		UpdatedAt: now,
	}
}

type Options struct {
	PoseDwell time.Duration
	IdleAfter time.Duration
	// Player が nil でなければセッションごとに再生器を作ります。CLI 用です。
	Player func() *audio.Player
	Now    func() time.Time
	NewID  func() string
}

// Registry は生きているセッションを ID で引けるようにし、必要に応じて store から復元します。
type Registry struct {
	store store.Store
	gw    gateway.Gateway
	cat   *relationship.Catalog
	opts  Options

	mu   sync.Mutex
	live map[string]*Session
}

func NewRegistry(st store.Store, gw gateway.Gateway, cat *relationship.Catalog, opts Options) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Registry{
		store: st,
		gw:    gw,
		cat:   cat,
		opts:  opts,
		live:  make(map[string]*Session),
	}
}

// Create は生成済みのキャラクターで新しいセッションを始め、すぐに保存します。
func (r *Registry) Create(ctx context.Context, prompt string, ch *character.Character, st *relationship.State) (*Session, error) {
	if ch == nil || !ch.Gallery.Ready() {
		return nil, ErrIncomplete
	}
	if st == nil {
		st = relationship.New(r.cat)
	}
	s := r.register(r.open(r.opts.NewID(), prompt, r.opts.Now(), ch, st))
	if err := r.Save(ctx, s.ID); err != nil {
		r.drop(s.ID)
		return nil, fmt.Errorf("session.Registry.Create: %w", err)
	}
	slog.InfoContext(ctx, "session created", "session", s.ID, "name", ch.Name)
	return s, nil
}

// Import はアーカイブ（zip または JSON）から新しいセッションを作ります。
func (r *Registry) Import(ctx context.Context, data []byte) (*Session, error) {
	b, err := archive.Decode(data, r.cat)
	if err != nil {
		return nil, err
	}
	return r.Create(ctx, b.Prompt, b.Character, b.State)
}

func (r *Registry) open(id, prompt string, created time.Time, ch *character.Character, st *relationship.State) *Session {
	cfg := dialogue.Config{
		SessionID: id,
		Gateway:   r.gw,
		Catalog:   r.cat,
		PoseDwell: r.opts.PoseDwell,
		IdleAfter: r.opts.IdleAfter,
		Now:       r.opts.Now,
	}
	if r.opts.Player != nil {
		cfg.Player = r.opts.Player()
	}
	return &Session{
		ID:        id,
		Prompt:    prompt,
		CreatedAt: created,
		Dialogue:  dialogue.New(cfg, ch, st),
	}
}

// register は同じ ID のセッションがまだ無いときだけ s を登録して動かし始めます。
// 先客がいれば s は閉じて先客を返します。1つの ID に生きたセッションは常に1つです。
func (r *Registry) register(s *Session) *Session {
	r.mu.Lock()
	if cur, ok := r.live[s.ID]; ok {
		r.mu.Unlock()
		s.Dialogue.Close()
		s.Dialogue.Bus().Close()
		return cur
	}
	r.live[s.ID] = s
	r.mu.Unlock()
	s.Dialogue.Start()
	return s
}

// Get は生きているセッションを返します。無ければ store から読み込んで再開します。
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.live[id]
	r.mu.Unlock()
	if ok {
		return s, nil
	}

	rec, err := r.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	b, err := archive.Decode(rec.Bundle, r.cat)
	if err != nil {
		return nil, fmt.Errorf("session.Registry.Get: %w", err)
	}

	// 読み込み中に別のリクエストが先に開いていれば register がそちらを返す
	opened := r.open(rec.ID, b.Prompt, rec.CreatedAt, b.Character, b.State)
	s = r.register(opened)
	if s == opened {
		slog.InfoContext(ctx, "session resumed", "session", id)
	}
	return s, nil
}

// Save は現在の状態をアーカイブにして store へ書き込みます。
func (r *Registry) Save(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.live[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	now := r.opts.Now()
	var buf bytes.Buffer
	if err := archive.Encode(&buf, s.Dialogue.Snapshot(s.Prompt), now); err != nil {
		return fmt.Errorf("session.Registry.Save: %w", err)
	}
	rec := &store.Record{Summary: s.Summary(now), Bundle: buf.Bytes()}
	if err := r.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("session.Registry.Save: %w", err)
	}
	return nil
}

// Export はセッションを zip アーカイブとして書き出します。
func (r *Registry) Export(ctx context.Context, id string, w io.Writer) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := archive.Encode(w, s.Dialogue.Snapshot(s.Prompt), r.opts.Now()); err != nil {
		return fmt.Errorf("session.Registry.Export: %w", err)
	}
	return nil
}

func (r *Registry) List(ctx context.Context) ([]store.Summary, error) {
	return r.store.List(ctx)
}

// Delete はセッションを閉じて保存データも消します。
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.drop(id)
	return r.store.Delete(ctx, id)
}

func (r *Registry) drop(id string) {
	r.mu.Lock()
	s, ok := r.live[id]
	delete(r.live, id)
	r.mu.Unlock()
	if ok {
		s.Dialogue.Close()
		s.Dialogue.Bus().Close()
	}
}

// Close はすべてのセッションを保存してから閉じます。保存の失敗はまとめて返します。
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range ids {
		r.mu.Lock()
		s := r.live[id]
		r.mu.Unlock()
		s.Dialogue.Wait()
		if err := r.Save(ctx, id); err != nil {
			errs = append(errs, err)
		}
		r.drop(id)
	}
	return errors.Join(errs...)
}
