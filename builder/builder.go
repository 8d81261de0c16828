package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sat8bit/nexus/archive"
	"github.com/sat8bit/nexus/character"
	"github.com/sat8bit/nexus/gateway"
	"github.com/sat8bit/nexus/inspire"
	"github.com/sat8bit/nexus/relationship"
)

type Status string

const (
	StatusIdle               Status = "idle"
	StatusGeneratingConcepts Status = "generatingConcepts"
	StatusSelectingConcept   Status = "selectingConcept"
	StatusGeneratingDetails  Status = "generatingDetails"
	StatusDisplaying         Status = "displayingCharacter"
	StatusError              Status = "error"
)

// ConceptCount は一度に生成するコンセプト画像の枚数です。
const ConceptCount = 4

var (
	ErrBusy       = errors.New("builder: generation already in progress")
	ErrSuperseded = errors.New("builder: superseded by reset")
	ErrNoConcepts = errors.New("builder: no concept could be generated")
	ErrNotFailed  = errors.New("builder: not in error state")
)

// Result は完成したキャラクターと、その初期セッション状態です。
type Result struct {
	Prompt    string
	Character *character.Character
	State     *relationship.State
}

// Upload は取り込み対象のファイルです。パッケージ（zip/JSON）か画像のどちらかです。
type Upload struct {
	Name         string
	Data         []byte
	MIMEType     string
	Instructions string
}

// Builder はキャラクター生成の状態機械です。
// Reset されると進行中の処理の結果は捨てられます。
type Builder struct {
	gw      gateway.Gateway
	catalog *relationship.Catalog
	prompts inspire.Source

	mu       sync.Mutex
	status   Status
	err      error
	gen      uint64
	prompt   string
	concepts []character.ImageAsset
	result   *Result
}

func New(gw gateway.Gateway, cat *relationship.Catalog, prompts inspire.Source) *Builder {
	return &Builder{gw: gw, catalog: cat, prompts: prompts, status: StatusIdle}
}

// Status は現在の状態と、Error 状態ならその原因を返します。
func (b *Builder) Status() (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status, b.err
}

func (b *Builder) Concepts() []character.ImageAsset {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]character.ImageAsset(nil), b.concepts...)
}

func (b *Builder) Result() *Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

// SuggestPrompts はコンセプト生成のお題候補を返します。
func (b *Builder) SuggestPrompts(ctx context.Context, n int) ([]string, error) {
	if b.prompts == nil {
		return nil, errors.New("builder.Builder.SuggestPrompts: no prompt source")
	}
	return b.prompts.Prompts(ctx, n)
}

// Reset は Idle に戻します。進行中の生成結果は反映されません。
func (b *Builder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gen++
	b.status = StatusIdle
	b.err = nil
	b.prompt = ""
	b.concepts = nil
	b.result = nil
}

// Retry は Error 状態から Idle に戻します。
func (b *Builder) Retry() error {
	b.mu.Lock()
	failed := b.status == StatusError
	b.mu.Unlock()
	if !failed {
		return ErrNotFailed
	}
	b.Reset()
	return nil
}

// GenerateConcepts は4枚のコンセプト画像を並行に生成します。失敗した候補は捨て、全滅なら Error 状態になります。
func (b *Builder) GenerateConcepts(ctx context.Context, prompt string) ([]character.ImageAsset, error) {
	prompt = strings.TrimSpace(prompt)
	gen, err := b.begin(StatusGeneratingConcepts)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "generating concepts", "prompt", prompt)

	slots := make([]character.ImageAsset, ConceptCount)
	errs := make([]error, ConceptCount)
	var wg sync.WaitGroup
	for i := range slots {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slots[i], errs[i] = b.gw.SynthesizeImage(ctx, nil, conceptInstructions(prompt), gateway.AspectPortrait)
		}(i)
	}
	wg.Wait()

	var concepts []character.ImageAsset
	var failures []error
	for i := range slots {
		if errs[i] != nil {
			slog.WarnContext(ctx, "concept dropped", "slot", i, "error", errs[i])
			failures = append(failures, errs[i])
			continue
		}
		concepts = append(concepts, slots[i])
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		return nil, ErrSuperseded
	}
	if len(concepts) == 0 {
		err := fmt.Errorf("%w: %w", ErrNoConcepts, errors.Join(failures...))
		b.fail(err)
		return nil, err
	}
	b.status = StatusSelectingConcept
	b.prompt = prompt
	b.concepts = concepts
	return append([]character.ImageAsset(nil), concepts...), nil
}

// BuildFromConcept は選ばれたコンセプトから正規の全身画像を作り、プロフィールと4ポーズを並行に生成します。
// どちらかが失敗するとビルド全体が失敗します。
func (b *Builder) BuildFromConcept(ctx context.Context, selected character.ImageAsset, prompt string) (*Result, error) {
	gen, err := b.begin(StatusGeneratingDetails)
	if err != nil {
		return nil, err
	}
	res, err := b.build(ctx, selected, strings.TrimSpace(prompt))
	return b.finish(gen, res, err)
}

// BuildFromUpload はパッケージならそのまま取り込み、画像なら種画像として生成パイプラインに流します。
func (b *Builder) BuildFromUpload(ctx context.Context, up Upload) (*Result, error) {
	gen, err := b.begin(StatusGeneratingDetails)
	if err != nil {
		return nil, err
	}

	if isPackage(up) {
		bundle, err := archive.Decode(up.Data, b.catalog)
		if err != nil {
			return b.finish(gen, nil, fmt.Errorf("builder.Builder.BuildFromUpload: %w", err))
		}
		slog.InfoContext(ctx, "imported bundle", "name", bundle.Character.Name)
		return b.finish(gen, &Result{Prompt: bundle.Prompt, Character: bundle.Character, State: bundle.State}, nil)
	}

	if len(up.Data) == 0 {
		return b.finish(gen, nil, errors.New("builder.Builder.BuildFromUpload: empty upload"))
	}
	seed := character.ImageAsset{Data: up.Data, MIMEType: up.MIMEType}
	if seed.MIMEType == "" {
		seed.MIMEType = "image/png"
	}
	inst := strings.TrimSpace(up.Instructions)
	if inst != "" {
		edited, err := b.gw.SynthesizeImage(ctx, []character.ImageAsset{seed}, inst, gateway.AspectPortrait)
		if err != nil {
			return b.finish(gen, nil, fmt.Errorf("builder.Builder.BuildFromUpload: %w", err))
		}
		seed = edited
	}
	prompt := inst
	if prompt == "" {
		prompt = "Reforged"
	}
	res, err := b.build(ctx, seed, prompt)
	return b.finish(gen, res, err)
}

func (b *Builder) build(ctx context.Context, seed character.ImageAsset, prompt string) (*Result, error) {
	canonical, err := b.gw.SynthesizeImage(ctx, []character.ImageAsset{seed}, canonicalInstructions(prompt), gateway.AspectPortrait)
	if err != nil {
		return nil, fmt.Errorf("builder.Builder.build: canonical: %w", err)
	}

	var (
		ch    *character.Character
		poses []character.ImageAsset
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		ch, err = GenerateProfile(egCtx, b.gw, canonical, prompt)
		return err
	})
	eg.Go(func() error {
		var err error
		poses, err = GeneratePoses(egCtx, b.gw, canonical)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("builder.Builder.build: %w", err)
	}

	original := seed
	ch.Gallery.Main = canonical
	ch.Gallery.Original = &original
	if err := ch.Gallery.SetPoses(poses); err != nil {
		return nil, fmt.Errorf("builder.Builder.build: %w", err)
	}
	st := relationship.New(b.catalog)
	st.Normalize(b.catalog, ch)
	return &Result{Prompt: prompt, Character: ch, State: st}, nil
}

func (b *Builder) begin(next Status) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == StatusGeneratingConcepts || b.status == StatusGeneratingDetails {
		return 0, ErrBusy
	}
	b.gen++
	b.status = next
	b.err = nil
	return b.gen, nil
}

func (b *Builder) finish(gen uint64, res *Result, err error) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		return nil, ErrSuperseded
	}
	if err != nil {
		b.fail(err)
		return nil, err
	}
	b.status = StatusDisplaying
	b.result = res
	b.concepts = nil
	slog.Info("character ready", "name", res.Character.Name)
	return res, nil
}

func (b *Builder) fail(err error) {
	b.status = StatusError
	b.err = err
	slog.Error("character build failed", "error", err)
}

func isPackage(up Upload) bool {
	name := strings.ToLower(up.Name)
	switch {
	case strings.HasSuffix(name, ".zip"), strings.HasSuffix(name, ".json"):
		return true
	case up.MIMEType == "application/zip", up.MIMEType == "application/json":
		return true
	case strings.HasPrefix(up.MIMEType, "image/"):
		return false
	}
	return archive.IsBundle(up.Data)
}
