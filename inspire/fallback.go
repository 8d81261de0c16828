package inspire

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sat8bit/nexus/configs"
)

// FallbackSource は埋め込みのお題リストから重複なしで選びます。失敗しません。
type FallbackSource struct {
	prompts []string
	mu      sync.Mutex
	rnd     *rand.Rand
}

func LoadFallback() (*FallbackSource, error) {
	var doc struct {
		Prompts []string `yaml:"prompts"`
	}
	if err := yaml.Unmarshal(configs.Prompts, &doc); err != nil {
		return nil, fmt.Errorf("inspire.LoadFallback: %w", err)
	}
	if len(doc.Prompts) == 0 {
		return nil, fmt.Errorf("inspire.LoadFallback: no prompts")
	}
	return NewFallbackSource(doc.Prompts, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))), nil
}

func NewFallbackSource(prompts []string, rnd *rand.Rand) *FallbackSource {
	return &FallbackSource{prompts: prompts, rnd: rnd}
}

func (f *FallbackSource) Prompts(_ context.Context, n int) ([]string, error) {
	f.mu.Lock()
	perm := f.rnd.Perm(len(f.prompts))
	f.mu.Unlock()

	if n <= 0 || n > len(perm) {
		n = len(perm)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = f.prompts[perm[i]]
	}
	return out, nil
}

var _ Source = (*FallbackSource)(nil)
