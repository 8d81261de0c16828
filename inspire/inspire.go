package inspire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Source は、コンセプト生成のお題を外部から取得するためのインターフェースです。
type Source interface {
	Prompts(ctx context.Context, n int) ([]string, error)
}

// Chain は先頭から順に Source を試し、最初に1件以上返したものを採用します。
type Chain []Source

func (c Chain) Prompts(ctx context.Context, n int) ([]string, error) {
	var errs []error
	for i, s := range c {
		ps, err := s.Prompts(ctx, n)
		if err == nil && len(ps) > 0 {
			if n > 0 && len(ps) > n {
				ps = ps[:n]
			}
			return ps, nil
		}
		if err == nil {
			err = errors.New("no prompts")
		}
		slog.WarnContext(ctx, "prompt source failed, trying next", "source", i, "error", err)
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("inspire.Chain.Prompts: %w", errors.Join(errs...))
}

var _ Source = Chain(nil)
