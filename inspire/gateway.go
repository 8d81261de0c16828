package inspire

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sat8bit/nexus/gateway"
)

// GatewaySource は生成モデルにお題を考えさせます。
type GatewaySource struct {
	gw gateway.Gateway
}

func NewGatewaySource(gw gateway.Gateway) *GatewaySource {
	return &GatewaySource{gw: gw}
}

func (s *GatewaySource) Prompts(ctx context.Context, n int) ([]string, error) {
	raw, err := s.gw.SynthesizeStructuredText(ctx, gateway.Context{
		Prompt: fmt.Sprintf("Generate %d short character prompts for a fantasy game.", n),
	}, gateway.ArrayOf(gateway.String("one-sentence character prompt")))
	if err != nil {
		return nil, fmt.Errorf("inspire.GatewaySource.Prompts: %w", err)
	}
	var ps []string
	if err := json.Unmarshal(raw, &ps); err != nil {
		return nil, fmt.Errorf("inspire.GatewaySource.Prompts: %w", err)
	}
	out := ps[:0]
	for _, p := range ps {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

var _ Source = (*GatewaySource)(nil)
