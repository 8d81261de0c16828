package inspire

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mmcdole/gofeed"
)

// RSSSource はフィードの見出しをキャラクターのお題に変換します。
type RSSSource struct {
	url   string
	limit int
}

// NewRSSSource は新しい RSSSource を生成します。
// limit は読む記事の上限数です。0以下の場合は無制限。
func NewRSSSource(url string, limit int) *RSSSource {
	return &RSSSource{url: url, limit: limit}
}

func (f *RSSSource) Prompts(ctx context.Context, n int) ([]string, error) {
	fp := gofeed.NewParser()
	feed, err := fp.ParseURLWithContext(f.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("inspire.RSSSource.Prompts: %s: %w", f.url, err)
	}

	// 公開日の新しい順
	sort.SliceStable(feed.Items, func(i, j int) bool {
		it, jt := feed.Items[i].PublishedParsed, feed.Items[j].PublishedParsed
		if it == nil || jt == nil {
			return false
		}
		return it.After(*jt)
	})

	var out []string
	for i, item := range feed.Items {
		if f.limit > 0 && i >= f.limit {
			break
		}
		if n > 0 && len(out) >= n {
			break
		}
		title := strings.TrimSpace(stripHTML(item.Title))
		if title == "" {
			continue
		}
		out = append(out, fmt.Sprintf("A character whose story begins with the headline: %q.", truncateString(title, 120)))
	}
	return out, nil
}

var htmlRegex = regexp.MustCompile("<[^>]*>")

func stripHTML(s string) string {
	return htmlRegex.ReplaceAllString(s, "")
}

// truncateString は文字列をrune単位で指定された長さに切り詰めます。
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return s
}

var _ Source = (*RSSSource)(nil)
