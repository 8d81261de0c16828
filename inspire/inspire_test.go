package inspire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sat8bit/nexus/gateway"
	"github.com/sat8bit/nexus/gateway/gatewaytest"
)

const feed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>News</title>
<item><title>Old &lt;b&gt;news&lt;/b&gt;</title><pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate></item>
<item><title>Comet lights up the harbor</title><pubDate>Tue, 03 Jan 2006 15:04:05 GMT</pubDate></item>
<item><title></title><pubDate>Sun, 01 Jan 2006 15:04:05 GMT</pubDate></item>
</channel></rss>`

func TestRSSSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, feed)
	}))
	defer srv.Close()

	ps, err := NewRSSSource(srv.URL, 0).Prompts(context.Background(), 4)
	if err != nil {
		t.Fatalf("Prompts: %v", err)
	}
	if len(ps) != 2 {
		t.Fatalf("got %d prompts: %v", len(ps), ps)
	}
	if !strings.Contains(ps[0], "Comet lights up the harbor") {
		t.Errorf("newest first expected, got %q", ps[0])
	}
	if strings.Contains(ps[1], "<b>") {
		t.Errorf("html not stripped: %q", ps[1])
	}
}

func TestFallbackSource(t *testing.T) {
	f, err := LoadFallback()
	if err != nil {
		t.Fatal(err)
	}
	ps, _ := f.Prompts(context.Background(), 4)
	if len(ps) != 4 {
		t.Fatalf("got %d", len(ps))
	}
	seen := map[string]bool{}
	for _, p := range ps {
		if seen[p] {
			t.Errorf("duplicate prompt %q", p)
		}
		seen[p] = true
	}

	small := NewFallbackSource([]string{"a", "b"}, rand.New(rand.NewPCG(1, 2)))
	if ps, _ := small.Prompts(context.Background(), 4); len(ps) != 2 {
		t.Errorf("got %v", ps)
	}
}

func TestChainFallsThrough(t *testing.T) {
	gw := &gatewaytest.Fake{}
	fb := NewFallbackSource([]string{"x", "y", "z", "w", "v"}, rand.New(rand.NewPCG(1, 2)))
	ps, err := Chain{NewGatewaySource(gw), fb}.Prompts(context.Background(), 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 4 {
		t.Errorf("got %v", ps)
	}
	if gw.TextCalls() != 1 {
		t.Errorf("gateway calls = %d", gw.TextCalls())
	}
}

func TestChainPrefersGateway(t *testing.T) {
	gw := &gatewaytest.Fake{
		StructuredFunc: func(c gateway.Context, s *gateway.Schema) (json.RawMessage, error) {
			return gatewaytest.JSON([]string{" A ", "", "B", "C", "D", "E"}), nil
		},
	}
	ps, err := Chain{NewGatewaySource(gw)}.Prompts(context.Background(), 4)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(ps, ",") != "A,B,C,D" {
		t.Errorf("got %v", ps)
	}
}

func TestChainAllFail(t *testing.T) {
	_, err := Chain{NewGatewaySource(&gatewaytest.Fake{})}.Prompts(context.Background(), 4)
	var ge *gateway.GenerationError
	if !errors.As(err, &ge) {
		t.Fatalf("err = %v", err)
	}
}
