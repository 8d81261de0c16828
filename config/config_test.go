package config

import (
	"context"
	"testing"
	"time"

	"github.com/sat8bit/nexus/gateway"
	"github.com/sat8bit/nexus/store"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store != StoreFile || cfg.IdleAfter != 3*time.Minute || cfg.PoseDwell != 8*time.Second || cfg.Addr != ":8080" {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PROJECT_ID", "p")
	t.Setenv("NEXUS_STORE", "sqlite")
	t.Setenv("NEXUS_IDLE_AFTER", "30s")
	t.Setenv("NEXUS_USE_LOCAL_IMAGE", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store != StoreSQLite || cfg.IdleAfter != 30*time.Second || !cfg.UseLocalImage {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"gemini key", Config{Store: StoreFile, GeminiAPIKey: "k"}, true},
		{"vertex", Config{Store: StoreRedis, Project: "p"}, true},
		{"all local", Config{Store: StoreSQLite, UseLocalImage: true, UseLocalLLM: true}, true},
		{"local image only", Config{Store: StoreFile, UseLocalImage: true}, false},
		{"unknown store", Config{Store: "s3", GeminiAPIKey: "k"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() = %v", err)
			}
		})
	}
}

func TestGatewayAllLocal(t *testing.T) {
	cfg := Config{UseLocalImage: true, UseLocalLLM: true, ImageEndpoint: "http://img", LLMEndpoint: "http://llm/v1", LLMModel: "m", Attempts: 3}
	r, err := cfg.Gateway(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Image.(*gateway.A1111); !ok {
		t.Errorf("image backend = %T", r.Image)
	}
	if _, ok := r.Text.(*gateway.OpenAICompat); !ok {
		t.Errorf("text backend = %T", r.Text)
	}
	if r.ImageFallback != nil || r.TextFallback != nil || r.Speech != nil || r.Attempts != 3 {
		t.Errorf("router = %+v", r)
	}
}

func TestOpenStore(t *testing.T) {
	dir := t.TempDir()
	s, err := Config{Store: StoreFile, DataDir: dir}.OpenStore(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*store.FileStore); !ok {
		t.Errorf("store = %T", s)
	}
	s, err = Config{Store: StoreSQLite, DataDir: dir}.OpenStore(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, ok := s.(*store.SQLiteStore); !ok {
		t.Errorf("store = %T", s)
	}
}

func TestPromptsChain(t *testing.T) {
	src, err := Config{RSSURL: "http://feed"}.Prompts(&gateway.Router{})
	if err != nil {
		t.Fatal(err)
	}
	// 生成 API もフィードも使えなくても埋め込みのお題が返る
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ps, err := src.Prompts(ctx, 3)
	if err != nil || len(ps) != 3 {
		t.Errorf("Prompts = %v, %v", ps, err)
	}
}
