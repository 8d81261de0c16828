// Package config は環境変数から設定を読み込み、各コンポーネントを組み立てます。
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/sat8bit/nexus/gateway"
	"github.com/sat8bit/nexus/inspire"
	"github.com/sat8bit/nexus/store"
)

type StoreKind string

const (
	StoreFile   StoreKind = "file"
	StoreRedis  StoreKind = "redis"
	StoreSQLite StoreKind = "sqlite"
)

type Config struct {
	// Gemini。APIKey が無ければ Project/Location で Vertex AI を使う
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	Project      string `env:"PROJECT_ID"`
	Location     string `env:"LOCATION" envDefault:"us-central1"`
	TextModel    string `env:"NEXUS_TEXT_MODEL" envDefault:"gemini-2.5-flash"`
	ImageModel   string `env:"NEXUS_IMAGE_MODEL" envDefault:"gemini-2.5-flash-image-preview"`
	SpeechModel  string `env:"NEXUS_SPEECH_MODEL" envDefault:"gemini-2.5-flash-preview-tts"`
	VoiceName    string `env:"NEXUS_VOICE_NAME" envDefault:"Kore"`

	// ローカルのバックエンド
	UseLocalImage bool   `env:"NEXUS_USE_LOCAL_IMAGE"`
	ImageEndpoint string `env:"NEXUS_IMAGE_ENDPOINT" envDefault:"http://127.0.0.1:7860"`
	UseLocalLLM   bool   `env:"NEXUS_USE_LOCAL_LLM"`
	LLMEndpoint   string `env:"NEXUS_LLM_ENDPOINT" envDefault:"http://127.0.0.1:11434/v1"`
	LLMModel      string `env:"NEXUS_LLM_MODEL" envDefault:"llama3.1"`
	LLMAPIKey     string `env:"NEXUS_LLM_API_KEY"`

	Attempts int           `env:"NEXUS_GENERATION_ATTEMPTS" envDefault:"2"`
	Backoff  time.Duration `env:"NEXUS_GENERATION_BACKOFF" envDefault:"1s"`

	Store      StoreKind `env:"NEXUS_STORE" envDefault:"file"`
	DataDir    string    `env:"NEXUS_DATA_DIR" envDefault:"./data"`
	RedisAddr  string    `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPass  string    `env:"REDIS_PASSWORD"`
	RedisDB    int       `env:"REDIS_DB" envDefault:"0"`
	SQLitePath string    `env:"NEXUS_SQLITE_PATH"`

	Addr      string        `env:"NEXUS_ADDR" envDefault:":8080"`
	RSSURL    string        `env:"NEXUS_RSS_URL"`
	IdleAfter time.Duration `env:"NEXUS_IDLE_AFTER" envDefault:"3m"`
	PoseDwell time.Duration `env:"NEXUS_POSE_DWELL" envDefault:"8s"`

	SpeechToText   bool   `env:"NEXUS_SPEECH_TO_TEXT"`
	SpeechLanguage string `env:"NEXUS_SPEECH_LANGUAGE" envDefault:"en-US"`
	LogLevel       string `env:"NEXUS_LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数から設定を読み込み、組み合わせの妥当性を確かめます。
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreFile, StoreRedis, StoreSQLite:
	default:
		return fmt.Errorf("config: unknown NEXUS_STORE %q", c.Store)
	}
	if !c.hasGemini() && !(c.UseLocalImage && c.UseLocalLLM) {
		return errors.New("config: set GEMINI_API_KEY or PROJECT_ID, or enable both local image and local LLM backends")
	}
	return nil
}

func (c Config) hasGemini() bool {
	return c.GeminiAPIKey != "" || c.Project != ""
}

// Gateway はバックエンドを組み合わせた Router を返します。
// ローカルを有効にした機能はローカルを先に試し、Gemini があればそれを予備にします。
func (c Config) Gateway(ctx context.Context) (*gateway.Router, error) {
	r := &gateway.Router{Attempts: c.Attempts, Backoff: c.Backoff}
	if c.hasGemini() {
		g, err := gateway.NewGemini(ctx, gateway.GeminiConfig{
			APIKey:      c.GeminiAPIKey,
			Project:     c.Project,
			Location:    c.Location,
			TextModel:   c.TextModel,
			ImageModel:  c.ImageModel,
			SpeechModel: c.SpeechModel,
			VoiceName:   c.VoiceName,
		})
		if err != nil {
			return nil, fmt.Errorf("config.Gateway: %w", err)
		}
		r.Image, r.Text, r.Speech = g, g, g
	}
	if c.UseLocalImage {
		r.ImageFallback = r.Image
		r.Image = gateway.NewA1111(c.ImageEndpoint)
	}
	if c.UseLocalLLM {
		r.TextFallback = r.Text
		r.Text = gateway.NewOpenAICompat(c.LLMEndpoint, c.LLMAPIKey, c.LLMModel)
	}
	return r, nil
}

// Store は NEXUS_STORE に応じた保存先を開きます。
func (c Config) OpenStore(ctx context.Context) (store.Store, error) {
	switch c.Store {
	case StoreRedis:
		rdb, err := store.DialRedis(ctx, c.RedisAddr, c.RedisPass, c.RedisDB)
		if err != nil {
			return nil, err
		}
		return store.NewRedisStore(rdb, ""), nil
	case StoreSQLite:
		path := c.SQLitePath
		if path == "" {
			path = filepath.Join(c.DataDir, "nexus.db")
		}
		return store.OpenSQLite(path)
	default:
		return store.NewFileStore(c.DataDir), nil
	}
}

// Prompts はお題の取得元を、生成 API、RSS、埋め込みリストの順でつなげます。
func (c Config) Prompts(gw gateway.Gateway) (inspire.Source, error) {
	fallback, err := inspire.LoadFallback()
	if err != nil {
		return nil, fmt.Errorf("config.Prompts: %w", err)
	}
	chain := inspire.Chain{inspire.NewGatewaySource(gw)}
	if c.RSSURL != "" {
		chain = append(chain, inspire.NewRSSSource(c.RSSURL, 20))
	}
	return append(chain, fallback), nil
}
