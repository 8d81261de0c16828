// Package store はセッションの永続化を扱います。
// 中身はアーカイブ（zip）のバイト列として保存し、一覧用のメタデータだけを別に持ちます。
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: session not found")

// Summary は一覧表示用のメタデータです。
type Summary struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Prompt    string    `json:"prompt" yaml:"prompt"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Record は保存単位です。Bundle は archive.Encode の出力です。
type Record struct {
	Summary
	Bundle []byte
}

type Store interface {
	Save(ctx context.Context, r *Record) error
	Load(ctx context.Context, id string) (*Record, error)
	// List は更新日時の新しい順に返します。
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
