package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var _ Store = (*FileStore)(nil)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FileStore は dataDir/sessions 以下に <id>.zip と <id>.yaml を置きます。
type FileStore struct {
	dir string
}

func NewFileStore(dataDir string) *FileStore {
	return &FileStore{dir: filepath.Join(dataDir, "sessions")}
}

func (s *FileStore) paths(id string) (zipPath, metaPath string, err error) {
	if !validID.MatchString(id) {
		return "", "", fmt.Errorf("store.FileStore: invalid session id %q", id)
	}
	return filepath.Join(s.dir, id+".zip"), filepath.Join(s.dir, id+".yaml"), nil
}

func (s *FileStore) Save(ctx context.Context, r *Record) error {
	zipPath, metaPath, err := s.paths(r.ID)
	if err != nil {
		return err
	}
	meta, err := yaml.Marshal(&r.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal session meta %s: %w", r.ID, err)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory %s: %w", s.dir, err)
	}
	// zip を先に書き、メタデータの存在を保存完了の印にする
	if err := writeFileAtomic(zipPath, r.Bundle); err != nil {
		return fmt.Errorf("failed to write session bundle %s: %w", zipPath, err)
	}
	if err := writeFileAtomic(metaPath, meta); err != nil {
		return fmt.Errorf("failed to write session meta %s: %w", metaPath, err)
	}
	return nil
}

func (s *FileStore) Load(ctx context.Context, id string) (*Record, error) {
	zipPath, metaPath, err := s.paths(id)
	if err != nil {
		return nil, err
	}
	sum, err := readMeta(metaPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(zipPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session bundle %s: %w", zipPath, err)
	}
	return &Record{Summary: *sum, Bundle: data}, nil
}

func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Summary{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session directory %s: %w", s.dir, err)
	}
	out := []Summary{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		sum, err := readMeta(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, *sum)
	}
	sortSummaries(out)
	return out, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	zipPath, metaPath, err := s.paths(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(metaPath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for _, p := range []string{metaPath, zipPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func readMeta(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSuffix(filepath.Base(path), ".yaml"))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session meta %s: %w", path, err)
	}
	var sum Summary
	if err := yaml.Unmarshal(data, &sum); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session meta %s: %w", path, err)
	}
	return &sum, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func sortSummaries(s []Summary) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].UpdatedAt.Equal(s[j].UpdatedAt) {
			return s[i].ID < s[j].ID
		}
		return s[i].UpdatedAt.After(s[j].UpdatedAt)
	})
}
