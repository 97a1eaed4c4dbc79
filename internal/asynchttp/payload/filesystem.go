package payload

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// FilesystemStore stores each blob as one JSON file under dir,
// mutex-serialized (spec.md §4.5: "filesystem (JSON per file,
// mutex-serialized)").
type FilesystemStore struct {
	mu  sync.Mutex
	dir string
}

type filesystemRecord struct {
	DataBase64 string `json:"data_base64"`
}

// NewFilesystemStore creates dir if it does not already exist.
func NewFilesystemStore(dir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FilesystemStore{dir: dir}, nil
}

func (f *FilesystemStore) path(key string) string {
	return filepath.Join(f.dir, key+".json")
}

func (f *FilesystemStore) Store(_ context.Context, key string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := filesystemRecord{DataBase64: base64.StdEncoding.EncodeToString(data)}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(f.path(key), b, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", key, err)
	}
	return key, nil
}

func (f *FilesystemStore) Fetch(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec filesystemRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, false, err
	}
	data, err := base64.StdEncoding.DecodeString(rec.DataBase64)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Delete is idempotent on missing keys (spec.md §4.5).
func (f *FilesystemStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (f *FilesystemStore) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := os.Stat(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *FilesystemStore) GenerateKey() string { return uuid.NewString() }
func (f *FilesystemStore) Name() string        { return "filesystem" }
