package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Схема opaque-ссылок на блобы.
const refScheme = "blob://"

// Ошибки хранилища.
var (
	// ErrNotFound — блоб по ссылке не найден.
	ErrNotFound = errors.New("blob not found")

	// ErrInvalidRef — ссылка не в формате blob://<id>.
	ErrInvalidRef = errors.New("invalid blob ref")
)

// BlobStore — storage collaborator: запись и чтение блобов
// по opaque-ссылке. Содержимое артефактов для системы непрозрачно.
type BlobStore interface {
	// Store сохраняет блоб и возвращает ссылку на него.
	Store(ctx context.Context, data []byte) (string, error)

	// Fetch читает блоб по ссылке.
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// parseRef извлекает идентификатор из ссылки blob://<id>.
func parseRef(ref string) (string, error) {
	if !strings.HasPrefix(ref, refScheme) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	id := strings.TrimPrefix(ref, refScheme)
	if id == "" || strings.ContainsAny(id, "/\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return id, nil
}

// FSStore — файловое хранилище блобов.
//
// Каждый блоб — отдельный файл <root>/<uuid>. Запись идёт через
// временный файл с rename, чтобы частично записанный блоб
// не был виден под финальной ссылкой.
type FSStore struct {
	root string
}

// NewFSStore создаёт хранилище в каталоге root.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Store сохраняет блоб и возвращает ссылку blob://<uuid>.
func (s *FSStore) Store(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.New().String()
	final := filepath.Join(s.root, id)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("commit blob: %w", err)
	}

	return refScheme + id, nil
}

// Fetch читает блоб по ссылке.
func (s *FSStore) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.root, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// MemStore — in-memory хранилище для тестов.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemStore создаёт пустое in-memory хранилище.
func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[string][]byte)}
}

// Store сохраняет блоб в память.
func (s *MemStore) Store(_ context.Context, data []byte) (string, error) {
	ref := refScheme + uuid.New().String()

	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	s.blobs[ref] = cp
	s.mu.Unlock()

	return ref, nil
}

// Fetch читает блоб из памяти.
func (s *MemStore) Fetch(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.blobs[ref]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return data, nil
}
