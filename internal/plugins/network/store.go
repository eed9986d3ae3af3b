package network

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/alexisbeaulieu97/stated/internal/statefile"
	statederrors "github.com/alexisbeaulieu97/stated/pkg/errors"
)

// Store persists the live interface set. It is the seam between the backend
// and whatever programs the host (OVS, netlink); every Save replaces the whole
// set at once.
type Store interface {
	Load(ctx context.Context) ([]Interface, error)
	Save(ctx context.Context, items []Interface) error
}

// MemoryStore keeps interfaces in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	items []Interface
}

// NewMemoryStore returns a store seeded with items.
func NewMemoryStore(items ...Interface) *MemoryStore {
	return &MemoryStore{items: copyInterfaces(items)}
}

func (s *MemoryStore) Load(ctx context.Context) ([]Interface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyInterfaces(s.items), nil
}

func (s *MemoryStore) Save(ctx context.Context, items []Interface) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = copyInterfaces(items)
	return nil
}

// FileStore keeps interfaces in a YAML file, replaced atomically on Save.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. A missing file is an empty set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileDocument struct {
	Interfaces []Interface `yaml:"interfaces"`
}

func (s *FileStore) Load(ctx context.Context) ([]Interface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Interface{}, nil
		}
		return nil, statederrors.NewIOError(s.path, "read", err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if doc.Interfaces == nil {
		doc.Interfaces = []Interface{}
	}
	return doc.Interfaces, nil
}

func (s *FileStore) Save(ctx context.Context, items []Interface) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := yaml.Marshal(fileDocument{Interfaces: items})
	if err != nil {
		return fmt.Errorf("encode interfaces: %w", err)
	}
	return statefile.WriteFile(s.path, data, 0o644)
}

func copyInterfaces(items []Interface) []Interface {
	out := make([]Interface, len(items))
	for i, item := range items {
		item.Addresses = append([]string(nil), item.Addresses...)
		out[i] = item
	}
	return out
}
