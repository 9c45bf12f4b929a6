package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/moditems-crawler/internal/crawler"
	"github.com/JakeFAU/moditems-crawler/internal/metrics"
)

var (
	// ErrModExists is returned when appending a mod name already stored.
	ErrModExists = errors.New("mod already stored")
	// ErrCorrupt wraps documents that cannot be decoded.
	ErrCorrupt = errors.New("store document is corrupt")
)

// Store is the in-memory view of the JSON document plus the names claimed by
// in-flight workers. It implements crawler.ModStore.
type Store struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	doc     crawler.Store
	names   map[string]struct{}
	claimed map[string]struct{}
}

// Open loads the document at path. A missing file yields an empty store; a
// corrupt file is logged and also treated as empty.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("store")

	doc, err := Read(path)
	switch {
	case errors.Is(err, ErrCorrupt):
		logger.Error("ignoring corrupt store", zap.String("path", path), zap.Error(err))
		doc = crawler.Store{Mods: []crawler.ModRecord{}}
	case err != nil:
		return nil, err
	}

	s := &Store{
		path:    path,
		logger:  logger,
		doc:     doc,
		names:   make(map[string]struct{}, len(doc.Mods)),
		claimed: make(map[string]struct{}),
	}
	for _, mod := range doc.Mods {
		s.names[mod.ModName] = struct{}{}
	}
	logger.Info("store loaded", zap.String("path", path), zap.Int("mods", len(doc.Mods)))
	return s, nil
}

// Read decodes the document at path without keeping it open. A missing file
// yields an empty document.
func Read(path string) (crawler.Store, error) {
	empty := crawler.Store{Mods: []crawler.ModRecord{}}
	// #nosec G304 -- the store path is operator supplied configuration.
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return empty, nil
	}
	if err != nil {
		return empty, fmt.Errorf("read store: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return empty, nil
	}
	var doc crawler.Store
	if err := json.Unmarshal(raw, &doc); err != nil {
		return empty, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	normalize(&doc)
	return doc, nil
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Has reports whether modName is already persisted.
func (s *Store) Has(modName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.names[modName]
	return ok
}

// Claim marks modName as in flight. It returns false when the name is already
// persisted or claimed by another worker.
func (s *Store) Claim(modName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[modName]; ok {
		return false
	}
	if _, ok := s.claimed[modName]; ok {
		return false
	}
	s.claimed[modName] = struct{}{}
	return true
}

// Release drops a claim without persisting anything.
func (s *Store) Release(modName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, modName)
}

// Append adds mod to the document and rewrites the file. The record stays in
// memory even when the write fails so a later save can still persist it.
func (s *Store) Append(_ context.Context, mod crawler.ModRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.names[mod.ModName]; ok {
		return fmt.Errorf("%w: %s", ErrModExists, mod.ModName)
	}
	rec := cloneMod(mod)
	s.doc.Mods = append(s.doc.Mods, rec)
	s.names[mod.ModName] = struct{}{}
	delete(s.claimed, mod.ModName)

	err := s.saveLocked()
	metrics.ObserveStoreSave(err)
	if err != nil {
		return err
	}
	s.logger.Debug("store saved", zap.String("mod", mod.ModName), zap.Int("mods", len(s.doc.Mods)))
	return nil
}

// Len reports how many mods are stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.doc.Mods)
}

func (s *Store) saveLocked() error {
	data, err := Encode(s.doc)
	if err != nil {
		return err
	}
	return writeAtomic(s.path, data)
}

// Encode renders doc with two-space indentation, literal non-ASCII and a
// trailing newline.
func Encode(doc crawler.Store) ([]byte, error) {
	normalize(&doc)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode store: %w", err)
	}
	return buf.Bytes(), nil
}

// Find returns the named mod from doc.
func Find(doc crawler.Store, modName string) (crawler.ModRecord, bool) {
	for _, mod := range doc.Mods {
		if mod.ModName == modName {
			return mod, true
		}
	}
	return crawler.ModRecord{}, false
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp store: %w", err)
	}
	// #nosec G302 -- the store is a shareable output document.
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp store: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

// normalize replaces nil slices so they encode as [] rather than null.
func normalize(doc *crawler.Store) {
	if doc.Mods == nil {
		doc.Mods = []crawler.ModRecord{}
	}
	for i := range doc.Mods {
		if doc.Mods[i].Items == nil {
			doc.Mods[i].Items = []crawler.ItemRecord{}
		}
		for j := range doc.Mods[i].Items {
			if doc.Mods[i].Items[j].Images == nil {
				doc.Mods[i].Items[j].Images = []crawler.ImageRecord{}
			}
		}
	}
}

func cloneMod(mod crawler.ModRecord) crawler.ModRecord {
	out := crawler.ModRecord{ModName: mod.ModName, Items: make([]crawler.ItemRecord, 0, len(mod.Items))}
	for _, item := range mod.Items {
		images := make([]crawler.ImageRecord, len(item.Images))
		copy(images, item.Images)
		out.Items = append(out.Items, crawler.ItemRecord{Images: images})
	}
	return out
}
