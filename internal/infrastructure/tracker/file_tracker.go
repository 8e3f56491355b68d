package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/booksage/bookshelf/internal/domain/repository"
)

var _ repository.ImportState = (*FileStateStore)(nil)

// FileStateStore keeps import progress in a local JSON file.
type FileStateStore struct {
	path  string
	mu    sync.RWMutex
	state stateData
}

type stateData struct {
	Catalogs map[string]*catalogState `json:"catalogs"`
}

type catalogState struct {
	Watermark int64            `json:"watermark"`
	Imported  map[string]int64 `json:"imported"` // entry id -> book id
}

// NewFileStateStore loads the state at path. A missing or empty file is a fresh state.
func NewFileStateStore(path string) (*FileStateStore, error) {
	store := &FileStateStore{
		path:  path,
		state: stateData{Catalogs: make(map[string]*catalogState)},
	}

	if err := store.load(); err != nil {
		return nil, fmt.Errorf("failed to load state file: %w", err)
	}

	return store, nil
}

func (s *FileStateStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&s.state); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	if s.state.Catalogs == nil {
		s.state.Catalogs = make(map[string]*catalogState)
	}
	for _, c := range s.state.Catalogs {
		if c.Imported == nil {
			c.Imported = make(map[string]int64)
		}
	}
	return nil
}

// catalog must be called with mu held for writing.
func (s *FileStateStore) catalog(name string) *catalogState {
	c, ok := s.state.Catalogs[name]
	if !ok {
		c = &catalogState{Imported: make(map[string]int64)}
		s.state.Catalogs[name] = c
	}
	return c
}

// Watermark returns the newest entry timestamp imported from catalog.
func (s *FileStateStore) Watermark(catalog string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.state.Catalogs[catalog]; ok {
		return c.Watermark
	}
	return 0
}

func (s *FileStateStore) IsImported(catalog, entryID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.Catalogs[catalog]
	if !ok {
		return false
	}
	_, done := c.Imported[entryID]
	return done
}

func (s *FileStateStore) MarkImported(catalog, entryID string, bookID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog(catalog).Imported[entryID] = bookID
}

// AdvanceWatermark only ever moves the watermark forward.
func (s *FileStateStore) AdvanceWatermark(catalog string, timestamp int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.catalog(catalog)
	if timestamp > c.Watermark {
		c.Watermark = timestamp
	}
}

// Save writes the state atomically: temp file, then rename.
func (s *FileStateStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, s.path)
}
