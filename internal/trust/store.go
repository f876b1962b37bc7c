package trust

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type InMemoryRecordStore struct {
	mu      sync.Mutex
	trusted map[string]struct{}
}

func NewInMemoryRecordStore() *InMemoryRecordStore {
	return &InMemoryRecordStore{trusted: map[string]struct{}{}}
}

func (s *InMemoryRecordStore) IsTrusted(url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.trusted[url]
	return ok, nil
}

func (s *InMemoryRecordStore) Confirm(url string) error {
	if url == "" {
		return errors.New("trust: url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trusted[url] = struct{}{}
	return nil
}

func (s *InMemoryRecordStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trusted = map[string]struct{}{}
	return nil
}

// FileRecordStore persists consent records as a plain JSON snapshot. The
// entries are public callback URLs, not secrets.
type FileRecordStore struct {
	mu      sync.Mutex
	path    string
	trusted map[string]struct{}
	loaded  bool
}

type trustSnapshot struct {
	Version int      `json:"version"`
	Trusted []string `json:"trusted"`
}

func NewFileRecordStore(path string) (*FileRecordStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("trust: store path is required")
	}
	return &FileRecordStore{path: path, trusted: map[string]struct{}{}}, nil
}

func (s *FileRecordStore) IsTrusted(url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return false, err
	}
	_, ok := s.trusted[url]
	return ok, nil
}

func (s *FileRecordStore) Confirm(url string) error {
	if url == "" {
		return errors.New("trust: url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	if _, ok := s.trusted[url]; ok {
		return nil
	}
	s.trusted[url] = struct{}{}
	return s.persist()
}

func (s *FileRecordStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trusted = map[string]struct{}{}
	s.loaded = true
	return s.persist()
}

func (s *FileRecordStore) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.loaded = true
			return nil
		}
		return err
	}
	var snap trustSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return err
	}
	if snap.Version != 1 {
		return errors.New("trust: unsupported snapshot version")
	}
	s.trusted = make(map[string]struct{}, len(snap.Trusted))
	for _, url := range snap.Trusted {
		s.trusted[url] = struct{}{}
	}
	s.loaded = true
	return nil
}

func (s *FileRecordStore) persist() error {
	urls := make([]string, 0, len(s.trusted))
	for url := range s.trusted {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	raw, err := json.Marshal(trustSnapshot{Version: 1, Trusted: urls})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o600)
}
