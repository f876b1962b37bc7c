package keystore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"latchkey/go-backend/internal/securestore"
)

// FileStore keeps records encrypted at rest under a store secret. Every
// mutation rewrites the whole snapshot; the record set is tiny (two key
// handles) so snapshot granularity is fine.
type FileStore struct {
	mu      sync.Mutex
	path    string
	secret  string
	records map[string]*Record
	loaded  bool
}

type fileSnapshot struct {
	Version int                `json:"version"`
	Records map[string]*Record `json:"records"`
}

func NewFileStore(path, secret string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" || strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: path and secret are required", ErrUnavailable)
	}
	return &FileStore{path: path, secret: secret, records: map[string]*Record{}}, nil
}

func (s *FileStore) Get(name string) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, false, err
	}
	rec, ok := s.records[name]
	if !ok {
		return nil, false, nil
	}
	return cloneRecord(rec), true, nil
}

func (s *FileStore) Put(name string, rec *Record) error {
	if name == "" || rec == nil {
		return fmt.Errorf("%w: name and record are required", ErrUnavailable)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	stored := cloneRecord(rec)
	stored.Name = name
	s.records[name] = stored
	return s.persist()
}

func (s *FileStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	delete(s.records, name)
	return s.persist()
}

func (s *FileStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = map[string]*Record{}
	s.loaded = true
	return s.persist()
}

func (s *FileStore) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	raw, err := securestore.ReadDecryptedFile(s.path, s.secret)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var snap fileSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if snap.Version != 1 {
		return fmt.Errorf("%w: unsupported snapshot version %d", ErrUnavailable, snap.Version)
	}
	if snap.Records == nil {
		snap.Records = map[string]*Record{}
	}
	s.records = snap.Records
	s.loaded = true
	return nil
}

func (s *FileStore) persist() error {
	snap := fileSnapshot{Version: 1, Records: s.records}
	if err := securestore.WriteEncryptedJSON(s.path, s.secret, snap); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
