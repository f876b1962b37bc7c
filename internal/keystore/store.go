// Package keystore is the opaque handle store behind identity installation.
// Callers address it only through fixed logical names; the store neither
// inspects nor interprets the key bytes it holds.
package keystore

import (
	"errors"
	"sync"
)

// Fixed logical names used by the identity manager.
const (
	UserPrivateKey = "userPrivateKey"
	UserPublicKey  = "userPublicKey"
)

var ErrUnavailable = errors.New("keystore unavailable")

// Record is one stored key handle. Data carries PKCS#8 for private keys and
// SPKI for public keys. Extractable travels with the record so a rehydrated
// handle keeps the discipline it was installed with.
type Record struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Data        []byte   `json:"data"`
	Extractable bool     `json:"extractable"`
	Usages      []string `json:"usages"`
}

const (
	RecordTypePrivate = "private"
	RecordTypePublic  = "public"
)

type Store interface {
	Get(name string) (*Record, bool, error)
	Put(name string, rec *Record) error
	Delete(name string) error
	// Reset drops every record. It is the only way trust in stored handles
	// is ever revoked.
	Reset() error
}

type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]*Record{}}
}

func (s *MemoryStore) Get(name string) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[name]
	if !ok {
		return nil, false, nil
	}
	return cloneRecord(rec), true, nil
}

func (s *MemoryStore) Put(name string, rec *Record) error {
	if name == "" || rec == nil {
		return errors.New("keystore: name and record are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := cloneRecord(rec)
	stored.Name = name
	s.records[name] = stored
	return nil
}

func (s *MemoryStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, name)
	return nil
}

func (s *MemoryStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = map[string]*Record{}
	return nil
}

func cloneRecord(rec *Record) *Record {
	out := *rec
	out.Data = append([]byte(nil), rec.Data...)
	out.Usages = append([]string(nil), rec.Usages...)
	return &out
}
