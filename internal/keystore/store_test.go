package keystore

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestMemoryStorePutGetDelete(t *testing.T) {
	s := NewMemoryStore()
	rec := &Record{Type: RecordTypePublic, Data: []byte{1, 2, 3}, Extractable: true, Usages: []string{"verify"}}
	if err := s.Put(UserPublicKey, rec); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, ok, err := s.Get(UserPublicKey)
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	got.Data[0] = 0xFF
	again, _, _ := s.Get(UserPublicKey)
	if again.Data[0] != 1 {
		t.Fatal("store must hand out copies, not aliases")
	}

	if err := s.Delete(UserPublicKey); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, _ := s.Get(UserPublicKey); ok {
		t.Fatal("record should be gone after delete")
	}
}

func TestMemoryStoreReset(t *testing.T) {
	s := NewMemoryStore()
	_ = s.Put(UserPrivateKey, &Record{Type: RecordTypePrivate, Data: []byte{9}})
	_ = s.Put(UserPublicKey, &Record{Type: RecordTypePublic, Data: []byte{8}})
	if err := s.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	for _, name := range []string{UserPrivateKey, UserPublicKey} {
		if _, ok, _ := s.Get(name); ok {
			t.Fatalf("%s survived reset", name)
		}
	}
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.enc")
	s1, err := NewFileStore(path, "store-secret")
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	rec := &Record{Type: RecordTypePrivate, Data: []byte{4, 5, 6}, Usages: []string{"sign"}}
	if err := s1.Put(UserPrivateKey, rec); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	s2, err := NewFileStore(path, "store-secret")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	got, ok, err := s2.Get(UserPrivateKey)
	if err != nil || !ok {
		t.Fatalf("get after reopen failed: ok=%v err=%v", ok, err)
	}
	if got.Type != RecordTypePrivate || len(got.Data) != 3 {
		t.Fatalf("unexpected record after reopen: %+v", got)
	}
}

func TestFileStoreWrongSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.enc")
	s1, _ := NewFileStore(path, "right")
	if err := s1.Put(UserPublicKey, &Record{Type: RecordTypePublic, Data: []byte{1}}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	s2, _ := NewFileStore(path, "wrong")
	if _, _, err := s2.Get(UserPublicKey); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestFileStoreRequiresConfig(t *testing.T) {
	if _, err := NewFileStore("", "secret"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := NewFileStore("/tmp/x", " "); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
