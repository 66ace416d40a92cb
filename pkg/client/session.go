package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"pasal/backend/internal/domain"
)

// Keys the client persists between runs.
const (
	KeyUserInfo          = "userInfo"
	KeyToken             = "token"
	KeyCurrentCompany    = "currentCompany"
	KeyCurrentFiscalYear = "currentFiscalYear"
	KeyPrintAfterSave    = "printAfterSave"
)

// SessionStore is a small persistent key/value store for client state.
// Load reports false when key is absent.
type SessionStore interface {
	Load(key string, dest any) (bool, error)
	Save(key string, value any) error
	Delete(keys ...string) error
}

type MemorySessionStore struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{values: make(map[string]json.RawMessage)}
}

func (s *MemorySessionStore) Load(key string, dest any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (s *MemorySessionStore) Save(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.values[key] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Delete(keys ...string) error {
	s.mu.Lock()
	for _, key := range keys {
		delete(s.values, key)
	}
	s.mu.Unlock()
	return nil
}

// FileSessionStore keeps the values in one JSON file, rewritten on every
// change.
type FileSessionStore struct {
	mu     sync.Mutex
	path   string
	values map[string]json.RawMessage
}

// OpenFileSessionStore loads path, starting empty when it does not exist.
func OpenFileSessionStore(path string) (*FileSessionStore, error) {
	s := &FileSessionStore{path: path, values: make(map[string]json.RawMessage)}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("parse session file: %w", err)
	}
	return s, nil
}

func (s *FileSessionStore) Load(key string, dest any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.values[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (s *FileSessionStore) Save(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = raw
	return s.flush()
}

func (s *FileSessionStore) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
	}
	return s.flush()
}

// flush writes through a temp file so a crash never leaves a torn file.
func (s *FileSessionStore) flush() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

func saveSession(store SessionStore, token string, session domain.Session) error {
	if err := store.Save(KeyToken, token); err != nil {
		return err
	}
	if err := store.Save(KeyUserInfo, session.User); err != nil {
		return err
	}
	if session.Company != nil && session.FiscalYear != nil {
		if err := store.Save(KeyCurrentCompany, session.Company); err != nil {
			return err
		}
		return store.Save(KeyCurrentFiscalYear, session.FiscalYear)
	}
	return store.Delete(KeyCurrentCompany, KeyCurrentFiscalYear)
}

func loadSession(store SessionStore) (domain.Session, bool, error) {
	var session domain.Session
	ok, err := store.Load(KeyUserInfo, &session.User)
	if err != nil || !ok {
		return domain.Session{}, false, err
	}
	var company domain.Company
	if ok, err := store.Load(KeyCurrentCompany, &company); err != nil {
		return domain.Session{}, false, err
	} else if ok {
		session.Company = &company
	}
	var fy domain.FiscalYear
	if ok, err := store.Load(KeyCurrentFiscalYear, &fy); err != nil {
		return domain.Session{}, false, err
	} else if ok {
		session.FiscalYear = &fy
	}
	return session, true, nil
}

func clearSession(store SessionStore) error {
	return store.Delete(KeyUserInfo, KeyToken, KeyCurrentCompany, KeyCurrentFiscalYear)
}
