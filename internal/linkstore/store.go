// Package linkstore keeps the Discord user → osu! username table and its
// on-disk copy in step.
//
// The file is a single JSON object keyed by Discord user id. It is rewritten
// in full on every Link through a temp file and rename, so readers only ever
// see the previous or the next table.
package linkstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

type Store struct {
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	links map[string]string
}

// Open loads the table at path. A missing file is an empty store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path:   path,
		logger: logger,
		links:  make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load links from %s: %w", path, err)
	}
	s.logger.Debug("link store opened", zap.String("path", path), zap.Int("links", len(s.links)))
	return s, nil
}

// Link records username for chatUserID, replacing any earlier value, and
// flushes the whole table before returning. On a failed flush the in-memory
// table is rolled back.
func (s *Store) Link(chatUserID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.links[chatUserID]
	s.links[chatUserID] = username

	if err := s.save(); err != nil {
		if had {
			s.links[chatUserID] = prev
		} else {
			delete(s.links, chatUserID)
		}
		return fmt.Errorf("save links: %w", err)
	}

	s.logger.Info("linked user",
		zap.String("discord_id", chatUserID),
		zap.String("osu_username", username),
		zap.Bool("replaced", had),
	)
	return nil
}

func (s *Store) Lookup(chatUserID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.links[chatUserID]
	return name, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links)
}

// All returns a copy of the table.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.links))
	for k, v := range s.links {
		out[k] = v
	}
	return out
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	var links map[string]string
	if err := json.Unmarshal(data, &links); err != nil {
		return err
	}
	if links != nil {
		s.links = links
	}
	return nil
}

// save must be called with mu held.
func (s *Store) save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.Marshal(s.links)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
