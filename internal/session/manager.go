// Package session stores CLI conversations as JSONL files.
//
// File format:
//
//	Line 1:  {"_type":"metadata","key":"…","createdAt":"…","updatedAt":"…",
//	           "lastResponseId":"…","modelId":N}
//	Line 2+: one schema.Message per line, content blocks preserved
//
// Thinking blocks keep their signatures so a resumed conversation replays
// them to the vendor that produced them.
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/snowgoose/snowgoose/internal/schema"
)

// Manager loads and persists sessions.
type Manager struct {
	dir   string
	cache sync.Map // key → *Session
}

// NewManager creates a Manager storing files under dir, creating it if
// necessary.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// GetOrCreate returns the cached session for key, loading from disk if
// needed, or creating an empty one.
func (m *Manager) GetOrCreate(key string) *Session {
	if v, ok := m.cache.Load(key); ok {
		return v.(*Session)
	}

	s := m.load(key)
	if s == nil {
		now := time.Now()
		s = &Session{Key: key, CreatedAt: now, UpdatedAt: now}
	}

	actual, _ := m.cache.LoadOrStore(key, s)
	return actual.(*Session)
}

type metadata struct {
	Type           string    `json:"_type"`
	Key            string    `json:"key"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	LastResponseID string    `json:"lastResponseId,omitempty"`
	ModelID        int64     `json:"modelId,omitempty"`
}

// Save writes the session to disk.
func (m *Manager) Save(s *Session) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	s.mu.Lock()
	meta := metadata{
		Type:           "metadata",
		Key:            s.Key,
		CreatedAt:      s.CreatedAt.UTC(),
		UpdatedAt:      s.UpdatedAt.UTC(),
		LastResponseID: s.LastResponseID,
		ModelID:        s.ModelID,
	}
	history := s.History.Clone()
	s.mu.Unlock()

	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	for _, msg := range history {
		if err := enc.Encode(msg); err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
	}

	path := m.path(s.Key)
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write session %s: %w", path, err)
	}
	m.cache.Store(s.Key, s)
	return nil
}

// Delete removes a session from disk and the cache.
func (m *Manager) Delete(key string) error {
	m.cache.Delete(key)
	if err := os.Remove(m.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session %s: %w", key, err)
	}
	return nil
}

// Info summarises a stored session.
type Info struct {
	Key       string
	UpdatedAt time.Time
	Path      string
}

// List returns all stored sessions, newest first.
func (m *Manager) List() []Info {
	paths, _ := filepath.Glob(filepath.Join(m.dir, "*.jsonl"))
	var out []Info

	for _, path := range paths {
		meta, err := readMetadata(path)
		if err != nil {
			slog.Debug("session: skip unreadable file", "path", path, "err", err)
			continue
		}
		key := meta.Key
		if key == "" {
			key = strings.TrimSuffix(filepath.Base(path), ".jsonl")
		}
		out = append(out, Info{Key: key, UpdatedAt: meta.UpdatedAt, Path: path})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

func readMetadata(path string) (metadata, error) {
	var meta metadata
	f, err := os.Open(path)
	if err != nil {
		return meta, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	line, err := r.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return meta, err
	}
	if err := json.Unmarshal(line, &meta); err != nil {
		return meta, err
	}
	if meta.Type != "metadata" {
		return meta, fmt.Errorf("missing metadata line")
	}
	return meta, nil
}

// load reads a session from disk, returning nil when it does not exist or
// cannot be parsed.
func (m *Manager) load(key string) *Session {
	path := m.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("session: read failed", "key", key, "err", err)
		}
		return nil
	}

	s := &Session{Key: key}
	dec := json.NewDecoder(bytes.NewReader(data))
	first := true
	for dec.More() {
		if first {
			first = false
			var meta metadata
			if err := dec.Decode(&meta); err != nil || meta.Type != "metadata" {
				slog.Warn("session: bad metadata line", "key", key, "err", err)
				return nil
			}
			s.CreatedAt = meta.CreatedAt
			s.UpdatedAt = meta.UpdatedAt
			s.LastResponseID = meta.LastResponseID
			s.ModelID = meta.ModelID
			continue
		}
		var msg schema.Message
		if err := dec.Decode(&msg); err != nil {
			slog.Warn("session: bad message line, history truncated", "key", key, "err", err)
			break
		}
		s.History = append(s.History, msg)
	}
	return s
}

// path maps a key to a file name, replacing characters that are unsafe in
// file names.
func (m *Manager) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, key)
	return filepath.Join(m.dir, safe+".jsonl")
}
