// Package state persists the last observed version of each monitored
// application in a human-editable JSON document.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Error variables for state store errors
var (
	// ErrStateCorrupted is returned when the state file cannot be parsed.
	// The file is never reset automatically.
	ErrStateCorrupted = errors.New("state file is corrupted")
	// ErrPersistence is returned when the state cannot be written to disk
	ErrPersistence = errors.New("failed to persist state")
	// ErrRecordNotFound is returned when deleting an unknown key
	ErrRecordNotFound = errors.New("no state record for key")
)

// Record is the persisted view of one application.
type Record struct {
	// CurrentVersion is the last version fetched from upstream
	CurrentVersion string `json:"current_version"`
	// PreviousVersion is the last version acted on
	PreviousVersion string `json:"previous_version"`
	// PendingSince is when a change waiting out its grace period was first seen
	PendingSince *time.Time `json:"pending_since,omitempty"`
	// LastTriggerAt is when a release was last created for this application
	LastTriggerAt *time.Time `json:"last_trigger_at,omitempty"`
	SourceURL     string     `json:"source_url,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Pending reports whether a change is waiting out its grace period.
func (r *Record) Pending() bool {
	return r.PendingSince != nil
}

// Entry pairs a record with its key
type Entry struct {
	Key    string
	Record Record
}

// stateFile represents the JSON structure stored on disk
type stateFile struct {
	Records map[string]Record `json:"records"`
}

// Store manages version records keyed by application key.
// Every mutation flushes the whole document to disk.
type Store struct {
	records map[string]Record
	path    string
	mu      sync.RWMutex
	nowFunc func() time.Time
}

// StoreOption is a functional option for configuring Store
type StoreOption func(*Store)

// WithNowFunc sets a custom time function for testing
func WithNowFunc(fn func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowFunc = fn
	}
}

// Open loads the state document at path, creating its directory when
// needed. A missing file is an empty store; an unparsable file is an error.
func Open(path string, opts ...StoreOption) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create state directory: %v", ErrPersistence, err)
	}

	s := &Store{
		records: make(map[string]Record),
		path:    path,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var sf stateFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrStateCorrupted, s.path, err)
	}
	if sf.Records != nil {
		s.records = sf.Records
	}
	return nil
}

// Path returns the location of the state document
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the record for key.
func (s *Store) Get(key string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, false
	}
	return &rec, true
}

// Put stores rec under key, stamps UpdatedAt and writes the document.
// On a write failure the in-memory record is rolled back.
func (s *Store) Put(key string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, existed := s.records[key]
	rec.UpdatedAt = s.nowFunc().UTC()
	s.records[key] = rec

	if err := s.saveUnsafe(); err != nil {
		if existed {
			s.records[key] = old
		} else {
			delete(s.records, key)
		}
		return err
	}
	return nil
}

// Delete removes the record for key and writes the document.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}
	delete(s.records, key)

	if err := s.saveUnsafe(); err != nil {
		s.records[key] = old
		return err
	}
	return nil
}

// List returns all records sorted by key.
func (s *Store) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]Entry, 0, len(s.records))
	for k, rec := range s.records {
		entries = append(entries, Entry{Key: k, Record: rec})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// Len returns the number of records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// saveUnsafe writes the document without locking.
// Caller must hold the write lock.
func (s *Store) saveUnsafe() error {
	data, err := json.MarshalIndent(stateFile{Records: s.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	data = append(data, '\n')

	// Write to temp file first, then rename for atomicity
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}
