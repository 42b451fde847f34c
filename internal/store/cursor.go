package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CursorStore keeps one pagination cursor per "{accountID}:{openKfID}" key
// and persists the whole map as a flat JSON document. Writes are debounced
// so bursty drains cost one disk write per window instead of one per page.
// Persistence is best effort: a failed write is logged and the in-memory
// state stays authoritative.
type CursorStore struct {
	path          string
	flushInterval time.Duration
	logger        zerolog.Logger

	mu      sync.Mutex
	cursors map[string]string
	dirty   bool
	timer   *time.Timer
	closed  bool
}

// NewCursorStore creates a cursor store persisting to path. flushInterval
// bounds how long an advance may sit unwritten; zero selects one second.
func NewCursorStore(path string, flushInterval time.Duration, logger zerolog.Logger) *CursorStore {
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &CursorStore{
		path:          path,
		flushInterval: flushInterval,
		logger:        logger.With().Str("component", "cursor-store").Logger(),
		cursors:       make(map[string]string),
	}
}

// Load reads the persisted document. A missing file is a normal first run;
// a corrupt file is logged and treated as empty rather than failing
// startup.
func (s *CursorStore) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info().Str("path", s.path).Msg("No cursor file, starting empty")
			return nil
		}
		return fmt.Errorf("read cursor file: %w", err)
	}

	cursors := make(map[string]string)
	if err := json.Unmarshal(data, &cursors); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("Cursor file unreadable, starting empty")
		return nil
	}

	s.mu.Lock()
	s.cursors = cursors
	s.mu.Unlock()

	s.logger.Info().Int("cursors", len(cursors)).Msg("Cursor file loaded")
	return nil
}

func key(accountID, openKfID string) string {
	return accountID + ":" + openKfID
}

// Get returns the stored cursor for the pair. ok == false signals a cold
// start.
func (s *CursorStore) Get(accountID, openKfID string) (cursor string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cursor, ok = s.cursors[key(accountID, openKfID)]
	return cursor, ok
}

// Set records an advanced cursor and schedules a debounced flush. Empty
// cursors are ignored so a page without a next pointer cannot rewind the
// stored position.
func (s *CursorStore) Set(accountID, openKfID, cursor string) {
	if cursor == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[key(accountID, openKfID)] = cursor
	s.dirty = true
	if s.timer == nil && !s.closed {
		s.timer = time.AfterFunc(s.flushInterval, s.flushTimer)
	}
}

func (s *CursorStore) flushTimer() {
	if err := s.Flush(); err != nil {
		s.logger.Error().Err(err).Msg("Cursor flush failed")
	}
}

// Flush writes the document now if there are unwritten changes. Used by
// the debounce timer and by graceful shutdown.
func (s *CursorStore) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]string, len(s.cursors))
	for k, v := range s.cursors {
		snapshot[k] = v
	}
	s.dirty = false
	s.mu.Unlock()

	if err := s.write(snapshot); err != nil {
		// Leave dirty so the next Set retries the write.
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	return nil
}

// write rewrites the document wholesale via a temp file rename so readers
// never observe a partial file.
func (s *CursorStore) write(snapshot map[string]string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cursor directory: %w", err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cursors: %w", err)
	}

	tempFile := s.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("write cursor temp file: %w", err)
	}
	if err := os.Rename(tempFile, s.path); err != nil {
		return fmt.Errorf("rename cursor file: %w", err)
	}

	s.logger.Debug().Int("cursors", len(snapshot)).Msg("Cursors flushed")
	return nil
}

// Close stops the debounce timer and flushes any pending state.
func (s *CursorStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Flush()
}
