// Package drafts persists per-session unsent input so it survives session
// switches, reloads, and crashes. Text edits are debounced into a single
// pending write per session; caret and scroll updates are written
// immediately; clearing at submit time is synchronous and cancels any
// scheduled write so stale pre-submission text can never resurrect.
package drafts

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parley-chat/parley/internal/models"
)

// DefaultDebounce is the delay between the last text edit and its persisted
// write.
const DefaultDebounce = 500 * time.Millisecond

// Backend is the keyed store underneath the draft layer.
type Backend interface {
	Draft(sessionID string) (models.Draft, error)
	PutDraft(sessionID string, draft models.Draft) error
}

type entry struct {
	draft models.Draft
	timer *time.Timer
	// gen invalidates a scheduled write that fires after Clear won the race.
	gen uint64
}

// Store serializes draft writes per session. Concurrent drafts for different
// sessions never interfere; writes to the same session's draft share a single
// pending timer.
type Store struct {
	backend  Backend
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a draft store over the given backend. A non-positive debounce
// falls back to DefaultDebounce.
func New(backend Backend, debounce time.Duration, logger *slog.Logger) *Store {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Store{
		backend:  backend,
		debounce: debounce,
		logger:   logger.With(slog.String("module", "drafts")),
		entries:  make(map[string]*entry),
	}
}

// Load returns the current draft for the session: the live in-memory state
// when a write is pending, otherwise the most recently persisted draft. A
// session without a draft yields the empty draft.
func (s *Store) Load(sessionID string) (models.Draft, error) {
	s.mu.Lock()
	if e, ok := s.entries[sessionID]; ok {
		draft := e.draft
		s.mu.Unlock()
		return draft, nil
	}
	s.mu.Unlock()

	draft, err := s.backend.Draft(sessionID)
	if err != nil {
		return models.Draft{}, fmt.Errorf("failed to load draft: %w", err)
	}
	return draft, nil
}

// Save schedules a debounced write of the session's text and images. Repeated
// calls within the debounce window coalesce into one write carrying the last
// state seen.
func (s *Store) Save(sessionID, text string, images []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensureEntry(sessionID)
	e.draft.Text = text
	e.draft.Images = images
	e.draft.UpdatedAt = time.Now()
	s.schedule(sessionID, e)
}

// SavePosition writes the caret selection and scroll offset immediately,
// bypassing the debounce, so cursor context survives even an immediate crash.
// It does not disturb a pending text write.
func (s *Store) SavePosition(sessionID string, scrollTop int, sel models.Selection) error {
	s.mu.Lock()
	e, pending := s.entries[sessionID]
	var draft models.Draft
	if pending {
		e.draft.ScrollTop = scrollTop
		e.draft.Selection = sel
		draft = e.draft
	}
	s.mu.Unlock()

	if !pending {
		stored, err := s.backend.Draft(sessionID)
		if err != nil {
			return fmt.Errorf("failed to load draft: %w", err)
		}
		stored.ScrollTop = scrollTop
		stored.Selection = sel
		draft = stored
	}

	if err := s.backend.PutDraft(sessionID, draft); err != nil {
		return fmt.Errorf("failed to save draft position: %w", err)
	}
	return nil
}

// Clear writes the empty draft synchronously and cancels any scheduled write.
// Called exactly once per successful submission; after it returns, a
// debounced write scheduled before the submission can no longer fire.
func (s *Store) Clear(sessionID string) error {
	s.mu.Lock()
	if e, ok := s.entries[sessionID]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.gen++
		delete(s.entries, sessionID)
	}
	s.mu.Unlock()

	if err := s.backend.PutDraft(sessionID, models.Draft{UpdatedAt: time.Now()}); err != nil {
		return fmt.Errorf("failed to clear draft: %w", err)
	}
	return nil
}

// Flush forces a pending write for the session to persist now. Used on
// shutdown and in tests; a session with nothing scheduled is a no-op.
func (s *Store) Flush(sessionID string) {
	s.mu.Lock()
	e, ok := s.entries[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	gen := e.gen
	s.mu.Unlock()

	s.write(sessionID, gen)
}

// FlushAll flushes every session with a pending write.
func (s *Store) FlushAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Flush(id)
	}
}

func (s *Store) ensureEntry(sessionID string) *entry {
	e, ok := s.entries[sessionID]
	if !ok {
		e = &entry{}
		s.entries[sessionID] = e
	}
	return e
}

// schedule resets the session's single pending timer. Caller holds s.mu.
func (s *Store) schedule(sessionID string, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	gen := e.gen
	e.timer = time.AfterFunc(s.debounce, func() {
		s.write(sessionID, gen)
	})
}

// write persists the entry's live state if it is still current. A write whose
// generation lost against Clear is dropped, and a non-empty write never lands
// over a live state that is already empty because the live state is what gets
// written.
func (s *Store) write(sessionID string, gen uint64) {
	s.mu.Lock()
	e, ok := s.entries[sessionID]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	draft := e.draft
	delete(s.entries, sessionID)
	s.mu.Unlock()

	if err := s.backend.PutDraft(sessionID, draft); err != nil {
		s.logger.Error("Failed to persist draft",
			slog.String("sessionID", sessionID),
			slog.String("err", err.Error()))
	}
}
