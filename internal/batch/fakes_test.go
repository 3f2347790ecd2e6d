package batch_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/parley-chat/parley/internal/batch"
	"github.com/parley-chat/parley/internal/batchid"
	"github.com/parley-chat/parley/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	mu       sync.Mutex
	messages map[string][]models.Message
	loadErr  map[string]error
	saveErr  map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: make(map[string][]models.Message),
		loadErr:  make(map[string]error),
		saveErr:  make(map[string]error),
	}
}

func (s *fakeStore) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadErr[sessionID]; err != nil {
		return nil, err
	}
	msgs := make([]models.Message, len(s.messages[sessionID]))
	copy(msgs, s.messages[sessionID])
	return msgs, nil
}

func (s *fakeStore) ReplaceMessages(_ context.Context, sessionID string, messages []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveErr[sessionID]; err != nil {
		return err
	}
	s.messages[sessionID] = messages
	return nil
}

func (s *fakeStore) snapshot(sessionID string) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]models.Message, len(s.messages[sessionID]))
	copy(msgs, s.messages[sessionID])
	return msgs
}

type fakeDirectory struct {
	sessions map[string]models.Session
	groups   map[string][]string
}

func (d *fakeDirectory) Session(_ context.Context, sessionID string) (models.Session, error) {
	return d.sessions[sessionID], nil
}

func (d *fakeDirectory) GroupSessionIDs(_ context.Context, groupID string) ([]string, error) {
	return d.groups[groupID], nil
}

// fakeDispatcher applies the send-pipeline contract synchronously against the
// fake store: when the user batch id matches an existing user message, that
// message is updated in place, its stale reply removed, and a fresh settled
// reply inserted; otherwise the pair is appended. Completion callbacks are
// held so tests control when "streams finish".
type fakeDispatcher struct {
	store *fakeStore

	mu           sync.Mutex
	requests     []batch.DispatchRequest
	completions  []func()
	failFor      map[string]error
	syncComplete map[string]bool
}

func newFakeDispatcher(store *fakeStore) *fakeDispatcher {
	return &fakeDispatcher{
		store:        store,
		failFor:      make(map[string]error),
		syncComplete: make(map[string]bool),
	}
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req batch.DispatchRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failFor[req.SessionID]; err != nil {
		return err
	}
	d.requests = append(d.requests, req)

	d.store.mu.Lock()
	msgs := d.store.messages[req.SessionID]

	userMsg := models.Message{
		ID:        batchid.Encode(req.UserBatchID, models.RoleUser),
		Role:      models.RoleUser,
		Contents:  models.TextContents(req.Text, req.Images),
		Timestamp: time.Now(),
	}
	reply := models.Message{
		ID:        batchid.Encode(req.ModelBatchID, models.RoleAssistant),
		Role:      models.RoleAssistant,
		Contents:  []models.Content{{Type: models.ContentTypeText, Text: "reply to " + req.Text}},
		Timestamp: time.Now(),
	}

	updated := false
	var next []models.Message
	for _, msg := range msgs {
		if batchid.Matches(msg.ID, req.UserBatchID, models.RoleUser) {
			msg.Contents = userMsg.Contents
			next = append(next, msg, reply)
			updated = true
			continue
		}
		if updated && batchid.SameBatch(msg.ID, reply.ID) && msg.Role == models.RoleAssistant {
			continue // stale reply
		}
		next = append(next, msg)
	}
	if !updated {
		next = append(next, userMsg, reply)
	}
	d.store.messages[req.SessionID] = next
	d.store.mu.Unlock()

	if req.OnComplete != nil {
		// A sync-completing session models a stream that finishes before
		// Dispatch even returns, e.g. an immediate provider error.
		if d.syncComplete[req.SessionID] {
			req.OnComplete()
		} else {
			d.completions = append(d.completions, req.OnComplete)
		}
	}
	return nil
}

func (d *fakeDispatcher) completeAll() {
	d.mu.Lock()
	completions := d.completions
	d.completions = nil
	d.mu.Unlock()
	for _, fn := range completions {
		fn()
	}
}

func (d *fakeDispatcher) dispatchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

type fakeToaster struct {
	mu       sync.Mutex
	messages []string
	action   *batch.ToastAction
	timeout  time.Duration
}

func (t *fakeToaster) ShowToast(message string, action *batch.ToastAction, timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, message)
	t.action = action
	t.timeout = timeout
}

func (t *fakeToaster) lastAction() *batch.ToastAction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.action
}

// exchange seeds a settled user/assistant pair carrying the given batch id.
func exchange(batchID, text string) []models.Message {
	return []models.Message{
		{
			ID:       batchid.Encode(batchID, models.RoleUser),
			Role:     models.RoleUser,
			Contents: []models.Content{{Type: models.ContentTypeText, Text: text}},
		},
		{
			ID:       batchid.Encode(batchID, models.RoleAssistant),
			Role:     models.RoleAssistant,
			Contents: []models.Content{{Type: models.ContentTypeText, Text: "reply to " + text}},
		},
	}
}

func plainExchange(n int) []models.Message {
	return []models.Message{
		{
			ID:       fmt.Sprintf("user-%d", n),
			Role:     models.RoleUser,
			Contents: []models.Content{{Type: models.ContentTypeText, Text: fmt.Sprintf("plain %d", n)}},
		},
		{
			ID:       fmt.Sprintf("assistant-%d", n),
			Role:     models.RoleAssistant,
			Contents: []models.Content{{Type: models.ContentTypeText, Text: fmt.Sprintf("plain reply %d", n)}},
		},
	}
}
