package handlers_test

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/batch"
	"github.com/parley-chat/parley/internal/batchid"
	"github.com/parley-chat/parley/internal/controller"
	"github.com/parley-chat/parley/internal/drafts"
	"github.com/parley-chat/parley/internal/handlers"
	"github.com/parley-chat/parley/internal/models"
)

type mockLLM struct {
	responses []string
	err       error

	// echoModel makes responses name the model they were addressed to, so
	// tests can tell which model each session's stream went through.
	echoModel bool
}

func (l *mockLLM) Chat(ctx context.Context, model string, _ []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if l.echoModel {
			yield("answer from "+model, nil)
			return
		}
		for _, res := range l.responses {
			if ctx.Err() != nil {
				return
			}
			if !yield(res, nil) {
				return
			}
		}
		if l.err != nil {
			yield("", l.err)
		}
	}
}

func (l *mockLLM) GenerateTitle(context.Context, string) (string, error) {
	return "Generated Title", nil
}

type mockStore struct {
	mu       sync.Mutex
	sessions []models.Session
	groups   []models.Group
	messages map[string][]models.Message
	err      error
}

func newMockStore() *mockStore {
	return &mockStore{messages: map[string][]models.Message{}}
}

func (s *mockStore) Sessions(context.Context) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]models.Session(nil), s.sessions...), nil
}

func (s *mockStore) Session(_ context.Context, sessionID string) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return models.Session{}, s.err
	}
	for _, sess := range s.sessions {
		if sess.ID == sessionID {
			return sess, nil
		}
	}
	return models.Session{}, nil
}

func (s *mockStore) AddSession(_ context.Context, session models.Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.sessions = append(s.sessions, session)
	return session.ID, nil
}

func (s *mockStore) UpdateSession(_ context.Context, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sess := range s.sessions {
		if sess.ID == session.ID {
			s.sessions[i] = session
		}
	}
	return nil
}

func (s *mockStore) Groups(context.Context) ([]models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Group(nil), s.groups...), nil
}

func (s *mockStore) AddGroup(_ context.Context, group models.Group) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.groups = append(s.groups, group)
	return group.ID, nil
}

func (s *mockStore) UpdateGroup(_ context.Context, group models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, g := range s.groups {
		if g.ID == group.ID {
			s.groups[i] = group
		}
	}
	return nil
}

func (s *mockStore) GroupSessionIDs(_ context.Context, groupID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, sess := range s.sessions {
		if sess.GroupID == groupID {
			ids = append(ids, sess.ID)
		}
	}
	return ids, nil
}

func (s *mockStore) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]models.Message(nil), s.messages[sessionID]...), nil
}

func (s *mockStore) AddMessage(_ context.Context, sessionID string, message models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append(s.messages[sessionID], message)
	return nil
}

func (s *mockStore) UpdateMessage(_ context.Context, sessionID string, message models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, msg := range s.messages[sessionID] {
		if msg.ID == message.ID {
			s.messages[sessionID][i] = message
		}
	}
	return nil
}

func (s *mockStore) ReplaceMessages(_ context.Context, sessionID string, messages []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append([]models.Message(nil), messages...)
	return nil
}

type mockDraftBackend struct {
	mu     sync.Mutex
	drafts map[string]models.Draft
}

func (b *mockDraftBackend) Draft(sessionID string) (models.Draft, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drafts[sessionID], nil
}

func (b *mockDraftBackend) PutDraft(sessionID string, draft models.Draft) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drafts == nil {
		b.drafts = map[string]models.Draft{}
	}
	b.drafts[sessionID] = draft
	return nil
}

func newTestMain(t *testing.T, llm *mockLLM, store *mockStore) handlers.Main {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	draftStore := drafts.New(&mockDraftBackend{}, 5*time.Millisecond, logger)

	main, err := handlers.NewMain(llm, llm, store, draftStore, logger)
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	return main
}

// waitSettled polls until no stream in the session is marked streaming.
func waitSettled(t *testing.T, store *mockStore, sessionID string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		messages, _ := store.Messages(context.Background(), sessionID)
		settled := true
		for _, msg := range messages {
			if msg.Streaming {
				settled = false
			}
		}
		if settled && len(messages) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("streams did not settle in time")
}

func postForm(handler http.HandlerFunc, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestNewMain(t *testing.T) {
	main := newTestMain(t, &mockLLM{}, newMockStore())

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleHome(t *testing.T) {
	store := newMockStore()
	store.sessions = []models.Session{{ID: "1", Title: "Test Session"}}
	store.messages["1"] = []models.Message{
		{ID: "m1", Role: models.RoleUser, Contents: []models.Content{
			{Type: models.ContentTypeText, Text: "Hello"},
		}},
	}

	main := newTestMain(t, &mockLLM{}, store)

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Home page without session",
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody:   "Test Session",
		},
		{
			name:       "Home page with session",
			url:        "/?session_id=1",
			wantStatus: http.StatusOK,
			wantBody:   "Hello",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()

			main.HandleHome(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleHome() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("HandleHome() body does not contain %q", tt.wantBody)
			}
		})
	}
}

func TestHandleHomeFinalizesStaleStream(t *testing.T) {
	store := newMockStore()
	store.sessions = []models.Session{{ID: "1", Title: "Test Session"}}
	store.messages["1"] = []models.Message{
		{
			ID:        "stale",
			Role:      models.RoleAssistant,
			Timestamp: time.Now().Add(-2 * time.Minute),
			Streaming: true,
		},
	}

	main := newTestMain(t, &mockLLM{}, store)

	req := httptest.NewRequest(http.MethodGet, "/?session_id=1", nil)
	w := httptest.NewRecorder()
	main.HandleHome(w, req)

	messages, _ := store.Messages(context.Background(), "1")
	if messages[0].Streaming {
		t.Error("stale stream should be finalized on session activation")
	}
	if !messages[0].IsError {
		t.Error("empty stale stream should become an error placeholder")
	}
	if !strings.Contains(messages[0].Text(), "timed out") {
		t.Errorf("stale message text = %q, want timeout notice", messages[0].Text())
	}
}

func TestHandleHomeLeavesLiveStreamAlone(t *testing.T) {
	store := newMockStore()
	store.sessions = []models.Session{{ID: "1"}}
	store.messages["1"] = []models.Message{
		{
			ID:        "live",
			Role:      models.RoleAssistant,
			Timestamp: time.Now().Add(-2 * time.Minute),
			Streaming: true,
		},
	}

	main := newTestMain(t, &mockLLM{}, store)
	main.Registry().Register("1", "live", controller.HandleFunc(func() {}))
	defer main.Registry().CancelAll()

	req := httptest.NewRequest(http.MethodGet, "/?session_id=1", nil)
	main.HandleHome(httptest.NewRecorder(), req)

	messages, _ := store.Messages(context.Background(), "1")
	if !messages[0].Streaming {
		t.Error("a stream with a registered controller must not be swept")
	}
}

func TestHandleChats(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		message    string
		sessionID  string
		wantStatus int
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Missing message",
			method:     http.MethodPost,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Existing session",
			method:     http.MethodPost,
			message:    "Hello",
			sessionID:  "1",
			wantStatus: http.StatusSeeOther,
		},
		{
			name:       "New session",
			method:     http.MethodPost,
			message:    "Hello",
			wantStatus: http.StatusSeeOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			store.sessions = []models.Session{{ID: "1"}}
			main := newTestMain(t, &mockLLM{responses: []string{"AI response"}}, store)

			form := url.Values{}
			if tt.message != "" {
				form.Set("message", tt.message)
			}
			if tt.sessionID != "" {
				form.Set("session_id", tt.sessionID)
			}

			req := httptest.NewRequest(tt.method, "/chats", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			main.HandleChats(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("HandleChats() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusSeeOther {
				return
			}

			sessionID := tt.sessionID
			if sessionID == "" {
				loc := w.Header().Get("Location")
				sessionID = strings.TrimPrefix(loc, "/?session_id=")
			}

			waitSettled(t, store, sessionID)
			messages, _ := store.Messages(context.Background(), sessionID)
			if len(messages) != 2 {
				t.Fatalf("got %d messages, want user/assistant pair", len(messages))
			}
			if messages[0].Role != models.RoleUser || messages[0].Text() != "Hello" {
				t.Errorf("user message = %+v", messages[0])
			}
			if messages[1].Role != models.RoleAssistant || messages[1].Text() != "AI response" {
				t.Errorf("assistant message = %+v", messages[1])
			}
		})
	}
}

func TestHandleChatsFanout(t *testing.T) {
	store := newMockStore()
	store.sessions = []models.Session{
		{ID: "s1", GroupID: "g1"},
		{ID: "s2", GroupID: "g1"},
	}
	main := newTestMain(t, &mockLLM{responses: []string{"ok"}}, store)

	w := postForm(main.HandleChats, "/chats", url.Values{
		"message":    {"compare this"},
		"session_id": {"s1"},
		"fanout":     {"1"},
	})
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %v", w.Code)
	}

	waitSettled(t, store, "s1")
	waitSettled(t, store, "s2")

	s1, _ := store.Messages(context.Background(), "s1")
	s2, _ := store.Messages(context.Background(), "s2")
	if len(s1) != 2 || len(s2) != 2 {
		t.Fatalf("fanout should reach both sessions, got %d and %d messages", len(s1), len(s2))
	}

	d1 := batchid.Decode(s1[0].ID)
	d2 := batchid.Decode(s2[0].ID)
	if !d1.Valid || !d2.Valid {
		t.Fatal("fanout user messages should carry batch identities")
	}
	if d1.BatchID != d2.BatchID {
		t.Errorf("batch ids differ: %q vs %q", d1.BatchID, d2.BatchID)
	}
	if s1[0].ID == s2[0].ID {
		t.Error("message ids must stay unique even within one batch")
	}
}

func TestFanoutStreamsWithEachSessionsModel(t *testing.T) {
	store := newMockStore()
	store.sessions = []models.Session{
		{ID: "s1", GroupID: "g1", Model: "model-a"},
		{ID: "s2", GroupID: "g1", Model: "model-b"},
	}
	main := newTestMain(t, &mockLLM{echoModel: true}, store)

	w := postForm(main.HandleChats, "/chats", url.Values{
		"message":    {"same prompt"},
		"session_id": {"s1"},
		"fanout":     {"1"},
	})
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %v", w.Code)
	}

	waitSettled(t, store, "s1")
	waitSettled(t, store, "s2")

	s1, _ := store.Messages(context.Background(), "s1")
	s2, _ := store.Messages(context.Background(), "s2")
	if got := s1[1].Text(); got != "answer from model-a" {
		t.Errorf("s1 reply = %q, want its own model's answer", got)
	}
	if got := s2[1].Text(); got != "answer from model-b" {
		t.Errorf("s2 reply = %q, want its own model's answer", got)
	}
}

func TestHandleResend(t *testing.T) {
	store := newMockStore()
	store.sessions = []models.Session{{ID: "1"}}
	store.messages["1"] = []models.Message{
		{ID: "u1", Role: models.RoleUser, Contents: []models.Content{
			{Type: models.ContentTypeText, Text: "first"},
		}},
		{ID: "a1", Role: models.RoleAssistant, Contents: []models.Content{
			{Type: models.ContentTypeText, Text: "old reply"},
		}},
	}

	main := newTestMain(t, &mockLLM{responses: []string{"new reply"}}, store)

	w := postForm(main.HandleResend, "/resend", url.Values{
		"session_id": {"1"},
		"message_id": {"a1"},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %v, body = %s", w.Code, w.Body.String())
	}

	waitSettled(t, store, "1")
	messages, _ := store.Messages(context.Background(), "1")
	if len(messages) != 2 {
		t.Fatalf("resend should not grow history, got %d messages", len(messages))
	}
	if messages[0].Text() != "first" {
		t.Errorf("user message text = %q", messages[0].Text())
	}
	if messages[1].Text() != "new reply" {
		t.Errorf("assistant message text = %q, want regenerated reply", messages[1].Text())
	}
}

func TestHandleResendUnknownMessage(t *testing.T) {
	store := newMockStore()
	store.sessions = []models.Session{{ID: "1"}}
	main := newTestMain(t, &mockLLM{}, store)

	w := postForm(main.HandleResend, "/resend", url.Values{
		"session_id": {"1"},
		"message_id": {"nope"},
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %v, want 404", w.Code)
	}
}

func TestHandleStop(t *testing.T) {
	store := newMockStore()
	store.sessions = []models.Session{{ID: "1"}}
	main := newTestMain(t, &mockLLM{}, store)

	var aborted bool
	main.Registry().Register("1", "m1", controller.HandleFunc(func() { aborted = true }))

	w := postForm(main.HandleStop, "/stop", url.Values{
		"session_id": {"1"},
		"message_id": {"m1"},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %v", w.Code)
	}
	if !aborted {
		t.Error("stop should abort the registered stream")
	}
	if main.Registry().Pending("1", "m1") {
		t.Error("stopped stream should leave the registry")
	}

	// Stopping again is a silent no-op.
	w = postForm(main.HandleStop, "/stop", url.Values{
		"session_id": {"1"},
		"message_id": {"m1"},
	})
	if w.Code != http.StatusNoContent {
		t.Errorf("repeated stop status = %v", w.Code)
	}
}

func TestDispatchReplacesExistingBatchExchange(t *testing.T) {
	batchID := batchid.New()
	store := newMockStore()
	store.sessions = []models.Session{{ID: "1", GroupID: "g1"}}
	store.messages["1"] = []models.Message{
		{ID: batchid.Encode(batchID, models.RoleUser), Role: models.RoleUser, Contents: []models.Content{
			{Type: models.ContentTypeText, Text: "old prompt"},
		}},
		{ID: batchid.Encode(batchID, models.RoleAssistant), Role: models.RoleAssistant, Contents: []models.Content{
			{Type: models.ContentTypeText, Text: "old reply"},
		}},
		{ID: "tail-user", Role: models.RoleUser, Contents: []models.Content{
			{Type: models.ContentTypeText, Text: "unrelated"},
		}},
	}

	main := newTestMain(t, &mockLLM{responses: []string{"fresh reply"}}, store)

	err := main.Dispatch(context.Background(), batch.DispatchRequest{
		SessionID:    "1",
		Text:         "edited prompt",
		TruncateAt:   -1,
		UserBatchID:  batchID,
		ModelBatchID: batchID,
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	waitSettled(t, store, "1")
	messages, _ := store.Messages(context.Background(), "1")
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want in-place replacement", len(messages))
	}
	if messages[0].Text() != "edited prompt" {
		t.Errorf("user text = %q", messages[0].Text())
	}
	if messages[1].Text() != "fresh reply" {
		t.Errorf("assistant text = %q", messages[1].Text())
	}
	if messages[2].ID != "tail-user" {
		t.Errorf("unrelated tail message lost: %+v", messages[2])
	}
}

func TestStreamErrorBecomesErrorMessage(t *testing.T) {
	store := newMockStore()
	store.sessions = []models.Session{{ID: "1"}}
	main := newTestMain(t, &mockLLM{err: fmt.Errorf("provider down")}, store)

	w := postForm(main.HandleChats, "/chats", url.Values{
		"message":    {"hi"},
		"session_id": {"1"},
	})
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %v", w.Code)
	}

	waitSettled(t, store, "1")
	messages, _ := store.Messages(context.Background(), "1")
	got := messages[len(messages)-1]
	if !got.IsError {
		t.Error("failed stream with no content should be marked as error")
	}
	if !strings.Contains(got.Text(), "provider down") {
		t.Errorf("error text = %q", got.Text())
	}
}

func TestHandleDraft(t *testing.T) {
	store := newMockStore()
	store.sessions = []models.Session{{ID: "1"}}
	main := newTestMain(t, &mockLLM{}, store)

	w := postForm(main.HandleDraft, "/draft", url.Values{
		"session_id": {"1"},
		"text":       {"half-written thought"},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("save status = %v", w.Code)
	}

	w = postForm(main.HandleDraft, "/draft", url.Values{
		"session_id":      {"1"},
		"scroll_top":      {"42"},
		"selection_start": {"3"},
		"selection_end":   {"8"},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("position status = %v", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/draft?session_id=1", nil)
	rec := httptest.NewRecorder()
	main.HandleDraft(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("load status = %v", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "half-written thought") {
		t.Errorf("draft body = %s, want saved text", body)
	}
	if !strings.Contains(body, "42") {
		t.Errorf("draft body = %s, want saved scroll position", body)
	}
}

func TestHandleBatchApply(t *testing.T) {
	batchID := batchid.New()
	store := newMockStore()
	store.sessions = []models.Session{
		{ID: "s1", GroupID: "g1"},
		{ID: "s2", GroupID: "g1"},
		{ID: "s3", GroupID: "g1"},
	}
	anchorID := batchid.Encode(batchID, models.RoleUser)
	store.messages["s1"] = []models.Message{
		{ID: anchorID, Role: models.RoleUser, Contents: []models.Content{
			{Type: models.ContentTypeText, Text: "shared prompt"},
		}},
		{ID: batchid.Encode(batchID, models.RoleAssistant), Role: models.RoleAssistant, Contents: []models.Content{
			{Type: models.ContentTypeText, Text: "reply"},
		}},
	}

	main := newTestMain(t, &mockLLM{responses: []string{"replicated"}}, store)

	w := postForm(main.HandleBatchApply, "/batch/apply", url.Values{
		"session_id": {"s1"},
		"message_id": {anchorID},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %v, body = %s", w.Code, w.Body.String())
	}

	waitSettled(t, store, "s2")
	waitSettled(t, store, "s3")

	for _, sessionID := range []string{"s2", "s3"} {
		messages, _ := store.Messages(context.Background(), sessionID)
		if len(messages) != 2 {
			t.Fatalf("session %s got %d messages, want replicated pair", sessionID, len(messages))
		}
		if messages[0].Text() != "shared prompt" {
			t.Errorf("session %s user text = %q", sessionID, messages[0].Text())
		}
		if !batchid.Matches(messages[0].ID, batchID, models.RoleUser) {
			t.Errorf("session %s user id = %q, want batch identity", sessionID, messages[0].ID)
		}
	}

	// The mode flag clears in the stream goroutines' completion callbacks,
	// which may lag the final message write by a beat.
	deadline := time.Now().Add(2 * time.Second)
	for main.BatchMode().Active() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if main.BatchMode().Active() {
		t.Error("batch mode should clear after all dispatches complete")
	}
}

func TestHandleBatchApplyRefusals(t *testing.T) {
	store := newMockStore()
	store.sessions = []models.Session{
		{ID: "solo"},
		{ID: "grouped", GroupID: "g1"},
	}
	store.messages["solo"] = []models.Message{
		{ID: "plain", Role: models.RoleUser, Contents: []models.Content{
			{Type: models.ContentTypeText, Text: "hi"},
		}},
	}
	store.messages["grouped"] = []models.Message{
		{ID: "plain2", Role: models.RoleUser, Contents: []models.Content{
			{Type: models.ContentTypeText, Text: "hi"},
		}},
	}

	main := newTestMain(t, &mockLLM{}, store)

	tests := []struct {
		name       string
		sessionID  string
		messageID  string
		wantStatus int
	}{
		{"missing message", "solo", "ghost", http.StatusNotFound},
		{"plain id in grouped session", "grouped", "plain2", http.StatusBadRequest},
		{"ungrouped session", "solo", "plain", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postForm(main.HandleBatchApply, "/batch/apply", url.Values{
				"session_id": {tt.sessionID},
				"message_id": {tt.messageID},
			})
			if w.Code != tt.wantStatus {
				t.Errorf("status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleBatchDelete(t *testing.T) {
	batchID := batchid.New()
	store := newMockStore()
	store.sessions = []models.Session{
		{ID: "s1", GroupID: "g1"},
		{ID: "s2", GroupID: "g1"},
	}
	userID := batchid.Encode(batchID, models.RoleUser)
	for _, sessionID := range []string{"s1", "s2"} {
		store.messages[sessionID] = []models.Message{
			{ID: userID, Role: models.RoleUser},
			{ID: batchid.Encode(batchID, models.RoleAssistant), Role: models.RoleAssistant},
		}
	}

	main := newTestMain(t, &mockLLM{}, store)

	w := postForm(main.HandleBatchDelete, "/batch/delete", url.Values{
		"session_id": {"s1"},
		"message_id": {userID},
	})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %v, body = %s", w.Code, w.Body.String())
	}

	for _, sessionID := range []string{"s1", "s2"} {
		messages, _ := store.Messages(context.Background(), sessionID)
		if len(messages) != 1 {
			t.Fatalf("session %s has %d messages, want user halves removed", sessionID, len(messages))
		}
		if messages[0].Role != models.RoleAssistant {
			t.Errorf("session %s kept %+v, want assistant half", sessionID, messages[0])
		}
	}
}

func TestHandleUndoExpiredToken(t *testing.T) {
	main := newTestMain(t, &mockLLM{}, newMockStore())

	w := postForm(main.HandleUndo, "/undo", url.Values{"token": {"gone"}})
	if w.Code != http.StatusGone {
		t.Errorf("status = %v, want 410", w.Code)
	}
}

func TestHandleGroups(t *testing.T) {
	store := newMockStore()
	main := newTestMain(t, &mockLLM{}, store)

	w := postForm(main.HandleGroups, "/groups", url.Values{
		"title": {"Compare"},
		"model": {"model-a", "model-b"},
	})
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %v, body = %s", w.Code, w.Body.String())
	}

	groups, _ := store.Groups(context.Background())
	if len(groups) != 1 {
		t.Fatalf("got %d groups", len(groups))
	}
	if len(groups[0].SessionIDs) != 2 {
		t.Errorf("group has %d sessions, want 2", len(groups[0].SessionIDs))
	}

	sessions, _ := store.Sessions(context.Background())
	for _, sess := range sessions {
		if sess.GroupID != groups[0].ID {
			t.Errorf("session %s not linked to group", sess.ID)
		}
	}
}

func TestHandleGroupsRejectsSingleModel(t *testing.T) {
	main := newTestMain(t, &mockLLM{}, newMockStore())

	w := postForm(main.HandleGroups, "/groups", url.Values{
		"title": {"Solo"},
		"model": {"only-one"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %v, want 400", w.Code)
	}
}
