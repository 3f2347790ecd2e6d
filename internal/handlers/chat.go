package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"github.com/parley-chat/parley/internal/batch"
	"github.com/parley-chat/parley/internal/batchid"
	"github.com/parley-chat/parley/internal/controller"
	"github.com/parley-chat/parley/internal/models"
	"github.com/parley-chat/parley/internal/pairing"
)

// HandleChats processes chat submissions through HTTP POST requests. It
// accepts a "message" form field, optional repeated "image" fields, and an
// optional "session_id"; without a session id a new session is created. For a
// grouped session with "fanout" set, the exchange is dispatched to every
// session of the group under one shared batch id.
//
// The session's draft is cleared synchronously at the instant of submission,
// before the dispatch, so a debounced draft write scheduled before the
// submission can never resurrect the submitted text.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := r.FormValue("message")
	if msg == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}
	images := r.Form["image"]

	var err error

	sessionID := r.FormValue("session_id")
	// We track if this is a new session to determine whether a title needs
	// generating afterwards.
	isNewSession := false
	if sessionID == "" {
		sessionID, err = m.newSession(r.Context())
		if err != nil {
			m.logger.Error("Failed to create new session", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		isNewSession = true
	}

	session, err := m.store.Session(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to load session",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.drafts.Clear(sessionID); err != nil {
		// Submission proceeds; a failed clear costs a stale draft, not the message.
		m.logger.Error("Failed to clear draft",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
	}

	targets := []string{sessionID}
	var userBatchID string
	if session.Grouped() {
		userBatchID = batchid.New()
		if r.FormValue("fanout") != "" {
			groupIDs, err := m.store.GroupSessionIDs(r.Context(), session.GroupID)
			if err != nil {
				m.logger.Error("Failed to list group sessions",
					slog.String("groupID", session.GroupID),
					slog.String(errLoggerKey, err.Error()))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if len(groupIDs) > 0 {
				targets = groupIDs
			}
		}
	}

	for _, target := range targets {
		err := m.Dispatch(r.Context(), batch.DispatchRequest{
			SessionID:    target,
			Text:         msg,
			Images:       images,
			TruncateAt:   -1,
			UserBatchID:  userBatchID,
			ModelBatchID: userBatchID,
		})
		if err != nil {
			m.logger.Error("Failed to dispatch message",
				slog.String("sessionID", target),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if isNewSession {
		go m.generateSessionTitle(sessionID, msg)
	}

	http.Redirect(w, r, "/?session_id="+sessionID, http.StatusSeeOther)
}

// HandleResend re-issues the request behind an existing message. The pairing
// resolver determines the user/assistant pair and the truncation point; the
// history is cut back to the request index and the user message's content is
// dispatched again under its original batch id, replacing the prior response.
func (m Main) HandleResend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.FormValue("session_id")
	messageID := r.FormValue("message_id")
	if sessionID == "" || messageID == "" {
		http.Error(w, "session_id and message_id are required", http.StatusBadRequest)
		return
	}

	messages, err := m.store.Messages(r.Context(), sessionID)
	if err != nil {
		m.logger.Error("Failed to get messages",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	res := pairing.Resolve(messages, messageID)
	if !res.Found() {
		http.Error(w, "message not found", http.StatusNotFound)
		return
	}

	// A still-running response for this pair must not keep writing into the
	// truncated history.
	if res.Assistant != nil {
		m.registry.Cancel(sessionID, res.Assistant.ID)
	}

	var userBatchID string
	if decoded := batchid.Decode(res.User.ID); decoded.Valid {
		userBatchID = decoded.BatchID
	}

	err = m.Dispatch(r.Context(), batch.DispatchRequest{
		SessionID:    sessionID,
		Text:         res.User.Text(),
		Images:       res.User.Images(),
		TruncateAt:   res.RequestIndex,
		UserBatchID:  userBatchID,
		ModelBatchID: userBatchID,
	})
	if err != nil {
		m.logger.Error("Failed to dispatch resend",
			slog.String("sessionID", sessionID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleStop cancels in-flight responses: one message when "message_id" is
// given, one session when only "session_id" is given, everything otherwise.
// Cancelling a stream that already completed is a silent no-op.
func (m Main) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.FormValue("session_id")
	messageID := r.FormValue("message_id")

	switch {
	case sessionID != "" && messageID != "":
		m.registry.Cancel(sessionID, messageID)
	case sessionID != "":
		m.registry.CancelSession(sessionID)
	default:
		m.registry.CancelAll()
	}

	w.WriteHeader(http.StatusNoContent)
}

// Dispatch implements the send pipeline consumed by the batch orchestrators
// and the submit/resend handlers. It persists the user message and an empty
// streaming assistant placeholder, then streams the model response
// asynchronously, registering a cancellation handle for the placeholder with
// the controller registry for the lifetime of the stream.
//
// When UserBatchID matches an existing user message in the target session,
// that message is updated in place and its stale assistant reply deleted
// before the new placeholder is inserted; a duplicate pair is never appended.
func (m Main) Dispatch(ctx context.Context, req batch.DispatchRequest) error {
	session, err := m.store.Session(ctx, req.SessionID)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}

	messages, err := m.store.Messages(ctx, req.SessionID)
	if err != nil {
		return fmt.Errorf("failed to get messages: %w", err)
	}

	if req.TruncateAt >= 0 && req.TruncateAt <= len(messages) {
		messages = messages[:req.TruncateAt]
	}

	userMsg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Contents:  models.TextContents(req.Text, req.Images),
		Timestamp: time.Now(),
	}
	aiMsg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Timestamp: time.Now(),
		Streaming: true,
	}
	if req.UserBatchID != "" {
		userMsg.ID = batchid.Encode(req.UserBatchID, models.RoleUser)
	}
	if req.ModelBatchID != "" {
		aiMsg.ID = batchid.Encode(req.ModelBatchID, models.RoleAssistant)
	}

	messages = spliceExchange(messages, req.UserBatchID, userMsg, aiMsg)

	if err := m.store.ReplaceMessages(ctx, req.SessionID, messages); err != nil {
		return fmt.Errorf("failed to persist messages: %w", err)
	}

	if session.ID != "" {
		session.MessageCount = len(messages)
		if err := m.store.UpdateSession(ctx, session); err != nil {
			m.logger.Error("Failed to update session metadata",
				slog.String("sessionID", req.SessionID),
				slog.String(errLoggerKey, err.Error()))
		}
	}

	// Fire and forget; completion is observed through the registry and the
	// request's OnComplete callback.
	go m.stream(req.SessionID, session.Model, messages, aiMsg, req.OnComplete)

	return nil
}

// spliceExchange places the user/assistant pair into the message list. An
// existing user message of the same batch is replaced in position, with its
// stale reply removed; otherwise the pair is appended.
func spliceExchange(messages []models.Message, userBatchID string, userMsg, aiMsg models.Message) []models.Message {
	if userBatchID == "" {
		return append(messages, userMsg, aiMsg)
	}

	idx := slices.IndexFunc(messages, func(msg models.Message) bool {
		return batchid.Matches(msg.ID, userBatchID, models.RoleUser)
	})
	if idx == -1 {
		return append(messages, userMsg, aiMsg)
	}

	// Keep the existing message's identity; only its content changes.
	userMsg.ID = messages[idx].ID
	next := make([]models.Message, 0, len(messages)+1)
	next = append(next, messages[:idx]...)
	next = append(next, userMsg, aiMsg)
	for _, msg := range messages[idx+1:] {
		if msg.Role == models.RoleAssistant && batchid.SameBatch(msg.ID, userMsg.ID) {
			continue // stale reply of the replaced exchange
		}
		next = append(next, msg)
	}
	return next
}

// stream drives one model response to completion, addressed to the session's
// own model. The registry owns the cancellation handle; natural completion,
// errors, and explicit cancellation all converge on removing it, and
// whichever happens first wins. Cancellation never discards already-received
// partial content.
func (m Main) stream(sessionID, model string, history []models.Message, aiMsg models.Message, onComplete func()) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.registry.Register(sessionID, aiMsg.ID, controller.HandleFunc(cancel))

	defer func() {
		m.registry.Remove(sessionID, aiMsg.ID)
		if onComplete != nil {
			onComplete()
		}
		// Ensure SSE connection cleanup on function exit
		e := &sse.Message{Type: sse.Type("closeMessage")}
		e.AppendData("bye")
		_ = m.sseSrv.Publish(e, messageIDTopic(aiMsg.ID))
	}()

	var text strings.Builder

	for chunk, err := range m.llm.Chat(ctx, model, history) {
		if err != nil {
			m.logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
			m.finalize(sessionID, aiMsg, text.String(), err)
			return
		}

		text.WriteString(chunk)
		aiMsg.Contents = []models.Content{{Type: models.ContentTypeText, Text: text.String()}}

		if err := m.store.UpdateMessage(context.Background(), sessionID, aiMsg); err != nil {
			m.logger.Error("Failed to update message",
				slog.String("message", fmt.Sprintf("%+v", aiMsg)),
				slog.String(errLoggerKey, err.Error()))
			return
		}

		m.publishMessage(aiMsg)
	}

	// Natural completion or cancellation; either way the partial content
	// stands as the final text.
	m.finalize(sessionID, aiMsg, text.String(), nil)
}

// finalize settles the assistant message: received content becomes final
// text, an empty errored response becomes an error placeholder.
func (m Main) finalize(sessionID string, aiMsg models.Message, text string, streamErr error) {
	aiMsg.Streaming = false

	if text == "" && streamErr != nil {
		aiMsg.IsError = true
		aiMsg.Contents = []models.Content{{
			Type: models.ContentTypeText,
			Text: fmt.Sprintf("Request failed: %s", streamErr.Error()),
		}}
	} else {
		aiMsg.Contents = []models.Content{{Type: models.ContentTypeText, Text: text}}
	}

	if err := m.store.UpdateMessage(context.Background(), sessionID, aiMsg); err != nil {
		m.logger.Error("Failed to finalize message",
			slog.String("message", fmt.Sprintf("%+v", aiMsg)),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	m.publishMessage(aiMsg)
}

func (m Main) publishMessage(msg models.Message) {
	rendered, err := models.RenderHTML(msg.Contents)
	if err != nil {
		m.logger.Error("Failed to render contents",
			slog.String("message", fmt.Sprintf("%+v", msg)),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	e := sse.Message{Type: messagesSSEType}
	e.AppendData(rendered)
	if err := m.sseSrv.Publish(&e, messageIDTopic(msg.ID)); err != nil {
		m.logger.Error("Failed to publish message",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
	}
}

// sweepStaleStreams finalizes messages that are still marked streaming past
// the liveness window with no registered controller handle backing them. Run
// when a session is activated; a stale stream with content becomes a normal
// message, an empty one becomes an error placeholder.
func (m Main) sweepStaleStreams(ctx context.Context, sessionID string) error {
	messages, err := m.store.Messages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to get messages: %w", err)
	}

	for _, msg := range messages {
		if !msg.Streaming {
			continue
		}
		if time.Since(msg.Timestamp) < staleStreamTimeout {
			continue
		}
		if m.registry.Pending(sessionID, msg.ID) {
			continue
		}

		msg.Streaming = false
		if msg.Text() == "" {
			msg.IsError = true
			msg.Contents = []models.Content{{
				Type: models.ContentTypeText,
				Text: "Response timed out.",
			}}
		}

		if err := m.store.UpdateMessage(ctx, sessionID, msg); err != nil {
			return fmt.Errorf("failed to finalize stale message: %w", err)
		}
	}
	return nil
}

func (m Main) newSession(ctx context.Context) (string, error) {
	newSession := models.Session{
		ID: uuid.New().String(),
	}
	newSessionID, err := m.store.AddSession(ctx, newSession)
	if err != nil {
		return "", fmt.Errorf("failed to add session: %w", err)
	}

	if err := m.publishSessions(newSessionID); err != nil {
		return "", err
	}

	return newSessionID, nil
}

func (m Main) generateSessionTitle(sessionID string, message string) {
	title, err := m.titleGenerator.GenerateTitle(context.Background(), message)
	if err != nil {
		m.logger.Error("Error generating session title",
			slog.String("message", message),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	session, err := m.store.Session(context.Background(), sessionID)
	if err != nil {
		m.logger.Error("Failed to load session",
			slog.String(errLoggerKey, err.Error()))
		return
	}
	session.Title = title
	if err := m.store.UpdateSession(context.Background(), session); err != nil {
		m.logger.Error("Failed to update session title",
			slog.String(errLoggerKey, err.Error()))
		return
	}

	if err := m.publishSessions(sessionID); err != nil {
		m.logger.Error("Failed to publish sessions",
			slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) publishSessions(activeID string) error {
	divs, err := m.sessionDivs(activeID)
	if err != nil {
		return fmt.Errorf("failed to create session divs: %w", err)
	}

	e := sse.Message{Type: sessionsSSEType}
	e.AppendData(divs)

	if err := m.sseSrv.Publish(&e, sessionsSSETopic); err != nil {
		return fmt.Errorf("failed to publish sessions: %w", err)
	}
	return nil
}

func (m Main) sessionDivs(activeID string) (string, error) {
	sessions, err := m.store.Sessions(context.Background())
	if err != nil {
		return "", fmt.Errorf("failed to get sessions: %w", err)
	}

	var sb strings.Builder
	for _, s := range sessions {
		err := m.templates.ExecuteTemplate(&sb, "session_title", sessionView{
			ID:     s.ID,
			Title:  s.Title,
			Active: s.ID == activeID,
		})
		if err != nil {
			return "", fmt.Errorf("failed to execute session_title template: %w", err)
		}
	}
	return sb.String(), nil
}
