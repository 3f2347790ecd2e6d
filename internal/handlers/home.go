package handlers

import (
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/parley-chat/parley/internal/models"
)

type sessionView struct {
	ID    string
	Title string

	Active bool
}

type messageView struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time

	Streaming bool
	IsError   bool
}

type homePageData struct {
	CurrentSessionID string
	Sessions         []sessionView
	Messages         []messageView
	Draft            models.Draft
	BatchMode        bool
}

// HandleHome renders the session list and, when "session_id" is given, that
// session's messages and persisted draft. Activating a session runs the
// stale-stream sweep first so a response that died mid-stream is finalized
// before it is shown.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	sessions, err := m.store.Sessions(r.Context())
	if err != nil {
		m.logger.Error("Failed to get sessions", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sessionID := r.URL.Query().Get("session_id")

	data := homePageData{
		CurrentSessionID: sessionID,
		BatchMode:        m.mode.Active(),
	}
	for _, s := range sessions {
		data.Sessions = append(data.Sessions, sessionView{
			ID:     s.ID,
			Title:  s.Title,
			Active: s.ID == sessionID,
		})
	}

	if sessionID != "" {
		if err := m.sweepStaleStreams(r.Context(), sessionID); err != nil {
			m.logger.Error("Failed to sweep stale streams",
				slog.String("sessionID", sessionID),
				slog.String(errLoggerKey, err.Error()))
		}

		messages, err := m.store.Messages(r.Context(), sessionID)
		if err != nil {
			m.logger.Error("Failed to get messages",
				slog.String("sessionID", sessionID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		for _, msg := range messages {
			content, err := models.RenderHTML(msg.Contents)
			if err != nil {
				m.logger.Error("Failed to render contents",
					slog.String("messageID", msg.ID),
					slog.String(errLoggerKey, err.Error()))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			data.Messages = append(data.Messages, messageView{
				ID:        msg.ID,
				Role:      string(msg.Role),
				Content:   template.HTML(content),
				Timestamp: msg.Timestamp,
				Streaming: msg.Streaming,
				IsError:   msg.IsError,
			})
		}

		draft, err := m.drafts.Load(sessionID)
		if err != nil {
			m.logger.Error("Failed to load draft",
				slog.String("sessionID", sessionID),
				slog.String(errLoggerKey, err.Error()))
		} else {
			data.Draft = draft
		}
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
