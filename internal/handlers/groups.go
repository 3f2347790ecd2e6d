package handlers

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/models"
)

// HandleGroups creates a comparison group: one session per submitted "model"
// field, all sharing a group id so exchanges can be replicated and deleted
// across them.
func (m Main) HandleGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	title := r.FormValue("title")
	modelNames := r.Form["model"]
	if len(modelNames) < 2 {
		http.Error(w, "a group needs at least two models", http.StatusBadRequest)
		return
	}

	groupID, err := m.store.AddGroup(r.Context(), models.Group{
		ID:    uuid.New().String(),
		Title: title,
	})
	if err != nil {
		m.logger.Error("Failed to add group", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	group := models.Group{ID: groupID, Title: title}
	for _, modelName := range modelNames {
		sessionID, err := m.store.AddSession(r.Context(), models.Session{
			ID:      uuid.New().String(),
			GroupID: groupID,
			Title:   title + " · " + modelName,
			Model:   modelName,
		})
		if err != nil {
			m.logger.Error("Failed to add group session",
				slog.String("groupID", groupID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		group.SessionIDs = append(group.SessionIDs, sessionID)
	}

	if err := m.store.UpdateGroup(r.Context(), group); err != nil {
		m.logger.Error("Failed to update group", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.publishSessions(""); err != nil {
		m.logger.Error("Failed to publish sessions", slog.String(errLoggerKey, err.Error()))
	}

	http.Redirect(w, r, "/?session_id="+group.SessionIDs[0], http.StatusSeeOther)
}
