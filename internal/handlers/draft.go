package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/parley-chat/parley/internal/models"
)

// HandleDraft persists and restores unsent composer state. GET returns the
// session's draft as JSON. POST accepts either a text edit ("text" plus
// repeated "image" fields), which is debounced by the draft store, or a
// cursor/scroll update ("scroll_top", "selection_start", "selection_end"),
// which is written immediately.
func (m Main) HandleDraft(w http.ResponseWriter, r *http.Request) {
	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		draft, err := m.drafts.Load(sessionID)
		if err != nil {
			m.logger.Error("Failed to load draft",
				slog.String("sessionID", sessionID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(draft); err != nil {
			m.logger.Error("Failed to encode draft", slog.String(errLoggerKey, err.Error()))
		}

	case http.MethodPost:
		if r.Form.Has("scroll_top") || r.Form.Has("selection_start") {
			scrollTop, _ := strconv.Atoi(r.FormValue("scroll_top"))
			start, _ := strconv.Atoi(r.FormValue("selection_start"))
			end, _ := strconv.Atoi(r.FormValue("selection_end"))

			err := m.drafts.SavePosition(sessionID, scrollTop, models.Selection{Start: start, End: end})
			if err != nil {
				m.logger.Error("Failed to save draft position",
					slog.String("sessionID", sessionID),
					slog.String(errLoggerKey, err.Error()))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		m.drafts.Save(sessionID, r.FormValue("text"), r.Form["image"])
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
