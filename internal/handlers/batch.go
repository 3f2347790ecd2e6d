package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/parley-chat/parley/internal/batch"
)

// HandleBatchApply replicates the exchange anchored at "message_id" in
// "session_id" into every session of its group. Structural refusals come back
// as 4xx with a user-facing reason; per-session failures are tallied and
// surfaced in a single summary toast.
func (m Main) HandleBatchApply(w http.ResponseWriter, r *http.Request) {
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

	res, err := m.applier.Run(r.Context(), sessionID, messageID)
	if err != nil {
		m.batchError(w, sessionID, err)
		return
	}

	summary := fmt.Sprintf("Applied to %d sessions, %d already up to date", res.Applied, res.Skipped)
	if len(res.Failures) > 0 {
		summary = fmt.Sprintf("%s, %d failed", summary, len(res.Failures))
	}
	m.toasts.ShowToast(summary, nil, batch.UndoWindow)

	w.WriteHeader(http.StatusNoContent)
}

// HandleBatchDelete removes the batch-and-role of "message_id" across every
// session of the group, arming the undo toast for the undo window.
func (m Main) HandleBatchDelete(w http.ResponseWriter, r *http.Request) {
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

	res, err := m.deleter.Run(r.Context(), sessionID, messageID)
	if err != nil {
		m.batchError(w, sessionID, err)
		return
	}

	if len(res.Failures) > 0 {
		m.toasts.ShowToast(
			fmt.Sprintf("%d sessions could not be processed", len(res.Failures)),
			nil, batch.UndoWindow)
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleUndo invokes the action behind a toast token. An expired or unknown
// token answers 410 so the client can drop the affordance.
func (m Main) HandleUndo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := r.FormValue("token")
	if token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}

	if !m.toasts.invoke(token) {
		http.Error(w, "action expired", http.StatusGone)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// batchError maps orchestrator errors onto HTTP responses. Structural
// refusals are user errors, not server failures.
func (m Main) batchError(w http.ResponseWriter, sessionID string, err error) {
	m.logger.Error("Batch operation failed",
		slog.String("sessionID", sessionID),
		slog.String(errLoggerKey, err.Error()))

	switch {
	case errors.Is(err, batch.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, batch.ErrInvalidBatch), errors.Is(err, batch.ErrNotGrouped), errors.Is(err, batch.ErrNoReply):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
