package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parley-chat/parley/internal/batchid"
	"github.com/parley-chat/parley/internal/models"
)

// DeleteResult tallies one delete run across a group.
type DeleteResult struct {
	// Removed counts messages removed across all sessions.
	Removed int
	// Sessions counts sessions that had at least one match.
	Sessions int
	Failures []SessionFailure
}

// Deleter removes every message sharing the triggering message's batch id and
// role across all sessions of a group, holding per-session snapshots for a
// revocable undo window.
type Deleter struct {
	store     MessageStore
	directory Directory
	toaster   Toaster
	window    time.Duration
	logger    *slog.Logger
}

// NewDeleter creates a delete orchestrator over the given collaborators. A
// non-positive window falls back to UndoWindow.
func NewDeleter(
	store MessageStore,
	directory Directory,
	toaster Toaster,
	window time.Duration,
	logger *slog.Logger,
) *Deleter {
	if window <= 0 {
		window = UndoWindow
	}
	return &Deleter{
		store:     store,
		directory: directory,
		toaster:   toaster,
		window:    window,
		logger:    logger.With(slog.String("module", "batch-delete")),
	}
}

// Run deletes the (batch, role) of the triggering message across the group.
// The batch id and role come from the message id alone, so the triggering
// session's messages need not be loaded first. Undecodable ids and ungrouped
// sessions refuse before any mutation; per-session load or persist failures
// skip that session and continue.
func (d *Deleter) Run(ctx context.Context, sessionID, messageID string) (DeleteResult, error) {
	decoded := batchid.Decode(messageID)
	if !decoded.Valid {
		return DeleteResult{}, ErrInvalidBatch
	}

	session, err := d.directory.Session(ctx, sessionID)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to load session: %w", err)
	}
	if !session.Grouped() {
		return DeleteResult{}, ErrNotGrouped
	}

	targetIDs, err := d.directory.GroupSessionIDs(ctx, session.GroupID)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to list group sessions: %w", err)
	}

	var res DeleteResult
	snapshots := make(map[string][]models.Message)

	for _, id := range targetIDs {
		// A session that has not been loaded yet must still be fetched;
		// filtering a stale or empty list would silently fail to delete.
		messages, err := d.store.Messages(ctx, id)
		if err != nil {
			d.logger.Error("Failed to load session messages",
				slog.String("sessionID", id),
				slog.String("err", err.Error()))
			res.Failures = append(res.Failures, SessionFailure{SessionID: id, Err: err})
			continue
		}

		filtered := make([]models.Message, 0, len(messages))
		for _, msg := range messages {
			if batchid.Matches(msg.ID, decoded.BatchID, decoded.Role) {
				continue
			}
			filtered = append(filtered, msg)
		}
		removed := len(messages) - len(filtered)
		if removed == 0 {
			continue
		}

		if err := d.store.ReplaceMessages(ctx, id, filtered); err != nil {
			d.logger.Error("Failed to persist filtered messages",
				slog.String("sessionID", id),
				slog.String("err", err.Error()))
			res.Failures = append(res.Failures, SessionFailure{SessionID: id, Err: err})
			continue
		}

		snapshots[id] = messages
		res.Removed += removed
		res.Sessions++
	}

	if len(snapshots) > 0 {
		d.offerUndo(snapshots, res)
	}

	return res, nil
}

// offerUndo presents a toast whose action restores every snapshot verbatim.
// The action is armed for exactly one invocation within the window; after the
// deadline it no-ops even if the toast layer delivers it late.
func (d *Deleter) offerUndo(snapshots map[string][]models.Message, res DeleteResult) {
	deadline := time.Now().Add(d.window)
	var once sync.Once

	restore := func() {
		if time.Now().After(deadline) {
			return
		}
		once.Do(func() {
			for id, snapshot := range snapshots {
				if err := d.store.ReplaceMessages(context.Background(), id, snapshot); err != nil {
					d.logger.Error("Failed to restore session snapshot",
						slog.String("sessionID", id),
						slog.String("err", err.Error()))
				}
			}
		})
	}

	d.toaster.ShowToast(
		fmt.Sprintf("Deleted %d messages across %d sessions", res.Removed, res.Sessions),
		&ToastAction{Label: "Undo", Run: restore},
		d.window,
	)
}
