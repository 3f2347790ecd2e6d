// Package batch replicates and removes logical exchanges across every session
// of a group. An exchange is correlated across sessions by the batch id
// embedded in message ids; see the batchid package.
package batch

import (
	"context"
	"errors"
	"time"

	"github.com/parley-chat/parley/internal/models"
)

// Structural failures abort an operation before any mutation occurs.
var (
	// ErrNotFound reports that the target message id is absent from its
	// session.
	ErrNotFound = errors.New("message not found")
	// ErrInvalidBatch reports that the message id does not carry a batch id;
	// the feature requires a grouped session.
	ErrInvalidBatch = errors.New("message does not belong to a batch")
	// ErrNotGrouped reports that the session does not belong to a group.
	ErrNotGrouped = errors.New("session does not belong to a group")
	// ErrNoReply reports that the anchor user message has no confirmed
	// assistant reply; retry first to confirm the reply.
	ErrNoReply = errors.New("exchange has no confirmed reply; retry first to confirm the reply")
)

// UndoWindow is how long a batch delete can be revoked.
const UndoWindow = 5000 * time.Millisecond

// MessageStore is the persistence collaborator for group sessions.
type MessageStore interface {
	Messages(ctx context.Context, sessionID string) ([]models.Message, error)
	ReplaceMessages(ctx context.Context, sessionID string, messages []models.Message) error
}

// Directory resolves sessions and group membership.
type Directory interface {
	Session(ctx context.Context, sessionID string) (models.Session, error)
	GroupSessionIDs(ctx context.Context, groupID string) ([]string, error)
}

// DispatchRequest asks the send pipeline to issue one exchange into a target
// session. When UserBatchID matches an existing user message in the target,
// the pipeline updates that message in place, deletes the stale assistant
// reply, and inserts the new reply; it never appends a duplicate pair.
type DispatchRequest struct {
	SessionID string
	Text      string
	Images    []string

	// TruncateAt drops the message list from this index before dispatching;
	// -1 leaves history untouched.
	TruncateAt int

	UserBatchID  string
	ModelBatchID string

	// OnComplete fires exactly once when the dispatched stream finishes,
	// whether it completed, errored, or was cancelled.
	OnComplete func()
}

// Dispatcher is the message-send pipeline collaborator.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
}

// ToastAction is the user-invocable affordance attached to a toast.
type ToastAction struct {
	Label string
	Run   func()
}

// Toaster surfaces operation summaries and the delete undo affordance.
type Toaster interface {
	ShowToast(message string, action *ToastAction, timeout time.Duration)
}

// SessionFailure records one per-session failure inside a batch loop. These
// are tallied and surfaced once at the end, never aborting the loop.
type SessionFailure struct {
	SessionID string
	Err       error
}
