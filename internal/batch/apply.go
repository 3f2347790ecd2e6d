package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/parley-chat/parley/internal/batchid"
	"github.com/parley-chat/parley/internal/models"
	"github.com/parley-chat/parley/internal/pairing"
)

// ApplyResult tallies one apply run. Per-session failures never abort the
// loop; the caller surfaces them once in a summary toast.
type ApplyResult struct {
	Applied  int
	Skipped  int
	Failures []SessionFailure
}

// Applier replicates one anchor exchange from a source session into every
// session of its group, exactly once each, without disturbing unrelated
// history. Running it twice with no source changes applies nothing the second
// time.
type Applier struct {
	store     MessageStore
	directory Directory
	dispatch  Dispatcher
	mode      *Mode
	logger    *slog.Logger
}

// NewApplier creates an apply orchestrator over the given collaborators.
func NewApplier(
	store MessageStore,
	directory Directory,
	dispatch Dispatcher,
	mode *Mode,
	logger *slog.Logger,
) *Applier {
	return &Applier{
		store:     store,
		directory: directory,
		dispatch:  dispatch,
		mode:      mode,
		logger:    logger.With(slog.String("module", "batch-apply")),
	}
}

// Run applies the exchange anchored at messageID in the source session to
// every session of the source's group. Structural failures (unknown message,
// undecodable batch id, ungrouped session, unconfirmed reply) return an error
// before any mutation; per-target failures are collected into the result.
func (a *Applier) Run(ctx context.Context, sessionID, messageID string) (res ApplyResult, err error) {
	messages, err := a.store.Messages(ctx, sessionID)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("failed to load source messages: %w", err)
	}

	resolution := pairing.Resolve(messages, messageID)
	if !resolution.Found() {
		return ApplyResult{}, ErrNotFound
	}
	anchor := *resolution.User

	decoded := batchid.Decode(anchor.ID)
	if !decoded.Valid {
		return ApplyResult{}, ErrInvalidBatch
	}

	// The reply must sit immediately after the anchor and be settled. A
	// streaming or errored reply means the exchange is not confirmed yet.
	replyIdx := resolution.RequestIndex + 1
	if replyIdx >= len(messages) ||
		messages[replyIdx].Role != models.RoleAssistant ||
		messages[replyIdx].Streaming ||
		messages[replyIdx].IsError {
		return ApplyResult{}, ErrNoReply
	}

	session, err := a.directory.Session(ctx, sessionID)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("failed to load session: %w", err)
	}
	if !session.Grouped() {
		return ApplyResult{}, ErrNotGrouped
	}

	targetIDs, err := a.directory.GroupSessionIDs(ctx, session.GroupID)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("failed to list group sessions: %w", err)
	}

	a.mode.enter()
	defer func() {
		if r := recover(); r != nil {
			// Never leave the UI stuck in batch mode on an unexpected failure.
			a.mode.ForceExit()
			panic(r)
		}
		a.mode.settle()
	}()

	targets := a.loadTargets(ctx, targetIDs, &res)

	anchorText := anchor.Text()
	anchorImages := anchor.Images()

	for _, target := range targets {
		if upToDate(target.messages, decoded.BatchID, anchorText) {
			res.Skipped++
			continue
		}

		a.mode.add()
		err := a.dispatch.Dispatch(ctx, DispatchRequest{
			SessionID:    target.id,
			Text:         anchorText,
			Images:       anchorImages,
			TruncateAt:   -1,
			UserBatchID:  decoded.BatchID,
			ModelBatchID: decoded.BatchID,
			OnComplete:   a.mode.done,
		})
		if err != nil {
			a.mode.done()
			a.logger.Error("Failed to dispatch to session",
				slog.String("sessionID", target.id),
				slog.String("err", err.Error()))
			res.Failures = append(res.Failures, SessionFailure{SessionID: target.id, Err: err})
			continue
		}
		res.Applied++
	}

	return res, nil
}

type loadedTarget struct {
	id       string
	messages []models.Message
}

// loadTargets fetches every group session's messages concurrently. A failed
// load skips that session and is recorded as a failure; the rest proceed.
func (a *Applier) loadTargets(ctx context.Context, ids []string, res *ApplyResult) []loadedTarget {
	var (
		mu       sync.Mutex
		targets  = make([]loadedTarget, 0, len(ids))
		failures []SessionFailure
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			messages, err := a.store.Messages(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.Error("Failed to load session messages",
					slog.String("sessionID", id),
					slog.String("err", err.Error()))
				failures = append(failures, SessionFailure{SessionID: id, Err: err})
				return nil
			}
			targets = append(targets, loadedTarget{id: id, messages: messages})
			return nil
		})
	}
	// Workers never return an error; they record failures instead.
	_ = g.Wait()

	// Dispatch in the group's declared session order regardless of which load
	// finished first.
	ordered := make([]loadedTarget, 0, len(targets))
	for _, id := range ids {
		for _, t := range targets {
			if t.id == id {
				ordered = append(ordered, t)
				break
			}
		}
	}

	res.Failures = append(res.Failures, failures...)
	return ordered
}

// upToDate reports whether the target already holds the anchor exchange: a
// user message in the same batch with equal content, followed somewhere by a
// settled assistant reply of the same batch.
func upToDate(messages []models.Message, batchID, anchorText string) bool {
	for i, msg := range messages {
		if !batchid.Matches(msg.ID, batchID, models.RoleUser) {
			continue
		}
		if msg.Text() != anchorText {
			return false
		}
		for _, reply := range messages[i+1:] {
			if batchid.Matches(reply.ID, batchID, models.RoleAssistant) {
				return !reply.Streaming && !reply.IsError
			}
		}
		return false
	}
	return false
}
