package handlers

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	"github.com/parley-chat/parley/internal/batch"
)

// toastCenter publishes toasts over SSE and arms their actions behind
// expiring tokens. The client invokes an action by posting its token back;
// after the timeout the token is gone and a late invocation no-ops.
type toastCenter struct {
	sseSrv *sse.Server
	logger *slog.Logger

	mu      sync.Mutex
	actions map[string]func()
}

type toastPayload struct {
	Message     string `json:"message"`
	ActionLabel string `json:"actionLabel,omitempty"`
	ActionToken string `json:"actionToken,omitempty"`
	TimeoutMS   int64  `json:"timeoutMs"`
}

func newToastCenter(sseSrv *sse.Server, logger *slog.Logger) *toastCenter {
	return &toastCenter{
		sseSrv:  sseSrv,
		logger:  logger.With(slog.String("module", "toasts")),
		actions: make(map[string]func()),
	}
}

// ShowToast implements the batch.Toaster interface.
func (t *toastCenter) ShowToast(message string, action *batch.ToastAction, timeout time.Duration) {
	payload := toastPayload{
		Message:   message,
		TimeoutMS: timeout.Milliseconds(),
	}

	if action != nil {
		token := uuid.New().String()
		payload.ActionLabel = action.Label
		payload.ActionToken = token

		t.mu.Lock()
		t.actions[token] = action.Run
		t.mu.Unlock()

		time.AfterFunc(timeout, func() {
			t.mu.Lock()
			delete(t.actions, token)
			t.mu.Unlock()
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.logger.Error("Failed to marshal toast", slog.String(errLoggerKey, err.Error()))
		return
	}

	e := sse.Message{Type: toastSSEType}
	e.AppendData(string(data))
	if err := t.sseSrv.Publish(&e, toastsSSETopic); err != nil {
		t.logger.Error("Failed to publish toast", slog.String(errLoggerKey, err.Error()))
	}
}

// invoke runs and disarms the action behind the token. Returns false when the
// token is unknown or already expired.
func (t *toastCenter) invoke(token string) bool {
	t.mu.Lock()
	run, ok := t.actions[token]
	delete(t.actions, token)
	t.mu.Unlock()

	if !ok {
		return false
	}
	run()
	return true
}
