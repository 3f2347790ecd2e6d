package handlers

import (
	"context"
	"fmt"
	"html/template"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/tmaxmax/go-sse"

	parley "github.com/parley-chat/parley"
	"github.com/parley-chat/parley/internal/batch"
	"github.com/parley-chat/parley/internal/controller"
	"github.com/parley-chat/parley/internal/drafts"
	"github.com/parley-chat/parley/internal/models"
)

// LLM represents a large language model interface that provides chat
// functionality. It accepts a context, a model name, and a sequence of
// messages, returning an iterator that yields response chunks and potential
// errors. An empty model name selects the provider's configured default;
// grouped sessions pass their own model so siblings answer side by side.
type LLM interface {
	Chat(ctx context.Context, model string, messages []models.Message) iter.Seq2[string, error]
}

// TitleGenerator generates a short title for a session from its first
// message.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, message string) (string, error)
}

// Store defines the interface for session, group, message, and draft
// persistence. It is a superset of the interfaces the batch orchestrators
// consume, so one BoltDB instance serves every component.
type Store interface {
	Sessions(ctx context.Context) ([]models.Session, error)
	Session(ctx context.Context, sessionID string) (models.Session, error)
	AddSession(ctx context.Context, session models.Session) (string, error)
	UpdateSession(ctx context.Context, session models.Session) error

	Groups(ctx context.Context) ([]models.Group, error)
	AddGroup(ctx context.Context, group models.Group) (string, error)
	UpdateGroup(ctx context.Context, group models.Group) error
	GroupSessionIDs(ctx context.Context, groupID string) ([]string, error)

	Messages(ctx context.Context, sessionID string) ([]models.Message, error)
	AddMessage(ctx context.Context, sessionID string, message models.Message) error
	UpdateMessage(ctx context.Context, sessionID string, message models.Message) error
	ReplaceMessages(ctx context.Context, sessionID string, messages []models.Message) error
}

// Main handles the core functionality of the chat application, wiring the
// SSE server, templates, persistence, the controller registry, the draft
// store, and the batch orchestrators.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	llm            LLM
	titleGenerator TitleGenerator
	store          Store
	registry       *controller.Registry
	drafts         *drafts.Store
	mode           *batch.Mode
	applier        *batch.Applier
	deleter        *batch.Deleter
	toasts         *toastCenter

	logger *slog.Logger
}

const (
	sessionsSSETopic = "sessions"
	toastsSSETopic   = "toasts"

	errLoggerKey = "err"
)

// SSE event types for real-time updates.
var (
	sessionsSSEType = sse.Type("sessions")
	messagesSSEType = sse.Type("messages")
	toastSSEType    = sse.Type("toast")
)

// staleStreamTimeout is the client-side liveness window: a message still
// streaming this long after creation is forcibly finalized the next time its
// session is activated.
const staleStreamTimeout = 60 * time.Second

// NewMain creates a new Main instance with the provided LLM, title generator,
// store, and draft store implementations. It initializes the SSE server with
// default configurations and parses the required HTML templates from the
// embedded filesystem.
func NewMain(
	llm LLM,
	titleGenerator TitleGenerator,
	store Store,
	draftStore *drafts.Store,
	logger *slog.Logger,
) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		parley.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	sseSrv := &sse.Server{
		OnSession: func(s *sse.Session) (sse.Subscription, bool) {
			// We start with default topics that all clients should subscribe to
			topics := []string{sse.DefaultTopic, sessionsSSETopic, toastsSSETopic}

			// We create a message-specific topic if the client requests updates for a particular message
			messageID := s.Req.URL.Query().Get("message_id")
			if messageID != "" {
				topics = append(topics, messageIDTopic(messageID))
			}

			return sse.Subscription{
				Client:      s,
				LastEventID: s.LastEventID,
				Topics:      topics,
			}, true
		},
	}

	m := Main{
		sseSrv:         sseSrv,
		templates:      tmpl,
		llm:            llm,
		titleGenerator: titleGenerator,
		store:          store,
		registry:       controller.New(),
		drafts:         draftStore,
		mode:           batch.NewMode(),
		toasts:         newToastCenter(sseSrv, logger),
		logger:         logger.With(slog.String("module", "handlers")),
	}

	// The orchestrators see Main itself as the dispatch pipeline; Main's
	// pointer fields make the copies share state.
	m.applier = batch.NewApplier(store, store, m, m.mode, logger)
	m.deleter = batch.NewDeleter(store, store, m.toasts, batch.UndoWindow, logger)

	return m, nil
}

func messageIDTopic(messageID string) string {
	return fmt.Sprintf("message-%s", messageID)
}

// Registry exposes the controller registry so callers outside the HTTP
// surface (and tests) can observe pending streams.
func (m Main) Registry() *controller.Registry {
	return m.registry
}

// BatchMode exposes the batch-apply-in-progress flag for components that
// coalesce re-renders while a group-wide apply is streaming.
func (m Main) BatchMode() *batch.Mode {
	return m.mode
}

// HandleSSE upgrades the request into a server-sent-events subscription.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the Main instance: all in-flight streams are
// cancelled, pending draft writes are flushed, and the SSE server broadcasts
// a close message before waiting up to 5 seconds for connections to
// terminate.
func (m Main) Shutdown(ctx context.Context) error {
	m.registry.CancelAll()
	m.drafts.FlushAll()

	e := &sse.Message{Type: sse.Type("closeChat")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
