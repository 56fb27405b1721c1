package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/chat-relay/internal/handler/chats"
	"github.com/zhouzirui/chat-relay/internal/handler/feed"
	"github.com/zhouzirui/chat-relay/internal/handler/pbx"
	"github.com/zhouzirui/chat-relay/internal/handler/stats"
	middlewarePkg "github.com/zhouzirui/chat-relay/internal/middleware"
	"github.com/zhouzirui/chat-relay/internal/observability"
	"github.com/zhouzirui/chat-relay/internal/service/events"
	relayService "github.com/zhouzirui/chat-relay/internal/service/relay"
	"github.com/zhouzirui/chat-relay/pkg/utils"
)

// Options carries the optional collaborators of the router.
type Options struct {
	// CallbackBase overrides the callback address derived from the sender.
	CallbackBase string
	// Stats is nil when queue statistics are not configured.
	Stats   stats.AgentCounter
	Hub     *events.Hub
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(relaySvc *relayService.Service, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middlewarePkg.PeerAddr)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	// Create handlers
	pbxHandler := pbx.New(relaySvc, logger)
	chatsHandler := chats.New(relaySvc, opts.CallbackBase, logger)

	// PBX webhook
	pbxHandler.RegisterRoutes(r)

	// Engagement platform, with and without the legacy prefix
	r.Route("/chats", chatsHandler.RegisterRoutes)
	r.Route("/webapi/api/v2/chats", chatsHandler.RegisterRoutes)

	if opts.Stats != nil {
		r.Route("/stats", stats.New(opts.Stats, logger).RegisterRoutes)
	}

	if opts.Hub != nil {
		feed.NewWebSocketHandler(opts.Hub, logger).RegisterWebSocketRoutes(r)
		feed.NewSSEHandler(opts.Hub, logger).RegisterRoutes(r)
	}

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": relaySvc.ActiveSessions(),
		})
	})

	return r
}
