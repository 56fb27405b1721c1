package feed

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chat-relay/pkg/utils"
)

const heartbeatPeriod = 15 * time.Second

// SSEHandler 以 Server-Sent Events 推送会话事件，适用于无法使用 WebSocket 的客户端
type SSEHandler struct {
	hub       Subscriber
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewSSEHandler 创建SSE处理器
func NewSSEHandler(hub Subscriber, logger *slog.Logger) *SSEHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEHandler{hub: hub, logger: logger.With("component", "feed_sse"), heartbeat: heartbeatPeriod}
}

// RegisterRoutes 注册SSE路由
func (h *SSEHandler) RegisterRoutes(r chi.Router) {
	r.Get("/events/sessions", h.handleStream)
}

func (h *SSEHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	feed := h.hub.Subscribe(ctx)

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Info("sse subscriber connected", "remote_addr", r.RemoteAddr)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("sse subscriber disconnected", "remote_addr", r.RemoteAddr)
			return
		case ev, ok := <-feed:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, ev.Type, ev); err != nil {
				h.logger.Warn("sse write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
