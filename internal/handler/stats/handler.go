package stats

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chat-relay/pkg/utils"
)

// AgentCounter reports how many agents serve a queue.
type AgentCounter interface {
	AgentsInQueue(ctx context.Context, queue string) (int, error)
}

// Handler 队列统计处理器
type Handler struct {
	counter AgentCounter
	logger  *slog.Logger
}

// New 创建统计处理器
func New(counter AgentCounter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{counter: counter, logger: logger.With("component", "stats_http")}
}

// RegisterRoutes 注册统计路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/isOnlineValue", h.handleIsOnlineValue)
}

func (h *Handler) handleIsOnlineValue(w http.ResponseWriter, r *http.Request) {
	queue := r.URL.Query().Get("id")
	h.logger.Info("queue statistics requested", "queue", queue)

	count, err := h.counter.AgentsInQueue(r.Context(), queue)
	if err != nil {
		h.logger.Error("queue statistics failed", "queue", queue, "error", err)
		// All statistics failures are reported as 400.
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Agents logged in queue %s: %d", queue, count),
	})
}
