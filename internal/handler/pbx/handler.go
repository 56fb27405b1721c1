package pbx

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chat-relay/internal/model/chat"
	"github.com/zhouzirui/chat-relay/internal/service/relay"
	"github.com/zhouzirui/chat-relay/pkg/utils"
)

const (
	forwardedMessage     = "Message is being forwarded."
	alreadyClosedMessage = "Chat is already closed."
)

// Handler PBX 聊天通道的 webhook 处理器
type Handler struct {
	relaySvc *relay.Service
	logger   *slog.Logger
}

// New 创建 PBX 处理器
func New(relaySvc *relay.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		relaySvc: relaySvc,
		logger:   logger.With("component", "pbx_webhook"),
	}
}

// RegisterRoutes 注册 webhook 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.handleMessage)
}

type statusBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// handleMessage 将坐席消息转发到客户互动平台
func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg chat.PBXMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.logger.Info("message from pbx", "from", msg.From, "to", msg.To)

	delivered, err := h.relaySvc.DeliverFromPBX(r.Context(), msg)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}
	if !delivered {
		utils.RespondJSON(w, http.StatusOK, statusBody{Status: "success", Message: alreadyClosedMessage})
		return
	}

	utils.RespondJSON(w, http.StatusOK, statusBody{Status: "success", Message: forwardedMessage})
}
