package chats

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chat-relay/internal/apperror"
	"github.com/zhouzirui/chat-relay/internal/middleware"
	"github.com/zhouzirui/chat-relay/internal/model/chat"
	"github.com/zhouzirui/chat-relay/internal/service/relay"
	"github.com/zhouzirui/chat-relay/pkg/utils"
)

// Handler 客户互动平台一侧的HTTP处理器
type Handler struct {
	relaySvc     *relay.Service
	callbackBase string
	logger       *slog.Logger
}

// New 创建处理器。callbackBase 为空时回调地址由请求来源推导。
func New(relaySvc *relay.Service, callbackBase string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		relaySvc:     relaySvc,
		callbackBase: strings.TrimRight(callbackBase, "/"),
		logger:       logger.With("component", "chats"),
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.handleStartChat)
	r.Post("/{chatId}", h.handleOperation)
}

// handleStartChat 创建会话
func (h *Handler) handleStartChat(w http.ResponseWriter, r *http.Request) {
	var payload chat.StartChatRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("undecodable start request", "error", err)
		utils.RespondError(w, http.StatusBadRequest, "Unsupported content type.")
		return
	}

	resp, err := h.relaySvc.StartChat(r.Context(), relay.StartInput{
		DisplayName:  payload.NickName,
		Metadata:     payload.UserData,
		CallbackBase: h.callbackFor(r),
	})
	if err != nil {
		h.logger.Warn("start chat rejected", "nick_name", payload.NickName, "error", err)
		utils.RespondErr(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

// handleOperation 按 operationName 分发单个会话的操作
func (h *Handler) handleOperation(w http.ResponseWriter, r *http.Request) {
	var payload chat.OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.Warn("undecodable operation request", "chat_id", chi.URLParam(r, "chatId"), "error", err)
		utils.RespondError(w, http.StatusBadRequest, "Unsupported content type.")
		return
	}

	if _, err := h.relaySvc.Session(payload.UserID); err != nil {
		utils.RespondErr(w, err)
		return
	}

	ctx := r.Context()
	switch payload.OperationName {
	case chat.OperationSendMessage:
		session, err := h.relaySvc.SendMessage(ctx, payload.UserID, payload.Text)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, chat.SendMessageResponse{
			Messages:   []any{},
			ChatEnded:  false,
			StatusCode: 0,
			Alias:      payload.Alias,
			SecureKey:  session.SecureKey,
			UserID:     session.UserID,
			TenantName: payload.TenantName,
		})

	case chat.OperationSendURL:
		session, err := h.relaySvc.SendURL(ctx, payload.UserID, payload.PushURL)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, operationResponse(payload, session))

	case chat.OperationUpdateUserData:
		session, err := h.relaySvc.UpdateUserData(ctx, payload.UserID, payload.UserData)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, operationResponse(payload, session))

	case chat.OperationComplete:
		if _, err := h.relaySvc.Complete(ctx, payload.UserID); err != nil {
			utils.RespondErr(w, err)
			return
		}
		utils.RespondJSON(w, http.StatusOK, chat.StatusResponse{StatusCode: 0})

	default:
		h.logger.Warn("unknown operation", "operation", payload.OperationName, "user_id", payload.UserID)
		utils.RespondErr(w, apperror.Validation("Unknown operationName."))
	}
}

func operationResponse(payload chat.OperationRequest, session chat.Session) chat.OperationResponse {
	return chat.OperationResponse{
		StatusCode: 0,
		Alias:      payload.Alias,
		SecureKey:  session.SecureKey,
		UserID:     session.UserID,
		TenantName: payload.TenantName,
	}
}

// callbackFor 返回回调基地址：scheme://发送方地址[:端口] + 请求路径 + 查询串。
func (h *Handler) callbackFor(r *http.Request) string {
	if h.callbackBase != "" {
		return h.callbackBase
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	} else if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}

	// 使用 RealIP 改写之前的对端地址，保留端口。
	peer := middleware.GetPeerAddr(r)
	host := peer
	if ip, port, err := net.SplitHostPort(peer); err == nil {
		host = net.JoinHostPort(ip, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	target := scheme + "://" + host + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target
}
