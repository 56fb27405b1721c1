package utils

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/zhouzirui/chat-relay/internal/apperror"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// ErrorBody 是所有错误响应的统一结构。
type ErrorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorBody{Status: "error", Message: message})
}

// RespondErr 根据错误类型选择状态码。apperror 使用其 Message，其他错误统一返回 500。
func RespondErr(w http.ResponseWriter, err error) {
	status := apperror.HTTPStatus(err)
	message := http.StatusText(http.StatusInternalServerError)
	if status != http.StatusInternalServerError {
		message = err.Error()
	}
	RespondError(w, status, message)
}
