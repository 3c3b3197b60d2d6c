package utils

import (
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/zhouzirui/xiaohao/backend/pkg/log"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonic.ConfigStd.NewEncoder(w).Encode(payload); err != nil {
		log.Error("failed to encode response", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// MaxBodyBytes 请求体上限
const MaxBodyBytes = 1 << 20

// DecodeJSON 将请求体解析到 dst，超过 MaxBodyBytes 的请求体返回错误。
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	return sonic.ConfigStd.NewDecoder(r.Body).Decode(dst)
}
