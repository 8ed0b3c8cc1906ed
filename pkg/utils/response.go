package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/healthchat/backend/internal/model/chat"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// RespondData 以 {"success": true, "data": ...} 包装成功响应
func RespondData(w http.ResponseWriter, status int, data interface{}) {
	RespondJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// RespondValidation 发送 400 校验失败响应
func RespondValidation(w http.ResponseWriter, err error) {
	RespondJSON(w, http.StatusBadRequest, map[string]string{
		"error":   "Validation failed",
		"details": err.Error(),
	})
}

// ErrEmptyBody is returned by DecodeJSON when the request has no body.
var ErrEmptyBody = errors.New("request body is required")

// DecodeJSON 解析 JSON 请求体
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// ParsePage reads limit/offset query parameters. Missing or malformed
// values fall back to the defaults.
func ParsePage(r *http.Request, defaultLimit int) chat.Page {
	query := r.URL.Query()
	page := chat.Page{}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		page.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		page.Offset = offset
	}
	return page.Normalize(defaultLimit)
}
