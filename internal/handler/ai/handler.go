package ai

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/healthchat/backend/internal/middleware"
	aiService "github.com/healthchat/backend/internal/service/ai"
	chatService "github.com/healthchat/backend/internal/service/chat"
	"github.com/healthchat/backend/pkg/utils"
)

// OwnerLookup resolves who owns a session.
type OwnerLookup interface {
	FindSessionOwner(ctx context.Context, sessionID string) (string, error)
}

// Status describes the configured AI backend.
type Status struct {
	Backend   string `json:"backend"`
	Available bool   `json:"available"`
	Timeout   string `json:"timeout"`
}

// Handler 直接向 AI 服务提问的接口
type Handler struct {
	asker  aiService.Asker
	owners OwnerLookup
	status Status
}

// New 创建 AI 处理器
func New(asker aiService.Asker, owners OwnerLookup, status Status) *Handler {
	if asker == nil {
		asker = aiService.Disabled{}
	}
	return &Handler{asker: asker, owners: owners, status: status}
}

// RegisterRoutes 注册 AI 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/health-query", h.handleHealthQuery)
	r.Get("/status", h.handleStatus)
}

func (h *Handler) handleHealthQuery(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFrom(r.Context())

	var payload struct {
		Message   string `json:"message"`
		SessionID string `json:"sessionId"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		utils.RespondValidation(w, errors.New("message is required"))
		return
	}

	// 会话上下文只能来自调用者自己的会话
	if payload.SessionID != "" {
		owner, err := h.owners.FindSessionOwner(r.Context(), payload.SessionID)
		if errors.Is(err, chatService.ErrSessionNotFound) || (err == nil && owner != identity.UserID) {
			utils.RespondError(w, http.StatusNotFound, "Chat session not found")
			return
		}
		if err != nil {
			log.Printf("[http] owner lookup failed: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	reply, ok := h.asker.Ask(r.Context(), payload.Message, payload.SessionID, identity.UserID)
	if !ok {
		utils.RespondError(w, http.StatusServiceUnavailable, "AI service unavailable")
		return
	}

	utils.RespondData(w, http.StatusOK, map[string]string{"response": reply})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondData(w, http.StatusOK, h.status)
}
