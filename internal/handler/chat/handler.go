package chat

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/healthchat/backend/internal/middleware"
	"github.com/healthchat/backend/internal/model/chat"
	chatService "github.com/healthchat/backend/internal/service/chat"
	"github.com/healthchat/backend/pkg/utils"
)

const (
	defaultSessionLimit = 20
	defaultMessageLimit = 50
)

// Store 聊天接口依赖的持久化操作
type Store interface {
	CreateSession(ctx context.Context, userID string, symptomsID *string) (chat.Session, error)
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	ListSessions(ctx context.Context, userID string, page chat.Page) ([]chat.Session, int, error)
	EndSession(ctx context.Context, sessionID string, at time.Time) (chat.Session, error)
	CreateMessage(ctx context.Context, message chat.MessageCreate) (chat.Message, error)
	ListMessages(ctx context.Context, sessionID string, page chat.Page) ([]chat.Message, int, error)
	LastMessage(ctx context.Context, sessionID string) (*chat.Message, error)
}

// Poster persists a message and pushes it to live relay members.
type Poster interface {
	PostToSession(ctx context.Context, message chat.MessageCreate) (chat.Message, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	store  Store
	poster Poster
	now    func() time.Time
}

// New 创建聊天处理器。poster 为空时消息只落库，不推送。
func New(store Store, poster Poster) *Handler {
	return &Handler{
		store:  store,
		poster: poster,
		now:    time.Now,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreateSession)
	r.Get("/sessions", h.handleListSessions)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Put("/sessions/{sessionID}/end", h.handleEndSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
	r.Post("/messages", h.handleCreateMessage)
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Access token required")
		return
	}

	var payload struct {
		SymptomsID *string `json:"symptomsId"`
	}
	if err := utils.DecodeJSON(w, r, &payload); err != nil && !errors.Is(err, utils.ErrEmptyBody) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SymptomsID != nil {
		if _, err := uuid.Parse(*payload.SymptomsID); err != nil {
			utils.RespondValidation(w, errors.New("symptomsId must be a valid uuid"))
			return
		}
	}

	session, err := h.store.CreateSession(r.Context(), identity.UserID, payload.SymptomsID)
	if err != nil {
		h.internalError(w, "create session", err)
		return
	}

	utils.RespondData(w, http.StatusCreated, session)
}

// handleListSessions 分页列出当前用户的会话，附带最后一条消息预览
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFrom(r.Context())
	page := utils.ParsePage(r, defaultSessionLimit)

	sessions, total, err := h.store.ListSessions(r.Context(), identity.UserID, page)
	if err != nil {
		h.internalError(w, "list sessions", err)
		return
	}

	summaries := make([]chat.SessionSummary, 0, len(sessions))
	for _, session := range sessions {
		last, err := h.store.LastMessage(r.Context(), session.ID)
		if err != nil {
			h.internalError(w, "load last message", err)
			return
		}
		summaries = append(summaries, chat.SessionSummary{Session: session, LastMessage: last})
	}

	utils.RespondData(w, http.StatusOK, map[string]any{
		"sessions":   summaries,
		"pagination": chat.NewPagination(page, total),
	})
}

// handleGetSession 返回会话及其全部消息
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	messages, _, err := h.store.ListMessages(r.Context(), session.ID, chat.Page{})
	if err != nil {
		h.internalError(w, "list messages", err)
		return
	}

	utils.RespondData(w, http.StatusOK, chat.SessionDetail{Session: session, Messages: messages})
}

// handleEndSession 结束会话
func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	ended, err := h.store.EndSession(r.Context(), session.ID, h.now())
	switch {
	case err == nil:
		utils.RespondData(w, http.StatusOK, ended)
	case errors.Is(err, chatService.ErrSessionEnded):
		utils.RespondError(w, http.StatusConflict, "Chat session already ended")
	default:
		h.internalError(w, "end session", err)
	}
}

// handleListMessages 分页列出会话消息（按时间升序）
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	page := utils.ParsePage(r, defaultMessageLimit)

	messages, total, err := h.store.ListMessages(r.Context(), session.ID, page)
	if err != nil {
		h.internalError(w, "list messages", err)
		return
	}

	utils.RespondData(w, http.StatusOK, map[string]any{
		"messages":   messages,
		"pagination": chat.NewPagination(page, total),
	})
}

// handleCreateMessage 保存消息并推送给在线的会话成员
func (h *Handler) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFrom(r.Context())

	var payload chat.MessageCreate
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := payload.Validate(); err != nil {
		utils.RespondValidation(w, err)
		return
	}

	session, err := h.store.GetSession(r.Context(), payload.SessionID)
	if errors.Is(err, chatService.ErrSessionNotFound) || (err == nil && session.UserID != identity.UserID) {
		utils.RespondError(w, http.StatusNotFound, "Chat session not found")
		return
	}
	if err != nil {
		h.internalError(w, "load session", err)
		return
	}

	var message chat.Message
	if h.poster != nil {
		message, err = h.poster.PostToSession(r.Context(), payload)
	} else {
		message, err = h.store.CreateMessage(r.Context(), payload)
	}
	if err != nil {
		h.internalError(w, "create message", err)
		return
	}

	utils.RespondData(w, http.StatusCreated, message)
}

// ownedSession loads the session in the URL and checks it belongs to the
// caller. Foreign sessions answer 404 like missing ones.
func (h *Handler) ownedSession(w http.ResponseWriter, r *http.Request) (chat.Session, bool) {
	identity, _ := middleware.IdentityFrom(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.store.GetSession(r.Context(), sessionID)
	if errors.Is(err, chatService.ErrSessionNotFound) || (err == nil && session.UserID != identity.UserID) {
		utils.RespondError(w, http.StatusNotFound, "Chat session not found")
		return chat.Session{}, false
	}
	if err != nil {
		h.internalError(w, "load session", err)
		return chat.Session{}, false
	}
	return session, true
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	log.Printf("[http] %s failed: %v", op, err)
	utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
}
