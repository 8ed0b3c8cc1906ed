package user

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/healthchat/backend/internal/model/chat"
	"github.com/healthchat/backend/internal/service/account"
	chatService "github.com/healthchat/backend/internal/service/chat"
	"github.com/healthchat/backend/pkg/utils"
)

// Handler 用户注册与登录接口
type Handler struct {
	accounts *account.Service
}

// New 创建用户处理器
func New(accounts *account.Service) *Handler {
	return &Handler{accounts: accounts}
}

// RegisterRoutes 注册用户路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
}

type credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload credentials
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.accounts.Register(r.Context(), payload.Name, payload.Email, payload.Password)
	if err != nil {
		respondAccountError(w, "register", err)
		return
	}

	utils.RespondData(w, http.StatusCreated, result)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload credentials
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.accounts.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		respondAccountError(w, "login", err)
		return
	}

	utils.RespondData(w, http.StatusOK, result)
}

func respondAccountError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		utils.RespondValidation(w, err)
	case account.IsConflict(err):
		utils.RespondError(w, http.StatusConflict, "User already exists")
	case errors.Is(err, chatService.ErrUserNotFound):
		utils.RespondError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, account.ErrInvalidCredentials):
		utils.RespondError(w, http.StatusUnauthorized, "Invalid credentials")
	default:
		log.Printf("[http] %s failed: %v", op, err)
		utils.RespondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
