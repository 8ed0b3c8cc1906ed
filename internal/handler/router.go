package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/healthchat/backend/internal/auth"
	aiHandler "github.com/healthchat/backend/internal/handler/ai"
	"github.com/healthchat/backend/internal/handler/chat"
	"github.com/healthchat/backend/internal/handler/user"
	middlewarePkg "github.com/healthchat/backend/internal/middleware"
	"github.com/healthchat/backend/internal/relay"
	"github.com/healthchat/backend/internal/service/account"
	aiService "github.com/healthchat/backend/internal/service/ai"
	chatService "github.com/healthchat/backend/internal/service/chat"
	"github.com/healthchat/backend/pkg/utils"
)

// Deps 路由依赖的核心服务
type Deps struct {
	Store       chatService.Store
	Accounts    *account.Service
	Verifier    auth.Verifier
	Relay       *relay.Server
	Asker       aiService.Asker
	AIStatus    aiHandler.Status
	Metrics     http.Handler
	CORSOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(d.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":            "OK",
			"service":           "Chat API",
			"connectedSessions": len(d.Relay.Registry().Sessions()),
		})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	// WebSocket 中继，令牌通过 ?token= 传入
	r.Method(http.MethodGet, "/ws", d.Relay)

	userHandler := user.New(d.Accounts)
	chatHandler := chat.New(d.Store, d.Relay)
	aiRoutes := aiHandler.New(d.Asker, d.Store, d.AIStatus)

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/users", userHandler.RegisterRoutes)

		api.Group(func(protected chi.Router) {
			protected.Use(middlewarePkg.RequireAuth(d.Verifier))
			protected.Route("/chat", chatHandler.RegisterRoutes)
			protected.Route("/ai", aiRoutes.RegisterRoutes)
		})
	})

	return r
}
