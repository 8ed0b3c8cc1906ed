package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healthchat/backend/internal/auth"
	"github.com/healthchat/backend/internal/config"
	"github.com/healthchat/backend/internal/handler"
	aiHandler "github.com/healthchat/backend/internal/handler/ai"
	"github.com/healthchat/backend/internal/relay"
	"github.com/healthchat/backend/internal/service/account"
	"github.com/healthchat/backend/internal/service/ai"
	"github.com/healthchat/backend/internal/service/chat"
	"github.com/healthchat/backend/internal/storage/sqlite"
	"github.com/healthchat/backend/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Settings{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		log.Printf("warning: tracing disabled: %v", err)
	}
	defer shutdownTracing(context.Background())

	store, err := openStore(cfg.Store)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := relay.NewMetrics(reg)

	asker := newAsker(ctx, cfg.AI, store, metrics.AIFailure)

	tokens := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	relayServer := relay.NewServer(store, tokens, asker, metrics, relay.Options{
		SendBuffer:    cfg.Relay.SendBuffer,
		PongWait:      cfg.Relay.PongWait,
		WriteWait:     cfg.Relay.WriteWait,
		MaxFrameBytes: cfg.Relay.MaxFrameBytes,
		FrameRate:     cfg.Relay.FrameRate,
		FrameBurst:    cfg.Relay.FrameBurst,
	})
	defer relayServer.Close()

	router := handler.NewRouter(handler.Deps{
		Store:    store,
		Accounts: account.NewService(store, tokens, cfg.Auth.BcryptCost),
		Verifier: tokens,
		Relay:    relayServer,
		Asker:    asker,
		AIStatus: aiHandler.Status{
			Backend:   cfg.AI.Backend(),
			Available: cfg.AI.Backend() != config.BackendDisabled,
			Timeout:   cfg.AI.Timeout.String(),
		},
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	startServer(ctx, cfg.Server, router)
}

// openStore 根据配置选择 SQLite 或内存存储。
func openStore(cfg config.StoreConfig) (chat.Store, error) {
	if !cfg.Persistent() {
		log.Println("DATABASE_PATH 未配置，使用内存存储（重启后数据丢失）")
		return chat.NewMemoryStore(), nil
	}
	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	log.Printf("[store] sqlite database at %s", cfg.DatabasePath)
	return store, nil
}

// newAsker picks the AI backend and bounds it with the configured timeout.
func newAsker(ctx context.Context, cfg config.AIConfig, history ai.HistoryLoader, onFail ai.FailureHook) ai.Asker {
	var backend ai.Asker
	switch cfg.Backend() {
	case config.BackendHTTP:
		backend = ai.NewHTTPAsker(cfg.ServiceURL, cfg.Timeout, onFail)
		log.Printf("AI bridge forwarding to %s", cfg.ServiceURL)
	case config.BackendArk:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize Ark chat model: %v", err)
			log.Println("continuing without AI functionality - 请检查 Ark 模型相关环境变量")
			return ai.Disabled{}
		}
		chatAsker, err := ai.NewChatAsker(ctx, chatModel, history, cfg.HistoryLimit, onFail)
		if err != nil {
			log.Printf("warning: failed to build chat chain: %v", err)
			return ai.Disabled{}
		}
		backend = chatAsker
		log.Println("AI bridge using Ark chat model")
	default:
		log.Println("AI 服务未配置，用户消息不会收到 HealthBot 回复")
		return ai.Disabled{}
	}
	return ai.WithTimeout(backend, cfg.Timeout, onFail)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("HealthChat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
