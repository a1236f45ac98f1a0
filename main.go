package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"layout-studio-server/modules/common/config"
	"layout-studio-server/modules/common/database"
	"layout-studio-server/modules/common/gemini"
	"layout-studio-server/modules/common/logger"
	redisutil "layout-studio-server/modules/common/redis"
	"layout-studio-server/modules/common/storage"
	"layout-studio-server/modules/export"
	"layout-studio-server/modules/layout"
)

const sessionCleanupInterval = 5 * time.Minute

// stores - 세션 상태 저장소 묶음 (Redis 또는 메모리)
type stores struct {
	credentials layout.CredentialStore
	assets      layout.AssetStore
	stop        layout.StopSignal
	forget      func(sessionID string)
}

// CORS 미들웨어
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// 헬스 체크 엔드포인트
func healthCheck(sessions *layout.SessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "healthy",
			"service":  "layout-studio",
			"sessions": sessions.Count(),
		})
	}
}

func setupStores(cfg *config.Config, log zerolog.Logger) stores {
	if cfg.RedisEnabled() {
		rdb, err := redisutil.Connect(cfg, log)
		if err == nil {
			rs := layout.NewRedisStore(rdb, cfg.SessionTTL)
			return stores{credentials: rs, assets: rs, stop: rs}
		}
		log.Warn().Err(err).Msg("⚠️  Redis unavailable, falling back to in-memory session state")
	}
	mem := layout.NewMemoryStore()
	return stores{credentials: mem, assets: mem, stop: mem, forget: mem.Forget}
}

func main() {
	log := logger.New(os.Getenv("APP_ENV"))

	// 환경변수 로드
	cfg, err := config.LoadConfig(log)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to load config")
	}
	log = logger.New(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := setupStores(cfg, log)

	// Supabase (선택): 템플릿 소스 + 내보내기 업로드/기록
	var templateSource layout.TemplateSource
	exportOpts := export.Options{BaseDir: cfg.ExportDir, Logger: log}
	if cfg.SupabaseEnabled() {
		db, err := database.NewClient(cfg, log)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️  Supabase unavailable, using builtin templates only")
		} else {
			templateSource = layout.NewSupabaseTemplateSource(db)
			exportOpts.Recorder = db
			exportOpts.Uploader = storage.NewClient(cfg, log)
		}
	}

	registry, err := layout.NewRegistry(templateSource, log)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Failed to load builtin templates")
	}

	executor := gemini.NewExecutor(gemini.NewGenaiTransport(log), gemini.Options{
		Model:         cfg.GeminiModel,
		FallbackKey:   cfg.GeminiAPIKey,
		MaxAttempts:   cfg.GeminiMaxAttempts,
		BaseDelay:     cfg.GeminiBaseDelay,
		BackoffFactor: cfg.GeminiBackoffFactor,
		MaxJitter:     cfg.GeminiMaxJitter,
		Logger:        log,
	})

	factory := func(sessionID string, notifier layout.Notifier) *layout.Controller {
		return layout.NewController(layout.ControllerOptions{
			SessionID:   sessionID,
			MaxSize:     cfg.QueueMaxSize,
			ItemDelay:   cfg.QueueItemDelay,
			Generator:   executor,
			Templates:   registry,
			Credentials: st.credentials,
			Assets:      st.assets,
			Stop:        st.stop,
			Notifier:    notifier,
			Logger:      log,
		})
	}

	sessions := layout.NewSessionManager(factory, cfg.SessionTTL, st.forget, log)
	sessions.StartCleanupRoutine(ctx, sessionCleanupInterval)

	handler := layout.NewHandler(layout.HandlerOptions{
		Sessions:    sessions,
		Templates:   registry,
		Credentials: st.credentials,
		Exporter:    export.NewService(exportOpts),
		Background:  ctx,
		Logger:      log,
	})

	// 라우터 설정
	r := mux.NewRouter()

	// CORS 미들웨어 적용
	r.Use(enableCORS)

	r.HandleFunc("/", healthCheck(sessions)).Methods("GET")
	r.HandleFunc("/health", healthCheck(sessions)).Methods("GET")
	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("⚠️  Graceful shutdown failed")
		}
	}()

	log.Info().Str("port", cfg.Port).Msg("🚀 Layout Studio Server starting")
	log.Info().Msgf("📡 WebSocket endpoint: ws://localhost:%s/ws?session={sessionId}", cfg.Port)
	log.Info().Msgf("❤️  Health check: http://localhost:%s/health", cfg.Port)

	// 서버 시작
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed to start")
	}
	log.Info().Msg("👋 Server stopped")
}
