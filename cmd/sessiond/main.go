package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/astrosevaa/sessiond/internal/bus"
	"github.com/astrosevaa/sessiond/internal/chat"
	"github.com/astrosevaa/sessiond/internal/config"
	"github.com/astrosevaa/sessiond/internal/database"
	"github.com/astrosevaa/sessiond/internal/events"
	"github.com/astrosevaa/sessiond/internal/handler"
	"github.com/astrosevaa/sessiond/internal/jobs"
	"github.com/astrosevaa/sessiond/internal/middleware"
	"github.com/astrosevaa/sessiond/internal/model"
	"github.com/astrosevaa/sessiond/internal/redis"
	"github.com/astrosevaa/sessiond/internal/repository"
	"github.com/astrosevaa/sessiond/internal/restapi"
	"github.com/astrosevaa/sessiond/internal/session"
	"github.com/astrosevaa/sessiond/internal/sse"
	"github.com/astrosevaa/sessiond/internal/store"
	"github.com/astrosevaa/sessiond/internal/util"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		redisClient *redis.Client
		stateStore  *store.RedisStore
		persister   session.Persister
	)
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		stateStore = store.NewRedisStore(redisClient, config.StateKeyTTL)
		if cfg.StateEncryptionKey != "" {
			sealer, err := util.NewSealer(cfg.StateEncryptionKey)
			if err != nil {
				log.Fatal().Err(err).Msg("invalid state encryption key")
			}
			stateStore.WithSealer(sealer)
		}
		persister = stateStore
	}

	var (
		archiveRepo repository.ChatArchiveRepository
		archive     chat.Archiver
		archiveView handler.ArchiveReader
	)
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		log.Info().Msg("database connected")

		archiveRepo = repository.NewChatArchiveRepository(db)
		if err := archiveRepo.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare chat archive")
		}
		archive = archiveRepo
		archiveView = archiveRepo

		cleanupJob := jobs.NewCleanupJob(archiveRepo, cfg.ArchiveRetention(), config.ArchiveCleanupInterval)
		cleanupJob.Start()
		defer cleanupJob.Stop()
	}

	snap := loadSnapshot(ctx, stateStore, cfg.UserID)
	identity := resolveIdentity(cfg, snap)

	broker := sse.NewBroker(redisClient, cfg.UserID)
	defer broker.Close()

	api := restapi.NewClient(cfg.APIBaseURL, identity.Token, cfg.APITimeout())

	busOpts := bus.DefaultOptions()
	busOpts.ConnectTimeout = cfg.ConnectTimeout()
	busOpts.Backoff.Max = cfg.ReconnectMax()
	hub := bus.NewHub(bus.NewWebSocketDialer(cfg.Heartbeat()), busOpts)
	defer hub.Reset()

	manager, err := hub.Init(identity, cfg.BusURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize bus connection")
	}

	machine := session.NewMachine(identity, api, manager, broker, persister)
	defer machine.Flush()
	hydrate(ctx, machine, snap, api, cfg.UserID)

	router := events.NewRouter(manager)

	chats := chat.NewService(chat.ServiceOptions{
		UserID:     cfg.UserID,
		Binder:     router,
		Publisher:  manager,
		History:    api,
		Archive:    archive,
		Emitter:    broker,
		ExtraSinks: []events.Sink{machine},
	})
	defer chats.CloseAll()

	userBinding, err := router.BindUser(cfg.UserID, machine, openChatOnAccept(chats, cfg.UserID))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bind user topics")
	}
	defer userBinding.Close()

	manager.AddOnConnect(func() {
		if err := machine.AnnounceActive(); err != nil {
			log.Warn().Err(err).Msg("failed to announce active session")
		}
		if err := machine.RequestPresence(); err != nil {
			log.Warn().Err(err).Msg("failed to request presence snapshot")
		}
		machine.Notify(ctx, session.NoticeSuccess, "Connected")
	})
	manager.AddOnDisconnect(func() {
		machine.Notify(ctx, session.NoticeWarning, "Connection lost, reconnecting")
	})

	go connectWithRetry(ctx, manager, busOpts.Backoff)

	authMiddleware := middleware.NewAuthMiddleware(cfg.ControlToken)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(config.DefaultRateLimitPerMin)

	sessionHandler := handler.NewSessionHandler(machine)
	chatHandler := handler.NewChatHandler(chats, machine, archiveView)
	eventsHandler := handler.NewEventsHandler(broker, machine)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"bus":       manager.Status(),
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)

		r.Get("/events", eventsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Use(rateLimitMiddleware.Handler)

			r.Get("/state", sessionHandler.State)
			r.Put("/presence/online", sessionHandler.SetOnline)
			r.Mount("/sessions", sessionHandler.Routes())
			r.Mount("/chat", chatHandler.Routes())
		})
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("userId", cfg.UserID).Msg("starting control api")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func loadSnapshot(ctx context.Context, stateStore *store.RedisStore, userID string) *model.StateSnapshot {
	if stateStore == nil {
		return nil
	}
	snap, err := stateStore.Load(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load persisted state")
		return nil
	}
	return snap
}

// resolveIdentity prefers configured credentials and falls back to the
// persisted token and role.
func resolveIdentity(cfg *config.Config, snap *model.StateSnapshot) model.Identity {
	identity := model.Identity{
		UserID: cfg.UserID,
		Token:  cfg.AccessToken,
		Role:   model.Role(cfg.UserRole),
	}
	if snap == nil {
		return identity
	}
	if identity.Token == "" && snap.Token != "" {
		identity.Token = snap.Token
		log.Info().Msg("using persisted access token")
	}
	if snap.Role != "" && snap.Role != identity.Role {
		log.Warn().
			Str("configured", string(identity.Role)).
			Str("persisted", string(snap.Role)).
			Msg("persisted role differs from configuration, using configuration")
	}
	return identity
}

// hydrate restores persisted state, falling back to the backend profile when
// nothing was stored.
func hydrate(ctx context.Context, machine *session.Machine, snap *model.StateSnapshot, api *restapi.Client, userID string) {
	if snap != nil {
		machine.Hydrate(*snap)
		return
	}

	profile, err := api.Profile(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load profile")
		return
	}
	machine.Hydrate(model.StateSnapshot{UserID: userID, FreeChatUsed: profile.FreeChatUsed})

	if err := machine.RefreshBalance(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to load balance")
	}
}

// openChatOnAccept opens the chat channel as soon as a chat request is accepted.
func openChatOnAccept(chats *chat.Service, userID string) events.Sink {
	return events.SinkFunc(func(ctx context.Context, ev events.Event) {
		accepted, ok := ev.(events.RequestAccepted)
		if !ok || accepted.Session.Type.IsCall() || accepted.Session.ID == "" {
			return
		}
		peer := accepted.Session.Counterpart(userID)
		if peer == nil {
			return
		}
		if _, err := chats.Open(ctx, accepted.Session.ID, *peer); err != nil {
			log.Warn().Err(err).Str("sessionId", accepted.Session.ID).Msg("failed to open chat channel")
		}
	})
}

// connectWithRetry keeps trying the first connect. Later drops are handled by
// the manager's own reconnect loop.
func connectWithRetry(ctx context.Context, manager *bus.Manager, backoff bus.Backoff) {
	for attempt := 0; ; attempt++ {
		err := manager.Connect(ctx)
		if err == nil {
			return
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("bus connect failed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff.Delay(attempt)):
		}
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
