// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"engage-service/internal/config"
	"engage-service/internal/db"
	"engage-service/internal/domain/terminal"
	"engage-service/internal/events"
	campaignHandler "engage-service/internal/handlers/campaign"
	notifyHandler "engage-service/internal/handlers/notification"
	terminalHandler "engage-service/internal/handlers/terminal"
	wsHandler "engage-service/internal/handlers/websocket"
	"engage-service/internal/middleware"
	"engage-service/internal/pkg/jwt"
	"engage-service/internal/push/gateway"
	"engage-service/internal/push/payload"
	"engage-service/internal/repository/postgres"
	"engage-service/internal/scheduler"
	"engage-service/internal/service/dispatch"
	"engage-service/internal/service/dissemination"
	notifyUsecase "engage-service/internal/service/notification"
	"engage-service/internal/service/quota"
	terminalUsecase "engage-service/internal/service/terminal"
	"engage-service/internal/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
	http   *http.Server

	// background workers (scheduler, hub, completion listener, consumer)
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closers []func()
}

func NewServer() *Server {
	cfg := config.Load()
	engine := gin.New()
	return &Server{cfg: cfg, engine: engine}
}

// Start wires every component and serves HTTP until Shutdown.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	// ----- Logger -----
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	s.logger = logger
	s.onClose(func() { _ = logger.Sync() })

	// ----- PostgreSQL -----
	pool, err := db.NewPostgresPool(ctx, db.PostgresConfig{URL: s.cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	s.onClose(pool.Close)

	dbWrapper := postgres.NewDB(pool)
	if err := dbWrapper.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	logger.Info("[POSTGRES] connected, schema ready")

	// ----- Quota store -----
	counter, err := s.quotaCounter()
	if err != nil {
		return err
	}
	enforcer := quota.NewEnforcer(quota.StaticLimits(s.cfg.Quota), counter)

	// ----- Repositories -----
	terminalRepo := postgres.NewTerminalRepository(pool)
	notifyRepo := postgres.NewNotificationRepository(pool)
	campaignRepo := postgres.NewCampaignRepository(pool)

	// ----- WebSocket Hub -----
	hub := websocket.NewHub(logger)
	s.background(func() { hub.Run(ctx) })

	// ----- Push routes -----
	routes, err := s.pushRoutes()
	if err != nil {
		return err
	}

	// ----- Services (Usecases) -----
	tracker := notifyUsecase.NewTracker(notifyRepo, hub, logger)
	dispatcher := dispatch.NewDispatcher(routes, enforcer, tracker, dispatch.Config{
		Workers:        s.cfg.Workers,
		GatewayTimeout: s.cfg.GatewayTimeout,
	}, logger)
	terminalService := terminalUsecase.NewService(terminalRepo, logger)

	sched := scheduler.New(logger)
	s.background(func() { sched.Run(ctx) })

	disseminations := dissemination.NewService(campaignRepo, terminalRepo, dispatcher, sched, hub, logger)
	s.background(func() { disseminations.ListenCompletions(ctx) })

	if _, err := disseminations.Restore(ctx); err != nil {
		logger.Error("failed to restore pending dissemination runs", zap.Error(err))
	}

	// ----- Geoposition events -----
	if len(s.cfg.KafkaBrokers) > 0 {
		consumer, err := events.NewGeoposConsumer(events.KafkaConfig{
			Brokers: s.cfg.KafkaBrokers,
			GroupID: s.cfg.KafkaGroupID,
			Topic:   s.cfg.GeoposTopic,
		}, disseminations, logger)
		if err != nil {
			return fmt.Errorf("failed to create geoposition consumer: %w", err)
		}
		s.onClose(func() { _ = consumer.Close() })
		s.background(func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("geoposition consumer stopped", zap.Error(err))
			}
		})
	} else {
		logger.Warn("KAFKA_BROKERS not set, geoposition events only accepted over HTTP")
	}

	// ----- Handlers -----
	handlers := &Handlers{
		TerminalHandler:    terminalHandler.NewTerminalHandler(terminalService, disseminations),
		NotifHandler:       notifyHandler.NewNotificationHandler(tracker, logger),
		CampaignHandler:    campaignHandler.NewCampaignHandler(disseminations),
		WSHandler:          wsHandler.NewWebSocketHandler(hub, logger),
		TerminalMiddleware: middleware.NewTerminalMiddleware(terminalService),
		Ping:               dbWrapper.Ping,
	}

	// ----- Middlewares -----
	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	)

	// ----- Router -----
	SetupRouter(s.engine, logger, handlers)

	// ----- Start HTTP -----
	srv := &http.Server{Addr: s.cfg.HTTPAddr, Handler: s.engine}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()
	logger.Info("server running", zap.String("addr", s.cfg.HTTPAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops HTTP first, then the background workers, then releases
// the pools.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, cancel := s.http, s.cancel
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	return err
}

func (s *Server) onClose(fn func()) {
	s.mu.Lock()
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

func (s *Server) background(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Server) quotaCounter() (quota.Counter, error) {
	if len(s.cfg.RedisAddrs) == 0 {
		s.logger.Warn("REDIS_ADDR not set, quota counters are per-process")
		return quota.NewMemoryCounter(), nil
	}

	client, err := db.NewUniversalClient(db.RedisConfig{
		ClusterMode: s.cfg.RedisCluster,
		Addresses:   s.cfg.RedisAddrs,
		Password:    s.cfg.RedisPass,
		PoolSize:    20,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	s.onClose(func() { _ = client.Close() })
	s.logger.Info("[REDIS] connected", zap.Strings("addrs", s.cfg.RedisAddrs))

	return quota.NewRedisCounter(client), nil
}

// pushRoutes builds one breaker-wrapped gateway per configured provider.
// A platform without credentials has no route; sends to it fail as a
// configuration error.
func (s *Server) pushRoutes() (map[terminal.Platform]dispatch.Route, error) {
	routes := make(map[terminal.Platform]dispatch.Route)
	breakerCfg := gateway.BreakerConfig{
		Window:       s.cfg.BreakerWindow,
		MinSamples:   s.cfg.BreakerMinSamples,
		FailureRatio: s.cfg.BreakerFailureRatio,
		Cooldown:     s.cfg.BreakerCooldown,
	}

	if s.cfg.FCMServiceAccountPath != "" {
		sa, assertions, err := jwt.LoadServiceAccount(s.cfg.FCMServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load FCM credentials: %w", err)
		}
		fcm := gateway.NewFCMGateway(gateway.FCMConfig{
			BaseURL:           s.cfg.FCMBaseURL,
			ProjectID:         sa.ProjectID,
			TokenURI:          sa.TokenURI,
			RequestsPerSecond: s.cfg.FCMRequestsPerSecond,
			Timeout:           s.cfg.GatewayTimeout,
		}, assertions, s.logger)
		routes[terminal.PlatformAndroid] = dispatch.Route{
			Builder: payload.FCMBuilder{},
			Gateway: gateway.NewBreaker(fcm, breakerCfg, s.logger),
		}
	} else {
		s.logger.Warn("FCM_SERVICE_ACCOUNT_PATH not set, android terminals have no route")
	}

	if s.cfg.APNsKeyPath != "" {
		key, err := jwt.LoadECPrivateKeyFromPEM(s.cfg.APNsKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load APNs key: %w", err)
		}
		baseURL := gateway.APNsProductionBaseURL
		if s.cfg.APNsSandbox {
			baseURL = gateway.APNsSandboxBaseURL
		}
		apns := gateway.NewAPNsGateway(gateway.APNsConfig{
			BaseURL:           baseURL,
			BundleID:          s.cfg.APNsBundleID,
			RequestsPerSecond: s.cfg.APNsRequestsPerSecond,
			Timeout:           s.cfg.GatewayTimeout,
		}, jwt.NewProviderTokenGenerator(key, s.cfg.APNsKeyID, s.cfg.APNsTeamID), s.logger)
		routes[terminal.PlatformIOS] = dispatch.Route{
			Builder: payload.APNsBuilder{},
			Gateway: gateway.NewBreaker(apns, breakerCfg, s.logger),
		}
	} else {
		s.logger.Warn("APNS_KEY_PATH not set, ios terminals have no route")
	}

	return routes, nil
}
