package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	authMock "github.com/arnold17091984/dealersys/internal/adapter/auth/mock"
	authReal "github.com/arnold17091984/dealersys/internal/adapter/auth/real"
	"github.com/arnold17091984/dealersys/internal/adapter/codemap"
	"github.com/arnold17091984/dealersys/internal/adapter/forward"
	gameserverMock "github.com/arnold17091984/dealersys/internal/adapter/gameserver/mock"
	gameserverReal "github.com/arnold17091984/dealersys/internal/adapter/gameserver/real"
	internalHTTP "github.com/arnold17091984/dealersys/internal/adapter/http"
	"github.com/arnold17091984/dealersys/internal/adapter/store/memory"
	"github.com/arnold17091984/dealersys/internal/adapter/store/mysql"
	"github.com/arnold17091984/dealersys/internal/adapter/ws"
	"github.com/arnold17091984/dealersys/internal/application/bridge"
	"github.com/arnold17091984/dealersys/internal/application/login"
	"github.com/arnold17091984/dealersys/internal/application/reconcile"
	"github.com/arnold17091984/dealersys/internal/application/record"
	"github.com/arnold17091984/dealersys/internal/application/table"
	"github.com/arnold17091984/dealersys/internal/config"
	"github.com/arnold17091984/dealersys/pkg/wss"
)

const configPath = "./configs"

func main() {
	// .env 不存在時忽略
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}

	cfg, err := config.LoadConfig[config.Config](configPath, env)
	if err != nil {
		logger.Error("cannot load config", "error", err)
		os.Exit(1)
	}
	cfg.ApplyDefaults()

	mode, err := reconcile.ParseMode(cfg.Server.Mode)
	if err != nil {
		logger.Error("invalid table mode", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. 讀卡機代碼與 slot 對應
	codes, err := codemap.Open(logger, cfg.Mapping.Dir, cfg.Mapping.Name)
	if err != nil {
		logger.Error("cannot load card code map", "error", err)
		os.Exit(1)
	}

	// 2. 牌局紀錄與轉送
	var store record.Store
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysql.Open(cfg.Database.DSN)
		if err != nil {
			logger.Error("failed to connect to mysql", "error", err)
			os.Exit(1)
		}
		s, err := mysql.NewStore(db)
		if err != nil {
			logger.Error("failed to migrate mysql schema", "error", err)
			os.Exit(1)
		}
		store = s
	default:
		store = memory.NewStore()
	}

	var (
		forwarder record.Forwarder = forward.Disabled{}
		queue     *forward.Queue
	)
	if cfg.Forwarding.Enabled {
		if cfg.Redis.Addr == "" {
			logger.Error("forwarding requires redis.addr")
			os.Exit(1)
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		queue = forward.NewQueue(rdb, cfg.Forwarding.QueueKey)
		forwarder = queue
	}
	recorder := record.NewService(logger, store, forwarder)

	// 3. 荷官憑證與上游指令
	var authClient login.AuthClient
	if cfg.Auth.Mode == config.ModeReal {
		authClient = authReal.NewAuthClient(cfg.GameServer.BaseURL, cfg.GameServer.Timeout())
	} else {
		authClient = authMock.NewAuthClient()
	}
	loginService := login.NewService(logger, authClient, cfg.Dealer.ID, cfg.Dealer.Key)

	var commander table.Commander
	if cfg.Auth.Mode == config.ModeReal {
		commander = gameserverReal.NewClient(cfg.GameServer.BaseURL, cfg.GameServer.Timeout(), loginService)
	} else {
		commander = gameserverMock.NewClient(logger)
	}

	// 4. 上游連線橋接與桌台
	bridgeService := bridge.NewService(ctx, bridge.Config{
		WSURL:                cfg.GameServer.WSURL,
		HeartbeatInterval:    time.Duration(cfg.Bridge.HeartbeatIntervalMs) * time.Millisecond,
		HeartbeatMaxMisses:   cfg.Bridge.HeartbeatMaxMisses,
		ReconnectDelay:       time.Duration(cfg.Bridge.ReconnectDelayMs) * time.Millisecond,
		MaxReconnectAttempts: cfg.Bridge.MaxReconnectAttempts,
		HandshakeTimeout:     cfg.GameServer.Timeout(),
	}, loginService, logger)

	registry := table.NewRegistry(logger, table.Deps{
		Mode:      mode,
		Positions: codes,
		Decoder:   codes,
		Commander: commander,
		Recorder:  recorder,
		Notifier:  bridgeService,
	})
	bridgeService.Handle(registry)
	if _, err := registry.Table(cfg.Table.Number); err != nil {
		logger.Error("invalid table number", "error", err)
		os.Exit(1)
	}

	// 5. 下游 WebSocket
	wsServer := wss.NewServer(ctx, wss.Config{
		WriteWait:       time.Duration(cfg.Websocket.WriteWaitSec) * time.Second,
		PongWait:        time.Duration(cfg.Websocket.PongWaitSec) * time.Second,
		MaxMessageSize:  cfg.Websocket.MaxMessageSize,
		ReadBufferSize:  cfg.Websocket.ReadBufferSize,
		WriteBufferSize: cfg.Websocket.WriteBufferSize,
		SendQueueSize:   cfg.Websocket.SendQueueSize,
		AllowedOrigins:  cfg.Websocket.AllowedOrigins,
	}, logger)
	wsServer.Register(ws.NewBridgeAdapter(bridgeService, logger))

	// 啟動時先取得一次憑證，失敗時由操作員透過 /api/dealer/auth 重試
	authCtx, cancelAuth := context.WithTimeout(ctx, cfg.GameServer.Timeout())
	if _, err := loginService.Authenticate(authCtx); err != nil {
		logger.Warn("initial dealer authentication failed, retry via /api/dealer/auth", "error", err)
	}
	cancelAuth()

	// 6. HTTP
	engine := gin.Default()
	engine.GET("/ws", gin.WrapH(wsServer))
	handler := internalHTTP.NewHandler(internalHTTP.PublicConfig{
		TableNo:    cfg.Table.Number,
		Mode:       string(mode),
		GameServer: cfg.GameServer.BaseURL,
		WSURL:      cfg.GameServer.WSURL,
		Forwarding: cfg.Forwarding.Enabled,
		Database:   cfg.Database.Driver,
	}, loginService, bridgeService, registry, recorder, codes)
	handler.RegisterRoutes(engine)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: engine,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dealer server starting", "port", cfg.Server.Port, "mode", mode, "table", cfg.Table.Number)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down dealer server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if queue != nil {
		worker := forward.NewWorker(queue, recorder, forward.WorkerConfig{
			URL:        cfg.Forwarding.URL,
			Interval:   time.Duration(cfg.Forwarding.IntervalSec) * time.Second,
			BatchSize:  cfg.Forwarding.BatchSize,
			MaxRetries: cfg.Forwarding.MaxRetries,
		}, logger)
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("dealer server stopped with error", "error", err)
	}
	<-wsServer.Done()
	bridgeService.Close()
	recorder.Wait()
	logger.Info("dealer server stopped")
}
