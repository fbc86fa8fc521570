package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/pprof"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskhub-api/api"
	"taskhub-api/auth"
	"taskhub-api/broadcast"
	"taskhub-api/service"
	"taskhub-api/storage"
)

type store interface {
	service.UserStore
	service.TaskStore
}

func main() {
	cfg, err := loadConfig(os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.StandardLogger()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.JSONLogs {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := openStore(ctx, cfg)
	tokens := auth.NewTokenService(cfg.SigningKey, cfg.PreviousKeys...)

	// The hub must exist before any service can publish.
	hub := broadcast.NewHub(logger)
	var pub broadcast.Publisher = hub
	if cfg.RedisConn != "" {
		opts, err := parseRedisOptions(cfg.RedisConn)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc := redis.NewClient(opts)
		defer rc.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rc.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		relay := broadcast.NewRedisRelay(rc, cfg.EventsChannel, hub, logger)
		go relay.Run(ctx)
		pub = relay
		logger.WithField("channel", cfg.EventsChannel).Info("event relay enabled")
	}

	users := service.NewUserService(st, tokens, cfg.BcryptCost, logger)
	tasks := service.NewTaskService(st, pub, logger)

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(api.RequestLogger(logger))
	e.Use(api.GzipRequestMiddleware())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	if cfg.EnablePprof {
		pprof.Register(e)
	}
	api.Register(e, users, tasks, tokens, hub, pub, cfg.EventsBuffer, logger)

	go func() {
		logger.WithFields(log.Fields{"port": cfg.Port, "backend": cfg.Backend}).Info("taskhub api listening")
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown")
	}
}

func openStore(ctx context.Context, cfg config) store {
	if cfg.Backend == backendMemory {
		log.Warn("using in-memory storage; data is lost on restart")
		return storage.NewMemory()
	}
	tables, err := storage.NewTables(cfg.ConnString, cfg.UsersTable, cfg.TasksTable)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	if cfg.StorageInit {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := tables.EnsureTables(initCtx); err != nil {
			log.Fatalf("create tables: %v", err)
		}
	}
	return tables
}
