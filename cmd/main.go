package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pelusa-v/pelusa-chat/internal/chat"
	"github.com/pelusa-v/pelusa-chat/internal/config"
	"github.com/pelusa-v/pelusa-chat/internal/handlers"
	"github.com/pelusa-v/pelusa-chat/internal/identity"
	"github.com/pelusa-v/pelusa-chat/internal/store"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	level, _ := cfg.Level()
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if cfg.JWTSecret == config.DevJWTSecret {
		log.Warn("using the development JWT secret, set CHAT_JWT_SECRET")
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("failed to open store", slog.String("path", cfg.DBPath), slog.Any("error", err))
		os.Exit(1)
	}

	// redis 可选，只缓存私聊房间查询
	var (
		backing chat.Store = db
		rdb     *redis.Client
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Warn("redis unavailable, room cache disabled", slog.String("addr", cfg.RedisAddr), slog.Any("error", err))
			_ = rdb.Close()
			rdb = nil
		} else {
			backing = store.NewRoomCache(db, rdb, cfg.RoomCacheTTL, log)
			log.Info("room cache enabled", slog.String("addr", cfg.RedisAddr), slog.Duration("ttl", cfg.RoomCacheTTL))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := chat.NewManager(backing, cfg.ChatOptions(), log)
	verifier := identity.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(logger.New())

	// 只暴露 public 静态资源目录
	app.Static("/", cfg.StaticDir)
	handlers.New(ctx, manager, verifier, db, log).Register(app)

	go func() {
		log.Info("listening", slog.String("addr", cfg.Addr), slog.Any("publicRooms", cfg.PublicRooms))
		if err := app.Listen(cfg.Addr); err != nil {
			log.Error("failed to listen", slog.String("addr", cfg.Addr), slog.Any("error", err))
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat-server": func(ctx context.Context) error {
				log.Info("graceful shutdown initiated")
				manager.Shutdown()
				httpErr := app.ShutdownWithContext(ctx)
				cancel()
				return errors.Join(httpErr, db.Close())
			},
			"redis": func(context.Context) error {
				if rdb == nil {
					return nil
				}
				return rdb.Close()
			},
		},
	)

	exitCode := <-wait
	log.Info("application exited", slog.Int("code", exitCode))
	os.Exit(exitCode)
}
