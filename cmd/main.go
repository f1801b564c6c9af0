package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
	"github.com/joho/godotenv"
	"github.com/pelusa-v/groupchat/internal/chat"
	"github.com/pelusa-v/groupchat/internal/config"
	"github.com/pelusa-v/groupchat/internal/conversation"
	"github.com/pelusa-v/groupchat/internal/handlers"
	"github.com/pelusa-v/groupchat/internal/hub"
	"github.com/pelusa-v/groupchat/internal/identity"
	"github.com/pelusa-v/groupchat/internal/imagehost"
	"github.com/pelusa-v/groupchat/internal/logger"
	"github.com/pelusa-v/groupchat/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "groupchat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load(".env")
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return err
	}
	fileCfg, fileExists, err := config.ParseFile(flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	envCfg, envUsed, err := config.ParseEnvs(os.Getenv)
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	eff, err := config.Merge(flags, fileCfg, fileExists, envCfg, envUsed)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	cfg := eff.Config

	logger.Init(cfg.Logging.Level, cfg.Logging.AuditFile)
	defer logger.Sync()
	logger.Info("config_loaded", "source", eff.Source, "addr", cfg.Addr(), "db", cfg.Server.DBPath)

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("display timezone: %w", err)
	}
	projector, err := chat.NewProjector(chat.ProjectorOptions{DateFormat: cfg.Display.DateFormat, Location: loc})
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("open store at %s: %w", cfg.Server.DBPath, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("store_close_failed", "error", err)
		}
	}()

	uploader := imagehost.NewCloudinary(imagehost.Config{
		CloudName:    cfg.Cloudinary.CloudName,
		UploadPreset: cfg.Cloudinary.UploadPreset,
		BaseURL:      cfg.Cloudinary.BaseURL,
		Timeout:      cfg.Cloudinary.Timeout.Duration(),
	})
	if !uploader.Configured() {
		logger.Warn("image_host_not_configured", "hint", "set GROUPCHAT_CLOUDINARY_CLOUD_NAME and GROUPCHAT_CLOUDINARY_UPLOAD_PRESET")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := hub.New()
	hubErr := make(chan error, 1)
	go func() { hubErr <- h.Run(ctx, db) }()

	allowed := chat.NewReactionSet(cfg.Reactions.Allowed)
	profiles := func(device string) *identity.Service {
		return identity.NewService(identity.NewStore(db.LocalStorage(device)), uploader)
	}
	sessions := conversation.NewSessions(func(device string) *conversation.Controller {
		return conversation.New(conversation.Deps{
			Store:     db,
			Feed:      h,
			Identity:  profiles(device).Store(),
			Uploader:  uploader,
			Projector: projector,
			Allowed:   allowed,
		})
	})
	limiter := handlers.NewLimiterPool(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	defer limiter.Shutdown()

	app := fiber.New(fiber.Config{
		AppName:               "groupchat",
		Views:                 html.New(cfg.Server.ViewsDir, ".html"),
		BodyLimit:             int(cfg.Server.MaxUpload.Int64()),
		DisableStartupMessage: true,
	})
	app.Static("/", cfg.Server.StaticDir)
	handlers.New(handlers.Deps{
		Hub:       h,
		Sessions:  sessions,
		Profiles:  profiles,
		Reactions: cfg.Reactions.Allowed,
		Limiter:   limiter,
	}).Routes(app)

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("server_listening", "addr", cfg.Addr())
		listenErr <- app.Listen(cfg.Addr())
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_requested")
	case err := <-hubErr:
		logger.Error("hub_exited", "error", err)
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	stop()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("server_shutdown_failed", "error", err)
	}
	select {
	case err := <-hubErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("hub_stopped_with_error", "error", err)
		}
	case <-h.Done():
	}
	logger.Info("server_stopped")
	return nil
}
