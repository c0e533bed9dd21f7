package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duotime/internal/app"
	"duotime/internal/config"
	"duotime/internal/deadletter"
	"duotime/internal/handler"
	"duotime/internal/httpserver"
	"duotime/internal/realtime"
	"duotime/internal/service"
	"duotime/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	log := logger.NewLogger()
	defer log.Sync()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid config", zap.Error(err))
	}

	log.Info("Starting duotime API server...",
		zap.String("db_host", cfg.DB.Host),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.String("pubsub_driver", cfg.PubSub.Driver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. DB, Redis, bus, queues
	deps, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Error("Failed to close dependencies", zap.Error(err))
		}
	}()

	// 3. Services
	scheduler := service.NewReminderScheduler(deps.Reminders, log)
	notifier := service.NewNotifier(deps.Notifications)
	reminderService := service.NewReminderService(deps.ReminderRepo, deps.Users, scheduler, log)
	loveNoteService := service.NewLoveNoteService(deps.LoveNoteRepo, deps.Users, notifier, log)
	userService := service.NewUserService(deps.Users, log)
	notificationService := service.NewNotificationService(deps.NotificationRepo, deps.Bus, deps.Redis, cfg.Notification.UnreadCacheTTL(), log)
	if err := notificationService.Start(ctx); err != nil {
		log.Fatal("Failed to start notification service", zap.Error(err))
	}
	deadLetterService := deadletter.NewService(deadletter.NewRepository(deps.SQL), log, deps.Notifications, deps.Reminders)

	hub := realtime.NewHub(deps.Bus, log)
	if err := hub.Start(ctx); err != nil {
		log.Fatal("Failed to start realtime hub", zap.Error(err))
	}

	// 4. Handlers + router
	router := httpserver.NewRouter(httpserver.Handlers{
		Notification: handler.NewNotificationHandler(notificationService, log),
		Reminder:     handler.NewReminderHandler(reminderService, log),
		LoveNote:     handler.NewLoveNoteHandler(loveNoteService, log),
		User:         handler.NewUserHandler(userService, log),
		Stream:       handler.NewStreamHandler(hub, cfg.Server.StreamKeepAlive(), log),
		Admin:        handler.NewAdminHandler(deadLetterService, log),
	}, cfg.JWT.Secret, deps.Checks(), log)

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down API server gracefully...")

	// SSE 连接先关闭，否则 Shutdown 会一直等
	hub.Stop()
	notificationService.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("API server shutdown complete")
}
