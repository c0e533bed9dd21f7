package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duotime/contracts/jobs"
	"duotime/internal/app"
	"duotime/internal/config"
	"duotime/internal/deadletter"
	"duotime/internal/httpserver"
	"duotime/internal/mqhandler"
	"duotime/internal/push"
	"duotime/internal/service"
	"duotime/pkg/logger"
	"duotime/pkg/mq"
	"duotime/pkg/queue"
	"duotime/pkg/util"

	"go.uber.org/zap"
)

func main() {
	log := logger.NewLogger()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid config", zap.Error(err))
	}

	log.Info("Starting duotime worker...",
		zap.String("db_host", cfg.DB.Host),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.String("mq_url", cfg.MQ.URL),
		zap.Int("concurrency", cfg.Queue.Concurrency),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Error("Failed to close dependencies", zap.Error(err))
		}
	}()

	// DLQ publisher
	dlqPublisher, err := mq.NewPublisher(cfg.MQ.URL, mq.DLQExchangeName)
	if err != nil {
		log.Fatal("Failed to init DLQ publisher", zap.Error(err))
	}
	defer dlqPublisher.Close()
	if err := dlqPublisher.DeclareDLQQueues(jobs.QueueNotifications, jobs.QueueReminders); err != nil {
		log.Fatal("Failed to declare DLQ queues", zap.Error(err))
	}
	sink := deadletter.NewSink(deadletter.NewRepository(deps.SQL), dlqPublisher, log)

	// Services
	scheduler := service.NewReminderScheduler(deps.Reminders, log)
	notifier := service.NewNotifier(deps.Notifications)
	deduper := util.NewDeduper(deps.Redis, cfg.Notification.DedupTTL(), log)

	// Job handlers
	notificationHandler := mqhandler.NewNotificationHandler(deps.NotificationRepo, deps.Bus, deduper, log)
	reminderHandler := mqhandler.NewReminderHandler(deps.ReminderRepo, notifier, scheduler, log)

	workerOpts := queue.WorkerOptions{
		Concurrency:  cfg.Queue.Concurrency,
		PollInterval: cfg.Queue.PollInterval(),
		IsRetryable:  util.Retryable,
		Sink:         sink,
	}
	notificationWorker := queue.NewWorker(deps.Notifications, workerOpts, log)
	notificationWorker.Handle(jobs.JobSendNotification, notificationHandler.Handle)
	reminderWorker := queue.NewWorker(deps.Reminders, workerOpts, log)
	reminderWorker.Handle(jobs.JobSendReminder, reminderHandler.Handle)

	// Push forwarding hangs off notification.created
	forwarder := push.NewForwarder(deps.Bus, deps.Users, deps.NotificationRepo, push.NewClient(cfg.Push, log), log)
	if err := forwarder.Start(ctx); err != nil {
		log.Fatal("Failed to start push forwarder", zap.Error(err))
	}

	// Jobs whose lease ran out while no worker was alive
	for _, w := range []*queue.Worker{notificationWorker, reminderWorker} {
		if err := w.Recover(ctx); err != nil {
			log.Error("Initial stalled job recovery failed", zap.Error(err))
		}
	}
	notificationWorker.Start(ctx)
	reminderWorker.Start(ctx)

	// HTTP Server (for health checks and metrics)
	checks := deps.Checks()
	checks["mq"] = dlqPublisher.Ready
	router := httpserver.NewHealthRouter(checks, log)
	srv := &http.Server{
		Addr:              cfg.Server.HealthPort,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Health server starting", zap.String("addr", cfg.Server.HealthPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Health server failed", zap.Error(err))
		}
	}()

	log.Info("Worker is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down worker gracefully...")

	// Stop taking jobs first; interrupted jobs are rescheduled
	notificationWorker.Stop()
	reminderWorker.Stop()
	forwarder.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Health server shutdown error", zap.Error(err))
	}

	log.Info("Worker shutdown complete")
}
