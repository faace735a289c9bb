package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apihttp "github.com/erp-suite/ticketflow/internal/api/http"
	"github.com/erp-suite/ticketflow/internal/api/http/handlers"
	"github.com/erp-suite/ticketflow/internal/auth"
	"github.com/erp-suite/ticketflow/internal/cache"
	"github.com/erp-suite/ticketflow/internal/config"
	"github.com/erp-suite/ticketflow/internal/events"
	"github.com/erp-suite/ticketflow/internal/observability"
	"github.com/erp-suite/ticketflow/internal/persistence"
	"github.com/erp-suite/ticketflow/internal/repository"
	"github.com/erp-suite/ticketflow/internal/service"
	"github.com/erp-suite/ticketflow/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	postgres, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("postgres connection failed", zap.Error(err))
	}
	defer postgres.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, postgres.PoolHandle(), logger); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()
	if err := redis.Ping(ctx); err != nil {
		logger.Warn("redis unreachable at startup", zap.Error(err))
	}

	pool := postgres.PoolHandle()
	ticketRepo := repository.NewTicketRepository(pool)
	commentRepo := repository.NewCommentRepository(pool)
	historyRepo := repository.NewTicketHistoryRepository(pool)
	departmentRepo := repository.NewDepartmentRepository(pool)
	userRepo := repository.NewUserRepository(pool)

	members := cache.NewDepartmentMembers(redis, userRepo, cfg.Cache.DepartmentUsersTTL(), logger)

	dispatcher := events.NewInMemoryDispatcher()

	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:     ticketRepo,
		CommentRepo:    commentRepo,
		HistoryRepo:    historyRepo,
		DepartmentRepo: departmentRepo,
		Members:        members,
		Dispatcher:     dispatcher,
	})
	directoryService := service.NewDirectoryService(departmentRepo, members)

	notifications := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	notifications.RegisterHandlers()

	if interval := cfg.Worker.SLASweepInterval(); interval > 0 {
		sweeper := worker.NewSLASweeper(ticketRepo, interval, logger)
		sweeper.Start(ctx)
	}

	metrics := observability.NewMetrics()

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: cfg.App.Env == "production",
	})

	apihttp.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	apihttp.RegisterRoutes(app, apihttp.RouteConfig{
		Health:    handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, postgres, redis),
		Tickets:   handlers.NewTicketsHandler(ticketService),
		Directory: handlers.NewDirectoryHandler(directoryService),
		Principal: auth.NewPrincipalMiddleware(userRepo),
	})

	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.App.Addr()),
			zap.String("env", cfg.App.Env))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
}
