package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"video-autoposter/internal/browser"
	"video-autoposter/internal/config"
	"video-autoposter/internal/events"
	"video-autoposter/internal/lifecycle"
	"video-autoposter/internal/media"
	"video-autoposter/internal/publish"
	"video-autoposter/internal/ratelimit"
	"video-autoposter/internal/scheduler"
	"video-autoposter/internal/store"
	"video-autoposter/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Error("migrations", "error", err)
		os.Exit(1)
	}

	fetcher, err := media.New(ctx, media.Config{
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		PathStyle: cfg.S3PathStyle,
		TempDir:   cfg.TempDir,
	})
	if err != nil {
		logger.Error("init object fetcher", "error", err)
		os.Exit(1)
	}

	driver, err := browser.NewDriver(browser.Config{
		Headless:  cfg.Headless,
		UserAgent: cfg.UserAgent,
	})
	if err != nil {
		logger.Error("init browser driver", "error", err)
		os.Exit(1)
	}
	defer driver.Close()

	pipeline := publish.New(fetcher, driver, publish.Config{
		LoginURL:           cfg.PlatformLoginURL,
		UploadURL:          cfg.PlatformUploadURL,
		NavigationTimeout:  cfg.NavigationTimeout,
		SelectorTimeout:    cfg.SelectorTimeout,
		NetworkIdleTimeout: cfg.NetworkIdleTimeout,
		ConfirmTimeout:     cfg.ConfirmTimeout,
		PageSettle:         cfg.PageSettle,
		LoginSettle:        cfg.LoginSettle,
		UploadSettle:       cfg.UploadSettle,
		ProcessingWait:     cfg.ProcessingWait,
		ConfirmSettle:      cfg.ConfirmSettle,
	}, logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.PublishRateCapacity, cfg.PublishRateRefill, cfg.PublishRateTTL)

	var sink lifecycle.EventSink
	if cfg.AMQPURL != "" {
		mq, err := events.NewRabbitMQ(events.Config{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.AMQPExchange,
			RoutingKey: cfg.AMQPRoutingKey,
			QueueName:  cfg.AMQPQueue,
		}, logger)
		if err != nil {
			logger.Error("connect rabbitmq", "error", err)
			os.Exit(1)
		}
		defer mq.Close()
		sink = mq
	}

	manager := lifecycle.NewManager(lifecycle.Deps{
		Posts:     st,
		Accounts:  st,
		Publisher: pipeline,
		Limiter:   limiter,
		Events:    sink,
		BatchSize: cfg.BatchSize,
		Logger:    logger,
	})

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	trigger := scheduler.NewTrigger(manager, cfg.SchedulerInterval, logger)
	if err := trigger.Start(ctx); err != nil && err != context.Canceled {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}
}
