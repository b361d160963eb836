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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vote-relay/internal/application/deadletter"
	"github.com/vote-relay/internal/application/listener"
	"github.com/vote-relay/internal/application/notification"
	"github.com/vote-relay/internal/application/pipeline"
	"github.com/vote-relay/internal/application/registry"
	"github.com/vote-relay/internal/application/resolver"
	"github.com/vote-relay/internal/application/retry"
	"github.com/vote-relay/internal/config"
	"github.com/vote-relay/internal/domain"
	"github.com/vote-relay/internal/infrastructure/dynamo"
	"github.com/vote-relay/internal/infrastructure/evm"
	jwtinfra "github.com/vote-relay/internal/infrastructure/jwt"
	s3infra "github.com/vote-relay/internal/infrastructure/s3"
	"github.com/vote-relay/internal/infrastructure/smtp"
	"github.com/vote-relay/internal/infrastructure/sns"
	"github.com/vote-relay/internal/infrastructure/subgraph"
	"github.com/vote-relay/internal/observability"
	transporthttp "github.com/vote-relay/internal/transport/http"
	"github.com/vote-relay/internal/transport/ws"
	"golang.org/x/sync/errgroup"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	logger := observability.NewLogger(observability.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Info("no .env file found, reading from environment")
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration rejected", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("relay stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("relay stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient, err := dynamo.NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("dynamo client: %w", err)
	}
	dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)
	notificationRepo := dynamo.NewNotificationRepo(dynamoClient, cfg.DynamoTables.Notifications)
	delegateRepo := dynamo.NewDelegateRepo(dynamoClient, cfg.DynamoTables.Delegates)

	// JWT provider (optional, the notification API answers 503 without it).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		logger.Warn("JWT provider not available", "err", err)
	}

	sink, err := newDeadLetterSink(ctx, cfg, logger)
	if err != nil {
		return err
	}

	sources := make(map[domain.Chain]resolver.DelegateSource, len(cfg.Chains))
	for _, c := range cfg.Chains {
		if c.SubgraphURL == "" {
			logger.Warn("no subgraph configured, votes on chain will be ignored", "chain", c.Chain)
			continue
		}
		sources[c.Chain] = subgraph.NewClient(c.SubgraphURL, c.SubgraphTimeout)
	}

	connections := registry.New()
	hub := ws.NewHub(connections, notification.NewService(notificationRepo), cfg.AllowedOrigins, metrics, logger.With("component", "ws"))
	queue := retry.NewQueue(cfg.Retry, sink, metrics, logger.With("component", "retry"))

	router, err := notification.NewRouter(notification.RouterDeps{
		Store:    notificationRepo,
		Users:    delegateRepo,
		Registry: connections,
		Pusher:   hub,
		Mailer:   smtp.NewMailer(cfg),
		Retry:    queue,
		Metrics:  metrics,
		Logger:   logger.With("component", "router"),
	}, cfg.DedupCacheSize, cfg.Retry.BaseInterval)
	if err != nil {
		return fmt.Errorf("notification router: %w", err)
	}

	pipe := pipeline.New(resolver.New(sources, logger.With("component", "resolver"), metrics), router, logger)

	decoder, err := evm.NewDecoder()
	if err != nil {
		return fmt.Errorf("vote decoder: %w", err)
	}
	subscriber := evm.NewSubscriber(decoder, logger.With("component", "evm"))
	chains := listener.New(
		listener.SubscriberFunc(func(ctx context.Context, target config.ChainConfig) (listener.Subscription, error) {
			sub, err := subscriber.Subscribe(ctx, target)
			if err != nil {
				return nil, err
			}
			return sub, nil
		}),
		cfg.Chains, cfg.Listener, pipe.HandleVote, metrics, logger.With("component", "listener"),
	)

	srv := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.AppPort),
		Handler: transporthttp.NewRouter(ctx, cfg, &transporthttp.Deps{
			NotificationRepo: notificationRepo,
			JWTProvider:      jwtProvider,
			Hub:              hub,
			Listener:         chains,
			RetryQueue:       queue,
			Metrics:          metrics,
			Gatherer:         reg,
		}),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if err := chains.Start(ctx); err != nil {
		return fmt.Errorf("start listener: %w", err)
	}

	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()

	queueDone := make(chan struct{})
	g := new(errgroup.Group)
	g.Go(func() error {
		defer close(queueDone)
		return queue.Run(queueCtx, router)
	})
	g.Go(func() error {
		logger.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "chains", len(cfg.Chains))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			stop()
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	<-ctx.Done()
	logger.Info("shutting down")

	// Votes stop first so nothing new reaches the router, and a retry pass in
	// progress finishes before its sockets close.
	chains.Stop()
	stopQueue()
	<-queueDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("websocket hub did not drain", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", "err", err)
	}
	return g.Wait()
}

func newDeadLetterSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (deadletter.Sink, error) {
	logSink := deadletter.NewLogSink(logger.With("component", "deadletter"))
	switch cfg.DeadLetter.Policy {
	case "sns":
		client, err := sns.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("sns client: %w", err)
		}
		return deadletter.Multi{logSink, deadletter.NewSNSSink(sns.NewPublisher(client, cfg.DeadLetter.TopicARN))}, nil
	case "s3":
		client, err := s3infra.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		return deadletter.Multi{logSink, deadletter.NewS3Sink(s3infra.NewArchive(client, cfg.DeadLetter.Bucket, cfg.DeadLetter.Prefix))}, nil
	default:
		return logSink, nil
	}
}
