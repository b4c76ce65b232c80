package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"example.com/tweetapp/cmd/server"
	"example.com/tweetapp/cmd/worker"
	appkafka "example.com/tweetapp/internal/broker"
	"example.com/tweetapp/internal/cache"
	config "example.com/tweetapp/internal/init"
	"example.com/tweetapp/internal/logger"
	"example.com/tweetapp/internal/service"
	"example.com/tweetapp/internal/store"
	"example.com/tweetapp/internal/tracing"
	"go.opentelemetry.io/otel/trace"
)

var logg = logger.New()

func main() {
	if err := run(); err != nil {
		logg.Error("main", "Fatal error", err)
		os.Exit(1)
	}
	logg.Info("main", "Shutdown completed")
}

func run() error {
	// Initialize application configuration
	cfg := config.Init()
	logger.SetLevel(cfg.LogLevel)

	// Setup OS signal handling for graceful shutdown (SIGINT, SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracing, err := tracing.Init(cfg.TracingEndpoint)
	if err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	defer shutdownTracing(context.Background())

	if err := checkMode(cfg); err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	switch cfg.Mode {
	case "server":
		return runServer(ctx, cfg, st, tracer)
	case "worker":
		return runWorker(ctx, cfg, st)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runServer(ctx context.Context, cfg *config.Config, st store.StoreInterface, tracer trace.Tracer) error {
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set in server mode")
	}

	var sequences store.SequenceGenerator = st
	if cfg.SequenceSrc == "redis" {
		rs := cache.NewRedisSequence(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rs.Connect(ctx); err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer rs.Close()
		if err := rs.SeedFrom(ctx, st, store.TweetSequence, store.TweetLikeSequence); err != nil {
			return fmt.Errorf("redis sequence seeding failed: %w", err)
		}
		sequences = rs
	}

	writer, err := openWriter(cfg)
	if err != nil {
		return err
	}
	defer writer.Close()

	// the in-memory store is not shared across processes, so its worker
	// runs here
	if cfg.Store == "memory" {
		reader, err := openReader(cfg)
		if err != nil {
			return err
		}
		wait := startWorker(ctx, cfg, st, reader)
		defer wait()
	}

	publisher := appkafka.NewTweetPublisher(writer, appkafka.BreakerConfig{
		MaxConsecutiveFailures: cfg.BreakerMaxFailures,
		OpenTimeout:            cfg.BreakerTimeout,
	})
	svc := service.New(st, st, st, sequences, publisher, tracer)

	server.Run(ctx, server.New(svc, st, []byte(cfg.JWTSecret), cfg.JWTTTL), cfg.ServerAddr, cfg.TLSCert, cfg.TLSKey)
	return nil
}

func runWorker(ctx context.Context, cfg *config.Config, st store.StoreInterface) error {
	reader, err := openReader(cfg)
	if err != nil {
		return err
	}

	w := worker.New(st, reader, cfg.WorkerCount, cfg.WorkerQueueSize)
	w.Run(ctx)
	return w.Close()
}

// startWorker runs a worker in the background until ctx ends. The returned
// func waits for it and closes its reader.
func startWorker(ctx context.Context, cfg *config.Config, st store.TweetStore, reader appkafka.Reader) func() error {
	w := worker.New(st, reader, cfg.WorkerCount, cfg.WorkerQueueSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	return func() error {
		<-done
		return w.Close()
	}
}

// checkMode rejects combinations that would split data between processes.
func checkMode(cfg *config.Config) error {
	if cfg.Mode == "worker" && cfg.Store == "memory" {
		return errors.New("STORE=memory cannot run as a separate worker; server mode runs its own worker")
	}
	return nil
}

func openStore(cfg *config.Config) (store.StoreInterface, error) {
	switch cfg.Store {
	case "memory":
		logg.Warn("main", "Using in-memory store, data is lost on exit")
		return store.NewMock(), nil
	case "cassandra":
		st, err := store.New()
		if err != nil {
			return nil, fmt.Errorf("cassandra connection failed: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store: %s", cfg.Store)
	}
}

func kafkaConfig(cfg *config.Config) appkafka.KafkaConfig {
	return appkafka.KafkaConfig{
		Brokers:      []string{cfg.KafkaBroker},
		Topic:        cfg.KafkaTopic,
		Partition:    cfg.KafkaPartition,
		GroupID:      cfg.KafkaGroupID,
		WriteTimeout: cfg.KafkaWriteTO,
		ReadTimeout:  cfg.KafkaReadTO,
	}
}

func openWriter(cfg *config.Config) (appkafka.Writer, error) {
	switch cfg.Broker {
	case "rabbitmq":
		c, err := appkafka.NewRabbitClient(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq init failed: %w", err)
		}
		return c, nil
	case "kafka":
		w, err := appkafka.NewKafkaWriter(kafkaConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("kafka writer init failed: %w", err)
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown broker: %s", cfg.Broker)
	}
}

func openReader(cfg *config.Config) (appkafka.Reader, error) {
	switch cfg.Broker {
	case "rabbitmq":
		c, err := appkafka.NewRabbitClient(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq init failed: %w", err)
		}
		return c, nil
	case "kafka":
		return appkafka.NewKafkaReader(kafkaConfig(cfg)), nil
	default:
		return nil, fmt.Errorf("unknown broker: %s", cfg.Broker)
	}
}
