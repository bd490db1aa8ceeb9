package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/cartsync/internal/cache"
	"github.com/fjod/cartsync/internal/circuitbreaker"
	"github.com/fjod/cartsync/internal/config"
	"github.com/fjod/cartsync/internal/events"
	cartgrpc "github.com/fjod/cartsync/internal/grpc"
	carthttp "github.com/fjod/cartsync/internal/http"
	"github.com/fjod/cartsync/internal/logger"
	"github.com/fjod/cartsync/internal/poller"
	"github.com/fjod/cartsync/internal/repository"
	"github.com/fjod/cartsync/internal/session"
	"github.com/fjod/cartsync/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, os.Stdout)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]cartgrpc.Check{}

	// Remote cart store
	var carts repository.CartRepository
	var mongoDB *mongo.Database
	switch cfg.CartStore {
	case "mongo":
		mongoDB, err = repository.ConnectMongoDB(ctx, repository.MongoOptions{
			URI:                    cfg.MongoURI,
			Database:               cfg.MongoDBName,
			MaxPoolSize:            uint64(cfg.MongoMaxPool),
			MinPoolSize:            uint64(cfg.MongoMinPool),
			ConnectTimeout:         cfg.MongoConnectTimeout,
			ServerSelectionTimeout: cfg.MongoSelectionTimeout,
		})
		if err != nil {
			fatal(log, "failed to connect to MongoDB", err)
		}
		mongoRepo := repository.NewMongoCartRepository(mongoDB)
		if err := mongoRepo.CreateIndexes(ctx); err != nil {
			fatal(log, "failed to create cart indexes", err)
		}
		carts = mongoRepo
		checks["mongo"] = func(ctx context.Context) error { return mongoDB.Client().Ping(ctx, nil) }
		log.Info("connected to MongoDB", "uri", cfg.MongoURI, "db", cfg.MongoDBName)
	default:
		carts = repository.NewMemoryCartRepository()
		log.Warn("using in-memory cart store; carts are lost on restart")
	}
	cbOpts := circuitbreaker.DefaultOptions()
	cbOpts.Ignore = repository.IsAnswer
	carts = repository.NewBreakerCartRepository(carts, circuitbreaker.New("cart-store", cbOpts, log))

	// Profiles, thumbnails and orders
	cred := &repository.Credentials{
		Host:              cfg.PostgresHost,
		Port:              cfg.PostgresPort,
		User:              cfg.PostgresUser,
		Password:          cfg.PostgresPassword,
		DBName:            cfg.PostgresDB,
		MigrationsDirPath: cfg.PostgresMigrations,
	}
	pg, err := repository.NewPostgresRepository(cred)
	if err != nil {
		fatal(log, "failed to connect to Postgres", err)
	}
	defer pg.Close()
	if err := pg.RunMigrations(cred); err != nil {
		fatal(log, "failed to run Postgres migrations", err)
	}
	checks["postgres"] = pg.Ping
	log.Info("connected to Postgres", "host", cfg.PostgresHost, "db", cfg.PostgresDB)

	// Session storage
	store, closeStore := openStorage(ctx, cfg, log, checks)
	defer closeStore()

	bus := events.NewBus()
	defer bus.Close()

	thumbs := cache.NewThumbnailCache(pg, cache.Options{
		TTL:        cfg.ThumbnailTTL,
		MaxEntries: cfg.ThumbnailMaxEntries,
	}, log)

	registry := session.NewRegistry(session.Config{
		RecentEmptyWindow: cfg.RecentEmptyWindow,
		TouchDelay:        cfg.TouchDebounce,
		PersistDelay:      cfg.PersistDebounce,
		BillingTTL:        cfg.BillingTTL,
		TransferTTL:       cfg.TransferTTL,
		ShippingTTL:       cfg.ShippingTTL,
		SyncTimeout:       cfg.RequestTimeout,
	}, session.Deps{
		Carts:    carts,
		Orders:   pg,
		Profiles: pg,
		Storage:  store,
		Bus:      bus,
		Logger:   log,
	})
	defer registry.Close()

	var wg sync.WaitGroup
	background := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	background(func() { thumbs.Run(ctx, cfg.PruneInterval) })
	background(func() { registry.Run(ctx, cfg.PruneInterval, cfg.SessionIdleTimeout) })

	if len(cfg.KafkaBrokers) > 0 {
		payments := poller.NewPoller(pg, registry, poller.Options{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.PaymentTopic,
			GroupID: cfg.PaymentGroup,
			Logger:  log,
		})
		defer payments.Close()
		background(func() { payments.Run(ctx) })
	} else {
		log.Warn("KAFKA_BROKERS not set; paid carts are not cleared automatically")
	}

	// gRPC readiness
	readiness := cartgrpc.NewReadiness(checks, 2*time.Second, log)
	grpcServer := cartgrpc.NewServer(readiness)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		fatal(log, "failed to listen", err)
	}
	background(func() { readiness.Run(ctx, 10*time.Second) })
	go func() {
		log.Info("gRPC health listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server stopped", "error", err)
		}
	}()

	// HTTP
	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: carthttp.NewRouter(carthttp.RouterConfig{
			Sessions:       registry,
			Thumbnails:     thumbs,
			Bus:            bus,
			RequestTimeout: cfg.RequestTimeout,
			Logger:         log,
		}),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		log.Info("HTTP server starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "HTTP server error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down cartsync...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	wg.Wait()

	// sessions flush their pending writes before the stores go away
	registry.Close()
	if mongoDB != nil {
		if err := mongoDB.Client().Disconnect(shutdownCtx); err != nil {
			log.Error("failed to disconnect MongoDB", "error", err)
		}
	}
	log.Info("cartsync stopped")
}

func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger, checks map[string]cartgrpc.Check) (storage.Storage, func()) {
	switch cfg.StorageDriver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			fatal(log, "Redis connection failed", err)
		}
		st := storage.NewRedisStorage(client, cfg.StorageTTL)
		checks["redis"] = st.Ping
		log.Info("session storage on Redis", "addr", cfg.RedisAddr)
		return st, func() { client.Close() }
	case "sqlite":
		st, err := storage.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			fatal(log, "failed to open SQLite storage", err)
		}
		if err := st.RunMigrations(cfg.SQLiteMigrations); err != nil {
			fatal(log, "failed to run SQLite migrations", err)
		}
		log.Info("session storage on SQLite", "path", cfg.SQLitePath)
		return st, func() { st.Close() }
	default:
		log.Warn("using in-memory session storage")
		return storage.NewMemory(), func() {}
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
