package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ktransport/internal/config"
	"ktransport/internal/db"
	"ktransport/internal/grpchealth"
	internalhttp "ktransport/internal/http"
	"ktransport/internal/logger"
	"ktransport/internal/repository"
	"ktransport/internal/verification"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logg := logger.Setup(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	var codeStore verification.CodeStore = verification.NewMemoryStore(nil)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Warn("redis close error", slog.String("error", err.Error()))
			}
		}()
		codeStore = verification.NewRedisStore(redisClient)
	} else {
		logg.Warn("REDIS_ADDR not set, verification codes are kept in memory")
	}

	store := repository.NewStore(pool)
	codes := verification.NewService(codeStore, verification.LogSender{Log: logg}, cfg.VerificationCodeTTL)
	server := internalhttp.NewServer(cfg, store, codes, logg)
	defer server.Close()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthServer, err := grpchealth.New(cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen failed: %v", err)
	}
	go func() {
		logg.Info("grpc health listening", slog.String("addr", healthServer.Addr()))
		if err := healthServer.Serve(); err != nil {
			log.Fatalf("grpc server error: %v", err)
		}
	}()
	go watchDatabase(ctx, pool, healthServer, logg)

	go func() {
		logg.Info("ktransport auth listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	healthServer.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Error("shutdown error", slog.String("error", err.Error()))
	}
}

func watchDatabase(ctx context.Context, pool *pgxpool.Pool, health *grpchealth.Server, logg *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := pool.Ping(pingCtx)
			cancel()
			if (err == nil) != serving {
				serving = err == nil
				health.SetServing(serving)
				if err != nil {
					logg.Error("database unreachable", slog.String("error", err.Error()))
				} else {
					logg.Info("database reachable again")
				}
			}
		}
	}
}
