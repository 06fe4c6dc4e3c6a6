package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"anoa.com/reviewfeed/internal/config"
	"anoa.com/reviewfeed/internal/server"
	"anoa.com/reviewfeed/pkg/database"
	"anoa.com/reviewfeed/pkg/logger"
	"anoa.com/reviewfeed/pkg/store"
	"anoa.com/reviewfeed/pkg/store/pebblestore"
	"anoa.com/reviewfeed/pkg/store/redisstore"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.AppEnv, cfg.LogLevel)
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := connectRedis(ctx, cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var raw store.Store
	switch cfg.StoreBackend {
	case config.StoreRedis:
		if redisClient == nil {
			logger.Log.Fatal("redis store backend selected but redis is unreachable")
		}
		raw = redisstore.New(redisClient,
			redisstore.WithPrefix(cfg.StorePrefix),
			redisstore.WithMaxRetries(cfg.StoreMaxRetries),
		)
	case config.StorePebble:
		raw, err = pebblestore.Open(cfg.PebblePath, pebblestore.WithMaxRetries(cfg.StoreMaxRetries))
		if err != nil {
			logger.Log.Fatalf("failed to open pebble store: %v", err)
		}
		defer raw.Close()
	}

	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		db, err = database.Connect(cfg.DatabaseURL)
		if err != nil {
			logger.Log.Fatalf("failed to connect database: %v", err)
		}
		if err := database.Migrate(db); err != nil {
			logger.Log.Fatalf("migration failed: %v", err)
		}
	} else {
		logger.Log.Warn("DATABASE_URL not set, processed events are tracked in memory")
	}

	srv, err := server.NewServer(cfg, raw, db, redisClient)
	if err != nil {
		logger.Log.Fatalf("failed to build server: %v", err)
	}

	if err := srv.Run(ctx, ":"+cfg.Port); err != nil {
		logger.Log.Fatalf("server exited with error: %v", err)
	}
	logger.Log.Info("server stopped")
}

// connectRedis returns nil when Redis is not configured or not reachable.
func connectRedis(ctx context.Context, cfg *config.Config) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Log.Fatalf("invalid REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Log.WithError(err).Warn("redis unreachable, live notifications disabled")
		_ = client.Close()
		return nil
	}
	return client
}
