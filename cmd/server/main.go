// Command server runs the collaborative document service: the WebSocket
// transport, the OT engine registry, the broadcast fabric, the write-
// coalescing persistence pipeline, and the ambient HTTP surface, wired
// together the way the teacher's transport/cmd/main.go wires its own
// storages and services.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"collabdocs/internal/broadcast"
	"collabdocs/internal/cache"
	"collabdocs/internal/config"
	"collabdocs/internal/document"
	"collabdocs/internal/httpserver"
	"collabdocs/internal/logging"
	"collabdocs/internal/ot"
	"collabdocs/internal/permission"
	"collabdocs/internal/persistence"
	"collabdocs/internal/ratelimit"
	"collabdocs/internal/session"
	"collabdocs/internal/store"
	"collabdocs/internal/transport/ws"
)

func main() {
	cfg, err := config.Load(os.Args[1:], ".env", godotenv.Load)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.Development)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		logger.Fatal("mongo connect failed", zap.Error(err))
	}
	defer mongoClient.Disconnect(ctx)
	if err := mongoClient.Ping(ctx, nil); err != nil {
		logger.Fatal("mongo ping failed", zap.Error(err))
	}
	collection := mongoClient.Database(cfg.MongoDB).Collection(cfg.MongoColl)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping failed", zap.Error(err))
		}
		defer redisClient.Close()
	}

	docStore := store.New(collection, logger, store.DefaultRetryOptions())

	var docCache cache.Cache[*document.Document]
	if redisClient != nil {
		docCache = cache.NewRedisCache[*document.Document](redisClient, "collabdocs:doc:", cfg.CacheTTL)
	} else {
		docCache = cache.NewMemoryCache[*document.Document](cfg.CacheTTL, nil)
	}

	var bus broadcast.Bus
	if redisClient != nil {
		bus = broadcast.NewRedisBus(redisClient, "collabdocs:bus:", logger)
	} else {
		bus = broadcast.NewMemoryBus()
	}

	gate := permission.New(cfg.AdminIDs...)
	rooms := broadcast.NewRooms()
	pipeline := persistence.New(docStore, docCache, logger, cfg.FlushInterval)
	registry := ot.NewRegistry(session.NewLoader(docCache, docStore.FindOne))

	instanceID := instanceIdentity()
	manager := session.NewManager(gate, registry, rooms, bus, pipeline, docStore, docCache, logger, instanceID)

	health := func(ctx context.Context) error {
		if err := mongoClient.Ping(ctx, nil); err != nil {
			return err
		}
		if redisClient != nil {
			return redisClient.Ping(ctx).Err()
		}
		return nil
	}

	conns := ratelimit.NewConnectionLimiter(ratelimit.DefaultConnectionsPerMinute)
	go sweepConnLimiter(ctx, conns)

	wsHandler := ws.NewHandler(manager, conns, logger)
	httpSrv := httpserver.NewServer(httpserver.Config{Addr: cfg.Addr, ShutdownTimeout: 5 * time.Second}, wsHandler, health, logger)

	logger.Info("collabdocs starting",
		zap.String("addr", cfg.Addr),
		zap.String("instance", instanceID),
		zap.Bool("redis", redisClient != nil),
	)

	if err := httpSrv.Start(); err != nil {
		logger.Fatal("server exited with error", zap.Error(err))
	}
}

// sweepConnLimiter periodically drops per-address buckets that have
// refilled to full, bounding the limiter's memory for addresses that never
// reconnect.
func sweepConnLimiter(ctx context.Context, conns *ratelimit.ConnectionLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			conns.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// instanceIdentity names this process to the broadcast bus so it can
// recognize and skip its own published messages looped back by Redis.
func instanceIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "instance"
	}
	return host
}
