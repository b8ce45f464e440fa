package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nodeai/nodeai/common/config"
	"github.com/nodeai/nodeai/common/logger"
	"github.com/nodeai/nodeai/common/server"
)

// fanout serves execution event streams to remote websocket clients.
// It reads the Redis mirror written by nodeaid, so it can run on a
// different host from the engine and scale horizontally.
func main() {
	cfg, err := config.Load("fanout")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "addr", cfg.RedisAddr(), "error", err)
		os.Exit(1)
	}
	log.Info("connected to redis", "addr", cfg.RedisAddr())

	hub := NewHub(log)
	go hub.Run()

	subscriber := NewRedisSubscriber(redisClient, hub, log)
	go func() {
		if err := subscriber.Start(ctx); err != nil {
			log.Error("redis subscriber failed", "error", err)
			os.Exit(1)
		}
	}()

	srv := NewServer(hub, redisClient, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleWebSocket)
	mux.HandleFunc("/stats", srv.HandleStats)
	mux.HandleFunc("/health", server.HealthHandler())

	httpServer := server.New("fanout", cfg.Service.Port, mux, log)
	httpServer.RegisterOnShutdown(func(context.Context) {
		cancel()
		redisClient.Close()
	})

	if err := httpServer.Start(); err != nil {
		log.Error("Server error", "error", err)
		os.Exit(1)
	}
}
