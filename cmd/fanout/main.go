package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/hellocng/deepstack-sub002/common/bootstrap"
	"github.com/hellocng/deepstack-sub002/common/server"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The fanout service only needs Redis
	components, err := bootstrap.Setup(ctx, "fanout",
		bootstrap.WithoutDB(),
		bootstrap.WithoutQueue(),
		bootstrap.WithoutCache(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap fanout: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	log := components.Logger
	if components.Redis == nil {
		log.Error("fanout requires Redis (REDIS_ENABLED=true)")
		os.Exit(1)
	}

	hub := NewHub(log)
	go hub.Run(ctx)

	subscriber := NewRedisSubscriber(components.Redis, hub, log)
	go func() {
		if err := subscriber.Start(ctx); err != nil {
			log.Error("redis subscriber failed", "error", err)
			cancel()
		}
	}()

	srv := NewServer(hub, components.Redis, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleWebSocket)
	mux.HandleFunc("/stats", srv.HandleStats)
	mux.HandleFunc("/health", server.HealthHandler("fanout"))

	if err := server.New("fanout", components.Config.Service.Port, mux, log).Start(ctx); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
