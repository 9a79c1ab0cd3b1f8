package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/PFigs/backend-client"
)

func main() {
	cfg, err := backendclient.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	backend, items, closeItems := backendclient.NewChannelBackend("fanout", 32)
	defer closeItems()

	go fanoutWorker("ingest", items)

	rt, err := backendclient.NewRuntime(cfg, backendclient.WithDialer(backendclient.SharedDialer(backend)))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, items <-chan backendclient.WorkItem) {
	counts := map[string]int{}
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case item, ok := <-items:
			if !ok {
				return
			}
			counts[item.Kind().String()]++
		case <-ticker.C:
			fmt.Printf("[%s] %s %v\n", name, time.Now().Format(time.RFC3339), counts)
		}
	}
}
