package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/PFigs/backend-client/pkg/backendclient"
)

func main() {
	cfg, err := backendclient.LoadConfig("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	callback := func(_ context.Context, item backendclient.WorkItem) error {
		h := item.Meta()
		fmt.Printf("%s kind=%s gw=%s src=%d dst=%d hops=%d\n",
			h.ReceivedAt.Format(time.RFC3339Nano),
			item.Kind(),
			h.GatewayID,
			h.SourceAddress,
			h.DestinationAddress,
			h.HopCount,
		)
		return nil
	}

	rt, err := backendclient.NewRuntime(cfg,
		backendclient.WithDialer(backendclient.SharedDialer(backendclient.NewCallbackBackend("stdout", callback))),
	)
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Run(ctx); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}
