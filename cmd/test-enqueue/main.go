package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/jwebster45206/world-engine/internal/services/queue"
	queuePkg "github.com/jwebster45206/world-engine/pkg/queue"
)

func main() {
	redisURL := flag.String("redis", "redis://localhost:6379", "Redis URL")
	assetID := flag.String("asset", "BASE", "asset to run the action against")
	src := flag.String("src", "foo = not foo", "action source")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client, err := queue.NewClient(*redisURL, logger)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer client.Close()

	fmt.Println("Connected to Redis successfully!")

	ctx := context.Background()
	actions := queue.NewActionQueue(client, logger)

	req := queuePkg.NewActionRequest(*assetID, *src, "")
	if err := actions.EnqueueAction(ctx, req); err != nil {
		log.Fatal("Failed to enqueue request:", err)
	}
	fmt.Printf("✅ Enqueued action %s against %s: %s\n", req.RequestID, req.AssetID, req.Source)

	depth, err := actions.Depth(ctx)
	if err != nil {
		log.Fatal("Failed to get queue depth:", err)
	}

	fmt.Printf("\n📊 Queue depth: %d requests\n", depth)
	fmt.Println("\n💡 Now start the worker to see it process these requests!")
	fmt.Println("   Run: go run cmd/worker/main.go")
}
