package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jwebster45206/world-engine/internal/storage"
	pkgstorage "github.com/jwebster45206/world-engine/pkg/storage"
)

func main() {
	redisURL := flag.String("load", "", "Redis URL to load the assets into once they validate")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-load redis://host:6379/0] <asset-dir>\n", os.Args[0])
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	dir := flag.Arg(0)
	fmt.Printf("Validating %s...\n", dir)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	validator := NewAssetValidator()
	assets, err := validator.LoadDir(dir)
	if err == nil {
		err = validator.Validate(ctx, assets)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d assets are valid!\n", len(assets))

	if *redisURL == "" {
		return
	}
	if err := load(ctx, *redisURL, assets); err != nil {
		fmt.Fprintf(os.Stderr, "Load failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d assets into %s\n", len(assets), *redisURL)
}

func load(ctx context.Context, redisURL string, assets map[string]*pkgstorage.AssetRecord) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, err := storage.NewRedisStorage(redisURL, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, rec := range assets {
		if err := store.PutAsset(ctx, rec); err != nil {
			return fmt.Errorf("failed to load asset %s: %w", rec.AssetID, err)
		}
	}
	return nil
}
