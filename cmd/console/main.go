package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type ConsoleConfig struct {
	APIBaseURL  string
	CharacterID string
	AssetID     string
	RoomID      string
	Timeout     time.Duration
}

func main() {
	cfg := &ConsoleConfig{
		APIBaseURL:  getEnv("API_BASE_URL", "http://localhost:8080"),
		CharacterID: getEnv("CHARACTER_ID", ""),
		AssetID:     getEnv("ASSET_ID", "BASE"),
		RoomID:      getEnv("ROOM_ID", ""),
		Timeout:     30 * time.Second,
	}
	if len(os.Args) > 1 {
		cfg.CharacterID = os.Args[1]
	}
	if len(os.Args) > 2 {
		cfg.RoomID = os.Args[2]
	}
	if cfg.CharacterID == "" || cfg.RoomID == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s <character-id> <room-id>\n(or set CHARACTER_ID and ROOM_ID)\n", os.Args[0])
		os.Exit(1)
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
	}

	if !testConnection(client, cfg.APIBaseURL) {
		fmt.Fprintf(os.Stderr, "Could not connect to API. Please ensure the API is running.\nTry: go run ./cmd/api\n")
		os.Exit(1)
	}

	// The event stream outlives any request timeout
	streamClient := &http.Client{}
	updates := make(chan roomUpdateMsg, 16)
	go streamRoomUpdates(streamClient, cfg.APIBaseURL, cfg.CharacterID, updates)

	p := tea.NewProgram(NewConsoleUI(cfg, client, updates),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
