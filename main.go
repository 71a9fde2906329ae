package main

import (
	"log/slog"
	"os"

	"rafflekeeper/apps/backend/internal/cli"
	"rafflekeeper/apps/backend/internal/logger"
)

func main() {
	// Initialize structured logger
	handler := logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(slog.New(handler))

	os.Exit(cli.Execute())
}
