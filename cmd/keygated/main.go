package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"keygate/internal/app"
)

func main() {
	// Local development reads settings from .env; absence is fine.
	_ = godotenv.Load()

	application, err := app.NewApplication()
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
