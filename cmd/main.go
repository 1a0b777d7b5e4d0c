package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	httpapi "github.com/polymeet/polymeet/internal/api/http"
	"github.com/polymeet/polymeet/internal/config"
	"github.com/polymeet/polymeet/internal/directory"
	"github.com/polymeet/polymeet/internal/service"
	"github.com/polymeet/polymeet/internal/transport"
	"github.com/polymeet/polymeet/lib/logger/slogpretty"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	registry := transport.NewRegistry(log)
	dir := directory.New()
	router := service.NewRouter(dir, registry, service.HostPolicy(cfg.Room.HostPolicy), log)

	meetController := httpapi.NewMeetController(router, registry, log)

	engine := httpapi.SetupRouter(cfg.HTTP.AllowedOrigins, meetController)

	log.Info("starting application",
		slog.String("addr", cfg.HTTP.Address),
		slog.String("host_policy", cfg.Room.HostPolicy),
	)
	if err := engine.Run(cfg.HTTP.Address); err != nil {
		log.Error("http server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
