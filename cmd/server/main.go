// Package main is the entry point of the DOOH bid proxy
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	dconfig "github.com/thenexusengine/tne_dooh/internal/config"
	"github.com/thenexusengine/tne_dooh/pkg/logger"
)

func main() {
	// .env is loaded while parsing, before the logger reads LOG_LEVEL
	cfg, err := ParseConfig()

	logger.Init(logger.DefaultConfig())
	log := logger.Log

	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	server, err := NewServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), dconfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
}
