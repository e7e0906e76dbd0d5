package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orgrosua/yabe-siul/internal/infrastructure/config"
	"github.com/orgrosua/yabe-siul/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags override the environment
	port := flag.String("port", cfg.Server.Port, "Server port")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development logging")
	compileOnce := flag.Bool("compile", false, "Compile once, write the stylesheet and exit")
	flag.Parse()

	cfg.Server.Port = *port
	cfg.Logging.Development = *dev

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if *compileOnce {
		outcome := srv.Compile(context.Background())
		_ = srv.Close()
		if !outcome.Success {
			log.Fatalf("Compile failed at %s: %s", outcome.Error.Stage, outcome.Error.Message)
		}
		log.Printf("Compiled tailwindcss v%s to %s", outcome.Version, outcome.Artifact.File)
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		_ = srv.Close()
		log.Fatalf("Server error: %v", err)
	}
}
