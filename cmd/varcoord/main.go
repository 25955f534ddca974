// Command varcoord runs the VAR coordinator: it bridges an arena
// match-management server and a video recorder into a single durable
// match timeline, and serves the result to operator browsers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ebot1234/var-coordinator/pkg/arena"
	"github.com/ebot1234/var-coordinator/pkg/bus"
	"github.com/ebot1234/var-coordinator/pkg/config"
	"github.com/ebot1234/var-coordinator/pkg/coordinator"
	"github.com/ebot1234/var-coordinator/pkg/gateway"
	"github.com/ebot1234/var-coordinator/pkg/hyperdeck"
	"github.com/ebot1234/var-coordinator/pkg/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("VARCOORD_CONFIG"), "path to a TOML configuration file")
	envPath := flag.String("env-file", ".env", "path to an optional .env file to load before reading configuration")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", *envPath, "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		slog.Error("varcoord exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.DB.DataDir)
	if err != nil {
		return fmt.Errorf("open persistence store: %w", err)
	}

	arenaClient := arena.New(arena.Config{
		BaseURL:        cfg.Arena.BaseURL,
		Username:       cfg.Arena.Username,
		Password:       cfg.Arena.Password,
		Compat:         cfg.Arena.Compat,
		ReconnectDelay: cfg.Arena.ReconnectDelay,
	}, st)

	recorderClient := hyperdeck.New(hyperdeck.Config{
		BaseURL:          cfg.Hyperdeck.BaseURL,
		WebsocketURL:     cfg.Hyperdeck.WebsocketURL,
		ReconnectDelay:   cfg.Hyperdeck.ReconnectDelay,
		StopPollInterval: cfg.Hyperdeck.StopPollInterval,
		StopPollTimeout:  cfg.Hyperdeck.StopPollTimeout,
	})

	eventBus := bus.New()

	coord, err := coordinator.New(coordinator.Config{
		AutoScoringDelaySec:    cfg.Var.AutoScoringDelaySec,
		EndgameScoringDelaySec: cfg.Var.EndgameScoringDelaySec,
		RecordingExtraTimeSec:  cfg.Var.RecordingExtraTimeSec,
		VarReviewBackdateSec:   cfg.Var.VarReviewBackdateSec,
	}, st, arenaClient, recorderClient, eventBus)
	if err != nil {
		return fmt.Errorf("build coordinator: %w", err)
	}

	gw := gateway.New(gateway.Config{
		StatusUsername: cfg.Server.StatusUsername,
		StatusPassword: cfg.Server.StatusPassword,
		StaticDir:      cfg.Server.StaticDir,
	}, eventBus)

	g, gctx := errgroup.WithContext(ctx)

	exitCh := make(chan error, 1)
	arenaClient.Start(gctx, exitCh)
	recorderClient.Start(gctx)
	coord.Start(gctx)

	g.Go(func() error {
		select {
		case err := <-exitCh:
			return fmt.Errorf("arena client reported an unrecoverable error: %w", err)
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return gw.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		slog.Info("operator gateway listening", "addr", cfg.Server.ListenAddr)
		if err := gw.Start(cfg.Server.ListenAddr); err != nil && !errors.Is(err, context.Canceled) {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}
		return nil
	})

	err = g.Wait()
	arenaClient.Stop()
	recorderClient.Stop()
	return err
}
