// Command tshare-broker is the tunnel server. Owners attach their terminals
// here and viewers subscribe to them.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/hackclub/tshare/internal/auth"
	"github.com/hackclub/tshare/internal/config"
	"github.com/hackclub/tshare/internal/logging"
	"github.com/hackclub/tshare/internal/monitor"
	"github.com/hackclub/tshare/internal/session"
	"github.com/hackclub/tshare/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("tshare-broker", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "", "path to YAML config file")
	envFile := flagSet.String("env-file", ".env", "dotenv file to load before reading the environment")
	host := flagSet.String("host", "", "override listen host")
	port := flagSet.IntP("port", "p", 0, "override listen port")
	logLevel := flagSet.String("log-level", "", "override log level")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *host != "" {
		cfg.Broker.Host = *host
	}
	if *port > 0 {
		cfg.Broker.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closer, err := logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := session.NewStore(auth.NewBcryptHasher(cfg.Broker.BcryptCost), session.Options{
		SubscriberBuffer: cfg.Broker.SubscriberBuffer,
		InputBuffer:      cfg.Broker.InputBuffer,
		HistoryLimit:     cfg.Broker.HistoryLimit,
	})
	go store.RunReaper(ctx, cfg.Broker.ReapInterval, cfg.Broker.SessionRetention, logger)

	server := ws.NewServer(store, ws.Options{
		AuthToken:      cfg.Broker.AuthToken,
		AllowedOrigins: cfg.Broker.AllowedOrigins,
		Keepalive:      ws.Keepalive(cfg.WebSocket),
		Health:         monitor.NewReporter(store),
		Logger:         logger,
	})

	addr := net.JoinHostPort(cfg.Broker.Host, strconv.Itoa(cfg.Broker.Port))
	logger.Info().
		Bool("token_required", cfg.Broker.AuthToken != "").
		Int("history_limit", cfg.Broker.HistoryLimit).
		Dur("session_retention", cfg.Broker.SessionRetention).
		Msg("starting tshare broker")
	return ws.ListenAndServe(ctx, addr, server.Handler(), logger)
}
