// Command tshare-edge is the web server browsers talk to. It checks session
// passwords and proxies viewer streams to the broker.
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
	"github.com/hackclub/tshare/internal/client"
	"github.com/hackclub/tshare/internal/config"
	"github.com/hackclub/tshare/internal/edge"
	"github.com/hackclub/tshare/internal/logging"
	"github.com/hackclub/tshare/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("tshare-edge", pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "", "path to YAML config file")
	envFile := flagSet.String("env-file", ".env", "dotenv file to load before reading the environment")
	host := flagSet.String("host", "", "override listen host")
	port := flagSet.IntP("port", "p", 0, "override listen port")
	tunnelURL := flagSet.String("tunnel-url", "", "override broker base URL")
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
		cfg.Edge.Host = *host
	}
	if *port > 0 {
		cfg.Edge.Port = *port
	}
	if *tunnelURL != "" {
		cfg.Edge.BrokerURL = *tunnelURL
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

	broker := client.New(cfg.Edge.BrokerURL, cfg.Edge.BrokerToken)
	probeCtx, cancel := context.WithTimeout(ctx, cfg.Edge.ProbeTimeout)
	err = broker.Probe(probeCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("broker at %s is not responding: %w", cfg.Edge.BrokerURL, err)
	}
	logger.Info().Str("broker", cfg.Edge.BrokerURL).Msg("broker reachable")

	var blockKey []byte
	if cfg.Edge.CookieBlockKey != "" {
		blockKey = []byte(cfg.Edge.CookieBlockKey)
	}
	server := edge.NewServer(broker, edge.Options{
		RejectUnauthenticated: cfg.Edge.RejectUnauthenticated,
		CookieHashKey:         []byte(cfg.Edge.CookieHashKey),
		CookieBlockKey:        blockKey,
		CookieMaxAge:          cfg.Edge.CookieMaxAge,
		AuthRate:              cfg.Edge.AuthRate,
		AuthBurst:             cfg.Edge.AuthBurst,
		AllowedOrigins:        cfg.Edge.AllowedOrigins,
		Keepalive:             ws.Keepalive(cfg.WebSocket),
		Hasher:                auth.NewBcryptHasher(0),
		Logger:                logger,
	})

	addr := net.JoinHostPort(cfg.Edge.Host, strconv.Itoa(cfg.Edge.Port))
	logger.Info().
		Bool("reject_unauthenticated", cfg.Edge.RejectUnauthenticated).
		Bool("persistent_cookie_key", cfg.Edge.CookieHashKey != "").
		Msg("starting tshare edge")
	return ws.ListenAndServe(ctx, addr, server.Handler(), logger)
}
