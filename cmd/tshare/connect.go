package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hackclub/tshare/internal/api"
	"github.com/hackclub/tshare/internal/client"
	"github.com/hackclub/tshare/internal/config"
	"github.com/hackclub/tshare/internal/logging"
	"github.com/hackclub/tshare/internal/owner"
	"github.com/hackclub/tshare/internal/ws"
)

const probeTimeout = 5 * time.Second

type connectOptions struct {
	configPath    string
	tunnelHost    string
	tunnelPort    int
	webHost       string
	webPort       int
	ownerPass     string
	guestPass     string
	guestReadonly bool
	shell         string
}

func connectCmd() *cobra.Command {
	var opts connectOptions

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Start a new shared terminal session",
		Long: "Registers a session with the tunnel server, starts your shell and prints a link viewers can open.\n" +
			"Owners always have full access. Guests follow --guest-readonly.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			brokerURL := cfg.Client.BrokerURL
			if cmd.Flags().Changed("tunnel-host") || cmd.Flags().Changed("tunnel-port") {
				brokerURL = endpointURL(opts.tunnelHost, opts.tunnelPort)
			}
			webURL := cfg.Client.WebURL
			if cmd.Flags().Changed("web-host") || cmd.Flags().Changed("web-port") {
				webURL = endpointURL(opts.webHost, opts.webPort)
			}

			logger, closer, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer stop()

			return runConnect(ctx, cmd.OutOrStdout(), logger, cfg, brokerURL, webURL, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")
	flags.StringVar(&opts.tunnelHost, "tunnel-host", "127.0.0.1", "tunnel server host")
	flags.IntVar(&opts.tunnelPort, "tunnel-port", 8385, "tunnel server port")
	flags.StringVar(&opts.webHost, "web-host", "127.0.0.1", "web server host")
	flags.IntVar(&opts.webPort, "web-port", 8386, "web server port")
	flags.StringVar(&opts.ownerPass, "owner-pass", "", "password for the session owner on the web")
	flags.StringVar(&opts.guestPass, "guest-pass", "", "password for guests on the web")
	flags.BoolVar(&opts.guestReadonly, "guest-readonly", false, "guests can only watch; their input is dropped")
	flags.StringVar(&opts.shell, "shell", "", "shell to run (default $SHELL)")

	return cmd
}

func endpointURL(host string, port int) string {
	u := url.URL{Scheme: "http", Host: net.JoinHostPort(host, strconv.Itoa(port))}
	return u.String()
}

// setupLogging sends logs only to a file so they never mix with the shared
// terminal. The previous run's log is discarded.
func setupLogging(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	path := cfg.Client.LogFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		path = filepath.Join(home, ".tshare", "tshare.log")
	}
	os.Remove(path)
	return logging.Setup(logging.Options{
		Level:  cfg.Log.Level,
		Format: "json",
		File:   path,
		Quiet:  true,
	})
}

func runConnect(ctx context.Context, out io.Writer, logger zerolog.Logger, cfg *config.Config, brokerURL, webURL string, opts connectOptions) error {
	broker := client.New(brokerURL, cfg.Client.Token)

	logger.Info().Str("broker", brokerURL).Msg("validating tunnel server connection")
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	err := broker.Probe(probeCtx)
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("tunnel server unreachable")
		return fmt.Errorf("cannot start: tunnel server is not responding at %s: %w", brokerURL, err)
	}

	req := api.CreateSessionRequest{IsGuestReadonly: opts.guestReadonly}
	if opts.ownerPass != "" {
		req.OwnerPassword = &opts.ownerPass
	}
	if opts.guestPass != "" {
		req.GuestPassword = &opts.guestPass
	}
	id, err := broker.CreateSession(ctx, req)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	logger.Info().Str("session_id", id).Msg("session created")
	printBanner(out, id, webURL)

	shell, err := owner.StartShell(opts.shell, owner.DefaultCols, owner.DefaultRows)
	if err != nil {
		return err
	}
	defer shell.Close()

	conn, err := broker.DialOwner(ctx, id)
	if err != nil {
		return fmt.Errorf("attach to session: %w", err)
	}
	logger.Info().Str("session_id", id).Msg("owner stream connected")

	bridge := owner.NewBridge(conn, shell, owner.Options{
		Echo:      out,
		Keepalive: ws.Keepalive(cfg.WebSocket),
		Logger:    logger,
	})
	bridge.ReportSize(owner.DefaultCols, owner.DefaultRows)

	stdinFd := int(os.Stdin.Fd())
	var restore func()
	if term.IsTerminal(stdinFd) {
		state, err := term.MakeRaw(stdinFd)
		if err != nil {
			logger.Warn().Err(err).Msg("raw mode unavailable")
		} else {
			restore = func() { term.Restore(stdinFd, state) }
		}
	}
	go func() {
		if err := bridge.CopyInput(os.Stdin); err != nil {
			logger.Debug().Err(err).Msg("stdin copy stopped")
		}
	}()

	runErr := bridge.Run(ctx)
	shell.Close()
	if restore != nil {
		restore()
	}

	if runErr != nil {
		logger.Error().Err(runErr).Str("session_id", id).Msg("session ended with error")
		fmt.Fprintf(out, "\r\nTerminal session error: %v\r\n", runErr)
		return nil
	}
	logger.Info().Str("session_id", id).Msg("session ended")
	fmt.Fprint(out, "\r\nTerminal session ended.\r\n")
	return nil
}

func printBanner(out io.Writer, id, webURL string) {
	fmt.Fprintln(out, "=== TShare Session Created ===")
	fmt.Fprintf(out, "Session ID: %s\n", id)
	fmt.Fprintf(out, "Share this link: %s\n", shareLink(webURL, id))
	fmt.Fprintln(out, "==============================")
	fmt.Fprintln(out, "Starting shared terminal session...")
	fmt.Fprintln(out, "This terminal will be shared with viewers.")
	fmt.Fprintln(out, "Either exit the terminal or end the process to end the session.")
	fmt.Fprintln(out, "==============================")
	fmt.Fprintln(out)
}

func shareLink(webURL, id string) string {
	return fmt.Sprintf("%s/session/%s", strings.TrimRight(webURL, "/"), id)
}
