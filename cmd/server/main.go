package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/dmchat-server/internal/app"
	"github.com/vovakirdan/dmchat-server/internal/chatclient"
	"github.com/vovakirdan/dmchat-server/internal/config"
	"github.com/vovakirdan/dmchat-server/internal/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()
	root := &cobra.Command{
		Use:           "dmchat-server",
		Short:         "Direct message chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())
	root.AddCommand(serve, newChatCmd(), newSmokeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLog := log.New("info")
			cfg, path, err := config.Load(bootLog, configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting dmchat server")

			application, err := app.New(&cfg, logger)
			if err != nil {
				return err
			}
			if err := application.Run(cmd.Context()); err != nil {
				return fmt.Errorf("server exited with error: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config.yaml")
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	return cmd
}

// clientFlags are shared by the commands that talk to a running server.
type clientFlags struct {
	server   string
	token    string
	email    string
	password string
	peer     string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&f.token, "token", os.Getenv("DMCHAT_TOKEN"), "bearer token")
	cmd.Flags().StringVar(&f.email, "email", "", "login email when no token is given")
	cmd.Flags().StringVar(&f.password, "password", "", "login password when no token is given")
	cmd.Flags().StringVar(&f.peer, "peer", "", "user id of the conversation partner")
	_ = cmd.MarkFlagRequired("peer")
}

func (f *clientFlags) config(ctx context.Context) (chatclient.Config, error) {
	token := f.token
	if token == "" {
		if f.email == "" || f.password == "" {
			return chatclient.Config{}, errors.New("either --token or --email and --password are required")
		}
		var err error
		if token, err = chatclient.Login(ctx, f.server, f.email, f.password); err != nil {
			return chatclient.Config{}, err
		}
	}
	return chatclient.Config{ServerURL: f.server, Token: token, PeerID: f.peer}, nil
}

func newChatCmd() *cobra.Command {
	var (
		flags    clientFlags
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with one user from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.config(cmd.Context())
			if err != nil {
				return err
			}
			logger := log.NewWithWriter(os.Stderr, logLevel)
			return chatclient.New(cfg, cmd.OutOrStdout(), logger).Run(cmd.Context(), cmd.InOrStdin())
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "client log level")
	return cmd
}

func newSmokeCmd() *cobra.Command {
	var (
		flags   clientFlags
		text    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Send one message and wait for the server to confirm it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			cfg, err := flags.config(ctx)
			if err != nil {
				return err
			}
			return chatclient.Smoke(ctx, cfg, text, cmd.OutOrStdout())
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&text, "text", "hello from smoke test", "message text to send")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "total timeout for the run")
	return cmd
}
