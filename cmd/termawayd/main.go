// termawayd is the network-accessible terminal multiplexer daemon: it
// owns a set of long-lived PTY sessions running the host user's login
// shell and exposes them to remote clients over a framed WebSocket
// channel.
//
// Usage:
//
//	termawayd serve [--addr <host>] [--port <n>] [--password <pw>] [--cert-dir <dir>]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/termaway/termawayd/internal/config"
	"github.com/termaway/termawayd/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "termawayd",
		Short: "Network-accessible terminal multiplexer daemon",
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var (
		addr        string
		port        int
		password    string
		certDir     string
		serviceName string
		configPath  string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon and listen for client connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(verbose)

			ov := config.Overrides{}
			if cmd.Flags().Changed("addr") {
				ov.Address = &addr
			}
			if cmd.Flags().Changed("port") {
				ov.Port = &port
			}
			if cmd.Flags().Changed("password") {
				ov.Password = &password
			}
			if cmd.Flags().Changed("cert-dir") {
				ov.CertDir = &certDir
			}
			if cmd.Flags().Changed("service-name") {
				ov.ServiceName = &serviceName
			}

			cfg, err := config.Load(configPath, ov)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			srv := server.New(server.Config{
				Address:     cfg.Address,
				Port:        cfg.Port,
				Password:    cfg.Password,
				CertDir:     cfg.CertDir,
				ServiceName: cfg.ServiceName,
			}, log)

			ctx, cancel := context.WithCancel(context.Background())
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
				cancel()
			}()

			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", config.DefaultAddress, "listen address (env: TERMAWAY_ADDRESS)")
	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "listen port (env: TERMAWAY_PORT)")
	cmd.Flags().StringVar(&password, "password", "", "required client password (env: TERMAWAY_PASSWORD)")
	cmd.Flags().StringVar(&certDir, "cert-dir", config.DefaultCertDir(), "directory containing server.key/server.crt")
	cmd.Flags().StringVar(&serviceName, "service-name", "", "service name advertised for discovery")
	cmd.Flags().StringVar(&configPath, "config", config.DefaultConfigPath(), "path to config.yaml")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	return cmd
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().Logger()
}
