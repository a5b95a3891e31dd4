package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/neovim/go-client/nvim"
	"github.com/spf13/cobra"

	"snipsession/buffer"
	"snipsession/config"
	"snipsession/engine"
	"snipsession/logger"
	"snipsession/provider"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a Neovim instance over stdio or a listen socket",
		Long: `Serve attaches to Neovim and installs the :SnipInsert, :SnipExpand, :SnipNext,
:SnipPrev, :SnipCancel and :SnipSelect commands. Without --addr it speaks
msgpack-rpc on stdin/stdout, as started by jobstart({'snipsession', 'serve'}, {rpc = true}).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefault(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Address = addr
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (.yaml, .yml or .toml)")
	cmd.Flags().StringVar(&addr, "addr", "", "Neovim listen address (default: stdio)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "trace, debug, info, warn or error")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(cfg.LogFile, logger.ParseLevel(cfg.LogLevel)); err != nil {
		return err
	}
	defer logger.Close()

	client, err := connect(cfg.Address)
	if err != nil {
		logger.Error("connect: %v", err)
		return err
	}
	defer client.Close()

	prov, err := provider.NewProvider(cfg.ProviderType(), cfg.ProviderConfig())
	if err != nil {
		logger.Error("provider: %v", err)
		return err
	}

	buf := buffer.New(client)
	eng, err := engine.NewEngine(prov, buf, engineConfig(cfg))
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng.Start(ctx)
	defer eng.Stop()
	eng.RegisterEventHandler()

	served := make(chan error, 1)
	go func() {
		served <- client.Serve()
	}()

	if err := buf.Setup(); err != nil {
		logger.Error("setup: %v", err)
		return err
	}
	logger.Info("serving (provider=%s, addr=%q)", cfg.Provider.Type, cfg.Address)

	select {
	case <-ctx.Done():
		logger.Info("shutting down: %v", context.Cause(ctx))
		return nil
	case err := <-served:
		if err != nil {
			logger.Error("rpc connection: %v", err)
			return err
		}
		logger.Info("neovim closed the connection")
		return nil
	}
}

// connect dials addr, or uses stdio when addr is empty
func connect(addr string) (*nvim.Nvim, error) {
	if addr == "" {
		client, err := nvim.New(os.Stdin, os.Stdout, os.Stdout, logger.Debug)
		if err != nil {
			return nil, fmt.Errorf("stdio connection: %w", err)
		}
		return client, nil
	}
	client, err := nvim.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return client, nil
}

func engineConfig(cfg *config.Config) engine.EngineConfig {
	return engine.EngineConfig{
		ResolveTimeout: cfg.ResolveTimeout,
		EventBuffer:    cfg.EventBuffer,
		Session: engine.SessionConfig{
			FinalTabstop: cfg.FinalTabstop,
			Variables:    cfg.Variables,
		},
	}
}
