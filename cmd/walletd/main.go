package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/tee-wallet-kms/cmd/flags"
	"github.com/ruteri/tee-wallet-kms/common"
	"github.com/ruteri/tee-wallet-kms/config"
	"github.com/ruteri/tee-wallet-kms/httpserver"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "walletd",
		Usage:   "Run the TEE wallet key management service",
		Version: common.Version,
		Flags:   flags.CommonFlags,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start the trusted application and the operations server",
				Flags:  flags.ServerFlags,
				Action: runServe,
			},
			{
				Name:   "selftest",
				Usage:  "run a wallet round trip against an in-memory store and exit",
				Action: runSelftest,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(cCtx *cli.Context, logger *slog.Logger) (*config.Config, error) {
	cfg, errs := config.Load(cCtx.String(flags.ConfigFlag.Name))
	if len(errs) == 0 {
		errs = cfg.Validate()
	}
	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("Invalid configuration", "err", err)
		}
		return nil, fmt.Errorf("invalid configuration: %w", errs[0])
	}
	logger.Info("Configuration loaded", "config", cfg.LogSummary())
	return cfg, nil
}

func runServe(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	cfg, err := loadConfig(cCtx, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start trusted application", "err", err)
		return err
	}
	defer d.Close(context.Background())

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		d.sessions.Run(ctx)
	}()

	serverCfg := flags.ConfigureServer(cCtx, logger)
	serverCfg.Gatherer = d.registry
	serverCfg.Ready = d.Ready
	serverCfg.Status = d.Status

	server, err := httpserver.New(serverCfg)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	logger.Info("Starting server")
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	cancel()
	<-sweeperDone
	logger.Info("Server shutdown complete")
	return nil
}

func runSelftest(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	cfg, err := loadConfig(cCtx, logger)
	if err != nil {
		return err
	}
	// Never touch real stores or audit files from a self test.
	cfg.Storage.URIs = []string{"memory://"}
	cfg.Audit.FilePath = ""
	cfg.Audit.EncryptedFilePath = ""

	ctx := context.Background()
	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close(ctx)

	if err := selftest(ctx, d, logger); err != nil {
		logger.Error("Self test failed", "err", err)
		return err
	}
	logger.Info("Self test passed")
	return nil
}
