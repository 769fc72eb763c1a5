package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/doujins-org/newsfeed/config"
	"github.com/doujins-org/newsfeed/internal/app"
	"github.com/doujins-org/newsfeed/logging"
)

func newRootCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)
	root := &cobra.Command{
		Use:           "newsfeedd",
		Short:         "News recommendation and ranking service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $NEWSFEED_CONFIG or ./config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and, when worker.enabled, the profile worker",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				return serve(cmd.Context(), cfg, true, cfg.Worker.Enabled)
			},
		},
		&cobra.Command{
			Use:   "worker",
			Short: "Run only the profile update worker",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				return serve(cmd.Context(), cfg, false, true)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the Postgres schema and exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg.Postgres.Migrate = false
				log := logging.New(cfg.Logging)
				a, err := app.New(cmd.Context(), cfg, log)
				if err != nil {
					return err
				}
				defer a.Close(context.Background())
				return a.Migrate(cmd.Context())
			},
		},
	)
	return root
}

func serve(ctx context.Context, cfg *config.Config, withHTTP, withWorker bool) error {
	log := logging.New(cfg.Logging)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return err
	}
	defer closeApp(a, log, cfg)

	log.Info().
		Bool("http", withHTTP).
		Bool("worker", withWorker).
		Str("profiles", cfg.ProfileBackend()).
		Bool("embedder", cfg.Embedder.Enabled()).
		Msg("newsfeed starting")
	err = a.Supervisor(withHTTP, withWorker).Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func closeApp(a *app.App, log zerolog.Logger, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown")
	}
}
