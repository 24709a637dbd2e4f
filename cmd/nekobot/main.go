package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nekobot/internal/bot"
	"nekobot/internal/conf"
	"nekobot/internal/log"
	"nekobot/internal/matrix"
	"nekobot/internal/matrix/store"
)

var (
	configPath     string
	nonInteractive bool
	debug          bool
)

var rootCmd = &cobra.Command{
	Use:           "nekobot",
	Short:         "Matrix bot that serves random catgirl images on command",
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "options.json", "path to the options file")
	rootCmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "never prompt; fail if the options file is missing")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}
	if env := os.Getenv("NEKOBOT_CONFIG"); env != "" && !cmd.Flags().Changed("config") {
		configPath = env
	}

	logger := log.New(debug)

	opts, err := conf.Resolve(configPath, !nonInteractive, logger)
	if err != nil {
		logger.Error().Err(err).Msg("could not resolve options")
		return err
	}
	if opts.Debug && !debug {
		logger = log.New(true)
	}

	if err := initStoreDir(opts.StorePath, logger); err != nil {
		logger.Error().Err(err).Msg("could not initialize store directory")
		return err
	}

	sessions, err := store.Open(opts.StorePath, logger)
	if err != nil {
		logger.Error().Err(err).Msg("could not open session store")
		return err
	}
	defer sessions.Close()

	client, err := matrix.NewClient(matrix.Config{
		Homeserver:   opts.Homeserver,
		UserID:       opts.UserID,
		Password:     opts.Password,
		DeviceName:   opts.DeviceName,
		CryptoDBPath: filepath.Join(filepath.Dir(opts.StorePath), "crypto.db"),
	}, sessions, logger)
	if err != nil {
		logger.Error().Err(err).Msg("could not build matrix client")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Login(ctx); err != nil {
		logger.Error().Err(err).Msg("login failed")
		return err
	}
	defer client.Close()

	b := bot.New(opts, client, logger)
	logger.Info().Msg("starting nekobot")
	if err := b.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("shutting down due to irrecoverable error")
		return err
	}
	logger.Info().Msg("shut down cleanly")
	return nil
}

func initStoreDir(storePath string, logger zerolog.Logger) error {
	dir := filepath.Dir(storePath)

	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		logger.Info().Str("dir", dir).Msg("using existing store directory")
		return nil
	case err == nil:
		return fmt.Errorf("store path %s exists but is not a directory", dir)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	logger.Info().Str("dir", dir).Msg("created store directory")
	return nil
}
