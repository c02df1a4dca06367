package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/snackops/hotdog-counter/internal/config"
	"github.com/snackops/hotdog-counter/internal/counter"
	"github.com/snackops/hotdog-counter/internal/database"
	"github.com/snackops/hotdog-counter/internal/dedup"
	"github.com/snackops/hotdog-counter/internal/events"
	"github.com/snackops/hotdog-counter/internal/leaderboard"
	"github.com/snackops/hotdog-counter/internal/logging"
	"github.com/snackops/hotdog-counter/internal/server"
	"github.com/snackops/hotdog-counter/internal/slacksig"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "hotdog-api",
		Short: "Hotdog counter webhook and leaderboard service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Slack signing secret (overrides env)")
	cmd.PersistentFlags().String("allowed-channels", defaults.GetString("slack.allowed_channels"), "Comma-separated channel allow-list (empty counts everywhere)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "slack.signing_secret", "signing-secret")
	bindFlag(cmd, "slack.allowed_channels", "allowed-channels")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := counter.NewStore(counter.StoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	guard, err := dedup.NewGuard(dedup.GuardConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	processor, err := events.NewProcessor(events.ProcessorConfig{
		Accumulator:     store,
		Guard:           guard,
		AllowedChannels: appConfig.AllowedChannels,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	query, err := leaderboard.NewService(leaderboard.ServiceConfig{
		Store:           store,
		AllowedChannels: appConfig.AllowedChannels,
	})
	if err != nil {
		return err
	}

	verifier := slacksig.NewVerifier(slacksig.VerifierConfig{
		SigningSecret: []byte(appConfig.SlackSigningSecret),
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Verifier:  verifier,
		Processor: processor,
		Query:     query,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("allowed_channels", strings.Join(appConfig.AllowedChannels, ",")))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
