package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/userdir/internal/auth"
	"github.com/MarcoPoloResearchLab/userdir/internal/config"
	"github.com/MarcoPoloResearchLab/userdir/internal/database"
	"github.com/MarcoPoloResearchLab/userdir/internal/directory"
	"github.com/MarcoPoloResearchLab/userdir/internal/logging"
	"github.com/MarcoPoloResearchLab/userdir/internal/metrics"
	"github.com/MarcoPoloResearchLab/userdir/internal/server"
	"github.com/MarcoPoloResearchLab/userdir/internal/users"
	"github.com/MarcoPoloResearchLab/userdir/internal/usersync"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	tokenIssuer   = "userdir-auth"
	tokenAudience = "userdir-api"
)

var (
	cfgFile      string
	tokenSubject string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "userdir-api",
		Short: "User directory API with external user sync",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Import external users once and print the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context())
		},
	}

	issueTokenCmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Print a bearer token for the protected endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIssueToken(cmd.Context())
		},
	}
	issueTokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "Token subject (operator identifier)")
	if err := issueTokenCmd.MarkFlagRequired("subject"); err != nil {
		panic(err)
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(syncCmd, issueTokenCmd)

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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("directory-base-url", defaults.GetString("directory.base_url"), "Remote user directory base URL")
	cmd.PersistentFlags().Int("directory-timeout-seconds", defaults.GetInt("directory.timeout_seconds"), "Per-page request timeout in seconds")
	cmd.PersistentFlags().Int("directory-max-concurrency", defaults.GetInt("directory.max_concurrency"), "Maximum concurrent page fetches")
	cmd.PersistentFlags().String("partial-failure-policy", defaults.GetString("sync.partial_failure_policy"), "Secondary page failure policy (fallback, import-partial)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "directory.base_url", "directory-base-url")
	bindFlag(cmd, "directory.timeout_seconds", "directory-timeout-seconds")
	bindFlag(cmd, "directory.max_concurrency", "directory-max-concurrency")
	bindFlag(cmd, "sync.partial_failure_policy", "partial-failure-policy")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

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

type syncStack struct {
	db         *gorm.DB
	repository *users.Repository
	service    *usersync.Service
}

func buildSyncStack(appConfig config.AppConfig, logger *zap.Logger, registerer prometheus.Registerer) (*syncStack, error) {
	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	repository, err := users.NewRepository(users.RepositoryConfig{Database: db})
	if err != nil {
		return nil, err
	}

	client, err := directory.NewClient(directory.ClientConfig{
		BaseURL: appConfig.DirectoryBaseURL,
		APIKey:  appConfig.DirectoryAPIKey,
		Timeout: appConfig.DirectoryTimeout,
	})
	if err != nil {
		return nil, err
	}

	importer, err := usersync.NewImporter(usersync.ImporterConfig{
		Repository:          repository,
		Hasher:              users.NewBcryptHasher(bcrypt.DefaultCost),
		PlaceholderPassword: appConfig.PlaceholderPassword,
		Logger:              logger,
	})
	if err != nil {
		return nil, err
	}

	var syncMetrics *metrics.Sync
	if registerer != nil {
		syncMetrics = metrics.NewSync(registerer)
	}

	service, err := usersync.NewService(usersync.ServiceConfig{
		Directory:      client,
		Fallback:       directory.NewFallbackDataset(),
		Importer:       importer,
		Policy:         usersync.PartialFailurePolicy(appConfig.PartialFailurePolicy),
		MaxConcurrency: appConfig.DirectoryConcurrency,
		Metrics:        syncMetrics,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	return &syncStack{db: db, repository: repository, service: service}, nil
}

func (s *syncStack) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func newTokenIssuer(appConfig config.AppConfig) (*auth.TokenIssuer, error) {
	if err := appConfig.RequireAuth(); err != nil {
		return nil, err
	}
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	if err := appConfig.RequireAuth(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	stack, err := buildSyncStack(appConfig, logger, registry)
	if err != nil {
		return err
	}
	defer stack.Close() //nolint:errcheck

	tokenManager, err := newTokenIssuer(appConfig)
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenValidator:  tokenManager,
		SyncService:     stack.service,
		UserLister:      stack.repository,
		MetricsGatherer: registry,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
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

func runSync(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewCommandLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	stack, err := buildSyncStack(appConfig, logger, nil)
	if err != nil {
		return err
	}
	defer stack.Close() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outcome, err := stack.service.Run(signalCtx, usersync.RunOptions{})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(outcome)
}

func runIssueToken(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	issuer, err := newTokenIssuer(appConfig)
	if err != nil {
		return err
	}

	token, expiresIn, err := issuer.IssueToken(ctx, tokenSubject)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "token expires in %ds\n", expiresIn)
	fmt.Fprintln(os.Stdout, token)
	return nil
}
