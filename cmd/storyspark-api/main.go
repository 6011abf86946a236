package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/config"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/database"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/generation"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/relay"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/server"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/sharecache"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/stories"
	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "storyspark-api",
		Short: "StorySpark story generation backend",
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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Account token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Account token signing secret (overrides env)")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("redis.url"), "Redis URL for share links; empty keeps them in memory")
	cmd.PersistentFlags().Int("share-ttl-hours", defaults.GetInt("share.ttl_hours"), "Share link lifetime in hours")
	cmd.PersistentFlags().String("genai-api-key", "", "Gemini API key (overrides env)")
	cmd.PersistentFlags().String("genai-model", defaults.GetString("genai.model"), "Gemini model name")
	cmd.PersistentFlags().Int("genai-timeout-seconds", defaults.GetInt("genai.timeout_seconds"), "Upper bound for one generation call")
	cmd.PersistentFlags().String("cors-allowed-origins", defaults.GetString("cors.allowed_origins"), "Comma separated list of allowed origins")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "share.ttl_hours", "share-ttl-hours")
	bindFlag(cmd, "genai.api_key", "genai-api-key")
	bindFlag(cmd, "genai.model", "genai-model")
	bindFlag(cmd, "genai.timeout_seconds", "genai-timeout-seconds")
	bindFlag(cmd, "cors.allowed_origins", "cors-allowed-origins")
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
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Warn("failed to close database", zap.Error(err))
		}
	}()

	shareCache, err := openShareCache(ctx, appConfig.RedisURL, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shareCache.Close(); err != nil {
			logger.Warn("failed to close share cache", zap.Error(err))
		}
	}()

	generator, err := generation.NewGeminiGenerator(ctx, generation.GeminiConfig{
		APIKey:  appConfig.GenAIAPIKey,
		Model:   appConfig.GenAIModel,
		Timeout: appConfig.GenAITimeout,
	})
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "storyspark-auth",
		Audience:      "storyspark-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Hasher:   auth.NewPasswordHasher(bcrypt.DefaultCost),
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	storyService, err := stories.NewService(stories.ServiceConfig{
		Database:    db,
		Generator:   generator,
		ShareCache:  shareCache,
		ShareTTL:    appConfig.ShareTTL,
		Clock:       time.Now,
		IDProvider:  stories.NewUUIDProvider(),
		ShareTokens: stories.NewShareTokenProvider(),
		Observer:    collector,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:   tokenManager,
		Users:          userService,
		Stories:        storyService,
		Relay:          relay.NewHub(relay.HubConfig{Observer: collector}),
		Metrics:        collector,
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
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
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("model", generator.Model()))
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

func openShareCache(ctx context.Context, redisURL string, logger *zap.Logger) (sharecache.Cache, error) {
	if redisURL == "" {
		logger.Warn("redis.url not set; share links are kept in process memory")
		return sharecache.NewMemoryCache(time.Now), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cache, err := sharecache.OpenRedis(connectCtx, redisURL)
	if err != nil {
		return nil, err
	}
	logger.Info("share cache connected", zap.String("backend", "redis"))
	return cache, nil
}
