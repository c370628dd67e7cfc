package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cryptofolio/backend/internal/auth"
	"github.com/cryptofolio/backend/internal/config"
	"github.com/cryptofolio/backend/internal/database"
	"github.com/cryptofolio/backend/internal/logging"
	"github.com/cryptofolio/backend/internal/market"
	"github.com/cryptofolio/backend/internal/portfolio"
	"github.com/cryptofolio/backend/internal/server"
	"github.com/cryptofolio/backend/internal/users"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cryptofolio-api",
		Short: "Cryptofolio portfolio sync backend service",
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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Access token signing secret (overrides env)")
	cmd.PersistentFlags().String("sync-tie-break", defaults.GetString("sync.tie_break"), "Conflict tie break policy (remote or local)")
	cmd.PersistentFlags().String("redis-addr", defaults.GetString("redis.addr"), "Redis address for the quote cache (empty disables caching)")
	cmd.PersistentFlags().String("coingecko-base-url", defaults.GetString("coingecko.base_url"), "CoinGecko API base URL")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "sync.tie_break", "sync-tie-break")
	bindFlag(cmd, "redis.addr", "redis-addr")
	bindFlag(cmd, "coingecko.base_url", "coingecko-base-url")
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

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        "cryptofolio-auth",
		Audience:      "cryptofolio-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database:        db,
		Logger:          logger,
		RefreshTokenTTL: appConfig.RefreshTokenTTL,
	})
	if err != nil {
		return err
	}

	tieBreak := portfolio.TieBreakRemote
	if appConfig.SyncTieBreak == "local" {
		tieBreak = portfolio.TieBreakLocal
	}
	portfolioService, err := portfolio.NewService(portfolio.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
		Sync: portfolio.SyncConfig{
			SchemaVersion: appConfig.SyncSchemaVersion,
			TieBreak:      tieBreak,
		},
	})
	if err != nil {
		return err
	}

	var quoteCache market.QuoteCache
	if appConfig.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     appConfig.RedisAddr,
			Password: appConfig.RedisPassword,
		})
		defer redisClient.Close()
		quoteCache = market.NewRedisQuoteCache(redisClient)
		logger.Info("quote cache enabled", zap.String("redis_addr", appConfig.RedisAddr))
	}

	marketService, err := market.NewService(market.ServiceConfig{
		Source: market.NewCoinGeckoClient(market.CoinGeckoConfig{
			BaseURL: appConfig.CoinGeckoBaseURL,
			APIKey:  appConfig.CoinGeckoAPIKey,
		}),
		Cache:    quoteCache,
		Logger:   logger,
		QuoteTTL: appConfig.PriceCacheTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		UsersService:     usersService,
		PortfolioService: portfolioService,
		MarketService:    marketService,
		Events:           server.NewEventDispatcher(),
		TokenManager:     tokenManager,
		Logger:           logger,
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
