package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/runeswap/runeswap-api/internal/auth"
	"github.com/runeswap/runeswap-api/internal/config"
	"github.com/runeswap/runeswap-api/internal/database"
	"github.com/runeswap/runeswap-api/internal/ledger"
	"github.com/runeswap/runeswap-api/internal/oracle"
	"github.com/runeswap/runeswap-api/internal/pools"
	"github.com/runeswap/runeswap-api/internal/settlement"
	"github.com/runeswap/runeswap-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the swap API server with graceful shutdown
// support. It sets up all required services, database connections, and
// API routes.
func main() {
	cfg := config.Load()

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	oracleClient := oracle.NewHTTPClient(cfg.OracleURL, cfg.RuneCacheSize, cfg.RuneCacheTTL)
	nativeClient := settlement.NewHTTPNativeLedger(cfg.NativeLedgerURL)
	bitcoinClient := settlement.NewHTTPBitcoinClient(cfg.BitcoinRPCURL)

	settlementService := settlement.NewService(db, ledgerService, nativeClient, bitcoinClient, oracleClient, cfg.ConfirmationDepth)
	settlementHandlers := settlement.NewGinHandlers(settlementService)

	poolsService := pools.NewService(db, ledgerService, settlementService)
	poolsHandlers := pools.NewGinHandlers(poolsService)

	// Create and start the reconciliation processor
	settlementProcessor := settlement.NewProcessor(settlementService.GetDB(), ledgerService, bitcoinClient, oracleClient, cfg.ReconcileInterval)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go settlementProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.JWTSecret, authHandlers, poolsHandlers, ledgerHandlers, settlementHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Pool, liquidity, swap and withdrawal routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	poolsHandlers *pools.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	settlementHandlers *settlement.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Authenticated routes
		authenticated := v1.Group("")
		authenticated.Use(middleware.JWTAuth(jwtSecret))
		{
			authenticated.POST("/pools", poolsHandlers.CreatePairHandler())
			authenticated.GET("/pools", poolsHandlers.ListPoolsHandler())
			authenticated.POST("/liquidity", poolsHandlers.AddLiquidityHandler())
			authenticated.DELETE("/liquidity", poolsHandlers.RemoveLiquidityHandler())
			authenticated.POST("/swap", poolsHandlers.SwapHandler())

			authenticated.GET("/balances", ledgerHandlers.GetBalancesHandler())
			authenticated.GET("/addresses", settlementHandlers.AddressesHandler())
			authenticated.POST("/withdrawals", settlementHandlers.WithdrawHandler())
			authenticated.GET("/withdrawals/:id", settlementHandlers.GetWithdrawalHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/deposits", ledgerHandlers.RecordDepositHandler())
			internal.POST("/utxos/sync", settlementHandlers.SyncUTXOsHandler())
		}
	}
}
