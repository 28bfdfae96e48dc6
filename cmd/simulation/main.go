package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/runeswap/runeswap-api/internal/auth"
	"github.com/runeswap/runeswap-api/internal/database"
	"github.com/runeswap/runeswap-api/internal/ledger"
	"github.com/runeswap/runeswap-api/internal/oracle"
	"github.com/runeswap/runeswap-api/internal/pools"
	"github.com/runeswap/runeswap-api/internal/settlement"
	"github.com/runeswap/runeswap-api/pkg/middleware"
)

const (
	minSwaps      = 15
	maxSwaps      = 150
	numWorkers    = 5
	serverAddress = "http://localhost:8080"

	jwtSecret = "simulation-secret-key"

	nativeDeposit  = uint64(1_000_000_000_000)
	bitcoinDeposit = uint64(10_000_000_000)
	nativeSeed     = uint64(1_000_000_000)
	bitcoinSeed    = uint64(100_000_000)
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the swap API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"deposit":   {name: "Record Deposit"},
			"liquidity": {name: "Add Liquidity"},
			"swap":      {name: "Swap"},
			"remove":    {name: "Remove Liquidity"},
			"withdraw":  {name: "Withdraw"},
			"pools":     {name: "List Pools"},
			"balances":  {name: "Get Balances"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// call performs an authenticated JSON request and decodes the data
// envelope into out. The stats key records the duration and failures.
func (sc *simulationClient) call(statKey, method, path string, payload, out interface{}, headers map[string]string) error {
	start := time.Now()
	defer func() {
		sc.stats[statKey].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statKey].failures++
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		sc.stats[statKey].failures++
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		sc.stats[statKey].failures++
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the swap simulation
// It starts stubbed substrate collaborators plus a local API server and
// simulates concurrent swappers against a native/btc pool
func main() {
	oracleURL, nativeURL, bitcoinURL := startStubSubstrates()

	// Start the server in a goroutine
	go func() {
		if err := startServer(oracleURL, nativeURL, bitcoinURL); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Fund the account on both substrates via the internal deposit route
	for _, deposit := range []struct {
		asset  string
		amount uint64
	}{
		{"native", nativeDeposit},
		{"btc", bitcoinDeposit},
	} {
		err := simClient.call("deposit", "POST", "/api/v1/internal/deposits", map[string]interface{}{
			"owner":  auth.TestAPIKey,
			"asset":  deposit.asset,
			"amount": deposit.amount,
			"txid":   uuid.New().String(),
			"vout":   0,
			"height": 100,
		}, nil, nil)
		if err != nil {
			log.Fatal().Err(err).Str("asset", deposit.asset).Msg("Failed to record deposit")
		}
		log.Info().Str("asset", deposit.asset).Uint64("amount", deposit.amount).Msg("Deposit credited")
	}

	// Seed the native/btc pool
	var seeded struct {
		Liquidity uint64 `json:"liquidity"`
	}
	err = simClient.call("liquidity", "POST", "/api/v1/liquidity", map[string]interface{}{
		"token0":          "native",
		"token1":          "btc",
		"amount0_desired": nativeSeed,
		"amount1_desired": bitcoinSeed,
	}, &seeded, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed pool")
	}
	log.Info().Uint64("liquidity", seeded.Liquidity).Msg("Pool seeded")

	// Generate random number of swaps to run
	targetSwaps := rand.Intn(maxSwaps-minSwaps) + minSwaps
	log.Info().Int("target_swaps", targetSwaps).Msg("Starting simulation")

	stats := struct {
		TotalSwaps  int
		Succeeded   int
		Failed      int
		VolumeIn    uint64
		Directions  map[string]int
		StartTime   time.Time
		statsMu     sync.Mutex
	}{
		StartTime:  time.Now(),
		Directions: make(map[string]int),
	}
	stats.TotalSwaps = targetSwaps

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < targetSwaps/numWorkers; j++ {
				tokenIn, tokenOut := "native", "btc"
				amountIn := uint64(rand.Intn(100_000) + 1_000)
				if rand.Intn(2) == 0 {
					tokenIn, tokenOut = tokenOut, tokenIn
					amountIn = uint64(rand.Intn(10_000) + 100)
				}

				var swapped struct {
					AmountOut uint64 `json:"amount_out"`
				}
				err := simClient.call("swap", "POST", "/api/v1/swap", map[string]interface{}{
					"token_in":       tokenIn,
					"amount_in":      amountIn,
					"token_out":      tokenOut,
					"amount_out_min": 1,
				}, &swapped, nil)

				stats.statsMu.Lock()
				if err != nil {
					stats.Failed++
					stats.statsMu.Unlock()
					log.Error().Err(err).Int("worker_id", workerID).Msg("Swap failed")
					continue
				}
				stats.Succeeded++
				stats.VolumeIn += amountIn
				stats.Directions[tokenIn+"->"+tokenOut]++
				stats.statsMu.Unlock()

				log.Info().
					Int("worker_id", workerID).
					Str("token_in", tokenIn).
					Uint64("amount_in", amountIn).
					Uint64("amount_out", swapped.AmountOut).
					Msg("Swap executed")

				// Random sleep between swaps
				time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	// Burn a quarter of the seeded liquidity
	var removed struct {
		LiquidityBurned uint64 `json:"liquidity_burned"`
		Amount0         uint64 `json:"amount0"`
		Amount1         uint64 `json:"amount1"`
	}
	err = simClient.call("remove", "DELETE", "/api/v1/liquidity", map[string]interface{}{
		"token0":    "native",
		"token1":    "btc",
		"liquidity": seeded.Liquidity / 4,
	}, &removed, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to remove liquidity")
	} else {
		log.Info().
			Uint64("liquidity_burned", removed.LiquidityBurned).
			Uint64("amount0", removed.Amount0).
			Uint64("amount1", removed.Amount1).
			Msg("Liquidity removed")
	}

	// Withdraw some native funds, exercising the idempotent dispatch path
	var withdrawal struct {
		WithdrawalID string `json:"withdrawal_id"`
		Status       string `json:"status"`
		Txid         string `json:"txid"`
	}
	err = simClient.call("withdraw", "POST", "/api/v1/withdrawals", map[string]interface{}{
		"asset":       "native",
		"destination": "external-account",
		"amount":      1_000_000,
	}, &withdrawal, map[string]string{"Idempotency-Key": uuid.New().String()})
	if err != nil {
		log.Error().Err(err).Msg("Failed to withdraw")
	} else {
		log.Info().
			Str("withdrawal_id", withdrawal.WithdrawalID).
			Str("status", withdrawal.Status).
			Str("txid", withdrawal.Txid).
			Msg("Withdrawal submitted")
	}

	// Final snapshots
	var poolList []map[string]interface{}
	if err := simClient.call("pools", "GET", "/api/v1/pools", nil, &poolList, nil); err != nil {
		log.Error().Err(err).Msg("Failed to list pools")
	}
	var balances []map[string]interface{}
	if err := simClient.call("balances", "GET", "/api/v1/balances", nil, &balances, nil); err != nil {
		log.Error().Err(err).Msg("Failed to get balances")
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SWAP SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Swap Statistics
---------------
Target Swaps:   %d
Succeeded:      %d
Failed:         %d
Volume In:      %d
Duration:       %v

Direction Distribution
----------------------
`, stats.TotalSwaps, stats.Succeeded, stats.Failed, stats.VolumeIn, duration.Round(time.Millisecond))

	for direction, count := range stats.Directions {
		barLength := 1
		if stats.Succeeded > 0 {
			barLength = int(float64(count)/float64(stats.Succeeded)*20) + 1
		}
		fmt.Printf("%-14s: %s (%d)\n", direction, strings.Repeat("#", barLength), count)
	}

	fmt.Println("\nFinal Pools")
	fmt.Println("-----------")
	for _, pool := range poolList {
		fmt.Printf("%v / %v  reserves: %v / %v  liquidity: %v\n",
			pool["token0"], pool["token1"], pool["reserve0"], pool["reserve1"], pool["total_liquidity"])
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	successRate := float64(stats.Succeeded) / float64(stats.TotalSwaps) * 100
	log.Info().
		Float64("success_rate", successRate).
		Int("target_swaps", stats.TotalSwaps).
		Int("succeeded", stats.Succeeded).
		Uint64("volume_in", stats.VolumeIn).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// startStubSubstrates starts in-process stand-ins for the rune indexer,
// the native ledger and the bitcoin chain-access service, and returns
// their base URLs
func startStubSubstrates() (oracleURL, nativeURL, bitcoinURL string) {
	gin.SetMode(gin.ReleaseMode)

	var heightMu sync.Mutex
	height := uint64(800_000)

	oracleRouter := gin.New()
	oracleRouter.GET("/height", func(c *gin.Context) {
		heightMu.Lock()
		height++
		h := height
		heightMu.Unlock()
		c.JSON(http.StatusOK, gin.H{"height": h, "block_hash": uuid.New().String()})
	})
	oracleRouter.GET("/runes/:block/:tx", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})
	oracleRouter.GET("/utxos/:txid/:vout/runes", func(c *gin.Context) {
		// Every stub output is plain bitcoin
		c.Status(http.StatusNotFound)
	})

	var nativeMu sync.Mutex
	nativeTxid := uint64(0)
	nativeRouter := gin.New()
	nativeRouter.POST("/transfer", func(c *gin.Context) {
		nativeMu.Lock()
		nativeTxid++
		txid := nativeTxid
		nativeMu.Unlock()
		c.JSON(http.StatusOK, gin.H{"txid": txid})
	})

	bitcoinRouter := gin.New()
	bitcoinRouter.GET("/utxos/:address", func(c *gin.Context) {
		// Fresh fake outputs on every sync, enough to cover any transfer
		utxos := make([]gin.H, 5)
		for i := range utxos {
			utxos[i] = gin.H{
				"txid":   uuid.New().String(),
				"vout":   uint32(i),
				"value":  uint64(10_000_000_000),
				"height": uint64(800_000),
			}
		}
		c.JSON(http.StatusOK, utxos)
	})
	bitcoinRouter.GET("/fees", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"fee_per_vbyte": 5})
	})
	bitcoinRouter.POST("/transactions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"txid": uuid.New().String()})
	})
	bitcoinRouter.GET("/outpoints/:txid/:vout", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"spent": true})
	})

	return httptest.NewServer(oracleRouter).URL,
		httptest.NewServer(nativeRouter).URL,
		httptest.NewServer(bitcoinRouter).URL
}

// startServer initializes and starts the swap API server wired against
// the stub substrates
func startServer(oracleURL, nativeURL, bitcoinURL string) error {
	// Fresh database per run
	_ = os.Remove("simulation.db")

	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(jwtSecret)
	ledgerService := ledger.NewService(db)

	oracleClient := oracle.NewHTTPClient(oracleURL, 128, time.Minute)
	nativeClient := settlement.NewHTTPNativeLedger(nativeURL)
	bitcoinClient := settlement.NewHTTPBitcoinClient(bitcoinURL)

	settlementService := settlement.NewService(db, ledgerService, nativeClient, bitcoinClient, oracleClient, 2)
	poolsService := pools.NewService(db, ledgerService, settlementService)

	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)
	settlementHandlers := settlement.NewGinHandlers(settlementService)
	poolsHandlers := pools.NewGinHandlers(poolsService)

	// Setup routes
	setupRoutes(router, jwtSecret, authHandlers, poolsHandlers, ledgerHandlers, settlementHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	secret string,
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

		// Swap and liquidity routes
		authenticated := v1.Group("")
		authenticated.Use(middleware.JWTAuth(secret))
		{
			authenticated.POST("/pools", poolsHandlers.CreatePairHandler())
			authenticated.GET("/pools", poolsHandlers.ListPoolsHandler())
			authenticated.POST("/liquidity", poolsHandlers.AddLiquidityHandler())
			authenticated.DELETE("/liquidity", poolsHandlers.RemoveLiquidityHandler())
			authenticated.POST("/swap", poolsHandlers.SwapHandler())
			authenticated.GET("/balances", ledgerHandlers.GetBalancesHandler())
			authenticated.GET("/addresses", settlementHandlers.AddressesHandler())
			authenticated.POST("/withdrawals", settlementHandlers.WithdrawHandler())
		}

		// Internal routes
		internal := v1.Group("/internal")
		internal.Use(middleware.JWTAuth(secret))
		{
			internal.POST("/deposits", ledgerHandlers.RecordDepositHandler())
			internal.POST("/utxos/sync", settlementHandlers.SyncUTXOsHandler())
		}
	}
}
