package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"

	"github.com/optfi/vault/pkg/api"
	"github.com/optfi/vault/pkg/fixed"
	"github.com/optfi/vault/pkg/metrics"
	"github.com/optfi/vault/pkg/ov"
	"github.com/optfi/vault/pkg/websocket"
)

const (
	defaultDataDir = ".vaultd"
	defaultPort    = 8080
	defaultWSPort  = 8081
)

type Config struct {
	// Paths
	DataDir  string
	LogLevel string

	// Network
	HTTPPort    int
	WSPort      int
	MetricsPort int

	// Domain
	Admin         string
	PoolAddress   string
	QuoteDecimals uint
	SnapshotEvery time.Duration
	SweepEvery    time.Duration

	// Features
	EnableMetrics bool
	EnableDebug   bool
}

type VaultNode struct {
	config *Config
	db     database.Database
	logger log.Logger

	cfg     *ov.Config
	vault   *ov.Vault
	pool    *ov.Pool
	surface *ov.Surface
	pricer  *ov.CacheOptionPricer
	oracle  *ov.MedianSpotOracle
	store   *ov.Store
	metrics *metrics.Metrics
	ws      *websocket.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewVaultNode(config *Config) (*VaultNode, error) {
	if config.EnableDebug {
		config.LogLevel = "debug"
	}
	level, _ := log.ToLevel(config.LogLevel)
	logger := log.NewTestLogger(level)
	logger.Info("Initializing vault node")

	dataPath := filepath.Join(os.Getenv("HOME"), config.DataDir)
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbManager := manager.NewManager(dataPath, nil)

	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "vaultd"

	db, err := dbManager.New(dbConfig)
	if err != nil {
		logger.Warn("Failed to open BadgerDB", "error", err)
		memConfig := manager.DefaultMemoryConfig()
		db, err = dbManager.New(memConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		logger.Info("Using in-memory database")
	} else {
		logger.Info("BadgerDB initialized", "path", filepath.Join(dataPath, "badgerdb"))
	}

	cfg := ov.DefaultConfig(config.Admin)
	cfg.QuoteDecimals = uint8(config.QuoteDecimals)

	surface := ov.NewSurface()
	bs := ov.NewBlackScholes(ov.DefaultCdfLookup(), ov.DefaultLnLookup())
	pricer := ov.NewCacheOptionPricer(ov.NewOptionPricer(bs, surface, cfg))

	minPrice := fixed.FromInt(1)
	maxPrice := fixed.FromInt(10_000_000)
	oracle := ov.NewMedianSpotOracle(time.Minute, minPrice, maxPrice)

	m, err := metrics.New("optfi_vault", logger)
	if err != nil {
		return nil, err
	}

	ws := websocket.NewServer(logger, websocket.DefaultConfig())

	vault := ov.NewVault(cfg, pricer, surface, oracle, ov.NopQuoteAsset{}, ws, logger)

	reservedRate, err := fixed.FromString("0.1")
	if err != nil {
		return nil, err
	}
	pool, err := ov.NewPool(vault, cfg, config.PoolAddress, reservedRate, logger)
	if err != nil {
		return nil, err
	}

	store := ov.NewStore(db, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &VaultNode{
		config:  config,
		db:      db,
		logger:  logger,
		cfg:     cfg,
		vault:   vault,
		pool:    pool,
		surface: surface,
		pricer:  pricer,
		oracle:  oracle,
		store:   store,
		metrics: m,
		ws:      ws,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

func (n *VaultNode) Start() error {
	n.logger.Info("Starting vault node",
		"dataDir", filepath.Join(os.Getenv("HOME"), n.config.DataDir),
		"httpPort", n.config.HTTPPort,
		"wsPort", n.config.WSPort)

	if err := n.loadState(); err != nil {
		n.logger.Warn("Failed to load state", "error", err)
	}

	if n.config.EnableMetrics {
		if err := n.metrics.StartServer(fmt.Sprintf("%d", n.config.MetricsPort)); err != nil {
			return err
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.metrics.CollectSystemMetrics(n.ctx)
		}()
	}

	n.wg.Add(1)
	go n.runSnapshots()

	n.wg.Add(1)
	go n.runRiskSweep()

	n.wg.Add(1)
	go n.runJSONRPCServer()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.ws.Start(n.config.WSPort); err != nil {
			n.logger.Error("WebSocket server error", "error", err)
		}
	}()

	n.logger.Info("Vault node started successfully")
	return nil
}

func (n *VaultNode) loadState() error {
	if err := n.store.LoadVault(n.vault); err != nil {
		return err
	}
	if err := n.store.LoadSurface(n.surface); err != nil {
		return err
	}
	return n.store.LoadSettledPrices(n.oracle)
}

// runSnapshots persists accounts and the surface on a fixed cadence.
func (n *VaultNode) runSnapshots() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.SnapshotEvery)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			n.snapshot()
			return
		case <-ticker.C:
			n.snapshot()
		}
	}
}

func (n *VaultNode) snapshot() {
	start := time.Now()
	if err := n.store.SaveVault(n.vault); err != nil {
		n.logger.Error("Failed to snapshot accounts", "error", err)
		return
	}
	if err := n.store.SaveSurface(n.surface); err != nil {
		n.logger.Error("Failed to snapshot surface", "error", err)
		return
	}
	n.logger.Debug("Snapshot written", "elapsed", time.Since(start))
}

// runRiskSweep marks every account to market, logs liquidation
// candidates and clears insolvent accounts into insurance.
func (n *VaultNode) runRiskSweep() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.SweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.sweep()
		}
	}
}

func (n *VaultNode) sweep() {
	accounts := n.vault.Accounts()
	n.metrics.Accounts.Set(float64(len(accounts)))
	n.metrics.OpenPositions.Set(float64(n.vault.OpenPositions()))

	for _, addr := range accounts {
		if addr == n.cfg.InsuranceAccount || addr == n.cfg.StakeholderAccount {
			continue
		}
		info, err := n.vault.GetAccountInfo(addr)
		if err != nil {
			continue
		}
		if info.Equity.Sign() < 0 || info.HealthFactor.Cmp(n.cfg.ClearRate) <= 0 {
			if err := n.vault.Clear(n.cfg.InsuranceAccount, addr); err != nil {
				n.logger.Warn("Clear failed", "account", addr, "error", err)
			} else {
				n.metrics.Clears.Inc()
			}
			continue
		}
		if info.HealthFactor.Cmp(n.cfg.LiquidateRate) < 0 {
			n.logger.Warn("Account below liquidation threshold",
				"account", addr,
				"healthFactor", info.HealthFactor.String())
		}
	}
}

func (n *VaultNode) runJSONRPCServer() {
	defer n.wg.Done()

	server := api.NewJSONRPCServer(n.vault, n.pool, n.surface, n.pricer, n.oracle, n.oracle, n.cfg, n.metrics, n.logger)

	mux := http.NewServeMux()
	mux.Handle("/rpc", server)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "healthy",
			"accounts": len(n.vault.Accounts()),
		})
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", n.config.HTTPPort),
		Handler: mux,
	}

	go func() {
		<-n.ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	n.logger.Info("JSON-RPC server started", "port", n.config.HTTPPort, "endpoint", "/rpc")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		n.logger.Error("JSON-RPC server error", "error", err)
	}
}

func (n *VaultNode) Shutdown() {
	n.logger.Info("Shutting down vault node...")

	n.cancel()
	n.ws.Stop()
	n.wg.Wait()

	if n.db != nil {
		n.db.Close()
	}

	n.logger.Info("Vault node shutdown complete")
}

func main() {
	config := &Config{
		DataDir: defaultDataDir,
	}

	flag.StringVar(&config.DataDir, "data-dir", defaultDataDir, "Data directory (relative to $HOME)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")

	flag.IntVar(&config.HTTPPort, "http-port", defaultPort, "HTTP API port")
	flag.IntVar(&config.WSPort, "ws-port", defaultWSPort, "WebSocket port")
	flag.IntVar(&config.MetricsPort, "metrics-port", 9090, "Prometheus metrics port")

	flag.StringVar(&config.Admin, "admin", "admin", "Admin account address")
	flag.StringVar(&config.PoolAddress, "pool", "pool-main", "Primary pool account address")
	flag.UintVar(&config.QuoteDecimals, "quote-decimals", 6, "Quote asset native decimals")
	snapshotEvery := flag.Duration("snapshot-every", 30*time.Second, "State snapshot interval")
	sweepEvery := flag.Duration("sweep-every", 5*time.Second, "Risk sweep interval")

	flag.BoolVar(&config.EnableMetrics, "enable-metrics", true, "Enable Prometheus metrics")
	flag.BoolVar(&config.EnableDebug, "debug", false, "Enable debug logging")

	flag.Parse()

	config.SnapshotEvery = *snapshotEvery
	config.SweepEvery = *sweepEvery
	config.LogLevel = *logLevel

	rootLogger := log.Root()
	rootLogger.Info("System information",
		"platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		"cpus", runtime.NumCPU(),
		"dataDir", filepath.Join(os.Getenv("HOME"), config.DataDir))

	node, err := NewVaultNode(config)
	if err != nil {
		rootLogger.Crit("Failed to create node", "error", err)
		os.Exit(1)
	}

	if err := node.Start(); err != nil {
		rootLogger.Crit("Failed to start node", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	rootLogger.Info("Received shutdown signal", "signal", sig)

	node.Shutdown()
}
