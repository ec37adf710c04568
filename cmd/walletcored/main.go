// Package main provides walletcored - a multi-currency wallet engine and
// P2P swap node.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/tyler-smith/go-bip39"

	"github.com/klingon-exchange/walletcore/internal/backend"
	"github.com/klingon-exchange/walletcore/internal/chain"
	"github.com/klingon-exchange/walletcore/internal/listener"
	"github.com/klingon-exchange/walletcore/internal/manager"
	"github.com/klingon-exchange/walletcore/internal/node"
	"github.com/klingon-exchange/walletcore/internal/persist"
	"github.com/klingon-exchange/walletcore/internal/qrymanager"
	"github.com/klingon-exchange/walletcore/internal/rpc"
	"github.com/klingon-exchange/walletcore/internal/storage"
	"github.com/klingon-exchange/walletcore/internal/swap"
	"github.com/klingon-exchange/walletcore/internal/sync"
	"github.com/klingon-exchange/walletcore/internal/system"
	"github.com/klingon-exchange/walletcore/internal/wallet"
	"github.com/klingon-exchange/walletcore/internal/walletkit"
	"github.com/klingon-exchange/walletcore/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir        = flag.String("data-dir", "~/.klingon", "Data directory")
		configFile     = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		listenAddr     = flag.String("listen", "", "Listen address (multiaddr), overrides config")
		apiAddr        = flag.String("api", "127.0.0.1:8080", "JSON-RPC API address")
		enableMDNS     = flag.Bool("mdns", true, "Enable mDNS discovery")
		enableDHT      = flag.Bool("dht", true, "Enable DHT discovery")
		testnet        = flag.Bool("testnet", false, "Run on testnet (separate network and data)")
		bootstrapPeers = flag.String("bootstrap", "", "Bootstrap peers (comma-separated multiaddrs)")
		logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		walletPassword = flag.String("wallet-password", "", "Password protecting the account seed file")
		showVersion    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("walletcored %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Determine data directory (testnet uses subdirectory)
	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	// Load or create config file
	var cfg *node.Config
	var err error

	if *configFile != "" {
		// Use specified config file
		cfg, err = node.LoadConfig(filepath.Dir(*configFile))
	} else {
		// Use default config location in data directory
		cfg, err = node.LoadConfig(effectiveDataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Apply CLI overrides (CLI flags take precedence over config file)
	if *listenAddr != "" {
		cfg.Network.ListenAddrs = []string{*listenAddr}
	}
	cfg.Network.EnableMDNS = *enableMDNS
	cfg.Network.EnableDHT = *enableDHT
	cfg.Logging.Level = *logLevel
	cfg.Storage.DataDir = effectiveDataDir

	// Set network type
	if *testnet {
		cfg.NetworkType = node.NetworkTestnet
	} else {
		cfg.NetworkType = node.NetworkMainnet
	}

	if *bootstrapPeers != "" {
		cfg.Network.BootstrapPeers = parseBootstrapPeers(*bootstrapPeers)
	}

	// Update logging with config level
	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", node.ConfigPath(effectiveDataDir))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	dataPath := expandPath(cfg.Storage.DataDir)
	storeCfg := &storage.Config{
		DataDir: dataPath,
	}
	store, err := storage.New(storeCfg)
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", dataPath)

	// Initialize wallet service (legacy mnemonic-gated UI path, kept for swap)
	walletNetwork := chain.Mainnet
	if *testnet {
		walletNetwork = chain.Testnet
	}

	// Initialize backend registry for blockchain access
	backendRegistry := backend.NewDefaultRegistry(walletNetwork)
	log.Info("Backend registry initialized", "network", walletNetwork, "backends", backendRegistry.List())

	walletService := wallet.NewService(&wallet.ServiceConfig{
		DataDir:  dataPath,
		Network:  walletNetwork,
		Backends: backendRegistry,
	})
	log.Info("Wallet service initialized", "network", walletNetwork)

	// Initialize swap coordinator with backends and wallet service
	coordinator := swap.NewCoordinator(&swap.CoordinatorConfig{
		Store:         store,
		Network:       walletNetwork,
		Backends:      backendRegistry.All(),
		WalletService: walletService,
	})
	defer coordinator.Close()
	log.Info("Swap coordinator initialized")

	// Load pending swaps from database on startup
	if err := coordinator.LoadPendingSwaps(ctx); err != nil {
		log.Warn("Failed to load pending swaps", "error", err)
	} else {
		log.Info("Pending swaps loaded from database")
	}

	// Create node
	log.Info("Starting Klingon P2P Node...")
	n, err := node.New(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to create node", "error", err)
	}

	// Set up peer store persistence
	peerStoreAdapter := node.NewPeerStoreAdapter(store)
	n.SetPeerStoreAdapter(peerStoreAdapter)

	// Load persisted peers before starting
	if err := n.LoadPersistedPeers(); err != nil {
		log.Warn("Failed to load persisted peers", "error", err)
	}

	// Initialize direct P2P messaging (for private swap messages with persistence)
	if err := n.SetupDirectMessaging(store); err != nil {
		log.Warn("Failed to setup direct messaging", "error", err)
	} else {
		log.Info("Direct P2P messaging initialized")
	}

	// Start node
	if err := n.Start(); err != nil {
		log.Fatal("Failed to start node", "error", err)
	}

	// Bootstrap (or unlock) the Account driving the wallet engine and wire
	// up a System with one Manager per tracked currency.
	walletEngine, err := bootstrapSystem(dataPath, *walletPassword, cfg.EngineCurrencies, backendRegistry, !*testnet, log)
	if err != nil {
		log.Fatal("Failed to bootstrap wallet engine", "error", err)
	}
	walletEngine.Start()
	walletEngine.Connect(ctx)
	log.Info("Wallet engine connected", "managers", len(walletEngine.Managers()))

	// Start RPC server
	rpcServer := rpc.NewServer(n, store, walletService, coordinator)
	if err := rpcServer.Start(*apiAddr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	// Set up swap message handlers (for order broadcasting, etc.)
	rpcServer.SetupSwapHandlers()

	// Initialize order and trade sync services
	orderSync := sync.NewOrderSync(n.Host(), store, nil)
	if err := orderSync.Start(); err != nil {
		log.Warn("Failed to start order sync", "error", err)
	}

	tradeSync := sync.NewTradeSync(n.Host(), store)
	if err := tradeSync.Start(); err != nil {
		log.Warn("Failed to start trade sync", "error", err)
	}

	log.Info("Order/trade sync initialized")

	// Print node info
	printBanner(log, n, cfg, *apiAddr)

	// Set up peer connection logging and WebSocket broadcasting
	nodeLog := log.Component("p2p")
	n.OnPeerConnected(func(p peer.ID) {
		nodeLog.Info("Peer connected", "peer", shortID(p), "total", n.PeerCount())
		// Broadcast to WebSocket clients
		if hub := rpcServer.WSHub(); hub != nil {
			hub.Broadcast(rpc.EventPeerConnected, map[string]interface{}{
				"peer_id":     p.String(),
				"total_peers": n.PeerCount(),
			})
		}
	})

	n.OnPeerDisconnected(func(p peer.ID) {
		nodeLog.Info("Peer disconnected", "peer", shortID(p), "total", n.PeerCount())
		// Broadcast to WebSocket clients
		if hub := rpcServer.WSHub(); hub != nil {
			hub.Broadcast(rpc.EventPeerDisconnected, map[string]interface{}{
				"peer_id":     p.String(),
				"total_peers": n.PeerCount(),
			})
		}
	})

	// Start status ticker
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info("Status", "peers", n.PeerCount(), "uptime", n.Uptime().Round(time.Second))
			}
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	// Save peer cache before shutdown
	if err := n.SavePeerCache(); err != nil {
		log.Error("Error saving peer cache", "error", err)
	}

	// Graceful shutdown
	cancel()

	walletEngine.Disconnect(walletkit.DisconnectReason{Kind: walletkit.ReasonRequested})
	walletEngine.Stop()

	// Stop sync services
	if orderSync != nil {
		orderSync.Stop()
	}
	if tradeSync != nil {
		tradeSync.Stop()
	}

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}
	if err := n.Stop(); err != nil {
		log.Error("Error during shutdown", "error", err)
	}

	log.Info("Goodbye!")
}

// bootstrapSystem unlocks (or creates) the account seed, then constructs a
// System with one Wallet Manager per entry in currencies, each driven in
// API mode by a qrymanager.Driver wrapping the already-initialized backend
// registry.
func bootstrapSystem(dataPath, password string, currencies []node.EngineCurrencyConfig, registry *backend.Registry, isMainnet bool, log *logging.Logger) (*system.System, error) {
	if password == "" {
		return nil, fmt.Errorf("walletcored: -wallet-password is required to unlock the account seed")
	}

	acct, err := unlockAccount(dataPath, password)
	if err != nil {
		return nil, err
	}
	log.Info("Account unlocked", "uids", acct.Uids())

	walletRoot := filepath.Join(dataPath, "wallets")
	sys := system.New(walletRoot, acct, log)

	for _, cur := range currencies {
		nt := walletkit.NetworkType(cur.Network)
		handler, ok := walletkit.GetHandler(nt)
		if !ok {
			log.Warn("No chain handler registered, skipping", "network", nt)
			continue
		}
		b, ok := registry.Get(cur.Symbol)
		if !ok {
			log.Warn("No backend registered, skipping", "network", nt, "symbol", cur.Symbol)
			continue
		}

		currency := walletkit.NewCurrency(strings.ToLower(cur.Symbol), cur.Symbol, cur.Symbol)
		network := walletkit.NewNetwork(cur.Uids, nt, isMainnet, currency)
		events := listener.New(walletListenerCallbacks(log.Component(cur.Symbol)), 256, log)

		m := manager.New(cur.Uids, nt, currency.Uids(), acct, network, nil, events, log)

		w, _ := m.LocateOrCreateWallet(currency.Uids())
		if addr, err := deriveFirstAddress(handler, acct, nt); err != nil {
			log.Warn("Could not derive address, wallet has none", "network", nt, "error", err)
		} else {
			w.AddAddress(addr)
		}

		addresses := func() []string {
			out := make([]string, 0, len(w.Addresses()))
			for _, a := range w.Addresses() {
				out = append(out, a.String())
			}
			return out
		}

		// Each manager's File Service is isolated under the system root, per
		// the per-manager on-disk layout (§6.3). Wiring it into the Manager
		// before the driver is attached means the reconciliation engine and
		// the qrymanager driver share the same Service for bundles and
		// blocks/transactions respectively.
		store := persist.New(sys.ManagerPath(cur.Uids), cur.Uids)
		m.SetStore(store)

		driver := qrymanager.New(b, network, m.Engine(), currency.Uids(), addresses, log)
		driver.SetStore(store)
		m.SetDriver(driver)

		sys.AddManager(m)

		log.Info("Manager configured", "uids", cur.Uids, "network", nt)
	}

	return sys, nil
}

// walletListenerCallbacks logs at Debug. Wallet/Transfer events carry a weak
// Ref: the callback must upgrade it with TakeWeak before reading the
// underlying value, and must handle the "already gone" case rather than
// assume the publisher kept it alive.
func walletListenerCallbacks(log *logging.Logger) listener.Callbacks {
	return listener.Callbacks{
		Manager: func(e walletkit.ManagerEvent) {
			log.Debug("manager event", "kind", e.Kind, "old", e.OldState, "new", e.NewState)
		},
		Wallet: func(e walletkit.WalletEvent) {
			if w, ok := e.Wallet.TakeWeak(); ok {
				defer w.Give()
				log.Debug("wallet event", "kind", e.Kind, "uids", w.Value().Uids())
				return
			}
			log.Debug("wallet event", "kind", e.Kind, "wallet", "gone")
		},
		Transfer: func(e walletkit.TransferEvent) {
			if t, ok := e.Transfer.TakeWeak(); ok {
				defer t.Give()
				log.Debug("transfer event", "kind", e.Kind, "identity", t.Value().Identity())
				return
			}
			log.Debug("transfer event", "kind", e.Kind, "transfer", "gone")
		},
	}
}

// deriveFirstAddress renders the external receive address at index 0 for
// one chain, used to seed a freshly created Wallet's address book so
// qrymanager has at least one address to scan from on the first sync pass.
func deriveFirstAddress(handler *walletkit.ChainHandler, acct *walletkit.Account, nt walletkit.NetworkType) (*walletkit.Address, error) {
	material, ok := acct.PublicMaterial(nt)
	if !ok {
		return nil, fmt.Errorf("no public material for %s", nt)
	}
	return handler.Address.DeriveAddress(material, handler.Address.DefaultScheme(), 0, false)
}

// unlockAccount loads the encrypted account seed at <dataPath>/account.seed,
// creating a freshly generated one on first run. The decrypted mnemonic
// never leaves this function's stack.
func unlockAccount(dataPath, password string) (*walletkit.Account, error) {
	seedPath := filepath.Join(dataPath, "account.seed")

	var mnemonic string
	if _, err := os.Stat(seedPath); os.IsNotExist(err) {
		m, err := wallet.GenerateMnemonic()
		if err != nil {
			return nil, fmt.Errorf("generate mnemonic: %w", err)
		}
		encrypted, err := wallet.EncryptMnemonic(m, password)
		if err != nil {
			return nil, fmt.Errorf("encrypt seed: %w", err)
		}
		if err := wallet.SaveEncryptedSeed(encrypted, seedPath); err != nil {
			return nil, fmt.Errorf("save seed: %w", err)
		}
		mnemonic = m
	} else {
		encrypted, err := wallet.LoadEncryptedSeed(seedPath)
		if err != nil {
			return nil, fmt.Errorf("load seed: %w", err)
		}
		mnemonic, err = wallet.DecryptMnemonic(encrypted, password)
		if err != nil {
			return nil, fmt.Errorf("decrypt seed: %w", err)
		}
	}
	defer wallet.SecureClear([]byte(mnemonic))

	seed := bip39.NewSeed(mnemonic, "")
	return walletkit.NewAccountFromSeed(seed, time.Now())
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, n *node.Node, cfg *node.Config, apiAddr string) {
	networkLabel := "mainnet"
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  walletcored (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Peer ID: %s", n.ID().String())
	log.Info("")
	log.Info("  Listening on:")
	for _, addr := range n.Addrs() {
		log.Infof("    %s/p2p/%s", addr.String(), n.ID().String())
	}
	log.Info("")
	log.Infof("  API: http://%s", apiAddr)
	log.Infof("  WS:  ws://%s/ws", apiAddr)
	log.Info("")
	log.Infof("  Network: %s | mDNS: %v | DHT: %v", networkLabel, cfg.Network.EnableMDNS, cfg.Network.EnableDHT)
	log.Infof("  Data dir: %s", expandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}

func parseBootstrapPeers(s string) []string {
	if s == "" {
		return nil
	}
	var peers []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

func shortID(p peer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
