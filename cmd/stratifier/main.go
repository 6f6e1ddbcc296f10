package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stratacore/stratifier/internal/auth"
	"github.com/stratacore/stratifier/internal/config"
	"github.com/stratacore/stratifier/internal/database"
	"github.com/stratacore/stratifier/internal/federation"
	"github.com/stratacore/stratifier/internal/monitoring"
	"github.com/stratacore/stratifier/internal/registry"
	"github.com/stratacore/stratifier/internal/shares"
	"github.com/stratacore/stratifier/internal/stratum"
	"github.com/stratacore/stratifier/internal/vardiff"
	"github.com/stratacore/stratifier/internal/watchdog"
	"github.com/stratacore/stratifier/internal/workbase"
)

func main() {
	log.Println("starting stratifier")

	policy := config.DefaultPolicy()
	if path := config.GetEnv("STRATIFIER_POLICY_FILE", ""); path != "" {
		loaded, err := config.LoadPolicyFile(path)
		if err != nil {
			log.Fatalf("failed to load policy file %s: %v", path, err)
		}
		policy = loaded
	}
	policy = policy.ApplyEnvOverrides()
	if policy.StartDiff < 0 || policy.MinDiff < 0 {
		log.Fatalf("invalid policy: startdiff (%v) and mindiff (%v) must not be negative", policy.StartDiff, policy.MinDiff)
	}

	db, err := initDatabase()
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	clients := registry.New(registry.DefaultConfig())

	addressPolicy := dispatcherAddressPolicy()
	pool, err := resolvePoolPayout(addressPolicy)
	if err != nil {
		log.Fatalf("invalid STRATIFIER_POOL_ADDRESS: %v", err)
	}
	donation := workbase.DonationConfig{Percent: policy.DonationPct}
	workbases := workbase.NewManager(pool, donation, policy.AllowLowDiff)

	pipeline := shares.NewPipeline(workbases, clients)
	shareInserter := database.NewShareBatchInserter(db.Pool, database.DefaultBatchInserterConfig())
	shareInserter.Start()
	defer shareInserter.Stop()
	pipeline.SetPersister(shareInserter)

	hashmeterDecay := config.GetEnvDuration("STRATIFIER_HASHMETER_DECAY", 10*time.Minute)
	hashmeter := monitoring.NewHashmeter(hashmeterDecay)

	collector, err := monitoring.NewCollector()
	if err != nil {
		log.Fatalf("failed to create metrics collector: %v", err)
	}

	resolver := &dbWorkerResolver{db: db.Pool.DB(), minDiff: policy.MinDiff}

	dispatcherCfg := stratum.DefaultDispatcherConfig()
	dispatcherCfg.ListenAddress = ":" + config.GetEnv("STRATIFIER_PORT", "3333")
	dispatcherCfg.Address = addressPolicy
	dispatcherCfg.Vardiff = vardiff.Config{
		PoolMinDiff:   policy.PoolMinDiff,
		PoolMaxDiff:   policy.MaxDiff,
		DecayInterval: hashmeterDecay,
	}

	dispatcher := stratum.NewDispatcher(dispatcherCfg, clients, workbases, pipeline, hashmeter, collector, resolver)
	if err := dispatcher.Start(); err != nil {
		log.Fatalf("failed to start stratum dispatcher: %v", err)
	}
	defer dispatcher.Stop()
	log.Printf("stratum listening on %s", dispatcherCfg.ListenAddress)

	wd := watchdog.New(watchdogConfig(policy), clients, workbases, pipeline, hashmeter, collector, nil)
	wd.Start()
	defer wd.Stop()

	roster, sharedStore, trustManager := initFederation()
	if roster != nil {
		if err := roster.Start(); err != nil {
			log.Printf("failed to start federation roster: %v", err)
		} else {
			defer roster.Stop()
		}
	}
	if sharedStore != nil {
		defer sharedStore.Close()
	}
	_ = trustManager // issued/verified per inbound peer connection by the federation transport, not here

	metricsAddr := ":" + config.GetEnv("STRATIFIER_METRICS_PORT", "9090")
	metricsServer := &http.Server{Addr: metricsAddr, Handler: collector.Handler()}
	go func() {
		log.Printf("metrics listening on %s", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down stratifier")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
	log.Println("stratifier exited gracefully")
}

func watchdogConfig(p config.Policy) watchdog.Config {
	cfg := watchdog.DefaultConfig()
	if p.DropIdle >= 0 {
		cfg.DropIdle = time.Duration(p.DropIdle) * time.Second
	}
	return cfg
}

func initDatabase() (*database.Database, error) {
	cfg := database.DefaultConfig()
	cfg.Host = config.GetEnv("DATABASE_HOST", cfg.Host)
	cfg.Port = config.GetEnvInt("DATABASE_PORT", cfg.Port)
	cfg.Database = config.GetEnv("DATABASE_NAME", cfg.Database)
	cfg.Username = config.GetEnv("DATABASE_USER", cfg.Username)
	cfg.Password = config.GetEnv("DATABASE_PASSWORD", cfg.Password)
	cfg.SSLMode = config.GetEnv("DATABASE_SSLMODE", cfg.SSLMode)
	return database.New(cfg)
}

// dispatcherAddressPolicy resolves the chain parameters mining.authorize
// validates usernames against, applying STRATIFIER_NETWORK on top of the
// dispatcher's mainnet defaults.
func dispatcherAddressPolicy() stratum.AddressPolicy {
	policy := stratum.DefaultDispatcherConfig().Address
	switch config.GetEnv("STRATIFIER_NETWORK", "mainnet") {
	case "testnet":
		policy = stratum.AddressPolicy{P2PKHVersion: 0x6f, P2SHVersion: 0xc4, Bech32HRP: "tb"}
	case "regtest":
		policy = stratum.AddressPolicy{P2PKHVersion: 0x6f, P2SHVersion: 0xc4, Bech32HRP: "bcrt"}
	}
	return policy
}

// resolvePoolPayout turns STRATIFIER_POOL_ADDRESS into the fixed coinbase
// output every generated workbase pays the pool operator to. The manager
// locks this in at construction time, so an operator changing payout
// addresses requires a restart rather than a config reload.
func resolvePoolPayout(policy stratum.AddressPolicy) (workbase.PayoutOutput, error) {
	addr := config.MustGetEnv("STRATIFIER_POOL_ADDRESS")
	validated, err := auth.ValidateAddress(addr, policy.P2PKHVersion, policy.P2SHVersion, policy.Bech32HRP)
	if err != nil {
		return workbase.PayoutOutput{}, fmt.Errorf("resolve pool payout: %w", err)
	}
	return workbase.PayoutOutput{Script: validated.ScriptPubKey()}, nil
}

// initFederation wires the upstream-federation trio only when a peer list is
// configured; a standalone pool runs with all three left nil.
func initFederation() (*federation.Roster, *federation.SharedStore, *federation.TrustManager) {
	peerList := config.GetEnvSlice("STRATIFIER_FEDERATION_PEERS", nil)
	if len(peerList) == 0 {
		return nil, nil, nil
	}

	peers := make([]federation.Peer, 0, len(peerList))
	for _, addr := range peerList {
		peers = append(peers, federation.Peer{ID: addr, Endpoint: addr, Trust: federation.TrustDownstream})
	}
	source := federation.NewStaticPeerSource(peers)
	interval := config.GetEnvDuration("STRATIFIER_FEDERATION_POLL_INTERVAL", 30*time.Second)
	roster := federation.NewRoster(source, interval)

	sharedCfg := federation.DefaultSharedStoreConfig()
	sharedCfg.RedisAddr = config.GetEnv("STRATIFIER_FEDERATION_REDIS_ADDR", sharedCfg.RedisAddr)
	sharedStore, err := federation.NewSharedStore(sharedCfg)
	if err != nil {
		log.Printf("federation shared store unavailable, running without cross-process dedup: %v", err)
		sharedStore = nil
	}

	secret := []byte(config.MustGetEnv("STRATIFIER_FEDERATION_SECRET"))
	trustManager := federation.NewTrustManager(secret, 24*time.Hour)

	return roster, sharedStore, trustManager
}

// dbWorkerResolver implements stratum.WorkerResolver against the persisted
// user/worker schema: it looks up the payout address's owning user, then
// gets-or-creates the named worker under it.
type dbWorkerResolver struct {
	db      *sql.DB
	minDiff float64
}

func (r *dbWorkerResolver) Resolve(ctx context.Context, address, workerName string) (int64, int64, float64, error) {
	user, err := database.GetUserByAddress(r.db, address)
	if err != nil {
		user = &database.User{Address: address, Username: address, IsActive: true}
		if cerr := database.CreateUser(r.db, user); cerr != nil {
			return 0, 0, 0, fmt.Errorf("resolve worker: %w", cerr)
		}
	}

	workerRec, err := database.GetOrCreateWorker(r.db, user.ID, workerName, r.minDiff)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("resolve worker: %w", err)
	}

	return user.ID, workerRec.ID, workerRec.MinDiff, nil
}
