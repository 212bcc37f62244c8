package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/agehcx/flashloan-playground/config"
	"github.com/agehcx/flashloan-playground/core/state"
	"github.com/agehcx/flashloan-playground/native/achievements"
	"github.com/agehcx/flashloan-playground/native/flashloan"
	"github.com/agehcx/flashloan-playground/native/flashpool"
	"github.com/agehcx/flashloan-playground/native/token"
	"github.com/agehcx/flashloan-playground/observability"
	"github.com/agehcx/flashloan-playground/observability/logging"
	"github.com/agehcx/flashloan-playground/rpc"
	"github.com/agehcx/flashloan-playground/storage"
)

type pauseView struct {
	pauses config.Pauses
}

func (p pauseView) IsPaused(module string) bool {
	switch module {
	case "flashpool":
		return p.pauses.Flashpool
	case "flashloan":
		return p.pauses.Flashloan
	case "achievements":
		return p.pauses.Achievements
	default:
		return false
	}
}

// demoReceiverAddress derives the account backing the daemon's built-in
// cooperative strategy.
func demoReceiverAddress() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte("flashloan/demo-receiver"))[12:])
	return addr
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	inMemory := flag.Bool("memdb", false, "DEV ONLY: run against an in-memory state database")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("FLASHLOAN_ENV"))
	logger := logging.Setup("flashloand", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	var db storage.Database
	if *inMemory {
		db = storage.NewMemDB()
	} else {
		db, err = storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
		if err != nil {
			logger.Error("failed to open state database", slog.Any("error", err))
			os.Exit(1)
		}
	}
	defer db.Close()

	st := state.NewManager(db)
	ledger := token.NewLedger(st)
	sink := observability.NewEventSink(logger)
	pauses := pauseView{pauses: cfg.Pauses}
	admin := cfg.Admin()

	pool := flashpool.NewEngine(admin)
	pool.SetStore(st)
	pool.SetTokenLedger(ledger)
	pool.SetEmitter(sink)
	pool.SetPauses(pauses)

	tracker := achievements.NewTracker(flashloan.ExecutorAddress())
	tracker.SetStore(st)
	tracker.SetEmitter(sink)
	tracker.SetPauses(pauses)

	executor := flashloan.NewEngine(pool, tracker)
	executor.SetState(st)
	executor.SetEmitter(sink)
	executor.SetPauses(pauses)
	executor.SetCallbackBudget(cfg.CallbackBudget())

	if err := bootstrap(cfg, admin, pool, ledger, st, logger); err != nil {
		logger.Error("failed to bootstrap protocol state", slog.Any("error", err))
		os.Exit(1)
	}

	receiver := flashloan.NewFundedReceiver(demoReceiverAddress(), ledger, pool.Vault())
	server := rpc.NewServer(pool, executor, tracker, ledger, st, receiver, admin, logger)
	server.SetRateLimit(cfg.RPCRateLimitPerMin, cfg.RPCRateLimitBurst)

	logger.Info("flashloan daemon ready",
		slog.String("rpc", cfg.RPCAddress),
		slog.Uint64("feeBps", uint64(cfg.FeeBasisPoints)),
		slog.Any("whitelist", cfg.Whitelist),
	)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

// bootstrap applies the configured fee, whitelist, and demo reserves to the
// state database. The configuration file is the source of truth on startup.
func bootstrap(cfg *config.Config, admin [20]byte, pool *flashpool.Engine, ledger *token.Ledger, st *state.Manager, logger *slog.Logger) error {
	if err := pool.SetFee(admin, cfg.FeeBasisPoints); err != nil {
		return err
	}
	reserve := cfg.DemoReserve()
	for _, asset := range cfg.Whitelist {
		if err := pool.SetWhitelist(admin, asset, true); err != nil {
			return err
		}
		if reserve.Sign() > 0 {
			if err := ledger.Mint(asset, demoReceiverAddress(), reserve); err != nil {
				return err
			}
			logger.Info("seeded demo receiver reserve",
				slog.String("asset", asset),
				slog.String("amount", reserve.String()),
			)
		}
	}
	return st.Commit()
}
