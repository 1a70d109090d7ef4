// Package server hosts the ledger engine behind a single writer. Each
// mutating call runs one engine operation, commits the state trie and
// persists the new root so a restart resumes from the last committed call.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"vaultledger/config"
	"vaultledger/core/state"
	"vaultledger/core/types"
	"vaultledger/crypto"
	"vaultledger/native/bank"
	nativecommon "vaultledger/native/common"
	"vaultledger/native/holdings"
	"vaultledger/native/ledger"
	"vaultledger/observability"
	"vaultledger/services/ledgerd/journal"
	"vaultledger/storage"
	"vaultledger/storage/trie"
)

// Options carries the optional collaborators of a Service.
type Options struct {
	Logger *slog.Logger
	// Journal receives committed events and serves them back. Nil keeps
	// events in memory only.
	Journal *journal.Journal
	Metrics *observability.LedgerMetricsRegistry
	// Strategies resolve liquidation plans. None are built in.
	Strategies ledger.StrategySet
}

// Service serialises access to the ledger engine.
type Service struct {
	mu       sync.Mutex
	db       storage.Database
	state    *state.Manager
	sequence uint64

	bank    *bank.Ledger
	coord   *ledger.Coordinator
	pool    *holdings.Pool
	oracle  *FixedOracle
	pauses  *nativecommon.PauseSet
	journal *journal.Journal
	metrics *observability.LedgerMetricsRegistry
	logger  *slog.Logger
}

// New opens the ledger state persisted in db, seeding it from cfg when the
// database is empty.
func New(db storage.Database, cfg *config.Config, opts Options) (*Service, error) {
	if db == nil || cfg == nil {
		return nil, fmt.Errorf("server: database and config required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		db:      db,
		journal: opts.Journal,
		metrics: opts.Metrics,
		logger:  logger.With("component", "ledger"),
		pauses:  nativecommon.NewPauseSet(cfg.PausedModules...),
	}

	root, sequence := s.loadHead()
	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("server: open state root %x: %w", root, err)
	}
	s.state = state.NewManager(tr)
	s.sequence = sequence

	coordCfg, err := cfg.Coordinator.Params()
	if err != nil {
		return nil, err
	}
	poolCfg, treasury, err := cfg.Pool.Params()
	if err != nil {
		return nil, err
	}
	rates, err := fixedRates(cfg)
	if err != nil {
		return nil, err
	}
	s.oracle = NewFixedOracle(rates)
	oracles := ledger.OracleSet{config.FixedOracleName: s.oracle}

	s.bank = bank.NewLedger(s.state, coordCfg.StableAsset)
	registries := make(map[string]*ledger.Registry, len(cfg.Assets))
	for _, asset := range registryAssets(cfg) {
		reg := ledger.NewRegistry(s.state, asset, coordCfg.Address, oracles)
		reg.SetPauses(s.pauses)
		registries[reg.Asset()] = reg
	}
	s.pool = holdings.NewPool(s.state, poolCfg, bank.Reward{Bank: s.bank, Treasury: treasury}, nil)
	s.coord = ledger.NewCoordinator(s.state, coordCfg, registries, ledger.Dependencies{
		Bank:       s.bank,
		Stable:     s.bank,
		Holdings:   s.pool,
		Swapper:    NewRateSwapper(s.oracle, s.bank, s),
		Strategies: opts.Strategies,
	})
	s.coord.SetPauses(s.pauses)
	s.pool.SetDepositor(s.coord)
	s.pool.SetPauses(s.pauses)
	s.pool.SetEmitter(s.coord.Emitter())
	if opts.Journal != nil {
		s.coord.SetEmitter(opts.Journal)
	}

	if _, seeded, err := s.state.StateVersion(); err != nil {
		return nil, err
	} else if !seeded {
		if err := s.seed(cfg); err != nil {
			return nil, fmt.Errorf("server: seed: %w", err)
		}
		if err := s.commit(); err != nil {
			return nil, err
		}
		s.logger.Info("ledger state seeded", "root", s.state.Root().Hex(), "assets", len(registries))
	} else if err := state.EnsureStateVersion(tr, false); err != nil {
		return nil, err
	} else if err := s.coord.CheckInitialized(); err != nil {
		return nil, fmt.Errorf("server: resume: %w", err)
	}
	s.refreshGauges()
	return s, nil
}

// Sequence returns the number of committed mutations.
func (s *Service) Sequence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}

// Root returns the last committed state root.
func (s *Service) Root() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Root().Hex()
}

// Decimals returns the decimals of a registered token.
func (s *Service) Decimals(asset string) (uint8, error) {
	meta, err := s.state.Token(asset)
	if err != nil {
		return 0, err
	}
	if meta == nil {
		return 0, fmt.Errorf("%w: %s", ledger.ErrUnknownAsset, asset)
	}
	return meta.Decimals, nil
}

func (s *Service) commit() error {
	root, err := s.state.Commit(s.sequence + 1)
	if err != nil {
		return fmt.Errorf("server: commit state: %w", err)
	}
	if err := s.storeHead(root.Bytes(), s.sequence+1); err != nil {
		return fmt.Errorf("server: persist root: %w", err)
	}
	s.sequence++
	return nil
}

// mutate runs fn under the writer lock and commits on success. Failed engine
// calls have already rolled back their writes.
func (s *Service) mutate(op, asset string, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	err := fn()
	if err == nil {
		if err = s.commit(); err != nil {
			s.logger.Error("commit failed", "operation", op, "error", err)
		}
	}
	s.observe(op, asset, start, err)
	if err == nil {
		s.refreshGauges()
	}
	return err
}

func (s *Service) read(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func (s *Service) observe(op, asset string, start time.Time, err error) {
	reason := ledger.Reason(err)
	s.metrics.Observe(op, asset, time.Since(start), reason, err)
	if err != nil {
		s.logger.Debug("operation rejected", "operation", op, "asset", asset, "reason", reason, "error", err)
	}
}

func (s *Service) refreshGauges() {
	if s.metrics == nil {
		return
	}
	for _, asset := range s.coord.Assets() {
		reg, err := s.coord.Registry(asset)
		if err != nil {
			continue
		}
		info, err := reg.Info()
		if err != nil {
			continue
		}
		s.metrics.SetTotals(asset, info.Debt.Elastic, info.CollateralTotal.Elastic)
	}
	if available, err := s.pool.NumAvailableHoldings(); err == nil {
		s.metrics.SetAvailableHoldings(available)
	}
}

func (s *Service) AddCollateral(_ context.Context, caller, holding [20]byte, asset string, amount *big.Int) error {
	return s.mutate("add_collateral", asset, func() error {
		return s.coord.AddCollateral(caller, holding, asset, amount)
	})
}

func (s *Service) RemoveCollateral(_ context.Context, caller, holding [20]byte, asset string, amount *big.Int) error {
	return s.mutate("remove_collateral", asset, func() error {
		return s.coord.RemoveCollateral(caller, holding, asset, amount)
	})
}

func (s *Service) ForceAddCollateral(_ context.Context, caller, holding [20]byte, asset string, amount *big.Int) error {
	return s.mutate("force_add_collateral", asset, func() error {
		return s.coord.ForceAddCollateral(caller, holding, asset, amount)
	})
}

func (s *Service) ForceRemoveCollateral(_ context.Context, caller, holding [20]byte, asset string, amount *big.Int) error {
	return s.mutate("force_remove_collateral", asset, func() error {
		return s.coord.ForceRemoveCollateral(caller, holding, asset, amount)
	})
}

func (s *Service) Deposit(_ context.Context, caller, holding [20]byte, asset string, amount *big.Int) error {
	return s.mutate("deposit", asset, func() error {
		return s.coord.Deposit(caller, holding, asset, amount)
	})
}

func (s *Service) Withdraw(_ context.Context, caller, holding [20]byte, asset string, amount *big.Int) error {
	return s.mutate("withdraw", asset, func() error {
		return s.coord.Withdraw(caller, holding, asset, amount)
	})
}

func (s *Service) Borrow(ctx context.Context, caller, holding [20]byte, asset string, amount *big.Int, acceptFee bool) error {
	return s.mutate("borrow", asset, func() error {
		return s.coord.Borrow(ctx, caller, holding, asset, amount, acceptFee)
	})
}

func (s *Service) BorrowMultiple(ctx context.Context, caller, holding [20]byte, items []ledger.BorrowItem, acceptFee bool) error {
	return s.mutate("borrow_multiple", "", func() error {
		return s.coord.BorrowMultiple(ctx, caller, holding, items, acceptFee)
	})
}

func (s *Service) Repay(_ context.Context, caller, holding [20]byte, asset string, amount *big.Int, burnFromOwner bool) error {
	return s.mutate("repay", asset, func() error {
		return s.coord.Repay(caller, holding, asset, amount, burnFromOwner)
	})
}

func (s *Service) RepayMultiple(_ context.Context, caller, holding [20]byte, items []ledger.RepayItem, burnFromOwner bool) error {
	return s.mutate("repay_multiple", "", func() error {
		return s.coord.RepayMultiple(caller, holding, items, burnFromOwner)
	})
}

func (s *Service) Exchange(ctx context.Context, caller, holding [20]byte, fromAsset, toAsset string, amount, minOut *big.Int, routeData []byte) (*big.Int, error) {
	var out *big.Int
	err := s.mutate("exchange", fromAsset, func() error {
		var err error
		out, err = s.coord.Exchange(ctx, caller, holding, fromAsset, toAsset, amount, minOut, routeData)
		return err
	})
	return out, err
}

func (s *Service) Liquidate(ctx context.Context, caller, holding [20]byte, asset string, plan ledger.LiquidationPlan) (*ledger.LiquidationResult, error) {
	var result *ledger.LiquidationResult
	err := s.mutate("liquidate", asset, func() error {
		var err error
		result, err = s.coord.Liquidate(ctx, caller, holding, asset, plan)
		return err
	})
	if err == nil {
		s.logger.Info("holding liquidated", "asset", asset, "holding", crypto.FormatHolding(holding), "repaid", result.DebtRepaid.String())
	}
	return result, err
}

func (s *Service) SelfLiquidate(ctx context.Context, caller, holding [20]byte, asset string, plan ledger.LiquidationPlan) (*ledger.LiquidationResult, error) {
	var result *ledger.LiquidationResult
	err := s.mutate("self_liquidate", asset, func() error {
		var err error
		result, err = s.coord.SelfLiquidate(ctx, caller, holding, asset, plan)
		return err
	})
	return result, err
}

func (s *Service) CreateHolding(_ context.Context, caller [20]byte) ([20]byte, error) {
	return s.holdingOp("create_holding", func() ([20]byte, error) { return s.pool.CreateHolding(caller) })
}

func (s *Service) AssignHolding(_ context.Context, caller, user [20]byte) ([20]byte, error) {
	return s.holdingOp("assign_holding", func() ([20]byte, error) { return s.pool.AssignHolding(caller, user) })
}

func (s *Service) AssignHoldingToMyself(_ context.Context, caller [20]byte) ([20]byte, error) {
	return s.holdingOp("assign_holding_self", func() ([20]byte, error) { return s.pool.AssignHoldingToMyself(caller) })
}

func (s *Service) CreateHoldingForMyself(_ context.Context, caller [20]byte) ([20]byte, error) {
	return s.holdingOp("create_holding_self", func() ([20]byte, error) { return s.pool.CreateHoldingForMyself(caller) })
}

func (s *Service) holdingOp(op string, fn func() ([20]byte, error)) ([20]byte, error) {
	var holding [20]byte
	err := s.mutate(op, "", func() error {
		var err error
		holding, err = fn()
		return err
	})
	return holding, err
}

func (s *Service) SetPoolMaximum(_ context.Context, caller [20]byte, maximum uint64) error {
	return s.mutate("set_pool_maximum", "", func() error {
		return s.pool.SetMaximum(caller, maximum)
	})
}

func (s *Service) SetAssetWhitelisted(_ context.Context, caller [20]byte, asset string, allowed bool) error {
	return s.mutate("set_whitelist", asset, func() error {
		return s.coord.SetAssetWhitelisted(caller, asset, allowed)
	})
}

// SetOracleRate replaces the fixed rate of asset. Only ledger admins may
// move rates.
func (s *Service) SetOracleRate(_ context.Context, caller [20]byte, asset string, rate *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.HasRole(ledger.RoleAdmin, caller[:]) {
		return ledger.ErrUnauthorized
	}
	if _, err := s.coord.Registry(asset); err != nil {
		return err
	}
	s.oracle.SetRate(asset, rate)
	s.logger.Info("oracle rate set", "asset", strings.ToUpper(asset), "rate", rate.String())
	return nil
}

// SetPaused pauses or resumes an engine module. Pauses are operator state and
// are not persisted.
func (s *Service) SetPaused(_ context.Context, caller [20]byte, module string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.HasRole(ledger.RoleAdmin, caller[:]) {
		return ledger.ErrUnauthorized
	}
	switch module {
	case "ledger", "holdings":
	default:
		return fmt.Errorf("%w: unknown module %q", ledger.ErrInvalidParameter, module)
	}
	s.pauses.Set(module, paused)
	s.logger.Info("module pause toggled", "module", module, "paused", paused)
	return nil
}

// RefreshRate pulls the oracle rate. A failed pull still commits the stale
// rate event and returns the cached rate with the failure.
func (s *Service) RefreshRate(ctx context.Context, asset string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	rate, refreshErr := s.coord.RefreshRate(ctx, asset)
	if refreshErr == nil || errors.Is(refreshErr, ledger.ErrOracleUnavailable) {
		if err := s.commit(); err != nil {
			s.observe("refresh_rate", asset, start, err)
			return nil, err
		}
	}
	s.observe("refresh_rate", asset, start, refreshErr)
	return rate, refreshErr
}

// UpdateRegistry applies owner-managed registry changes.
func (s *Service) UpdateRegistry(_ context.Context, caller [20]byte, asset string, update RegistryUpdate) error {
	return s.mutate("update_registry", asset, func() error {
		reg, err := s.coord.Registry(asset)
		if err != nil {
			return err
		}
		return s.coord.Atomic(func() error { return update.apply(reg, caller) })
	})
}

// RegistryUpdate lists optional registry parameter changes. Nil fields are
// left untouched.
type RegistryUpdate struct {
	CollateralizationRate *uint64
	BorrowOpeningFee      *uint64
	LiquidationMultiplier *uint64
	OracleRef             *string
	TransferOwnershipTo   *[20]byte
	AcceptOwnership       bool
}

func (u RegistryUpdate) apply(reg *ledger.Registry, caller [20]byte) error {
	if u.CollateralizationRate != nil {
		if err := reg.SetCollateralizationRate(caller, *u.CollateralizationRate); err != nil {
			return err
		}
	}
	if u.BorrowOpeningFee != nil {
		if err := reg.SetBorrowOpeningFee(caller, *u.BorrowOpeningFee); err != nil {
			return err
		}
	}
	if u.LiquidationMultiplier != nil {
		if err := reg.SetLiquidationMultiplier(caller, *u.LiquidationMultiplier); err != nil {
			return err
		}
	}
	if u.OracleRef != nil {
		if err := reg.SetOracle(caller, *u.OracleRef, []byte(reg.Asset())); err != nil {
			return err
		}
	}
	if u.TransferOwnershipTo != nil {
		if err := reg.TransferOwnership(caller, *u.TransferOwnershipTo); err != nil {
			return err
		}
	}
	if u.AcceptOwnership {
		return reg.AcceptOwnership(caller)
	}
	return nil
}

func (s *Service) RegistryInfo(_ context.Context, asset string) (ledger.RegistryInfo, bool, error) {
	var (
		info        ledger.RegistryInfo
		whitelisted bool
	)
	err := s.read(func() error {
		reg, err := s.coord.Registry(asset)
		if err != nil {
			return err
		}
		if info, err = reg.Info(); err != nil {
			return err
		}
		whitelisted, err = s.coord.IsWhitelisted(asset)
		return err
	})
	return info, whitelisted, err
}

func (s *Service) Position(_ context.Context, asset string, holding [20]byte) (ledger.Position, error) {
	var pos ledger.Position
	err := s.read(func() error {
		var err error
		pos, err = s.coord.Position(asset, holding)
		return err
	})
	return pos, err
}

func (s *Service) HoldingOf(_ context.Context, user [20]byte) (*holdings.Record, bool, error) {
	var (
		rec *holdings.Record
		ok  bool
	)
	err := s.read(func() error {
		holding, found, err := s.pool.HoldingOf(user)
		if err != nil || !found {
			return err
		}
		rec, ok, err = s.pool.Record(holding)
		return err
	})
	return rec, ok, err
}

func (s *Service) Balance(_ context.Context, asset string, addr [20]byte) (*big.Int, error) {
	var balance *big.Int
	err := s.read(func() error {
		var err error
		balance, err = s.bank.BalanceOf(asset, addr)
		return err
	})
	return balance, err
}

// Events pages through the journal.
func (s *Service) Events(ctx context.Context, q journal.Query) ([]types.EventRecord, error) {
	if s.journal == nil {
		return []types.EventRecord{}, nil
	}
	return s.journal.List(ctx, q)
}

// ExportEvents writes the matching journal entries to a parquet file.
func (s *Service) ExportEvents(ctx context.Context, path string, q journal.Query) (int, error) {
	if s.journal == nil {
		return 0, fmt.Errorf("server: no event journal configured")
	}
	return s.journal.ExportParquet(ctx, path, q)
}

func parseAddress(value string) ([20]byte, error) {
	return crypto.ParseAddress(value)
}

// Assets lists the configured registries.
func (s *Service) Assets() []string {
	return s.coord.Assets()
}
