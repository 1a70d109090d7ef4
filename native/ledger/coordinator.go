package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"vaultledger/core/events"
	nativecommon "vaultledger/native/common"
	"vaultledger/native/ledger/shares"
)

type coordinatorState interface {
	nativecommon.Snapshotter
	HasRole(role string, addr []byte) bool
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Dependencies bundles the collaborators the coordinator calls out to.
type Dependencies struct {
	Bank       Bank
	Stable     StableIssuer
	Holdings   HoldingDirectory
	Swapper    Swapper
	Strategies StrategySet
}

// Coordinator is the single entry point mutating the per-asset registries.
// Every multi-step operation is atomic: state writes and events of a failed
// call are rolled back.
type Coordinator struct {
	st         coordinatorState
	cfg        Config
	registries map[string]*Registry
	deps       Dependencies
	buffer     *events.Buffered
	pauses     nativecommon.PauseView
}

// NewCoordinator wires the coordinator to its registries. Each registry must
// have been bound to cfg.Address.
func NewCoordinator(st coordinatorState, cfg Config, registries map[string]*Registry, deps Dependencies) *Coordinator {
	cfg.EnsureDefaults()
	routed := make(map[string]*Registry, len(registries))
	for asset, reg := range registries {
		if reg == nil {
			continue
		}
		routed[normalizeAsset(asset)] = reg
	}
	if deps.Strategies == nil {
		deps.Strategies = StrategySet{}
	}
	c := &Coordinator{
		st:         st,
		cfg:        cfg,
		registries: routed,
		deps:       deps,
		buffer:     events.NewBuffered(nil),
	}
	for _, reg := range routed {
		reg.SetEmitter(c.buffer)
	}
	return c
}

// SetEmitter configures the downstream emitter. Events are buffered until the
// operation that raised them commits.
func (c *Coordinator) SetEmitter(emitter events.Emitter) {
	c.buffer.SetNext(emitter)
}

// Emitter exposes the buffering emitter so that collaborators sharing the
// coordinator's atomic sections can raise events through it.
func (c *Coordinator) Emitter() *events.Buffered { return c.buffer }

// SetPauses wires the pause view into the coordinator and its registries.
func (c *Coordinator) SetPauses(p nativecommon.PauseView) {
	if c == nil {
		return
	}
	c.pauses = p
	for _, reg := range c.registries {
		reg.SetPauses(p)
	}
}

// Config returns the coordinator configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// Registry resolves the registry for asset.
func (c *Coordinator) Registry(asset string) (*Registry, error) {
	reg, ok := c.registries[normalizeAsset(asset)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, normalizeAsset(asset))
	}
	return reg, nil
}

// Assets lists the supported assets in sorted order.
func (c *Coordinator) Assets() []string {
	out := make([]string, 0, len(c.registries))
	for asset := range c.registries {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}

// InitializedAssets lists the assets whose registries were persisted, in
// initialization order.
func (c *Coordinator) InitializedAssets() ([]string, error) {
	var raw [][]byte
	if err := c.st.KVGetList(assetIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw))
	for _, asset := range raw {
		out = append(out, string(asset))
	}
	return out, nil
}

// CheckInitialized fails with ErrUnknownAsset when a bound registry was never
// persisted.
func (c *Coordinator) CheckInitialized() error {
	persisted, err := c.InitializedAssets()
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(persisted))
	for _, asset := range persisted {
		known[asset] = struct{}{}
	}
	for _, asset := range c.Assets() {
		if _, ok := known[asset]; !ok {
			return fmt.Errorf("%w: %s has no persisted registry", ErrUnknownAsset, asset)
		}
	}
	return nil
}

// Atomic runs fn inside a state snapshot and event scope shared with the
// coordinator.
func (c *Coordinator) Atomic(fn func() error) error {
	return nativecommon.Atomic(c.st, c.buffer, fn)
}

func (c *Coordinator) emit(evt events.Event) {
	c.buffer.Emit(evt)
}

func (c *Coordinator) guard() error {
	return nativecommon.Guard(c.pauses, moduleName)
}

func (c *Coordinator) ownerOf(holding [20]byte) ([20]byte, bool, error) {
	if c.deps.Holdings == nil {
		return [20]byte{}, false, nil
	}
	return c.deps.Holdings.OwnerOf(holding)
}

func (c *Coordinator) authorize(caller, holding [20]byte) error {
	owner, ok, err := c.ownerOf(holding)
	if err != nil {
		return err
	}
	if ok && owner == caller {
		return nil
	}
	if c.st.HasRole(RoleOperator, caller[:]) {
		return nil
	}
	return ErrUnauthorized
}

func (c *Coordinator) requireAdmin(caller [20]byte) error {
	if !c.st.HasRole(RoleAdmin, caller[:]) {
		return ErrUnauthorized
	}
	return nil
}

// beneficiary is the account receiving value on behalf of holding: its owner
// once assigned, the holding itself before that.
func (c *Coordinator) beneficiary(holding [20]byte) ([20]byte, error) {
	owner, ok, err := c.ownerOf(holding)
	if err != nil {
		return [20]byte{}, err
	}
	if !ok {
		return holding, nil
	}
	return owner, nil
}

func (c *Coordinator) transfer(asset string, from, to [20]byte, amount *big.Int) error {
	if isZero(amount) {
		return nil
	}
	if c.deps.Bank == nil {
		return fmt.Errorf("%w: bank not configured", ErrTransferFailed)
	}
	if err := c.deps.Bank.Transfer(asset, from, to, amount); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrTransferFailed, amount, asset, err)
	}
	return nil
}

func (c *Coordinator) mint(to [20]byte, amount *big.Int) error {
	if isZero(amount) {
		return nil
	}
	if c.deps.Stable == nil {
		return fmt.Errorf("%w: stable issuer not configured", ErrTransferFailed)
	}
	if err := c.deps.Stable.Mint(to, amount); err != nil {
		return fmt.Errorf("%w: mint %s: %v", ErrTransferFailed, amount, err)
	}
	return nil
}

func (c *Coordinator) burn(from [20]byte, amount *big.Int) error {
	if isZero(amount) {
		return nil
	}
	if c.deps.Stable == nil {
		return fmt.Errorf("%w: stable issuer not configured", ErrTransferFailed)
	}
	if err := c.deps.Stable.Burn(from, amount); err != nil {
		return fmt.Errorf("%w: burn %s: %v", ErrTransferFailed, amount, err)
	}
	return nil
}

// stableScale converts an amount in the collateral asset's decimals into
// stable units.
func stableScale(decimals uint8) (*big.Int, error) {
	if decimals > StableDecimals {
		return nil, fmt.Errorf("%w: %d decimals exceed the stable asset", ErrInvalidParameter, decimals)
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(StableDecimals-decimals)), nil), nil
}

// ToShare converts amount into collateral shares of asset.
func (c *Coordinator) ToShare(asset string, amount *big.Int, roundUp bool) (*big.Int, error) {
	reg, err := c.Registry(asset)
	if err != nil {
		return nil, err
	}
	info, err := reg.Info()
	if err != nil {
		return nil, err
	}
	return shares.ToShare(info.CollateralTotal, amount, roundUp)
}

// ToAmount converts collateral shares of asset into an amount.
func (c *Coordinator) ToAmount(asset string, sh *big.Int, roundUp bool) (*big.Int, error) {
	reg, err := c.Registry(asset)
	if err != nil {
		return nil, err
	}
	info, err := reg.Info()
	if err != nil {
		return nil, err
	}
	return shares.ToAmount(info.CollateralTotal, sh, roundUp)
}

// AddCollateral credits collateral already held by holding.
func (c *Coordinator) AddCollateral(caller, holding [20]byte, asset string, amount *big.Int) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.authorize(caller, holding); err != nil {
		return err
	}
	return c.Atomic(func() error {
		_, err := c.addCollateral(holding, asset, amount, false)
		return err
	})
}

// RemoveCollateral releases collateral from holding. The holding must stay
// solvent afterwards.
func (c *Coordinator) RemoveCollateral(caller, holding [20]byte, asset string, amount *big.Int) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.authorize(caller, holding); err != nil {
		return err
	}
	return c.Atomic(func() error {
		return c.removeCollateral(holding, asset, amount)
	})
}

// ForceAddCollateral credits collateral without any ownership check.
func (c *Coordinator) ForceAddCollateral(caller, holding [20]byte, asset string, amount *big.Int) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	return c.Atomic(func() error {
		_, err := c.addCollateral(holding, asset, amount, true)
		return err
	})
}

// ForceRemoveCollateral releases collateral without a solvency check.
func (c *Coordinator) ForceRemoveCollateral(caller, holding [20]byte, asset string, amount *big.Int) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	return c.Atomic(func() error {
		reg, err := c.Registry(asset)
		if err != nil {
			return err
		}
		if isZero(amount) {
			return ErrZeroAmount
		}
		burned, err := reg.UnregisterCollateral(c.cfg.Address, holding, amount)
		if err != nil {
			return err
		}
		c.emit(events.CollateralMoved{Asset: reg.Asset(), Holding: holding, Amount: cloneBig(amount), Shares: burned, Removed: true, Forced: true})
		return nil
	})
}

func (c *Coordinator) addCollateral(holding [20]byte, asset string, amount *big.Int, forced bool) (*big.Int, error) {
	reg, err := c.Registry(asset)
	if err != nil {
		return nil, err
	}
	if isZero(amount) {
		return nil, ErrZeroAmount
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount", ErrInvalidParameter)
	}
	minted, err := reg.RegisterCollateral(c.cfg.Address, holding, amount)
	if err != nil {
		return nil, err
	}
	c.emit(events.CollateralMoved{Asset: reg.Asset(), Holding: holding, Amount: cloneBig(amount), Shares: minted, Forced: forced})
	return minted, nil
}

func (c *Coordinator) removeCollateral(holding [20]byte, asset string, amount *big.Int) error {
	reg, err := c.Registry(asset)
	if err != nil {
		return err
	}
	if isZero(amount) {
		return ErrZeroAmount
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidParameter)
	}
	burned, err := reg.UnregisterCollateral(c.cfg.Address, holding, amount)
	if err != nil {
		return err
	}
	if err := c.requireSolvent(reg, holding, ErrOverLimit); err != nil {
		return err
	}
	c.emit(events.CollateralMoved{Asset: reg.Asset(), Holding: holding, Amount: cloneBig(amount), Shares: burned, Removed: true})
	return nil
}

// Deposit moves amount of an allow-listed asset from caller into holding and
// credits it as collateral.
func (c *Coordinator) Deposit(caller, holding [20]byte, asset string, amount *big.Int) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.authorize(caller, holding); err != nil {
		return err
	}
	asset = normalizeAsset(asset)
	return c.Atomic(func() error {
		allowed, err := c.IsWhitelisted(asset)
		if err != nil {
			return err
		}
		if !allowed {
			return fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, asset)
		}
		if _, err := c.Registry(asset); err != nil {
			return err
		}
		if isZero(amount) {
			return ErrZeroAmount
		}
		if err := c.transfer(asset, caller, holding, amount); err != nil {
			return err
		}
		if _, err := c.addCollateral(holding, asset, amount, false); err != nil {
			return err
		}
		c.emit(events.HoldingDeposit{Holding: holding, From: caller, Asset: asset, Amount: cloneBig(amount)})
		return nil
	})
}

// Withdraw releases collateral and returns the tokens to the holding's owner.
func (c *Coordinator) Withdraw(caller, holding [20]byte, asset string, amount *big.Int) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.authorize(caller, holding); err != nil {
		return err
	}
	asset = normalizeAsset(asset)
	return c.Atomic(func() error {
		if err := c.removeCollateral(holding, asset, amount); err != nil {
			return err
		}
		to, err := c.beneficiary(holding)
		if err != nil {
			return err
		}
		if to == holding {
			to = caller
		}
		return c.transfer(asset, holding, to, amount)
	})
}

// SetAssetWhitelisted toggles whether asset may be deposited or received in
// an exchange.
func (c *Coordinator) SetAssetWhitelisted(caller [20]byte, asset string, allowed bool) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.requireAdmin(caller); err != nil {
		return err
	}
	asset = normalizeAsset(asset)
	if asset == "" {
		return fmt.Errorf("%w: asset symbol required", ErrInvalidParameter)
	}
	return c.Atomic(func() error {
		var err error
		if allowed {
			err = c.st.KVPut(whitelistKey(asset), true)
		} else {
			err = c.st.KVDelete(whitelistKey(asset))
		}
		if err != nil {
			return err
		}
		c.emit(events.AssetWhitelist{Asset: asset, Allowed: allowed})
		return nil
	})
}

// IsWhitelisted reports whether asset is on the allow-list.
func (c *Coordinator) IsWhitelisted(asset string) (bool, error) {
	var allowed bool
	ok, err := c.st.KVGet(whitelistKey(normalizeAsset(asset)), &allowed)
	if err != nil {
		return false, err
	}
	return ok && allowed, nil
}

// Borrow records new debt against holding's collateral and mints the stable
// asset to the holding's owner. The opening fee is added to the debt and
// minted to the fee recipient.
func (c *Coordinator) Borrow(ctx context.Context, caller, holding [20]byte, asset string, amount *big.Int, acceptFeeFromCollateral bool) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.authorize(caller, holding); err != nil {
		return err
	}
	return c.Atomic(func() error {
		return c.borrow(ctx, holding, asset, amount, acceptFeeFromCollateral)
	})
}

// BorrowMultiple applies every item or none.
func (c *Coordinator) BorrowMultiple(ctx context.Context, caller, holding [20]byte, items []BorrowItem, acceptFeeFromCollateral bool) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.authorize(caller, holding); err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: no borrow items", ErrInvalidParameter)
	}
	return c.Atomic(func() error {
		for i, item := range items {
			if err := c.borrow(ctx, holding, item.Asset, item.Amount, acceptFeeFromCollateral); err != nil {
				return fmt.Errorf("borrow item %d (%s): %w", i, normalizeAsset(item.Asset), err)
			}
		}
		return nil
	})
}

func (c *Coordinator) borrow(ctx context.Context, holding [20]byte, asset string, amount *big.Int, acceptFee bool) error {
	reg, err := c.Registry(asset)
	if err != nil {
		return err
	}
	if isZero(amount) {
		return ErrZeroAmount
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidParameter)
	}
	info, err := reg.Info()
	if err != nil {
		return err
	}
	fee, err := shares.MulDiv(amount, new(big.Int).SetUint64(info.Params.BorrowOpeningFee), ratioPrecision, false)
	if err != nil {
		return err
	}
	debt := new(big.Int).Add(amount, fee)
	scale, err := stableScale(info.Decimals)
	if err != nil {
		return err
	}
	if _, err := c.staleTolerantRate(ctx, reg); err != nil {
		return err
	}
	minted, err := reg.IncreaseDebt(c.cfg.Address, holding, debt)
	if err != nil {
		return err
	}
	if err := c.requireSolvent(reg, holding, ErrInsufficientCollateral); err != nil {
		return err
	}
	owner, err := c.beneficiary(holding)
	if err != nil {
		return err
	}
	// The owner receives the whole recorded debt so a full repay can be
	// funded from the minted stable. The fee only feeds the accrual counter.
	stable := new(big.Int).Mul(debt, scale)
	if err := c.mint(owner, stable); err != nil {
		return err
	}
	if fee.Sign() > 0 {
		if err := reg.AccrueFees(c.cfg.Address, fee); err != nil {
			return err
		}
	}
	c.emit(events.Borrowed{
		Asset:             reg.Asset(),
		Holding:           holding,
		Owner:             owner,
		Amount:            cloneBig(amount),
		Fee:               fee,
		Shares:            minted,
		Minted:            stable,
		FeeFromCollateral: acceptFee,
	})
	return nil
}

// staleTolerantRate refreshes the rate and falls back to the cached value
// when the oracle fails. A registry that never priced fails.
func (c *Coordinator) staleTolerantRate(ctx context.Context, reg *Registry) (*big.Int, error) {
	rate, err := reg.UpdateExchangeRate(ctx)
	if err != nil && !errors.Is(err, ErrOracleUnavailable) {
		return nil, err
	}
	if isZero(rate) {
		return nil, fmt.Errorf("%w: %s has no cached rate", ErrOracleUnavailable, reg.Asset())
	}
	return rate, nil
}

// Repay burns stable to settle up to amount of holding's debt. The burn is
// taken from the holding's owner when burnFromOwner is set and from the
// holding otherwise.
func (c *Coordinator) Repay(caller, holding [20]byte, asset string, amount *big.Int, burnFromOwner bool) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.authorize(caller, holding); err != nil {
		return err
	}
	return c.Atomic(func() error {
		return c.repay(holding, asset, amount, burnFromOwner)
	})
}

// RepayMultiple applies every item or none.
func (c *Coordinator) RepayMultiple(caller, holding [20]byte, items []RepayItem, burnFromOwner bool) error {
	if err := c.guard(); err != nil {
		return err
	}
	if err := c.authorize(caller, holding); err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: no repay items", ErrInvalidParameter)
	}
	return c.Atomic(func() error {
		for i, item := range items {
			if err := c.repay(holding, item.Asset, item.Amount, burnFromOwner); err != nil {
				return fmt.Errorf("repay item %d (%s): %w", i, normalizeAsset(item.Asset), err)
			}
		}
		return nil
	})
}

func (c *Coordinator) repay(holding [20]byte, asset string, amount *big.Int, burnFromOwner bool) error {
	reg, err := c.Registry(asset)
	if err != nil {
		return err
	}
	if isZero(amount) {
		return ErrZeroAmount
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidParameter)
	}
	outstanding, err := reg.BorrowedSharesOf(holding)
	if err != nil {
		return err
	}
	if outstanding.Sign() == 0 {
		return ErrNothingToRepay
	}
	info, err := reg.Info()
	if err != nil {
		return err
	}
	scale, err := stableScale(info.Decimals)
	if err != nil {
		return err
	}
	burnShares, err := shares.ToShare(info.Debt, amount, false)
	if err != nil {
		return err
	}
	if burnShares.Sign() == 0 {
		return fmt.Errorf("%w: amount below one debt share", ErrZeroAmount)
	}
	burned, repaid, err := reg.DecreaseDebt(c.cfg.Address, holding, burnShares)
	if err != nil {
		return err
	}
	from := holding
	if burnFromOwner {
		owner, ok, err := c.ownerOf(holding)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: holding has no owner", ErrInvalidParameter)
		}
		from = owner
	}
	stable := new(big.Int).Mul(repaid, scale)
	if err := c.burn(from, stable); err != nil {
		return err
	}
	c.emit(events.Repaid{
		Asset:     reg.Asset(),
		Holding:   holding,
		BurnedBy:  from,
		Amount:    repaid,
		Shares:    burned,
		Burned:    stable,
		Remaining: new(big.Int).Sub(outstanding, burned),
	})
	return nil
}

// IsSolvent evaluates holding's position in asset against the cached rate.
func (c *Coordinator) IsSolvent(asset string, holding [20]byte) (bool, error) {
	reg, err := c.Registry(asset)
	if err != nil {
		return false, err
	}
	pos, err := c.position(reg, holding)
	if err != nil {
		return false, err
	}
	return pos.Solvent, nil
}

// Position reports holding's exposure in asset.
func (c *Coordinator) Position(asset string, holding [20]byte) (Position, error) {
	reg, err := c.Registry(asset)
	if err != nil {
		return Position{}, err
	}
	return c.position(reg, holding)
}

func (c *Coordinator) position(reg *Registry, holding [20]byte) (Position, error) {
	info, err := reg.Info()
	if err != nil {
		return Position{}, err
	}
	collShares, err := reg.CollateralOf(holding)
	if err != nil {
		return Position{}, err
	}
	debtShares, err := reg.BorrowedSharesOf(holding)
	if err != nil {
		return Position{}, err
	}
	collAmount, err := shares.ToAmount(info.CollateralTotal, collShares, false)
	if err != nil {
		return Position{}, err
	}
	debtAmount, err := shares.ToAmount(info.Debt, debtShares, true)
	if err != nil {
		return Position{}, err
	}
	pos := Position{
		Asset:            reg.Asset(),
		Holding:          holding,
		CollateralShares: collShares,
		CollateralAmount: collAmount,
		BorrowedShares:   debtShares,
		BorrowedAmount:   debtAmount,
		Solvent:          true,
	}
	if debtShares.Sign() == 0 {
		return pos, nil
	}
	maxDebt, err := maxBorrowable(collAmount, info)
	if err != nil {
		return Position{}, err
	}
	pos.Solvent = debtAmount.Cmp(maxDebt) <= 0
	return pos, nil
}

func maxBorrowable(collateral *big.Int, info RegistryInfo) (*big.Int, error) {
	value, err := shares.MulDiv(collateral, info.ExchangeRate, ratePrecision, false)
	if err != nil {
		return nil, err
	}
	return shares.MulDiv(value, new(big.Int).SetUint64(info.Params.CollateralizationRate), ratioPrecision, false)
}

// requireSolvent fails when holding's debt exceeds what its collateral backs.
// A holding without collateral fails with emptyErr.
func (c *Coordinator) requireSolvent(reg *Registry, holding [20]byte, emptyErr error) error {
	pos, err := c.position(reg, holding)
	if err != nil {
		return err
	}
	if pos.Solvent {
		return nil
	}
	if pos.CollateralAmount.Sign() == 0 {
		return fmt.Errorf("%w: %s holding %x has no collateral", emptyErr, reg.Asset(), holding[:4])
	}
	return fmt.Errorf("%w: %s debt %s exceeds collateralization", ErrOverLimit, reg.Asset(), pos.BorrowedAmount)
}

// RefreshRate pulls a fresh exchange rate for asset. When the oracle fails
// the cached rate is returned with ErrOracleUnavailable and the stale marker
// event is still published.
func (c *Coordinator) RefreshRate(ctx context.Context, asset string) (*big.Int, error) {
	reg, err := c.Registry(asset)
	if err != nil {
		return nil, err
	}
	var (
		rate       *big.Int
		refreshErr error
	)
	err = c.Atomic(func() error {
		rate, refreshErr = reg.UpdateExchangeRate(ctx)
		if refreshErr != nil && !errors.Is(refreshErr, ErrOracleUnavailable) {
			return refreshErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rate, refreshErr
}
