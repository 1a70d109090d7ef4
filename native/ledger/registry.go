package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"vaultledger/core/events"
	nativecommon "vaultledger/native/common"
	"vaultledger/native/ledger/shares"
)

const moduleName = "ledger"

type registryState interface {
	HasRole(role string, addr []byte) bool
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVAppend(key []byte, value []byte) error
}

// Registry holds the collateral and debt book of a single asset. Balances
// are only moved by the coordinator whose address the registry was bound to;
// risk parameters are managed by the registry owner.
type Registry struct {
	st          registryState
	asset       string
	coordinator [20]byte
	oracles     OracleSet
	emitter     events.Emitter
	pauses      nativecommon.PauseView
	nowFn       func() time.Time
}

// NewRegistry binds a registry handle for asset to the coordinator address.
// The handle is stateless; Initialize persists the registry itself.
func NewRegistry(st registryState, asset string, coordinator [20]byte, oracles OracleSet) *Registry {
	return &Registry{
		st:          st,
		asset:       normalizeAsset(asset),
		coordinator: coordinator,
		oracles:     oracles,
		emitter:     events.NoopEmitter{},
		nowFn:       time.Now,
	}
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetPauses wires the pause view checked by the owner operations: parameter
// updates and ownership transfer.
func (r *Registry) SetPauses(p nativecommon.PauseView) {
	if r == nil {
		return
	}
	r.pauses = p
}

// SetNowFunc overrides the clock used for fee accrual timestamps.
func (r *Registry) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	r.nowFn = now
}

// Asset returns the asset symbol served by the registry.
func (r *Registry) Asset() string { return r.asset }

// Exists reports whether the registry has been initialised in state.
func (r *Registry) Exists() (bool, error) {
	return r.st.KVGet(registryKey(r.asset), nil)
}

// Initialize persists a new registry owned by owner.
func (r *Registry) Initialize(owner [20]byte, decimals uint8, params RegistryParams) error {
	if r.asset == "" {
		return fmt.Errorf("%w: asset symbol required", ErrInvalidParameter)
	}
	if owner == ([20]byte{}) {
		return fmt.Errorf("%w: owner required", ErrInvalidParameter)
	}
	if decimals > StableDecimals {
		return fmt.Errorf("%w: %d decimals exceed the stable asset", ErrInvalidParameter, decimals)
	}
	if err := validateParams(params); err != nil {
		return err
	}
	exists, err := r.Exists()
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: registry %s already initialised", ErrInvalidParameter, r.asset)
	}
	rec := &registryRecord{
		Asset:                 r.asset,
		Decimals:              decimals,
		CollateralizationRate: params.CollateralizationRate,
		BorrowOpeningFee:      params.BorrowOpeningFee,
		LiquidationMultiplier: params.LiquidationMultiplier,
		Owner:                 owner,
		OracleRef:             strings.TrimSpace(params.OracleRef),
		OracleConfig:          append([]byte(nil), params.OracleConfig...),
	}
	rec.ensureDefaults()
	if err := r.save(rec); err != nil {
		return err
	}
	return r.st.KVAppend(assetIndexKey, []byte(r.asset))
}

func validateParams(p RegistryParams) error {
	if p.CollateralizationRate == 0 || p.CollateralizationRate > RatioPrecision {
		return fmt.Errorf("%w: collateralization rate %d", ErrOverLimit, p.CollateralizationRate)
	}
	if p.BorrowOpeningFee >= RatioPrecision {
		return fmt.Errorf("%w: opening fee %d", ErrOverLimit, p.BorrowOpeningFee)
	}
	if p.LiquidationMultiplier < RatioPrecision {
		return fmt.Errorf("%w: liquidation multiplier %d below %d", ErrInvalidParameter, p.LiquidationMultiplier, RatioPrecision)
	}
	return nil
}

func (r *Registry) load() (*registryRecord, error) {
	rec := new(registryRecord)
	ok, err := r.st.KVGet(registryKey(r.asset), rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, r.asset)
	}
	rec.ensureDefaults()
	return rec, nil
}

func (r *Registry) save(rec *registryRecord) error {
	return r.st.KVPut(registryKey(r.asset), rec)
}

func (r *Registry) loadBig(key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := r.st.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (r *Registry) storeBig(key []byte, value *big.Int) error {
	if isZero(value) {
		return r.st.KVDelete(key)
	}
	return r.st.KVPut(key, value)
}

func (r *Registry) emit(evt events.Event) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(evt)
}

func (r *Registry) requireCoordinator(caller [20]byte) error {
	if caller != r.coordinator {
		return ErrUnauthorized
	}
	return nil
}

// Info returns a snapshot of the registry.
func (r *Registry) Info() (RegistryInfo, error) {
	rec, err := r.load()
	if err != nil {
		return RegistryInfo{}, err
	}
	return rec.info(), nil
}

// CollateralOf returns the collateral shares credited to holding.
func (r *Registry) CollateralOf(holding [20]byte) (*big.Int, error) {
	return r.loadBig(collateralKey(r.asset, holding))
}

// BorrowedSharesOf returns the debt shares owed by holding.
func (r *Registry) BorrowedSharesOf(holding [20]byte) (*big.Int, error) {
	return r.loadBig(borrowedKey(r.asset, holding))
}

// RegisterCollateral credits amount of collateral to holding, converting it
// to shares rounded down. Only the coordinator may call it.
func (r *Registry) RegisterCollateral(caller, holding [20]byte, amount *big.Int) (*big.Int, error) {
	if err := r.requireCoordinator(caller); err != nil {
		return nil, err
	}
	rec, err := r.load()
	if err != nil {
		return nil, err
	}
	total := rec.collateral()
	minted, err := shares.ToShare(total, amount, false)
	if err != nil {
		return nil, err
	}
	balance, err := r.CollateralOf(holding)
	if err != nil {
		return nil, err
	}
	if err := r.storeBig(collateralKey(r.asset, holding), balance.Add(balance, minted)); err != nil {
		return nil, err
	}
	rec.setCollateral(total.Add(amount, minted))
	if err := r.save(rec); err != nil {
		return nil, err
	}
	return minted, nil
}

// UnregisterCollateral releases amount of collateral from holding. The shares
// burned are rounded up so the holding cannot withdraw more than it owns.
func (r *Registry) UnregisterCollateral(caller, holding [20]byte, amount *big.Int) (*big.Int, error) {
	if err := r.requireCoordinator(caller); err != nil {
		return nil, err
	}
	rec, err := r.load()
	if err != nil {
		return nil, err
	}
	total := rec.collateral()
	burned, err := shares.ToShare(total, amount, true)
	if err != nil {
		return nil, err
	}
	balance, err := r.CollateralOf(holding)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(burned) < 0 {
		return nil, fmt.Errorf("%w: holding has %s shares, needs %s", ErrInsufficientCollateral, balance, burned)
	}
	if err := r.storeBig(collateralKey(r.asset, holding), balance.Sub(balance, burned)); err != nil {
		return nil, err
	}
	rec.setCollateral(total.Sub(amount, burned))
	if err := r.save(rec); err != nil {
		return nil, err
	}
	return burned, nil
}

// UpdateLiquidatedCollateral moves amount of collateral from one holding to
// another. Totals are unchanged.
func (r *Registry) UpdateLiquidatedCollateral(caller, from, to [20]byte, amount *big.Int) error {
	if err := r.requireCoordinator(caller); err != nil {
		return err
	}
	if from == to {
		return fmt.Errorf("%w: liquidation source and destination match", ErrInvalidParameter)
	}
	rec, err := r.load()
	if err != nil {
		return err
	}
	moved, err := shares.ToShare(rec.collateral(), amount, true)
	if err != nil {
		return err
	}
	fromBalance, err := r.CollateralOf(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(moved) < 0 {
		return fmt.Errorf("%w: holding has %s shares, needs %s", ErrInsufficientCollateral, fromBalance, moved)
	}
	toBalance, err := r.CollateralOf(to)
	if err != nil {
		return err
	}
	if err := r.storeBig(collateralKey(r.asset, from), fromBalance.Sub(fromBalance, moved)); err != nil {
		return err
	}
	return r.storeBig(collateralKey(r.asset, to), toBalance.Add(toBalance, moved))
}

// IncreaseDebt records amount of new debt for holding, rounding the shares
// up so the protocol is never under-recorded.
func (r *Registry) IncreaseDebt(caller, holding [20]byte, amount *big.Int) (*big.Int, error) {
	if err := r.requireCoordinator(caller); err != nil {
		return nil, err
	}
	rec, err := r.load()
	if err != nil {
		return nil, err
	}
	total := rec.debt()
	minted, err := shares.ToShare(total, amount, true)
	if err != nil {
		return nil, err
	}
	balance, err := r.BorrowedSharesOf(holding)
	if err != nil {
		return nil, err
	}
	if err := r.storeBig(borrowedKey(r.asset, holding), balance.Add(balance, minted)); err != nil {
		return nil, err
	}
	rec.setDebt(total.Add(amount, minted))
	if err := r.save(rec); err != nil {
		return nil, err
	}
	return minted, nil
}

// DecreaseDebt burns up to burnShares of holding's debt and returns the
// shares and amount actually removed. The amount is rounded up so a full
// repayment clears the global elastic total.
func (r *Registry) DecreaseDebt(caller, holding [20]byte, burnShares *big.Int) (*big.Int, *big.Int, error) {
	if err := r.requireCoordinator(caller); err != nil {
		return nil, nil, err
	}
	rec, err := r.load()
	if err != nil {
		return nil, nil, err
	}
	balance, err := r.BorrowedSharesOf(holding)
	if err != nil {
		return nil, nil, err
	}
	burned := minBig(burnShares, balance)
	total := rec.debt()
	amount, err := shares.ToAmount(total, burned, true)
	if err != nil {
		return nil, nil, err
	}
	amount = minBig(amount, total.Elastic)
	if err := r.storeBig(borrowedKey(r.asset, holding), balance.Sub(balance, burned)); err != nil {
		return nil, nil, err
	}
	rec.setDebt(total.Sub(amount, burned))
	if err := r.save(rec); err != nil {
		return nil, nil, err
	}
	return burned, amount, nil
}

// AccrueFees adds amount to the protocol fee counter. The counter does not
// feed back into share pricing.
func (r *Registry) AccrueFees(caller [20]byte, amount *big.Int) error {
	rec, err := r.load()
	if err != nil {
		return err
	}
	if caller != r.coordinator && caller != rec.Owner {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: fee amount", ErrInvalidParameter)
	}
	rec.FeesEarned = new(big.Int).Add(rec.FeesEarned, amount)
	rec.LastAccruedTimestamp = uint64(r.nowFn().Unix())
	if err := r.save(rec); err != nil {
		return err
	}
	r.emit(events.FeesAccrued{
		Asset:     r.asset,
		Amount:    cloneBig(amount),
		Total:     cloneBig(rec.FeesEarned),
		Timestamp: rec.LastAccruedTimestamp,
	})
	return nil
}

// UpdateExchangeRate refreshes the cached rate from the oracle. When the
// oracle fails the previous rate is kept and returned alongside
// ErrOracleUnavailable; callers that tolerate staleness may continue.
func (r *Registry) UpdateExchangeRate(ctx context.Context) (*big.Int, error) {
	rec, err := r.load()
	if err != nil {
		return nil, err
	}
	oracle := r.oracles[rec.OracleRef]
	if oracle == nil {
		r.emit(events.RateUpdated{Asset: r.asset, Rate: cloneBig(rec.ExchangeRate), Stale: true})
		return cloneBig(rec.ExchangeRate), fmt.Errorf("%w: %s has no oracle %q", ErrOracleUnavailable, r.asset, rec.OracleRef)
	}
	ok, rate := oracle.Peek(ctx, rec.OracleConfig)
	if !ok || rate == nil || rate.Sign() <= 0 {
		r.emit(events.RateUpdated{Asset: r.asset, Rate: cloneBig(rec.ExchangeRate), Stale: true})
		return cloneBig(rec.ExchangeRate), fmt.Errorf("%w: %s", ErrOracleUnavailable, r.asset)
	}
	rec.ExchangeRate = cloneBig(rate)
	if err := r.save(rec); err != nil {
		return nil, err
	}
	r.emit(events.RateUpdated{Asset: r.asset, Rate: cloneBig(rate)})
	return cloneBig(rate), nil
}

// TransferOwnership proposes candidate as the next owner. The transfer only
// completes once the candidate accepts.
func (r *Registry) TransferOwnership(caller, candidate [20]byte) error {
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	rec, err := r.load()
	if err != nil {
		return err
	}
	if caller != rec.Owner {
		return ErrUnauthorized
	}
	if candidate == ([20]byte{}) {
		return fmt.Errorf("%w: candidate required", ErrInvalidParameter)
	}
	rec.PendingOwner = candidate
	rec.HasPending = true
	if err := r.save(rec); err != nil {
		return err
	}
	r.emit(events.OwnershipChanged{Asset: r.asset, Owner: rec.Owner, Candidate: candidate})
	return nil
}

// AcceptOwnership completes a pending transfer. Only the pending owner may
// accept.
func (r *Registry) AcceptOwnership(caller [20]byte) error {
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	rec, err := r.load()
	if err != nil {
		return err
	}
	if !rec.HasPending {
		return ErrNoPendingTransfer
	}
	if caller != rec.PendingOwner {
		return ErrUnauthorized
	}
	rec.Owner = rec.PendingOwner
	rec.PendingOwner = [20]byte{}
	rec.HasPending = false
	if err := r.save(rec); err != nil {
		return err
	}
	r.emit(events.OwnershipChanged{Asset: r.asset, Owner: rec.Owner, Candidate: rec.Owner, Accepted: true})
	return nil
}

// SetCollateralizationRate updates the maximum borrow-to-collateral ratio.
func (r *Registry) SetCollateralizationRate(caller [20]byte, rate uint64) error {
	return r.updateParams(caller, func(p *RegistryParams) { p.CollateralizationRate = rate })
}

// SetBorrowOpeningFee updates the fee charged on new debt.
func (r *Registry) SetBorrowOpeningFee(caller [20]byte, fee uint64) error {
	return r.updateParams(caller, func(p *RegistryParams) { p.BorrowOpeningFee = fee })
}

// SetLiquidationMultiplier updates the collateral multiplier applied to
// third-party liquidations.
func (r *Registry) SetLiquidationMultiplier(caller [20]byte, multiplier uint64) error {
	return r.updateParams(caller, func(p *RegistryParams) { p.LiquidationMultiplier = multiplier })
}

// SetOracle points the registry at another oracle and configuration.
func (r *Registry) SetOracle(caller [20]byte, ref string, config []byte) error {
	return r.updateParams(caller, func(p *RegistryParams) {
		p.OracleRef = strings.TrimSpace(ref)
		p.OracleConfig = append([]byte(nil), config...)
	})
}

func (r *Registry) updateParams(caller [20]byte, mutate func(*RegistryParams)) error {
	if err := nativecommon.Guard(r.pauses, moduleName); err != nil {
		return err
	}
	rec, err := r.load()
	if err != nil {
		return err
	}
	if caller != rec.Owner {
		return ErrUnauthorized
	}
	params := rec.info().Params
	mutate(&params)
	if err := validateParams(params); err != nil {
		return err
	}
	rec.CollateralizationRate = params.CollateralizationRate
	rec.BorrowOpeningFee = params.BorrowOpeningFee
	rec.LiquidationMultiplier = params.LiquidationMultiplier
	rec.OracleRef = params.OracleRef
	rec.OracleConfig = params.OracleConfig
	if err := r.save(rec); err != nil {
		return err
	}
	r.emit(events.RegistryParameters{
		Asset:                 r.asset,
		CollateralizationRate: params.CollateralizationRate,
		BorrowOpeningFee:      params.BorrowOpeningFee,
		LiquidationMultiplier: params.LiquidationMultiplier,
		OracleRef:             params.OracleRef,
	})
	return nil
}
