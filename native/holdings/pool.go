package holdings

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"vaultledger/core/events"
	nativecommon "vaultledger/native/common"
	"vaultledger/native/ledger"
)

const (
	moduleName = "holdings"

	// RoleAssigner may hand free holdings to users.
	RoleAssigner = "ROLE_HOLDING_ASSIGNER"
)

var metaKey = []byte("holdings/meta")

func recordKey(index uint64) []byte {
	return []byte(fmt.Sprintf("holdings/record/%d", index))
}

func ownerKey(user [20]byte) []byte {
	return []byte(fmt.Sprintf("holdings/owner/%x", user[:]))
}

func addressKey(holding [20]byte) []byte {
	return []byte(fmt.Sprintf("holdings/address/%x", holding[:]))
}

type poolState interface {
	nativecommon.Snapshotter
	HasRole(role string, addr []byte) bool
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// RewardPayer pays the one-off minting reward to holding creators.
type RewardPayer interface {
	PayReward(symbol string, creator [20]byte, amount *big.Int) error
}

// Depositor performs the first deposit of a self-assigned holding.
type Depositor interface {
	Deposit(caller, holding [20]byte, asset string, amount *big.Int) error
}

// Config captures the pool parameters.
type Config struct {
	// Address seeds holding address derivation.
	Address            [20]byte
	Maximum            uint64
	RewardAsset        string
	MintingReward      *big.Int
	FirstDepositAsset  string
	FirstDepositAmount *big.Int
}

// Record describes one holding in the arena. Next links free holdings in
// FIFO order.
type Record struct {
	Index    uint64
	Address  [20]byte
	Minter   [20]byte
	Owner    [20]byte
	Assigned bool
	Next     uint64
	HasNext  bool
}

type poolMeta struct {
	Head    uint64
	Tail    uint64
	HasHead bool
	Count   uint64
	Maximum uint64
	Nonce   uint64
}

// Pool allocates holdings into a bounded free list and binds them to users.
// A holding is assigned at most once and never returns to the list.
type Pool struct {
	st        poolState
	cfg       Config
	rewards   RewardPayer
	depositor Depositor
	emitter   events.Emitter
	scope     nativecommon.EventScope
	pauses    nativecommon.PauseView
}

// NewPool returns a pool over st. The persisted maximum, once set, wins over
// cfg.Maximum.
func NewPool(st poolState, cfg Config, rewards RewardPayer, depositor Depositor) *Pool {
	cfg.RewardAsset = strings.ToUpper(strings.TrimSpace(cfg.RewardAsset))
	cfg.FirstDepositAsset = strings.ToUpper(strings.TrimSpace(cfg.FirstDepositAsset))
	return &Pool{
		st:        st,
		cfg:       cfg,
		rewards:   rewards,
		depositor: depositor,
		emitter:   events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter. An emitter that also buffers
// (such as the coordinator's) scopes pool events to atomic sections.
func (p *Pool) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		p.emitter = events.NoopEmitter{}
		p.scope = nil
		return
	}
	p.emitter = emitter
	if scope, ok := emitter.(nativecommon.EventScope); ok {
		p.scope = scope
	} else {
		p.scope = nil
	}
}

// SetDepositor wires the first-deposit path. It breaks the construction cycle
// between the pool and the coordinator.
func (p *Pool) SetDepositor(d Depositor) {
	p.depositor = d
}

// SetPauses wires the pause view checked by every pool mutation. A nil view
// leaves the pool unpaused.
func (p *Pool) SetPauses(view nativecommon.PauseView) {
	if p == nil {
		return
	}
	p.pauses = view
}

func (p *Pool) emit(evt events.Event) {
	if p.emitter != nil {
		p.emitter.Emit(evt)
	}
}

func (p *Pool) atomic(fn func() error) error {
	return nativecommon.Atomic(p.st, p.scope, fn)
}

func (p *Pool) loadMeta() (*poolMeta, error) {
	meta := new(poolMeta)
	ok, err := p.st.KVGet(metaKey, meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		meta.Maximum = p.cfg.Maximum
	}
	return meta, nil
}

func (p *Pool) storeMeta(meta *poolMeta) error {
	return p.st.KVPut(metaKey, meta)
}

func (p *Pool) loadRecord(index uint64) (*Record, error) {
	rec := new(Record)
	ok, err := p.st.KVGet(recordKey(index), rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("holdings: record %d missing", index)
	}
	return rec, nil
}

func (p *Pool) storeRecord(rec *Record) error {
	if err := p.st.KVPut(recordKey(rec.Index), rec); err != nil {
		return err
	}
	return p.st.KVPut(addressKey(rec.Address), rec.Index)
}

func (p *Pool) indexOf(key []byte) (uint64, bool, error) {
	var index uint64
	ok, err := p.st.KVGet(key, &index)
	if err != nil {
		return 0, false, err
	}
	return index, ok, nil
}

// allocate derives a fresh holding address and persists its record.
func (p *Pool) allocate(meta *poolMeta, minter [20]byte) (*Record, error) {
	index := meta.Nonce
	meta.Nonce++
	address := ethcrypto.CreateAddress(common.Address(p.cfg.Address), index)
	rec := &Record{Index: index, Address: [20]byte(address), Minter: minter}
	if err := p.storeRecord(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (p *Pool) payReward(creator [20]byte) (*big.Int, error) {
	reward := p.cfg.MintingReward
	if p.rewards == nil || reward == nil || reward.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	if err := p.rewards.PayReward(p.cfg.RewardAsset, creator, reward); err != nil {
		return nil, fmt.Errorf("%w: minting reward: %v", ledger.ErrTransferFailed, err)
	}
	return new(big.Int).Set(reward), nil
}

// CreateHolding appends a new free holding minted by creator.
func (p *Pool) CreateHolding(creator [20]byte) ([20]byte, error) {
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return [20]byte{}, err
	}
	var holding [20]byte
	err := p.atomic(func() error {
		var err error
		holding, err = p.createHolding(creator)
		return err
	})
	return holding, err
}

func (p *Pool) createHolding(creator [20]byte) ([20]byte, error) {
	meta, err := p.loadMeta()
	if err != nil {
		return [20]byte{}, err
	}
	if meta.Count >= meta.Maximum {
		return [20]byte{}, fmt.Errorf("%w: %d of %d", ledger.ErrPoolExhausted, meta.Count, meta.Maximum)
	}
	rec, err := p.allocate(meta, creator)
	if err != nil {
		return [20]byte{}, err
	}
	if meta.HasHead {
		tail, err := p.loadRecord(meta.Tail)
		if err != nil {
			return [20]byte{}, err
		}
		tail.Next = rec.Index
		tail.HasNext = true
		if err := p.storeRecord(tail); err != nil {
			return [20]byte{}, err
		}
	} else {
		meta.Head = rec.Index
		meta.HasHead = true
	}
	meta.Tail = rec.Index
	meta.Count++
	if err := p.storeMeta(meta); err != nil {
		return [20]byte{}, err
	}
	reward, err := p.payReward(creator)
	if err != nil {
		return [20]byte{}, err
	}
	p.emit(events.HoldingCreated{Holding: rec.Address, Minter: creator, Index: rec.Index, Reward: reward})
	return rec.Address, nil
}

// AssignHolding pops the oldest free holding and binds it to user.
func (p *Pool) AssignHolding(caller, user [20]byte) ([20]byte, error) {
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return [20]byte{}, err
	}
	if !p.st.HasRole(RoleAssigner, caller[:]) && !p.st.HasRole(ledger.RoleAdmin, caller[:]) {
		return [20]byte{}, ledger.ErrUnauthorized
	}
	var holding [20]byte
	err := p.atomic(func() error {
		var err error
		holding, err = p.assign(user)
		return err
	})
	return holding, err
}

func (p *Pool) assign(user [20]byte) ([20]byte, error) {
	if user == ([20]byte{}) {
		return [20]byte{}, fmt.Errorf("%w: user required", ledger.ErrInvalidParameter)
	}
	if _, ok, err := p.indexOf(ownerKey(user)); err != nil {
		return [20]byte{}, err
	} else if ok {
		return [20]byte{}, ledger.ErrAlreadyAssigned
	}
	meta, err := p.loadMeta()
	if err != nil {
		return [20]byte{}, err
	}
	if !meta.HasHead {
		return [20]byte{}, ledger.ErrNoHoldingAvailable
	}
	rec, err := p.loadRecord(meta.Head)
	if err != nil {
		return [20]byte{}, err
	}
	meta.Head = rec.Next
	meta.HasHead = rec.HasNext
	meta.Count--
	rec.Next = 0
	rec.HasNext = false
	if err := p.bind(rec, user); err != nil {
		return [20]byte{}, err
	}
	if err := p.storeMeta(meta); err != nil {
		return [20]byte{}, err
	}
	return rec.Address, nil
}

func (p *Pool) bind(rec *Record, user [20]byte) error {
	rec.Owner = user
	rec.Assigned = true
	if err := p.storeRecord(rec); err != nil {
		return err
	}
	if err := p.st.KVPut(ownerKey(user), rec.Index); err != nil {
		return err
	}
	p.emit(events.HoldingAssigned{Holding: rec.Address, Owner: user})
	return nil
}

// AssignHoldingToMyself creates a holding, assigns the head of the free list
// to caller and makes the mandatory first deposit, all or nothing.
func (p *Pool) AssignHoldingToMyself(caller [20]byte) ([20]byte, error) {
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return [20]byte{}, err
	}
	var holding [20]byte
	err := p.atomic(func() error {
		if _, err := p.createHolding(caller); err != nil {
			return err
		}
		var err error
		holding, err = p.assign(caller)
		if err != nil {
			return err
		}
		return p.firstDeposit(caller, holding)
	})
	return holding, err
}

func (p *Pool) firstDeposit(caller, holding [20]byte) error {
	amount := p.cfg.FirstDepositAmount
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if p.depositor == nil {
		return fmt.Errorf("%w: depositor not configured", ledger.ErrInvalidParameter)
	}
	return p.depositor.Deposit(caller, holding, p.cfg.FirstDepositAsset, amount)
}

// CreateHoldingForMyself mints a holding that is immediately bound to
// caller. The free list and its cap are not involved.
func (p *Pool) CreateHoldingForMyself(caller [20]byte) ([20]byte, error) {
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return [20]byte{}, err
	}
	var holding [20]byte
	err := p.atomic(func() error {
		if _, ok, err := p.indexOf(ownerKey(caller)); err != nil {
			return err
		} else if ok {
			return ledger.ErrAlreadyAssigned
		}
		meta, err := p.loadMeta()
		if err != nil {
			return err
		}
		rec, err := p.allocate(meta, caller)
		if err != nil {
			return err
		}
		if err := p.storeMeta(meta); err != nil {
			return err
		}
		reward, err := p.payReward(caller)
		if err != nil {
			return err
		}
		p.emit(events.HoldingCreated{Holding: rec.Address, Minter: caller, Index: rec.Index, Reward: reward})
		holding = rec.Address
		return p.bind(rec, caller)
	})
	return holding, err
}

// SetMaximum changes the free-list cap. It cannot drop below the holdings
// currently available.
func (p *Pool) SetMaximum(caller [20]byte, maximum uint64) error {
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return err
	}
	if !p.st.HasRole(ledger.RoleAdmin, caller[:]) {
		return ledger.ErrUnauthorized
	}
	return p.atomic(func() error {
		meta, err := p.loadMeta()
		if err != nil {
			return err
		}
		if maximum < meta.Count {
			return fmt.Errorf("%w: maximum %d below %d available", ledger.ErrInvalidParameter, maximum, meta.Count)
		}
		meta.Maximum = maximum
		return p.storeMeta(meta)
	})
}

// NumAvailableHoldings returns the length of the free list.
func (p *Pool) NumAvailableHoldings() (uint64, error) {
	meta, err := p.loadMeta()
	if err != nil {
		return 0, err
	}
	return meta.Count, nil
}

// Maximum returns the free-list cap.
func (p *Pool) Maximum() (uint64, error) {
	meta, err := p.loadMeta()
	if err != nil {
		return 0, err
	}
	return meta.Maximum, nil
}

// Record returns the arena record of holding.
func (p *Pool) Record(holding [20]byte) (*Record, bool, error) {
	index, ok, err := p.indexOf(addressKey(holding))
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := p.loadRecord(index)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// OwnerOf implements ledger.HoldingDirectory.
func (p *Pool) OwnerOf(holding [20]byte) ([20]byte, bool, error) {
	rec, ok, err := p.Record(holding)
	if err != nil || !ok || !rec.Assigned {
		return [20]byte{}, false, err
	}
	return rec.Owner, true, nil
}

// HoldingOf implements ledger.HoldingDirectory.
func (p *Pool) HoldingOf(user [20]byte) ([20]byte, bool, error) {
	index, ok, err := p.indexOf(ownerKey(user))
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	rec, err := p.loadRecord(index)
	if err != nil {
		return [20]byte{}, false, err
	}
	return rec.Address, true, nil
}

var _ ledger.HoldingDirectory = (*Pool)(nil)
