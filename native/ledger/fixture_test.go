package ledger_test

import (
	"context"
	"math/big"
	"testing"

	"vaultledger/core/events"
	"vaultledger/core/state"
	"vaultledger/native/bank"
	"vaultledger/native/ledger"
	"vaultledger/storage"
	statetrie "vaultledger/storage/trie"
)

var (
	coordinatorAddr = [20]byte{0xc0}
	feeRecipient    = [20]byte{0xfe}
	registryOwner   = [20]byte{0x0a}
	adminAddr       = [20]byte{0xad}
	strategyAddr    = [20]byte{0x5e}

	alice        = [20]byte{0xa1}
	aliceHolding = [20]byte{0xb1}
	bob          = [20]byte{0xa2}
	bobHolding   = [20]byte{0xb2}

	oneRate = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(e events.Event) {
	c.events = append(c.events, e)
}

func (c *capturingEmitter) count(eventType string) int {
	n := 0
	for _, evt := range c.events {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

type fakeOracle struct {
	ok   bool
	rate *big.Int
}

func (o *fakeOracle) Peek(context.Context, []byte) (bool, *big.Int) {
	if o.rate == nil {
		return o.ok, nil
	}
	return o.ok, new(big.Int).Set(o.rate)
}

type fakeDirectory struct {
	owners map[[20]byte][20]byte
}

func (d *fakeDirectory) OwnerOf(holding [20]byte) ([20]byte, bool, error) {
	owner, ok := d.owners[holding]
	return owner, ok, nil
}

func (d *fakeDirectory) HoldingOf(user [20]byte) ([20]byte, bool, error) {
	for holding, owner := range d.owners {
		if owner == user {
			return holding, true, nil
		}
	}
	return [20]byte{}, false, nil
}

// fakeStrategy parks invested tokens on strategyAddr and returns them on
// claim, keeping haircut (on the ratio scale) of every claim.
type fakeStrategy struct {
	bank        *bank.Ledger
	invested    map[[20]byte]*big.Int
	haircut     int64
	reward      int64
	rewardCalls int
}

func (s *fakeStrategy) Invest(_ context.Context, holding [20]byte, asset string, amount *big.Int, _ []byte) (*big.Int, error) {
	if err := s.bank.Transfer(asset, holding, strategyAddr, amount); err != nil {
		return nil, err
	}
	current := s.invested[holding]
	if current == nil {
		current = big.NewInt(0)
	}
	s.invested[holding] = new(big.Int).Add(current, amount)
	return new(big.Int).Set(amount), nil
}

func (s *fakeStrategy) ClaimInvestment(_ context.Context, holding [20]byte, asset string, shares *big.Int, _ []byte) (*big.Int, error) {
	out := new(big.Int).Mul(shares, big.NewInt(ledger.RatioPrecision-s.haircut))
	out.Div(out, big.NewInt(ledger.RatioPrecision))
	if err := s.bank.Transfer(asset, strategyAddr, holding, out); err != nil {
		return nil, err
	}
	s.invested[holding] = new(big.Int).Sub(s.invested[holding], shares)
	return out, nil
}

func (s *fakeStrategy) ClaimRewards(context.Context, [20]byte, []byte) (*big.Int, error) {
	s.rewardCalls++
	return big.NewInt(s.reward), nil
}

func (s *fakeStrategy) Shares(holding [20]byte, _ string) (*big.Int, error) {
	if v := s.invested[holding]; v != nil {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

// fakeSwapper converts at a fixed ratio of out per two in.
type fakeSwapper struct {
	numerator   int64
	denominator int64
	calls       int
	fail        error
}

func (s *fakeSwapper) Swap(_ context.Context, req ledger.SwapRequest) (*big.Int, error) {
	s.calls++
	if s.fail != nil {
		return nil, s.fail
	}
	out := new(big.Int).Mul(req.AmountIn, big.NewInt(s.numerator))
	return out.Div(out, big.NewInt(s.denominator)), nil
}

type fixture struct {
	t        *testing.T
	state    *state.Manager
	bank     *bank.Ledger
	coord    *ledger.Coordinator
	weth     *ledger.Registry
	wbtc     *ledger.Registry
	wethFeed *fakeOracle
	wbtcFeed *fakeOracle
	strategy *fakeStrategy
	swapper  *fakeSwapper
	emitter  *capturingEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := statetrie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("create trie: %v", err)
	}
	manager := state.NewManager(tr)
	for _, tok := range []struct {
		symbol   string
		decimals uint8
	}{{"USDV", 18}, {"WETH", 18}, {"WBTC", 8}} {
		if err := manager.RegisterToken(tok.symbol, tok.symbol, tok.decimals); err != nil {
			t.Fatalf("register %s: %v", tok.symbol, err)
		}
	}
	if err := manager.SetRole(ledger.RoleAdmin, adminAddr[:]); err != nil {
		t.Fatalf("grant admin: %v", err)
	}

	f := &fixture{
		t:        t,
		state:    manager,
		bank:     bank.NewLedger(manager, "USDV"),
		wethFeed: &fakeOracle{ok: true, rate: oneRate},
		wbtcFeed: &fakeOracle{ok: true, rate: oneRate},
		swapper:  &fakeSwapper{numerator: 1, denominator: 2},
		emitter:  &capturingEmitter{},
	}
	f.strategy = &fakeStrategy{bank: f.bank, invested: map[[20]byte]*big.Int{}}
	oracles := ledger.OracleSet{"weth-feed": f.wethFeed, "wbtc-feed": f.wbtcFeed}

	f.weth = ledger.NewRegistry(manager, "weth", coordinatorAddr, oracles)
	if err := f.weth.Initialize(registryOwner, 18, ledger.RegistryParams{
		CollateralizationRate: 75_000,
		LiquidationMultiplier: 112_000,
		OracleRef:             "weth-feed",
	}); err != nil {
		t.Fatalf("init weth registry: %v", err)
	}
	f.wbtc = ledger.NewRegistry(manager, "WBTC", coordinatorAddr, oracles)
	if err := f.wbtc.Initialize(registryOwner, 8, ledger.RegistryParams{
		CollateralizationRate: 50_000,
		LiquidationMultiplier: 110_000,
		OracleRef:             "wbtc-feed",
	}); err != nil {
		t.Fatalf("init wbtc registry: %v", err)
	}

	directory := &fakeDirectory{owners: map[[20]byte][20]byte{aliceHolding: alice, bobHolding: bob}}
	f.coord = ledger.NewCoordinator(manager, ledger.Config{
		Address:      coordinatorAddr,
		FeeRecipient: feeRecipient,
		StableAsset:  "USDV",
	}, map[string]*ledger.Registry{"WETH": f.weth, "WBTC": f.wbtc}, ledger.Dependencies{
		Bank:       f.bank,
		Stable:     f.bank,
		Holdings:   directory,
		Swapper:    f.swapper,
		Strategies: ledger.StrategySet{"yield": f.strategy},
	})
	f.coord.SetEmitter(f.emitter)
	return f
}

func (f *fixture) must(err error, what string) {
	f.t.Helper()
	if err != nil {
		f.t.Fatalf("%s: %v", what, err)
	}
}

func (f *fixture) fund(asset string, to [20]byte, amount int64) {
	f.t.Helper()
	f.must(f.bank.MintToken(asset, to, big.NewInt(amount)), "fund "+asset)
}

func (f *fixture) balance(asset string, addr [20]byte) *big.Int {
	f.t.Helper()
	bal, err := f.bank.BalanceOf(asset, addr)
	f.must(err, "balance")
	return bal
}

func (f *fixture) position(asset string, holding [20]byte) ledger.Position {
	f.t.Helper()
	pos, err := f.coord.Position(asset, holding)
	f.must(err, "position")
	return pos
}

func (f *fixture) whitelist(asset string) {
	f.t.Helper()
	f.must(f.coord.SetAssetWhitelisted(adminAddr, asset, true), "whitelist "+asset)
}

func bi(v int64) *big.Int { return big.NewInt(v) }

func expectAmount(t *testing.T, what string, got *big.Int, want int64) {
	t.Helper()
	if got == nil || got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s: expected %d, got %v", what, want, got)
	}
}
