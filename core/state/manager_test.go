package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"vaultledger/storage"
	"vaultledger/storage/trie"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	require.NoError(t, err)
	return NewManager(tr)
}

type record struct {
	Owner  [20]byte
	Amount *big.Int
	Live   bool
}

func TestKVRoundTripAndDelete(t *testing.T) {
	mgr := newTestManager(t)
	key := []byte("ledger/test/record")

	var owner [20]byte
	owner[19] = 0x01
	require.NoError(t, mgr.KVPut(key, &record{Owner: owner, Amount: big.NewInt(42), Live: true}))

	var got record
	ok, err := mgr.KVGet(key, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, owner, got.Owner)
	require.Equal(t, 0, got.Amount.Cmp(big.NewInt(42)))
	require.True(t, got.Live)

	require.NoError(t, mgr.KVDelete(key))
	ok, err = mgr.KVGet(key, &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKVAppendDeduplicates(t *testing.T) {
	mgr := newTestManager(t)
	key := []byte("ledger/assets")

	var empty [][]byte
	require.NoError(t, mgr.KVGetList(key, &empty))
	require.NotNil(t, empty)
	require.Len(t, empty, 0)

	require.NoError(t, mgr.KVAppend(key, []byte("USDC")))
	require.NoError(t, mgr.KVAppend(key, []byte("USDT")))
	require.NoError(t, mgr.KVAppend(key, []byte("USDC")))

	var list [][]byte
	require.NoError(t, mgr.KVGetList(key, &list))
	require.Equal(t, [][]byte{[]byte("USDC"), []byte("USDT")}, list)
}

func TestSnapshotRevertRestoresState(t *testing.T) {
	mgr := newTestManager(t)
	key := []byte("ledger/counter")
	require.NoError(t, mgr.KVPut(key, uint64(1)))

	outer := mgr.Snapshot()
	require.NoError(t, mgr.KVPut(key, uint64(2)))
	inner := mgr.Snapshot()
	require.NoError(t, mgr.KVPut(key, uint64(3)))

	require.NoError(t, mgr.RevertToSnapshot(inner))
	var value uint64
	_, err := mgr.KVGet(key, &value)
	require.NoError(t, err)
	require.Equal(t, uint64(2), value)

	require.NoError(t, mgr.RevertToSnapshot(outer))
	_, err = mgr.KVGet(key, &value)
	require.NoError(t, err)
	require.Equal(t, uint64(1), value)

	require.Error(t, mgr.RevertToSnapshot(outer))
}

func TestReleaseSnapshotKeepsState(t *testing.T) {
	mgr := newTestManager(t)
	key := []byte("ledger/counter")
	id := mgr.Snapshot()
	require.NoError(t, mgr.KVPut(key, uint64(7)))
	mgr.ReleaseSnapshot(id)

	var value uint64
	ok, err := mgr.KVGet(key, &value)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(7), value)
	require.Error(t, mgr.RevertToSnapshot(id))
}

func TestRolesAndBalances(t *testing.T) {
	mgr := newTestManager(t)
	var admin [20]byte
	admin[0] = 0xAA

	require.False(t, mgr.HasRole("ROLE_LEDGER_ADMIN", admin[:]))
	require.NoError(t, mgr.SetRole("ROLE_LEDGER_ADMIN", admin[:]))
	require.NoError(t, mgr.SetRole("ROLE_LEDGER_ADMIN", admin[:]))
	require.True(t, mgr.HasRole("ROLE_LEDGER_ADMIN", admin[:]))
	members, err := mgr.RoleMembers("ROLE_LEDGER_ADMIN")
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.NoError(t, mgr.RemoveRole("ROLE_LEDGER_ADMIN", admin[:]))
	require.False(t, mgr.HasRole("ROLE_LEDGER_ADMIN", admin[:]))

	require.Error(t, mgr.SetBalance(admin[:], "usdc", big.NewInt(1)))
	require.NoError(t, mgr.RegisterToken("usdc", "USD Coin", 6))
	require.Error(t, mgr.RegisterToken("USDC", "USD Coin", 6))
	require.NoError(t, mgr.SetBalance(admin[:], "usdc", big.NewInt(1_000_000)))
	balance, err := mgr.Balance(admin[:], "USDC")
	require.NoError(t, err)
	require.Equal(t, "1000000", balance.String())

	meta, err := mgr.Token("USDC")
	require.NoError(t, err)
	require.Equal(t, uint8(6), meta.Decimals)
}

func TestRegisterTokenKeepsSortedIndex(t *testing.T) {
	mgr := newTestManager(t)
	list, err := mgr.TokenList()
	require.NoError(t, err)
	require.Empty(t, list)

	require.NoError(t, mgr.RegisterToken("wbtc", "Wrapped BTC", 8))
	require.NoError(t, mgr.RegisterToken("usdv", "Vault USD", 18))
	require.NoError(t, mgr.RegisterToken("WETH", "Wrapped Ether", 18))

	list, err = mgr.TokenList()
	require.NoError(t, err)
	require.Equal(t, []string{"USDV", "WBTC", "WETH"}, list)
}
