package journal

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"vaultledger/core/events"
	"vaultledger/crypto"
)

func openTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	j, err := Open(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j, path
}

func borrowed(amount int64) events.Event {
	return events.Borrowed{
		Asset:   "WETH",
		Holding: [20]byte{0x01},
		Amount:  big.NewInt(amount),
		Fee:     big.NewInt(0),
		Shares:  big.NewInt(amount),
	}
}

func TestJournalAppendsAndPages(t *testing.T) {
	j, _ := openTestJournal(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		j.Emit(borrowed(i * 100))
	}
	j.Emit(events.AssetWhitelist{Asset: "WETH", Allowed: true})
	require.Equal(t, uint64(4), j.Sequence())

	all, err := j.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, uint64(1), all[0].Sequence)
	require.Equal(t, events.TypeBorrowed, all[0].Type)
	require.Equal(t, "100", all[0].Attributes["amount"])
	require.Len(t, all[0].Digest, 64)
	require.NotEmpty(t, all[0].ID)

	page, err := j.List(ctx, Query{Type: events.TypeBorrowed, After: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, uint64(2), page[0].Sequence)

	whitelist, err := j.List(ctx, Query{Type: events.TypeAssetWhitelist})
	require.NoError(t, err)
	require.Len(t, whitelist, 1)
}

func TestJournalFiltersByAssetAndHolding(t *testing.T) {
	j, _ := openTestJournal(t)
	ctx := context.Background()

	j.Emit(borrowed(100))
	j.Emit(events.Borrowed{Asset: "WBTC", Holding: [20]byte{0x02}, Amount: big.NewInt(5), Fee: big.NewInt(0), Shares: big.NewInt(5)})
	j.Emit(events.AssetWhitelist{Asset: "WETH", Allowed: true})

	weth, err := j.List(ctx, Query{Asset: "weth"})
	require.NoError(t, err)
	require.Len(t, weth, 2)

	held, err := j.List(ctx, Query{Holding: crypto.FormatHolding([20]byte{0x02})})
	require.NoError(t, err)
	require.Len(t, held, 1)
	require.Equal(t, "WBTC", held[0].Attributes["asset"])
}

func TestJournalResumesSequence(t *testing.T) {
	j, path := openTestJournal(t)
	j.Emit(borrowed(1))
	j.Emit(borrowed(2))
	require.NoError(t, j.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, uint64(2), reopened.Sequence())
	reopened.Emit(borrowed(3))
	records, err := reopened.List(context.Background(), Query{After: 2})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, uint64(3), records[0].Sequence)
}

func TestDigestIsDeterministic(t *testing.T) {
	a := render(borrowed(5))
	b := render(borrowed(5))
	c := render(borrowed(6))
	require.Equal(t, Digest(a), Digest(b))
	require.NotEqual(t, Digest(a), Digest(c))
}

func TestExportParquet(t *testing.T) {
	j, _ := openTestJournal(t)
	for i := int64(1); i <= 5; i++ {
		j.Emit(borrowed(i))
	}
	out := filepath.Join(t.TempDir(), "events.parquet")
	n, err := j.ExportParquet(context.Background(), out, Query{After: 2})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	info, err := os.Stat(out)
	require.NoError(t, err)
	require.Positive(t, info.Size())

	fr, err := local.NewLocalFileReader(out)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(3), pr.GetNumRows())
	rows := make([]parquetRow, 3)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, int64(3), rows[0].Sequence)
	require.Equal(t, events.TypeBorrowed, rows[0].Type)
	require.Contains(t, rows[0].Attributes, `"amount":"3"`)
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("  ", nil)
	require.ErrorIs(t, err, ErrDSNRequired)
}
