package ledger

import "fmt"

var (
	assetIndexKey = []byte("ledger/assets")
)

func registryKey(asset string) []byte {
	return []byte(fmt.Sprintf("ledger/registry/%s", asset))
}

func collateralKey(asset string, holding [20]byte) []byte {
	return []byte(fmt.Sprintf("ledger/registry/%s/collateral/%x", asset, holding[:]))
}

func borrowedKey(asset string, holding [20]byte) []byte {
	return []byte(fmt.Sprintf("ledger/registry/%s/borrowed/%x", asset, holding[:]))
}

func whitelistKey(asset string) []byte {
	return []byte(fmt.Sprintf("ledger/whitelist/%s", asset))
}
