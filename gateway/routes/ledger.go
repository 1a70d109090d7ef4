package routes

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"vaultledger/core/types"
	"vaultledger/crypto"
	"vaultledger/gateway/middleware"
	"vaultledger/native/holdings"
	"vaultledger/native/ledger"
	"vaultledger/services/ledgerd/journal"
	"vaultledger/services/ledgerd/server"
)

const ledgerRequestLimit = 1 << 20 // 1 MiB

// Ledger is the engine surface served over HTTP. *server.Service implements
// it.
type Ledger interface {
	AddCollateral(ctx context.Context, caller, holding [20]byte, asset string, amount *big.Int) error
	RemoveCollateral(ctx context.Context, caller, holding [20]byte, asset string, amount *big.Int) error
	ForceAddCollateral(ctx context.Context, caller, holding [20]byte, asset string, amount *big.Int) error
	ForceRemoveCollateral(ctx context.Context, caller, holding [20]byte, asset string, amount *big.Int) error
	Deposit(ctx context.Context, caller, holding [20]byte, asset string, amount *big.Int) error
	Withdraw(ctx context.Context, caller, holding [20]byte, asset string, amount *big.Int) error
	Borrow(ctx context.Context, caller, holding [20]byte, asset string, amount *big.Int, acceptFee bool) error
	BorrowMultiple(ctx context.Context, caller, holding [20]byte, items []ledger.BorrowItem, acceptFee bool) error
	Repay(ctx context.Context, caller, holding [20]byte, asset string, amount *big.Int, burnFromOwner bool) error
	RepayMultiple(ctx context.Context, caller, holding [20]byte, items []ledger.RepayItem, burnFromOwner bool) error
	Exchange(ctx context.Context, caller, holding [20]byte, fromAsset, toAsset string, amount, minOut *big.Int, routeData []byte) (*big.Int, error)
	Liquidate(ctx context.Context, caller, holding [20]byte, asset string, plan ledger.LiquidationPlan) (*ledger.LiquidationResult, error)
	SelfLiquidate(ctx context.Context, caller, holding [20]byte, asset string, plan ledger.LiquidationPlan) (*ledger.LiquidationResult, error)
	CreateHolding(ctx context.Context, caller [20]byte) ([20]byte, error)
	AssignHolding(ctx context.Context, caller, user [20]byte) ([20]byte, error)
	AssignHoldingToMyself(ctx context.Context, caller [20]byte) ([20]byte, error)
	CreateHoldingForMyself(ctx context.Context, caller [20]byte) ([20]byte, error)
	RefreshRate(ctx context.Context, asset string) (*big.Int, error)
	RegistryInfo(ctx context.Context, asset string) (ledger.RegistryInfo, bool, error)
	Position(ctx context.Context, asset string, holding [20]byte) (ledger.Position, error)
	HoldingOf(ctx context.Context, user [20]byte) (*holdings.Record, bool, error)
	Balance(ctx context.Context, asset string, addr [20]byte) (*big.Int, error)
	Events(ctx context.Context, q journal.Query) ([]types.EventRecord, error)
	ExportEvents(ctx context.Context, path string, q journal.Query) (int, error)

	SetAssetWhitelisted(ctx context.Context, caller [20]byte, asset string, allowed bool) error
	SetPoolMaximum(ctx context.Context, caller [20]byte, maximum uint64) error
	SetPaused(ctx context.Context, caller [20]byte, module string, paused bool) error
	SetOracleRate(ctx context.Context, caller [20]byte, asset string, rate *big.Int) error
	UpdateRegistry(ctx context.Context, caller [20]byte, asset string, update server.RegistryUpdate) error
}

type ledgerRoutes struct {
	svc     Ledger
	timeout time.Duration
}

func newLedgerRoutes(svc Ledger, timeout time.Duration) *ledgerRoutes {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ledgerRoutes{svc: svc, timeout: timeout}
}

func (lr *ledgerRoutes) mountReads(r chi.Router) {
	r.Get("/holdings/{user}", lr.holdingOf)
	r.Get("/registries/{asset}", lr.registryInfo)
	r.Get("/positions/{asset}/{holding}", lr.position)
	r.Get("/balances/{asset}/{address}", lr.balance)
	r.Get("/events", lr.events)
	r.Get("/events/export", lr.exportEvents)
}

func (lr *ledgerRoutes) mountWrites(r chi.Router) {
	r.Post("/collateral/add", lr.collateral(lr.svc.AddCollateral))
	r.Post("/collateral/remove", lr.collateral(lr.svc.RemoveCollateral))
	r.Post("/collateral/deposit", lr.collateral(lr.svc.Deposit))
	r.Post("/collateral/withdraw", lr.collateral(lr.svc.Withdraw))
	r.Post("/collateral/force-add", lr.collateral(lr.svc.ForceAddCollateral))
	r.Post("/collateral/force-remove", lr.collateral(lr.svc.ForceRemoveCollateral))

	r.Post("/debt/borrow", lr.borrow)
	r.Post("/debt/repay", lr.repay)
	r.Post("/debt/borrow-multiple", lr.borrowMultiple)
	r.Post("/debt/repay-multiple", lr.repayMultiple)

	r.Post("/exchange", lr.exchange)
	r.Post("/liquidate", lr.liquidate(lr.svc.Liquidate))
	r.Post("/self-liquidate", lr.liquidate(lr.svc.SelfLiquidate))

	r.Post("/holdings/create", lr.holding(lr.svc.CreateHolding))
	r.Post("/holdings/assign", lr.assignHolding)
	r.Post("/holdings/assign-self", lr.holding(lr.svc.AssignHoldingToMyself))
	r.Post("/holdings/create-self", lr.holding(lr.svc.CreateHoldingForMyself))

	r.Post("/registries/{asset}/refresh-rate", lr.refreshRate)
}

// Admin calls are still authorised per role by the engine; the group only
// separates their scope and rate limit.
func (lr *ledgerRoutes) mountAdmin(r chi.Router) {
	r.Post("/registries/{asset}/params", lr.updateRegistry)
	r.Post("/admin/whitelist", lr.setWhitelist)
	r.Post("/admin/pool-maximum", lr.setPoolMaximum)
	r.Post("/admin/pause", lr.setPaused)
	r.Post("/admin/oracle-rate", lr.setOracleRate)
}

func (lr *ledgerRoutes) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, lr.timeout)
}

type collateralRequest struct {
	Holding string `json:"holding"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type collateralCall func(ctx context.Context, caller, holding [20]byte, asset string, amount *big.Int) error

func (lr *ledgerRoutes) collateral(call collateralCall) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := requireCaller(w, r)
		if !ok {
			return
		}
		var req collateralRequest
		if err := decodeRequest(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
		holding, err := parseAddress("holding", req.Holding)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		ctx, cancel := lr.context(r.Context())
		defer cancel()
		if err := call(ctx, caller, holding, req.Asset, amount); err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, okResponse{OK: true})
	}
}

type borrowRequest struct {
	Holding   string `json:"holding"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	AcceptFee bool   `json:"acceptFee"`
}

func (lr *ledgerRoutes) borrow(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req borrowRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	holding, amount, err := parseHoldingAmount(req.Holding, req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	if err := lr.svc.Borrow(ctx, caller, holding, req.Asset, amount, req.AcceptFee); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, okResponse{OK: true})
}

type repayRequest struct {
	Holding       string `json:"holding"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	BurnFromOwner bool   `json:"burnFromOwner"`
}

func (lr *ledgerRoutes) repay(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req repayRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	holding, amount, err := parseHoldingAmount(req.Holding, req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	if err := lr.svc.Repay(ctx, caller, holding, req.Asset, amount, req.BurnFromOwner); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, okResponse{OK: true})
}

type itemRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type multipleRequest struct {
	Holding       string        `json:"holding"`
	Items         []itemRequest `json:"items"`
	AcceptFee     bool          `json:"acceptFee"`
	BurnFromOwner bool          `json:"burnFromOwner"`
}

func (req multipleRequest) parse() ([20]byte, []*big.Int, error) {
	holding, err := parseAddress("holding", req.Holding)
	if err != nil {
		return [20]byte{}, nil, err
	}
	if len(req.Items) == 0 {
		return [20]byte{}, nil, errors.New("items: at least one item required")
	}
	amounts := make([]*big.Int, len(req.Items))
	for i, item := range req.Items {
		amount, err := parseAmount(fmt.Sprintf("items[%d].amount", i), item.Amount)
		if err != nil {
			return [20]byte{}, nil, err
		}
		amounts[i] = amount
	}
	return holding, amounts, nil
}

func (lr *ledgerRoutes) borrowMultiple(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req multipleRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	holding, amounts, err := req.parse()
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	items := make([]ledger.BorrowItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = ledger.BorrowItem{Asset: item.Asset, Amount: amounts[i]}
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	if err := lr.svc.BorrowMultiple(ctx, caller, holding, items, req.AcceptFee); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, okResponse{OK: true})
}

func (lr *ledgerRoutes) repayMultiple(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req multipleRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	holding, amounts, err := req.parse()
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	items := make([]ledger.RepayItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = ledger.RepayItem{Asset: item.Asset, Amount: amounts[i]}
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	if err := lr.svc.RepayMultiple(ctx, caller, holding, items, req.BurnFromOwner); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, okResponse{OK: true})
}

type exchangeRequest struct {
	Holding   string `json:"holding"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
	MinOut    string `json:"minOut"`
	RouteData string `json:"routeData"`
}

type exchangeResponse struct {
	AmountOut string `json:"amountOut"`
}

func (lr *ledgerRoutes) exchange(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req exchangeRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	holding, amount, err := parseHoldingAmount(req.Holding, req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	minOut, err := parseOptionalAmount("minOut", req.MinOut)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	route, err := parseHex("routeData", req.RouteData)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	out, err := lr.svc.Exchange(ctx, caller, holding, req.From, req.To, amount, minOut, route)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, exchangeResponse{AmountOut: out.String()})
}

type stepRequest struct {
	Strategy  string `json:"strategy"`
	RouteData string `json:"routeData"`
}

type liquidateRequest struct {
	Holding         string        `json:"holding"`
	Asset           string        `json:"asset"`
	Steps           []stepRequest `json:"steps"`
	MaxLoss         uint64        `json:"maxLoss"`
	BurnFromHolding bool          `json:"burnFromHolding"`
}

type liquidationResponse struct {
	DebtRepaid        string `json:"debtRepaid"`
	CollateralSeized  string `json:"collateralSeized"`
	LiquidatorPayout  string `json:"liquidatorPayout"`
	ProtocolFee       string `json:"protocolFee"`
	StrategiesClaimed string `json:"strategiesClaimed"`
	RewardsClaimed    string `json:"rewardsClaimed"`
}

type liquidateCall func(ctx context.Context, caller, holding [20]byte, asset string, plan ledger.LiquidationPlan) (*ledger.LiquidationResult, error)

func (lr *ledgerRoutes) liquidate(call liquidateCall) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := requireCaller(w, r)
		if !ok {
			return
		}
		var req liquidateRequest
		if err := decodeRequest(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
		holding, err := parseAddress("holding", req.Holding)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		plan := ledger.LiquidationPlan{
			Steps:           make([]ledger.StrategyStep, 0, len(req.Steps)),
			MaxLoss:         req.MaxLoss,
			BurnFromHolding: req.BurnFromHolding,
		}
		for i, step := range req.Steps {
			route, err := parseHex(fmt.Sprintf("steps[%d].routeData", i), step.RouteData)
			if err != nil {
				writeBadRequest(w, err)
				return
			}
			plan.Steps = append(plan.Steps, ledger.StrategyStep{Strategy: step.Strategy, RouteData: route})
		}
		ctx, cancel := lr.context(r.Context())
		defer cancel()
		result, err := call(ctx, caller, holding, req.Asset, plan)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, liquidationResponse{
			DebtRepaid:        bigString(result.DebtRepaid),
			CollateralSeized:  bigString(result.CollateralSeized),
			LiquidatorPayout:  bigString(result.LiquidatorPayout),
			ProtocolFee:       bigString(result.ProtocolFee),
			StrategiesClaimed: bigString(result.StrategiesClaimed),
			RewardsClaimed:    bigString(result.RewardsClaimed),
		})
	}
}

type holdingResponse struct {
	Holding string `json:"holding"`
}

func (lr *ledgerRoutes) holding(call func(ctx context.Context, caller [20]byte) ([20]byte, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := requireCaller(w, r)
		if !ok {
			return
		}
		ctx, cancel := lr.context(r.Context())
		defer cancel()
		holding, err := call(ctx, caller)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, holdingResponse{Holding: crypto.FormatHolding(holding)})
	}
}

type assignRequest struct {
	User string `json:"user"`
}

func (lr *ledgerRoutes) assignHolding(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	holding, err := lr.svc.AssignHolding(ctx, caller, user)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, holdingResponse{Holding: crypto.FormatHolding(holding)})
}

type holdingRecordResponse struct {
	Holding  string `json:"holding"`
	Index    uint64 `json:"index"`
	Minter   string `json:"minter"`
	Owner    string `json:"owner"`
	Assigned bool   `json:"assigned"`
}

func (lr *ledgerRoutes) holdingOf(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("user", chi.URLParam(r, "user"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	rec, ok, err := lr.svc.HoldingOf(r.Context(), user)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("no holding assigned to %s", crypto.FormatAccount(user)))
		return
	}
	writeJSON(w, holdingRecordResponse{
		Holding:  crypto.FormatHolding(rec.Address),
		Index:    rec.Index,
		Minter:   crypto.FormatAccount(rec.Minter),
		Owner:    crypto.FormatAccount(rec.Owner),
		Assigned: rec.Assigned,
	})
}

type rateResponse struct {
	Asset string `json:"asset"`
	Rate  string `json:"rate"`
	Stale bool   `json:"stale"`
}

func (lr *ledgerRoutes) refreshRate(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	rate, err := lr.svc.RefreshRate(ctx, asset)
	if err != nil && !errors.Is(err, ledger.ErrOracleUnavailable) {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, rateResponse{Asset: strings.ToUpper(asset), Rate: bigString(rate), Stale: err != nil})
}

type registryParamsRequest struct {
	CollateralizationRate *uint64 `json:"collateralizationRate"`
	BorrowOpeningFee      *uint64 `json:"borrowOpeningFee"`
	LiquidationMultiplier *uint64 `json:"liquidationMultiplier"`
	Oracle                *string `json:"oracle"`
	TransferOwnershipTo   string  `json:"transferOwnershipTo"`
	AcceptOwnership       bool    `json:"acceptOwnership"`
}

func (lr *ledgerRoutes) updateRegistry(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req registryParamsRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	update := server.RegistryUpdate{
		CollateralizationRate: req.CollateralizationRate,
		BorrowOpeningFee:      req.BorrowOpeningFee,
		LiquidationMultiplier: req.LiquidationMultiplier,
		OracleRef:             req.Oracle,
		AcceptOwnership:       req.AcceptOwnership,
	}
	if req.TransferOwnershipTo != "" {
		candidate, err := parseAddress("transferOwnershipTo", req.TransferOwnershipTo)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		update.TransferOwnershipTo = &candidate
	}
	ctx, cancel := lr.context(r.Context())
	defer cancel()
	if err := lr.svc.UpdateRegistry(ctx, caller, chi.URLParam(r, "asset"), update); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, okResponse{OK: true})
}

type rebaseResponse struct {
	Elastic string `json:"elastic"`
	Base    string `json:"base"`
}

type registryResponse struct {
	Asset                 string         `json:"asset"`
	Decimals              uint8          `json:"decimals"`
	Whitelisted           bool           `json:"whitelisted"`
	CollateralizationRate uint64         `json:"collateralizationRate"`
	BorrowOpeningFee      uint64         `json:"borrowOpeningFee"`
	LiquidationMultiplier uint64         `json:"liquidationMultiplier"`
	Oracle                string         `json:"oracle"`
	Owner                 string         `json:"owner"`
	PendingOwner          string         `json:"pendingOwner,omitempty"`
	ExchangeRate          string         `json:"exchangeRate"`
	Debt                  rebaseResponse `json:"debt"`
	Collateral            rebaseResponse `json:"collateral"`
	FeesEarned            string         `json:"feesEarned"`
	LastAccruedTimestamp  uint64         `json:"lastAccruedTimestamp"`
}

func (lr *ledgerRoutes) registryInfo(w http.ResponseWriter, r *http.Request) {
	info, whitelisted, err := lr.svc.RegistryInfo(r.Context(), chi.URLParam(r, "asset"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	resp := registryResponse{
		Asset:                 info.Asset,
		Decimals:              info.Decimals,
		Whitelisted:           whitelisted,
		CollateralizationRate: info.Params.CollateralizationRate,
		BorrowOpeningFee:      info.Params.BorrowOpeningFee,
		LiquidationMultiplier: info.Params.LiquidationMultiplier,
		Oracle:                info.Params.OracleRef,
		Owner:                 crypto.FormatAccount(info.Ownership.Owner),
		ExchangeRate:          bigString(info.ExchangeRate),
		Debt:                  rebaseResponse{Elastic: bigString(info.Debt.Elastic), Base: bigString(info.Debt.Base)},
		Collateral:            rebaseResponse{Elastic: bigString(info.CollateralTotal.Elastic), Base: bigString(info.CollateralTotal.Base)},
		FeesEarned:            bigString(info.Accrue.FeesEarned),
		LastAccruedTimestamp:  info.Accrue.LastAccruedTimestamp,
	}
	if info.Ownership.HasPending {
		resp.PendingOwner = crypto.FormatAccount(info.Ownership.PendingOwner)
	}
	writeJSON(w, resp)
}

type positionResponse struct {
	Asset            string `json:"asset"`
	Holding          string `json:"holding"`
	CollateralShares string `json:"collateralShares"`
	CollateralAmount string `json:"collateralAmount"`
	BorrowedShares   string `json:"borrowedShares"`
	BorrowedAmount   string `json:"borrowedAmount"`
	Solvent          bool   `json:"solvent"`
}

func (lr *ledgerRoutes) position(w http.ResponseWriter, r *http.Request) {
	holding, err := parseAddress("holding", chi.URLParam(r, "holding"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	pos, err := lr.svc.Position(r.Context(), chi.URLParam(r, "asset"), holding)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, positionResponse{
		Asset:            pos.Asset,
		Holding:          crypto.FormatHolding(pos.Holding),
		CollateralShares: bigString(pos.CollateralShares),
		CollateralAmount: bigString(pos.CollateralAmount),
		BorrowedShares:   bigString(pos.BorrowedShares),
		BorrowedAmount:   bigString(pos.BorrowedAmount),
		Solvent:          pos.Solvent,
	})
}

type balanceResponse struct {
	Asset   string `json:"asset"`
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func (lr *ledgerRoutes) balance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	asset := chi.URLParam(r, "asset")
	balance, err := lr.svc.Balance(r.Context(), asset, addr)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, balanceResponse{Asset: strings.ToUpper(asset), Address: crypto.FormatAccount(addr), Balance: bigString(balance)})
}

type eventsResponse struct {
	Events []types.EventRecord `json:"events"`
	Next   uint64              `json:"next"`
}

func eventQuery(r *http.Request) (journal.Query, error) {
	values := r.URL.Query()
	q := journal.Query{Type: values.Get("type"), Asset: values.Get("asset")}
	if raw := values.Get("holding"); raw != "" {
		holding, err := parseAddress("holding", raw)
		if err != nil {
			return q, err
		}
		q.Holding = crypto.FormatHolding(holding)
	}
	if raw := values.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return q, fmt.Errorf("after: %w", err)
		}
		q.After = after
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return q, fmt.Errorf("limit: invalid value %q", raw)
		}
		q.Limit = limit
	}
	return q, nil
}

func (lr *ledgerRoutes) events(w http.ResponseWriter, r *http.Request) {
	q, err := eventQuery(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	records, err := lr.svc.Events(r.Context(), q)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	next := q.After
	if len(records) > 0 {
		next = records[len(records)-1].Sequence
	}
	writeJSON(w, eventsResponse{Events: records, Next: next})
}

// exportEvents streams the selected journal page as a parquet file.
func (lr *ledgerRoutes) exportEvents(w http.ResponseWriter, r *http.Request) {
	q, err := eventQuery(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	dir, err := os.MkdirTemp("", "ledger-export-")
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "events.parquet")
	if _, err := lr.svc.ExportEvents(r.Context(), path, q); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", `attachment; filename="events.parquet"`)
	http.ServeFile(w, r, path)
}

type whitelistRequest struct {
	Asset   string `json:"asset"`
	Allowed bool   `json:"allowed"`
}

func (lr *ledgerRoutes) setWhitelist(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req whitelistRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := lr.svc.SetAssetWhitelisted(r.Context(), caller, req.Asset, req.Allowed); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, okResponse{OK: true})
}

type poolMaximumRequest struct {
	Maximum uint64 `json:"maximum"`
}

func (lr *ledgerRoutes) setPoolMaximum(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req poolMaximumRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := lr.svc.SetPoolMaximum(r.Context(), caller, req.Maximum); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, okResponse{OK: true})
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func (lr *ledgerRoutes) setPaused(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req pauseRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := lr.svc.SetPaused(r.Context(), caller, req.Module, req.Paused); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, okResponse{OK: true})
}

type oracleRateRequest struct {
	Asset string `json:"asset"`
	Rate  string `json:"rate"`
}

func (lr *ledgerRoutes) setOracleRate(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req oracleRateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	rate, err := parseOptionalAmount("rate", req.Rate)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := lr.svc.SetOracleRate(r.Context(), caller, req.Asset, rate); err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, okResponse{OK: true})
}

type okResponse struct {
	OK bool `json:"ok"`
}

func requireCaller(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, errors.New("caller identity required"))
		return [20]byte{}, false
	}
	return caller, true
}

func decodeRequest(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, ledgerRequestLimit))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func parseAddress(field, value string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

// parseAmount reads a base-10 amount bounded to 256 bits.
func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%s: amount required", field)
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return amount.ToBig(), nil
}

func parseOptionalAmount(field, value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return new(big.Int), nil
	}
	return parseAmount(field, value)
}

func parseHoldingAmount(holding, amount string) ([20]byte, *big.Int, error) {
	addr, err := parseAddress("holding", holding)
	if err != nil {
		return [20]byte{}, nil, err
	}
	value, err := parseAmount("amount", amount)
	if err != nil {
		return [20]byte{}, nil, err
	}
	return addr, value, nil
}

func parseHex(field, value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return nil, nil
	}
	data, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return data, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
