package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"vaultledger/native/ledger"
)

// statusFor maps a ledger failure onto an HTTP status.
func statusFor(reason string) int {
	switch reason {
	case "":
		return http.StatusOK
	case ledger.ReasonUnauthorized:
		return http.StatusForbidden
	case ledger.ReasonInvalid:
		return http.StatusBadRequest
	case ledger.ReasonUnknownAsset:
		return http.StatusNotFound
	case ledger.ReasonNotWhitelisted, ledger.ReasonOverLimit, ledger.ReasonInsufficient,
		ledger.ReasonNothingToRepay, ledger.ReasonNotLiquidatable, ledger.ReasonNoPendingTransfer,
		ledger.ReasonSlippage, ledger.ReasonTransfer:
		return http.StatusUnprocessableEntity
	case ledger.ReasonAlreadyAssigned:
		return http.StatusConflict
	case ledger.ReasonPoolExhausted, ledger.ReasonNoHolding:
		return http.StatusTooManyRequests
	case ledger.ReasonOracle, ledger.ReasonPaused:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeLedgerError(w http.ResponseWriter, err error) {
	reason := ledger.Reason(err)
	writeJSONStatus(w, statusFor(reason), errorResponse{Error: message(err, statusFor(reason)), Reason: reason})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONStatus(w, http.StatusBadRequest, errorResponse{Error: message(err, http.StatusBadRequest), Reason: ledger.ReasonInvalid})
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSONStatus(w, status, errorResponse{Error: message(err, status)})
}

func message(err error, status int) string {
	if err == nil {
		return http.StatusText(status)
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return http.StatusText(status)
	}
	return msg
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	writeJSONStatus(w, http.StatusOK, payload)
}

func writeJSONStatus(w http.ResponseWriter, status int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(fmt.Sprintf("{\"error\":%q}", "marshal response: "+err.Error()))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
