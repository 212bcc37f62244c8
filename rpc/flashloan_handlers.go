package rpc

import (
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agehcx/flashloan-playground/native/achievements"
	"github.com/agehcx/flashloan-playground/native/flashloan"
	"github.com/agehcx/flashloan-playground/native/flashpool"
)

type poolParams struct {
	Asset string `json:"asset"`
}

type poolResult struct {
	Asset         string `json:"asset"`
	Balance       string `json:"balance"`
	Whitelisted   bool   `json:"whitelisted"`
	TotalBorrowed string `json:"totalBorrowed"`
	TotalRepaid   string `json:"totalRepaid"`
}

type feeResult struct {
	BasisPoints uint32 `json:"basisPoints"`
}

type liquidityParams struct {
	From   string `json:"from,omitempty"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type setFeeParams struct {
	BasisPoints uint32 `json:"basisPoints"`
}

type whitelistParams struct {
	Asset   string `json:"asset"`
	Enabled bool   `json:"enabled"`
}

type executeParams struct {
	Initiator string `json:"initiator"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
}

type executeResult struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Fee    string `json:"fee"`
}

type badgeParams struct {
	User string `json:"user"`
}

type badgeResult struct {
	BadgeID  uint64 `json:"badgeId"`
	Owner    string `json:"owner"`
	MintedAt int64  `json:"mintedAt"`
}

func (s *Server) handleGetPool(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params poolParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	pool, err := s.pool.Pool(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, poolResult{
		Asset:         pool.Asset,
		Balance:       pool.Balance.String(),
		Whitelisted:   pool.Whitelisted,
		TotalBorrowed: pool.TotalBorrowed.String(),
		TotalRepaid:   pool.TotalRepaid.String(),
	})
}

func (s *Server) handleGetFee(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	bps, err := s.pool.FeeBasisPoints()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, feeResult{BasisPoints: bps})
}

func (s *Server) handleAddLiquidity(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params liquidityParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	from, ok := parseAddress(params.From)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid from address", nil)
		return
	}
	amount, ok := parseAmount(params.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", nil)
		return
	}
	err := s.mutate(func() error {
		return s.pool.AddLiquidity(from, params.Asset, amount)
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRemoveLiquidity(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params liquidityParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	amount, ok := parseAmount(params.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", nil)
		return
	}
	err := s.mutate(func() error {
		return s.pool.RemoveLiquidity(s.admin, params.Asset, amount)
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetFee(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params setFeeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	err := s.mutate(func() error {
		return s.pool.SetFee(s.admin, params.BasisPoints)
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetWhitelist(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params whitelistParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	err := s.mutate(func() error {
		return s.pool.SetWhitelist(s.admin, params.Asset, params.Enabled)
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params executeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	initiator, ok := parseAddress(params.Initiator)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid initiator address", nil)
		return
	}
	amount, ok := parseAmount(params.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", nil)
		return
	}
	fee, err := s.pool.CalculateFee(params.Asset, amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeServerError, err.Error(), nil)
		return
	}
	err = s.mutate(func() error {
		return s.executor.FlashLoan(r.Context(), initiator, params.Asset, amount, s.receiver, nil)
	})
	if err != nil {
		s.metrics.SessionsAborted.WithLabelValues(params.Asset, abortReason(err)).Inc()
		writeError(w, http.StatusBadRequest, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, executeResult{Asset: params.Asset, Amount: amount.String(), Fee: fee.String()})
}

func (s *Server) handleGetBadge(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params badgeParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	user, ok := parseAddress(params.User)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid user address", nil)
		return
	}
	badge, err := s.tracker.BadgeOf(user)
	if errors.Is(err, achievements.ErrBadgeNotFound) {
		writeResult(w, req.ID, nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, badgeResult{
		BadgeID:  badge.ID,
		Owner:    common.BytesToAddress(badge.Owner[:]).Hex(),
		MintedAt: badge.MintedAt,
	})
}

func abortReason(err error) string {
	switch {
	case errors.Is(err, flashloan.ErrReentrantCall):
		return "reentrant_call"
	case errors.Is(err, flashloan.ErrCallbackFailed):
		return "callback_failed"
	case errors.Is(err, flashloan.ErrRepaymentFailed):
		return "repayment_failed"
	case errors.Is(err, flashloan.ErrBalanceInvariantViolated):
		return "invariant_violated"
	case errors.Is(err, flashloan.ErrInvalidReceiver):
		return "invalid_receiver"
	case errors.Is(err, flashpool.ErrNotWhitelisted):
		return "not_whitelisted"
	case errors.Is(err, flashpool.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, flashpool.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	default:
		return "other"
	}
}

func parseAddress(raw string) ([20]byte, bool) {
	if !common.IsHexAddress(raw) {
		return [20]byte{}, false
	}
	return common.HexToAddress(raw), true
}

func parseAmount(raw string) (*big.Int, bool) {
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, false
	}
	return value, true
}
