package rpc

import "net/http"

type tokenMintParams struct {
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type tokenBalanceParams struct {
	Asset   string `json:"asset"`
	Address string `json:"address"`
}

type tokenBalanceResult struct {
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

func (s *Server) handleTokenMint(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenMintParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	to, ok := parseAddress(params.To)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid recipient address", nil)
		return
	}
	amount, ok := parseAmount(params.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", nil)
		return
	}
	err := s.mutate(func() error {
		return s.tokens.Mint(params.Asset, to, amount)
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tokenBalanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameters", err.Error())
		return
	}
	addr, ok := parseAddress(params.Address)
	if !ok {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", nil)
		return
	}
	balance, err := s.tokens.BalanceOf(params.Asset, addr)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeServerError, err.Error(), nil)
		return
	}
	writeResult(w, req.ID, tokenBalanceResult{Asset: params.Asset, Balance: balance.String()})
}
