package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Cogwheel-Validator/comet-router/comet/collab/fungible"
	"github.com/Cogwheel-Validator/comet-router/comet/journal"
	"github.com/Cogwheel-Validator/comet-router/comet/models"
	"github.com/Cogwheel-Validator/comet-router/comet/network"
	"github.com/Cogwheel-Validator/comet-router/comet/quote"
	"github.com/Cogwheel-Validator/comet-router/comet/router"
	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
	"github.com/Cogwheel-Validator/comet-router/comet/sandbox"
)

const maxBodyBytes = 1 << 20

// Service backs the HTTP API with a booted network.
type Service struct {
	Network            *network.Network
	Estimator          *quote.Estimator
	Journal            journal.Store
	Metrics            *Metrics
	DefaultSlippageBps uint32
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Logger.Error().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	resp := models.ErrorResponse{Error: err.Error()}
	if code, ok := runtime.AbortCode(err); ok {
		resp.Code = code
	}
	writeJSON(w, status, resp)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func accountParam(r *http.Request, name string) (runtime.AccountID, error) {
	id, err := runtime.ParseAccountID(chi.URLParam(r, name))
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return id, nil
}

// statusFor maps lookup failures to 404 and everything else to 400.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sandbox.ErrAccountNotFound), errors.Is(err, sandbox.ErrUnknownTx), errors.Is(err, quote.ErrNoRoute):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func (s *Service) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req models.DepositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Sender.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("sender: %w", err))
		return
	}
	if _, ok := s.Network.Tokens[req.Token]; !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("token %q is not deployed", req.Token))
		return
	}
	if req.Amount.IsZero() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("amount must be greater than zero"))
		return
	}
	if maxTGas := uint64(s.Network.VM.MaxGas() / runtime.TGas); req.GasTGas > maxTGas {
		writeError(w, http.StatusBadRequest, fmt.Errorf("gas_tgas must not exceed %d", maxTGas))
		return
	}

	out, err := s.Network.Deposit(r.Context(), network.DepositRequest{
		Sender: req.Sender,
		Token:  req.Token,
		Amount: req.Amount,
		Msg:    req.Msg,
		Gas:    runtime.Gas(req.GasTGas) * runtime.TGas,
	})
	if err != nil {
		if out == nil {
			writeError(w, statusFor(err), err)
			return
		}
		Logger.Warn().Err(err).Str("tx", out.Hash).Msg("Deposit interrupted")
	}
	if s.Metrics != nil {
		s.Metrics.observeDeposit(req.Token, out.Status)
	}

	resp := models.DepositResponse{Outcome: out, Settlements: []router.SettlementData{}}
	for _, line := range out.Logs() {
		ev, ok := router.ParseEvent(line)
		if !ok {
			continue
		}
		var data router.SettlementData
		switch ev.Event {
		case router.EventSettlementDispatched:
			if ev.DecodeData(&data) == nil {
				resp.Settlements = append(resp.Settlements, data)
			}
		case router.EventSettlementStranded:
			if ev.DecodeData(&data) == nil {
				resp.Stranded = append(resp.Stranded, data)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// depositGas is the prepaid gas a single-route deposit needs: the token's
// ft_transfer_call and ft_resolve_transfer plus the router's share.
func (s *Service) depositGas() (uint64, error) {
	routes, err := s.Network.Router.Budget().ForRoutes(1)
	if err != nil {
		return 0, err
	}
	total := routes + 2*runtime.ExecutionBaseGas + fungible.ResolveGas
	return uint64((total + runtime.TGas - 1) / runtime.TGas), nil
}

func (s *Service) handleQuote(w http.ResponseWriter, r *http.Request) {
	if s.Estimator == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("quoting is not configured"))
		return
	}
	var req models.QuoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	slippage := s.DefaultSlippageBps
	switch {
	case req.SlippageBps != nil:
		slippage = *req.SlippageBps
	case req.Slippage != "":
		bps, err := quote.PercentToBps(req.Slippage)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		slippage = bps
	}

	q, err := s.Estimator.Best(r.Context(), req.TokenIn, req.TokenOut, req.AmountIn)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	ins, err := quote.BuildInstruction(q, slippage, req.ReferralID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	gas, err := s.depositGas()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, models.QuoteResponse{
		Dex:          q.Dex,
		Hops:         q.Hops,
		AmountOut:    q.AmountOut,
		MinAmountOut: ins.MinAmountOut,
		SlippageBps:  slippage,
		Msg:          ins.Msg,
		GasTGas:      gas,
	})
}

func (s *Service) handleBalance(w http.ResponseWriter, r *http.Request) {
	token, err := accountParam(r, "token")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := accountParam(r, "account")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	balance, err := s.Network.Balance(r.Context(), token, account)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, models.BalanceResponse{Token: token, Account: account, Balance: balance})
}

func (s *Service) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.WhitelistResponse{Dexes: s.Network.Router.Whitelist().Members()})
}

func (s *Service) handleBudget(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Network.Router.Budget().View())
}

func (s *Service) handleTx(w http.ResponseWriter, r *http.Request) {
	out, err := s.Network.VM.Outcome(chi.URLParam(r, "hash"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleSettlements(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("journal is not configured"))
		return
	}
	q := r.URL.Query()
	f := journal.Filter{
		TxHash:      q.Get("tx"),
		Destination: q.Get("destination"),
		Outcome:     q.Get("outcome"),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and 1000"))
			return
		}
		f.Limit = limit
	}
	records, err := s.Journal.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, models.SettlementsResponse{Settlements: records})
}

// routes mounts the API on r.
func (s *Service) routes(r chi.Router) {
	r.Use(noCacheMiddleware)
	r.Post("/deposit", s.handleDeposit)
	r.Post("/quote", s.handleQuote)
	r.Get("/balances/{token}/{account}", s.handleBalance)
	r.Get("/whitelist", s.handleWhitelist)
	r.Get("/budget", s.handleBudget)
	r.Get("/tx/{hash}", s.handleTx)
	r.Get("/settlements", s.handleSettlements)
}
