// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"github.com/Cogwheel-Validator/comet-router/comet/journal"
	"github.com/Cogwheel-Validator/comet-router/comet/quote"
	"github.com/Cogwheel-Validator/comet-router/comet/router"
	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
	"github.com/Cogwheel-Validator/comet-router/comet/sandbox"
)

// DepositRequest sends Amount of Token from Sender into the router. Msg is
// the routing instruction; GasTGas defaults to the network's default gas.
type DepositRequest struct {
	Sender  runtime.AccountID `json:"sender"`
	Token   runtime.AccountID `json:"token"`
	Amount  runtime.U128      `json:"amount"`
	Msg     string            `json:"msg"`
	GasTGas uint64            `json:"gas_tgas,omitempty"`
}

type DepositResponse struct {
	Outcome     *sandbox.TxOutcome      `json:"outcome"`
	Settlements []router.SettlementData `json:"settlements"`
	Stranded    []router.SettlementData `json:"stranded,omitempty"`
}

// QuoteRequest asks for the best route of AmountIn from TokenIn to
// TokenOut. Slippage is either basis points or a percent string such as
// "0.5"; neither means the configured default.
type QuoteRequest struct {
	TokenIn     runtime.AccountID  `json:"token_in"`
	TokenOut    runtime.AccountID  `json:"token_out"`
	AmountIn    runtime.U128       `json:"amount_in"`
	SlippageBps *uint32            `json:"slippage_bps,omitempty"`
	Slippage    string             `json:"slippage,omitempty"`
	ReferralID  *runtime.AccountID `json:"referral_id,omitempty"`
}

type QuoteResponse struct {
	Dex          runtime.AccountID `json:"dex"`
	Hops         []quote.Hop       `json:"hops"`
	AmountOut    runtime.U128      `json:"amount_out"`
	MinAmountOut runtime.U128      `json:"min_amount_out"`
	SlippageBps  uint32            `json:"slippage_bps"`
	// Msg is ready to be passed as the msg of ft_transfer_call.
	Msg     string `json:"msg"`
	GasTGas uint64 `json:"gas_tgas"`
}

type BalanceResponse struct {
	Token   runtime.AccountID `json:"token"`
	Account runtime.AccountID `json:"account"`
	Balance runtime.U128      `json:"balance"`
}

type WhitelistResponse struct {
	Dexes []runtime.AccountID `json:"dexes"`
}

type SettlementsResponse struct {
	Settlements []journal.Record `json:"settlements"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
