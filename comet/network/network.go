// Package network boots a local network from a genesis: the executor, the
// router contract, the token ledgers and the exchanges.
package network

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cogwheel-Validator/comet-router/comet/collab/exchange"
	"github.com/Cogwheel-Validator/comet-router/comet/collab/fungible"
	"github.com/Cogwheel-Validator/comet-router/comet/config"
	"github.com/Cogwheel-Validator/comet-router/comet/router"
	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
	"github.com/Cogwheel-Validator/comet-router/comet/sandbox"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "network").Logger()
}

// Network is a booted genesis.
type Network struct {
	VM            *sandbox.VM
	Router        *router.Router
	RouterAccount runtime.AccountID
	Tokens        map[runtime.AccountID]*fungible.Token
	Exchanges     map[runtime.AccountID]*exchange.Exchange
	DefaultGas    runtime.Gas
}

// Boot deploys everything in g. Every user, the router and every exchange
// is registered on every token; exchange reserves are minted to the
// exchange so withdrawals are backed.
func Boot(g *config.Genesis) (*Network, error) {
	vm, err := sandbox.New(sandbox.Config{
		MaxGas:  g.MaxGas,
		Workers: g.Workers,
		History: sandbox.DefaultConfig().History,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	r, err := router.New(g.Whitelist, g.Budget)
	if err != nil {
		return nil, err
	}
	if err := vm.Deploy(g.RouterAccount, r); err != nil {
		return nil, fmt.Errorf("failed to deploy router: %w", err)
	}

	n := &Network{
		VM:            vm,
		Router:        r,
		RouterAccount: g.RouterAccount,
		Tokens:        make(map[runtime.AccountID]*fungible.Token, len(g.Tokens)),
		Exchanges:     make(map[runtime.AccountID]*exchange.Exchange, len(g.Exchanges)),
		DefaultGas:    g.DefaultGas,
	}

	holders := append([]runtime.AccountID{g.RouterAccount}, g.Users...)
	for _, xc := range g.Exchanges {
		holders = append(holders, xc.Account)
	}

	for _, tc := range g.Tokens {
		token := fungible.New(tc.Account, fungible.Metadata{Name: tc.Name, Symbol: tc.Symbol, Decimals: tc.Decimals})
		for _, h := range holders {
			token.Register(h)
		}
		for holder, amount := range tc.Balances {
			if err := token.Mint(holder, amount); err != nil {
				return nil, fmt.Errorf("failed to mint %s: %w", tc.Account, err)
			}
		}
		if err := vm.Deploy(tc.Account, token); err != nil {
			return nil, fmt.Errorf("failed to deploy token: %w", err)
		}
		n.Tokens[tc.Account] = token
	}

	for _, xc := range g.Exchanges {
		x := exchange.New()
		x.SetMode(exchange.Mode{
			FailSwaps:           xc.FailSwaps,
			MalformedSwapResult: xc.MalformedSwapResult,
			FailWithdrawals:     xc.FailWithdrawals,
		})
		for _, pc := range xc.Pools {
			if _, err := x.AddPool(pc.Tokens[0], pc.Tokens[1], pc.Reserves[0], pc.Reserves[1], pc.FeeBps); err != nil {
				return nil, fmt.Errorf("failed to add pool to %s: %w", xc.Account, err)
			}
			for k := 0; k < 2; k++ {
				if err := n.Tokens[pc.Tokens[k]].Mint(xc.Account, pc.Reserves[k]); err != nil {
					return nil, fmt.Errorf("failed to fund %s reserves: %w", xc.Account, err)
				}
			}
		}
		if err := vm.Deploy(xc.Account, x); err != nil {
			return nil, fmt.Errorf("failed to deploy exchange: %w", err)
		}
		n.Exchanges[xc.Account] = x
	}

	log.Info().
		Str("router", g.RouterAccount.String()).
		Str("mode", string(g.Budget.Mode())).
		Int("tokens", len(n.Tokens)).
		Int("exchanges", len(n.Exchanges)).
		Msg("Network booted")
	return n, nil
}

// DepositRequest sends amount of token from sender into the router with msg
// as the routing instruction.
type DepositRequest struct {
	Sender runtime.AccountID
	Token  runtime.AccountID
	Amount runtime.U128
	Msg    string
	Gas    runtime.Gas
}

type transferCallArgs struct {
	ReceiverID runtime.AccountID `json:"receiver_id"`
	Amount     runtime.U128      `json:"amount"`
	Msg        string            `json:"msg"`
}

// Deposit runs ft_transfer_call on the token and everything it triggers.
func (n *Network) Deposit(ctx context.Context, req DepositRequest) (*sandbox.TxOutcome, error) {
	args, err := json.Marshal(transferCallArgs{ReceiverID: n.RouterAccount, Amount: req.Amount, Msg: req.Msg})
	if err != nil {
		return nil, fmt.Errorf("failed to encode deposit: %w", err)
	}
	gas := req.Gas
	if gas == 0 {
		gas = n.DefaultGas
	}
	return n.VM.Transact(ctx, sandbox.Transaction{
		Signer:   req.Sender,
		Receiver: req.Token,
		Method:   fungible.MethodTransferCall,
		Args:     args,
		Deposit:  runtime.OneYocto,
		Gas:      gas,
	})
}

// Balance reads a token balance through the ledger's view.
func (n *Network) Balance(ctx context.Context, token, account runtime.AccountID) (runtime.U128, error) {
	args, err := json.Marshal(map[string]runtime.AccountID{"account_id": account})
	if err != nil {
		return runtime.U128{}, err
	}
	raw, err := n.VM.View(ctx, token, fungible.MethodBalanceOf, args)
	if err != nil {
		return runtime.U128{}, err
	}
	var balance runtime.U128
	if err := json.Unmarshal(raw, &balance); err != nil {
		return runtime.U128{}, fmt.Errorf("failed to decode balance: %w", err)
	}
	return balance, nil
}

// Dexes lists whitelisted exchanges that are deployed on this network.
func (n *Network) Dexes() []runtime.AccountID {
	var out []runtime.AccountID
	for _, id := range n.Router.Whitelist().Members() {
		if _, ok := n.Exchanges[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
