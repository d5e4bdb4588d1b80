// Package sandbox is an in-process asynchronous receipt executor. Contracts
// deployed on accounts exchange promises the same way they would on chain:
// each call runs to completion, outgoing calls become receipts, and
// callbacks run once the receipts they depend on have resolved.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "sandbox").Logger()
}

const tracerName = "github.com/Cogwheel-Validator/comet-router/comet/sandbox"

var (
	ErrAccountExists   = errors.New("account already has a contract")
	ErrAccountNotFound = errors.New("account does not exist")
	ErrUnknownTx       = errors.New("unknown transaction")
)

// Config bounds what the executor accepts.
type Config struct {
	// MaxGas is the largest prepaid gas a transaction may carry.
	MaxGas runtime.Gas
	// Workers is how many receipts may execute at once.
	Workers int
	// History is how many finished transactions Outcome remembers.
	History int
}

func DefaultConfig() Config {
	return Config{
		MaxGas:  runtime.MaxPrepaidGas,
		Workers: 4,
		History: 1024,
	}
}

// Observer is notified after every executed receipt, in execution order
// within a transaction.
type Observer interface {
	ReceiptExecuted(ctx context.Context, txHash string, outcome *ReceiptOutcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, txHash string, outcome *ReceiptOutcome)

func (f ObserverFunc) ReceiptExecuted(ctx context.Context, txHash string, outcome *ReceiptOutcome) {
	f(ctx, txHash, outcome)
}

// Transaction is a signed call from an external account.
type Transaction struct {
	Signer   runtime.AccountID
	Receiver runtime.AccountID
	Method   string
	Args     []byte
	Deposit  runtime.U128
	Gas      runtime.Gas
}

type receipt struct {
	id          uint64
	predecessor runtime.AccountID
	receiver    runtime.AccountID
	signer      runtime.AccountID
	method      string
	args        []byte
	deposit     runtime.U128
	gas         runtime.Gas
	deps        []uint64
}

type VM struct {
	cfg    Config
	tracer trace.Tracer

	mu        sync.RWMutex
	contracts map[runtime.AccountID]runtime.Contract
	locks     map[runtime.AccountID]*sync.Mutex
	observers []Observer

	historyMu sync.Mutex
	history   map[string]*TxOutcome
	order     []string

	nextReceipt atomic.Uint64
	nextTx      atomic.Uint64
}

func New(cfg Config) (*VM, error) {
	if cfg.MaxGas == 0 {
		return nil, fmt.Errorf("max gas must be greater than zero")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be greater than zero")
	}
	if cfg.History < 0 {
		return nil, fmt.Errorf("history must not be negative")
	}
	return &VM{
		cfg:       cfg,
		tracer:    otel.Tracer(tracerName),
		contracts: make(map[runtime.AccountID]runtime.Contract),
		locks:     make(map[runtime.AccountID]*sync.Mutex),
		history:   make(map[string]*TxOutcome),
	}, nil
}

// Deploy installs c on a fresh account.
func (vm *VM) Deploy(id runtime.AccountID, c runtime.Contract) error {
	if err := id.Validate(); err != nil {
		return err
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if _, ok := vm.contracts[id]; ok {
		return fmt.Errorf("%s: %w", id, ErrAccountExists)
	}
	vm.contracts[id] = c
	vm.locks[id] = &sync.Mutex{}
	log.Debug().Str("account", id.String()).Msg("Contract deployed")
	return nil
}

func (vm *VM) Contract(id runtime.AccountID) (runtime.Contract, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	c, ok := vm.contracts[id]
	return c, ok
}

// Accounts lists accounts with a deployed contract.
func (vm *VM) Accounts() []runtime.AccountID {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]runtime.AccountID, 0, len(vm.contracts))
	for id := range vm.contracts {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (vm *VM) AddObserver(o Observer) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.observers = append(vm.observers, o)
}

func (vm *VM) MaxGas() runtime.Gas {
	return vm.cfg.MaxGas
}

// View runs a read-only call. Promise operations fail inside it.
func (vm *VM) View(ctx context.Context, account runtime.AccountID, method string, args []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, lock, err := vm.lookup(account)
	if err != nil {
		return nil, err
	}
	r := &receipt{
		predecessor: account,
		receiver:    account,
		signer:      account,
		method:      method,
		args:        args,
		gas:         vm.cfg.MaxGas,
	}
	env := newCallEnv(r, nil, true)

	lock.Lock()
	err = safeCall(c, env, method, args)
	lock.Unlock()
	if err != nil {
		return nil, fmt.Errorf("view %s.%s: %w", account, method, err)
	}
	return env.value, nil
}

// Outcome returns a finished transaction by hash.
func (vm *VM) Outcome(hash string) (*TxOutcome, error) {
	vm.historyMu.Lock()
	defer vm.historyMu.Unlock()
	tx, ok := vm.history[hash]
	if !ok {
		return nil, fmt.Errorf("%s: %w", hash, ErrUnknownTx)
	}
	return tx, nil
}

func (vm *VM) remember(tx *TxOutcome) {
	if vm.cfg.History == 0 {
		return
	}
	vm.historyMu.Lock()
	defer vm.historyMu.Unlock()
	vm.history[tx.Hash] = tx
	vm.order = append(vm.order, tx.Hash)
	for len(vm.order) > vm.cfg.History {
		delete(vm.history, vm.order[0])
		vm.order = vm.order[1:]
	}
}

func (vm *VM) lookup(id runtime.AccountID) (runtime.Contract, *sync.Mutex, error) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	c, ok := vm.contracts[id]
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", id, ErrAccountNotFound)
	}
	return c, vm.locks[id], nil
}

func (vm *VM) snapshotObservers() []Observer {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return append([]Observer(nil), vm.observers...)
}

func (vm *VM) txHash(tx Transaction) string {
	seq := vm.nextTx.Add(1)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s:%s:%s:%x", seq, tx.Signer, tx.Receiver, tx.Method, tx.Args)))
	return hex.EncodeToString(sum[:16])
}

// Transact executes tx and every receipt it spawns, returning once nothing
// is left to run. A ctx cancelled before the root receipt is dispatched
// rejects the transaction. Once dispatched, every spawned receipt runs to
// completion whatever happens to ctx.
func (vm *VM) Transact(ctx context.Context, tx Transaction) (*TxOutcome, error) {
	if err := tx.Signer.Validate(); err != nil {
		return nil, fmt.Errorf("invalid signer: %w", err)
	}
	if err := tx.Receiver.Validate(); err != nil {
		return nil, fmt.Errorf("invalid receiver: %w", err)
	}
	if tx.Gas == 0 || tx.Gas > vm.cfg.MaxGas {
		return nil, fmt.Errorf("transaction gas %s must be between 1 and %s", tx.Gas, vm.cfg.MaxGas)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("transaction not dispatched: %w", err)
	}
	ctx = context.WithoutCancel(ctx)

	root := &receipt{
		id:          vm.nextReceipt.Add(1),
		predecessor: tx.Signer,
		receiver:    tx.Receiver,
		signer:      tx.Signer,
		method:      tx.Method,
		args:        tx.Args,
		deposit:     tx.Deposit,
		gas:         tx.Gas,
	}
	run := newTxRun(vm.txHash(tx), root.id)
	run.outcome.Signer = tx.Signer
	run.outcome.Receiver = tx.Receiver
	run.outcome.Method = tx.Method

	observers := vm.snapshotObservers()
	done := make(chan executed)
	var g errgroup.Group
	g.SetLimit(vm.cfg.Workers)

	queue := []*receipt{root}
	inflight := 0

	for {
		for len(queue) > 0 {
			r := queue[0]
			results := run.resultsFor(r)
			if !g.TryGo(func() error {
				done <- vm.execute(ctx, run.outcome.Hash, r, results)
				return nil
			}) {
				break
			}
			queue = queue[1:]
			inflight++
		}
		if inflight == 0 {
			break
		}

		ex := <-done
		inflight--
		queue = append(queue, run.complete(ex, &vm.nextReceipt)...)
		for _, o := range observers {
			o.ReceiptExecuted(ctx, run.outcome.Hash, ex.outcome)
		}
	}
	_ = g.Wait()

	out := run.finish()
	vm.remember(out)
	log.Debug().
		Str("tx", out.Hash).
		Str("status", string(out.Status)).
		Int("receipts", len(out.Receipts)).
		Msg("Transaction finished")
	return out, nil
}

type executed struct {
	receipt *receipt
	outcome *ReceiptOutcome
	env     *callEnv
	err     error
}

func (vm *VM) execute(ctx context.Context, txHash string, r *receipt, results []runtime.PromiseResult) executed {
	_, span := vm.tracer.Start(ctx, r.method, trace.WithAttributes(
		attribute.String("tx", txHash),
		attribute.Int64("receipt", int64(r.id)),
		attribute.String("receiver", r.receiver.String()),
		attribute.String("predecessor", r.predecessor.String()),
	))
	defer span.End()

	start := time.Now()
	env := newCallEnv(r, results, false)
	err := vm.run(env, r)

	outcome := &ReceiptOutcome{
		ID:          r.id,
		Predecessor: r.predecessor,
		Receiver:    r.receiver,
		Method:      r.method,
		Deposit:     r.deposit,
		Gas:         r.gas,
		GasBurnt:    min(runtime.ExecutionBaseGas, r.gas),
		DependsOn:   r.deps,
		Logs:        env.logs,
		Duration:    time.Since(start),
	}
	if err != nil {
		outcome.Status = StatusFailure
		outcome.Failure = err.Error()
		outcome.AbortCode, _ = runtime.AbortCode(err)
		span.SetStatus(codes.Error, outcome.Failure)
	} else {
		outcome.Status = StatusSuccess
		outcome.GasBurnt = env.UsedGas()
		if env.ret == returnValue {
			outcome.ReturnValue = string(env.value)
		}
	}
	span.SetAttributes(attribute.String("status", string(outcome.Status)))
	return executed{receipt: r, outcome: outcome, env: env, err: err}
}

func (vm *VM) run(env *callEnv, r *receipt) error {
	c, lock, err := vm.lookup(r.receiver)
	if err != nil {
		return err
	}
	if r.gas < runtime.ExecutionBaseGas {
		return runtime.ErrExceededPrepaidGas
	}
	lock.Lock()
	defer lock.Unlock()
	return safeCall(c, env, r.method, r.args)
}

func safeCall(c runtime.Contract, env runtime.Env, method string, args []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("contract panicked: %v", p)
		}
	}()
	return c.Call(env, method, args)
}
