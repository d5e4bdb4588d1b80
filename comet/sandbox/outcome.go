package sandbox

import (
	"sort"
	"time"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

// ExecutionStatus is the final state of a receipt or transaction.
type ExecutionStatus string

const (
	StatusSuccess    ExecutionStatus = "success"
	StatusFailure    ExecutionStatus = "failure"
	StatusIncomplete ExecutionStatus = "incomplete"
)

// ReceiptOutcome is the execution record of one receipt.
type ReceiptOutcome struct {
	ID          uint64            `json:"id"`
	Predecessor runtime.AccountID `json:"predecessor"`
	Receiver    runtime.AccountID `json:"receiver"`
	Method      string            `json:"method"`
	Deposit     runtime.U128      `json:"deposit"`
	Gas         runtime.Gas       `json:"gas"`
	GasBurnt    runtime.Gas       `json:"gas_burnt"`
	DependsOn   []uint64          `json:"depends_on,omitempty"`
	Spawned     []uint64          `json:"spawned,omitempty"`
	Logs        []string          `json:"logs"`
	Status      ExecutionStatus   `json:"status"`
	ReturnValue string            `json:"return_value,omitempty"`
	Failure     string            `json:"failure,omitempty"`
	AbortCode   string            `json:"abort_code,omitempty"`
	Duration    time.Duration     `json:"-"`
}

func (o *ReceiptOutcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// TxOutcome is a transaction together with every receipt it spawned.
type TxOutcome struct {
	Hash     string            `json:"hash"`
	Signer   runtime.AccountID `json:"signer"`
	Receiver runtime.AccountID `json:"receiver"`
	Method   string            `json:"method"`
	Status   ExecutionStatus   `json:"status"`
	Value    string            `json:"value,omitempty"`
	Failure  string            `json:"failure,omitempty"`
	Receipts []*ReceiptOutcome `json:"receipts"`
}

func (tx *TxOutcome) sortReceipts() {
	sort.Slice(tx.Receipts, func(i, j int) bool { return tx.Receipts[i].ID < tx.Receipts[j].ID })
}

// Find returns the receipts that ran method on receiver, in id order.
func (tx *TxOutcome) Find(receiver runtime.AccountID, method string) []*ReceiptOutcome {
	var out []*ReceiptOutcome
	for _, r := range tx.Receipts {
		if r.Receiver == receiver && r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

// Failures returns every failed receipt.
func (tx *TxOutcome) Failures() []*ReceiptOutcome {
	var out []*ReceiptOutcome
	for _, r := range tx.Receipts {
		if r.Status == StatusFailure {
			out = append(out, r)
		}
	}
	return out
}

// Logs concatenates receipt logs in id order.
func (tx *TxOutcome) Logs() []string {
	var out []string
	for _, r := range tx.Receipts {
		out = append(out, r.Logs...)
	}
	return out
}
