// Package journal keeps one record per settled swap chain, built from the
// events the router logs.
package journal

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cogwheel-Validator/comet-router/comet/router"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "journal").Logger()
}

var ErrInvalidRecord = errors.New("record needs a tx hash and a destination")

// Record is the settlement of one route of one deposit. A chain is keyed by
// its transaction and route index; a later event for the same chain
// replaces the outcome of the earlier one.
type Record struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TxHash      string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_chain" json:"tx_hash"`
	Route       int       `gorm:"not null;uniqueIndex:idx_chain" json:"route"`
	Destination string    `gorm:"type:varchar(64);not null;index" json:"destination"`
	Dex         string    `gorm:"type:varchar(64);not null" json:"dex"`
	Token       string    `gorm:"type:varchar(64);not null" json:"token"`
	Amount      string    `gorm:"type:varchar(40);not null" json:"amount"`
	Outcome     string    `gorm:"type:varchar(16);not null;index" json:"outcome"`
	Event       string    `gorm:"type:varchar(32);not null" json:"event"`
	Reason      string    `gorm:"type:varchar(255)" json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Record) TableName() string {
	return "settlements"
}

// FromEvent builds the record of a settlement event, or false when ev is
// not about a settlement.
func FromEvent(txHash string, ev *router.Event) (*Record, bool, error) {
	switch ev.Event {
	case router.EventSettlementDispatched, router.EventSettlementSkipped, router.EventSettlementStranded:
	default:
		return nil, false, nil
	}
	var data router.SettlementData
	if err := ev.DecodeData(&data); err != nil {
		return nil, false, err
	}
	return &Record{
		TxHash:      txHash,
		Route:       data.Route,
		Destination: data.Destination.String(),
		Dex:         data.Dex.String(),
		Token:       data.Token.String(),
		Amount:      data.Amount.String(),
		Outcome:     string(data.Outcome),
		Event:       ev.Event,
		Reason:      data.Reason,
	}, true, nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	TxHash      string
	Destination string
	Outcome     string
	// Limit caps the result, newest first. Zero means DefaultLimit.
	Limit int
}

const DefaultLimit = 100

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}

func (f Filter) matches(r *Record) bool {
	return (f.TxHash == "" || r.TxHash == f.TxHash) &&
		(f.Destination == "" || r.Destination == f.Destination) &&
		(f.Outcome == "" || r.Outcome == f.Outcome)
}

// Store persists records.
type Store interface {
	// Upsert inserts r or, when its chain is already recorded, replaces
	// the outcome fields.
	Upsert(ctx context.Context, r *Record) error
	List(ctx context.Context, f Filter) ([]Record, error)
	Close() error
}
