package journal

import (
	"context"

	"github.com/Cogwheel-Validator/comet-router/comet/router"
	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
	"github.com/Cogwheel-Validator/comet-router/comet/sandbox"
)

// Recorder stores the settlement events of the router's receipts. It is a
// sandbox.Observer.
type Recorder struct {
	store  Store
	router runtime.AccountID
}

func NewRecorder(store Store, routerAccount runtime.AccountID) *Recorder {
	return &Recorder{store: store, router: routerAccount}
}

func (r *Recorder) ReceiptExecuted(ctx context.Context, txHash string, outcome *sandbox.ReceiptOutcome) {
	if outcome.Receiver != r.router || !outcome.Succeeded() {
		return
	}
	for _, line := range outcome.Logs {
		ev, ok := router.ParseEvent(line)
		if !ok {
			continue
		}
		rec, ok, err := FromEvent(txHash, ev)
		if err != nil {
			log.Error().Err(err).Str("tx", txHash).Str("event", ev.Event).Msg("Undecodable settlement event")
			continue
		}
		if !ok {
			continue
		}
		if err := r.store.Upsert(ctx, rec); err != nil {
			log.Error().Err(err).Str("tx", txHash).Int("route", rec.Route).Msg("Failed to journal settlement")
		}
	}
}
