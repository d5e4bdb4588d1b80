package router

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

const (
	EventLogPrefix = "EVENT_JSON:"
	EventStandard  = "comet"
	EventVersion   = "1.0.0"

	EventSwapDispatched       = "swap_dispatched"
	EventSettlementDispatched = "settlement_dispatched"
	EventSettlementSkipped    = "settlement_skipped"
	EventSettlementStranded   = "settlement_stranded"
)

// Event is the structured log line the router emits at each chain milestone.
type Event struct {
	Standard string          `json:"standard"`
	Version  string          `json:"version"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

type SwapDispatchedData struct {
	Sender      runtime.AccountID `json:"sender"`
	Dex         runtime.AccountID `json:"dex"`
	Route       int               `json:"route"`
	InputToken  runtime.AccountID `json:"input_token"`
	OutputToken runtime.AccountID `json:"output_token"`
	Amount      runtime.U128      `json:"amount"`
}

type SettlementData struct {
	Settlement
	Reason string `json:"reason,omitempty"`
}

func emit(env runtime.Env, name string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", name, err)
	}
	line, err := json.Marshal(Event{
		Standard: EventStandard,
		Version:  EventVersion,
		Event:    name,
		Data:     raw,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", name, err)
	}
	env.Log(EventLogPrefix + string(line))
	return nil
}

// ParseEvent recognizes router events in a receipt log line.
func ParseEvent(line string) (*Event, bool) {
	payload, ok := strings.CutPrefix(line, EventLogPrefix)
	if !ok {
		return nil, false
	}
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, false
	}
	if ev.Standard != EventStandard {
		return nil, false
	}
	return &ev, true
}

// DecodeData unmarshals the event payload into v.
func (e *Event) DecodeData(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s event: %w", e.Event, err)
	}
	return nil
}
