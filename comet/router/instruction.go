package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

// CodeIncorrectFormat is the abort code for an undecodable deposit message.
const CodeIncorrectFormat = "incorrect format"

// SwapAction is one pool-level step executed by an exchange. A nil AmountIn
// means "the output of the previous action".
type SwapAction struct {
	PoolID       uint64            `json:"pool_id"`
	TokenIn      runtime.AccountID `json:"token_in"`
	AmountIn     *runtime.U128     `json:"amount_in,omitempty"`
	TokenOut     runtime.AccountID `json:"token_out"`
	MinAmountOut runtime.U128      `json:"min_amount_out"`
}

// DexRoute is the part of an instruction executed by one exchange.
type DexRoute struct {
	Dex     runtime.AccountID `json:"dex"`
	TokenIn runtime.AccountID `json:"token_in"`
	Actions []SwapAction      `json:"actions"`
}

func (r DexRoute) InputToken() runtime.AccountID {
	return r.Actions[0].TokenIn
}

func (r DexRoute) OutputToken() runtime.AccountID {
	return r.Actions[len(r.Actions)-1].TokenOut
}

// RoutingInstruction is the decoded ft_on_transfer message.
type RoutingInstruction struct {
	ReferralID *runtime.AccountID `json:"referral_id,omitempty"`
	Routes     []DexRoute         `json:"routes"`
}

// Encode renders the instruction as a deposit message.
func (ri *RoutingInstruction) Encode() (string, error) {
	raw, err := json.Marshal(ri)
	if err != nil {
		return "", fmt.Errorf("failed to encode instruction: %w", err)
	}
	return string(raw), nil
}

// wire shapes mark required fields with pointers so that absence is caught
type wireAction struct {
	PoolID       *uint64            `json:"pool_id"`
	TokenIn      *runtime.AccountID `json:"token_in"`
	AmountIn     *runtime.U128      `json:"amount_in"`
	TokenOut     *runtime.AccountID `json:"token_out"`
	MinAmountOut *runtime.U128      `json:"min_amount_out"`
}

type wireRoute struct {
	Dex     *runtime.AccountID `json:"dex"`
	TokenIn *runtime.AccountID `json:"token_in"`
	Actions []wireAction       `json:"actions"`
}

type wireInstruction struct {
	ReferralID *runtime.AccountID `json:"referral_id"`
	Routes     []wireRoute        `json:"routes"`
}

// ParseInstruction strictly decodes a deposit message. Every failure is an
// Abort with CodeIncorrectFormat.
func ParseInstruction(msg string) (*RoutingInstruction, error) {
	ri, err := parseInstruction(msg)
	if err != nil {
		return nil, runtime.Abortf(CodeIncorrectFormat, err)
	}
	return ri, nil
}

func parseInstruction(msg string) (*RoutingInstruction, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(msg)))
	dec.DisallowUnknownFields()

	var wire wireInstruction
	if err := dec.Decode(&wire); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after instruction")
	}

	if len(wire.Routes) == 0 {
		return nil, errors.New("instruction has no routes")
	}

	ri := &RoutingInstruction{
		ReferralID: wire.ReferralID,
		Routes:     make([]DexRoute, 0, len(wire.Routes)),
	}
	for i, wr := range wire.Routes {
		route, err := wr.toRoute()
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		ri.Routes = append(ri.Routes, route)
	}
	return ri, nil
}

func (wr wireRoute) toRoute() (DexRoute, error) {
	if wr.Dex == nil {
		return DexRoute{}, errors.New("missing dex")
	}
	if wr.TokenIn == nil {
		return DexRoute{}, errors.New("missing token_in")
	}
	if len(wr.Actions) == 0 {
		return DexRoute{}, errors.New("route has no actions")
	}

	route := DexRoute{
		Dex:     *wr.Dex,
		TokenIn: *wr.TokenIn,
		Actions: make([]SwapAction, 0, len(wr.Actions)),
	}
	for i, wa := range wr.Actions {
		if wa.PoolID == nil || wa.TokenIn == nil || wa.TokenOut == nil || wa.MinAmountOut == nil {
			return DexRoute{}, fmt.Errorf("action %d is missing a required field", i)
		}
		route.Actions = append(route.Actions, SwapAction{
			PoolID:       *wa.PoolID,
			TokenIn:      *wa.TokenIn,
			AmountIn:     wa.AmountIn,
			TokenOut:     *wa.TokenOut,
			MinAmountOut: *wa.MinAmountOut,
		})
	}
	if route.TokenIn != route.InputToken() {
		return DexRoute{}, fmt.Errorf("token_in %s does not match the first action input %s", route.TokenIn, route.InputToken())
	}
	return route, nil
}
