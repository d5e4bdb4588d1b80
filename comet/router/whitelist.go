package router

import (
	"fmt"
	"sort"

	"github.com/Cogwheel-Validator/comet-router/comet/runtime"
)

// CodeNotWhitelisted is the abort code for a route to an untrusted exchange.
const CodeNotWhitelisted = "not a whitelisted DEX"

// DefaultWhitelist returns the stock trusted exchanges.
func DefaultWhitelist() []runtime.AccountID {
	return []runtime.AccountID{"ref", "jumbo"}
}

// Whitelist is the fixed set of exchanges the router may send funds to.
type Whitelist struct {
	members map[runtime.AccountID]struct{}
}

func NewWhitelist(ids ...runtime.AccountID) (*Whitelist, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("whitelist must contain at least one exchange")
	}
	members := make(map[runtime.AccountID]struct{}, len(ids))
	for _, id := range ids {
		if err := id.Validate(); err != nil {
			return nil, fmt.Errorf("invalid whitelist entry: %w", err)
		}
		if _, dup := members[id]; dup {
			return nil, fmt.Errorf("duplicate whitelist entry %q", id)
		}
		members[id] = struct{}{}
	}
	return &Whitelist{members: members}, nil
}

func (w *Whitelist) Contains(id runtime.AccountID) bool {
	_, ok := w.members[id]
	return ok
}

// Members returns the exchanges in lexical order.
func (w *Whitelist) Members() []runtime.AccountID {
	out := make([]runtime.AccountID, 0, len(w.members))
	for id := range w.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Check fails with CodeNotWhitelisted for the first route whose exchange is
// not trusted.
func (w *Whitelist) Check(routes []DexRoute) error {
	for i, route := range routes {
		if !w.Contains(route.Dex) {
			return runtime.Abortf(CodeNotWhitelisted, fmt.Errorf("route %d targets %s", i, route.Dex))
		}
	}
	return nil
}
