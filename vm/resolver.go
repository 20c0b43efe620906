package vm

import (
	"context"
	"fmt"
	"sync"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/txerrors"
	"github.com/rensa-labs/rensa/types"
)

// Resolver dispatches a contract address to the vm.Contract that
// handles it: the native registry first (§9's tagged-union dispatch),
// falling back to a cached WasmContract built from the executable
// account's own Data when it isn't a built-in.
type Resolver struct {
	engine  *WasmEngine
	native  map[crypto.Pubkey]Contract
	wasmMu  sync.Mutex
	wasm    map[crypto.Pubkey]*WasmContract
}

// NewResolver builds a resolver over the given WASM engine and the
// compiled-in native registry.
func NewResolver(engine *WasmEngine) *Resolver {
	return &Resolver{
		engine: engine,
		native: Registry(),
		wasm:   make(map[crypto.Pubkey]*WasmContract),
	}
}

// Resolve implements executor.ContractResolver.
func (r *Resolver) Resolve(addr crypto.Pubkey, account types.Account) (Contract, error) {
	if c, ok := r.native[addr]; ok {
		return c, nil
	}
	if !account.Executable {
		return nil, fmt.Errorf("%w: account %s is not executable", txerrors.ErrUnresolvable, addr)
	}
	if len(account.Data) == 0 {
		return nil, fmt.Errorf("%w: executable account %s has no code", txerrors.ErrUnresolvable, addr)
	}

	r.wasmMu.Lock()
	defer r.wasmMu.Unlock()
	if c, ok := r.wasm[addr]; ok {
		return c, nil
	}
	codeHash := crypto.Sum3(account.Data)
	c := NewWasmContract(r.engine, codeHash, account.Data)
	r.wasm[addr] = c
	return c, nil
}

// Invalidate drops any cached WasmContract for addr, used when a
// contract account's code changes (not reachable through the ownership
// rules today, but kept for forest pruning / re-deploy scenarios).
func (r *Resolver) Invalidate(addr crypto.Pubkey) {
	r.wasmMu.Lock()
	defer r.wasmMu.Unlock()
	delete(r.wasm, addr)
}

// Context is a convenience no-op background context holder; the engine
// itself is the only thing that needs a ctx.Context today (module
// instantiate/compile), invocation is synchronous and CPU-bound per
// spec.md §5.
func Context() context.Context { return context.Background() }
