package vm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/rensa-labs/rensa/crypto"
	"github.com/rensa-labs/rensa/txerrors"
)

const (
	// wasmMemoryLimitPages caps a contract's linear memory at 256 KiB (4
	// pages of 64 KiB each), matching the reference runtime's tunables.
	wasmMemoryLimitPages = 4
	defaultFuelBudget    = 10_000_000
)

// WasmEngine runs WebAssembly contracts through wazero with a
// compilation cache keyed by code hash: compiling is expensive and
// every transaction invoking a given contract reuses the same
// wazero.CompiledModule, only paying for a fresh instantiation per call.
type WasmEngine struct {
	runtime wazero.Runtime
	env     api.Module

	cacheMu sync.Mutex
	cache   map[crypto.Hash]*cacheEntry
}

type cacheEntry struct {
	mu       sync.Mutex
	compiled wazero.CompiledModule
	err      error
}

// NewWasmEngine builds the shared runtime and host import module. One
// engine is meant to live for the process lifetime.
func NewWasmEngine(ctx context.Context) (*WasmEngine, error) {
	cfg := wazero.NewRuntimeConfigInterpreter().
		WithMemoryLimitPages(wasmMemoryLimitPages).
		WithCloseOnContextDone(true)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	e := &WasmEngine{runtime: rt, cache: make(map[crypto.Hash]*cacheEntry)}

	builder := rt.NewHostModuleBuilder("env")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, msgPtr, filePtr, line, col uint32) {
			_ = m
			_ = msgPtr
			_ = filePtr
			_ = line
			_ = col
		}).
		Export("abort")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, ptr, length uint32) {
			_ = m
			_ = ptr
			_ = length
		}).
		Export("log")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, m api.Module, amount uint32) {
			addFuelUsed(ctx, amount)
		}).
		Export("usegas")

	envMod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}
	e.env = envMod
	return e, nil
}

func (e *WasmEngine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// compiled returns the cached wazero.CompiledModule for codeHash,
// compiling bytecode under a per-key lock on first use so two
// transactions invoking the same contract in the same block don't
// recompile it twice.
func (e *WasmEngine) compiled(ctx context.Context, codeHash crypto.Hash, bytecode []byte) (wazero.CompiledModule, error) {
	e.cacheMu.Lock()
	entry, ok := e.cache[codeHash]
	if !ok {
		entry = &cacheEntry{}
		e.cache[codeHash] = entry
	}
	e.cacheMu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.compiled != nil || entry.err != nil {
		return entry.compiled, entry.err
	}
	compiled, err := e.runtime.CompileModule(ctx, bytecode)
	if err != nil {
		entry.err = fmt.Errorf("%w: %v", txerrors.ErrContractTrap, err)
		return nil, entry.err
	}
	entry.compiled = compiled
	return compiled, nil
}

type fuelKey struct{}

type fuelCounter struct {
	budget uint64
	used   uint64
}

func withFuel(ctx context.Context, budget uint64) (context.Context, *fuelCounter) {
	fc := &fuelCounter{budget: budget}
	return context.WithValue(ctx, fuelKey{}, fc), fc
}

func addFuelUsed(ctx context.Context, amount uint32) {
	fc, ok := ctx.Value(fuelKey{}).(*fuelCounter)
	if !ok {
		return
	}
	fc.used += uint64(amount)
}

// WasmContract is a single compiled-and-cached contract, identified by
// the SHA3-256 hash of its bytecode.
type WasmContract struct {
	engine   *WasmEngine
	codeHash crypto.Hash
	bytecode []byte
}

func NewWasmContract(engine *WasmEngine, codeHash crypto.Hash, bytecode []byte) *WasmContract {
	return &WasmContract{engine: engine, codeHash: codeHash, bytecode: bytecode}
}

// Invoke instantiates a fresh, isolated copy of the compiled module and
// calls its allocate/environment/main entrypoints per the reference
// runtime's ABI: allocate space for the serialized environment, let the
// contract's own entrypoint translate it to its native representation,
// allocate space for the raw params, then call main(env_ptr, params_ptr,
// params_len).
func (c *WasmContract) Invoke(env Environment, params []byte) (Invocation, error) {
	ctx, fc := withFuel(context.Background(), defaultFuelBudget)

	compiled, err := c.engine.compiled(ctx, c.codeHash, c.bytecode)
	if err != nil {
		return Invocation{}, err
	}

	modCfg := wazero.NewModuleConfig().WithStartFunctions()
	instance, err := c.engine.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return Invocation{}, fmt.Errorf("%w: %v", txerrors.ErrContractTrap, err)
	}
	defer instance.Close(ctx)

	serializedEnv := encodeEnvironment(env)

	envPtr, err := callAllocate(ctx, instance, uint32(len(serializedEnv)))
	if err != nil {
		return Invocation{}, err
	}
	if err := writeMemory(instance, envPtr, serializedEnv); err != nil {
		return Invocation{}, err
	}
	envFn := instance.ExportedFunction("environment")
	if envFn == nil {
		return Invocation{}, fmt.Errorf("%w: contract missing environment entrypoint", txerrors.ErrContractTrap)
	}
	envResult, err := envFn.Call(ctx, uint64(envPtr), uint64(len(serializedEnv)))
	if err != nil {
		return Invocation{}, classifyTrap(err, fc)
	}
	translatedEnvPtr := uint32(envResult[0])

	paramsPtr, err := callAllocate(ctx, instance, uint32(len(params)))
	if err != nil {
		return Invocation{}, err
	}
	if err := writeMemory(instance, paramsPtr, params); err != nil {
		return Invocation{}, err
	}

	mainFn := instance.ExportedFunction("main")
	if mainFn == nil {
		return Invocation{}, fmt.Errorf("%w: contract missing main entrypoint", txerrors.ErrContractTrap)
	}
	results, err := mainFn.Call(ctx, uint64(translatedEnvPtr), uint64(paramsPtr), uint64(len(params)))
	if err != nil {
		return Invocation{}, classifyTrap(err, fc)
	}
	if fc.used > fc.budget {
		return Invocation{}, txerrors.ErrFuelExhausted
	}

	outputPtr := uint32(results[0])
	return decodeOutputs(instance, outputPtr)
}

func classifyTrap(err error, fc *fuelCounter) error {
	if fc.used > fc.budget {
		return txerrors.ErrFuelExhausted
	}
	return fmt.Errorf("%w: %v", txerrors.ErrContractTrap, err)
}

func callAllocate(ctx context.Context, instance api.Module, size uint32) (uint32, error) {
	allocFn := instance.ExportedFunction("allocate")
	if allocFn == nil {
		return 0, fmt.Errorf("%w: contract missing allocate entrypoint", txerrors.ErrContractTrap)
	}
	results, err := allocFn.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("%w: allocate failed: %v", txerrors.ErrMemoryExceeded, err)
	}
	return uint32(results[0]), nil
}

func writeMemory(instance api.Module, ptr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if !instance.Memory().Write(ptr, data) {
		return fmt.Errorf("%w: write out of bounds at %d len %d", txerrors.ErrMemoryExceeded, ptr, len(data))
	}
	return nil
}

// encodeEnvironment serializes the environment as a simple length-prefixed
// record list, decoded contract-side by the SDK's "environment"
// translation entrypoint.
func encodeEnvironment(env Environment) []byte {
	buf := append([]byte{}, env.Address.Bytes()...)
	buf = append(buf, crypto.LE32(uint32(len(env.Accounts)))...)
	for _, a := range env.Accounts {
		buf = append(buf, a.Address.Bytes()...)
		buf = append(buf, crypto.Bool1(a.Writable)...)
		buf = append(buf, crypto.Bool1(a.Signer)...)
		var data []byte
		if a.Account != nil {
			data = a.Account.Data
		}
		buf = append(buf, crypto.LE32(uint32(len(data)))...)
		buf = append(buf, data...)
	}
	return buf
}

// decodeOutputs reads back a length-prefixed sequence of state-change and
// log-entry records the contract wrote at outputPtr.
func decodeOutputs(instance api.Module, outputPtr uint32) (Invocation, error) {
	header, ok := instance.Memory().Read(outputPtr, 4)
	if !ok {
		return Invocation{}, fmt.Errorf("%w: cannot read output header", txerrors.ErrMemoryExceeded)
	}
	count := le32(header)
	inv := Invocation{}
	offset := outputPtr + 4
	for i := uint32(0); i < count; i++ {
		tagByte, ok := instance.Memory().ReadByte(offset)
		if !ok {
			return Invocation{}, fmt.Errorf("%w: truncated output stream", txerrors.ErrMemoryExceeded)
		}
		offset++
		switch tagByte {
		case 0: // log entry: key_len key value_len value
			key, next, err := readPrefixed(instance, offset)
			if err != nil {
				return Invocation{}, err
			}
			value, next2, err := readPrefixed(instance, next)
			if err != nil {
				return Invocation{}, err
			}
			inv.Outputs = append(inv.Outputs, Output{Log: &LogEntry{Key: string(key), Value: string(value)}})
			offset = next2
		case 1: // state change: address(32) data_len data (empty data == deletion)
			addrBytes, ok := instance.Memory().Read(offset, 32)
			if !ok {
				return Invocation{}, fmt.Errorf("%w: truncated state change address", txerrors.ErrMemoryExceeded)
			}
			addr, err := crypto.PubkeyFromBytes(addrBytes)
			if err != nil {
				return Invocation{}, fmt.Errorf("%w: %v", txerrors.ErrContractTrap, err)
			}
			data, next, err := readPrefixed(instance, offset+32)
			if err != nil {
				return Invocation{}, err
			}
			offset = next
			inv.Outputs = append(inv.Outputs, Output{State: &StateChange{Address: addr, Data: data}})
		default:
			return Invocation{}, fmt.Errorf("%w: unknown output tag %d", txerrors.ErrContractTrap, tagByte)
		}
	}
	return inv, nil
}

func readPrefixed(instance api.Module, offset uint32) ([]byte, uint32, error) {
	header, ok := instance.Memory().Read(offset, 4)
	if !ok {
		return nil, 0, fmt.Errorf("%w: truncated length prefix", txerrors.ErrMemoryExceeded)
	}
	n := le32(header)
	data, ok := instance.Memory().Read(offset+4, n)
	if !ok {
		return nil, 0, fmt.Errorf("%w: truncated data", txerrors.ErrMemoryExceeded)
	}
	return data, offset + 4 + n, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

