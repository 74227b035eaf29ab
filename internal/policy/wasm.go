package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/zeebo/blake3"

	"Cosign/internal/envelope"
)

const (
	// approveExport is the function a policy module must export:
	// approve(ptr, len i32) -> i32, non-zero to approve.
	approveExport = "approve"

	// wasmPageSize is the WebAssembly memory page size.
	wasmPageSize = 64 << 10
)

// WASM is a policy backed by a WebAssembly module. The payload is copied to
// offset 0 of a fresh instance's memory and approve(0, len) is called.
// Each call runs in its own instance, so WASM is safe for concurrent use.
type WASM struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	id       [32]byte // id is the blake3 hash of the module bytes

	mu     sync.RWMutex
	closed bool
}

// LoadWASM compiles a policy module and checks its exports.
func LoadWASM(ctx context.Context, wasmBytes []byte) (*WASM, error) {
	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("compile policy module:\n%w", err)
	}

	if err := checkExports(compiled); err != nil {
		runtime.Close(ctx)
		return nil, err
	}

	return &WASM{
		runtime:  runtime,
		compiled: compiled,
		id:       blake3.Sum256(wasmBytes),
	}, nil
}

// checkExports requires approve(i32, i32) -> i32 and an exported memory.
func checkExports(compiled wazero.CompiledModule) error {
	fn, ok := compiled.ExportedFunctions()[approveExport]
	if !ok {
		return fmt.Errorf("policy module does not export %q", approveExport)
	}

	params, results := fn.ParamTypes(), fn.ResultTypes()
	if len(params) != 2 || params[0] != api.ValueTypeI32 || params[1] != api.ValueTypeI32 ||
		len(results) != 1 || results[0] != api.ValueTypeI32 {
		return fmt.Errorf("%s must have signature (i32, i32) -> i32", approveExport)
	}

	if len(compiled.ExportedMemories()) == 0 {
		return fmt.Errorf("policy module does not export a memory")
	}

	return nil
}

// ID returns the blake3 hash of the module.
func (w *WASM) ID() [32]byte {
	return w.id
}

// Approve implements Policy. Cancelling ctx aborts a running module.
func (w *WASM) Approve(ctx context.Context, env *envelope.Envelope) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return fmt.Errorf("policy module closed")
	}

	instance, err := w.runtime.InstantiateModule(ctx, w.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return fmt.Errorf("instantiate policy:\n%w", err)
	}
	defer instance.Close(ctx)

	payload := env.Payload()

	if err := writeInput(instance.Memory(), payload); err != nil {
		return err
	}

	results, err := instance.ExportedFunction(approveExport).Call(ctx, 0, uint64(len(payload)))
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("policy aborted:\n%w", ctx.Err())
		}

		return fmt.Errorf("policy trapped:\n%w", err)
	}

	if api.DecodeI32(results[0]) == 0 {
		return fmt.Errorf("%w: module %x", ErrDenied, w.id[:6])
	}

	return nil
}

// writeInput copies data to offset 0, growing memory as needed.
func writeInput(mem api.Memory, data []byte) error {
	if mem == nil {
		return fmt.Errorf("policy instance has no memory")
	}

	if need := uint32(len(data)); need > mem.Size() {
		pages := (need - mem.Size() + wasmPageSize - 1) / wasmPageSize
		if _, ok := mem.Grow(pages); !ok {
			return fmt.Errorf("policy memory cannot hold %d bytes", len(data))
		}
	}

	if !mem.Write(0, data) {
		return fmt.Errorf("write %d bytes to policy memory", len(data))
	}

	return nil
}

// Close releases the runtime. In-flight calls finish first.
func (w *WASM) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	return w.runtime.Close(ctx)
}
