package host

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero/api"
)

// WASMBridge exposes a bundled module's exported functions through a single
// generic calling convention: JSON in, JSON out, packed-pointer return. The
// action set is declared per-manifest (host.ActionSchema.Export) rather
// than fixed at compile time, so the bridge resolves an export by name on
// each Invoke instead of hard-wiring a fixed set of provider_* exports.
type WASMBridge struct {
	module api.Module
	memory api.Memory
	malloc api.Function
	free   api.Function

	timeout time.Duration
}

// NewWASMBridge creates a new WASM bridge for the given module instance.
func NewWASMBridge(module api.Module, timeout time.Duration) (*WASMBridge, error) {
	bridge := &WASMBridge{module: module, timeout: timeout}

	bridge.memory = module.Memory()
	if bridge.memory == nil {
		return nil, fmt.Errorf("WASM module does not export memory")
	}

	bridge.malloc = module.ExportedFunction("malloc")
	if bridge.malloc == nil {
		return nil, fmt.Errorf("WASM module does not export malloc function")
	}

	bridge.free = module.ExportedFunction("free")
	if bridge.free == nil {
		return nil, fmt.Errorf("WASM module does not export free function")
	}

	return bridge, nil
}

// Invoke calls the named export with input as its JSON argument and returns
// its JSON result. exportName comes from an ActionSchema.Export declared in
// the provider's manifest.
func (b *WASMBridge) Invoke(ctx context.Context, exportName string, input []byte) ([]byte, error) {
	fn := b.module.ExportedFunction(exportName)
	if fn == nil {
		return nil, fmt.Errorf("WASM module does not export function %q", exportName)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	return b.callWASMFunction(ctx, fn, input)
}

// callWASMFunction calls a WASM function with JSON input/output.
// Returns the JSON response or an error.
func (b *WASMBridge) callWASMFunction(ctx context.Context, fn api.Function, input []byte) ([]byte, error) {
	var inputPtr, inputLen uint32
	if len(input) > 0 {
		ptr, err := b.allocate(ctx, uint32(len(input)))
		if err != nil {
			return nil, fmt.Errorf("failed to allocate WASM memory: %w", err)
		}
		defer b.deallocate(ctx, ptr)

		inputPtr = ptr
		inputLen = uint32(len(input))

		if !b.memory.Write(inputPtr, input) {
			return nil, fmt.Errorf("failed to write input to WASM memory")
		}
	}

	// Function signature: fn(input_ptr: u32, input_len: u32) -> u64
	// Return value is (output_ptr << 32) | output_len
	results, err := fn.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("WASM function call failed: %w", err)
	}

	if len(results) == 0 {
		return nil, fmt.Errorf("WASM function returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)

	if outputLen == 0 {
		return []byte("{}"), nil
	}

	output, ok := b.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from WASM memory")
	}

	if err := b.deallocate(ctx, outputPtr); err != nil {
		_ = err
	}

	// Read returns a view into WASM linear memory; copy before it is reused.
	out := make([]byte, len(output))
	copy(out, output)
	return out, nil
}

// allocate allocates memory in WASM and returns the pointer.
func (b *WASMBridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}

	if len(results) == 0 {
		return 0, fmt.Errorf("malloc returned no results")
	}

	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, fmt.Errorf("malloc returned null pointer")
	}

	return ptr, nil
}

// deallocate frees memory in WASM.
func (b *WASMBridge) deallocate(ctx context.Context, ptr uint32) error {
	_, err := b.free.Call(ctx, uint64(ptr))
	if err != nil {
		return fmt.Errorf("free failed: %w", err)
	}
	return nil
}
