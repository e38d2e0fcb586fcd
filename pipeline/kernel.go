package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// kernel hosts a module's optional wasm DSP core. A module without a
// "process" export is inert: it compiled, so it is accepted, but the block
// loop skips it. A module exporting "process" must also export
// "alloc(size) -> ptr" so the kernel can stage blocks inside its memory.
type kernel struct {
	runtime wazero.Runtime
	module  api.Module
	process api.Function
	memory  api.Memory
	ptr     uint32
	scratch []byte
}

func newKernel(ctx context.Context, wasmBytes []byte, blockSize int) (*kernel, error) {
	rt := wazero.NewRuntime(ctx)

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("compile wasm module: %w", err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("dsp"))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate wasm module: %w", err)
	}

	k := &kernel{runtime: rt, module: mod}

	k.process = mod.ExportedFunction("process")
	if k.process == nil {
		return k, nil
	}

	k.memory = mod.Memory()
	if k.memory == nil {
		_ = rt.Close(ctx)
		return nil, errors.New("wasm module exports process but no memory")
	}

	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		_ = rt.Close(ctx)
		return nil, errors.New("wasm module exports process but no alloc")
	}

	res, err := alloc.Call(ctx, uint64(blockSize*8))
	if err != nil || len(res) == 0 {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("alloc block buffer: %w", err)
	}

	k.ptr = uint32(res[0])
	k.scratch = make([]byte, blockSize*8)

	return k, nil
}

// processBlock runs the module's process export over block in place.
func (k *kernel) processBlock(ctx context.Context, block []float64) error {
	if k.process == nil {
		return nil
	}

	need := len(block) * 8
	if need > len(k.scratch) {
		return errors.New("block exceeds staged kernel buffer")
	}

	buf := k.scratch[:need]
	for i, v := range block {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}

	if !k.memory.Write(k.ptr, buf) {
		return errors.New("wasm memory write out of range")
	}

	if _, err := k.process.Call(ctx, uint64(k.ptr), uint64(len(block))); err != nil {
		return fmt.Errorf("wasm process: %w", err)
	}

	out, ok := k.memory.Read(k.ptr, uint32(need))
	if !ok {
		return errors.New("wasm memory read out of range")
	}

	for i := range block {
		block[i] = math.Float64frombits(binary.LittleEndian.Uint64(out[i*8:]))
	}

	return nil
}

func (k *kernel) close(ctx context.Context) {
	if k != nil && k.runtime != nil {
		_ = k.runtime.Close(ctx)
	}
}
