package sandbox

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// Module is an instantiated guest: compiled code, its linear memory and
// its exported functions. All methods are safe for concurrent use; calls
// are executed one at a time.
type Module struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	instance api.Module

	memoryName string
	logger     *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Load compiles and instantiates binary in a fresh runtime. Malformed
// binaries, validation failures and unresolved imports return an error
// wrapping ErrLoadFailure; nothing is retained on failure.
func Load(ctx context.Context, binary []byte, opts ...Option) (*Module, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if len(binary) == 0 {
		return nil, fmt.Errorf("%w: empty binary", ErrLoadFailure)
	}

	cfg := wazero.NewRuntimeConfig()
	if o.pageLimit > 0 {
		cfg = cfg.WithMemoryLimitPages(o.pageLimit)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	compiled, err := rt.CompileModule(ctx, binary)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("%w: compile: %v", ErrLoadFailure, err)
	}

	// Anonymous instance: the guest gets no host imports.
	instance, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("%w: instantiate: %v", ErrLoadFailure, err)
	}

	m := &Module{
		runtime:    rt,
		compiled:   compiled,
		instance:   instance,
		memoryName: o.memoryName,
		logger:     o.logger,
	}
	m.logger.Debug("sandbox module loaded",
		zap.Int("binary_size", len(binary)),
		zap.Strings("exports", m.exportNames()),
	)
	return m, nil
}

// Invoke calls the exported function name with (a, b) and returns its
// i32 result. Guest memory writes made by the call persist for later
// calls on the same Module.
func (m *Module) Invoke(ctx context.Context, name string, a, b int32) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	fn := m.instance.ExportedFunction(name)
	if fn == nil {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	def := fn.Definition()
	if !isBinaryI32(def.ParamTypes(), def.ResultTypes()) {
		return 0, fmt.Errorf("%w: %q has signature %s", ErrTypeMismatch, name, signature(def))
	}

	results, err := fn.Call(ctx, api.EncodeI32(a), api.EncodeI32(b))
	if err != nil {
		m.logger.Debug("sandbox trap", zap.String("function", name), zap.Error(err))
		return 0, fmt.Errorf("%w: %s: %v", ErrTrap, name, err)
	}

	return api.DecodeI32(results[0]), nil
}

// ReadMemory returns a copy of length bytes of guest memory starting at
// offset. The range is validated against the current memory size before
// anything is read.
func (m *Module) ReadMemory(offset, length int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	mem := m.instance.ExportedMemory(m.memoryName)
	if mem == nil {
		return nil, fmt.Errorf("%w: export %q", ErrNoMemory, m.memoryName)
	}

	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("%w: offset %d length %d", ErrOutOfBounds, offset, length)
	}

	// Both operands are non-negative ints, so the uint64 sum cannot wrap.
	size := uint64(mem.Size())
	end := uint64(offset) + uint64(length)
	if end > size {
		return nil, fmt.Errorf("%w: [%d, %d) exceeds memory size %d", ErrOutOfBounds, offset, end, size)
	}

	out := make([]byte, length)
	if length == 0 {
		return out, nil
	}

	view, ok := mem.Read(uint32(offset), uint32(length)) // #nosec G115 - bounded by size above
	if !ok {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrOutOfBounds, offset, end)
	}
	copy(out, view)
	return out, nil
}

// MemorySize returns the current size of guest linear memory in bytes.
func (m *Module) MemorySize() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	mem := m.instance.ExportedMemory(m.memoryName)
	if mem == nil {
		return 0, fmt.Errorf("%w: export %q", ErrNoMemory, m.memoryName)
	}
	return mem.Size(), nil
}

// Exports returns the sorted names of the module's exported functions,
// or nil once the module is closed.
func (m *Module) Exports() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	return m.exportNames()
}

// Close releases the instance and its runtime. Close is idempotent.
func (m *Module) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.runtime.Close(ctx)
}

func (m *Module) exportNames() []string {
	defs := m.compiled.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isBinaryI32(params, results []api.ValueType) bool {
	return len(params) == 2 &&
		params[0] == api.ValueTypeI32 &&
		params[1] == api.ValueTypeI32 &&
		len(results) == 1 &&
		results[0] == api.ValueTypeI32
}

func signature(def api.FunctionDefinition) string {
	return fmt.Sprintf("(%s) -> (%s)", typeList(def.ParamTypes()), typeList(def.ResultTypes()))
}

func typeList(types []api.ValueType) string {
	s := ""
	for i, t := range types {
		if i > 0 {
			s += ", "
		}
		s += api.ValueTypeName(t)
	}
	return s
}
