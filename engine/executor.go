package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// InvocationPrefix marks a task payload that is executed inside the sandbox.
// The full form is "wasm:<function>:<a>:<b>".
const InvocationPrefix = "wasm:"

// ErrInvalidInvocation is returned for a "wasm:" payload that cannot be parsed.
var ErrInvalidInvocation = errors.New("invalid sandbox invocation")

// Executor runs a single task. Execute is called from worker goroutines
// and must be safe for concurrent use.
type Executor interface {
	Execute(ctx context.Context, task Task) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task Task) error

// Execute calls f(ctx, task).
func (f ExecutorFunc) Execute(ctx context.Context, task Task) error {
	return f(ctx, task)
}

// LogExecutor is the default executor: it records the task and succeeds.
type LogExecutor struct {
	Logger *zap.Logger
}

// Execute logs the task payload.
func (e LogExecutor) Execute(_ context.Context, task Task) error {
	if e.Logger != nil {
		e.Logger.Info("Processing task", zap.String("payload", task.Payload), zap.Uint8("priority", task.Priority))
	}
	return nil
}

// Invocation is a parsed "wasm:<function>:<a>:<b>" payload.
type Invocation struct {
	Function string
	A, B     int32
}

// Payload renders the invocation in task payload form.
func (inv Invocation) Payload() string {
	return fmt.Sprintf("%s%s:%d:%d", InvocationPrefix, inv.Function, inv.A, inv.B)
}

// IsInvocation reports whether payload is addressed to the sandbox.
func IsInvocation(payload string) bool {
	return strings.HasPrefix(payload, InvocationPrefix)
}

// ParseInvocation parses a "wasm:<function>:<a>:<b>" payload.
func ParseInvocation(payload string) (Invocation, error) {
	if !IsInvocation(payload) {
		return Invocation{}, fmt.Errorf("%w: missing %q prefix", ErrInvalidInvocation, InvocationPrefix)
	}

	parts := strings.Split(strings.TrimPrefix(payload, InvocationPrefix), ":")
	if len(parts) != 3 || parts[0] == "" {
		return Invocation{}, fmt.Errorf("%w: want %sfunction:a:b, got %q", ErrInvalidInvocation, InvocationPrefix, payload)
	}

	a, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return Invocation{}, fmt.Errorf("%w: first argument: %v", ErrInvalidInvocation, err)
	}
	b, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return Invocation{}, fmt.Errorf("%w: second argument: %v", ErrInvalidInvocation, err)
	}

	return Invocation{Function: parts[0], A: int32(a), B: int32(b)}, nil
}

// Invoker calls a typed (i32, i32) -> i32 function by name.
// *sandbox.Module satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, name string, a, b int32) (int32, error)
}

// SandboxExecutor executes "wasm:" payloads through an Invoker.
type SandboxExecutor struct {
	invoker  Invoker
	logger   *zap.Logger
	onResult func(Invocation, int32)
}

// NewSandboxExecutor creates a SandboxExecutor. onResult, if non-nil, is
// called with every successful invocation result.
func NewSandboxExecutor(invoker Invoker, logger *zap.Logger, onResult func(Invocation, int32)) *SandboxExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SandboxExecutor{
		invoker:  invoker,
		logger:   logger,
		onResult: onResult,
	}
}

// Execute parses the payload and invokes the named sandbox function.
func (e *SandboxExecutor) Execute(ctx context.Context, task Task) error {
	inv, err := ParseInvocation(task.Payload)
	if err != nil {
		return err
	}

	result, err := e.invoker.Invoke(ctx, inv.Function, inv.A, inv.B)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", inv.Function, err)
	}

	e.logger.Info("Sandbox call finished",
		zap.String("function", inv.Function),
		zap.Int32("a", inv.A),
		zap.Int32("b", inv.B),
		zap.Int32("result", result),
	)
	if e.onResult != nil {
		e.onResult(inv, result)
	}
	return nil
}

// Route sends "wasm:" payloads to sandbox and every other payload to fallback.
// A nil sandbox executor makes "wasm:" payloads fail.
func Route(sandbox, fallback Executor) Executor {
	return ExecutorFunc(func(ctx context.Context, task Task) error {
		if IsInvocation(task.Payload) {
			if sandbox == nil {
				return fmt.Errorf("%w: no sandbox module loaded", ErrInvalidInvocation)
			}
			return sandbox.Execute(ctx, task)
		}
		return fallback.Execute(ctx, task)
	})
}
