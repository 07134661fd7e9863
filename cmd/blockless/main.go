// Command blockless walks through the task manager flow: register tasks,
// edit and complete them, then execute the queue by priority. Tasks of
// the form "wasm:<fn>:<a>:<b>" run inside the sandboxed guest module.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/VanDung-dev/Blockless-Engine/config"
	"github.com/VanDung-dev/Blockless-Engine/engine"
	"github.com/VanDung-dev/Blockless-Engine/notify"
	"github.com/VanDung-dev/Blockless-Engine/registry"
	"github.com/VanDung-dev/Blockless-Engine/sandbox"
	"github.com/VanDung-dev/Blockless-Engine/sandbox/guest"
	"go.uber.org/zap"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "Blockless-Engine"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		workers    = flag.Int("workers", 0, "Number of workers (overrides config)")
		baseURL    = flag.String("base-url", "", "Notification API base URL (overrides config)")
		modulePath = flag.String("module", "", "Guest WebAssembly module (default: embedded demo guest)")
		logLevel   = flag.String("log-level", "", "Log level (overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *baseURL != "" {
		cfg.Notify.BaseURL = *baseURL
	}
	if *modulePath != "" {
		cfg.Sandbox.ModulePath = *modulePath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	fmt.Printf("%s v%s\n", Name, Version)
	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("Run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	binary := guest.Module
	if cfg.Sandbox.ModulePath != "" {
		data, err := os.ReadFile(cfg.Sandbox.ModulePath)
		if err != nil {
			return fmt.Errorf("read module: %w", err)
		}
		binary = data
	}

	module, err := sandbox.Load(ctx, binary,
		sandbox.WithLogger(logger),
		sandbox.WithMemoryLimitPages(cfg.Sandbox.MemoryLimitPages),
		sandbox.WithMemoryExport(cfg.Sandbox.MemoryExport),
	)
	if err != nil {
		return err
	}
	defer module.Close(ctx)

	fmt.Println("Sandbox exports:", module.Exports())
	sandboxDemo(ctx, module)

	sandboxExec := engine.NewSandboxExecutor(module, logger, func(inv engine.Invocation, result int32) {
		fmt.Printf("%s(%d, %d) = %d\n", inv.Function, inv.A, inv.B, result)
	})
	scheduler := engine.NewScheduler(cfg.Workers,
		engine.WithName("blockless"),
		engine.WithLogger(logger),
		engine.WithExecutor(engine.Route(sandboxExec, engine.LogExecutor{Logger: logger})),
	)

	opts := []registry.ManagerOption{registry.WithManagerLogger(logger)}
	var notifier *notify.Notifier
	if cfg.Notify.BaseURL != "" {
		client := notify.NewClient(cfg.Notify.BaseURL, notify.WithTimeout(cfg.Notify.Timeout))
		notifier = notify.New(
			notify.HTTPSink{Client: client, Endpoint: cfg.Notify.Endpoint},
			notify.WithLogger(logger),
			notify.WithRetry(cfg.Notify.Attempts, cfg.Notify.RetryInitial, cfg.Notify.RetryMax),
		)
		opts = append(opts, registry.WithNotifier(notifier))
	}
	manager := registry.NewManager(registry.NewMemoryStore(), scheduler, opts...)

	for _, t := range []registry.Task{
		{ID: 1, Description: "Implement TaskManager", Priority: 5},
		{ID: 2, Description: "Write documentation", Priority: 3},
		{ID: 3, Description: "Submit project", Priority: 4},
	} {
		if err := manager.AddTask(ctx, t.ID, t.Description, t.Priority); err != nil {
			return err
		}
	}
	if err := viewTasks(ctx, manager); err != nil {
		return err
	}

	desc, prio := "Write detailed documentation", uint8(4)
	if _, err := manager.UpdateTask(ctx, 2, &desc, &prio); err != nil {
		return err
	}
	if err := viewTasks(ctx, manager); err != nil {
		return err
	}

	if _, err := manager.CompleteTask(ctx, 1); err != nil {
		return err
	}
	fmt.Println(registry.CompletionMessage(1))

	// Sandbox work shares the queue with registry tasks.
	scheduler.AddTask(6, engine.Invocation{Function: "add", A: 2, B: 3}.Payload())
	scheduler.AddTask(2, engine.Invocation{Function: "multiply", A: 6, B: 7}.Payload())
	scheduler.AddTask(1, engine.Invocation{Function: "divide", A: 1, B: 0}.Payload())

	report := manager.ExecuteTasks(ctx)
	fmt.Printf("All tasks have been executed based on their priority. (%d executed, %d failed)\n",
		report.Executed(), report.Failed())
	if err := viewTasks(ctx, manager); err != nil {
		return err
	}

	if notifier != nil {
		closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := notifier.Close(closeCtx); err != nil {
			logger.Warn("Notifications still pending at exit", zap.Error(err))
		}
	}
	return nil
}

func sandboxDemo(ctx context.Context, module *sandbox.Module) {
	for _, call := range []engine.Invocation{
		{Function: "add", A: 5, B: 3},
		{Function: "multiply", A: 4, B: 7},
		{Function: "write_memory", A: 0, B: 42},
	} {
		result, err := module.Invoke(ctx, call.Function, call.A, call.B)
		if err != nil {
			fmt.Printf("%s: %v\n", call.Function, err)
			continue
		}
		fmt.Printf("%s(%d, %d) = %d\n", call.Function, call.A, call.B, result)
	}

	if data, err := module.ReadMemory(guest.ScratchOffset, guest.ScratchSlots*4); err == nil {
		fmt.Printf("Scratch memory: % x\n", data)
	}
}

func viewTasks(ctx context.Context, manager *registry.Manager) error {
	tasks, err := manager.ViewTasks(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Printf("Task ID: %d, Description: %s, Priority: %d, Completed: %t\n",
			t.ID, t.Description, t.Priority, t.Completed)
	}
	return nil
}
