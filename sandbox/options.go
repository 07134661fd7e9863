package sandbox

import "go.uber.org/zap"

// MemoryExportName is the export under which guest linear memory is looked up.
const MemoryExportName = "memory"

// Option configures Load.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	memoryName string
	pageLimit  uint32
}

func defaultOptions() options {
	return options{
		logger:     zap.NewNop(),
		memoryName: MemoryExportName,
	}
}

// WithLogger sets the logger used for load and trap diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMemoryLimitPages caps guest linear memory at n 64KiB pages.
// Zero keeps the runtime default.
func WithMemoryLimitPages(n uint32) Option {
	return func(o *options) { o.pageLimit = n }
}

// WithMemoryExport changes the export name used by ReadMemory.
func WithMemoryExport(name string) Option {
	return func(o *options) {
		if name != "" {
			o.memoryName = name
		}
	}
}
