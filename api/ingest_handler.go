package api

import (
	"errors"

	"github.com/VanDung-dev/Blockless-Engine/arrow"
	"go.uber.org/zap"
)

// TaskSink accepts decoded tasks. *engine.Scheduler satisfies it.
type TaskSink interface {
	AddTask(priority uint8, payload string)
}

// IngestHandler decodes Arrow IPC task batches and enqueues them.
type IngestHandler struct {
	codec   *arrow.IPCCodec
	sink    TaskSink
	metrics *Metrics
	logger  *zap.Logger
}

// NewIngestHandler creates a handler feeding sink. metrics may be nil.
func NewIngestHandler(sink TaskSink, metrics *Metrics, logger *zap.Logger) *IngestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{
		codec:   arrow.NewIPCCodec(),
		sink:    sink,
		metrics: metrics,
		logger:  logger,
	}
}

// ProcessBatch decodes every record batch in data and enqueues its rows.
// Nothing is enqueued unless the whole stream decodes.
func (h *IngestHandler) ProcessBatch(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, errors.New("received empty data")
	}

	tasks, err := h.codec.DecodeTasks(data)
	if err != nil {
		return 0, err
	}

	for _, task := range tasks {
		h.sink.AddTask(task.Priority, task.Payload)
	}
	if h.metrics != nil {
		h.metrics.RecordBatch(len(tasks))
	}
	h.logger.Debug("Batch ingested", zap.Int("tasks", len(tasks)))
	return len(tasks), nil
}
