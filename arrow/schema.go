package arrow

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// TaskSchema returns the Arrow schema for a task batch.
//
// Fields:
//   - priority: uint8 - Higher is more urgent
//   - payload: string - Opaque task payload
func TaskSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "priority", Type: arrow.PrimitiveTypes.Uint8},
			{Name: "payload", Type: arrow.BinaryTypes.String},
		},
		nil,
	)
}

// ReportSchema returns the Arrow schema for the results of a dispatch round.
// One row per executed task.
//
// Fields:
//   - round_id: string - Dispatch round identifier
//   - worker: int32 - Worker that executed the task
//   - seq: int32 - Position in the worker's execution order
//   - priority: uint8
//   - payload: string
//   - success: bool
//   - error: string (nullable) - Set only for failed tasks
//   - duration_us: int64 - Execution time in microseconds
func ReportSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "round_id", Type: arrow.BinaryTypes.String},
			{Name: "worker", Type: arrow.PrimitiveTypes.Int32},
			{Name: "seq", Type: arrow.PrimitiveTypes.Int32},
			{Name: "priority", Type: arrow.PrimitiveTypes.Uint8},
			{Name: "payload", Type: arrow.BinaryTypes.String},
			{Name: "success", Type: arrow.FixedWidthTypes.Boolean},
			{Name: "error", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "duration_us", Type: arrow.PrimitiveTypes.Int64},
		},
		nil,
	)
}
