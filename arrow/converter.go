package arrow

import (
	"errors"
	"fmt"

	"github.com/VanDung-dev/Blockless-Engine/engine"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var (
	ErrEmptyBatch     = errors.New("arrow: empty batch")
	ErrSchemaMismatch = errors.New("arrow: schema mismatch")
	ErrNullValue      = errors.New("arrow: unexpected null")
)

// TasksToRecord converts tasks to a record with TaskSchema.
// The caller must Release the record.
func TasksToRecord(tasks []engine.Task) (arrow.Record, error) {
	if len(tasks) == 0 {
		return nil, ErrEmptyBatch
	}

	builder := array.NewRecordBuilder(memory.DefaultAllocator, TaskSchema())
	defer builder.Release()

	priorityBuilder := builder.Field(0).(*array.Uint8Builder)
	payloadBuilder := builder.Field(1).(*array.StringBuilder)

	priorityBuilder.Reserve(len(tasks))
	payloadBuilder.Reserve(len(tasks))
	for _, task := range tasks {
		priorityBuilder.Append(task.Priority)
		payloadBuilder.Append(task.Payload)
	}

	return builder.NewRecord(), nil
}

// RecordToTasks reads tasks from a record whose first two columns are
// priority (uint8) and payload (utf8). Extra columns are ignored.
func RecordToTasks(record arrow.Record) ([]engine.Task, error) {
	if record.NumCols() < 2 {
		return nil, fmt.Errorf("%w: want at least 2 columns, got %d", ErrSchemaMismatch, record.NumCols())
	}

	priorities, ok := record.Column(0).(*array.Uint8)
	if !ok {
		return nil, fmt.Errorf("%w: priority column is %s", ErrSchemaMismatch, record.Column(0).DataType())
	}
	payloads, ok := record.Column(1).(*array.String)
	if !ok {
		return nil, fmt.Errorf("%w: payload column is %s", ErrSchemaMismatch, record.Column(1).DataType())
	}

	n := int(record.NumRows())
	tasks := make([]engine.Task, 0, n)
	for i := 0; i < n; i++ {
		if priorities.IsNull(i) || payloads.IsNull(i) {
			return nil, fmt.Errorf("%w: row %d", ErrNullValue, i)
		}
		tasks = append(tasks, engine.Task{
			Priority: priorities.Value(i),
			Payload:  payloads.Value(i),
		})
	}
	return tasks, nil
}

// ReportToRecord converts a round report to a record with ReportSchema.
// A round with no results yields an empty record.
func ReportToRecord(report engine.RoundReport) arrow.Record {
	builder := array.NewRecordBuilder(memory.DefaultAllocator, ReportSchema())
	defer builder.Release()

	roundBuilder := builder.Field(0).(*array.StringBuilder)
	workerBuilder := builder.Field(1).(*array.Int32Builder)
	seqBuilder := builder.Field(2).(*array.Int32Builder)
	priorityBuilder := builder.Field(3).(*array.Uint8Builder)
	payloadBuilder := builder.Field(4).(*array.StringBuilder)
	successBuilder := builder.Field(5).(*array.BooleanBuilder)
	errorBuilder := builder.Field(6).(*array.StringBuilder)
	durationBuilder := builder.Field(7).(*array.Int64Builder)

	for _, res := range report.Results {
		roundBuilder.Append(report.ID)
		workerBuilder.Append(int32(res.WorkerID))
		seqBuilder.Append(int32(res.Seq))
		priorityBuilder.Append(res.Task.Priority)
		payloadBuilder.Append(res.Task.Payload)
		successBuilder.Append(res.Success())
		if res.Err != nil {
			errorBuilder.Append(res.Err.Error())
		} else {
			errorBuilder.AppendNull()
		}
		durationBuilder.Append(res.Duration.Microseconds())
	}

	return builder.NewRecord()
}
