package arrow

import (
	"bytes"
	"fmt"

	"github.com/VanDung-dev/Blockless-Engine/engine"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// IPCCodec encodes and decodes Arrow IPC streams.
type IPCCodec struct {
	allocator memory.Allocator
}

// NewIPCCodec creates a codec using the default allocator.
func NewIPCCodec() *IPCCodec {
	return &IPCCodec{
		allocator: memory.DefaultAllocator,
	}
}

// Serialize writes records to a single IPC stream. All records must share
// the schema of the first.
func (c *IPCCodec) Serialize(records ...arrow.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to serialize")
	}

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(records[0].Schema()), ipc.WithAllocator(c.allocator))
	defer writer.Close()

	for i, record := range records {
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Deserialize reads every record in an IPC stream. The caller must
// Release each returned record.
func (c *IPCCodec) Deserialize(data []byte) ([]arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	var records []arrow.Record
	for reader.Next() {
		record := reader.Record()
		record.Retain()
		records = append(records, record)
	}

	if reader.Err() != nil {
		for _, r := range records {
			r.Release()
		}
		return nil, reader.Err()
	}

	return records, nil
}

// EncodeTasks serializes tasks as a single-batch IPC stream.
func (c *IPCCodec) EncodeTasks(tasks []engine.Task) ([]byte, error) {
	record, err := TasksToRecord(tasks)
	if err != nil {
		return nil, err
	}
	defer record.Release()

	return c.Serialize(record)
}

// DecodeTasks reads tasks from every batch of an IPC stream.
func (c *IPCCodec) DecodeTasks(data []byte) ([]engine.Task, error) {
	records, err := c.Deserialize(data)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, r := range records {
			r.Release()
		}
	}()

	var tasks []engine.Task
	for i, record := range records {
		batch, err := RecordToTasks(record)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		tasks = append(tasks, batch...)
	}
	if len(tasks) == 0 {
		return nil, ErrEmptyBatch
	}
	return tasks, nil
}

// EncodeReport serializes a round report as an IPC stream.
func (c *IPCCodec) EncodeReport(report engine.RoundReport) ([]byte, error) {
	record := ReportToRecord(report)
	defer record.Release()

	return c.Serialize(record)
}
