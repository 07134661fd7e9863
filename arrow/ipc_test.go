package arrow

import (
	"testing"

	"github.com/VanDung-dev/Blockless-Engine/engine"
)

func TestIPCTasksRoundTrip(t *testing.T) {
	codec := NewIPCCodec()
	tasks := []engine.Task{
		{Priority: 1, Payload: "low"},
		{Priority: 9, Payload: "high"},
	}

	data, err := codec.EncodeTasks(tasks)
	if err != nil {
		t.Fatalf("EncodeTasks failed: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Expected non-empty IPC data")
	}

	got, err := codec.DecodeTasks(data)
	if err != nil {
		t.Fatalf("DecodeTasks failed: %v", err)
	}
	if len(got) != 2 || got[0] != tasks[0] || got[1] != tasks[1] {
		t.Errorf("Expected %v, got %v", tasks, got)
	}
}

func TestIPCMultipleBatches(t *testing.T) {
	codec := NewIPCCodec()

	first, _ := TasksToRecord([]engine.Task{{Priority: 1, Payload: "a"}})
	defer first.Release()
	second, _ := TasksToRecord([]engine.Task{{Priority: 2, Payload: "b"}, {Priority: 3, Payload: "c"}})
	defer second.Release()

	data, err := codec.Serialize(first, second)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	tasks, err := codec.DecodeTasks(data)
	if err != nil {
		t.Fatalf("DecodeTasks failed: %v", err)
	}
	if len(tasks) != 3 {
		t.Errorf("Expected 3 tasks across batches, got %d", len(tasks))
	}
}

func TestIPCSerializeNoRecords(t *testing.T) {
	if _, err := NewIPCCodec().Serialize(); err == nil {
		t.Error("Expected error for no records")
	}
}

func TestIPCDecodeGarbage(t *testing.T) {
	if _, err := NewIPCCodec().DecodeTasks([]byte("not arrow")); err == nil {
		t.Error("Expected error for invalid IPC data")
	}
}

func TestIPCReport(t *testing.T) {
	codec := NewIPCCodec()
	report := engine.RoundReport{
		ID:      "r",
		Results: []engine.Result{{Task: engine.Task{Priority: 1, Payload: "x"}}},
	}

	data, err := codec.EncodeReport(report)
	if err != nil {
		t.Fatalf("EncodeReport failed: %v", err)
	}
	records, err := codec.Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	defer func() {
		for _, r := range records {
			r.Release()
		}
	}()
	if len(records) != 1 || records[0].NumRows() != 1 {
		t.Errorf("Unexpected report records")
	}
}

func FuzzDecodeTasks(f *testing.F) {
	codec := NewIPCCodec()
	seed, _ := codec.EncodeTasks([]engine.Task{{Priority: 1, Payload: "seed"}})
	f.Add(seed)
	f.Add([]byte{})
	f.Add([]byte("garbage"))

	f.Fuzz(func(t *testing.T, data []byte) {
		// Must not panic.
		_, _ = codec.DecodeTasks(data)
	})
}
