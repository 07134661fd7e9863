// Command stress_test floods the ingest server with Arrow task batches and
// reports throughput and latency.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VanDung-dev/Blockless-Engine/api"
	"github.com/VanDung-dev/Blockless-Engine/arrow"
	"github.com/VanDung-dev/Blockless-Engine/engine"
	"go.uber.org/zap"
)

// StressTestConfig holds configuration for the stress test.
type StressTestConfig struct {
	Address     string
	Concurrency int
	BatchSize   int
	WasmRatio   float64
	Duration    time.Duration
	AuthToken   string
	ReportFile  string
}

// StressTestResult holds the results of a stress test.
type StressTestResult struct {
	TotalBatches   int64
	SuccessfulReqs int64
	FailedReqs     int64
	TasksAccepted  int64
	TotalDuration  time.Duration
	AvgLatency     time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	BatchesPerSec  float64
	TasksPerSec    float64
}

// latencyStats aggregates per-batch latencies across workers.
type latencyStats struct {
	total    int64
	success  int64
	failed   int64
	accepted int64
	sum      int64
	min      int64
	max      int64
}

func (s *latencyStats) observe(latency time.Duration, accepted int) {
	atomic.AddInt64(&s.success, 1)
	atomic.AddInt64(&s.accepted, int64(accepted))
	atomic.AddInt64(&s.sum, int64(latency))

	lat := int64(latency)
	for {
		old := atomic.LoadInt64(&s.min)
		if lat >= old || atomic.CompareAndSwapInt64(&s.min, old, lat) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&s.max)
		if lat <= old || atomic.CompareAndSwapInt64(&s.max, old, lat) {
			break
		}
	}
}

func main() {
	config := parseFlags()
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	fmt.Println("=== Blockless Ingest Stress Test ===")
	fmt.Printf("Target: %s\n", config.Address)
	fmt.Printf("Concurrency: %d workers\n", config.Concurrency)
	fmt.Printf("Batch size: %d tasks (%.0f%% sandbox calls)\n", config.BatchSize, config.WasmRatio*100)
	fmt.Printf("Duration: %v\n", config.Duration)
	fmt.Printf("Auth: %v\n", config.AuthToken != "")
	fmt.Println()

	batch, err := buildBatch(config.BatchSize, config.WasmRatio, rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		logger.Fatal("Failed to build batch", zap.Error(err))
	}

	result := runStressTest(config, batch, logger)
	printResults(result)

	if config.ReportFile != "" {
		if err := saveReport(config, result); err != nil {
			logger.Error("Failed to write report", zap.Error(err))
		} else {
			fmt.Printf("Report saved to: %s\n", config.ReportFile)
		}
	}
}

func parseFlags() StressTestConfig {
	config := StressTestConfig{}

	flag.StringVar(&config.Address, "addr", "127.0.0.1:9000", "Ingest server address")
	flag.IntVar(&config.Concurrency, "c", 10, "Number of concurrent connections")
	flag.IntVar(&config.BatchSize, "b", 100, "Tasks per batch")
	flag.Float64Var(&config.WasmRatio, "wasm", 0.1, "Fraction of tasks that invoke the sandbox")
	flag.DurationVar(&config.Duration, "d", 30*time.Second, "Duration of test")
	flag.StringVar(&config.AuthToken, "token", "", "Authentication token (enables handshake)")
	flag.StringVar(&config.ReportFile, "o", "", "Output report file (JSON)")

	flag.Parse()
	return config
}

// buildBatch encodes one Arrow IPC batch of random tasks, reused by every
// request.
func buildBatch(size int, wasmRatio float64, rng *rand.Rand) ([]byte, error) {
	tasks := make([]engine.Task, size)
	for i := range tasks {
		payload := fmt.Sprintf("stress-%d", i)
		if rng.Float64() < wasmRatio {
			payload = engine.Invocation{Function: "add", A: int32(rng.Intn(1000)), B: int32(rng.Intn(1000))}.Payload()
		}
		tasks[i] = engine.Task{Priority: uint8(rng.Intn(256)), Payload: payload}
	}
	return arrow.NewIPCCodec().EncodeTasks(tasks)
}

func runStressTest(config StressTestConfig, batch []byte, logger *zap.Logger) StressTestResult {
	stats := &latencyStats{min: 1<<63 - 1}
	stop := make(chan struct{})
	var wg sync.WaitGroup

	startTime := time.Now()
	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runWorker(workerID, config, batch, stop, stats, logger)
		}(i)
	}

	time.Sleep(config.Duration)
	close(stop)
	wg.Wait()

	duration := time.Since(startTime)
	success := atomic.LoadInt64(&stats.success)

	var avgLatency time.Duration
	if success > 0 {
		avgLatency = time.Duration(atomic.LoadInt64(&stats.sum) / success)
	}
	minLatency := atomic.LoadInt64(&stats.min)
	if success == 0 {
		minLatency = 0
	}

	total := atomic.LoadInt64(&stats.total)
	accepted := atomic.LoadInt64(&stats.accepted)
	return StressTestResult{
		TotalBatches:   total,
		SuccessfulReqs: success,
		FailedReqs:     atomic.LoadInt64(&stats.failed),
		TasksAccepted:  accepted,
		TotalDuration:  duration,
		AvgLatency:     avgLatency,
		MinLatency:     time.Duration(minLatency),
		MaxLatency:     time.Duration(atomic.LoadInt64(&stats.max)),
		BatchesPerSec:  float64(total) / duration.Seconds(),
		TasksPerSec:    float64(accepted) / duration.Seconds(),
	}
}

// runWorker keeps one connection open and reconnects after any failure.
func runWorker(id int, config StressTestConfig, batch []byte, stop chan struct{}, stats *latencyStats, logger *zap.Logger) {
	var conn net.Conn
	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if conn == nil {
			c, err := connect(config)
			if err != nil {
				atomic.AddInt64(&stats.failed, 1)
				logger.Debug("Connect failed", zap.Int("worker", id), zap.Error(err))
				time.Sleep(10 * time.Millisecond)
				continue
			}
			conn = c
		}

		atomic.AddInt64(&stats.total, 1)
		latency, accepted, err := sendBatch(conn, batch)
		if err != nil {
			atomic.AddInt64(&stats.failed, 1)
			logger.Debug("Batch failed", zap.Int("worker", id), zap.Error(err))
			conn.Close()
			conn = nil
			continue
		}
		stats.observe(latency, accepted)
	}
}

func connect(config StressTestConfig) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", config.Address, 5*time.Second)
	if err != nil {
		return nil, err
	}
	if config.AuthToken != "" {
		_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
		if err := api.Authenticate(conn, config.AuthToken); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func sendBatch(conn net.Conn, batch []byte) (time.Duration, int, error) {
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	start := time.Now()
	if err := api.WriteMessage(conn, batch); err != nil {
		return 0, 0, err
	}
	reply, err := api.ReadMessage(conn)
	if err != nil {
		return 0, 0, err
	}
	latency := time.Since(start)

	n, err := api.ParseReply(reply)
	return latency, n, err
}

func printResults(result StressTestResult) {
	pct := func(n int64) float64 {
		if result.TotalBatches == 0 {
			return 0
		}
		return float64(n) / float64(result.TotalBatches) * 100
	}

	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Total Batches:   %d\n", result.TotalBatches)
	fmt.Printf("Successful:      %d (%.2f%%)\n", result.SuccessfulReqs, pct(result.SuccessfulReqs))
	fmt.Printf("Failed:          %d (%.2f%%)\n", result.FailedReqs, pct(result.FailedReqs))
	fmt.Printf("Tasks accepted:  %d\n", result.TasksAccepted)
	fmt.Printf("Batches/sec:     %.2f\n", result.BatchesPerSec)
	fmt.Printf("Tasks/sec:       %.2f\n", result.TasksPerSec)
	fmt.Printf("Avg Latency:     %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:     %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", result.MaxLatency.Round(time.Microsecond))
}

func saveReport(config StressTestConfig, result StressTestResult) error {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"address":     config.Address,
			"concurrency": config.Concurrency,
			"batch_size":  config.BatchSize,
			"duration":    config.Duration.String(),
		},
		"results": map[string]interface{}{
			"total_batches":   result.TotalBatches,
			"successful":      result.SuccessfulReqs,
			"failed":          result.FailedReqs,
			"tasks_accepted":  result.TasksAccepted,
			"batches_per_sec": result.BatchesPerSec,
			"tasks_per_sec":   result.TasksPerSec,
			"avg_latency_ms":  float64(result.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":  float64(result.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":  float64(result.MaxLatency.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(config.ReportFile, data, 0o644)
}
