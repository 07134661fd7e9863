// Package api exposes the engine over the network.
//
// It provides Prometheus metrics, a length-prefixed Arrow IPC ingest
// server, a gRPC task service and an HTTP API over the task registry.
package api
