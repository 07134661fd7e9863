// Package arrow provides Apache Arrow integration for the engine.
// This package implements:
// - Schema definitions for task batches and round reports
// - Converters between engine types and Arrow records
// - Arrow IPC stream encoding used by the ingest server
package arrow
