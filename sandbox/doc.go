// Package sandbox hosts untrusted WebAssembly modules for the engine.
//
// A Module is compiled and instantiated from raw bytes with Load and owns
// its own wazero runtime. Exported functions are invoked through a typed
// (i32, i32) -> i32 surface, and linear memory is only ever handed out as
// bounded copies.
//
// A Module serializes its calls with a mutex: wazero instances are not safe
// for concurrent use, and guest memory written by one call is observed by
// the next. Callers that need parallel sandbox execution load one Module
// per worker instead.
package sandbox
