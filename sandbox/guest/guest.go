// Package guest embeds the demo WebAssembly module used by the engine's
// sandbox examples and tests. The module source is guest.wat.
package guest

import _ "embed"

// ScratchOffset is the linear-memory offset of the guest's four i32
// scratch slots written by write_memory.
const ScratchOffset = 1024

// ScratchSlots is the number of i32 slots behind ScratchOffset.
const ScratchSlots = 4

//go:embed guest.wasm
var Module []byte
