package seal

import "runtime"

// Params controls Argon2id key-derivation cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
}

// DefaultParams returns a baseline that keeps a token-file open well under a second.
func DefaultParams() Params {
	// Clamp to [1..4] to keep resource usage predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Params{
		MemoryKiB:   32 * 1024,
		Iterations:  2,
		Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
		SaltLength:  16,
	}
}

// withinBounds refuses parameters read from a blob that would cost far more than our own.
func withinBounds(got, ours Params) bool {
	if got.MemoryKiB == 0 || got.Iterations == 0 || got.Parallelism == 0 {
		return false
	}
	return got.MemoryKiB <= ours.MemoryKiB*4 &&
		got.Iterations <= ours.Iterations*4 &&
		got.Parallelism <= 16
}
