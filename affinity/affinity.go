// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.

package affinity

// SetAffinity pins the calling OS thread to the logical CPU cpuID.
// Callers must hold runtime.LockOSThread for the pin to stay meaningful.
// On unsupported platforms it returns api.ErrNotSupported.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// CPUFor maps a shard index onto the CPUs available to the process,
// wrapping when there are more shards than CPUs.
func CPUFor(shard int) int {
	cpus := allowedCPUs()
	if len(cpus) == 0 {
		return shard
	}
	return cpus[shard%len(cpus)]
}
