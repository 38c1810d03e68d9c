package app

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
)

var logicalCPUs = func() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// CrawlPoolSize is twice the logical CPU count plus one unless override is
// positive.
func CrawlPoolSize(override int) int {
	if override > 0 {
		return override
	}
	return logicalCPUs()*2 + 1
}

// RetryPoolSize is the logical CPU count unless override is positive.
func RetryPoolSize(override int) int {
	if override > 0 {
		return override
	}
	return logicalCPUs()
}
