// Package bench drives timed write and read trials against storage
// backends across a sweep of dataset sizes.
package bench

import "time"

// Measurement holds the wall-clock duration and on-disk footprint for
// one timed operation. With repeats, Elapsed is the mean and
// ElapsedStdDev the sample standard deviation across runs.
type Measurement struct {
	Elapsed        time.Duration `json:"elapsed_ns"`
	ElapsedStdDev  time.Duration `json:"elapsed_stddev_ns,omitempty"`
	FootprintBytes uint64        `json:"footprint_bytes"`
}

// Trial holds the write and read measurements for one backend at one
// dataset size.
type Trial struct {
	Size  int         `json:"size"`
	Write Measurement `json:"write"`
	Read  Measurement `json:"read"`
}

// SweepResult holds the ordered trials of one backend's sweep.
type SweepResult struct {
	Backend string  `json:"backend"`
	Trials  []Trial `json:"trials"`
}
