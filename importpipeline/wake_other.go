//go:build !darwin

package importpipeline

import "trustgraph/engine/actors"

// WatchForWake is a no-op off macOS: there is no portable sleep/wake
// signal, so the scheduler's normal poll interval is all non-darwin
// builds get.
func WatchForWake(fetchJob, scheduleJob actors.DelayedJob) {}
