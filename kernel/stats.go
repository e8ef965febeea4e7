// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import "fmt"

// Stats holds per-class accounting, the Go equivalent of the
// original's idle_ticks/kernel_ticks counters (there is no user-tick
// counter) plus one more class its
// single-CPU assumption makes meaningful: ticks during
// which the ready queue was non-empty while the idle thread was still
// running, i.e. scheduling latency.
type Stats struct {
	IdleTicks        int64
	KernelTicks      int64
	SchedLatency     int64
	ThreadsDestroyed int64
}

// Stats returns a snapshot of the Kernel's accounting counters.
func (k *Kernel) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stats
}

// FormatStats renders the Kernel's accounting counters and its
// wall-time breakdown (one interval per dispatch, named after the
// thread dispatched, all direct children of the root in run order)
// as a human-readable report, the Go
// analogue of the original's thread_print_stats.
func (k *Kernel) FormatStats() string {
	k.mu.Lock()
	stats := k.stats
	ticks := k.ticks
	timerString := k.timer.Root().String()
	k.mu.Unlock()

	return fmt.Sprintf(
		"ticks=%d idle=%d kernel=%d sched_latency=%d threads_destroyed=%d\n%s",
		ticks, stats.IdleTicks, stats.KernelTicks, stats.SchedLatency, stats.ThreadsDestroyed, timerString)
}
