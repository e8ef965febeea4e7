// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import "github.com/gokernel/threads/config"

func sleepLess(a, b *Thread, _ any) bool { return a.wakeupTick < b.wakeupTick }

// Ticks returns the number of timer ticks the Kernel has processed.
func (k *Kernel) Ticks() int64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.ticks
}

// SleepUntil blocks the calling thread until the Kernel's tick count
// reaches wake. A wake value at or before the current tick count
// returns immediately without blocking.
func (k *Kernel) SleepUntil(wake int64) {
	k.mu.Lock()
	if wake <= k.ticks {
		k.mu.Unlock()
		return
	}
	cur := k.current
	cur.wakeupTick = wake
	cur.status = StatusBlocked
	k.sleeping.OrderedInsert(&cur.schedElem, sleepLess, nil)
	k.blockLocked()
	k.mu.Unlock()
}

// Sleep blocks the calling thread for the given number of ticks.
func (k *Kernel) Sleep(ticks int64) {
	if ticks <= 0 {
		return
	}
	k.mu.Lock()
	wake := k.ticks + ticks
	k.mu.Unlock()
	k.SleepUntil(wake)
}

// Tick advances the Kernel's timer by one tick: it wakes every thread
// whose sleep deadline has arrived, updates per-class tick counters,
// and, if the running thread has used its full time slice, requests a
// preemption at the next safe point. It is driven by a separate
// goroutine simulating the timer interrupt, never by a thread body.
func (k *Kernel) Tick() int64 {
	k.mu.Lock()
	k.ticks++
	now := k.ticks

	for !k.sleeping.Empty() {
		e := k.sleeping.Front()
		if e.Value.wakeupTick > now {
			break
		}
		k.sleeping.Remove(e)
		k.unblockLocked(e.Value)
	}

	if k.current == k.idle {
		k.stats.IdleTicks++
	} else {
		k.stats.KernelTicks++
		k.quantumUsed++
		if k.quantumUsed >= k.cfg.TimeSlice {
			k.preemptPending = true
		}
	}
	if !k.ready.Empty() && k.current == k.idle {
		k.stats.SchedLatency++
	}
	if k.cfg.Mode == config.ModeMLFQS && k.recompute != nil {
		k.recompute(k)
	}
	k.mu.Unlock()
	return now
}

// SetRecomputeFunc installs the hook Tick calls once per tick when
// the Kernel is running in config.ModeMLFQS. It is a no-op unless a
// caller supplies one; this package does not implement an MLFQS
// policy itself.
func (k *Kernel) SetRecomputeFunc(f RecomputeFunc) {
	k.mu.Lock()
	k.recompute = f
	k.mu.Unlock()
}
