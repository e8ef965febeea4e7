// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel_test

import (
	"sync"
	"testing"
	"time"

	"github.com/gokernel/threads/config"
	"github.com/gokernel/threads/kernel"
	"github.com/gokernel/threads/set"
)

// testConfig gives the kernel's initial thread (the goroutine running
// the test itself) the lowest possible priority, so that every worker
// thread created at a higher priority preempts it immediately: tests
// can then rely on CreateThread's own preemption behaviour, plus the
// kernel's own Semaphore/Lock/CondVar for any further handshake,
// instead of native channels, which would bypass the scheduler
// entirely and deadlock (nothing re-dispatches a parked thread except
// another call into the kernel).
func testConfig() config.Settings {
	cfg := config.Default()
	cfg.PriDefault = cfg.PriMin
	return cfg
}

func newTestKernel() *kernel.Kernel {
	return kernel.NewKernel(testConfig())
}

// driveTicks calls k.Tick() in a loop on its own goroutine, standing
// in for a hardware timer interrupt, until stop is closed. It never
// touches thread state directly, so it is safe to call from a
// goroutine that isn't any kernel thread's body.
func driveTicks(k *kernel.Kernel, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
			k.Tick()
			time.Sleep(time.Millisecond)
		}
	}
}

type orderLog struct {
	mu  sync.Mutex
	log []string
}

func (o *orderLog) add(name string) {
	o.mu.Lock()
	o.log = append(o.log, name)
	o.mu.Unlock()
}

func (o *orderLog) get() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.log...)
}

func assertOrder(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// TestAlarmOrdering is scenario S1: several threads sleep for
// different durations; they must wake in deadline order regardless of
// the order they went to sleep in.
func TestAlarmOrdering(t *testing.T) {
	k := newTestKernel()
	stop := make(chan struct{})
	go driveTicks(k, stop)
	defer close(stop)

	var order orderLog
	done := kernel.NewSemaphore(k, 0)

	sleepFor := map[string]int64{"c": 30, "a": 10, "b": 20}
	for name, dur := range sleepFor {
		name, dur := name, dur
		k.CreateThread(name, 10, func(kk *kernel.Kernel) {
			kk.SleepUntil(kk.Ticks() + dur)
			order.add(name)
			done.Up()
		})
	}
	for i := 0; i < 3; i++ {
		done.Down()
	}
	assertOrder(t, order.get(), []string{"a", "b", "c"})
}

// TestSleepZeroReturnsImmediately checks that sleeping for a deadline
// at or before now does not block.
func TestSleepZeroReturnsImmediately(t *testing.T) {
	k := newTestKernel()
	done := kernel.NewSemaphore(k, 0)
	k.CreateThread("t", 10, func(kk *kernel.Kernel) {
		kk.SleepUntil(kk.Ticks())
		done.Up()
	})
	if !done.TryDown() {
		t.Fatalf("thread sleeping until now should have already run and signalled")
	}
}

// TestPriorityPreemption is scenario S2: creating a higher-priority
// thread preempts the currently running one immediately, splicing its
// own execution into the middle of the lower-priority thread's.
func TestPriorityPreemption(t *testing.T) {
	k := newTestKernel()
	var order orderLog
	done := kernel.NewSemaphore(k, 0)

	k.CreateThread("low", 10, func(kk *kernel.Kernel) {
		order.add("low-start")
		kk.CreateThread("high", 30, func(kk *kernel.Kernel) {
			order.add("high")
			done.Up()
		})
		order.add("low-end")
		done.Up()
	})
	done.Down()
	done.Down()
	assertOrder(t, order.get(), []string{"low-start", "high", "low-end"})
}

// TestSingleDonation is scenario S3: a low-priority lock holder has
// its priority raised to that of a higher-priority thread blocked
// waiting for the same lock, and restored on release.
func TestSingleDonation(t *testing.T) {
	k := newTestKernel()
	l := kernel.NewLock(k)
	lowHasLock := kernel.NewSemaphore(k, 0)
	lowRelease := kernel.NewSemaphore(k, 0)
	done := kernel.NewSemaphore(k, 0)

	var low *kernel.Thread
	k.CreateThread("low", 20, func(kk *kernel.Kernel) {
		low = kk.CurrentThread()
		l.Acquire()
		lowHasLock.Up()
		lowRelease.Down()
		l.Release()
		done.Up()
	})
	lowHasLock.Down()

	if low.Priority() != 20 {
		t.Fatalf("low's priority = %d before any donation, want 20", low.Priority())
	}

	k.CreateThread("high", 30, func(kk *kernel.Kernel) {
		l.Acquire()
		l.Release()
		done.Up()
	})

	if low.Priority() != 30 {
		t.Fatalf("low's priority = %d after high blocked on its lock, want 30", low.Priority())
	}

	lowRelease.Up()
	done.Down()
	done.Down()

	if low.Priority() != 20 {
		t.Fatalf("low's priority = %d after releasing the lock, want restored to 20", low.Priority())
	}
}

// TestMultipleDonationsOnOneHolder is scenario S5: two higher-priority
// threads block on the same lock; the holder's priority tracks the
// maximum of the two donations, and drops back to base once the lock
// is released.
func TestMultipleDonationsOnOneHolder(t *testing.T) {
	k := newTestKernel()
	l := kernel.NewLock(k)
	lowHasLock := kernel.NewSemaphore(k, 0)
	lowRelease := kernel.NewSemaphore(k, 0)
	done := kernel.NewSemaphore(k, 0)

	var low *kernel.Thread
	k.CreateThread("low", 10, func(kk *kernel.Kernel) {
		low = kk.CurrentThread()
		l.Acquire()
		lowHasLock.Up()
		lowRelease.Down()
		l.Release()
		done.Up()
	})
	lowHasLock.Down()

	k.CreateThread("high1", 25, func(kk *kernel.Kernel) {
		l.Acquire()
		l.Release()
		done.Up()
	})
	if low.Priority() != 25 {
		t.Fatalf("low's priority = %d after high1 donated, want 25", low.Priority())
	}

	k.CreateThread("high2", 30, func(kk *kernel.Kernel) {
		l.Acquire()
		l.Release()
		done.Up()
	})
	if low.Priority() != 30 {
		t.Fatalf("low's priority = %d after high2 donated, want 30 (max of the two)", low.Priority())
	}

	lowRelease.Up()
	done.Down()
	done.Down()
	done.Down()

	if low.Priority() != 10 {
		t.Fatalf("low's priority = %d after release, want restored to 10", low.Priority())
	}
}

// TestNestedDonation is scenario S4: priority donation propagates
// through a chain of two held locks.
func TestNestedDonation(t *testing.T) {
	k := newTestKernel()
	l1 := kernel.NewLock(k)
	l2 := kernel.NewLock(k)

	t1HasL1 := kernel.NewSemaphore(k, 0)
	t2HasL2 := kernel.NewSemaphore(k, 0)
	release := kernel.NewSemaphore(k, 0)
	done := kernel.NewSemaphore(k, 0)

	var t1, t2 *kernel.Thread
	k.CreateThread("t1", 10, func(kk *kernel.Kernel) {
		t1 = kk.CurrentThread()
		l1.Acquire()
		t1HasL1.Up()
		release.Down()
		l1.Release()
		done.Up()
	})
	t1HasL1.Down()

	k.CreateThread("t2", 20, func(kk *kernel.Kernel) {
		t2 = kk.CurrentThread()
		l2.Acquire()
		t2HasL2.Up()
		l1.Acquire() // blocks on t1, donating 20 to t1
		l1.Release()
		l2.Release()
		done.Up()
	})
	t2HasL2.Down()

	if t1.Priority() != 20 {
		t.Fatalf("t1's priority = %d after t2 blocked on l1, want 20", t1.Priority())
	}

	k.CreateThread("t3", 30, func(kk *kernel.Kernel) {
		l2.Acquire() // blocks on t2, donating 30 to t2, which chains to t1
		l2.Release()
		done.Up()
	})

	if t2.Priority() != 30 {
		t.Fatalf("t2's priority = %d after t3 blocked on l2, want 30", t2.Priority())
	}
	if t1.Priority() != 30 {
		t.Fatalf("t1's priority = %d, want the donation chain to have propagated 30 through t2", t1.Priority())
	}

	release.Up()
	done.Down()
	done.Down()
	done.Down()
}

// TestBroadcastWakesByPriority is scenario S6: Broadcast wakes
// condition variable waiters in priority order, highest first,
// regardless of the order they started waiting in.
func TestBroadcastWakesByPriority(t *testing.T) {
	k := newTestKernel()
	l := kernel.NewLock(k)
	cv := kernel.NewCondVar(k)
	ready := kernel.NewSemaphore(k, 0)
	done := kernel.NewSemaphore(k, 0)
	var order orderLog

	spawn := func(name string, priority int) {
		k.CreateThread(name, priority, func(kk *kernel.Kernel) {
			l.Acquire()
			ready.Up()
			cv.Wait(l)
			order.add(name)
			l.Release()
			done.Up()
		})
	}
	spawn("p32", 32)
	spawn("p34", 34)
	spawn("p33", 33)
	for i := 0; i < 3; i++ {
		ready.Down()
	}

	l.Acquire()
	cv.Broadcast(l)
	l.Release()

	for i := 0; i < 3; i++ {
		done.Down()
	}
	assertOrder(t, order.get(), []string{"p34", "p33", "p32"})
}

// TestSemaphoreFIFOAmongEqualPriority checks that waiters of equal
// priority are woken in the order they blocked.
func TestSemaphoreFIFOAmongEqualPriority(t *testing.T) {
	k := newTestKernel()
	s := kernel.NewSemaphore(k, 0)
	const n = 5
	var order orderLog
	blocked := kernel.NewSemaphore(k, 0)
	done := kernel.NewSemaphore(k, 0)

	for i := 0; i < n; i++ {
		name := string(rune('a' + i))
		k.CreateThread("w", 10, func(kk *kernel.Kernel) {
			blocked.Up()
			s.Down()
			order.add(name)
			done.Up()
		})
		// Each worker preempts into s.Down() and blocks before the next
		// is created, so enqueue order on s's waiter list is
		// deterministic.
		blocked.Down()
	}

	for i := 0; i < n; i++ {
		s.Up()
	}
	for i := 0; i < n; i++ {
		done.Down()
	}

	want := []string{"a", "b", "c", "d", "e"}
	assertOrder(t, order.get(), want)
}

// TestSetPriorityPreemptsImmediately checks that a running thread
// lowering its own priority below a ready thread's causes an
// immediate switch.
func TestSetPriorityPreemptsImmediately(t *testing.T) {
	k := newTestKernel()
	var order orderLog
	done := kernel.NewSemaphore(k, 0)

	k.CreateThread("runner", 30, func(kk *kernel.Kernel) {
		kk.CreateThread("waiter", 25, func(kk *kernel.Kernel) {
			order.add("waiter")
			done.Up()
		})
		kk.SetPriority(10) // below "waiter": must preempt immediately
		order.add("runner")
		done.Up()
	})
	done.Down()
	done.Down()
	assertOrder(t, order.get(), []string{"waiter", "runner"})
}

func TestStatsCountsDestroyedThreads(t *testing.T) {
	k := newTestKernel()
	done := kernel.NewSemaphore(k, 0)
	var mu sync.Mutex
	var tids []int
	for i := 0; i < 4; i++ {
		k.CreateThread("w", 10, func(kk *kernel.Kernel) {
			mu.Lock()
			tids = append(tids, int(kk.CurrentThread().TID()))
			mu.Unlock()
			done.Up()
		})
	}
	for i := 0; i < 4; i++ {
		done.Down()
	}
	// One more scheduling pass drains the previous generation's
	// destruction list.
	flushed := kernel.NewSemaphore(k, 0)
	k.CreateThread("flush", 10, func(kk *kernel.Kernel) { flushed.Up() })
	flushed.Down()

	if got := k.Stats().ThreadsDestroyed; got < 4 {
		t.Fatalf("got %d destroyed threads, want at least 4", got)
	}

	// TID allocation must hand out 4 distinct values, never reusing one
	// across the batch.
	if s := set.Int.FromSlice(tids); len(s) != len(tids) {
		t.Fatalf("TIDs %v contain a duplicate", tids)
	}
}

func TestFormatStatsDoesNotPanic(t *testing.T) {
	k := newTestKernel()
	stop := make(chan struct{})
	go driveTicks(k, stop)
	time.Sleep(10 * time.Millisecond)
	close(stop)
	if s := k.FormatStats(); s == "" {
		t.Fatalf("FormatStats returned an empty string")
	}
}
