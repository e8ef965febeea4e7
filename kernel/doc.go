// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package kernel implements the threading core of a small single-CPU
// preemptive scheduler: thread creation and exit, a priority-ordered
// run queue, timed sleep, and the semaphore/lock/condition-variable
// primitives built on top of it, including nested priority donation
// through a chain of held locks.
//
// There is exactly one CPU and, at any instant, exactly one Go
// goroutine is allowed to be running a thread's body: every other
// thread's goroutine is parked on a per-thread channel, waiting to be
// resumed. A Kernel's scheduler plays the role of the assembly-level
// context switch (switch_threads in a real kernel) by closing over
// which goroutine gets to proceed next and signalling it through that
// channel; the goroutine that was running parks on its own channel in
// exchange. Kernel.mu plays the role of "interrupts disabled": it
// serializes access to the scheduler's data structures (the run
// queue, the sleep list, thread state) against the one other source
// of concurrency in this package, the driver goroutine that calls
// Tick.
//
// Go cannot truly preempt a running goroutine from library code the
// way a timer interrupt preempts a running thread, so Tick only
// raises a flag (preemptPending); the flag is acted on the next time
// the running thread reaches a safe point (a call to Yield, a
// blocking primitive, or CheckPreempt). This mirrors, rather than
// weakens, the deferred-preemption design of a real kernel, where a
// timer interrupt handler similarly only arranges for a yield to
// happen once the interrupt handler itself returns.
package kernel
