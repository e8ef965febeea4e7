// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/gokernel/threads/config"
	"github.com/gokernel/threads/list"
	"github.com/gokernel/threads/timing"
	"github.com/gokernel/threads/vlog"
)

// errTIDExhausted is returned by CreateThread when the 64-bit TID
// space has been exhausted. This is the one failure mode of this
// package that is a normal, recoverable condition rather than a
// programming error.
var errTIDExhausted = fmt.Errorf("kernel: thread ID space exhausted")

// RecomputeFunc is invoked once per tick when the Kernel is running
// in config.ModeMLFQS, and is expected to recompute recent-CPU and
// priority for every thread. The policy itself is out of scope for
// this package; the hook exists so a caller can plug it in.
type RecomputeFunc func(k *Kernel)

// Kernel is a single-CPU preemptive thread scheduler.
//
// A zero Kernel is not usable; use NewKernel. All exported methods
// are safe to call from any thread's body.
type Kernel struct {
	cfg config.Settings

	mu      sync.Mutex
	current *Thread
	idle    *Thread
	initial *Thread

	ready     list.List[*Thread]
	sleeping  list.List[*Thread]
	destruction list.List[*Thread]

	nextTID TID
	tidLock *Lock

	ticks          int64
	quantumUsed    int
	preemptPending bool

	recompute RecomputeFunc

	stats     Stats
	timer     timing.Timer
	idleReady *Semaphore

	started bool
}

// NewKernel creates a Kernel configured by cfg and starts its idle
// thread. The calling goroutine becomes the kernel's initial thread,
// analogous to the bootstrap code that becomes the original pintos
// "main" thread.
func NewKernel(cfg config.Settings) *Kernel {
	k := &Kernel{cfg: cfg, nextTID: 1}
	k.ready.Init()
	k.sleeping.Init()
	k.destruction.Init()
	k.timer = timing.NewFullTimer("kernel")
	k.tidLock = NewLock(k)

	k.initial = newThread("main", cfg.PriDefault, nil)
	k.initial.status = StatusRunning
	k.current = k.initial
	k.timer.Push("main")
	k.initial.tid, _ = k.allocateTID()

	k.idleReady = NewSemaphore(k, 0)
	if _, err := k.createThreadLocked("idle", cfg.PriMin, k.idleBody); err != nil {
		vlog.Fatalf("kernel: failed to create idle thread: %v", err)
	}
	k.idleReady.Down()
	k.started = true
	return k
}

// idleBody is the idle thread's body. A real kernel halts the CPU
// (asm("sti; hlt")) until the next interrupt; Go has no equivalent of
// halting the current OS thread from library code, so idle instead
// yields the OS thread with runtime.Gosched between spins. It is on
// the ready queue only once, when it is created; after its first
// dispatch it is never requeued, and next_thread_to_run's Go analogue,
// pickNextLocked, returns it whenever the ready queue is empty.
func (k *Kernel) idleBody(kk *Kernel) {
	kk.mu.Lock()
	kk.idle = kk.current
	kk.mu.Unlock()
	kk.idleReady.Up()
	for {
		kk.mu.Lock()
		kk.current.status = StatusBlocked
		kk.scheduleLocked()
		kk.mu.Unlock()
		runtime.Gosched()
	}
}

// CurrentThread returns the thread running on the calling goroutine.
func (k *Kernel) CurrentThread() *Thread {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.current.magic != threadMagic {
		vlog.Fatalf("kernel: thread %d (%s): bad magic, thread was freed or corrupted", k.current.tid, k.current.name)
	}
	return k.current
}

// Settings returns the configuration the Kernel was created with.
func (k *Kernel) Settings() config.Settings { return k.cfg }

func (k *Kernel) allocateTID() (TID, error) {
	k.tidLock.Acquire()
	defer k.tidLock.Release()
	if k.nextTID < 0 {
		return TIDError, errTIDExhausted
	}
	tid := k.nextTID
	k.nextTID++
	return tid, nil
}

// CreateThread creates a new thread at the given priority that runs
// fn, and makes it ready to run. It does not itself guarantee that
// fn's thread runs before CreateThread returns: if priority is higher
// than the calling thread's, the calling thread is preempted
// immediately, matching the original's thread_create/thread_preemption
// pairing.
func (k *Kernel) CreateThread(name string, priority int, fn func(*Kernel)) (TID, error) {
	if priority < k.cfg.PriMin || priority > k.cfg.PriMax {
		vlog.Fatalf("kernel: CreateThread(%q): priority %d out of range [%d,%d]", name, priority, k.cfg.PriMin, k.cfg.PriMax)
	}
	return k.createThreadLocked(name, priority, fn)
}

// createThreadLocked implements CreateThread. It does not require
// k.mu on entry (TID allocation takes the tid lock independently,
// which would deadlock against k.mu held by the caller), but it is
// used both by CreateThread and during NewKernel before the kernel is
// fully started.
func (k *Kernel) createThreadLocked(name string, priority int, fn func(*Kernel)) (TID, error) {
	tid, err := k.allocateTID()
	if err != nil {
		return TIDError, err
	}
	t := newThread(name, priority, fn)
	t.tid = tid

	go k.runBody(t)

	k.mu.Lock()
	k.unblockLocked(t)
	k.mu.Unlock()

	vlog.VI(2).Infof("thread %d (%s): created at priority %d", tid, name, priority)
	if k.started {
		k.PreemptIfNeeded()
	}
	return tid, nil
}

// runBody is the goroutine body for every thread except the initial
// thread (whose body is whatever goroutine called NewKernel).
func (k *Kernel) runBody(t *Thread) {
	<-t.resume
	t.fn(k)
	k.Exit()
}

// signalResume wakes t's goroutine. Called with k.mu held.
func (k *Kernel) signalResume(t *Thread) {
	select {
	case t.resume <- struct{}{}:
	default:
		vlog.Fatalf("kernel: thread %d (%s): resume channel already full", t.tid, t.name)
	}
}

// scheduleLocked picks the next thread to run and switches to it. It
// requires k.mu held on entry and returns with k.mu held; in between,
// if it parks the outgoing thread's goroutine, it releases k.mu for
// the duration of the park and reacquires it once that goroutine is
// resumed; every other thread's goroutine is blocked on its own
// resume channel throughout, so this is the only place two different
// thread bodies' code can interleave.
func (k *Kernel) scheduleLocked() {
	k.drainDestructionLocked()

	old := k.current
	next := k.pickNextLocked()

	k.timer.Pop()
	k.timer.Push(next.name)

	next.status = StatusRunning
	k.current = next
	k.quantumUsed = 0
	k.preemptPending = false

	if next == old {
		return
	}
	vlog.VI(3).Infof("switch: %s -> %s", old.name, next.name)

	dying := old.status == StatusDying
	if dying && old != k.initial {
		k.destruction.PushBack(&old.schedElem)
	}
	k.signalResume(next)
	if dying {
		return
	}
	k.mu.Unlock()
	<-old.resume
	k.mu.Lock()
}

func (k *Kernel) pickNextLocked() *Thread {
	if !k.ready.Empty() {
		e := k.ready.Front()
		k.ready.Remove(e)
		return e.Value
	}
	return k.idle
}

func (k *Kernel) drainDestructionLocked() {
	for !k.destruction.Empty() {
		e := k.destruction.Front()
		k.destruction.Remove(e)
		t := e.Value
		t.freed = true
		t.magic = 0
		k.stats.ThreadsDestroyed++
		vlog.VI(2).Infof("thread %d (%s): freed", t.tid, t.name)
	}
}

// unblockLocked moves t from BLOCKED to READY and enqueues it on the
// ready list. It requires k.mu held and does not itself preempt the
// running thread; callers that want thread_create's preempt-on-create
// behaviour call PreemptIfNeeded separately.
func (k *Kernel) unblockLocked(t *Thread) {
	if t.status != StatusBlocked {
		vlog.Fatalf("kernel: unblock: thread %d (%s) is %s, not blocked", t.tid, t.name, t.status)
	}
	t.status = StatusReady
	k.ready.OrderedInsert(&t.schedElem, byPriorityDesc, nil)
}

// blockLocked switches away from the current thread, which the caller
// has already marked BLOCKED. The caller must already have placed the
// current thread's schedElem on the appropriate waiter list and set
// its status to StatusBlocked before calling this.
func (k *Kernel) blockLocked() {
	if k.current.status != StatusBlocked {
		vlog.Fatalf("kernel: block: thread %d (%s) is %s, not blocked", k.current.tid, k.current.name, k.current.status)
	}
	k.scheduleLocked()
}

// Yield gives up the CPU voluntarily. The calling thread returns to
// the ready queue (unless it is the idle thread) and may be
// immediately rescheduled if nothing else is ready.
func (k *Kernel) Yield() {
	k.mu.Lock()
	k.yieldLocked()
	k.mu.Unlock()
}

func (k *Kernel) yieldLocked() {
	cur := k.current
	if cur != k.idle {
		cur.status = StatusReady
		k.ready.OrderedInsert(&cur.schedElem, byPriorityDesc, nil)
	} else {
		cur.status = StatusBlocked
	}
	k.scheduleLocked()
}

// PreemptIfNeeded yields the CPU if the highest-priority ready thread
// outranks the currently running one.
func (k *Kernel) PreemptIfNeeded() {
	k.mu.Lock()
	k.preemptIfNeededLocked()
	k.mu.Unlock()
}

func (k *Kernel) preemptIfNeededLocked() {
	if f := k.ready.Front(); f != nil && f.Value.priority > k.current.priority {
		k.yieldLocked()
	}
}

// CheckPreempt yields the CPU if a prior Tick requested it because
// the current thread's quantum expired. This is the cooperative
// analogue of a real kernel's intr_yield_on_return: call it from any
// safe point where it is acceptable to be switched out.
func (k *Kernel) CheckPreempt() {
	k.mu.Lock()
	pending := k.preemptPending
	k.mu.Unlock()
	if pending {
		k.Yield()
	}
}

// Exit terminates the calling thread. Like the kernel primitive it
// models, Exit never returns to its caller: it ends the calling
// goroutine via runtime.Goexit after handing the CPU to the next
// thread.
func (k *Kernel) Exit() {
	k.mu.Lock()
	cur := k.current
	cur.status = StatusDying
	vlog.VI(2).Infof("thread %d (%s): exiting", cur.tid, cur.name)
	k.scheduleLocked()
	k.mu.Unlock()
	runtime.Goexit()
}

// SetPriority sets the calling thread's base priority. If donations
// are currently raising its effective priority above newPriority,
// the effective priority is unaffected until those donations are
// released; otherwise the change can cause an immediate preemption if
// it drops the thread below the head of the ready queue.
func (k *Kernel) SetPriority(newPriority int) {
	if newPriority < k.cfg.PriMin || newPriority > k.cfg.PriMax {
		vlog.Fatalf("kernel: SetPriority: priority %d out of range [%d,%d]", newPriority, k.cfg.PriMin, k.cfg.PriMax)
	}
	k.mu.Lock()
	cur := k.current
	cur.initPriority = newPriority
	k.recomputePriorityLocked(cur)
	k.preemptIfNeededLocked()
	k.mu.Unlock()
}
