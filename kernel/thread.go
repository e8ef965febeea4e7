// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"github.com/gokernel/threads/list"
)

// threadMagic guards against stack overflow in the original C
// implementation this package is modelled on: a sentinel value a
// corrupted thread would no longer carry. Go's runtime already
// catches stack overflow, but the field is kept as a cheap sanity
// check: CurrentThread aborts if the running thread's magic has been
// cleared by being freed.
const threadMagic = 0xcd6abf4b

// Status is a thread's position in its lifecycle state machine.
type Status int

const (
	// StatusBlocked is the initial state of a newly-created thread,
	// before it has ever been placed on the ready queue, and the
	// state of a thread waiting on a semaphore, lock, condition
	// variable, or timed sleep.
	StatusBlocked Status = iota
	// StatusReady means the thread is eligible to run and is sitting
	// on the ready queue. The idle thread is ready only between its
	// creation and its first dispatch; afterwards it is marked
	// StatusBlocked whenever it is not running and is never requeued.
	StatusReady
	// StatusRunning means the thread is the one currently executing.
	StatusRunning
	// StatusDying means the thread has called Exit and is waiting for
	// its resources to be reclaimed by a later call to the scheduler.
	StatusDying
)

func (s Status) String() string {
	switch s {
	case StatusBlocked:
		return "blocked"
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusDying:
		return "dying"
	default:
		return "invalid"
	}
}

// TID identifies a thread for the lifetime of the Kernel.
type TID int64

// TIDError is returned by CreateThread when TID space is exhausted.
const TIDError TID = -1

// Thread is a kernel thread control block. Fields are unexported:
// callers interact with threads through Kernel methods and the
// Semaphore/Lock/CondVar primitives, never by reaching into a Thread
// directly, mirroring how the C original keeps struct thread private
// to threads/*.c and exposes only accessor functions.
type Thread struct {
	magic uint32

	tid    TID
	name   string
	status Status
	fn     func(*Kernel)

	// priority is the thread's effective priority: its own base
	// priority, or a higher value donated to it by a thread blocked
	// waiting for a lock it holds. initPriority is the base priority,
	// restored once all donations that raised it above it are gone.
	priority     int
	initPriority int

	// waitOnLock is the lock this thread is currently blocked trying
	// to acquire, or nil. donations is the set of threads currently
	// donating their priority to this thread because they are blocked
	// on a lock this thread holds, ordered by donor priority
	// (highest first) as of each donor's insertion.
	waitOnLock *Lock
	donations  list.List[*Thread]

	// schedElem is this thread's membership handle in exactly one of:
	// the ready queue, a semaphore's waiter list, the sleep list, or
	// the destruction list. donationsElem is its membership handle in
	// some other thread's donations list. A thread can be on at most
	// one of each at a time, since it can only be waiting for one
	// thing at once.
	schedElem     list.Elem[*Thread]
	donationsElem list.Elem[*Thread]

	wakeupTick int64

	// resume is signalled by the scheduler when this thread's
	// goroutine should run. It is the Go-native stand-in for a
	// restored register context.
	resume chan struct{}

	freed bool
}

func newThread(name string, priority int, fn func(*Kernel)) *Thread {
	t := &Thread{
		magic:        threadMagic,
		name:         name,
		status:       StatusBlocked,
		fn:           fn,
		priority:     priority,
		initPriority: priority,
		resume:       make(chan struct{}, 1),
	}
	t.donations.Init()
	return t
}

// TID returns t's thread ID.
func (t *Thread) TID() TID { return t.tid }

// Name returns t's name, as given to CreateThread.
func (t *Thread) Name() string { return t.name }

// Status returns t's current lifecycle state.
func (t *Thread) Status() Status { return t.status }

// Priority returns t's current effective priority (its base priority
// or, if higher, a value donated to it by a thread it is blocking).
func (t *Thread) Priority() int { return t.priority }

// BasePriority returns t's own priority, ignoring any donation.
func (t *Thread) BasePriority() int { return t.initPriority }

func byPriorityDesc(a, b *Thread, _ any) bool { return a.priority > b.priority }
