// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import (
	"github.com/gokernel/threads/list"
	"github.com/gokernel/threads/vlog"
)

// cvWaiter is a condition variable waiter's list membership record.
// It carries its own private single-waiter semaphore, distinct from
// any waiter list the waiting thread's own schedElem might otherwise
// occupy, since a CondVar's waiter list holds one record per waiter
// rather than the waiting Thread itself (the thread doesn't block
// directly on the CondVar; it blocks on its own private semaphore,
// which the signaller ups).
type cvWaiter struct {
	thread *Thread
	sema   *Semaphore
	elem   list.Elem[*cvWaiter]
}

func cvWaiterLess(a, b *cvWaiter, _ any) bool { return a.thread.priority > b.thread.priority }

// CondVar is a Mesa-style condition variable: Wait requires the
// caller to already hold the associated Lock, releases it for the
// duration of the wait, and reacquires it before returning. As with
// any Mesa-style condvar, a woken waiter must re-check its predicate
// in a loop, since Signal only makes the waiter ready to run again,
// not guaranteed to run next.
type CondVar struct {
	k       *Kernel
	waiters list.List[*cvWaiter]
}

// NewCondVar creates an empty CondVar.
func NewCondVar(k *Kernel) *CondVar {
	cv := &CondVar{k: k}
	cv.waiters.Init()
	return cv
}

// Wait atomically releases l and blocks the calling thread until
// Signal or Broadcast wakes it, then reacquires l before returning.
func (cv *CondVar) Wait(l *Lock) {
	if !l.HeldByCurrent() {
		vlog.Fatalf("kernel: cond: wait called without holding the associated lock")
	}
	k := cv.k
	w := &cvWaiter{thread: k.CurrentThread(), sema: NewSemaphore(k, 0)}
	w.elem.Value = w
	k.mu.Lock()
	cv.waiters.OrderedInsert(&w.elem, cvWaiterLess, nil)
	k.mu.Unlock()

	l.Release()
	w.sema.Down()
	l.Acquire()
}

// Signal wakes the highest-priority waiter, if any. l must be held by
// the calling thread.
func (cv *CondVar) Signal(l *Lock) {
	if !l.HeldByCurrent() {
		vlog.Fatalf("kernel: cond: signal called without holding the associated lock")
	}
	k := cv.k
	k.mu.Lock()
	if cv.waiters.Empty() {
		k.mu.Unlock()
		return
	}
	cv.waiters.Sort(cvWaiterLess, nil)
	e := cv.waiters.Front()
	cv.waiters.Remove(e)
	w := e.Value
	k.mu.Unlock()
	w.sema.Up()
}

// Broadcast wakes every waiter, highest priority first. l must be
// held by the calling thread.
func (cv *CondVar) Broadcast(l *Lock) {
	for {
		k := cv.k
		k.mu.Lock()
		empty := cv.waiters.Empty()
		k.mu.Unlock()
		if empty {
			return
		}
		cv.Signal(l)
	}
}
