// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import "github.com/gokernel/threads/vlog"

// Lock is a non-recursive mutual-exclusion lock that supports nested
// priority donation: a thread blocked trying to Acquire a Lock
// temporarily raises the holder's effective priority to its own, and
// that donation can chain through however many locks the holder is
// itself waiting on, up to the Kernel's configured chain depth.
type Lock struct {
	k      *Kernel
	sema   *Semaphore
	holder *Thread
}

// NewLock creates an unheld Lock.
func NewLock(k *Kernel) *Lock {
	return &Lock{k: k, sema: NewSemaphore(k, 1)}
}

// Acquire blocks until the calling thread holds l.
func (l *Lock) Acquire() {
	k := l.k
	k.mu.Lock()
	cur := k.current
	if l.holder == cur {
		k.mu.Unlock()
		vlog.Fatalf("kernel: lock: thread %d (%s) re-acquiring a lock it already holds", cur.tid, cur.name)
	}
	if l.holder != nil {
		cur.waitOnLock = l
		l.holder.donations.OrderedInsert(&cur.donationsElem, byPriorityDesc, nil)
		k.donateChainLocked(cur)
	}
	// downLocked requires and preserves k.mu held, same as every other
	// *Locked helper, so the contention check above and the actual
	// wait happen as one atomic step from every other thread's view.
	l.sema.downLocked()
	cur.waitOnLock = nil
	l.holder = cur
	k.mu.Unlock()
}

// TryAcquire acquires l without blocking, reporting whether it
// succeeded.
func (l *Lock) TryAcquire() bool {
	k := l.k
	k.mu.Lock()
	ok := l.sema.value > 0
	if ok {
		l.sema.value--
		l.holder = k.current
	}
	k.mu.Unlock()
	return ok
}

// Release releases l, which must be held by the calling thread. Any
// donations made on l's account are dropped and the releasing
// thread's effective priority is recomputed before the next waiter
// (if any) is woken.
func (l *Lock) Release() {
	k := l.k
	k.mu.Lock()
	cur := k.current
	if l.holder != cur {
		k.mu.Unlock()
		vlog.Fatalf("kernel: lock: thread %d (%s) released a lock it doesn't hold", cur.tid, cur.name)
	}
	k.dropDonationsForLockLocked(cur, l)
	k.recomputePriorityLocked(cur)
	l.holder = nil
	k.mu.Unlock()
	l.sema.Up()
}

// HeldByCurrent reports whether the calling thread holds l.
func (l *Lock) HeldByCurrent() bool {
	k := l.k
	k.mu.Lock()
	defer k.mu.Unlock()
	return l.holder == k.current
}
