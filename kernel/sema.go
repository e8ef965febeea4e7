// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

import "github.com/gokernel/threads/list"

// Semaphore is a counting semaphore. Waiters are woken in priority
// order, highest first, FIFO among threads of equal priority at the
// time they were enqueued.
type Semaphore struct {
	k       *Kernel
	value   int
	waiters list.List[*Thread]
}

// NewSemaphore creates a Semaphore with the given initial value.
func NewSemaphore(k *Kernel, value int) *Semaphore {
	s := &Semaphore{k: k, value: value}
	s.waiters.Init()
	return s
}

// Down decrements the semaphore, blocking the calling thread while
// the value is zero.
func (s *Semaphore) Down() {
	k := s.k
	k.mu.Lock()
	s.downLocked()
	k.mu.Unlock()
}

// downLocked requires k.mu held on entry and returns with k.mu held.
func (s *Semaphore) downLocked() {
	k := s.k
	for s.value == 0 {
		cur := k.current
		cur.status = StatusBlocked
		s.waiters.OrderedInsert(&cur.schedElem, byPriorityDesc, nil)
		k.blockLocked()
	}
	s.value--
}

// TryDown decrements the semaphore without blocking, reporting
// whether it succeeded.
func (s *Semaphore) TryDown() bool {
	k := s.k
	k.mu.Lock()
	defer k.mu.Unlock()
	if s.value == 0 {
		return false
	}
	s.value--
	return true
}

// Up increments the semaphore, waking the highest-priority waiter (if
// any) and yielding immediately if that waiter now outranks the
// calling thread.
func (s *Semaphore) Up() {
	k := s.k
	k.mu.Lock()
	if !s.waiters.Empty() {
		// Donation may have changed a waiter's priority since it was
		// enqueued; re-sort before waking the highest-priority one.
		s.waiters.Sort(byPriorityDesc, nil)
		e := s.waiters.Front()
		s.waiters.Remove(e)
		k.unblockLocked(e.Value)
	}
	s.value++
	k.preemptIfNeededLocked()
	k.mu.Unlock()
}

// Value returns the semaphore's current value.
func (s *Semaphore) Value() int {
	k := s.k
	k.mu.Lock()
	defer k.mu.Unlock()
	return s.value
}
