// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package kernel

// donateChainLocked raises the priority of the chain of threads
// blocking acquirer from running, starting at the lock acquirer is
// waiting on and following wait_on_lock.holder links, up to the
// kernel's configured chain depth. It requires k.mu held.
//
// The chain is walked eagerly and each hop's priority bump is applied
// immediately; no waiter list is re-sorted here; any waiter list a
// donee happens to be sitting on is re-sorted lazily the next time it
// is scanned for a wakeup (see Semaphore.Up, CondVar.Signal). This
// mirrors refresh_priority/donate_priority in the original, which
// also only updates the struct thread's priority field and relies on
// list_insert_ordered having been used at insertion time everywhere
// that matters.
func (k *Kernel) donateChainLocked(acquirer *Thread) {
	holder := acquirer.waitOnLock.holder
	for depth := 0; holder != nil && depth < k.cfg.DonationChainDepth; depth++ {
		if holder.priority >= acquirer.priority {
			break
		}
		holder.priority = acquirer.priority
		if holder.status == StatusReady {
			k.ready.Remove(&holder.schedElem)
			k.ready.OrderedInsert(&holder.schedElem, byPriorityDesc, nil)
		}
		if holder.waitOnLock == nil {
			break
		}
		holder = holder.waitOnLock.holder
	}
}

// dropDonationsForLockLocked removes every donation holder received
// on account of waiting for l. It requires k.mu held.
func (k *Kernel) dropDonationsForLockLocked(holder *Thread, l *Lock) {
	for e := holder.donations.Front(); e != nil; {
		next := e.Next()
		if e.Value.waitOnLock == l {
			holder.donations.Remove(e)
		}
		e = next
	}
}

// recomputePriorityLocked restores t's effective priority to its base
// priority, then raises it to the highest priority among threads
// still donating to it, if any. It requires k.mu held.
func (k *Kernel) recomputePriorityLocked(t *Thread) {
	best := t.initPriority
	for e := t.donations.Front(); e != nil; e = e.Next() {
		if p := e.Value.priority; p > best {
			best = p
		}
	}
	t.priority = best
}
