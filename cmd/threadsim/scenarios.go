// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"sync"

	"github.com/gokernel/threads/kernel"
)

// lowerToMin drops the calling goroutine's thread priority to the
// configured minimum. Every scenario below calls this first: it runs
// as the Kernel's initial thread (whatever goroutine called
// NewKernel), and needs to sit below every demonstration thread it
// creates so that CreateThread's own preempt-on-create behaviour
// drives the interleaving deterministically, the same discipline
// package kernel's own tests use.
func lowerToMin(k *kernel.Kernel) {
	k.SetPriority(k.Settings().PriMin)
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

func scenarioAlarm(k *kernel.Kernel) (string, error) {
	lowerToMin(k)
	var order orderLog
	done := kernel.NewSemaphore(k, 0)

	durations := map[string]int64{"c": 30, "a": 10, "b": 20}
	for name, dur := range durations {
		name, dur := name, dur
		k.CreateThread(name, 10, func(kk *kernel.Kernel) {
			kk.SleepUntil(kk.Ticks() + dur)
			order.add(name)
			done.Up()
		})
	}
	for i := 0; i < len(durations); i++ {
		done.Down()
	}

	got := order.get()
	want := []string{"a", "b", "c"}
	if !equal(got, want) {
		return "", fmt.Errorf("wake order = %v, want %v", got, want)
	}
	return fmt.Sprintf("wake order = %v", got), nil
}

func scenarioPreempt(k *kernel.Kernel) (string, error) {
	lowerToMin(k)
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

	got := order.get()
	want := []string{"low-start", "high", "low-end"}
	if !equal(got, want) {
		return "", fmt.Errorf("execution order = %v, want %v", got, want)
	}
	return fmt.Sprintf("execution order = %v (high ran inside low's body)", got), nil
}

func scenarioDonate(k *kernel.Kernel) (string, error) {
	lowerToMin(k)
	l := kernel.NewLock(k)
	lowHasLock := kernel.NewSemaphore(k, 0)
	release := kernel.NewSemaphore(k, 0)
	done := kernel.NewSemaphore(k, 0)

	var low *kernel.Thread
	k.CreateThread("low", 20, func(kk *kernel.Kernel) {
		low = kk.CurrentThread()
		l.Acquire()
		lowHasLock.Up()
		release.Down()
		l.Release()
		done.Up()
	})
	lowHasLock.Down()
	before := low.Priority()

	k.CreateThread("high", 30, func(kk *kernel.Kernel) {
		l.Acquire()
		l.Release()
		done.Up()
	})
	donated := low.Priority()

	release.Up()
	done.Down()
	done.Down()
	after := low.Priority()

	if donated != 30 {
		return "", fmt.Errorf("low's priority while blocking high = %d, want 30", donated)
	}
	if after != before {
		return "", fmt.Errorf("low's priority after release = %d, want restored to %d", after, before)
	}
	return fmt.Sprintf("low: %d -> %d (donated) -> %d (restored)", before, donated, after), nil
}

func scenarioDonateMax(k *kernel.Kernel) (string, error) {
	lowerToMin(k)
	l := kernel.NewLock(k)
	lowHasLock := kernel.NewSemaphore(k, 0)
	release := kernel.NewSemaphore(k, 0)
	done := kernel.NewSemaphore(k, 0)

	var low *kernel.Thread
	k.CreateThread("low", 10, func(kk *kernel.Kernel) {
		low = kk.CurrentThread()
		l.Acquire()
		lowHasLock.Up()
		release.Down()
		l.Release()
		done.Up()
	})
	lowHasLock.Down()
	before := low.Priority()

	k.CreateThread("high1", 25, func(kk *kernel.Kernel) {
		l.Acquire()
		l.Release()
		done.Up()
	})
	afterFirst := low.Priority()

	k.CreateThread("high2", 30, func(kk *kernel.Kernel) {
		l.Acquire()
		l.Release()
		done.Up()
	})
	afterSecond := low.Priority()

	release.Up()
	done.Down()
	done.Down()
	done.Down()
	restored := low.Priority()

	if afterFirst != 25 {
		return "", fmt.Errorf("low's priority after high1 donated = %d, want 25", afterFirst)
	}
	if afterSecond != 30 {
		return "", fmt.Errorf("low's priority after high2 donated = %d, want 30 (max of the two)", afterSecond)
	}
	if restored != before {
		return "", fmt.Errorf("low's priority after release = %d, want restored to %d", restored, before)
	}
	return fmt.Sprintf("low: %d -> %d -> %d (max) -> %d (restored)", before, afterFirst, afterSecond, restored), nil
}

func scenarioNested(k *kernel.Kernel) (string, error) {
	lowerToMin(k)
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
		l1.Acquire()
		l1.Release()
		l2.Release()
		done.Up()
	})
	t2HasL2.Down()
	t1AfterT2 := t1.Priority()

	k.CreateThread("t3", 30, func(kk *kernel.Kernel) {
		l2.Acquire()
		l2.Release()
		done.Up()
	})
	t2AfterT3 := t2.Priority()
	t1AfterT3 := t1.Priority()

	release.Up()
	done.Down()
	done.Down()
	done.Down()

	if t1AfterT2 != 20 {
		return "", fmt.Errorf("t1's priority after t2 blocked on l1 = %d, want 20", t1AfterT2)
	}
	if t2AfterT3 != 30 || t1AfterT3 != 30 {
		return "", fmt.Errorf("t2/t1 priorities after t3 blocked on l2 = %d/%d, want 30/30 (chain)", t2AfterT3, t1AfterT3)
	}
	return fmt.Sprintf("t1: 10 -> %d -> %d, t2: 20 -> %d (chain through two locks)", t1AfterT2, t1AfterT3, t2AfterT3), nil
}

func scenarioBroadcast(k *kernel.Kernel) (string, error) {
	lowerToMin(k)
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

	got := order.get()
	want := []string{"p34", "p33", "p32"}
	if !equal(got, want) {
		return "", fmt.Errorf("wake order = %v, want %v", got, want)
	}
	return fmt.Sprintf("wake order = %v (highest priority first)", got), nil
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
