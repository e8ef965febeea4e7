// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command threadsim runs named scenarios against the kernel package's
// priority scheduler and prints the invariant each scenario is meant
// to demonstrate.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/gokernel/threads/buildinfo"
	"github.com/gokernel/threads/config"
	"github.com/gokernel/threads/kernel"
	"github.com/gokernel/threads/vlog"
)

// scenario is one named, runnable demonstration. It returns a short
// report of what it observed, or an error if the invariant it checks
// did not hold.
type scenario struct {
	short string
	run   func(k *kernel.Kernel) (string, error)
}

var scenarios = map[string]scenario{
	"alarm":      {"wakes timed sleepers in deadline order, not creation order", scenarioAlarm},
	"preempt":    {"a higher-priority thread created mid-body preempts immediately", scenarioPreempt},
	"donate":     {"a lock holder's priority is raised by a blocked higher-priority waiter", scenarioDonate},
	"donate-max": {"two donors on one lock: the holder tracks the higher of the two", scenarioDonateMax},
	"nested":     {"priority donation propagates through a chain of held locks", scenarioNested},
	"broadcast":  {"condition-variable broadcast wakes waiters highest priority first", scenarioBroadcast},
}

func main() {
	cfg := config.Default()
	fs := flag.NewFlagSet("threadsim", flag.ExitOnError)
	if err := config.RegisterFlags(fs, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "threadsim: %v\n", err)
		os.Exit(2)
	}
	showStats := fs.Bool("stats", false, "print scheduler tick/wall-clock accounting after the scenario runs")
	version := fs.Bool("version", false, "print build info and exit")
	fs.Usage = usage

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	name := os.Args[1]
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	if *version {
		fmt.Println(buildinfo.Info().String())
		return
	}

	if name == "list" {
		listScenarios()
		return
	}

	sc, ok := scenarios[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "threadsim: unknown scenario %q\n", name)
		usage()
		os.Exit(2)
	}

	vlog.VI(1).Infof("running scenario %q with settings %+v", name, cfg)
	k := kernel.NewKernel(cfg)

	stop := make(chan struct{})
	go driveTicks(k, stop)
	defer close(stop)

	report, err := sc.run(k)
	if err != nil {
		fmt.Fprintf(os.Stderr, "threadsim: %s: FAIL: %v\n", name, err)
		os.Exit(1)
	}
	fmt.Printf("%s: %s\n", name, report)

	if *showStats {
		fmt.Println(k.FormatStats())
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: threadsim <scenario> [flags]\n\nscenarios:\n")
	listScenarios()
	fmt.Fprintf(os.Stderr, "\nrun \"threadsim list\" to see this list, or pass -help for flags.\n")
}

func listScenarios() {
	names := make([]string, 0, len(scenarios))
	for n := range scenarios {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", n, scenarios[n].short)
	}
}

// driveTicks stands in for the hardware timer: it is the only thing in
// this program that calls Kernel.Tick, and it never touches thread
// state directly, so it is safe to run on its own goroutine rather
// than any simulated thread's body.
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
