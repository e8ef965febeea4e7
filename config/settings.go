// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the tunables of the threading core's scheduler
// and a mechanism for broadcasting changes to them at runtime.
package config

import (
	"flag"

	"github.com/gokernel/threads/cmd/flagvar"
	"github.com/gokernel/threads/pubsub"
)

// Mode selects the scheduling policy.
type Mode int

const (
	// ModePriority is strict priority scheduling with donation, the
	// only policy this module implements.
	ModePriority Mode = iota
	// ModeMLFQS selects a multilevel feedback queue policy. The
	// switch and its recompute hook exist; the policy itself is not
	// implemented.
	ModeMLFQS
)

func (m Mode) String() string {
	if m == ModeMLFQS {
		return "mlfqs"
	}
	return "priority"
}

// Set implements flag.Value.
func (m *Mode) Set(s string) error {
	switch s {
	case "priority", "":
		*m = ModePriority
	case "mlfqs":
		*m = ModeMLFQS
	default:
		*m = ModePriority
	}
	return nil
}

// Settings holds the tunables of a Kernel. Field tags follow
// flagvar's `cmdline:"name,default,usage"` convention so a Settings
// value can be registered against either a standard flag.FlagSet or,
// via cmd/pflagvar, a pflag.FlagSet.
type Settings struct {
	// TimeSlice is the number of ticks a thread runs before the
	// scheduler requests a voluntary yield at the next safe point.
	TimeSlice int `cmdline:"timeslice,4,ticks a thread runs before a quantum-based yield is requested"`
	// PriMin, PriDefault and PriMax bound the priority a thread can be
	// created or set to.
	PriMin     int `cmdline:"pri-min,0,lowest valid thread priority"`
	PriDefault int `cmdline:"pri-default,31,priority assigned to a thread that doesn't request one"`
	PriMax     int `cmdline:"pri-max,63,highest valid thread priority"`
	// DonationChainDepth caps how many lock-holder hops a single
	// priority donation walks before giving up.
	DonationChainDepth int `cmdline:"donation-depth,8,maximum number of lock holders a single donation chain walks"`
	// Mode selects the scheduling policy.
	Mode Mode `cmdline:"mode,priority,scheduling policy: priority or mlfqs"`
}

// Default returns the Settings a Kernel uses when none are supplied
// explicitly.
func Default() Settings {
	return Settings{
		TimeSlice:          4,
		PriMin:             0,
		PriDefault:         31,
		PriMax:             63,
		DonationChainDepth: 8,
		Mode:               ModePriority,
	}
}

// RegisterFlags registers s's fields on fs using the "cmdline" tag.
func RegisterFlags(fs *flag.FlagSet, s *Settings) error {
	return flagvar.RegisterFlagsInStruct(fs, "cmdline", s, nil, nil)
}

// Live wraps a Settings with a pubsub stream that broadcasts each
// field whenever it is changed through Live's setters, so a subscriber
// can react to configuration changes without polling. A kernel.Kernel
// does not subscribe; it keeps the Settings it was created with.
type Live struct {
	pub *pubsub.Publisher
	in  chan pubsub.Setting
	cur Settings
}

// NewLive creates a Live configuration seeded with initial, and
// starts its broadcast stream.
func NewLive(initial Settings) (*Live, error) {
	l := &Live{
		pub: pubsub.NewPublisher(),
		in:  make(chan pubsub.Setting),
		cur: initial,
	}
	if _, err := l.pub.CreateStream("config", "scheduler tunables", l.in); err != nil {
		return nil, err
	}
	return l, nil
}

// Settings returns the current configuration.
func (l *Live) Settings() Settings { return l.cur }

// SetTimeSlice updates TimeSlice and broadcasts the change.
func (l *Live) SetTimeSlice(v int) {
	l.cur.TimeSlice = v
	l.in <- pubsub.NewInt("timeslice", "ticks per quantum", v)
}

// Subscribe forks a copy of the live-update stream onto ch.
func (l *Live) Subscribe(ch chan pubsub.Setting) (*pubsub.Stream, error) {
	return l.pub.ForkStream("config", ch)
}

// Shutdown closes the broadcast stream.
func (l *Live) Shutdown() { l.pub.Shutdown() }
