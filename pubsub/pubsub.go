// Copyright 2015 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pubsub implements a simple publish/subscribe mechanism for
// broadcasting configuration changes (Settings) to multiple
// consumers, each of which can fork its own copy of a named stream
// and read the latest value of every setting seen so far before
// receiving new ones.
package pubsub

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	errStreamDoesntExist = errors.New("pubsub: stream doesn't exist")
	errNeedNonNilChannel = errors.New("pubsub: a non-nil channel must be supplied")
	errStreamExists      = errors.New("pubsub: stream already exists")
	errStreamShutDown    = errors.New("pubsub: publisher has been shut down")
)

// Setting is a single named configuration value.
type Setting interface {
	Name() string
	Description() string
	Value() interface{}
	String() string
}

type setting struct {
	name, desc, typeName string
	val                  interface{}
}

func (s *setting) Name() string        { return s.name }
func (s *setting) Description() string { return s.desc }
func (s *setting) Value() interface{}  { return s.val }
func (s *setting) String() string {
	return fmt.Sprintf("%s: %s: (%s: %v)", s.name, s.desc, s.typeName, s.val)
}

// NewString creates a string-valued Setting.
func NewString(key, desc, val string) Setting { return &setting{key, desc, "string", val} }

// NewInt creates an int-valued Setting.
func NewInt(key, desc string, val int) Setting { return &setting{key, desc, "int", val} }

// NewFloat64 creates a float64-valued Setting.
func NewFloat64(key, desc string, val float64) Setting { return &setting{key, desc, "float64", val} }

// DurationFlag adapts time.Duration for use as a flag.Value, so a
// Setting's value can be parsed straight off a command line flag.
type DurationFlag struct {
	Duration time.Duration
}

// Set implements flag.Value.
func (d *DurationFlag) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// String implements flag.Value.
func (d *DurationFlag) String() string { return d.Duration.String() }

// Stream describes a named stream of Settings and the latest value
// seen for each Setting name published on it.
type Stream struct {
	Name, Description string
	Latest             map[string]Setting
}

type stream struct {
	name, desc string
	in         chan Setting
	stop       chan struct{}

	mu     sync.Mutex
	latest map[string]Setting
	forks  []chan Setting
}

func (s *stream) run() {
	for v := range s.in {
		s.mu.Lock()
		s.latest[v.Name()] = v
		forks := append([]chan Setting(nil), s.forks...)
		s.mu.Unlock()
		for _, f := range forks {
			f <- v
		}
	}
	s.mu.Lock()
	forks := s.forks
	s.forks = nil
	s.mu.Unlock()
	for _, f := range forks {
		close(f)
	}
}

func (s *stream) latestCopy() map[string]Setting {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Setting, len(s.latest))
	for k, v := range s.latest {
		out[k] = v
	}
	return out
}

// Publisher fans out Settings published on named streams to however
// many consumers fork each stream.
type Publisher struct {
	mu       sync.Mutex
	streams  map[string]*stream
	shutdown bool
}

// NewPublisher returns a new, empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{streams: make(map[string]*stream)}
}

// CreateStream creates a new named stream fed by in. The returned
// channel is closed when the Publisher is shut down; the caller is
// expected to select on it, close in, and stop sending once it fires.
func (p *Publisher) CreateStream(name, desc string, in chan Setting) (<-chan struct{}, error) {
	if in == nil {
		return nil, errNeedNonNilChannel
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return nil, errStreamShutDown
	}
	if _, exists := p.streams[name]; exists {
		return nil, errStreamExists
	}
	st := &stream{
		name:   name,
		desc:   desc,
		in:     in,
		stop:   make(chan struct{}),
		latest: make(map[string]Setting),
	}
	p.streams[name] = st
	go st.run()
	return st.stop, nil
}

// ForkStream subscribes ch to the named stream, returning a snapshot
// of the stream's latest Settings as of the fork. ch receives every
// Setting published after the fork; it is closed when the stream's
// producer closes its input channel.
func (p *Publisher) ForkStream(name string, ch chan Setting) (*Stream, error) {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, errStreamShutDown
	}
	st, ok := p.streams[name]
	p.mu.Unlock()
	if !ok {
		return nil, errStreamDoesntExist
	}
	st.mu.Lock()
	if ch != nil {
		st.forks = append(st.forks, ch)
	}
	st.mu.Unlock()
	return &Stream{Name: name, Description: st.desc, Latest: st.latestCopy()}, nil
}

// Latest returns a snapshot of the named stream without forking it,
// or nil if no such stream exists.
func (p *Publisher) Latest(name string) *Stream {
	p.mu.Lock()
	st, ok := p.streams[name]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return &Stream{Name: name, Description: st.desc, Latest: st.latestCopy()}
}

// Shutdown closes every stream's stop channel; producers are expected
// to close their input channel in response, which in turn causes
// forked consumer channels to close.
func (p *Publisher) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	streams := make([]*stream, 0, len(p.streams))
	for _, st := range p.streams {
		streams = append(streams, st)
	}
	p.mu.Unlock()
	for _, st := range streams {
		close(st.stop)
	}
}

// String returns a human-readable summary of every live stream, or
// "shutdown" once the Publisher has been shut down.
func (p *Publisher) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return "shutdown"
	}
	names := make([]string, 0, len(p.streams))
	for n := range p.streams {
		names = append(names, n)
	}
	sort.Strings(names)
	out := ""
	for i, n := range names {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("(%s: %s)", n, p.streams[n].desc)
	}
	return out
}
