// Copyright 2024 The Ananas Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sched

import "ananas.dev/kernel/pkg/mdlayer"

// Flag is a bitmask of thread state flags.
type Flag uint32

const (
	FlagActive Flag = 1 << iota
	FlagSuspended
	FlagKernelThread
	FlagZombie
)

func (f Flag) has(bit Flag) bool { return f&bit != 0 }

// Info holds the three standard file handles and working-directory
// handle every thread carries, per the data model's per-thread info
// block. The handles are opaque to the scheduler; VFS owns their
// meaning.
type Info struct {
	Stdin, Stdout, Stderr any
	WorkDir               any
}

// Thread is a schedulable unit of execution: a machine context plus
// scheduling flags and its link in the global thread ring.
type Thread struct {
	Name  string
	ctx   *mdlayer.Context
	flags Flag
	next  *Thread // ring link, mutated only under Scheduler.mu

	Owner any // opaque back-reference to the owning process/address space
	Info  Info
}

// NewThread allocates a zero-initialized thread with the given
// machine context. It is not linked into any scheduler's ring until
// Scheduler.AddThread is called.
func NewThread(name string, ctx *mdlayer.Context) *Thread {
	return &Thread{Name: name, ctx: ctx}
}

func (t *Thread) Flags() Flag { return t.flags }

func (t *Thread) setFlag(f Flag)   { t.flags |= f }
func (t *Thread) clearFlag(f Flag) { t.flags &^= f }

// Suspend marks the thread suspended. Callers that suspend themselves
// must follow this with Scheduler.Schedule.
func (t *Thread) Suspend() { t.setFlag(FlagSuspended) }

// Resume clears the suspended flag, making the thread eligible for
// selection again.
func (t *Thread) Resume() { t.clearFlag(FlagSuspended) }

func (t *Thread) IsSuspended() bool { return t.flags.has(FlagSuspended) }
func (t *Thread) IsZombie() bool    { return t.flags.has(FlagZombie) }
