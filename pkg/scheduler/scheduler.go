// Copyright 2025 Autodrive Core Contributors
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

// Package scheduler queues, dispatches, and orders results for parallel or
// blocking agent sub-task execution. It is a pure data structure with no
// internal thread pool -- the host pulls runnable tasks, executes them on
// its own goroutines, and reports completions back.
package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Timing selects the concurrency discipline for one scheduling batch.
type Timing int

const (
	// Parallel allows up to maxConcurrent tasks Running simultaneously.
	Parallel Timing = iota
	// Blocking allows at most one task Running at a time.
	Blocking
)

// State is the tagged state of one scheduled agent task.
type State struct {
	Kind      StateKind
	StartedAt time.Time
	Result    string
	Err       error
}

// StateKind discriminates the State variants.
type StateKind int

const (
	StatePending StateKind = iota
	StateRunning
	StateCompleted
	StateFailed
)

// Task is one unit of sub-agent work.
type Task struct {
	ID            int
	Prompt        string
	Context       string
	WriteAccess   bool
	Models        []string
	DispatchOrder int
}

// Result carries the outcome of one completed or failed task.
type Result struct {
	AgentID         int
	Output          string
	Err             error
	Duration        time.Duration
	CompletionOrder int
	DispatchOrder   int
}

// Scheduler dispatches agent tasks. All exported methods are safe for
// concurrent use by a host that drives multiple goroutines against the
// same batch (see cmd/autodrive's errgroup-based runner).
type Scheduler struct {
	mu sync.Mutex

	maxConcurrent int
	timing        Timing

	queue          []*Task
	states         map[int]*State
	dispatchOrders map[int]int
	results        []Result
	completed      int
}

// New creates a scheduler that allows at most maxConcurrent tasks Running
// at once in Parallel mode (Blocking mode always caps at one regardless of
// this value).
func New(maxConcurrent int) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{
		maxConcurrent:  maxConcurrent,
		states:         make(map[int]*State),
		dispatchOrders: make(map[int]int),
	}
}

// Schedule enqueues tasks for dispatch under the given timing discipline.
// DispatchOrder is always assigned from insertion index, regardless of
// any value the caller set on the task.
func (s *Scheduler) Schedule(tasks []Task, timing Timing) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timing = timing
	base := len(s.dispatchOrders)
	for i := range tasks {
		t := tasks[i]
		t.DispatchOrder = base + i
		s.queue = append(s.queue, &t)
		s.states[t.ID] = &State{Kind: StatePending}
		s.dispatchOrders[t.ID] = t.DispatchOrder
	}
}

// NextRunnable pops and returns the next task permitted to run under the
// current concurrency cap, or nil if none may run right now.
func (s *Scheduler) NextRunnable() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil
	}

	limit := s.maxConcurrent
	if s.timing == Blocking {
		limit = 1
	}
	if s.activeCountLocked() >= limit {
		return nil
	}

	t := s.queue[0]
	s.queue = s.queue[1:]
	s.states[t.ID] = &State{Kind: StateRunning, StartedAt: time.Now()}
	return t
}

// ReportCompletion records a successful result using the task's
// originally assigned dispatch order.
func (s *Scheduler) ReportCompletion(id int, output string) {
	s.ReportCompletionWithOrder(id, output, nil)
}

// ReportCompletionWithOrder records a successful result. dispatchOrder, if
// non-nil, overrides the task's originally assigned dispatch order.
func (s *Scheduler) ReportCompletionWithOrder(id int, output string, dispatchOrder *int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok {
		return
	}
	started := st.StartedAt
	duration := time.Duration(0)
	if !started.IsZero() {
		duration = time.Since(started)
	}

	order := s.completed
	s.completed++

	do := s.dispatchOrders[id]
	if dispatchOrder != nil {
		do = *dispatchOrder
	}

	s.states[id] = &State{Kind: StateCompleted, StartedAt: started, Result: output}
	s.results = append(s.results, Result{
		AgentID:         id,
		Output:          output,
		Duration:        duration,
		CompletionOrder: order,
		DispatchOrder:   do,
	})
}

// ReportFailure records a failed task. The task remains in the state map
// so IsComplete can assert all tasks reached a terminal state.
func (s *Scheduler) ReportFailure(id int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok {
		return
	}
	s.states[id] = &State{Kind: StateFailed, StartedAt: st.StartedAt, Err: err}
}

// CollectResults drains and returns the accumulated results, ordered by
// DispatchOrder ascending in Blocking mode or CompletionOrder ascending in
// Parallel mode.
func (s *Scheduler) CollectResults() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Result, len(s.results))
	copy(out, s.results)
	s.results = nil

	if s.timing == Blocking {
		sort.Slice(out, func(i, j int) bool { return out[i].DispatchOrder < out[j].DispatchOrder })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].CompletionOrder < out[j].CompletionOrder })
	}
	return out
}

// ActiveCount returns the number of tasks currently Running.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCountLocked()
}

func (s *Scheduler) activeCountLocked() int {
	n := 0
	for _, st := range s.states {
		if st.Kind == StateRunning {
			n++
		}
	}
	return n
}

// PendingCount returns the number of tasks still queued (not yet dispatched).
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// IsComplete reports whether every scheduled task has reached a terminal
// state (Completed or Failed).
func (s *Scheduler) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return true
	}
	for _, st := range s.states {
		if st.Kind != StateCompleted && st.Kind != StateFailed {
			return false
		}
	}
	return true
}

// GetState returns the current state of a scheduled task.
func (s *Scheduler) GetState(id int) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Reset drops the queue, state map, results, and completion counter.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.states = make(map[int]*State)
	s.dispatchOrders = make(map[int]int)
	s.results = nil
	s.completed = 0
}
