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

package coordinator

import "time"

// DecisionKind discriminates how the turn loop should react to a failed
// turn: retry after a delay, pause for user intervention, or abort.
type DecisionKind int

const (
	// DecisionRetry asks the host to wait Delay then retry the turn.
	DecisionRetry DecisionKind = iota
	// DecisionIntervene asks the host to wait for an intervention
	// resolution before continuing.
	DecisionIntervene
	// DecisionFatal asks the host to surface the error to its caller.
	DecisionFatal
)

// Decision is returned by HandleTurnFailure.
type Decision struct {
	Kind  DecisionKind
	Delay time.Duration
}
