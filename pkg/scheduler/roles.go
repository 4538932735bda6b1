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

package scheduler

import (
	"fmt"
	"strings"
)

// RoleKind discriminates the role a parallel instance plays when several
// concurrent calls to the same model work one task from different angles.
type RoleKind int

const (
	RoleCoordinator RoleKind = iota
	RoleExecutor
	RoleReviewer
)

// Role is a role assignment for one parallel instance. ExecutorID is only
// meaningful for RoleExecutor (1, 2, 3, ...).
type Role struct {
	Kind       RoleKind
	ExecutorID int
}

// PromptPrefix returns the role-specific prefix prepended to the base
// prompt for this instance.
func (r Role) PromptPrefix() string {
	switch r.Kind {
	case RoleCoordinator:
		return "You are the COORDINATOR. Your job is to:\n" +
			"1. Analyze the task and break it into parallel sub-tasks\n" +
			"2. Assign work to ALL executors - never leave any idle\n" +
			"3. If the task is small, have executors work on it from different angles\n" +
			"4. If the task is large, split it into independent parts\n" +
			"Now coordinate:"
	case RoleExecutor:
		switch r.ExecutorID {
		case 1:
			return "You are EXECUTOR-1 (Primary). Deliver production-quality work on your assigned task. Focus on correctness and completeness first:"
		case 2:
			return "You are EXECUTOR-2 (Parallel). Work on your assigned part independently. If given the same task as others, try a different approach:"
		case 3:
			return "You are EXECUTOR-3 (Support). Handle edge cases, tests, or gaps. If the main task is done, optimize or add documentation:"
		default:
			return "You are an EXECUTOR. Complete your assigned work efficiently:"
		}
	case RoleReviewer:
		return "You are the REVIEWER. Your job is to:\n" +
			"1. Check ALL executor outputs for correctness and completeness\n" +
			"2. Identify any bugs, edge cases, or inconsistencies\n" +
			"3. If multiple solutions exist, select or merge the best parts\n" +
			"4. Provide a final, unified result\n" +
			"Now review:"
	default:
		return ""
	}
}

// Name returns the role's display name.
func (r Role) Name() string {
	switch r.Kind {
	case RoleCoordinator:
		return "Coordinator"
	case RoleExecutor:
		return fmt.Sprintf("Executor-%d", r.ExecutorID)
	case RoleReviewer:
		return "Reviewer"
	default:
		return "Unknown"
	}
}

// RolesForCount returns the role distribution for a parallel instance
// count. Counts above 5 are clamped:
//
//	1: Coordinator only (serial mode)
//	2: Coordinator + Executor
//	3: Coordinator + Executor + Reviewer
//	4: Coordinator + 2 Executors + Reviewer
//	5: Coordinator + 3 Executors + Reviewer
func RolesForCount(count int) []Role {
	if count > 5 {
		count = 5
	}
	switch count {
	case 2:
		return []Role{{Kind: RoleCoordinator}, {Kind: RoleExecutor, ExecutorID: 1}}
	case 3:
		return []Role{{Kind: RoleCoordinator}, {Kind: RoleExecutor, ExecutorID: 1}, {Kind: RoleReviewer}}
	case 4:
		return []Role{
			{Kind: RoleCoordinator},
			{Kind: RoleExecutor, ExecutorID: 1},
			{Kind: RoleExecutor, ExecutorID: 2},
			{Kind: RoleReviewer},
		}
	case 5:
		return []Role{
			{Kind: RoleCoordinator},
			{Kind: RoleExecutor, ExecutorID: 1},
			{Kind: RoleExecutor, ExecutorID: 2},
			{Kind: RoleExecutor, ExecutorID: 3},
			{Kind: RoleReviewer},
		}
	default:
		return []Role{{Kind: RoleCoordinator}}
	}
}

// RoleResult is the outcome of one role-assigned parallel instance.
type RoleResult struct {
	Role     Role
	Response string
	Success  bool
}

// MergeRoleResults folds parallel role outputs into one response: the
// coordinator's plan first, then each successful executor's output, then
// the reviewer's analysis.
func MergeRoleResults(results []RoleResult) string {
	var b strings.Builder

	for _, r := range results {
		if r.Role.Kind == RoleCoordinator && r.Response != "" {
			b.WriteString(fmt.Sprintf("[Coordinator Plan]\n%s\n", r.Response))
		}
	}
	for _, r := range results {
		if r.Role.Kind == RoleExecutor && r.Success && r.Response != "" {
			b.WriteString(fmt.Sprintf("\n[%s]\n%s\n", r.Role.Name(), r.Response))
		}
	}
	for _, r := range results {
		if r.Role.Kind == RoleReviewer && r.Response != "" {
			b.WriteString(fmt.Sprintf("\n[Reviewer Analysis]\n%s\n", r.Response))
		}
	}

	return strings.TrimSpace(b.String())
}
