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

import (
	"fmt"

	"github.com/autodrivecore/coordinator/pkg/budget"
	"github.com/autodrivecore/coordinator/pkg/diagnostics"
)

// budgetAlertMessage renders a budget.Alert into the human-readable
// string surfaced through progress and intervention reasons.
func budgetAlertMessage(a budget.Alert) string {
	switch a.Kind {
	case budget.AlertTokenWarning:
		return fmt.Sprintf("token usage at %.1f%% of budget (%d/%d)", a.Percentage, a.Used, a.Limit)
	case budget.AlertTokenExceeded:
		return fmt.Sprintf("token budget exceeded (%d/%d)", a.Used, a.Limit)
	case budget.AlertTurnLimitReached:
		return fmt.Sprintf("turn limit reached (%d/%d)", a.Used, a.Limit)
	case budget.AlertDurationExceeded:
		return fmt.Sprintf("duration limit exceeded (%s/%s)", a.Elapsed, a.DurationLimit)
	default:
		return "budget alert"
	}
}

// diagnosticAlertMessage renders a diagnostics.Alert into a human-readable
// reason string.
func diagnosticAlertMessage(a diagnostics.Alert) string {
	switch a.Kind {
	case diagnostics.AlertLoopDetected:
		return fmt.Sprintf("loop detected: %q called %d times in a row", a.ToolName, a.Count)
	case diagnostics.AlertGoalDrift:
		return fmt.Sprintf("goal drift detected (similarity %.2f): %q vs %q", a.Similarity, a.OriginalGoal, a.CurrentGoal)
	case diagnostics.AlertTokenOverrun:
		return fmt.Sprintf("token projection overrun: actual %d vs projected %d (ratio %.2f)", a.Actual, a.Projected, a.Ratio)
	case diagnostics.AlertRepetitiveResponse:
		return fmt.Sprintf("repetitive response detected (hash %s)", a.ResponseHash)
	default:
		return "diagnostic alert"
	}
}
