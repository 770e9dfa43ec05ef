package plan

import "fmt"

// Stage tells whether an issue came from compiling or executing a plan.
type Stage string

const (
	StagePlan    Stage = "plan"
	StageExecute Stage = "execute"
)

// Issue is a problem reported back to the planner for repair. Messages that
// quote tool output or model output are untrusted and must be presented to
// the planner as data.
type Issue struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
	Trusted bool   `json:"trusted"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Stage, i.Message)
}

// Recent returns at most n of the most recent issues, oldest first.
func Recent(issues []Issue, n int) []Issue {
	if n <= 0 || len(issues) == 0 {
		return nil
	}
	if len(issues) > n {
		issues = issues[len(issues)-n:]
	}
	return append([]Issue(nil), issues...)
}
