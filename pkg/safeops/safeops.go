// Package safeops holds the policy gate that decides whether an action may
// auto-proceed without human review. Today every automation level returns
// false: auto-safeops/auto-all are reserved for a future policy batch and
// must not be wired to real approval logic yet.
package safeops

// AutomationLevel names an operator-selected autonomy tier.
type AutomationLevel string

const (
	LevelManual     AutomationLevel = "manual"
	LevelAutoSafeOps AutomationLevel = "auto-safeops"
	LevelAutoAll     AutomationLevel = "auto-all"
)

// ShouldAutoApprove reports whether commandTag may proceed without a human
// review signal. It is a pure function with no side effects; callers that
// get false back are responsible for creating a pending dangerous_command
// signal.
func ShouldAutoApprove(commandTag string, missionID *string, level AutomationLevel) bool {
	switch level {
	case LevelManual, LevelAutoSafeOps, LevelAutoAll:
		return false
	default:
		return false
	}
}
