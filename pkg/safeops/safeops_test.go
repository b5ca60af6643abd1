package safeops

import "testing"

func TestShouldAutoApproveAlwaysFalseToday(t *testing.T) {
	mission := "m-1"
	cases := []AutomationLevel{LevelManual, LevelAutoSafeOps, LevelAutoAll, AutomationLevel("unknown")}
	for _, level := range cases {
		if ShouldAutoApprove("rm -rf /tmp/scratch", &mission, level) {
			t.Fatalf("level %q: expected false, placeholder policy must not auto-approve", level)
		}
	}
}

func TestShouldAutoApproveNilMissionID(t *testing.T) {
	if ShouldAutoApprove("git push --force", nil, LevelManual) {
		t.Fatal("expected false with nil mission id")
	}
}
