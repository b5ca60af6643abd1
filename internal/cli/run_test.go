package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitNonEmptyTrimsAndDropsBlanks(t *testing.T) {
	assert.Equal(t, []string{"planner", "coder", "tester"}, splitNonEmpty(" planner, coder ,tester"))
	assert.Nil(t, splitNonEmpty(""))
	assert.Nil(t, splitNonEmpty(",, ,"))
}

func TestSubstituteRoleReplacesPlaceholderInEachArg(t *testing.T) {
	out := substituteRole([]string{"agent-cli", "--role={ROLE}", "--mode=batch"}, "coder")
	assert.Equal(t, []string{"agent-cli", "--role=coder", "--mode=batch"}, out)
}

func TestSubstituteRoleLeavesCommandWithoutPlaceholderUnchanged(t *testing.T) {
	out := substituteRole([]string{"echo", "hello"}, "coder")
	assert.Equal(t, []string{"echo", "hello"}, out)
}

func TestIsTimeoutErrDetectsTimeoutWording(t *testing.T) {
	assert.True(t, isTimeoutErr(assertError{"operation timed out: supervisor.spawn_batch"}))
	assert.True(t, isTimeoutErr(assertError{"request timeout"}))
	assert.False(t, isTimeoutErr(assertError{"executable not found"}))
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
