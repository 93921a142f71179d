package mlog

import (
	"testing"

	"github.com/stvp/assert"
)

func TestIsEnabled(t *testing.T) {
	defer SetPattern("")()
	assert.False(t, IsEnabled())
	defer SetPattern("fs/handle")()
	assert.True(t, IsEnabled())
}

func TestPrintf2Matching(t *testing.T) {
	defer SetPattern("fs/handle")()
	// no panic, no observable failure; exercises the match path
	Printf2("fs/handle", "slot %d -> %d", 3, 42)
	Printf2("fs/other", "should not match, still must not panic")
}

func TestPanicfPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic")
		}
	}()
	Panicf("invariant violated: %d", 1)
}
