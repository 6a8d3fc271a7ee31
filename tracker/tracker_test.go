package tracker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarkThenSeen(t *testing.T) {
	tr := New()
	id := PositionID("0xuser", "0xcollateral")

	require.False(t, tr.Seen(id))
	tr.Mark(id)
	require.True(t, tr.Seen(id))
}

func TestDedupGuardShortCircuitsSecondSubmission(t *testing.T) {
	tr := New()
	id := PositionID("0xuser", "0xcollateral")

	submissions := 0
	for i := 0; i < 2; i++ {
		if tr.Seen(id) {
			continue
		}
		submissions++
		tr.Mark(id)
	}
	require.Equal(t, 1, submissions)
}
