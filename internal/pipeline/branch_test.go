package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchPointFanOut(t *testing.T) {
	bp := newBranchPoint()
	a := bp.NewOutput("a", 4)
	b := bp.NewOutput("b", 4)

	bp.Write(AccessUnit{PTS: 1})

	require.Len(t, a.ch, 1)
	require.Len(t, b.ch, 1)
	assert.Equal(t, 2, bp.outputCount())
}

func TestBranchPointDropsOnFullBuffer(t *testing.T) {
	bp := newBranchPoint()
	out := bp.NewOutput("slow", 1)

	bp.Write(AccessUnit{PTS: 1})
	bp.Write(AccessUnit{PTS: 2}) // buffer full, dropped rather than blocking

	require.Len(t, out.ch, 1)
	got := <-out.ch
	assert.Equal(t, AccessUnit{PTS: 1}, got)
}

func TestBranchPointCloseOutputStopsDelivery(t *testing.T) {
	bp := newBranchPoint()
	out := bp.NewOutput("x", 2)
	bp.CloseOutput("x")

	assert.NotPanics(t, func() { bp.Write(AccessUnit{PTS: 1}) })

	_, ok := <-out.ch
	assert.False(t, ok, "channel should be closed")
	assert.Equal(t, 0, bp.outputCount())
}

func TestBranchPointCloseAll(t *testing.T) {
	bp := newBranchPoint()
	a := bp.NewOutput("a", 1)
	b := bp.NewOutput("b", 1)

	bp.CloseAll()

	_, okA := <-a.ch
	_, okB := <-b.ch
	assert.False(t, okA)
	assert.False(t, okB)
	assert.Equal(t, 0, bp.outputCount())
}

func TestBranchOutputAccessors(t *testing.T) {
	bp := newBranchPoint()
	out := bp.NewOutput("id-1", 1)
	assert.Equal(t, "id-1", out.ID())
	assert.NotNil(t, out.C())
}
