package experiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundClosesOnCountRegardlessOfCorrectness(t *testing.T) {
	e := NewRoundEvaluator([][]int{{2, 5, 7}, {1, 4, 8}})
	assert.Equal(t, 1, e.Round())
	assert.Equal(t, 3, e.ExpectedCount())

	r := e.Submit(2)
	assert.True(t, r.Correct)
	assert.False(t, r.RoundClosed)

	r = e.Submit(5)
	assert.True(t, r.Correct)

	r = e.Submit(9)
	assert.False(t, r.Correct)
	assert.True(t, r.RoundClosed)
	assert.Equal(t, 2, r.CorrectCount)
	assert.Equal(t, 1, r.IncorrectCount)
	assert.Equal(t, 3, r.Received)

	assert.Equal(t, 2, e.Round())
	require.Len(t, e.Results(), 1)
	assert.Equal(t, []int{2, 5, 9}, e.Results()[0].Received)
	assert.Equal(t, []int{2, 5, 7}, e.Results()[0].Expected)
}

func TestRepeatedAnswersCountSeparately(t *testing.T) {
	e := NewRoundEvaluator([][]int{{2, 5}, {1}})

	e.Submit(2)
	r := e.Submit(2)
	assert.True(t, r.Correct)
	assert.True(t, r.RoundClosed)
	assert.Equal(t, 2, r.CorrectCount)

	r = e.Submit(1)
	assert.True(t, r.RoundClosed)
	assert.True(t, e.Done())

	// Further answers are dropped.
	assert.Equal(t, SelectionResult{}, e.Submit(1))
	assert.Len(t, e.Results(), 2)
}

func TestDuplicateExpectedAnswersCollapse(t *testing.T) {
	e := NewRoundEvaluator([][]int{{3, 3}, {4}})
	assert.Equal(t, 1, e.ExpectedCount())
	assert.True(t, e.Submit(3).RoundClosed)
}
