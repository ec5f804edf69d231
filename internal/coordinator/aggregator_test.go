package coordinator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/solvegrid/internal/protocol"
	"github.com/dreamware/solvegrid/internal/storage"
)

// failingStore refuses every save.
type failingStore struct {
	*storage.MemoryStore
}

func (failingStore) Save(uint64, []byte) error { return errors.New("disk full") }

// TestAggregatorScenario covers the two-step finalization of a 3-task problem.
func TestAggregatorScenario(t *testing.T) {
	table := NewProblemTable(nil)
	store := storage.NewMemoryStore()
	agg := NewSolutionAggregator(table, store, nil, nil)
	require.NoError(t, table.Add(dividedProblem(1, "TSP", 3)))

	final, err := agg.Submit(report(1, protocol.SolutionPartial, protocol.SolutionPartial, protocol.SolutionFinal))
	require.NoError(t, err)
	assert.False(t, final)

	final, err = agg.Final(1)
	require.NoError(t, err)
	assert.False(t, final)

	final, err = agg.Submit(&protocol.Solutions{ID: 1, Solutions: []protocol.Solution{
		{TaskID: 0, Type: protocol.SolutionFinal, Data: protocol.Blob("x")},
		{TaskID: 1, Type: protocol.SolutionFinal, Data: protocol.Blob("y")},
	}})
	require.NoError(t, err)
	assert.True(t, final)

	final, err = agg.Final(1)
	require.NoError(t, err)
	assert.True(t, final)

	assert.Equal(t, 0, table.Len(), "finished problems leave the table")
	ids, _ := store.IDs()
	assert.Equal(t, []uint64{1}, ids)

	solutions, err := agg.Solution(1)
	require.NoError(t, err)
	assert.Equal(t, "TSP", solutions.ProblemType)
	require.Len(t, solutions.Solutions, 3)
	assert.Equal(t, "x", string(solutions.Solutions[0].Data))
	for _, sol := range solutions.Solutions {
		assert.Equal(t, protocol.SolutionFinal, sol.Type)
	}
}

// TestAggregatorLookupMisses verifies unknown problems and tasks surface distinctly.
func TestAggregatorLookupMisses(t *testing.T) {
	table := NewProblemTable(nil)
	agg := NewSolutionAggregator(table, storage.NewMemoryStore(), nil, nil)
	require.NoError(t, table.Add(dividedProblem(1, "TSP", 1)))

	_, err := agg.Submit(report(2, protocol.SolutionFinal))
	assert.ErrorIs(t, err, ErrUnknownProblem)

	_, err = agg.Submit(&protocol.Solutions{ID: 1, Solutions: []protocol.Solution{{TaskID: 3}}})
	assert.ErrorIs(t, err, ErrUnknownTask)

	_, err = agg.Final(2)
	assert.ErrorIs(t, err, ErrUnknownProblem)

	_, err = agg.Solution(2)
	assert.ErrorIs(t, err, ErrUnknownProblem)
}

// TestAggregatorKeepsProblemWhenPersistFails verifies a failed save leaves the
// final record set readable.
func TestAggregatorKeepsProblemWhenPersistFails(t *testing.T) {
	table := NewProblemTable(nil)
	agg := NewSolutionAggregator(table, failingStore{storage.NewMemoryStore()}, nil, nil)
	require.NoError(t, table.Add(dividedProblem(1, "TSP", 1)))

	final, err := agg.Submit(report(1, protocol.SolutionFinal))
	assert.True(t, final)
	assert.Error(t, err)

	isFinal, err := agg.Final(1)
	require.NoError(t, err)
	assert.True(t, isFinal)

	solutions, err := agg.Solution(1)
	require.NoError(t, err)
	assert.Equal(t, protocol.SolutionFinal, solutions.Solutions[0].Type)
}

// TestAggregatorInFlightSolution verifies SolutionRequest sees progress before completion.
func TestAggregatorInFlightSolution(t *testing.T) {
	table := NewProblemTable(nil)
	agg := NewSolutionAggregator(table, storage.NewMemoryStore(), nil, nil)
	require.NoError(t, table.Add(dividedProblem(1, "TSP", 2)))

	_, err := agg.Submit(report(1, protocol.SolutionPartial))
	require.NoError(t, err)

	solutions, err := agg.Solution(1)
	require.NoError(t, err)
	require.Len(t, solutions.Solutions, 2)
	assert.Equal(t, protocol.SolutionPartial, solutions.Solutions[0].Type)
	assert.Equal(t, protocol.SolutionOngoing, solutions.Solutions[1].Type)
}
