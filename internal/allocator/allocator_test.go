package allocator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() Allocator {
	return Allocator{
		GeneratedAt: time.Date(2025, 8, 17, 22, 0, 0, 0, time.UTC),
		Tasks: []TaskAllocation{
			{
				Name:       "Stacks",
				TaskNumber: 1,
				Value:      10,
				Subsections: []Subsection{
					{Name: "Correctness", Value: 6},
					{Name: "Style", Value: 4},
				},
			},
			{
				Name:       "Queues",
				TaskNumber: 2,
				Value:      5,
				Subsections: []Subsection{
					{Name: "Correctness", Value: 5},
				},
			},
		},
		TotalValue: 15,
	}
}

func TestMarshalUsesTaskKeyWrapper(t *testing.T) {
	data, err := sample().Marshal()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	tasks, ok := doc["tasks"].([]any)
	require.True(t, ok)
	require.Len(t, tasks, 2)

	first, ok := tasks[0].(map[string]any)
	require.True(t, ok)
	require.Contains(t, first, "task1")
}

func TestRoundTrip(t *testing.T) {
	data, err := sample().Marshal()
	require.NoError(t, err)

	var parsed Allocator
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.Equal(t, sample(), parsed)
}

func TestValidateDetectsSumMismatch(t *testing.T) {
	a := sample()
	a.Tasks[0].Value = 11
	require.ErrorIs(t, a.Validate(), ErrAllocatorInvalid)
}

func TestValidateDetectsDuplicateSubsection(t *testing.T) {
	a := sample()
	a.Tasks[0].Subsections[1].Name = "Correctness"
	require.ErrorIs(t, a.Validate(), ErrAllocatorInvalid)
}

func TestTaskLookups(t *testing.T) {
	a := sample()

	total, err := a.Total(1)
	require.NoError(t, err)
	assert.Equal(t, 10, total)

	subs, err := a.Subsections(2)
	require.NoError(t, err)
	assert.Equal(t, []Subsection{{Name: "Correctness", Value: 5}}, subs)

	_, err = a.Total(3)
	require.ErrorIs(t, err, ErrTaskNotFound)

	assert.Equal(t, 15, a.GrandTotal())
}

func TestGenerateCountsLinesBetweenDelimiters(t *testing.T) {
	memo := "&-=-&Correctness\nline one\nline two\n\nline three\n&-=-&Style\nonly line\n"
	a, err := Generate([]MemoSource{{TaskNumber: 1, Name: "Task One", Content: memo}}, "&-=-&", time.Now())
	require.NoError(t, err)
	require.NoError(t, a.Validate())

	require.Len(t, a.Tasks, 1)
	task := a.Tasks[0]
	assert.Equal(t, "Task One", task.Name)
	assert.Equal(t, 4, task.Value)
	assert.Equal(t, []Subsection{
		{Name: "Correctness", Value: 3},
		{Name: "Style", Value: 1},
	}, task.Subsections)
	assert.Equal(t, 4, a.TotalValue)
}

func TestGenerateRejectsEmptyDelimiter(t *testing.T) {
	_, err := Generate(nil, "", time.Now())
	require.ErrorIs(t, err, ErrAllocatorInvalid)
}
