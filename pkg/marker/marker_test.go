package marker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const delim = "&-=-&"

func TestSplitBasic(t *testing.T) {
	out := "noise before\n&-=-&A\nhello\n&-=-&B\nworld\nmore\n"
	segments := Split(out, delim)

	require.Len(t, segments, 2)
	assert.Equal(t, "A", segments[0].Name)
	assert.Equal(t, []string{"hello"}, segments[0].Lines)
	assert.Equal(t, "B", segments[1].Name)
	assert.Equal(t, []string{"world", "more"}, segments[1].Lines)
}

func TestSplitRepeatedNamesStayDistinct(t *testing.T) {
	out := "&-=-&A\none\n&-=-&A\ntwo\n"
	segments := Split(out, delim)

	require.Len(t, segments, 2)
	assert.Equal(t, []string{"one"}, segments[0].Lines)
	assert.Equal(t, []string{"two"}, segments[1].Lines)
}

func TestSplitEmptyDelimiter(t *testing.T) {
	assert.Nil(t, Split("anything", ""))
}

func TestNormalize(t *testing.T) {
	lines := []string{"keep  ", "", "  ", "also\t", "last"}
	assert.Equal(t, []string{"keep", "also", "last"}, Normalize(lines))
}

func perfectInput() TaskInput {
	return TaskInput{
		TaskID:     7,
		TaskNumber: 1,
		Name:       "Task 1",
		Value:      10,
		Subsections: []SubsectionSpec{
			{Name: "A", Value: 5},
			{Name: "B", Value: 5},
		},
		MemoOutput:    "&-=-&A\nhello\n&-=-&B\nworld\n",
		StudentOutput: "&-=-&A\nhello\n&-=-&B\nworld\n",
	}
}

func TestMarkTaskPerfectExact(t *testing.T) {
	result := MarkTask(perfectInput(), SchemeExact, delim)

	assert.Equal(t, Score{Earned: 10, Total: 10}, result.Score)
	require.Len(t, result.Subsections, 2)
	for _, sub := range result.Subsections {
		assert.Equal(t, 5, sub.Score.Earned)
		assert.Empty(t, sub.AwardedReason)
	}
}

func TestMarkTaskExactMismatchEarnsZero(t *testing.T) {
	in := perfectInput()
	in.StudentOutput = "&-=-&A\nhello\n&-=-&B\nwrong\n"

	result := MarkTask(in, SchemeExact, delim)

	assert.Equal(t, 5, result.Score.Earned)
	assert.Equal(t, 0, result.Subsections[1].Score.Earned)
	assert.NotEmpty(t, result.Subsections[1].AwardedReason)
}

func TestMarkTaskPercentagePartialCredit(t *testing.T) {
	in := TaskInput{
		TaskNumber:    1,
		Value:         5,
		Subsections:   []SubsectionSpec{{Name: "A", Value: 5}},
		MemoOutput:    "&-=-&A\nl1\nl2\nl3\nl4\n",
		StudentOutput: "&-=-&A\nl1\nl2\nXX\nl4\n",
	}

	result := MarkTask(in, SchemePercentage, delim)

	// 3/4 lines match: round(5 * 0.75) = 4
	assert.Equal(t, 4, result.Score.Earned)
	assert.Equal(t, "3/4 lines matched", result.Subsections[0].AwardedReason)
}

func TestMarkTaskRegexScheme(t *testing.T) {
	in := TaskInput{
		TaskNumber:    1,
		Value:         3,
		Subsections:   []SubsectionSpec{{Name: "A", Value: 3}},
		MemoOutput:    "&-=-&A\nresult: \\d+\n",
		StudentOutput: "&-=-&A\nresult: 42\n",
	}

	result := MarkTask(in, SchemeRegex, delim)
	assert.Equal(t, 3, result.Score.Earned)

	in.StudentOutput = "&-=-&A\nresult: none\n"
	result = MarkTask(in, SchemeRegex, delim)
	assert.Equal(t, 0, result.Score.Earned)
}

func TestMarkTaskMissingStudentSegmentsEarnZero(t *testing.T) {
	in := perfectInput()
	in.StudentOutput = "&-=-&A\nhello\n"

	result := MarkTask(in, SchemeExact, delim)

	assert.Equal(t, 5, result.Score.Earned)
	assert.Equal(t, "section missing from output", result.Subsections[1].AwardedReason)
}

func TestMarkTaskExtraStudentSegmentsIgnored(t *testing.T) {
	in := perfectInput()
	in.StudentOutput += "&-=-&C\nextra\n"

	result := MarkTask(in, SchemeExact, delim)
	assert.Equal(t, 10, result.Score.Earned)
	assert.Len(t, result.Subsections, 2)
}

func TestMarkTaskNoDelimitersDegradesGracefully(t *testing.T) {
	in := perfectInput()
	in.StudentOutput = "garbage with no markers at all"

	result := MarkTask(in, SchemeExact, delim)

	assert.Equal(t, 0, result.Score.Earned)
	for _, sub := range result.Subsections {
		assert.NotEmpty(t, sub.AwardedReason)
	}
}

func TestOverallPercent(t *testing.T) {
	results := []TaskResult{
		{Score: Score{Earned: 10, Total: 10}},
		{Score: Score{Earned: 5, Total: 10}},
	}
	assert.Equal(t, 75, OverallPercent(results))
	assert.Equal(t, 0, OverallPercent(nil))
}

func TestBuildReport(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	results := []TaskResult{
		{TaskID: 31, TaskNumber: 1, Score: Score{Earned: 10, Total: 10}},
		{TaskID: 32, TaskNumber: 2, Score: Score{Earned: 0, Total: 10}},
	}

	report := BuildReport(99, 2, "sub.zip", "abc123", false, true, results, now)

	assert.Equal(t, uint(99), report.ID)
	assert.Equal(t, Score{Earned: 10, Total: 20}, report.Mark)
	assert.True(t, report.IsLate)
	require.Len(t, report.Tasks, 2)
	// task name carries the task id as a string
	assert.Equal(t, "31", report.Tasks[0].Name)
	assert.Equal(t, 1, report.Tasks[0].TaskNumber)
}
