package marker

// Score pairs earned marks with the possible total.
type Score struct {
	Earned int `json:"earned"`
	Total  int `json:"total"`
}

// SubsectionSpec is the allocator's frame for one subsection.
type SubsectionSpec struct {
	Name  string
	Value int
}

// TaskInput bundles everything needed to mark one task.
type TaskInput struct {
	TaskID        uint
	TaskNumber    int
	Name          string
	Value         int
	Subsections   []SubsectionSpec
	MemoOutput    string
	StudentOutput string
}

// SubsectionResult is the marked outcome of one subsection.
type SubsectionResult struct {
	Name          string `json:"name"`
	Score         Score  `json:"score"`
	AwardedReason string `json:"awarded_reason,omitempty"`
}

// TaskResult is the marked outcome of one task.
type TaskResult struct {
	TaskID      uint
	TaskNumber  int
	Name        string
	Score       Score
	Subsections []SubsectionResult
}

// MarkTask aligns memo and student segments positionally against the
// allocator's subsection frame and scores each pair under the scheme. Missing
// student segments earn zero; extra student segments are ignored. The task
// rollup is capped at the allocator value.
func MarkTask(in TaskInput, scheme, delimiter string) TaskResult {
	memoSegments := Split(in.MemoOutput, delimiter)
	studentSegments := Split(in.StudentOutput, delimiter)

	result := TaskResult{
		TaskID:     in.TaskID,
		TaskNumber: in.TaskNumber,
		Name:       in.Name,
		Score:      Score{Total: in.Value},
	}

	for i, spec := range in.Subsections {
		sub := SubsectionResult{
			Name:  spec.Name,
			Score: Score{Total: spec.Value},
		}

		switch {
		case i >= len(memoSegments):
			sub.AwardedReason = "memo output has no matching section"
		case i >= len(studentSegments):
			sub.AwardedReason = "section missing from output"
		default:
			outcome := compare(scheme, spec.Value,
				Normalize(memoSegments[i].Lines),
				Normalize(studentSegments[i].Lines))
			sub.Score.Earned = outcome.earned
			sub.AwardedReason = outcome.reason
		}

		result.Score.Earned += sub.Score.Earned
		result.Subsections = append(result.Subsections, sub)
	}

	if result.Score.Earned > result.Score.Total {
		result.Score.Earned = result.Score.Total
	}

	return result
}

// OverallPercent returns the mean of per-task percentages rounded to the
// nearest integer. Tasks worth zero contribute zero but stay in the count.
func OverallPercent(results []TaskResult) int {
	if len(results) == 0 {
		return 0
	}

	sum := 0.0
	for _, r := range results {
		if r.Score.Total > 0 {
			sum += float64(r.Score.Earned) / float64(r.Score.Total)
		}
	}

	return int(sum/float64(len(results))*100 + 0.5)
}
