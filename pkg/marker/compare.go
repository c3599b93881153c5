package marker

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Comparison schemes. These mirror the marking_scheme tags of the execution
// config document.
const (
	SchemeExact      = "exact"
	SchemeRegex      = "regex"
	SchemePercentage = "percentage"
)

// compareResult carries the outcome of comparing one subsection body.
type compareResult struct {
	earned int
	reason string
}

// compare scores a student body against a memo body for a subsection worth
// value points. Bodies must already be normalised. The comparator never
// fails on malformed student output: anything unreadable earns zero with a
// reason attached.
func compare(scheme string, value int, memoLines, studentLines []string) compareResult {
	switch scheme {
	case SchemeRegex:
		return compareRegex(value, memoLines, studentLines)
	case SchemePercentage:
		return comparePercentage(value, memoLines, studentLines)
	default:
		return compareExact(value, memoLines, studentLines)
	}
}

func compareExact(value int, memoLines, studentLines []string) compareResult {
	if len(memoLines) != len(studentLines) {
		return compareResult{reason: fmt.Sprintf("expected %d lines, got %d", len(memoLines), len(studentLines))}
	}
	for i := range memoLines {
		if memoLines[i] != studentLines[i] {
			return compareResult{reason: fmt.Sprintf("mismatch at line %d", i+1)}
		}
	}
	return compareResult{earned: value}
}

func compareRegex(value int, memoLines, studentLines []string) compareResult {
	pattern := strings.Join(memoLines, "\n")
	re, err := regexp.Compile("(?s)\\A(?:" + pattern + ")\\z")
	if err != nil {
		return compareResult{reason: fmt.Sprintf("memo pattern does not compile: %v", err)}
	}
	if !re.MatchString(strings.Join(studentLines, "\n")) {
		return compareResult{reason: "output does not match expected pattern"}
	}
	return compareResult{earned: value}
}

// comparePercentage awards value scaled by the fraction of memo lines the
// student reproduced at the same position. Rounding is half away from zero.
func comparePercentage(value int, memoLines, studentLines []string) compareResult {
	if len(memoLines) == 0 {
		if len(studentLines) == 0 {
			return compareResult{earned: value}
		}
		return compareResult{reason: "unexpected output for empty memo section"}
	}

	matched := 0
	limit := len(memoLines)
	if len(studentLines) < limit {
		limit = len(studentLines)
	}
	for i := 0; i < limit; i++ {
		if memoLines[i] == studentLines[i] {
			matched++
		}
	}

	earned := int(math.Round(float64(value) * float64(matched) / float64(len(memoLines))))
	result := compareResult{earned: earned}
	if matched < len(memoLines) {
		result.reason = fmt.Sprintf("%d/%d lines matched", matched, len(memoLines))
	}
	return result
}
