// Package evaluator parses sandbox output blobs and checks LTL-style
// properties per task: safety, proper termination, segmentation fault,
// exceptions, execution time and illegal output. The aggregate violation and
// failure fractions feed the genetic input search.
package evaluator

import (
	"strconv"
	"strings"

	"github.com/COS301-SE-2025/fitchfork-go/internal/execconfig"
)

// Property identifies one per-task check.
type Property string

const (
	PropSafety            Property = "safety"             // G(¬unsafe)
	PropProperTermination Property = "proper_termination" // G(ter => valid return code)
	PropSegmentationFault Property = "segmentation_fault" // G(¬segfault)
	PropExceptions        Property = "exceptions"         // G(¬exception)
	PropExecutionTime     Property = "execution_time"     // G(ter => runtime <= bound)
	PropIllegalOutput     Property = "illegal_output"     // G(ter => no forbidden line)
)

// TaskSpec parameterises the property checks for one task.
type TaskSpec struct {
	Language         string
	ValidReturnCodes []int
	MaxRuntimeMs     *uint64
	ForbiddenOutputs []string
}

// SpecFromConfig derives a TaskSpec from the assignment's execution config.
func SpecFromConfig(cfg *execconfig.Config) TaskSpec {
	return TaskSpec{
		Language:         cfg.Project.Language,
		ValidReturnCodes: cfg.Gatlam.TaskSpec.ValidReturnCodes,
		MaxRuntimeMs:     cfg.Gatlam.TaskSpec.MaxRuntimeMs,
		ForbiddenOutputs: cfg.Gatlam.TaskSpec.ForbiddenOutputs,
	}
}

// TaskView is the structured form of one raw output blob.
type TaskView struct {
	TaskID     int64
	ExitCode   *int
	RuntimeMs  *uint64
	Stdout     string
	Stderr     string
	Terminated bool
}

// TaskEvaluation lists the properties a task violated.
type TaskEvaluation struct {
	TaskID   int64
	Violated []Property
}

// TaskOutput pairs a task id with its raw blob or memo text.
type TaskOutput struct {
	TaskID int64
	Blob   string
}

// Parse turns a raw blob into a structured view. Recognised markers, case
// insensitive with ':' or '=' separators: EXIT_CODE, RUNTIME_MS and a STDERR:
// separator that routes the remainder of the blob to stderr. Without a
// STDERR: marker the whole blob is classified heuristically.
func Parse(taskID int64, blob string) TaskView {
	exitCode, stdout, stderr := splitBlob(blob)

	var runtime *uint64
	if v, ok := extractMarkerInt(blob, "runtime_ms"); ok {
		if v < 0 {
			v = 0
		}
		ms := uint64(v)
		runtime = &ms
	}

	return TaskView{
		TaskID:     taskID,
		ExitCode:   exitCode,
		RuntimeMs:  runtime,
		Stdout:     stdout,
		Stderr:     stderr,
		Terminated: exitCode != nil,
	}
}

// EvaluateTask checks every property of the spec against the view and
// records the violations.
func EvaluateTask(spec TaskSpec, view TaskView) TaskEvaluation {
	eval := TaskEvaluation{TaskID: view.TaskID}

	if violatesSafety(spec.Language, view.Stderr) {
		eval.Violated = append(eval.Violated, PropSafety)
	}

	if view.Terminated && !isValidReturnCode(view.ExitCode, spec.ValidReturnCodes) {
		eval.Violated = append(eval.Violated, PropProperTermination)
	}

	if hasSegfault(spec.Language, view.Stderr) {
		eval.Violated = append(eval.Violated, PropSegmentationFault)
	}

	if hasException(spec.Language, view.Stderr) {
		eval.Violated = append(eval.Violated, PropExceptions)
	}

	if view.Terminated && spec.MaxRuntimeMs != nil && view.RuntimeMs != nil && *view.RuntimeMs > *spec.MaxRuntimeMs {
		eval.Violated = append(eval.Violated, PropExecutionTime)
	}

	if view.Terminated && len(spec.ForbiddenOutputs) > 0 {
		if anyForbiddenLine(view.Stdout, spec.ForbiddenOutputs) {
			eval.Violated = append(eval.Violated, PropIllegalOutput)
		}
	}

	return eval
}

// Violated reports whether the evaluation recorded the given property.
func (e TaskEvaluation) Has(p Property) bool {
	for _, v := range e.Violated {
		if v == p {
			return true
		}
	}
	return false
}

// DeriveProps aggregates property checks across all task outputs into
// milli-fractions in [0,1000]. ltlMilli counts violations over checks,
// including exact and contains comparisons against the memo sections.
// failMilli counts tasks judged failed: bad return code, segfault, uncaught
// exception or forbidden output.
func DeriveProps(specs []TaskSpec, outs, memos []TaskOutput, delimiter string) (ltlMilli, failMilli int) {
	totalTasks := len(outs)
	if totalTasks == 0 {
		totalTasks = 1
	}

	memoSections := map[string][]string{}
	for _, m := range memos {
		for label, lines := range labeledSections(m.Blob, delimiter) {
			memoSections[label] = lines
		}
	}

	var ltlChecks, ltlViolations, failedTasks int

	for i, out := range outs {
		spec := TaskSpec{ValidReturnCodes: []int{0}}
		if i < len(specs) {
			spec = specs[i]
		} else if len(specs) > 0 {
			spec = specs[0]
		}
		view := Parse(out.TaskID, out.Blob)
		eval := EvaluateTask(spec, view)

		checks, viols := 4, 0
		for _, p := range []Property{PropSafety, PropProperTermination, PropSegmentationFault, PropExceptions} {
			if eval.Has(p) {
				viols++
			}
		}

		if spec.MaxRuntimeMs != nil && view.Terminated && view.RuntimeMs != nil {
			checks++
			if eval.Has(PropExecutionTime) {
				viols++
			}
		}

		outSections := labeledSections(view.Stdout, delimiter)
		for label, memoLines := range memoSections {
			outLines, found := outSections[label]

			// exact match within the label
			checks++
			if !found || !equalLines(outLines, memoLines) {
				viols++
			}

			// contains: every memo line appears as a substring of some line
			checks++
			if !found || !containsAll(outLines, memoLines) {
				viols++
			}
		}

		if len(spec.ForbiddenOutputs) > 0 && view.Terminated {
			checks++
			if eval.Has(PropIllegalOutput) {
				viols++
			}
		}

		ltlChecks += checks
		ltlViolations += viols

		failed := !isValidReturnCode(view.ExitCode, spec.ValidReturnCodes) ||
			(view.Terminated && hasSegfault(spec.Language, view.Stderr)) ||
			(view.Terminated && hasException(spec.Language, view.Stderr)) ||
			containsForbiddenSubstring(view.Stdout, spec.ForbiddenOutputs)
		if failed {
			failedTasks++
		}
	}

	if ltlChecks > 0 {
		ltlMilli = ltlViolations * 1000 / ltlChecks
	}
	failMilli = failedTasks * 1000 / totalTasks

	if ltlMilli > 1000 {
		ltlMilli = 1000
	}
	if failMilli > 1000 {
		failMilli = 1000
	}
	return ltlMilli, failMilli
}

func splitBlob(blob string) (exitCode *int, stdout, stderr string) {
	for _, key := range []string{"exit_code", "exit code", "retcode"} {
		if v, ok := extractMarkerInt(blob, key); ok {
			exitCode = &v
			break
		}
	}

	if pos := indexCaseInsensitive(blob, "stderr:"); pos >= 0 {
		stdout = strings.TrimSpace(stripMarkerLines(blob[:pos]))
		rest := blob[pos:]
		rest = strings.TrimLeftFunc(rest, func(r rune) bool {
			return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		})
		stderr = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
		return exitCode, stdout, stderr
	}

	if looksLikeError(blob) {
		return exitCode, "", strings.TrimSpace(blob)
	}
	return exitCode, strings.TrimSpace(stripMarkerLines(blob)), ""
}

// stripMarkerLines drops marker-only lines so they never leak into labeled
// section bodies.
func stripMarkerLines(s string) string {
	var kept []string
	for _, line := range strings.Split(s, "\n") {
		if isMarkerLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func isMarkerLine(line string) bool {
	lower := strings.ToLower(strings.TrimSpace(line))
	for _, key := range []string{"exit_code", "exit code", "retcode", "runtime_ms"} {
		if !strings.HasPrefix(lower, key) {
			continue
		}
		rest := strings.TrimLeft(lower[len(key):], " \t")
		if strings.HasPrefix(rest, ":") || strings.HasPrefix(rest, "=") {
			return true
		}
	}
	return false
}

// looksLikeError routes unstructured blobs to stderr when they carry crash
// diagnostics.
func looksLikeError(blob string) bool {
	lower := strings.ToLower(blob)
	for _, needle := range []string{
		"error:",
		"exception",
		"segmentation fault",
		"sigsegv",
		"addresssanitizer",
		"asan",
		"double free",
		"invalid pointer",
		"use-after-free",
		"heap-use-after-free",
		"free(): invalid pointer",
		"munmap_chunk(): invalid pointer",
	} {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}

// extractMarkerInt scans for the first line containing key (case insensitive)
// and parses the signed integer following it, tolerating ':' or '='.
func extractMarkerInt(blob, key string) (int, bool) {
	for _, line := range strings.Split(blob, "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		idx := strings.Index(lower, key)
		if idx < 0 {
			continue
		}
		after := strings.TrimLeft(lower[idx+len(key):], ":= \t")
		end := 0
		for _, r := range after {
			if (r >= '0' && r <= '9') || r == '-' || r == '+' {
				end++
				continue
			}
			break
		}
		if end == 0 {
			continue
		}
		if v, err := strconv.Atoi(after[:end]); err == nil {
			return v, true
		}
	}
	return 0, false
}

func indexCaseInsensitive(haystack, needle string) int {
	return strings.Index(strings.ToLower(haystack), strings.ToLower(needle))
}

// labeledSections groups trimmed non-empty lines under the delimiter label
// preceding them. Lines before the first delimiter are dropped.
func labeledSections(s, delimiter string) map[string][]string {
	sections := map[string][]string{}
	if delimiter == "" {
		return sections
	}

	current := ""
	active := false
	for _, raw := range strings.Split(s, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, delimiter) {
			current = strings.TrimSpace(line[len(delimiter):])
			active = true
			if _, ok := sections[current]; !ok {
				sections[current] = nil
			}
			continue
		}
		if line == "" || !active {
			continue
		}
		sections[current] = append(sections[current], line)
	}
	return sections
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsAll(hay, needles []string) bool {
	for _, needle := range needles {
		found := false
		for _, line := range hay {
			if strings.Contains(line, needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func isValidReturnCode(exit *int, valid []int) bool {
	if exit == nil {
		return false
	}
	if len(valid) == 0 {
		return *exit == 0
	}
	for _, code := range valid {
		if *exit == code {
			return true
		}
	}
	return false
}

func anyForbiddenLine(stdout string, forbidden []string) bool {
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		for _, x := range forbidden {
			if trimmed == strings.TrimSpace(x) {
				return true
			}
		}
	}
	return false
}

func containsForbiddenSubstring(stdout string, forbidden []string) bool {
	if len(forbidden) == 0 {
		return false
	}
	hay := strings.ToLower(stdout)
	for _, needle := range forbidden {
		if strings.Contains(hay, strings.ToLower(needle)) {
			return true
		}
	}
	return false
}

func violatesSafety(language, stderr string) bool {
	s := strings.ToLower(stderr)
	switch language {
	case execconfig.LanguageJava:
		return strings.Contains(s, "hs_err_pid") ||
			strings.Contains(s, "a fatal error has been detected by the java runtime environment") ||
			strings.Contains(s, "sigsegv") ||
			strings.Contains(s, "exception_access_violation") ||
			strings.Contains(s, "problematic frame:") ||
			strings.Contains(s, "outofmemoryerror: direct buffer memory") ||
			strings.Contains(s, "internal error (")
	default:
		return strings.Contains(s, "double free") ||
			strings.Contains(s, "double-free") ||
			strings.Contains(s, "invalid pointer") ||
			strings.Contains(s, "use-after-free") ||
			strings.Contains(s, "heap-use-after-free") ||
			strings.Contains(s, "segmentation fault") ||
			strings.Contains(s, "sigsegv") ||
			strings.Contains(s, "addresssanitizer") ||
			strings.Contains(s, "asan:")
	}
}

func hasSegfault(language, stderr string) bool {
	s := strings.ToLower(stderr)
	switch language {
	case execconfig.LanguageJava:
		return strings.Contains(s, "sigsegv") ||
			strings.Contains(s, "exception_access_violation") ||
			strings.Contains(s, "hs_err_pid") ||
			strings.Contains(s, "problematic frame:")
	default:
		return strings.Contains(s, "segmentation fault") || strings.Contains(s, "sigsegv")
	}
}

func hasException(language, stderr string) bool {
	s := strings.ToLower(stderr)
	switch language {
	case execconfig.LanguageJava:
		return strings.Contains(s, "exception in thread") ||
			strings.Contains(s, "java.lang.exception") ||
			strings.Contains(s, "java.lang.runtimeexception") ||
			strings.Contains(s, "java.lang.nullpointerexception") ||
			strings.Contains(s, "java.lang.illegalargumentexception") ||
			strings.Contains(s, "java.lang.indexoutofboundsexception") ||
			strings.Contains(s, "java.lang.arrayindexoutofboundsexception") ||
			strings.Contains(s, "java.lang.outofmemoryerror") ||
			strings.Contains(s, "java.lang.stackoverflowerror") ||
			strings.Contains(s, "exception:") ||
			strings.Contains(s, "error:")
	default:
		return strings.Contains(s, "exception") ||
			strings.Contains(s, "terminate called") ||
			strings.Contains(s, "std::terminate") ||
			strings.Contains(s, "std::bad_alloc")
	}
}
