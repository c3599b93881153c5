// Package marker turns captured task output into per-subsection scores. It
// splits output on the configured delimiter, aligns student segments with
// memo segments positionally and applies the configured comparison scheme.
package marker

import "strings"

// Segment is one delimited slice of a task's stdout: the text after the
// delimiter on the marker line names it, the lines until the next marker
// form its body.
type Segment struct {
	Name  string
	Lines []string
}

// Split partitions raw stdout into ordered segments. A line whose trimmed
// form starts with the delimiter opens a new segment named by the remainder
// of that line; anything before the first delimiter is discarded. Repeated
// names stay distinct, matching is positional downstream.
func Split(stdout, delimiter string) []Segment {
	if delimiter == "" {
		return nil
	}

	var segments []Segment
	var current *Segment

	for _, raw := range strings.Split(stdout, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, delimiter) {
			if current != nil {
				segments = append(segments, *current)
			}
			name := strings.TrimSpace(strings.TrimPrefix(line, delimiter))
			current = &Segment{Name: name}
			continue
		}
		if current != nil {
			current.Lines = append(current.Lines, raw)
		}
	}

	if current != nil {
		segments = append(segments, *current)
	}

	return segments
}

// Normalize trims trailing whitespace per line and drops empty lines while
// preserving internal order. All comparisons run on normalised bodies.
func Normalize(lines []string) []string {
	normalized := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		normalized = append(normalized, trimmed)
	}
	return normalized
}
