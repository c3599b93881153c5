package sandbox

import (
	"fmt"
	"strings"
)

// Blob serialises a run result into the marker format the evaluator parses:
// stdout first, then a STDERR: section when stderr is non-empty, then the
// EXIT_CODE and RUNTIME_MS markers.
func (r RunResult) Blob() string {
	var b strings.Builder

	if out := strings.TrimRight(r.Stdout, "\n"); out != "" {
		b.WriteString(out)
		b.WriteByte('\n')
	}
	if errOut := strings.TrimRight(r.Stderr, "\n"); errOut != "" {
		b.WriteString("STDERR:\n")
		b.WriteString(errOut)
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "EXIT_CODE: %d\n", r.ExitCode)
	fmt.Fprintf(&b, "RUNTIME_MS: %d\n", r.Duration.Milliseconds())

	return b.String()
}
