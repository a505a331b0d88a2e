package offer

import (
	"fmt"
	"strings"
)

// Stage is one step of a diagnostic funnel.
type Stage struct {
	Name  string
	Count int
}

// Funnel records how many offers remained after each gate check.
type Funnel []Stage

// String renders the funnel as "start=40 -> price=22 -> ...".
func (f Funnel) String() string {
	parts := make([]string, len(f))
	for i, s := range f {
		parts[i] = fmt.Sprintf("%s=%d", s.Name, s.Count)
	}
	return strings.Join(parts, " -> ")
}

// Final returns the count after the last stage.
func (f Funnel) Final() int {
	if len(f) == 0 {
		return 0
	}
	return f[len(f)-1].Count
}

// CollapsedAt returns the first stage that dropped the count to zero.
func (f Funnel) CollapsedAt() string {
	for _, s := range f {
		if s.Count == 0 {
			return s.Name
		}
	}
	return ""
}

// DataQualityError means no offer survived gating, even after relaxation.
type DataQualityError struct {
	Strict  Funnel
	Relaxed Funnel
}

func (e *DataQualityError) Error() string {
	f := e.Relaxed
	if len(f) == 0 {
		f = e.Strict
	}
	return fmt.Sprintf("no eligible offers after gating (collapsed at %q)", f.CollapsedAt())
}

// Report returns a multi-line funnel dump for operators.
func (e *DataQualityError) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "strict:  %s\n", e.Strict)
	if len(e.Relaxed) > 0 {
		fmt.Fprintf(&b, "relaxed: %s\n", e.Relaxed)
	}
	return b.String()
}
