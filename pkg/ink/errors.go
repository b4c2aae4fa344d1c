package ink

import (
	"fmt"
	"strings"
)

// Diagnostic is a single problem found while parsing story source.
type Diagnostic struct {
	// Line is the 1-based source line, or 0 when the problem is not tied to a line.
	Line int `json:"line"`

	// Message describes the problem.
	Message string `json:"message"`
}

// String renders the diagnostic as "line N: message".
func (d Diagnostic) String() string {
	if d.Line == 0 {
		return d.Message
	}
	return fmt.Sprintf("line %d: %s", d.Line, d.Message)
}

// ParseError reports that source text could not be turned into a Story.
type ParseError struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	switch len(e.Diagnostics) {
	case 0:
		return "ink: parse failed"
	case 1:
		return "ink: " + e.Diagnostics[0].String()
	}

	parts := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		parts[i] = d.String()
	}
	return fmt.Sprintf("ink: %d problems: %s", len(parts), strings.Join(parts, "; "))
}

// StoryError reports misuse of a running Story, such as continuing past a choice
// point or choosing an index that is not on offer.
type StoryError struct {
	// Op is the story operation that failed.
	Op string

	// Message describes the failure.
	Message string
}

// Error implements the error interface.
func (e *StoryError) Error() string {
	return fmt.Sprintf("ink: %s: %s", e.Op, e.Message)
}

func storyErrorf(op, format string, args ...interface{}) *StoryError {
	return &StoryError{Op: op, Message: fmt.Sprintf(format, args...)}
}
