package script

import "fmt"

// ParseError is a compile failure tagged with its 1-based source line and,
// for cycle list failures, the 1-based offending element position.
type ParseError struct {
	Line int
	Elem int    // 1-based element within a list; 0 when not applicable
	Raw  string // original unrepaired fragment, when one exists
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Elem > 0 {
		return fmt.Sprintf("line %d: element #%d: %s", e.Line, e.Elem, e.Msg)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

func parseErrf(line int, format string, args ...any) *ParseError {
	return &ParseError{Line: line, Msg: fmt.Sprintf(format, args...)}
}

func elemErrf(line, elem int, format string, args ...any) *ParseError {
	return &ParseError{Line: line, Elem: elem, Msg: fmt.Sprintf(format, args...)}
}
