package model

import "fmt"

// Composition operators recognized between segments of a command line.
const (
	OpPipe = "|"
	OpAnd  = "&&"
	OpOr   = "||"
	OpSeq  = ";"
)

// SubCommand is one atomic command within a pipeline or boolean chain.
// Immutable once parsed: the parser performs no expansion, so Program and
// Args are the literal words of the segment.
type SubCommand struct {
	Program string
	Args    []string
	Raw     string

	// WriteTargets lists paths named by output redirections (> and >>)
	// attached to this segment. The classifier uses them to raise the
	// tier floor; they are never opened or resolved.
	WriteTargets []string
}

// ParsedCommand is the ordered decomposition of one command line.
// Operators[i] joins Segments[i] and Segments[i+1], so a well-formed
// line always satisfies len(Operators) == len(Segments)-1.
type ParsedCommand struct {
	Segments  []SubCommand
	Operators []string
}

// ParseError reports a command line the parser refuses to decompose:
// unterminated quoting, command or process substitution, unbalanced or
// trailing operators, or shell constructs the mediator cannot reason
// about. Policy treats a ParseError as tier realize with destructive
// intent, never as readable.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable command: %s", e.Reason)
}

// NewParseError builds a ParseError for the given raw line.
func NewParseError(raw, format string, args ...any) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...), Raw: raw}
}
