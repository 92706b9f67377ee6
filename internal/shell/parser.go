// Package shell decomposes raw command lines into ordered pipeline
// segments without executing a shell. It recognizes the four composition
// operators (|, &&, ||, ;) at the top syntactic level, performs no
// expansion of any kind, and fails closed: every construct the mediator
// cannot reason about surfaces as a ParseError, which policy treats as
// the highest tier.
package shell

import (
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/metraton/warden/internal/model"
)

// MaxLineBytes caps parser input so crafted quoting cannot make a single
// decision take unbounded time or memory.
const MaxLineBytes = 64 * 1024

// plainSpecials are the bytes that disqualify a line from the fast path.
// Any of these can change how the full grammar reads the line.
const plainSpecials = "|&;<>()$`\"'\\#=!\n\r"

// reservedLeads are first words that pull in grammar the fast path does
// not model (control flow, declarations, command groups).
var reservedLeads = map[string]bool{
	"if": true, "then": true, "elif": true, "else": true, "fi": true,
	"for": true, "while": true, "until": true, "do": true, "done": true,
	"case": true, "esac": true, "select": true, "in": true,
	"function": true, "coproc": true, "time": true,
	"declare": true, "local": true, "export": true, "readonly": true,
	"typeset": true, "let": true, "[[": true, "{": true, "}": true,
}

// wrapperPrograms run another program unchanged; the wrapped command is
// what carries the risk.
var wrapperPrograms = map[string]bool{
	"nohup": true,
}

// Parse decomposes one raw command line. The returned ParsedCommand
// always satisfies len(Operators) == len(Segments)-1; any ambiguity
// (unterminated quoting, trailing operators, substitution, constructs
// outside the pipeline grammar) returns a *model.ParseError instead.
func Parse(raw string) (*model.ParsedCommand, error) {
	if len(raw) > MaxLineBytes {
		return nil, model.NewParseError(raw, "command exceeds %d bytes", MaxLineBytes)
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, model.NewParseError(raw, "empty command")
	}

	if isPlainLine(trimmed) {
		return parsePlain(trimmed)
	}
	return parseFull(raw, trimmed)
}

// isPlainLine reports whether the line is free of every shell-special
// character and reserved word, so that whitespace splitting and the full
// grammar provably agree on it.
func isPlainLine(trimmed string) bool {
	if strings.ContainsAny(trimmed, plainSpecials) {
		return false
	}
	first := trimmed
	if i := strings.IndexAny(trimmed, " \t"); i >= 0 {
		first = trimmed[:i]
	}
	return !reservedLeads[first]
}

// parsePlain is the zero-operator fast path: plain words only, single
// segment, no operators. Behavior is identical to the general path; only
// the latency differs.
func parsePlain(trimmed string) (*model.ParsedCommand, error) {
	words := strings.Fields(trimmed)
	seg, err := newSegment(words, trimmed)
	if err != nil {
		return nil, err
	}
	return &model.ParsedCommand{Segments: []model.SubCommand{*seg}}, nil
}

func parseFull(raw, trimmed string) (*model.ParsedCommand, error) {
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(raw), "")
	if err != nil {
		return nil, model.NewParseError(raw, "shell syntax: %v", err)
	}

	// Backticks and $(...) both surface as CmdSubst; either means the
	// visible words are not the words that would run.
	if reason := scanSubstitutions(file); reason != "" {
		return nil, model.NewParseError(raw, "%s", reason)
	}

	run := &parseRun{raw: raw}
	out := &model.ParsedCommand{}
	for i, st := range file.Stmts {
		if i > 0 {
			out.Operators = append(out.Operators, model.OpSeq)
		}
		if err := run.stmt(st, "", out); err != nil {
			return nil, err
		}
	}
	if len(out.Segments) == 0 {
		return nil, model.NewParseError(raw, "empty command")
	}
	return out, nil
}

// scanSubstitutions walks the whole AST once for command and process
// substitution nodes.
func scanSubstitutions(file *syntax.File) string {
	reason := ""
	syntax.Walk(file, func(node syntax.Node) bool {
		if reason != "" {
			return false
		}
		switch node.(type) {
		case *syntax.CmdSubst:
			reason = "command substitution"
			return false
		case *syntax.ProcSubst:
			reason = "process substitution"
			return false
		}
		return true
	})
	return reason
}

type parseRun struct {
	raw string
}

func (p *parseRun) errf(format string, args ...any) error {
	return model.NewParseError(p.raw, format, args...)
}

// nodeText slices the original input covered by a node, so segment raw
// text is exactly what the user typed.
func (p *parseRun) nodeText(node syntax.Node) string {
	start := node.Pos().Offset()
	end := node.End().Offset()
	if start > uint(len(p.raw)) || end > uint(len(p.raw)) || start > end {
		return ""
	}
	return strings.TrimSpace(p.raw[start:end])
}

// stmt appends the segments of one statement to out. rawOverride carries
// the text of an enclosing wrapper (time ...) so the emitted segment
// still cites the full original fragment.
func (p *parseRun) stmt(st *syntax.Stmt, rawOverride string, out *model.ParsedCommand) error {
	if st.Background {
		return p.errf("background execution (&)")
	}

	switch cmd := st.Cmd.(type) {
	case *syntax.CallExpr:
		return p.call(st, cmd, rawOverride, out)
	case *syntax.BinaryCmd:
		if len(st.Redirs) > 0 {
			return p.errf("redirection attached to a compound command")
		}
		return p.binary(cmd, out)
	case *syntax.TimeClause:
		// time only measures; the inner command carries the risk.
		if cmd.Stmt == nil {
			return p.errf("time with no command")
		}
		raw := rawOverride
		if raw == "" {
			raw = p.nodeText(st)
		}
		return p.stmt(cmd.Stmt, raw, out)
	case *syntax.Subshell:
		return p.errf("subshell grouping")
	case *syntax.Block:
		return p.errf("command group")
	case *syntax.IfClause, *syntax.WhileClause, *syntax.ForClause, *syntax.CaseClause:
		return p.errf("shell control flow")
	case *syntax.FuncDecl:
		return p.errf("function definition")
	case *syntax.DeclClause:
		return p.errf("declaration statement")
	case *syntax.LetClause:
		return p.errf("arithmetic statement")
	case *syntax.ArithmCmd:
		return p.errf("arithmetic statement")
	case *syntax.TestClause:
		return p.errf("test clause ([[ ... ]])")
	case *syntax.CoprocClause:
		return p.errf("coprocess")
	case nil:
		return p.errf("redirection-only statement")
	default:
		return p.errf("unsupported shell construct")
	}
}

// binary flattens a pipeline/boolean tree in textual order. The grammar
// is left-associative, so recursing left then right keeps segments and
// operators interleaved exactly as written.
func (p *parseRun) binary(bc *syntax.BinaryCmd, out *model.ParsedCommand) error {
	var op string
	switch bc.Op {
	case syntax.AndStmt:
		op = model.OpAnd
	case syntax.OrStmt:
		op = model.OpOr
	case syntax.Pipe:
		op = model.OpPipe
	case syntax.PipeAll:
		// |& additionally pipes stderr; same decomposition for risk.
		op = model.OpPipe
	default:
		return p.errf("unsupported operator %s", bc.Op.String())
	}

	if err := p.stmt(bc.X, "", out); err != nil {
		return err
	}
	out.Operators = append(out.Operators, op)
	return p.stmt(bc.Y, "", out)
}

func (p *parseRun) call(st *syntax.Stmt, ce *syntax.CallExpr, rawOverride string, out *model.ParsedCommand) error {
	if len(ce.Args) == 0 {
		return p.errf("assignment-only statement")
	}

	words := make([]string, 0, len(ce.Args))
	for _, w := range ce.Args {
		s, err := p.flattenWord(w)
		if err != nil {
			return err
		}
		words = append(words, s)
	}

	raw := rawOverride
	if raw == "" {
		raw = p.nodeText(st)
	}
	seg, err := newSegment(words, raw)
	if err != nil {
		return err
	}

	for _, r := range st.Redirs {
		if err := p.redirect(r, seg); err != nil {
			return err
		}
	}

	out.Segments = append(out.Segments, *seg)
	return nil
}

func (p *parseRun) redirect(r *syntax.Redirect, seg *model.SubCommand) error {
	switch r.Op {
	case syntax.RdrOut, syntax.AppOut, syntax.RdrAll, syntax.AppAll:
		target, err := p.flattenWord(r.Word)
		if err != nil {
			return err
		}
		seg.WriteTargets = append(seg.WriteTargets, target)
		return nil
	case syntax.RdrIn, syntax.WordHdoc:
		// Reading a file or a herestring adds no risk of its own.
		return nil
	case syntax.Hdoc, syntax.DashHdoc:
		return p.errf("heredoc")
	case syntax.DplOut, syntax.DplIn:
		// >&2 style fd shuffling is harmless; >&file is an output
		// redirect in disguise and is not modeled.
		target, err := p.flattenWord(r.Word)
		if err != nil {
			return err
		}
		if target == "-" || isAllDigits(target) {
			return nil
		}
		return p.errf("file descriptor duplication to %q", target)
	default:
		return p.errf("unsupported redirection %s", r.Op.String())
	}
}

// flattenWord renders one word to its literal value: quotes removed,
// escapes resolved, parameter references kept verbatim (never expanded).
func (p *parseRun) flattenWord(w *syntax.Word) (string, error) {
	var sb strings.Builder
	for _, part := range w.Parts {
		switch part := part.(type) {
		case *syntax.Lit:
			sb.WriteString(unescapeBare(part.Value))
		case *syntax.SglQuoted:
			if part.Dollar {
				return "", p.errf("ansi-c quoting ($'...')")
			}
			sb.WriteString(part.Value)
		case *syntax.DblQuoted:
			for _, inner := range part.Parts {
				switch inner := inner.(type) {
				case *syntax.Lit:
					sb.WriteString(unescapeDouble(inner.Value))
				case *syntax.ParamExp:
					sb.WriteString(p.nodeText(inner))
				default:
					return "", p.errf("unsupported quoted word part")
				}
			}
		case *syntax.ParamExp:
			sb.WriteString(p.nodeText(part))
		case *syntax.ExtGlob:
			sb.WriteString(p.nodeText(part))
		case *syntax.ArithmExp:
			return "", p.errf("arithmetic expansion")
		default:
			return "", p.errf("unsupported word part")
		}
	}
	return sb.String(), nil
}

// newSegment builds a SubCommand from flattened words: leading VAR=val
// assignments and env/nohup/timeout wrappers are stripped so the program
// that actually runs is the one classified, and paths are reduced to the
// base name so /bin/rm matches the same rules as rm.
func newSegment(words []string, raw string) (*model.SubCommand, error) {
	i := 0
	for i < len(words) {
		w := words[i]
		switch {
		case isAssignWord(w):
			i++
		case w == "env":
			i++
			for i < len(words) && strings.Contains(words[i], "=") {
				i++
			}
		case wrapperPrograms[w]:
			i++
		case w == "timeout":
			i++
			for i < len(words) && strings.HasPrefix(words[i], "-") {
				i++
			}
			if i < len(words) {
				i++ // duration argument
			}
		default:
			program := filepath.Base(w)
			if program == "" || program == "." || program == string(filepath.Separator) {
				return nil, model.NewParseError(raw, "empty program name")
			}
			return &model.SubCommand{
				Program: program,
				Args:    words[i+1:],
				Raw:     raw,
			}, nil
		}
	}
	return nil, model.NewParseError(raw, "no command to classify in %q", raw)
}

// isAssignWord mirrors the env-prefix heuristic: FOO=bar counts as an
// assignment, but option-, path-, or dot-leading words never do.
func isAssignWord(w string) bool {
	if !strings.Contains(w, "=") {
		return false
	}
	if strings.HasPrefix(w, "-") || strings.HasPrefix(w, "/") || strings.HasPrefix(w, ".") || strings.HasPrefix(w, "=") {
		return false
	}
	return true
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// unescapeBare resolves backslash escapes outside quotes: \x is x.
func unescapeBare(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			sb.WriteByte(s[i])
			continue
		}
		if s[i] != '\\' {
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

// unescapeDouble resolves the escapes double quotes honor; anything else
// keeps its backslash.
func unescapeDouble(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '$', '`', '"', '\\':
				i++
				sb.WriteByte(s[i])
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
