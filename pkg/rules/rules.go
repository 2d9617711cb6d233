// Package rules compiles the IXP detection rule language.
//
// A rule line has the form
//
//	condition : assessment
//
// where the condition is two or three clauses joined by "-", one per hop of a
// detection window. A clause is a keyword, optionally followed by a single
// digit back-reference, or two such terms joined by a delimiter inside
// parentheses:
//
//	AS_M-(IXP_IPandAS_M)-!AS_M : b
//
// Spaces are ignored and "#" starts a comment.
package rules

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/sudorandom/ixpdetect/pkg/utils"
)

// Keywords of the rule language.
const (
	IXPIP      = "IXP_IP"
	Membership = "AS_M"
	NoReply    = "*"
)

// Assessment names the hop pair(s) a rule places the crossing on. "a" is the
// first and second hop of the window, "b" the second and third.
type Assessment string

const (
	A        Assessment = "a"
	B        Assessment = "b"
	AOrB     Assessment = "aorb"
	AAndB    Assessment = "aandb"
	Possible Assessment = "?"
)

func ParseAssessment(s string) (Assessment, bool) {
	switch a := Assessment(s); a {
	case A, B, AOrB, AAndB, Possible:
		return a, true
	}
	return "", false
}

// RemotePeeringRule is the condition whose first hop is a remote peer of the
// IXP crossed in the window.
const RemotePeeringRule = "AS_M0-(IXP_IPandAS_M1)-AS_M1"

// Term is one keyword occurrence in a clause.
type Term struct {
	Keyword string
	Negated bool
	// Ref is the back-reference digit, or -1.
	Ref int
}

func (t Term) String() string {
	s := t.Keyword
	if t.Negated {
		s = "!" + s
	}
	if t.Ref >= 0 {
		s += fmt.Sprint(t.Ref)
	}
	return s
}

// Clause constrains one hop of the window.
type Clause struct {
	Terms []Term
}

// Has returns the first term with the given keyword.
func (c Clause) Has(keyword string) (Term, bool) {
	for _, t := range c.Terms {
		if t.Keyword == keyword {
			return t, true
		}
	}
	return Term{}, false
}

// IsIXP reports whether the clause anchors on an IXP hop.
func (c Clause) IsIXP() bool {
	_, ok := c.Has(IXPIP)
	return ok
}

func (c Clause) String() string {
	if len(c.Terms) == 1 {
		return c.Terms[0].String()
	}
	parts := make([]string, len(c.Terms))
	for i, t := range c.Terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, "and") + ")"
}

// Rule is a compiled detection rule.
type Rule struct {
	// Index is the position among the accepted rules of a file.
	Index      int
	Line       int
	Text       string
	Clauses    []Clause
	Assessment Assessment
	// RemotePeer is the window position of the remote peer for the remote
	// peering rule, or -1.
	RemotePeer int
}

func (r Rule) Condition() string {
	parts := make([]string, len(r.Clauses))
	for i, c := range r.Clauses {
		parts[i] = c.String()
	}
	return strings.Join(parts, "-")
}

func (r Rule) String() string {
	return r.Condition() + " : " + string(r.Assessment)
}

// SyntaxError describes a rejected rule line.
type SyntaxError struct {
	Line   int
	Text   string
	Reason string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("rule on line %d not included: %s", e.Line, e.Reason)
	}
	return "rule not included: " + e.Reason
}

// Grammar lists the accepted keywords and the delimiters allowed between two
// terms of a clause.
type Grammar struct {
	Keywords   []string
	Delimiters []string
}

func DefaultGrammar() Grammar {
	return Grammar{
		Keywords:   []string{IXPIP, Membership, "!" + Membership},
		Delimiters: []string{"and"},
	}
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, scanner.Err()
}

// LoadGrammar reads the keyword file, one keyword per line, and the delimiter
// file, a single line of comma separated delimiters.
func LoadGrammar(expressions, delimiters io.Reader) (Grammar, error) {
	var g Grammar
	kw, err := readLines(expressions)
	if err != nil {
		return g, errors.Wrap(err, "failed to read keywords")
	}
	if len(kw) == 0 {
		return g, errors.New("no keywords defined")
	}
	dl, err := readLines(delimiters)
	if err != nil {
		return g, errors.Wrap(err, "failed to read delimiters")
	}
	if len(dl) != 1 {
		return g, errors.Errorf("expected one line of delimiters, got %d", len(dl))
	}
	for _, d := range strings.Split(dl[0], ",") {
		if d = strings.TrimSpace(d); d != "" {
			g.Delimiters = append(g.Delimiters, d)
		}
	}
	if len(g.Delimiters) == 0 {
		return g, errors.New("no delimiters defined")
	}
	g.Keywords = kw
	return g, nil
}

// term parses a keyword token, accepting a trailing back-reference digit.
func (g Grammar) term(tok string) (Term, bool) {
	ref := -1
	base := tok
	if n := len(tok); n > 1 && tok[n-1] >= '0' && tok[n-1] <= '9' {
		ref = int(tok[n-1] - '0')
		base = tok[:n-1]
	}
	known := func(s string) bool {
		for _, kw := range g.Keywords {
			if kw == s {
				return true
			}
		}
		return false
	}
	switch {
	case ref >= 0 && (known(base) || known(tok)):
		return newTerm(base, ref), true
	case known(tok):
		return newTerm(tok, -1), true
	}
	return Term{}, false
}

func newTerm(kw string, ref int) Term {
	t := Term{Keyword: strings.TrimPrefix(kw, "!"), Ref: ref}
	t.Negated = t.Keyword != kw
	return t
}

// splitDelimiters cuts s at every delimiter.
func (g Grammar) splitDelimiters(s string) ([]string, bool) {
	const sep = "\x00"
	cut := s
	for _, d := range g.Delimiters {
		cut = strings.ReplaceAll(cut, d, sep)
	}
	return strings.Split(cut, sep), cut != s
}

func (g Grammar) clause(s string) (Clause, string) {
	open, closing := strings.Count(s, "("), strings.Count(s, ")")
	parts, delimited := g.splitDelimiters(strings.Trim(s, "()"))
	switch {
	case open > 1:
		return Clause{}, fmt.Sprintf("expected only one '(' at the beginning of %s", s)
	case closing > 1:
		return Clause{}, fmt.Sprintf("expected only one ')' at the end of %s", s)
	case open == 1 && !strings.HasSuffix(s, ")"):
		return Clause{}, fmt.Sprintf("expected ')' at the end of %s", s)
	case closing == 1 && !strings.HasPrefix(s, "("):
		return Clause{}, fmt.Sprintf("expected one '(' at the beginning of %s", s)
	case open == 1 && !delimited:
		return Clause{}, fmt.Sprintf("expected a delimiter in the middle of %s", s)
	case open == 0 && delimited:
		return Clause{}, fmt.Sprintf("expected parentheses around %s", s)
	case len(parts) > 2:
		return Clause{}, fmt.Sprintf("expected at most two terms in %s", s)
	}
	var c Clause
	for _, p := range parts {
		t, ok := g.term(p)
		if !ok {
			return Clause{}, fmt.Sprintf("wrong syntax in %s", s)
		}
		if t.Negated && t.Keyword != Membership {
			return Clause{}, fmt.Sprintf("only %s can be negated in %s", Membership, s)
		}
		c.Terms = append(c.Terms, t)
	}
	if len(c.Terms) == 2 {
		_, mem := c.Has(Membership)
		if !c.IsIXP() || !mem {
			return Clause{}, fmt.Sprintf("expected %s joined with %s in %s", IXPIP, Membership, s)
		}
	}
	return c, ""
}

// Compile parses one rule line.
func Compile(line string, g Grammar) (Rule, error) {
	text, _, _ := strings.Cut(line, "#")
	text = strings.Join(strings.Fields(text), "")
	r := Rule{Text: text, RemotePeer: -1}
	fail := func(format string, args ...any) (Rule, error) {
		return Rule{}, &SyntaxError{Text: text, Reason: fmt.Sprintf(format, args...)}
	}
	if text == "" {
		return fail("empty rule")
	}

	parts := strings.Split(text, ":")
	if len(parts) != 2 {
		return fail("expected one condition and one assessment part")
	}
	cond := strings.Split(parts[0], "-")
	switch {
	case len(cond) > 3:
		return fail("expected a maximum rule length of 3")
	case len(cond) < 2:
		return fail("expected a minimum rule length of 2")
	}
	ixp := false
	for _, s := range cond {
		c, reason := g.clause(s)
		if reason != "" {
			return fail("%s", reason)
		}
		ixp = ixp || c.IsIXP()
		r.Clauses = append(r.Clauses, c)
	}
	if !ixp {
		return fail("expected an %s in %s", IXPIP, parts[0])
	}
	asmt, ok := ParseAssessment(parts[1])
	if !ok {
		return fail("expected a valid assessment, got %q", parts[1])
	}
	r.Assessment = asmt
	if r.Condition() == RemotePeeringRule {
		r.RemotePeer = 0
	}
	return r, nil
}

// Load compiles every rule of r. Rejected rules are logged, returned as
// errors and skipped; accepted rules are numbered in file order.
func Load(r io.Reader, g Grammar) ([]Rule, []error) {
	var (
		out  []Rule
		errs []error
	)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line, _, _ := strings.Cut(scanner.Text(), "#")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rule, err := Compile(line, g)
		if err != nil {
			var se *SyntaxError
			if errors.As(err, &se) {
				se.Line = lineNo
			}
			utils.Log.WithFields(logrus.Fields{"rule": strings.TrimSpace(line), "line": lineNo}).Warn(err)
			errs = append(errs, err)
			continue
		}
		rule.Line = lineNo
		rule.Index = len(out)
		out = append(out, rule)
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, err)
	}
	utils.Log.Infof("Loaded %d IXP detection rules", len(out))
	return out, errs
}
