// Package markers implements PEP 508 environment markers: parsing,
// normalization and evaluation against a target environment.
//
// Reference: https://peps.python.org/pep-0508/#environment-markers
//
// The grammar handled here is the marker subset only:
//
//	marker      = expr (("and" | "or") expr)*
//	expr        = "(" marker ")" | variable op value | value op variable
//	op          = "<=" | "<" | "!=" | "==" | ">=" | ">" | "~=" | "===" |
//	              "in" | "not in"
//
// Operator precedence follows Python: "and" binds tighter than "or".
package markers

import (
	"fmt"
	"strings"

	"github.com/pydeps/pylock/pep440"
)

// Marker is a parsed boolean marker expression. The zero value is invalid;
// a nil *Marker means "no marker" (always applicable).
type Marker struct {
	root node
	text string
}

// ParseError is returned when a marker expression cannot be parsed.
type ParseError struct {
	Marker  string
	Pos     int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid marker %q at offset %d: %s", e.Marker, e.Pos, e.Message)
}

// node is a marker AST node.
type node interface {
	eval(env Environment) bool
	render(sb *strings.Builder)
}

// boolOp joins children with "and" or "or".
type boolOp struct {
	op       string // "and" | "or"
	children []node
}

func (n *boolOp) eval(env Environment) bool {
	if n.op == "and" {
		for _, child := range n.children {
			if !child.eval(env) {
				return false
			}
		}
		return true
	}
	for _, child := range n.children {
		if child.eval(env) {
			return true
		}
	}
	return false
}

func (n *boolOp) render(sb *strings.Builder) {
	for i, child := range n.children {
		if i > 0 {
			sb.WriteString(" " + n.op + " ")
		}
		if group, ok := child.(*boolOp); ok && group.op != n.op {
			sb.WriteByte('(')
			group.render(sb)
			sb.WriteByte(')')
			continue
		}
		child.render(sb)
	}
}

// comparison is a single "variable op value" term. Either side may be the
// variable; lhsIsVar records which.
type comparison struct {
	variable string
	op       string
	value    string
	lhsIsVar bool
}

func (n *comparison) eval(env Environment) bool {
	actual, known := env.Lookup(n.variable)
	if !known {
		// Unknown variables never satisfy a marker; notably "extra" when
		// no extra is being evaluated.
		return false
	}

	lhs, rhs := actual, n.value
	if !n.lhsIsVar {
		lhs, rhs = n.value, actual
	}

	switch n.op {
	case "in":
		return strings.Contains(rhs, lhs)
	case "not in":
		return !strings.Contains(rhs, lhs)
	}

	// PEP 508: use PEP 440 ordering when both operands parse as versions,
	// otherwise fall back to string comparison.
	lv, lerr := pep440.Parse(lhs)
	rv, rerr := pep440.Parse(rhs)
	if lerr == nil && rerr == nil {
		return evalCompare(n.op, pep440.Compare(lv, rv))
	}
	return evalCompare(n.op, strings.Compare(lhs, rhs))
}

func evalCompare(op string, c int) bool {
	switch op {
	case "==", "===":
		return c == 0
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	case "~=":
		// Rare in markers; approximate as >=.
		return c >= 0
	}
	return false
}

func (n *comparison) render(sb *strings.Builder) {
	if n.lhsIsVar {
		fmt.Fprintf(sb, "%s %s '%s'", n.variable, n.op, n.value)
		return
	}
	fmt.Fprintf(sb, "'%s' %s %s", n.value, n.op, n.variable)
}

// markerVariables is the set of names PEP 508 defines for marker
// expressions.
var markerVariables = map[string]bool{
	"python_version":                 true,
	"python_full_version":            true,
	"os_name":                        true,
	"sys_platform":                   true,
	"platform_release":               true,
	"platform_system":                true,
	"platform_version":               true,
	"platform_machine":               true,
	"platform_python_implementation": true,
	"implementation_name":            true,
	"implementation_version":         true,
	"extra":                          true,
}

// IsVariable reports whether name is a PEP 508 marker variable.
func IsVariable(name string) bool {
	return markerVariables[name]
}

// Parse parses a marker expression. Empty input yields a nil Marker.
func Parse(s string) (*Marker, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, nil
	}
	p := &parser{input: trimmed}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, &ParseError{Marker: s, Pos: p.pos, Message: "trailing input"}
	}
	m := &Marker{root: root}
	m.text = m.render()
	return m, nil
}

// MustParse parses a marker and panics on error. For tests and constants
// only.
func MustParse(s string) *Marker {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Eval evaluates the marker against an environment. A nil marker is
// vacuously true.
func (m *Marker) Eval(env Environment) bool {
	if m == nil {
		return true
	}
	return m.root.eval(env)
}

// String returns the normalized marker text (single-quoted values, spaces
// around operators).
func (m *Marker) String() string {
	if m == nil {
		return ""
	}
	return m.text
}

// References reports whether the marker compares against the named
// environment variable anywhere in its expression.
func (m *Marker) References(variable string) bool {
	if m == nil {
		return false
	}
	return references(m.root, variable)
}

func references(n node, variable string) bool {
	switch v := n.(type) {
	case *boolOp:
		for _, child := range v.children {
			if references(child, variable) {
				return true
			}
		}
		return false
	case *comparison:
		return v.variable == variable
	}
	return false
}

func (m *Marker) render() string {
	var sb strings.Builder
	m.root.render(&sb)
	return sb.String()
}

// And returns the conjunction of two markers; either may be nil.
func And(a, b *Marker) *Marker {
	return combine("and", a, b)
}

// Or returns the disjunction of two markers; either may be nil. A nil side
// makes the whole disjunction vacuous, so the other side wins only when
// both are set.
func Or(a, b *Marker) *Marker {
	return combine("or", a, b)
}

func combine(op string, a, b *Marker) *Marker {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.text == b.text {
		return a
	}
	root := &boolOp{op: op, children: []node{a.root, b.root}}
	m := &Marker{root: root}
	m.text = m.render()
	return m
}

// parser is a hand-rolled recursive-descent parser over the marker grammar.
type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) errf(format string, args ...any) error {
	return &ParseError{Marker: p.input, Pos: p.pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []node{left}
	for p.peekWord("or") {
		p.consumeWord("or")
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &boolOp{op: "or", children: children}, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	children := []node{left}
	for p.peekWord("and") {
		p.consumeWord("and")
		right, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &boolOp{op: "and", children: children}, nil
}

func (p *parser) parseExpr() (node, error) {
	p.skipSpace()
	if p.pos < len(p.input) && p.input[p.pos] == '(' {
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return nil, p.errf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	lhsVar, lhsVal, lhsIsVar, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	op, err := p.parseOperator()
	if err != nil {
		return nil, err
	}

	rhsVar, rhsVal, rhsIsVar, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	switch {
	case lhsIsVar && !rhsIsVar:
		return &comparison{variable: lhsVar, op: op, value: rhsVal, lhsIsVar: true}, nil
	case !lhsIsVar && rhsIsVar:
		return &comparison{variable: rhsVar, op: op, value: lhsVal, lhsIsVar: false}, nil
	default:
		return nil, p.errf("comparison needs exactly one marker variable")
	}
}

// parseOperand reads either a marker variable or a quoted string literal.
func (p *parser) parseOperand() (variable, value string, isVar bool, err error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return "", "", false, p.errf("unexpected end of marker")
	}

	ch := p.input[p.pos]
	if ch == '\'' || ch == '"' {
		end := strings.IndexByte(p.input[p.pos+1:], ch)
		if end < 0 {
			return "", "", false, p.errf("unterminated string literal")
		}
		value = p.input[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
		return "", value, false, nil
	}

	start := p.pos
	for p.pos < len(p.input) && (isIdentByte(p.input[p.pos])) {
		p.pos++
	}
	if p.pos == start {
		return "", "", false, p.errf("expected marker variable or string literal")
	}
	name := p.input[start:p.pos]
	if !IsVariable(name) {
		return "", "", false, p.errf("unknown marker variable %q", name)
	}
	return name, "", true, nil
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

var comparisonOps = []string{"===", "==", "!=", "<=", ">=", "~=", "<", ">"}

func (p *parser) parseOperator() (string, error) {
	p.skipSpace()
	for _, op := range comparisonOps {
		if strings.HasPrefix(p.input[p.pos:], op) {
			p.pos += len(op)
			return op, nil
		}
	}
	if p.peekWord("not") {
		p.consumeWord("not")
		if !p.peekWord("in") {
			return "", p.errf("expected 'in' after 'not'")
		}
		p.consumeWord("in")
		return "not in", nil
	}
	if p.peekWord("in") {
		p.consumeWord("in")
		return "in", nil
	}
	return "", p.errf("expected comparison operator")
}

// peekWord reports whether the next token is the given bare word.
func (p *parser) peekWord(word string) bool {
	i := p.pos
	for i < len(p.input) && (p.input[i] == ' ' || p.input[i] == '\t') {
		i++
	}
	if !strings.HasPrefix(p.input[i:], word) {
		return false
	}
	after := i + len(word)
	return after >= len(p.input) || !isIdentByte(p.input[after])
}

func (p *parser) consumeWord(word string) {
	p.skipSpace()
	p.pos += len(word)
}
