package ink

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type nodeKind int

const (
	nodeText nodeKind = iota
	nodeDivert
	nodeChoice
	nodeAssign
)

// Divert targets that end the story when no knot of the same name exists.
const (
	TargetEnd  = "END"
	TargetDone = "DONE"
)

type node struct {
	kind   nodeKind
	line   int
	text   string
	target string
	name   string
	value  interface{}
	choice *choice
}

type choice struct {
	id      int
	display string
	sticky  bool
	body    *block
}

type block struct {
	name  string
	nodes []node
}

type reference struct {
	line int
	name string
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type parser struct {
	diags []Diagnostic

	root    *block
	knots   map[string]*block
	current *block
	open    *choice

	globals    map[string]interface{}
	nextChoice int

	divertRefs []reference
	varRefs    []reference
}

// Parse turns ink source text into a runnable Story. Every problem found in the
// text is collected into the returned *ParseError; a partially valid story is
// never returned.
func Parse(text string) (*Story, error) {
	p := &parser{
		root:    &block{},
		knots:   make(map[string]*block),
		globals: make(map[string]interface{}),
	}
	p.current = p.root

	text = strings.TrimPrefix(text, "\ufeff")
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, raw := range lines {
		p.parseLine(i+1, raw)
	}
	p.resolve()

	if len(p.diags) > 0 {
		sort.SliceStable(p.diags, func(i, j int) bool {
			return p.diags[i].Line < p.diags[j].Line
		})
		return nil, &ParseError{Diagnostics: p.diags}
	}

	story := newStory(p.root, p.knots, p.globals)
	if err := story.settle(); err != nil {
		return nil, &ParseError{Diagnostics: []Diagnostic{{Message: err.Message}}}
	}
	return story, nil
}

func (p *parser) errorf(line int, format string, args ...interface{}) {
	p.diags = append(p.diags, Diagnostic{Line: line, Message: fmt.Sprintf(format, args...)})
}

func (p *parser) parseLine(n int, raw string) {
	line := raw
	if idx := strings.Index(line, "//"); idx >= 0 {
		line = line[:idx]
	}
	if idx := strings.Index(line, "#"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	switch {
	case strings.HasPrefix(line, "=="):
		p.parseKnot(n, line)
	case strings.HasPrefix(line, "="):
		p.errorf(n, "stitches are not supported")
	case strings.HasPrefix(line, "VAR "):
		p.parseVar(n, strings.TrimSpace(line[len("VAR "):]))
	case strings.HasPrefix(line, "~"):
		p.parseAssign(n, strings.TrimSpace(line[1:]))
	case line[0] == '*' || line[0] == '+':
		p.parseChoice(n, line)
	case strings.HasPrefix(line, "->"):
		p.addDivert(n, strings.TrimSpace(line[2:]))
	case line[0] == '-':
		p.open = nil
		if rest := strings.TrimSpace(strings.TrimLeft(line, "- \t")); rest != "" {
			p.addContent(n, rest)
		}
	default:
		p.addContent(n, line)
	}
}

func (p *parser) parseKnot(n int, line string) {
	name := strings.TrimSpace(strings.Trim(line, "= \t"))
	if !identifierPattern.MatchString(name) {
		p.errorf(n, "invalid knot name %q", name)
		return
	}
	if _, exists := p.knots[name]; exists {
		p.errorf(n, "duplicate knot %q", name)
		return
	}

	b := &block{name: name}
	p.knots[name] = b
	p.current = b
	p.open = nil
}

func (p *parser) parseVar(n int, decl string) {
	name, value, ok := p.parseBinding(n, decl)
	if !ok {
		return
	}
	if _, exists := p.globals[name]; exists {
		p.errorf(n, "variable %q declared twice", name)
		return
	}
	p.globals[name] = value
}

func (p *parser) parseAssign(n int, stmt string) {
	name, value, ok := p.parseBinding(n, stmt)
	if !ok {
		return
	}
	p.varRefs = append(p.varRefs, reference{line: n, name: name})
	p.add(node{kind: nodeAssign, line: n, name: name, value: value})
}

func (p *parser) parseBinding(n int, stmt string) (string, interface{}, bool) {
	eq := strings.Index(stmt, "=")
	if eq < 0 {
		p.errorf(n, "expected name = value")
		return "", nil, false
	}

	name := strings.TrimSpace(stmt[:eq])
	if !identifierPattern.MatchString(name) {
		p.errorf(n, "invalid variable name %q", name)
		return "", nil, false
	}

	value, ok := parseLiteral(strings.TrimSpace(stmt[eq+1:]))
	if !ok {
		p.errorf(n, "value of %q must be a string, number or boolean literal", name)
		return "", nil, false
	}
	return name, value, true
}

func parseLiteral(lit string) (interface{}, bool) {
	switch {
	case lit == "true":
		return true, true
	case lit == "false":
		return false, true
	case strings.HasPrefix(lit, `"`):
		s, err := strconv.Unquote(lit)
		if err != nil {
			return nil, false
		}
		return s, true
	}

	if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(lit, 64); err == nil {
		return f, true
	}
	return nil, false
}

func (p *parser) parseChoice(n int, line string) {
	marker := line[0]
	markers := 0
	rest := line
	for len(rest) > 0 && (rest[0] == '*' || rest[0] == '+' || rest[0] == ' ' || rest[0] == '\t') {
		if rest[0] == '*' || rest[0] == '+' {
			markers++
		}
		rest = rest[1:]
	}
	if markers > 1 {
		p.errorf(n, "nested choices are not supported")
		return
	}

	var target string
	if idx := strings.Index(rest, "->"); idx >= 0 {
		target = strings.TrimSpace(rest[idx+2:])
		rest = rest[:idx]
	}

	display, output := rest, rest
	if open := strings.Index(rest, "["); open >= 0 {
		closing := strings.Index(rest[open:], "]")
		if closing < 0 {
			p.errorf(n, "unterminated '[' in choice")
			return
		}
		before := rest[:open]
		inside := rest[open+1 : open+closing]
		after := rest[open+closing+1:]
		display = before + inside
		output = before + after
	}
	display = strings.TrimSpace(display)
	output = strings.TrimSpace(output)

	if display == "" {
		p.errorf(n, "choice has no text")
		return
	}
	p.checkInterpolation(n, display)

	c := &choice{
		id:      p.nextChoice,
		display: display,
		sticky:  marker == '+',
		body:    &block{name: p.current.name},
	}
	p.nextChoice++

	p.open = nil
	p.add(node{kind: nodeChoice, line: n, choice: c})
	p.open = c

	if output != "" {
		p.addText(n, output)
	}
	if target != "" {
		p.addDivert(n, target)
	}
}

// addContent handles a text line that may end in an inline divert.
func (p *parser) addContent(n int, line string) {
	if idx := strings.Index(line, "->"); idx >= 0 {
		if text := strings.TrimSpace(line[:idx]); text != "" {
			p.addText(n, text)
		}
		p.addDivert(n, strings.TrimSpace(line[idx+2:]))
		return
	}
	p.addText(n, line)
}

func (p *parser) addText(n int, text string) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "<>", ""))
	if text == "" {
		return
	}
	p.checkInterpolation(n, text)
	p.add(node{kind: nodeText, line: n, text: text})
}

func (p *parser) addDivert(n int, target string) {
	if target == "" {
		p.errorf(n, "divert has no target")
		return
	}
	if !identifierPattern.MatchString(target) {
		p.errorf(n, "invalid divert target %q", target)
		return
	}
	p.divertRefs = append(p.divertRefs, reference{line: n, name: target})
	p.add(node{kind: nodeDivert, line: n, target: target})
}

func (p *parser) add(nd node) {
	if p.open != nil {
		p.open.body.nodes = append(p.open.body.nodes, nd)
		return
	}
	p.current.nodes = append(p.current.nodes, nd)
}

func (p *parser) checkInterpolation(n int, text string) {
	for {
		open := strings.Index(text, "{")
		if open < 0 {
			if strings.Contains(text, "}") {
				p.errorf(n, "unmatched '}'")
			}
			return
		}
		closing := strings.Index(text[open:], "}")
		if closing < 0 {
			p.errorf(n, "unterminated '{'")
			return
		}

		name := strings.TrimSpace(text[open+1 : open+closing])
		if identifierPattern.MatchString(name) {
			p.varRefs = append(p.varRefs, reference{line: n, name: name})
		} else {
			p.errorf(n, "unsupported inline logic {%s}", name)
		}
		text = text[open+closing+1:]
	}
}

func (p *parser) resolve() {
	for _, ref := range p.divertRefs {
		if _, ok := p.knots[ref.name]; ok {
			continue
		}
		if ref.name == TargetEnd || ref.name == TargetDone {
			continue
		}
		p.errorf(ref.line, "unknown divert target %q", ref.name)
	}

	for _, ref := range p.varRefs {
		if _, ok := p.globals[ref.name]; !ok {
			p.errorf(ref.line, "unknown variable %q", ref.name)
		}
	}

	if len(p.root.nodes) == 0 && len(p.knots) == 0 && len(p.diags) == 0 {
		p.errorf(0, "story has no content")
	}
}
