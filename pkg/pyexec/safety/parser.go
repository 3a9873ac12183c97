package safety

import "fmt"

var compoundKeywords = map[string]bool{
	"if": true, "elif": true, "else": true, "for": true, "while": true,
	"try": true, "except": true, "finally": true, "with": true,
	"def": true, "class": true,
}

// Names that are followed by "(" without being calls.
var pythonKeywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true,
	"assert": true, "async": true, "await": true, "break": true, "class": true,
	"continue": true, "def": true, "del": true, "elif": true, "else": true,
	"except": true, "finally": true, "for": true, "from": true, "global": true,
	"if": true, "import": true, "in": true, "is": true, "lambda": true,
	"nonlocal": true, "not": true, "or": true, "pass": true, "raise": true,
	"return": true, "try": true, "while": true, "with": true, "yield": true,
}

// Parse builds the reduced syntax tree for source. Errors wrap ErrSyntax.
func Parse(source string) (*Module, error) {
	lines, err := tokenize(source)
	if err != nil {
		return nil, err
	}
	if len(lines) > 0 && lines[0].indent > 0 {
		return nil, &SyntaxError{Line: lines[0].line, Msg: "unexpected indent"}
	}

	p := &parser{lines: lines}
	body, err := p.block(0)
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.lines) {
		ll := p.lines[p.pos]
		return nil, &SyntaxError{Line: ll.line, Msg: "unindent does not match any outer indentation level"}
	}
	return &Module{Body: body}, nil
}

type parser struct {
	lines []logicalLine
	pos   int
}

// block parses consecutive logical lines at exactly indent.
func (p *parser) block(indent int) ([]Node, error) {
	var body []Node
	for p.pos < len(p.lines) {
		ll := p.lines[p.pos]
		if ll.indent < indent {
			return body, nil
		}
		if ll.indent > indent {
			return nil, &SyntaxError{Line: ll.line, Msg: "unexpected indent"}
		}
		p.pos++
		nodes, err := p.statement(ll.tokens, indent)
		if err != nil {
			return nil, err
		}
		body = append(body, nodes...)
	}
	return body, nil
}

func (p *parser) statement(toks []token, indent int) ([]Node, error) {
	if !isCompound(toks) {
		return simpleStatements(toks)
	}

	keyword := toks[0].text
	start := 1
	if keyword == "async" {
		keyword = toks[1].text
		start = 2
	}
	colon := headerEnd(toks)
	if colon < 0 {
		return nil, &SyntaxError{Line: toks[0].line, Msg: fmt.Sprintf("expected ':' after %q", keyword)}
	}

	header := toks[start:colon]
	if (keyword == "def" || keyword == "class") && len(header) > 0 {
		header = header[1:]
	}
	blk := &Block{
		Line:    toks[0].line,
		Keyword: keyword,
		Bare:    colon == start,
		Header:  callsIn(header),
	}

	if rest := toks[colon+1:]; len(rest) > 0 {
		body, err := simpleStatements(rest)
		if err != nil {
			return nil, err
		}
		blk.Body = body
		return []Node{blk}, nil
	}

	if p.pos >= len(p.lines) || p.lines[p.pos].indent <= indent {
		return nil, &SyntaxError{Line: blk.Line, Msg: fmt.Sprintf("expected an indented block after '%s' statement", keyword)}
	}
	inner := p.lines[p.pos].indent
	body, err := p.block(inner)
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.lines) {
		if next := p.lines[p.pos].indent; next > indent && next < inner {
			return nil, &SyntaxError{Line: p.lines[p.pos].line, Msg: "unindent does not match any outer indentation level"}
		}
	}
	blk.Body = body
	return []Node{blk}, nil
}

// isCompound reports whether a logical line opens a compound statement.
func isCompound(toks []token) bool {
	first := toks[0]
	if first.kind != tokName {
		return false
	}
	if compoundKeywords[first.text] {
		return true
	}
	switch first.text {
	case "async":
		return len(toks) > 1 && (toks[1].text == "def" || toks[1].text == "for" || toks[1].text == "with")
	case "match", "case":
		// soft keywords: "match = 1" and "match.group()" are ordinary statements
		if len(toks) < 3 || !toks[len(toks)-1].is(tokOp, ":") {
			return false
		}
		switch toks[1].text {
		case ":", "=", ".", ",", ")", "]":
			return false
		}
		return toks[1].kind != tokOp || toks[1].text == "(" || toks[1].text == "[" || toks[1].text == "{" || toks[1].text == "-" || toks[1].text == "*"
	}
	return false
}

// headerEnd returns the index of the colon that closes a compound header,
// skipping colons that belong to lambdas or sit inside brackets.
func headerEnd(toks []token) int {
	depth, lambdas := 0, 0
	for i, t := range toks {
		if t.kind == tokName && t.text == "lambda" {
			if depth == 0 {
				lambdas++
			}
			continue
		}
		if t.kind != tokOp {
			continue
		}
		switch t.text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
		case ":":
			if depth > 0 {
				continue
			}
			if lambdas > 0 {
				lambdas--
				continue
			}
			return i
		}
	}
	return -1
}

// simpleStatements splits a run of simple statements on top-level semicolons.
func simpleStatements(toks []token) ([]Node, error) {
	var nodes []Node
	depth, start := 0, 0
	for i := 0; i <= len(toks); i++ {
		if i < len(toks) {
			t := toks[i]
			if t.kind != tokOp {
				continue
			}
			switch t.text {
			case "(", "[", "{":
				depth++
				continue
			case ")", "]", "}":
				depth--
				continue
			case ";":
				if depth > 0 {
					continue
				}
			default:
				continue
			}
		}
		if i > start {
			n, err := simpleStatement(toks[start:i])
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n...)
		}
		start = i + 1
	}
	return nodes, nil
}

func simpleStatement(toks []token) ([]Node, error) {
	switch {
	case toks[0].is(tokName, "import"):
		names, err := aliases(toks[1:], toks[0].line)
		if err != nil {
			return nil, err
		}
		return []Node{&Import{Line: toks[0].line, Names: names}}, nil
	case toks[0].is(tokName, "from"):
		n, err := importFrom(toks)
		if err != nil {
			return nil, err
		}
		return []Node{n}, nil
	}
	return callsIn(toks), nil
}

func importFrom(toks []token) (*ImportFrom, error) {
	n := &ImportFrom{Line: toks[0].line}
	i := 1
	for ; i < len(toks); i++ {
		switch {
		case toks[i].is(tokOp, "."):
			n.Level++
			continue
		case toks[i].is(tokOp, "..."):
			n.Level += 3
			continue
		}
		break
	}

	mod, next := dottedName(toks, i)
	n.Module = mod
	if next >= len(toks) || !toks[next].is(tokName, "import") || (mod == "" && n.Level == 0) {
		return nil, &SyntaxError{Line: n.Line, Msg: "invalid syntax in from-import"}
	}

	rest := toks[next+1:]
	if len(rest) > 0 && rest[0].is(tokOp, "(") && rest[len(rest)-1].is(tokOp, ")") {
		rest = rest[1 : len(rest)-1]
	}
	if len(rest) == 1 && rest[0].is(tokOp, "*") {
		n.Names = []Alias{{Name: "*"}}
		return n, nil
	}
	names, err := aliases(rest, n.Line)
	if err != nil {
		return nil, err
	}
	n.Names = names
	return n, nil
}

// aliases parses "a.b as c, d" lists. A trailing comma is accepted.
func aliases(toks []token, line int) ([]Alias, error) {
	var out []Alias
	i := 0
	for i < len(toks) {
		name, next := dottedName(toks, i)
		if name == "" {
			return nil, &SyntaxError{Line: line, Msg: "invalid syntax in import"}
		}
		a := Alias{Name: name}
		i = next
		if i < len(toks) && toks[i].is(tokName, "as") {
			if i+1 >= len(toks) || toks[i+1].kind != tokName {
				return nil, &SyntaxError{Line: line, Msg: "invalid syntax in import"}
			}
			a.AsName = toks[i+1].text
			i += 2
		}
		out = append(out, a)
		if i < len(toks) {
			if !toks[i].is(tokOp, ",") {
				return nil, &SyntaxError{Line: line, Msg: "invalid syntax in import"}
			}
			i++
		}
	}
	if len(out) == 0 {
		return nil, &SyntaxError{Line: line, Msg: "invalid syntax in import"}
	}
	return out, nil
}

// dottedName reads NAME ('.' NAME)* starting at i.
func dottedName(toks []token, i int) (string, int) {
	name := ""
	for i < len(toks) && toks[i].kind == tokName && toks[i].text != "import" {
		name += toks[i].text
		i++
		if i+1 < len(toks) && toks[i].is(tokOp, ".") && toks[i+1].kind == tokName {
			name += "."
			i++
			continue
		}
		break
	}
	return name, i
}

// callsIn collects call expressions, including those nested in f-strings.
func callsIn(toks []token) []Node {
	var calls []Node
	for i, t := range toks {
		if t.kind == tokString && len(t.nested) > 0 {
			calls = append(calls, callsIn(t.nested)...)
			continue
		}
		if t.kind != tokName || pythonKeywords[t.text] {
			continue
		}
		if i+1 >= len(toks) {
			continue
		}
		if !toks[i+1].is(tokOp, "(") && parenthesizedCallee(toks, i) < 0 {
			continue
		}
		if i > 0 && (toks[i-1].is(tokName, "def") || toks[i-1].is(tokName, "class")) {
			continue
		}
		c := &Call{Line: t.line, Func: t.text}
		if i > 0 && toks[i-1].is(tokOp, ".") {
			c.Attribute = true
			c.Receiver = receiver(toks, i-1)
		}
		calls = append(calls, c)
	}
	return calls
}

// parenthesizedCallee handles a bare name wrapped in redundant parentheses
// and then called, as in "(eval)('1')" or "((exec))(s)". It returns the
// index of the call's "(" or -1.
func parenthesizedCallee(toks []token, i int) int {
	open := 0
	for i-1-open >= 0 && toks[i-1-open].is(tokOp, "(") {
		open++
	}
	closed := 0
	for closed < open && i+1+closed < len(toks) && toks[i+1+closed].is(tokOp, ")") {
		closed++
	}
	if closed == 0 {
		return -1
	}
	if j := i + 1 + closed; j < len(toks) && toks[j].is(tokOp, "(") {
		return j
	}
	return -1
}

// receiver rebuilds the dotted name in front of the "." at dot, or returns
// "" when the receiver is not a plain name chain, as in "f().g()".
func receiver(toks []token, dot int) string {
	name := ""
	for j := dot - 1; j >= 0; j -= 2 {
		if toks[j].kind != tokName {
			return ""
		}
		if name == "" {
			name = toks[j].text
		} else {
			name = toks[j].text + "." + name
		}
		if j == 0 || !toks[j-1].is(tokOp, ".") {
			break
		}
	}
	return name
}
