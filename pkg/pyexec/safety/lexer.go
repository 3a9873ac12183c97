package safety

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrSyntax is returned when source cannot be tokenized or parsed.
// The analyzer does not treat it as unsafe: the interpreter reports the
// same problem when the script runs.
var ErrSyntax = errors.New("syntax error")

// SyntaxError describes where tokenizing or parsing failed.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Is lets callers match with errors.Is(err, ErrSyntax).
func (e *SyntaxError) Is(target error) bool {
	return target == ErrSyntax
}

type tokenKind int

const (
	tokName tokenKind = iota
	tokNumber
	tokString
	tokOp
)

type token struct {
	kind tokenKind
	text string
	line int

	// nested holds the tokens of f-string replacement fields.
	nested []token
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

// logicalLine is one Python logical line: physical lines joined by
// open brackets or backslash continuations.
type logicalLine struct {
	indent int
	line   int
	tokens []token
}

var closing = map[byte]byte{')': '(', ']': '[', '}': '{'}

// multi-character operators that matter for statement splitting.
var longOps = []string{"**=", "//=", ">>=", "<<=", "...", "->", ":=", "==", "!=", "<=", ">=", "**", "//", "<<", ">>", "+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", "@="}

type lexer struct {
	src   string
	pos   int
	line  int
	stack []byte
}

// tokenize splits source into logical lines.
func tokenize(src string) ([]logicalLine, error) {
	lx := &lexer{src: strings.ReplaceAll(src, "\r\n", "\n"), line: 1}
	return lx.run()
}

func (lx *lexer) run() ([]logicalLine, error) {
	var (
		lines   []logicalLine
		current *logicalLine
	)

	atLineStart := true
	for lx.pos < len(lx.src) {
		if atLineStart && len(lx.stack) == 0 {
			indent, blank := lx.indentation()
			if blank {
				continue
			}
			current = &logicalLine{indent: indent, line: lx.line}
			atLineStart = false
		}

		c := lx.src[lx.pos]
		switch {
		case c == '\n':
			lx.pos++
			lx.line++
			if len(lx.stack) == 0 {
				if current != nil && len(current.tokens) > 0 {
					lines = append(lines, *current)
				}
				current = nil
				atLineStart = true
			}
		case c == ' ' || c == '\t' || c == '\f':
			lx.pos++
		case c == '#':
			lx.skipComment()
		case c == '\\':
			if lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '\n' {
				lx.pos += 2
				lx.line++
				continue
			}
			return nil, lx.errorf("unexpected character after line continuation character")
		case c == '\'' || c == '"':
			tok, err := lx.lexString("")
			if err != nil {
				return nil, err
			}
			current.tokens = append(current.tokens, tok)
		case isDigit(c) || (c == '.' && lx.pos+1 < len(lx.src) && isDigit(lx.src[lx.pos+1])):
			current.tokens = append(current.tokens, lx.lexNumber())
		case c >= utf8.RuneSelf || isNameStart(rune(c)):
			name := lx.lexName()
			if name == "" {
				return nil, lx.errorf("invalid character in identifier")
			}
			if isStringPrefix(name) && lx.pos < len(lx.src) && (lx.src[lx.pos] == '\'' || lx.src[lx.pos] == '"') {
				tok, err := lx.lexString(name)
				if err != nil {
					return nil, err
				}
				current.tokens = append(current.tokens, tok)
				continue
			}
			current.tokens = append(current.tokens, token{kind: tokName, text: name, line: lx.line})
		default:
			tok, err := lx.lexOp()
			if err != nil {
				return nil, err
			}
			current.tokens = append(current.tokens, tok)
		}
	}

	if len(lx.stack) > 0 {
		return nil, lx.errorf("'%c' was never closed", lx.stack[len(lx.stack)-1])
	}
	if current != nil && len(current.tokens) > 0 {
		lines = append(lines, *current)
	}
	return lines, nil
}

// indentation measures leading whitespace of the physical line at pos.
// Blank and comment-only lines are consumed entirely and reported as blank.
func (lx *lexer) indentation() (int, bool) {
	width := 0
	for lx.pos < len(lx.src) {
		switch lx.src[lx.pos] {
		case ' ':
			width++
		case '\t':
			width = (width/8 + 1) * 8
		case '\f':
			width = 0
		case '#':
			lx.skipComment()
			fallthrough
		case '\n':
			if lx.pos < len(lx.src) {
				lx.pos++
				lx.line++
			}
			return 0, true
		default:
			return width, false
		}
		lx.pos++
	}
	return 0, true
}

func (lx *lexer) skipComment() {
	for lx.pos < len(lx.src) && lx.src[lx.pos] != '\n' {
		lx.pos++
	}
}

func (lx *lexer) lexName() string {
	start := lx.pos
	for lx.pos < len(lx.src) {
		r, size := utf8.DecodeRuneInString(lx.src[lx.pos:])
		if lx.pos == start && !isNameStart(r) {
			break
		}
		if lx.pos > start && !isNameChar(r) {
			break
		}
		lx.pos += size
	}
	return lx.src[start:lx.pos]
}

func (lx *lexer) lexNumber() token {
	start := lx.pos
	for lx.pos < len(lx.src) {
		c := lx.src[lx.pos]
		if isDigit(c) || isASCIILetter(c) || c == '_' || c == '.' {
			lx.pos++
			continue
		}
		// exponent sign, e.g. 1e-5
		if (c == '+' || c == '-') && lx.pos > start && (lx.src[lx.pos-1] == 'e' || lx.src[lx.pos-1] == 'E') &&
			!strings.HasPrefix(strings.ToLower(lx.src[start:lx.pos]), "0x") {
			lx.pos++
			continue
		}
		break
	}
	return token{kind: tokNumber, text: lx.src[start:lx.pos], line: lx.line}
}

func (lx *lexer) lexOp() (token, error) {
	c := lx.src[lx.pos]
	line := lx.line
	switch c {
	case '(', '[', '{':
		lx.stack = append(lx.stack, c)
		lx.pos++
		return token{kind: tokOp, text: string(c), line: line}, nil
	case ')', ']', '}':
		if len(lx.stack) == 0 {
			return token{}, lx.errorf("unmatched '%c'", c)
		}
		if open := lx.stack[len(lx.stack)-1]; open != closing[c] {
			return token{}, lx.errorf("closing parenthesis '%c' does not match opening parenthesis '%c'", c, open)
		}
		lx.stack = lx.stack[:len(lx.stack)-1]
		lx.pos++
		return token{kind: tokOp, text: string(c), line: line}, nil
	}

	for _, op := range longOps {
		if strings.HasPrefix(lx.src[lx.pos:], op) {
			lx.pos += len(op)
			return token{kind: tokOp, text: op, line: line}, nil
		}
	}
	lx.pos++
	return token{kind: tokOp, text: string(c), line: line}, nil
}

// lexString consumes a (possibly triple-quoted) string literal starting
// at the opening quote. prefix holds any string prefix already consumed.
func (lx *lexer) lexString(prefix string) (token, error) {
	startLine := lx.line
	quote := lx.src[lx.pos]
	triple := strings.HasPrefix(lx.src[lx.pos:], strings.Repeat(string(quote), 3))
	delim := string(quote)
	if triple {
		delim = strings.Repeat(string(quote), 3)
	}
	lx.pos += len(delim)
	bodyStart := lx.pos

	for {
		if lx.pos >= len(lx.src) {
			return token{}, &SyntaxError{Line: startLine, Msg: "unterminated string literal"}
		}
		c := lx.src[lx.pos]
		switch {
		case c == '\\':
			if lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '\n' {
				lx.line++
			}
			lx.pos += 2
			continue
		case c == '\n':
			if !triple {
				return token{}, &SyntaxError{Line: startLine, Msg: "unterminated string literal"}
			}
			lx.line++
		case strings.HasPrefix(lx.src[lx.pos:], delim):
			body := lx.src[bodyStart:lx.pos]
			lx.pos += len(delim)
			tok := token{kind: tokString, text: prefix + delim + body + delim, line: startLine}
			if strings.ContainsAny(prefix, "fF") {
				tok.nested = formatFieldTokens(body, startLine)
			}
			return tok, nil
		}
		lx.pos++
	}
}

func (lx *lexer) errorf(format string, args ...any) error {
	return &SyntaxError{Line: lx.line, Msg: fmt.Sprintf(format, args...)}
}

// formatFieldTokens tokenizes the replacement fields of an f-string body.
// Fields that fail to tokenize are skipped: the interpreter reports them.
func formatFieldTokens(body string, line int) []token {
	var out []token
	for i := 0; i < len(body); i++ {
		switch {
		case strings.HasPrefix(body[i:], "{{"), strings.HasPrefix(body[i:], "}}"):
			i++
		case body[i] == '{':
			end := fieldEnd(body, i+1)
			if end < 0 {
				return out
			}
			lines, err := tokenize(body[i+1 : end])
			if err == nil {
				for _, ll := range lines {
					for _, t := range ll.tokens {
						t.line += line - 1
						out = append(out, t)
					}
				}
			}
			i = end
		}
	}
	return out
}

// fieldEnd returns the index of the '}' closing a replacement field whose
// expression starts at start, stopping early at a conversion or format spec.
func fieldEnd(body string, start int) int {
	depth := 0
	var quote byte
	for i := start; i < len(body); i++ {
		c := body[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']':
			depth--
		case '}':
			if depth == 0 {
				return i
			}
			depth--
		case '!', ':':
			if depth == 0 && !(c == '!' && i+1 < len(body) && body[i+1] == '=') {
				if strings.IndexByte(body[i:], '}') < 0 {
					return -1
				}
				return i
			}
		}
	}
	return -1
}

func isStringPrefix(s string) bool {
	switch strings.ToLower(s) {
	case "r", "u", "b", "f", "br", "rb", "fr", "rf", "t", "tr", "rt":
		return true
	}
	return false
}

func isNameStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isNameChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
