package compiler

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer turns plan source into tokens, synthesizing NEWLINE, INDENT and
// DEDENT from line structure the way Python does.
type Lexer struct {
	src    string
	cur    int
	line   int
	col    int
	depth  int // open brackets; newlines inside brackets are ignored
	indent []int
	tokens []Token
}

// NewLexer returns a lexer over src.
func NewLexer(src string) *Lexer {
	return &Lexer{src: strings.ReplaceAll(src, "\r\n", "\n"), line: 1, indent: []int{0}}
}

func (l *Lexer) atEnd() bool { return l.cur >= len(l.src) }

func (l *Lexer) peek() byte {
	if l.atEnd() {
		return 0
	}
	return l.src[l.cur]
}

func (l *Lexer) peekAt(n int) byte {
	if l.cur+n >= len(l.src) {
		return 0
	}
	return l.src[l.cur+n]
}

func (l *Lexer) advance() byte {
	c := l.src[l.cur]
	l.cur++
	if c == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
	return c
}

func (l *Lexer) emit(tt TokenType, lexeme string, lit any, line, col int) {
	l.tokens = append(l.tokens, Token{Type: tt, Lexeme: lexeme, Literal: lit, Line: line, Col: col})
}

func (l *Lexer) lastType() TokenType {
	if len(l.tokens) == 0 {
		return NEWLINE
	}
	return l.tokens[len(l.tokens)-1].Type
}

// Scan tokenizes the whole source.
func (l *Lexer) Scan() ([]Token, error) {
	atLineStart := true
	for !l.atEnd() {
		if atLineStart && l.depth == 0 {
			blank, err := l.lineIndent()
			if err != nil {
				return nil, err
			}
			if blank {
				continue
			}
			atLineStart = false
		}
		c := l.peek()
		switch {
		case c == '\n':
			l.advance()
			if l.depth == 0 {
				if l.lastType() != NEWLINE && l.lastType() != INDENT && l.lastType() != DEDENT {
					l.emit(NEWLINE, "\n", nil, l.line-1, l.col)
				}
				atLineStart = true
			}
		case c == ' ' || c == '\t' || c == '\f':
			l.advance()
		case c == '#':
			for !l.atEnd() && l.peek() != '\n' {
				l.advance()
			}
		case c == '\\' && l.peekAt(1) == '\n':
			l.advance()
			l.advance()
		case isDigit(c) || (c == '.' && isDigit(l.peekAt(1))):
			if err := l.scanNumber(); err != nil {
				return nil, err
			}
		case c == '"' || c == '\'' || (isStringPrefix(l.src[l.cur:])):
			if err := l.scanString(); err != nil {
				return nil, err
			}
		case isNameStart(l.src[l.cur:]):
			l.scanName()
		default:
			if err := l.scanOperator(); err != nil {
				return nil, err
			}
		}
	}
	if l.depth > 0 {
		return nil, errorf(l.line, l.col, "unexpected end of input: unclosed bracket")
	}
	if l.lastType() != NEWLINE && l.lastType() != DEDENT && len(l.tokens) > 0 {
		l.emit(NEWLINE, "", nil, l.line, l.col)
	}
	for len(l.indent) > 1 {
		l.indent = l.indent[:len(l.indent)-1]
		l.emit(DEDENT, "", nil, l.line, 0)
	}
	l.emit(EOF, "", nil, l.line, l.col)
	return l.tokens, nil
}

// lineIndent measures the indentation of the line at the cursor and emits
// INDENT or DEDENT tokens. It reports blank and comment-only lines, which
// do not affect indentation.
func (l *Lexer) lineIndent() (bool, error) {
	width := 0
scan:
	for !l.atEnd() {
		switch l.peek() {
		case ' ':
			width++
		case '\t':
			width = (width/8 + 1) * 8
		case '\f':
			width = 0
		default:
			break scan
		}
		l.advance()
	}
	if l.atEnd() || l.peek() == '\n' || l.peek() == '#' {
		for !l.atEnd() && l.peek() != '\n' {
			l.advance()
		}
		if !l.atEnd() {
			l.advance()
		}
		return true, nil
	}
	top := l.indent[len(l.indent)-1]
	switch {
	case width > top:
		l.indent = append(l.indent, width)
		l.emit(INDENT, "", nil, l.line, 0)
	case width < top:
		for width < l.indent[len(l.indent)-1] {
			l.indent = l.indent[:len(l.indent)-1]
			l.emit(DEDENT, "", nil, l.line, 0)
		}
		if width != l.indent[len(l.indent)-1] {
			return false, errorf(l.line, 0, "unindent does not match any outer indentation level")
		}
	}
	return false, nil
}

func (l *Lexer) scanName() {
	line, col, start := l.line, l.col, l.cur
	for !l.atEnd() {
		r, size := utf8.DecodeRuneInString(l.src[l.cur:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		for i := 0; i < size; i++ {
			l.advance()
		}
	}
	word := l.src[start:l.cur]
	if keywords[word] {
		l.emit(KEYWORD, word, nil, line, col)
		return
	}
	l.emit(NAME, word, nil, line, col)
}

func (l *Lexer) scanOperator() error {
	line, col := l.line, l.col
	rest := l.src[l.cur:]
	for _, op := range operators {
		if strings.HasPrefix(rest, op) {
			for range op {
				l.advance()
			}
			switch op {
			case "(", "[", "{":
				l.depth++
			case ")", "]", "}":
				if l.depth == 0 {
					return errorf(line, col, "unmatched %q", op)
				}
				l.depth--
			}
			l.emit(OP, op, nil, line, col)
			return nil
		}
	}
	r, _ := utf8.DecodeRuneInString(rest)
	return errorf(line, col, "unexpected character %q", r)
}

func (l *Lexer) scanNumber() error {
	line, col, start := l.line, l.col, l.cur
	if l.peek() == '0' && strings.ContainsRune("xXoObB", rune(l.peekAt(1))) {
		base := map[byte]int{'x': 16, 'X': 16, 'o': 8, 'O': 8, 'b': 2, 'B': 2}[l.peekAt(1)]
		l.advance()
		l.advance()
		for !l.atEnd() && (isHexDigit(l.peek()) || l.peek() == '_') {
			l.advance()
		}
		text := l.src[start:l.cur]
		v, err := strconv.ParseInt(strings.ReplaceAll(text[2:], "_", ""), base, 64)
		if err != nil {
			return errorf(line, col, "invalid integer literal %s", text)
		}
		l.emit(INT, text, v, line, col)
		return nil
	}
	isFloat := false
	digits := func() {
		for !l.atEnd() && (isDigit(l.peek()) || l.peek() == '_') {
			l.advance()
		}
	}
	digits()
	if l.peek() == '.' && !isNameStartByte(l.peekAt(1)) {
		isFloat = true
		l.advance()
		digits()
	}
	if l.peek() == 'e' || l.peek() == 'E' {
		next := l.peekAt(1)
		if isDigit(next) || ((next == '+' || next == '-') && isDigit(l.peekAt(2))) {
			isFloat = true
			l.advance()
			if l.peek() == '+' || l.peek() == '-' {
				l.advance()
			}
			digits()
		}
	}
	if l.peek() == 'j' || l.peek() == 'J' {
		return errorf(line, col, "complex numbers are not supported")
	}
	text := l.src[start:l.cur]
	clean := strings.ReplaceAll(text, "_", "")
	if isFloat {
		v, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return errorf(line, col, "invalid float literal %s", text)
		}
		l.emit(FLOAT, text, v, line, col)
		return nil
	}
	if len(clean) > 1 && clean[0] == '0' && strings.Trim(clean, "0") != "" {
		return errorf(line, col, "leading zeros in decimal integer literals are not permitted")
	}
	v, err := strconv.ParseInt(clean, 10, 64)
	if err != nil {
		return errorf(line, col, "integer literal %s out of range", text)
	}
	l.emit(INT, text, v, line, col)
	return nil
}

func (l *Lexer) scanString() error {
	line, col, start := l.line, l.col, l.cur
	raw, fmtStr := false, false
	for l.peek() != '"' && l.peek() != '\'' {
		switch l.advance() {
		case 'r', 'R':
			raw = true
		case 'f', 'F':
			fmtStr = true
		case 'b', 'B':
			return errorf(line, col, "bytes literals are not supported")
		}
	}
	quote := l.peek()
	triple := l.peekAt(1) == quote && l.peekAt(2) == quote
	if triple {
		l.advance()
		l.advance()
	}
	l.advance()

	var sb strings.Builder
	for {
		if l.atEnd() {
			return errorf(line, col, "unterminated string literal")
		}
		c := l.peek()
		if c == quote {
			if !triple {
				l.advance()
				break
			}
			if l.peekAt(1) == quote && l.peekAt(2) == quote {
				l.advance()
				l.advance()
				l.advance()
				break
			}
		}
		if c == '\n' && !triple {
			return errorf(line, col, "unterminated string literal")
		}
		if c == '\\' && !raw {
			l.advance()
			if l.atEnd() {
				return errorf(line, col, "unterminated string literal")
			}
			if err := l.escape(&sb); err != nil {
				return err
			}
			continue
		}
		if c == '\\' && raw && (l.peekAt(1) == quote || l.peekAt(1) == '\\') {
			sb.WriteByte(l.advance())
		}
		sb.WriteByte(l.advance())
	}
	lexeme := l.src[start:l.cur]
	if fmtStr {
		l.emit(FSTRING, lexeme, sb.String(), line, col)
		return nil
	}
	l.emit(STRING, lexeme, sb.String(), line, col)
	return nil
}

func (l *Lexer) escape(sb *strings.Builder) error {
	line, col := l.line, l.col
	c := l.advance()
	switch c {
	case '\n':
	case '\\', '\'', '"':
		sb.WriteByte(c)
	case 'n':
		sb.WriteByte('\n')
	case 't':
		sb.WriteByte('\t')
	case 'r':
		sb.WriteByte('\r')
	case '0':
		sb.WriteByte(0)
	case 'a':
		sb.WriteByte('\a')
	case 'b':
		sb.WriteByte('\b')
	case 'f':
		sb.WriteByte('\f')
	case 'v':
		sb.WriteByte('\v')
	case 'x', 'u', 'U':
		n := map[byte]int{'x': 2, 'u': 4, 'U': 8}[c]
		if l.cur+n > len(l.src) {
			return errorf(line, col, "truncated \\%c escape", c)
		}
		hex := l.src[l.cur : l.cur+n]
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return errorf(line, col, "invalid \\%c escape", c)
		}
		for i := 0; i < n; i++ {
			l.advance()
		}
		sb.WriteRune(rune(v))
	default:
		sb.WriteByte('\\')
		sb.WriteByte(c)
	}
	return nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isHexDigit(b byte) bool {
	return isDigit(b) || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func isNameStartByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b >= utf8.RuneSelf
}

func isNameStart(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r == '_' || unicode.IsLetter(r)
}

// isStringPrefix reports whether s starts with a string prefix such as r"
// or f'.
func isStringPrefix(s string) bool {
	for i := 0; i < len(s) && i < 3; i++ {
		switch s[i] {
		case 'r', 'R', 'f', 'F', 'b', 'B', 'u', 'U':
			continue
		case '"', '\'':
			return i > 0
		}
		return false
	}
	return false
}
