// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package compiler

import "fmt"

// TokenType represents the kind of token.
type TokenType int

const (
	EOF TokenType = iota
	NEWLINE
	INDENT
	DEDENT

	NAME
	KEYWORD
	INT
	FLOAT
	STRING
	FSTRING
	OP
)

var tokenNames = [...]string{
	EOF:     "end of input",
	NEWLINE: "newline",
	INDENT:  "indent",
	DEDENT:  "dedent",
	NAME:    "name",
	KEYWORD: "keyword",
	INT:     "integer",
	FLOAT:   "float",
	STRING:  "string",
	FSTRING: "f-string",
	OP:      "operator",
}

func (t TokenType) String() string {
	if int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is a lexical token. Literal holds the decoded value of INT, FLOAT
// and STRING tokens.
type Token struct {
	Type    TokenType
	Lexeme  string
	Literal any
	Line    int
	Col     int
}

func (t Token) String() string {
	switch t.Type {
	case NAME, KEYWORD, OP:
		return fmt.Sprintf("%q", t.Lexeme)
	case STRING, FSTRING, INT, FLOAT:
		return fmt.Sprintf("%s %s", t.Type, t.Lexeme)
	}
	return t.Type.String()
}

var keywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true,
	"assert": true, "async": true, "await": true, "break": true, "class": true,
	"continue": true, "def": true, "del": true, "elif": true, "else": true,
	"except": true, "finally": true, "for": true, "from": true, "global": true,
	"if": true, "import": true, "in": true, "is": true, "lambda": true,
	"nonlocal": true, "not": true, "or": true, "pass": true, "raise": true,
	"return": true, "try": true, "while": true, "with": true, "yield": true,
}

// operators ordered longest first so the lexer can take the longest match.
var operators = []string{
	"**=", "//=", ">>=", "<<=", "...",
	"**", "//", "==", "!=", "<=", ">=", "->", "+=", "-=", "*=", "/=", "%=",
	"&=", "|=", "^=", ":=", "<<", ">>", "@=",
	"+", "-", "*", "/", "%", "<", ">", "=", "(", ")", "[", "]", "{", "}",
	",", ":", ".", ";", "@", "|", "&", "^", "~",
}

// Error is a compile error with a source position.
type Error struct {
	Line int
	Col  int
	Msg  string
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

func errorf(line, col int, format string, args ...any) *Error {
	return &Error{Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}
