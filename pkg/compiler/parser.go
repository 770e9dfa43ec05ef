package compiler

import (
	"strings"

	"github.com/jllopis/camel/pkg/plan"
)

// Statement forms produced by the parser and consumed by lowering.
type stmt interface{ line() int }

type pos struct{ ln int }

func (p pos) line() int { return p.ln }

type exprStmt struct {
	pos
	X plan.Expr
}

type assignStmt struct {
	pos
	Targets []string // more than one for tuple unpacking
	Tuple   bool
	Value   plan.Expr
}

type augAssignStmt struct {
	pos
	Target string
	Op     string
	Value  plan.Expr
}

type ifStmt struct {
	pos
	Cond plan.Expr
	Body []stmt
	Else []stmt
}

type forStmt struct {
	pos
	Targets []string
	Iter    plan.Expr
	Body    []stmt
}

type raiseStmt struct {
	pos
	X plan.Expr
}

type passStmt struct{ pos }

type classField struct {
	Name        string
	Annotation  plan.Expr
	Default     plan.Expr
	HasDefault  bool
	Description string
	Line        int
}

type classStmt struct {
	pos
	Name   string
	Doc    string
	Fields []classField
}

var forbiddenStmt = map[string]string{
	"while":    "while loops are not supported; iterate over a finite collection with for",
	"def":      "function definitions are not supported",
	"import":   "imports are not supported",
	"from":     "imports are not supported",
	"break":    "break is not supported",
	"continue": "continue is not supported",
	"return":   "return is not supported; end the plan with final(...)",
	"try":      "try/except is not supported",
	"with":     "with statements are not supported",
	"del":      "del is not supported",
	"global":   "global is not supported",
	"nonlocal": "nonlocal is not supported",
	"assert":   "assert is not supported; use if ... raise",
	"async":    "async code is not supported",
	"await":    "await is not supported",
	"yield":    "generators are not supported",
	"lambda":   "lambda expressions are not supported",
}

type parser struct {
	toks []Token
	i    int
}

// parseProgram parses a whole plan source into statements.
func parseProgram(src string) ([]stmt, error) {
	toks, err := NewLexer(src).Scan()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	var out []stmt
	for !p.at(EOF) {
		if p.match(NEWLINE) {
			continue
		}
		if p.at(INDENT) {
			return nil, p.errAt(p.peek(), "unexpected indent")
		}
		ss, err := p.statement()
		if err != nil {
			return nil, err
		}
		out = append(out, ss...)
	}
	return out, nil
}

// parseExpression parses a standalone expression, e.g. the body of an
// f-string replacement field.
func parseExpression(src string, line int) (plan.Expr, error) {
	toks, err := NewLexer("(" + src + ")").Scan()
	if err != nil {
		if e, ok := err.(*Error); ok {
			e.Line = line
		}
		return nil, err
	}
	for i := range toks {
		toks[i].Line = line
	}
	p := &parser{toks: toks}
	e, err := p.test()
	if err != nil {
		return nil, err
	}
	p.match(NEWLINE)
	if !p.at(EOF) {
		return nil, p.errAt(p.peek(), "unexpected %s in expression", p.peek())
	}
	return e, nil
}

func (p *parser) peek() Token { return p.toks[p.i] }

func (p *parser) peekN(n int) Token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}

func (p *parser) next() Token {
	t := p.toks[p.i]
	if t.Type != EOF {
		p.i++
	}
	return t
}

func (p *parser) at(tt TokenType) bool { return p.peek().Type == tt }

func (p *parser) atOp(ops ...string) bool {
	t := p.peek()
	if t.Type != OP {
		return false
	}
	for _, op := range ops {
		if t.Lexeme == op {
			return true
		}
	}
	return false
}

func (p *parser) atKeyword(kws ...string) bool {
	t := p.peek()
	if t.Type != KEYWORD {
		return false
	}
	for _, kw := range kws {
		if t.Lexeme == kw {
			return true
		}
	}
	return false
}

func (p *parser) match(tt TokenType) bool {
	if p.at(tt) {
		p.next()
		return true
	}
	return false
}

func (p *parser) matchOp(op string) bool {
	if p.atOp(op) {
		p.next()
		return true
	}
	return false
}

func (p *parser) matchKeyword(kw string) bool {
	if p.atKeyword(kw) {
		p.next()
		return true
	}
	return false
}

func (p *parser) needOp(op string) error {
	if !p.matchOp(op) {
		return p.errAt(p.peek(), "expected %q, found %s", op, p.peek())
	}
	return nil
}

func (p *parser) needKeyword(kw string) error {
	if !p.matchKeyword(kw) {
		return p.errAt(p.peek(), "expected %q, found %s", kw, p.peek())
	}
	return nil
}

func (p *parser) needName() (string, error) {
	t := p.peek()
	if t.Type != NAME {
		return "", p.errAt(t, "expected a name, found %s", t)
	}
	p.next()
	return t.Lexeme, nil
}

func (p *parser) errAt(t Token, format string, args ...any) *Error {
	return errorf(t.Line, t.Col, format, args...)
}

// statement parses one logical line or compound statement. Simple
// statements separated by ';' yield several results.
func (p *parser) statement() ([]stmt, error) {
	t := p.peek()
	if t.Type == KEYWORD {
		if msg, bad := forbiddenStmt[t.Lexeme]; bad {
			return nil, p.errAt(t, "%s", msg)
		}
		switch t.Lexeme {
		case "if":
			s, err := p.ifStatement()
			return []stmt{s}, err
		case "for":
			s, err := p.forStatement()
			return []stmt{s}, err
		case "class":
			s, err := p.classStatement()
			return []stmt{s}, err
		case "elif", "else":
			return nil, p.errAt(t, "%q without a matching if", t.Lexeme)
		}
	}
	return p.simpleLine()
}

func (p *parser) simpleLine() ([]stmt, error) {
	var out []stmt
	for {
		s, err := p.simpleStatement()
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, s)
		}
		if !p.matchOp(";") {
			break
		}
		if p.at(NEWLINE) || p.at(EOF) {
			break
		}
	}
	if !p.match(NEWLINE) && !p.at(EOF) {
		return nil, p.errAt(p.peek(), "unexpected %s after statement", p.peek())
	}
	return out, nil
}

func (p *parser) simpleStatement() (stmt, error) {
	t := p.peek()
	if t.Type == KEYWORD {
		if msg, bad := forbiddenStmt[t.Lexeme]; bad {
			return nil, p.errAt(t, "%s", msg)
		}
		switch t.Lexeme {
		case "pass":
			p.next()
			return &passStmt{pos{t.Line}}, nil
		case "raise":
			p.next()
			if p.at(NEWLINE) || p.at(EOF) || p.atOp(";") {
				return nil, p.errAt(t, "raise needs an error value")
			}
			x, err := p.test()
			if err != nil {
				return nil, err
			}
			if p.atKeyword("from") {
				return nil, p.errAt(p.peek(), "raise ... from is not supported")
			}
			return &raiseStmt{pos{t.Line}, x}, nil
		case "if", "for", "class", "elif", "else":
			return nil, p.errAt(t, "%q must start its own line", t.Lexeme)
		}
	}

	lhs, err := p.exprList()
	if err != nil {
		return nil, err
	}

	if p.atOp(":") {
		// Annotated assignment: the annotation is accepted and ignored.
		p.next()
		if _, err := p.test(); err != nil {
			return nil, err
		}
		if !p.atOp("=") {
			return nil, p.errAt(t, "annotations without a value are only allowed in classes")
		}
	}

	if p.atOp("=") {
		p.next()
		rhs, err := p.exprList()
		if err != nil {
			return nil, err
		}
		if p.atOp("=") {
			return nil, p.errAt(p.peek(), "chained assignment is not supported")
		}
		names, tuple, err := p.assignTargets(lhs, t)
		if err != nil {
			return nil, err
		}
		return &assignStmt{pos: pos{t.Line}, Targets: names, Tuple: tuple, Value: rhs}, nil
	}

	if op := p.peek(); op.Type == OP && strings.HasSuffix(op.Lexeme, "=") && len(op.Lexeme) >= 2 &&
		op.Lexeme != "==" && op.Lexeme != "!=" && op.Lexeme != "<=" && op.Lexeme != ">=" {
		p.next()
		if op.Lexeme == ":=" {
			return nil, p.errAt(op, "assignment expressions are not supported")
		}
		name, ok := lhs.(*plan.Name)
		if !ok {
			return nil, p.errAt(t, "augmented assignment needs a plain name on the left")
		}
		if op.Lexeme == "@=" {
			return nil, p.errAt(op, "matrix multiplication is not supported")
		}
		rhs, err := p.test()
		if err != nil {
			return nil, err
		}
		return &augAssignStmt{pos: pos{t.Line}, Target: name.ID, Op: strings.TrimSuffix(op.Lexeme, "="), Value: rhs}, nil
	}
	return &exprStmt{pos{t.Line}, lhs}, nil
}

// assignTargets validates the left side of an assignment.
func (p *parser) assignTargets(lhs plan.Expr, at Token) ([]string, bool, error) {
	switch n := lhs.(type) {
	case *plan.Name:
		return []string{n.ID}, false, nil
	case *plan.TupleExpr, *plan.ListExpr:
		var elts []plan.Expr
		if tu, ok := n.(*plan.TupleExpr); ok {
			elts = tu.Elts
		} else {
			elts = n.(*plan.ListExpr).Elts
		}
		names := make([]string, 0, len(elts))
		for _, e := range elts {
			nm, ok := e.(*plan.Name)
			if !ok {
				return nil, false, p.errAt(at, "only plain names can be unpacked into")
			}
			names = append(names, nm.ID)
		}
		if len(names) == 0 {
			return nil, false, p.errAt(at, "cannot assign to an empty tuple")
		}
		return names, true, nil
	case *plan.Attribute:
		return nil, false, p.errAt(at, "attribute assignment is not supported; values are immutable")
	case *plan.Index, *plan.Slice:
		return nil, false, p.errAt(at, "item assignment is not supported; values are immutable, build a new one instead")
	}
	return nil, false, p.errAt(at, "cannot assign to this expression")
}

// suite parses ':' followed by an indented block or a same-line body.
func (p *parser) suite() ([]stmt, error) {
	if err := p.needOp(":"); err != nil {
		return nil, err
	}
	if !p.match(NEWLINE) {
		return p.simpleLine()
	}
	if !p.match(INDENT) {
		return nil, p.errAt(p.peek(), "expected an indented block")
	}
	var body []stmt
	for !p.match(DEDENT) {
		if p.at(EOF) {
			break
		}
		if p.match(NEWLINE) {
			continue
		}
		ss, err := p.statement()
		if err != nil {
			return nil, err
		}
		body = append(body, ss...)
	}
	return body, nil
}

func (p *parser) ifStatement() (stmt, error) {
	t := p.next() // if or elif
	cond, err := p.test()
	if err != nil {
		return nil, err
	}
	body, err := p.suite()
	if err != nil {
		return nil, err
	}
	s := &ifStmt{pos: pos{t.Line}, Cond: cond, Body: body}
	switch {
	case p.atKeyword("elif"):
		nested, err := p.ifStatement()
		if err != nil {
			return nil, err
		}
		s.Else = []stmt{nested}
	case p.matchKeyword("else"):
		s.Else, err = p.suite()
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (p *parser) forStatement() (stmt, error) {
	t := p.next()
	targets, err := p.targetList()
	if err != nil {
		return nil, err
	}
	if err := p.needKeyword("in"); err != nil {
		return nil, err
	}
	iter, err := p.exprList()
	if err != nil {
		return nil, err
	}
	body, err := p.suite()
	if err != nil {
		return nil, err
	}
	if p.atKeyword("else") {
		return nil, p.errAt(p.peek(), "for ... else is not supported")
	}
	return &forStmt{pos: pos{t.Line}, Targets: targets, Iter: iter, Body: body}, nil
}

// targetList parses loop targets: a name or a flat tuple of names.
func (p *parser) targetList() ([]string, error) {
	paren := p.matchOp("(")
	var names []string
	for {
		if p.atOp("(", "[") {
			return nil, p.errAt(p.peek(), "nested unpacking is not supported")
		}
		n, err := p.needName()
		if err != nil {
			return nil, err
		}
		names = append(names, n)
		if !p.matchOp(",") {
			break
		}
		if p.atKeyword("in") || (paren && p.atOp(")")) {
			break
		}
	}
	if paren {
		if err := p.needOp(")"); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func (p *parser) classStatement() (stmt, error) {
	t := p.next()
	name, err := p.needName()
	if err != nil {
		return nil, err
	}
	if p.matchOp("(") {
		for !p.atOp(")") {
			if _, err := p.test(); err != nil {
				return nil, err
			}
			if !p.matchOp(",") {
				break
			}
		}
		if err := p.needOp(")"); err != nil {
			return nil, err
		}
	}
	if err := p.needOp(":"); err != nil {
		return nil, err
	}
	s := &classStmt{pos: pos{t.Line}, Name: name}
	if !p.match(NEWLINE) || !p.match(INDENT) {
		return nil, p.errAt(p.peek(), "class %s needs an indented body of field declarations", name)
	}
	for !p.match(DEDENT) && !p.at(EOF) {
		if p.match(NEWLINE) {
			continue
		}
		ft := p.peek()
		switch {
		case ft.Type == KEYWORD && ft.Lexeme == "pass":
			p.next()
		case ft.Type == STRING:
			p.next()
			if s.Doc == "" && len(s.Fields) == 0 {
				s.Doc = strings.TrimSpace(ft.Literal.(string))
			} else if len(s.Fields) > 0 && s.Fields[len(s.Fields)-1].Description == "" {
				s.Fields[len(s.Fields)-1].Description = strings.TrimSpace(ft.Literal.(string))
			}
		case ft.Type == NAME && p.peekN(1).Type == OP && p.peekN(1).Lexeme == ":":
			p.next()
			p.next()
			ann, err := p.test()
			if err != nil {
				return nil, err
			}
			f := classField{Name: ft.Lexeme, Annotation: ann, Line: ft.Line}
			if p.matchOp("=") {
				f.Default, err = p.test()
				if err != nil {
					return nil, err
				}
				f.HasDefault = true
			}
			s.Fields = append(s.Fields, f)
		default:
			return nil, p.errAt(ft, "class bodies may only declare fields as name: type")
		}
		if !p.match(NEWLINE) && !p.at(DEDENT) && !p.at(EOF) {
			return nil, p.errAt(p.peek(), "unexpected %s in class body", p.peek())
		}
	}
	return s, nil
}

// exprList parses a comma-separated expression list, producing a tuple
// when there is more than one element or a trailing comma.
func (p *parser) exprList() (plan.Expr, error) {
	first, err := p.test()
	if err != nil {
		return nil, err
	}
	if !p.atOp(",") {
		return first, nil
	}
	elts := []plan.Expr{first}
	for p.matchOp(",") {
		if p.endOfExprList() {
			break
		}
		e, err := p.test()
		if err != nil {
			return nil, err
		}
		elts = append(elts, e)
	}
	return &plan.TupleExpr{Elts: elts}, nil
}

func (p *parser) endOfExprList() bool {
	t := p.peek()
	switch t.Type {
	case NEWLINE, EOF:
		return true
	case OP:
		switch t.Lexeme {
		case "=", ")", "]", "}", ":", ";":
			return true
		}
	}
	return false
}

// test parses a conditional expression, the loosest binding expression.
func (p *parser) test() (plan.Expr, error) {
	if p.atKeyword("lambda") {
		return nil, p.errAt(p.peek(), "%s", forbiddenStmt["lambda"])
	}
	if p.atKeyword("yield", "await") {
		return nil, p.errAt(p.peek(), "%s", forbiddenStmt[p.peek().Lexeme])
	}
	x, err := p.orTest()
	if err != nil {
		return nil, err
	}
	if !p.matchKeyword("if") {
		if p.atOp(":=") {
			return nil, p.errAt(p.peek(), "assignment expressions are not supported")
		}
		return x, nil
	}
	cond, err := p.orTest()
	if err != nil {
		return nil, err
	}
	if err := p.needKeyword("else"); err != nil {
		return nil, err
	}
	alt, err := p.test()
	if err != nil {
		return nil, err
	}
	return &plan.IfExp{Cond: cond, Then: x, Else: alt}, nil
}

func (p *parser) orTest() (plan.Expr, error) {
	return p.boolChain("or", p.andTest)
}

func (p *parser) andTest() (plan.Expr, error) {
	return p.boolChain("and", p.notTest)
}

func (p *parser) boolChain(op string, operand func() (plan.Expr, error)) (plan.Expr, error) {
	x, err := operand()
	if err != nil {
		return nil, err
	}
	if !p.atKeyword(op) {
		return x, nil
	}
	values := []plan.Expr{x}
	for p.matchKeyword(op) {
		y, err := operand()
		if err != nil {
			return nil, err
		}
		values = append(values, y)
	}
	return &plan.BoolOp{Op: op, Values: values}, nil
}

func (p *parser) notTest() (plan.Expr, error) {
	if p.matchKeyword("not") {
		x, err := p.notTest()
		if err != nil {
			return nil, err
		}
		return &plan.Unary{Op: "not", X: x}, nil
	}
	return p.comparison()
}

// compOp consumes a comparison operator, if any.
func (p *parser) compOp() (string, bool) {
	t := p.peek()
	switch {
	case t.Type == OP:
		switch t.Lexeme {
		case "<", ">", "==", ">=", "<=", "!=":
			p.next()
			return t.Lexeme, true
		}
	case t.Type == KEYWORD && t.Lexeme == "in":
		p.next()
		return "in", true
	case t.Type == KEYWORD && t.Lexeme == "not" && p.peekN(1).Type == KEYWORD && p.peekN(1).Lexeme == "in":
		p.next()
		p.next()
		return "not in", true
	case t.Type == KEYWORD && t.Lexeme == "is":
		p.next()
		if p.matchKeyword("not") {
			return "is not", true
		}
		return "is", true
	}
	return "", false
}

func (p *parser) comparison() (plan.Expr, error) {
	left, err := p.binary(1)
	if err != nil {
		return nil, err
	}
	var ops []string
	var comps []plan.Expr
	for {
		op, ok := p.compOp()
		if !ok {
			break
		}
		right, err := p.binary(1)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		comps = append(comps, right)
	}
	if len(ops) == 0 {
		return left, nil
	}
	return &plan.Compare{Left: left, Ops: ops, Comparators: comps}, nil
}

// binding powers of the binary operators, loosest first.
var binaryPrec = map[string]int{
	"|":  1,
	"^":  2,
	"&":  3,
	"<<": 4, ">>": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6, "//": 6, "%": 6, "@": 6,
}

// binary is a Pratt loop over left-associative binary operators.
func (p *parser) binary(minPrec int) (plan.Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.Type != OP {
			return left, nil
		}
		prec, ok := binaryPrec[t.Lexeme]
		if !ok || prec < minPrec {
			return left, nil
		}
		if t.Lexeme == "@" {
			return nil, p.errAt(t, "matrix multiplication is not supported")
		}
		p.next()
		right, err := p.binary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &plan.Binary{Op: t.Lexeme, X: left, Y: right}
	}
}

func (p *parser) unary() (plan.Expr, error) {
	if p.atOp("-", "+", "~") {
		op := p.next().Lexeme
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if lit, ok := x.(*plan.Literal); ok && op == "-" {
			switch v := lit.Value.(type) {
			case int64:
				return &plan.Literal{Value: -v}, nil
			case float64:
				return &plan.Literal{Value: -v}, nil
			}
		}
		return &plan.Unary{Op: op, X: x}, nil
	}
	return p.power()
}

func (p *parser) power() (plan.Expr, error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}
	if !p.matchOp("**") {
		return base, nil
	}
	exp, err := p.unary()
	if err != nil {
		return nil, err
	}
	return &plan.Binary{Op: "**", X: base, Y: exp}, nil
}

func (p *parser) primary() (plan.Expr, error) {
	x, err := p.atom()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.atOp("("):
			x, err = p.call(x)
		case p.atOp("["):
			x, err = p.subscript(x)
		case p.atOp("."):
			p.next()
			var name string
			name, err = p.needName()
			if err == nil {
				x = &plan.Attribute{X: x, Name: name}
			}
		default:
			return x, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (p *parser) call(fn plan.Expr) (plan.Expr, error) {
	open := p.next()
	c := &plan.Call{Func: fn}
	seen := map[string]bool{}
	for !p.atOp(")") {
		if p.atOp("*", "**") {
			return nil, p.errAt(p.peek(), "star arguments are not supported")
		}
		if p.peek().Type == NAME && p.peekN(1).Type == OP && p.peekN(1).Lexeme == "=" {
			name := p.next().Lexeme
			p.next()
			if seen[name] {
				return nil, p.errAt(open, "keyword argument %q repeated", name)
			}
			seen[name] = true
			v, err := p.test()
			if err != nil {
				return nil, err
			}
			c.Kwargs = append(c.Kwargs, plan.Keyword{Name: name, Value: v})
		} else {
			if len(c.Kwargs) > 0 {
				return nil, p.errAt(p.peek(), "positional argument follows keyword argument")
			}
			v, err := p.test()
			if err != nil {
				return nil, err
			}
			if p.atKeyword("for") {
				return nil, p.errAt(p.peek(), "generator expressions are not supported; use a list comprehension")
			}
			c.Args = append(c.Args, v)
		}
		if !p.matchOp(",") {
			break
		}
	}
	if err := p.needOp(")"); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *parser) subscript(x plan.Expr) (plan.Expr, error) {
	p.next()
	var parts [3]plan.Expr
	n := 0
	isSlice := false
	for {
		if !p.atOp(":", "]") {
			e, err := p.test()
			if err != nil {
				return nil, err
			}
			parts[n] = e
		}
		if !p.matchOp(":") {
			break
		}
		isSlice = true
		n++
		if n > 2 {
			return nil, p.errAt(p.peek(), "invalid slice")
		}
	}
	if !isSlice && p.atOp(",") {
		elts := []plan.Expr{parts[0]}
		for p.matchOp(",") {
			if p.atOp("]") {
				break
			}
			e, err := p.test()
			if err != nil {
				return nil, err
			}
			elts = append(elts, e)
		}
		parts[0] = &plan.TupleExpr{Elts: elts}
	}
	if err := p.needOp("]"); err != nil {
		return nil, err
	}
	if isSlice {
		return &plan.Slice{X: x, Lo: parts[0], Hi: parts[1], Step: parts[2]}, nil
	}
	if parts[0] == nil {
		return nil, p.errAt(p.peek(), "empty subscript")
	}
	return &plan.Index{X: x, Index: parts[0]}, nil
}

func (p *parser) atom() (plan.Expr, error) {
	t := p.peek()
	switch t.Type {
	case NAME:
		p.next()
		return &plan.Name{ID: t.Lexeme}, nil
	case INT, FLOAT:
		p.next()
		return &plan.Literal{Value: t.Literal}, nil
	case STRING, FSTRING:
		return p.stringAtom()
	case KEYWORD:
		switch t.Lexeme {
		case "True":
			p.next()
			return &plan.Literal{Value: true}, nil
		case "False":
			p.next()
			return &plan.Literal{Value: false}, nil
		case "None":
			p.next()
			return &plan.Literal{Value: nil}, nil
		}
		if msg, bad := forbiddenStmt[t.Lexeme]; bad {
			return nil, p.errAt(t, "%s", msg)
		}
		return nil, p.errAt(t, "unexpected keyword %q", t.Lexeme)
	case OP:
		switch t.Lexeme {
		case "(":
			return p.parenAtom()
		case "[":
			return p.listAtom()
		case "{":
			return p.braceAtom()
		case "...":
			return nil, p.errAt(t, "ellipsis is not supported")
		}
	case NEWLINE, EOF:
		return nil, p.errAt(t, "unexpected end of line, expected an expression")
	case INDENT:
		return nil, p.errAt(t, "unexpected indent")
	}
	return nil, p.errAt(t, "unexpected %s", t)
}

// stringAtom joins adjacent string literals, expanding f-strings.
func (p *parser) stringAtom() (plan.Expr, error) {
	var parts []plan.Expr
	var lit strings.Builder
	hasLit := false
	flush := func() {
		if hasLit {
			parts = append(parts, &plan.Literal{Value: lit.String()})
			lit.Reset()
			hasLit = false
		}
	}
	for p.at(STRING) || p.at(FSTRING) {
		t := p.next()
		if t.Type == STRING {
			lit.WriteString(t.Literal.(string))
			hasLit = true
			continue
		}
		segs, err := expandFString(t)
		if err != nil {
			return nil, err
		}
		for _, s := range segs {
			if l, ok := s.(*plan.Literal); ok {
				lit.WriteString(l.Value.(string))
				hasLit = true
				continue
			}
			flush()
			parts = append(parts, s)
		}
	}
	flush()
	if len(parts) == 0 {
		return &plan.Literal{Value: ""}, nil
	}
	out := parts[0]
	for _, s := range parts[1:] {
		out = &plan.Binary{Op: "+", X: out, Y: s}
	}
	return out, nil
}

// expandFString splits an f-string into literal text and str()/repr()
// calls over the replacement fields.
func expandFString(t Token) ([]plan.Expr, error) {
	body := t.Literal.(string)
	var out []plan.Expr
	var lit strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '{' && i+1 < len(body) && body[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(body) && body[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '}':
			return nil, errorf(t.Line, t.Col, "single '}' is not allowed in f-string")
		case c == '{':
			depth, j := 1, i+1
			for ; j < len(body) && depth > 0; j++ {
				switch body[j] {
				case '{', '[', '(':
					depth++
				case '}', ']', ')':
					depth--
				}
			}
			if depth != 0 {
				return nil, errorf(t.Line, t.Col, "unterminated replacement field in f-string")
			}
			field := body[i+1 : j-1]
			conv := "str"
			if k := strings.LastIndex(field, "!"); k >= 0 && k+2 == len(field) && (field[k+1] == 'r' || field[k+1] == 's') {
				if field[k+1] == 'r' {
					conv = "repr"
				}
				field = field[:k]
			}
			if strings.Contains(field, ":") && !strings.ContainsAny(field, "[{(") {
				return nil, errorf(t.Line, t.Col, "format specifications in f-strings are not supported")
			}
			if strings.TrimSpace(field) == "" {
				return nil, errorf(t.Line, t.Col, "empty expression in f-string")
			}
			e, err := parseExpression(field, t.Line)
			if err != nil {
				return nil, err
			}
			if lit.Len() > 0 {
				out = append(out, &plan.Literal{Value: lit.String()})
				lit.Reset()
			}
			out = append(out, &plan.Call{Func: &plan.Name{ID: conv}, Args: []plan.Expr{e}})
			i = j - 1
		default:
			lit.WriteByte(c)
		}
	}
	if lit.Len() > 0 {
		out = append(out, &plan.Literal{Value: lit.String()})
	}
	return out, nil
}

func (p *parser) parenAtom() (plan.Expr, error) {
	p.next()
	if p.matchOp(")") {
		return &plan.TupleExpr{}, nil
	}
	first, err := p.test()
	if err != nil {
		return nil, err
	}
	if p.atKeyword("for") {
		return nil, p.errAt(p.peek(), "generator expressions are not supported; use a list comprehension")
	}
	if p.matchOp(")") {
		return first, nil
	}
	elts := []plan.Expr{first}
	for p.matchOp(",") {
		if p.atOp(")") {
			break
		}
		e, err := p.test()
		if err != nil {
			return nil, err
		}
		elts = append(elts, e)
	}
	if err := p.needOp(")"); err != nil {
		return nil, err
	}
	return &plan.TupleExpr{Elts: elts}, nil
}

func (p *parser) listAtom() (plan.Expr, error) {
	p.next()
	if p.matchOp("]") {
		return &plan.ListExpr{}, nil
	}
	first, err := p.test()
	if err != nil {
		return nil, err
	}
	if p.atKeyword("for") {
		clauses, err := p.compClauses()
		if err != nil {
			return nil, err
		}
		if err := p.needOp("]"); err != nil {
			return nil, err
		}
		return &plan.Comprehension{Kind: plan.CompList, Elt: first, Clauses: clauses}, nil
	}
	elts := []plan.Expr{first}
	for p.matchOp(",") {
		if p.atOp("]") {
			break
		}
		e, err := p.test()
		if err != nil {
			return nil, err
		}
		elts = append(elts, e)
	}
	if err := p.needOp("]"); err != nil {
		return nil, err
	}
	return &plan.ListExpr{Elts: elts}, nil
}

func (p *parser) braceAtom() (plan.Expr, error) {
	p.next()
	if p.matchOp("}") {
		return &plan.DictExpr{}, nil
	}
	if p.atOp("**") {
		return nil, p.errAt(p.peek(), "dict unpacking is not supported")
	}
	first, err := p.test()
	if err != nil {
		return nil, err
	}
	if p.matchOp(":") {
		val, err := p.test()
		if err != nil {
			return nil, err
		}
		if p.atKeyword("for") {
			clauses, err := p.compClauses()
			if err != nil {
				return nil, err
			}
			if err := p.needOp("}"); err != nil {
				return nil, err
			}
			return &plan.Comprehension{Kind: plan.CompDict, Key: first, Value: val, Clauses: clauses}, nil
		}
		d := &plan.DictExpr{Keys: []plan.Expr{first}, Values: []plan.Expr{val}}
		for p.matchOp(",") {
			if p.atOp("}") {
				break
			}
			k, err := p.test()
			if err != nil {
				return nil, err
			}
			if err := p.needOp(":"); err != nil {
				return nil, err
			}
			v, err := p.test()
			if err != nil {
				return nil, err
			}
			d.Keys = append(d.Keys, k)
			d.Values = append(d.Values, v)
		}
		if err := p.needOp("}"); err != nil {
			return nil, err
		}
		return d, nil
	}
	if p.atKeyword("for") {
		clauses, err := p.compClauses()
		if err != nil {
			return nil, err
		}
		if err := p.needOp("}"); err != nil {
			return nil, err
		}
		return &plan.Comprehension{Kind: plan.CompSet, Elt: first, Clauses: clauses}, nil
	}
	elts := []plan.Expr{first}
	for p.matchOp(",") {
		if p.atOp("}") {
			break
		}
		e, err := p.test()
		if err != nil {
			return nil, err
		}
		elts = append(elts, e)
	}
	if err := p.needOp("}"); err != nil {
		return nil, err
	}
	return &plan.SetExpr{Elts: elts}, nil
}

func (p *parser) compClauses() ([]plan.CompClause, error) {
	var clauses []plan.CompClause
	for p.atKeyword("for") {
		p.next()
		targets, err := p.targetList()
		if err != nil {
			return nil, err
		}
		if err := p.needKeyword("in"); err != nil {
			return nil, err
		}
		iter, err := p.orTest()
		if err != nil {
			return nil, err
		}
		c := plan.CompClause{Targets: targets, Iter: iter}
		for p.matchKeyword("if") {
			cond, err := p.orTest()
			if err != nil {
				return nil, err
			}
			c.Ifs = append(c.Ifs, cond)
		}
		clauses = append(clauses, c)
	}
	return clauses, nil
}
