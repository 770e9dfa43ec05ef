package plan

// Expr is a side-effect-free expression. Tool and model calls never appear
// inside expressions; they are always their own steps.
type Expr interface {
	expr()
}

// Literal is None, a bool, an int64, a float64 or a string.
type Literal struct {
	Value any
}

// Name references a variable or builtin.
type Name struct {
	ID string
}

// Attribute is X.Name. On dicts it reads the key Name.
type Attribute struct {
	X    Expr
	Name string
}

// Index is X[Index].
type Index struct {
	X     Expr
	Index Expr
}

// Slice is X[Lo:Hi:Step]; absent bounds are nil.
type Slice struct {
	X            Expr
	Lo, Hi, Step Expr
}

// Keyword is a name=value call argument.
type Keyword struct {
	Name  string
	Value Expr
}

// Call invokes a builtin (Func is a Name) or a method (Func is an Attribute).
type Call struct {
	Func   Expr
	Args   []Expr
	Kwargs []Keyword
}

// Unary is "-", "+", "not" or "~" applied to X.
type Unary struct {
	Op string
	X  Expr
}

// Binary is an arithmetic or bitwise operator.
type Binary struct {
	Op   string
	X, Y Expr
}

// BoolOp is a chain of "and" or "or".
type BoolOp struct {
	Op     string
	Values []Expr
}

// Compare is a possibly chained comparison: Left Ops[0] Comparators[0] ...
type Compare struct {
	Left        Expr
	Ops         []string
	Comparators []Expr
}

// IfExp is Then if Cond else Else.
type IfExp struct {
	Cond, Then, Else Expr
}

// ListExpr is [a, b].
type ListExpr struct{ Elts []Expr }

// TupleExpr is (a, b).
type TupleExpr struct{ Elts []Expr }

// SetExpr is {a, b}.
type SetExpr struct{ Elts []Expr }

// DictExpr is {k: v}.
type DictExpr struct {
	Keys   []Expr
	Values []Expr
}

// CompKind selects the container a comprehension builds.
type CompKind string

const (
	CompList CompKind = "list"
	CompSet  CompKind = "set"
	CompDict CompKind = "dict"
)

// CompClause is one "for targets in iter if ..." clause.
type CompClause struct {
	Targets []string
	Iter    Expr
	Ifs     []Expr
}

// Comprehension builds a list, set or dict. Dict comprehensions use Key and
// Value; the others use Elt.
type Comprehension struct {
	Kind       CompKind
	Elt        Expr
	Key, Value Expr
	Clauses    []CompClause
}

func (*Literal) expr()       {}
func (*Name) expr()          {}
func (*Attribute) expr()     {}
func (*Index) expr()         {}
func (*Slice) expr()         {}
func (*Call) expr()          {}
func (*Unary) expr()         {}
func (*Binary) expr()        {}
func (*BoolOp) expr()        {}
func (*Compare) expr()       {}
func (*IfExp) expr()         {}
func (*ListExpr) expr()      {}
func (*TupleExpr) expr()     {}
func (*SetExpr) expr()       {}
func (*DictExpr) expr()      {}
func (*Comprehension) expr() {}

// WalkExpr visits e and its subexpressions depth-first. Returning false from
// fn skips the children of that node.
func WalkExpr(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *Attribute:
		WalkExpr(n.X, fn)
	case *Index:
		WalkExpr(n.X, fn)
		WalkExpr(n.Index, fn)
	case *Slice:
		WalkExpr(n.X, fn)
		WalkExpr(n.Lo, fn)
		WalkExpr(n.Hi, fn)
		WalkExpr(n.Step, fn)
	case *Call:
		WalkExpr(n.Func, fn)
		for _, a := range n.Args {
			WalkExpr(a, fn)
		}
		for _, k := range n.Kwargs {
			WalkExpr(k.Value, fn)
		}
	case *Unary:
		WalkExpr(n.X, fn)
	case *Binary:
		WalkExpr(n.X, fn)
		WalkExpr(n.Y, fn)
	case *BoolOp:
		for _, v := range n.Values {
			WalkExpr(v, fn)
		}
	case *Compare:
		WalkExpr(n.Left, fn)
		for _, c := range n.Comparators {
			WalkExpr(c, fn)
		}
	case *IfExp:
		WalkExpr(n.Cond, fn)
		WalkExpr(n.Then, fn)
		WalkExpr(n.Else, fn)
	case *ListExpr:
		for _, x := range n.Elts {
			WalkExpr(x, fn)
		}
	case *TupleExpr:
		for _, x := range n.Elts {
			WalkExpr(x, fn)
		}
	case *SetExpr:
		for _, x := range n.Elts {
			WalkExpr(x, fn)
		}
	case *DictExpr:
		for i := range n.Keys {
			WalkExpr(n.Keys[i], fn)
			WalkExpr(n.Values[i], fn)
		}
	case *Comprehension:
		for _, c := range n.Clauses {
			WalkExpr(c.Iter, fn)
			for _, f := range c.Ifs {
				WalkExpr(f, fn)
			}
		}
		WalkExpr(n.Elt, fn)
		WalkExpr(n.Key, fn)
		WalkExpr(n.Value, fn)
	}
}
