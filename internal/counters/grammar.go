package counters

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Grammar of derived counter expressions:
//
//	expr       := term (("+" | "-") term)*
//	term       := factor (("*" | "/") factor)*
//	factor     := reduce | select | accumulate | INT | ref | "(" expr ")"
//	reduce     := "reduce" "(" expr "," OP ["," "[" DIM ("," DIM)* "]"] ")"
//	select     := "select" "(" expr "," "[" DIM "=" INT[":" INT] ("," ...)* "]" ")"
//	accumulate := "accumulate" "(" NAME "," RES ")"
//	ref        := NAME ["[" INT [":" INT] "]"]
var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Punct", Pattern: `[-+*/()\[\],=:]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

type exprAST struct {
	Left  *termAST  `parser:"@@"`
	Right []*opTerm `parser:"@@*"`
}

type opTerm struct {
	Op   string   `parser:"@(\"+\" | \"-\")"`
	Term *termAST `parser:"@@"`
}

type termAST struct {
	Left  *factorAST  `parser:"@@"`
	Right []*opFactor `parser:"@@*"`
}

type opFactor struct {
	Op     string     `parser:"@(\"*\" | \"/\")"`
	Factor *factorAST `parser:"@@"`
}

type factorAST struct {
	Reduce     *reduceAST     `parser:"  @@"`
	Select     *selectAST     `parser:"| @@"`
	Accumulate *accumulateAST `parser:"| @@"`
	Number     *int64         `parser:"| @Int"`
	Ref        *refAST        `parser:"| @@"`
	Sub        *exprAST       `parser:"| \"(\" @@ \")\""`
}

type reduceAST struct {
	Expr *exprAST `parser:"\"reduce\" \"(\" @@ \",\""`
	Op   string   `parser:"@Ident"`
	Dims []string `parser:"( \",\" \"[\" @Ident ( \",\" @Ident )* \"]\" )? \")\""`
}

type selectAST struct {
	Expr *exprAST     `parser:"\"select\" \"(\" @@ \",\" \"[\""`
	Dims []*selDimAST `parser:"@@ ( \",\" @@ )* \"]\" \")\""`
}

type selDimAST struct {
	Dim string  `parser:"@Ident \"=\""`
	Lo  string  `parser:"@Int"`
	Hi  *string `parser:"( \":\" @Int )?"`
}

type accumulateAST struct {
	Name string `parser:"\"accumulate\" \"(\" @Ident \",\""`
	Op   string `parser:"@Ident \")\""`
}

type refAST struct {
	Name  string    `parser:"@Ident"`
	Range *rangeAST `parser:"( \"[\" @@ \"]\" )?"`
}

type rangeAST struct {
	Lo string  `parser:"@Int"`
	Hi *string `parser:"( \":\" @Int )?"`
}

var exprParser = participle.MustBuild[exprAST](
	participle.Lexer(exprLexer),
	participle.Elide("Whitespace"),
	participle.UseLookahead(2),
)

// ParseExpression turns a derived counter expression into an AST. Unknown
// dimensions and malformed selectors are rejected here.
func ParseExpression(src string) (*Node, error) {
	parsed, err := exprParser.ParseString("", src)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	return parsed.toNode()
}

func (e *exprAST) toNode() (*Node, error) {
	left, err := e.Left.toNode()
	if err != nil {
		return nil, err
	}
	for _, r := range e.Right {
		right, err := r.Term.toNode()
		if err != nil {
			return nil, err
		}
		kind := NodeAddition
		if r.Op == "-" {
			kind = NodeSubtraction
		}
		if left, err = NewBinaryNode(kind, left, right); err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (t *termAST) toNode() (*Node, error) {
	left, err := t.Left.toNode()
	if err != nil {
		return nil, err
	}
	for _, r := range t.Right {
		right, err := r.Factor.toNode()
		if err != nil {
			return nil, err
		}
		kind := NodeMultiply
		if r.Op == "/" {
			kind = NodeDivide
		}
		if left, err = NewBinaryNode(kind, left, right); err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (f *factorAST) toNode() (*Node, error) {
	switch {
	case f.Reduce != nil:
		child, err := f.Reduce.Expr.toNode()
		if err != nil {
			return nil, err
		}
		return NewReduceNode(child, f.Reduce.Op, f.Reduce.Dims)
	case f.Select != nil:
		child, err := f.Select.Expr.toNode()
		if err != nil {
			return nil, err
		}
		dims := make(map[string]string, len(f.Select.Dims))
		for _, d := range f.Select.Dims {
			dims[d.Dim] = joinBounds(d.Lo, d.Hi)
		}
		return NewSelectNode(child, dims)
	case f.Accumulate != nil:
		return NewAccumulateNode(f.Accumulate.Name, f.Accumulate.Op)
	case f.Number != nil:
		return NewNumberNode(*f.Number), nil
	case f.Ref != nil:
		n := NewReferenceNode(f.Ref.Name)
		if f.Ref.Range != nil {
			r, err := NewRangeNode(joinBounds(f.Ref.Range.Lo, f.Ref.Range.Hi))
			if err != nil {
				return nil, err
			}
			n.Range = r
		}
		return n, nil
	case f.Sub != nil:
		return f.Sub.toNode()
	}
	return nil, fmt.Errorf("%w: empty factor", ErrMalformedNode)
}

func joinBounds(lo string, hi *string) string {
	if hi == nil {
		return lo
	}
	return lo + ":" + *hi
}
