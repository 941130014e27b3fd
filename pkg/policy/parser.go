package policy

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// The raw grammar mirrors spec's fixed grammar:
//
//	expr := expr (and|or) expr | not expr | term == term | term contains term | ( expr )
//	term := label | global "." ns ":" prop | ns ":" prop ":" attr
//
// Precedence is encoded structurally: or binds loosest, then and, then not,
// then comparison/parenthesized atoms.

type rawTerm struct {
	Pos    lexer.Position
	Global *string  `(  @("Subject" | "Resource") "."  )?`
	Path   []string `@Ident (":" @Ident)*`
}

type rawCompare struct {
	Pos   lexer.Position
	Left  *rawTerm `@@`
	Op    *string  `( @("==" | "contains")`
	Right *rawTerm `  @@ )?`
}

type rawUnary struct {
	Not bool        `@"not"?`
	Cmp *rawCompare `(   @@`
	Sub *rawOrExpr  `  | "(" @@ ")" )`
}

type rawAndExpr struct {
	Left *rawUnary   `@@`
	Rest []*rawUnary `("and" @@)*`
}

type rawOrExpr struct {
	Left *rawAndExpr   `@@`
	Rest []*rawAndExpr `("or" @@)*`
}

type rawPolicy struct {
	Expr *rawOrExpr `@@`
}

var policyLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_-]*`},
	{Name: "Op", Pattern: `==|[().:]`},
})

var policyParser = participle.MustBuild[rawPolicy](
	participle.Lexer(policyLexer),
	participle.Elide("Whitespace"),
	participle.UseLookahead(2),
)

func parseRaw(source string) (*rawPolicy, error) {
	return policyParser.ParseString("", source)
}
