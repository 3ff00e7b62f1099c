package lang

import (
	"fmt"

	"github.com/mr-martian/rebabel-format/internal/store"
	"github.com/mr-martian/rebabel-format/pkg/query"
)

// Parser is a precedence-climbing parser over the mini-language's
// fixed operator table:
//
//	7  .  has
//	6  *  /  %
//	5  +  -
//	4  contains startswith endswith parent child
//	3  =  ==  !=  <  <=  >  >=
//	2  (unary) not
//	1  and
//	0  or
type Parser struct {
	tokens []Token
	pos    int
}

// UnitDecl is a `unit NAME TYPE` declaration line, registering NAME as
// a Unit of TYPE for subsequent barewords in the same query text to
// resolve against, per the textual mini-language's unit-declaration
// grammar.
type UnitDecl struct {
	Name string
	Type string
}

// Parse tokenizes and parses src into a single root Condition. A line
// whose first token is the bareword "unit" is instead parsed as a unit
// declaration; Parse then returns a nil Condition and discards the
// declaration (ParseLine returns it).
func Parse(src string) (cond *query.Condition, err error) {
	cond, _, err = ParseLine(src)
	return cond, err
}

// ParseLine is Parse's full form, also returning a non-nil decl when
// src is a `unit NAME TYPE` declaration rather than a condition.
func ParseLine(src string) (*query.Condition, *UnitDecl, error) {
	tokens, err := Tokenize(src)
	if err != nil {
		return nil, nil, &store.QueryParseError{Reason: err.Error()}
	}
	p := &Parser{tokens: tokens}
	if p.peek().Kind == TokIdent && p.peek().Text == "unit" {
		decl, err := p.parseUnitDecl()
		if err != nil {
			return nil, nil, err
		}
		return nil, decl, nil
	}
	cond, err := p.parseExpr(0)
	if err != nil {
		return nil, nil, err
	}
	if p.peek().Kind != TokEOF {
		tok := p.peek()
		switch tok.Kind {
		case TokString, TokNumber, TokIdent, TokLParen:
			return nil, nil, &store.QueryParseError{Line: tok.Line, Reason: fmt.Sprintf("Expected operator before %q", tok.Text)}
		default:
			return nil, nil, &store.QueryParseError{Line: tok.Line, Reason: fmt.Sprintf("unexpected token %q", tok.Text)}
		}
	}
	return cond, nil, nil
}

// parseUnitDecl parses `unit NAME TYPE` after "unit" has been peeked
// but not consumed. Missing NAME or TYPE is a QueryParseError naming
// the missing element.
func (p *Parser) parseUnitDecl() (*UnitDecl, error) {
	unitTok := p.advance() // "unit"
	if p.peek().Kind != TokIdent {
		return nil, &store.QueryParseError{Line: unitTok.Line, Reason: "Missing unit name"}
	}
	nameTok := p.advance()
	if p.peek().Kind != TokIdent {
		return nil, &store.QueryParseError{Line: nameTok.Line, Reason: "Missing unit type"}
	}
	typeTok := p.advance()
	if p.peek().Kind != TokEOF {
		tok := p.peek()
		return nil, &store.QueryParseError{Line: tok.Line, Reason: fmt.Sprintf("unexpected token %q after unit declaration", tok.Text)}
	}
	return &UnitDecl{Name: nameTok.Text, Type: typeTok.Text}, nil
}

func (p *Parser) peek() Token  { return p.tokens[p.pos] }
func (p *Parser) advance() Token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

// level 0 = or, 1 = and, 2 = unary not, 3 = comparisons,
// 4 = contains/startswith/endswith/parent/child, 5 = +/-, 6 = * / %,
// 7 = . / has.
const maxLevel = 7

func (p *Parser) parseExpr(minLevel int) (*query.Condition, error) {
	if minLevel > maxLevel {
		return p.parsePrimary()
	}
	if minLevel == 2 {
		if p.peek().Kind == TokNot {
			p.advance()
			operand, err := p.parseExpr(2)
			if err != nil {
				return nil, err
			}
			return query.Not(operand), nil
		}
		return p.parseExpr(3)
	}

	left, err := p.parseExpr(minLevel + 1)
	if err != nil {
		return nil, err
	}
	for {
		kind := p.peek().Kind
		ctor, ok := binaryAt(minLevel, kind)
		if !ok {
			return left, nil
		}
		tok := p.advance()
		right, err := p.parseExpr(minLevel + 1)
		if err != nil {
			return nil, err
		}
		left, err = ctor(left, right, tok)
		if err != nil {
			return nil, err
		}
	}
}

type binaryCtor func(l, r *query.Condition, tok Token) (*query.Condition, error)

func plain(fn func(l, r *query.Condition) *query.Condition) binaryCtor {
	return func(l, r *query.Condition, _ Token) (*query.Condition, error) { return fn(l, r), nil }
}

func binaryAt(level int, kind TokenKind) (binaryCtor, bool) {
	switch level {
	case 0:
		if kind == TokOr {
			return plain(query.Or), true
		}
	case 1:
		if kind == TokAnd {
			return plain(query.And), true
		}
	case 3:
		switch kind {
		case TokEq:
			return plain(query.Eq), true
		case TokNeq:
			return plain(query.Neq), true
		case TokLt:
			return plain(query.Lt), true
		case TokLte:
			return plain(query.Lte), true
		case TokGt:
			return plain(query.Gt), true
		case TokGte:
			return plain(query.Gte), true
		}
	case 4:
		switch kind {
		case TokContains:
			return plain(query.Contains), true
		case TokStartsWith:
			return plain(query.StartsWith), true
		case TokEndsWith:
			return plain(query.EndsWith), true
		case TokParent:
			return relationCtor(true), true
		case TokChild:
			return relationCtor(false), true
		}
	case 5:
		switch kind {
		case TokPlus:
			return plain(query.Add), true
		case TokMinus:
			return plain(query.Sub), true
		}
	case 6:
		switch kind {
		case TokStar:
			return plain(query.Mul), true
		case TokSlash:
			return plain(query.Div), true
		case TokPercent:
			return plain(query.Mod), true
		}
	case 7:
		switch kind {
		case TokDot:
			return featureAccessCtor, true
		case TokHas:
			return existsCtor, true
		}
	}
	return nil, false
}

// relationCtor builds a "unit parent other"/"unit child other"
// Condition. Both operands must be bare unit-variable references
// (OpLiteral leaves holding an identLiteral, as parsePrimary builds
// them for identifier tokens).
func relationCtor(isParent bool) binaryCtor {
	return func(l, r *query.Condition, tok Token) (*query.Condition, error) {
		lname, err := identName(l, tok)
		if err != nil {
			return nil, err
		}
		rname, err := identName(r, tok)
		if err != nil {
			return nil, err
		}
		if isParent {
			return query.Parent(lname, rname), nil
		}
		return query.Child(lname, rname), nil
	}
}

func featureAccessCtor(l, r *query.Condition, tok Token) (*query.Condition, error) {
	unitName, err := identName(l, tok)
	if err != nil {
		return nil, err
	}
	featureName, err := identName(r, tok)
	if err != nil {
		return nil, err
	}
	return query.FeatureOf(unitName, featureName), nil
}

func existsCtor(l, r *query.Condition, tok Token) (*query.Condition, error) {
	unitName, err := identName(l, tok)
	if err != nil {
		return nil, err
	}
	featureName, err := identName(r, tok)
	if err != nil {
		return nil, err
	}
	return query.Exists(unitName, featureName), nil
}

// identName extracts the bare identifier text a primary expression was
// parsed from. Only OpLiteral leaves holding a string produced by an
// identifier primary are valid here; anything else is a parse error at
// tok's line.
func identName(c *query.Condition, tok Token) (string, error) {
	if c.Op != query.OpLiteral {
		return "", &store.QueryParseError{Line: tok.Line, Reason: "expected a bare identifier operand"}
	}
	s, ok := c.Value.(identLiteral)
	if !ok {
		return "", &store.QueryParseError{Line: tok.Line, Reason: "expected a bare identifier operand"}
	}
	return string(s), nil
}

// identLiteral marks a Literal Condition as having come from a raw
// identifier token rather than a string/number literal, so
// featureAccessCtor/existsCtor/relationCtor can recover the name.
type identLiteral string

func (p *Parser) parsePrimary() (*query.Condition, error) {
	tok := p.peek()
	switch tok.Kind {
	case TokLParen:
		p.advance()
		inner, err := p.parseExpr(0)
		if err != nil {
			return nil, err
		}
		if p.peek().Kind != TokRParen {
			return nil, &store.QueryParseError{Line: p.peek().Line, Reason: "expected ')'"}
		}
		p.advance()
		return inner, nil
	case TokNumber:
		p.advance()
		return query.Literal(tok.Num), nil
	case TokString:
		p.advance()
		return query.Literal(tok.Text), nil
	case TokIdent:
		p.advance()
		return query.Literal(identLiteral(tok.Text)), nil
	case TokNot:
		// NOT only binds at level 2, negating a whole condition; by
		// the time parsePrimary is reached (level 8) a value was
		// expected instead, as happens on either side of a
		// comparison operator.
		return nil, &store.QueryParseError{Line: tok.Line, Reason: "Cannot negate value: NOT applies to conditions, not comparison operands"}
	default:
		return nil, &store.QueryParseError{Line: tok.Line, Reason: fmt.Sprintf("unexpected token %q", tok.Text)}
	}
}
