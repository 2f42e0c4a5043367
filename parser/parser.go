// Package parser turns a corpusql token stream into an ast.Query (spec
// §4.1). It is a hand-written recursive-descent parser grounded on the
// teacher's datalog/parser/parser.go: a parser struct holding a token
// slice and a cursor, one parseX method per grammar production, and
// errors reported with source position.
package parser

import (
	"strconv"
	"strings"
	"time"

	"github.com/wbrown/corpusql/ast"
	"github.com/wbrown/corpusql/corpqlerr"
	"github.com/wbrown/corpusql/lexer"
)

// Parse lexes and parses input into a Query AST, or returns the first
// *corpqlerr.ParseError encountered (spec §4.1 contract).
func Parse(input string) (*ast.Query, error) {
	toks, err := lexer.Lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: toks}
	return p.parseQuery()
}

type parser struct {
	tokens []lexer.Token
	pos    int
}

func (p *parser) cur() lexer.Token {
	if p.pos >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1] // EOF
	}
	return p.tokens[p.pos]
}

func (p *parser) advance() lexer.Token {
	tok := p.cur()
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *parser) errAt(tok lexer.Token, format string, args ...interface{}) error {
	return corpqlerr.NewParseError(tok.Line, tok.Col, format, args...)
}

func (p *parser) peekIsEQ() bool {
	if p.pos+1 >= len(p.tokens) {
		return false
	}
	return p.tokens[p.pos+1].Type == lexer.TokenEQ
}

func (p *parser) expectKeyword(kw string) (lexer.Token, error) {
	tok := p.cur()
	if !tok.IsKeyword(kw) {
		return tok, p.errAt(tok, "expected %q, found %q", kw, tok.Value)
	}
	return p.advance(), nil
}

func (p *parser) expectType(t lexer.TokenType, what string) (lexer.Token, error) {
	tok := p.cur()
	if tok.Type != t {
		return tok, p.errAt(tok, "expected %s, found %q", what, tok.Value)
	}
	return p.advance(), nil
}

// parseQuery implements:
//
//	query := SELECT selectList FROM id [WHERE expr]
//	         [GRANULARITY (DOCUMENT | SENTENCE [int])]
//	         [ORDER BY orderSpec (COMMA orderSpec)*]
//	         [LIMIT int]
func (p *parser) parseQuery() (*ast.Query, error) {
	if _, err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	selectList, err := p.parseSelectList()
	if err != nil {
		return nil, err
	}

	if _, err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	source, err := p.expectType(lexer.TokenIdent, "corpus identifier")
	if err != nil {
		return nil, err
	}

	q := &ast.Query{Source: source.Value, Select: selectList, Granularity: ast.Document}

	if p.cur().IsKeyword("WHERE") {
		p.advance()
		cond, err := p.parseExpr("")
		if err != nil {
			return nil, err
		}
		q.Conditions = cond
	}

	if p.cur().IsKeyword("GRANULARITY") {
		p.advance()
		switch {
		case p.cur().IsKeyword("DOCUMENT"):
			p.advance()
			q.Granularity = ast.Document
		case p.cur().IsKeyword("SENTENCE"):
			p.advance()
			q.Granularity = ast.Sentence
			if p.cur().Type == lexer.TokenNumber {
				n, _ := strconv.Atoi(p.advance().Value)
				q.WindowSize = n
			}
		default:
			return nil, p.errAt(p.cur(), "expected DOCUMENT or SENTENCE, found %q", p.cur().Value)
		}
	}

	if p.cur().IsKeyword("ORDER") {
		p.advance()
		if _, err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			spec, err := p.parseOrderSpec()
			if err != nil {
				return nil, err
			}
			q.OrderBy = append(q.OrderBy, spec)
			if p.cur().Type == lexer.TokenComma {
				p.advance()
				continue
			}
			break
		}
	}

	if p.cur().IsKeyword("LIMIT") {
		p.advance()
		tok, err := p.expectType(lexer.TokenNumber, "integer")
		if err != nil {
			return nil, err
		}
		n, convErr := strconv.Atoi(tok.Value)
		if convErr != nil {
			return nil, p.errAt(tok, "invalid LIMIT value %q", tok.Value)
		}
		q.Limit = n
		q.LimitSet = true
	}

	if p.cur().Type != lexer.TokenEOF {
		return nil, p.errAt(p.cur(), "unexpected trailing input %q", p.cur().Value)
	}

	return q, nil
}

func (p *parser) parseOrderSpec() (ast.OrderSpec, error) {
	var field string
	switch {
	case p.cur().Type == lexer.TokenVar:
		field = p.advance().Value
	case p.cur().Type == lexer.TokenIdent:
		field = p.advance().Value
	default:
		return ast.OrderSpec{}, p.errAt(p.cur(), "expected ORDER BY field, found %q", p.cur().Value)
	}
	desc := false
	if p.cur().IsKeyword("DESC") {
		p.advance()
		desc = true
	} else if p.cur().IsKeyword("ASC") {
		p.advance()
	}
	return ast.OrderSpec{Field: field, Desc: desc}, nil
}

// parseSelectList implements: selectItem (COMMA selectItem)*
// A literal "*" (SELECT *) returns a nil list, which the result generator
// projects as a single document_id column. COUNT(*) is parsed by
// parseFuncCall, not here.
func (p *parser) parseSelectList() ([]ast.SelectItem, error) {
	if p.cur().Type == lexer.TokenIdent && p.cur().Value == "*" {
		p.advance()
		return nil, nil
	}
	var items []ast.SelectItem
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.cur().Type == lexer.TokenComma {
			p.advance()
			continue
		}
		break
	}
	return items, nil
}

func (p *parser) parseSelectItem() (ast.SelectItem, error) {
	if p.cur().Type == lexer.TokenVar {
		return ast.SelectItem{Variable: ast.Symbol(p.advance().Value)}, nil
	}
	if p.cur().Type == lexer.TokenIdent {
		fn, err := p.parseFuncCall()
		if err != nil {
			return ast.SelectItem{}, err
		}
		return ast.SelectItem{Func: fn}, nil
	}
	return ast.SelectItem{}, p.errAt(p.cur(), "expected a variable or function in SELECT list, found %q", p.cur().Value)
}

// parseFuncCall implements: FN LPAREN (expr (COMMA expr)*)? RPAREN
// restricted to the fixed column-function set in spec §6: SNIPPET, DATE,
// PERSON, COUNT.
func (p *parser) parseFuncCall() (*ast.FuncCall, error) {
	nameTok := p.advance()
	fn := &ast.FuncCall{Name: strings.ToUpper(nameTok.Value), Options: map[string]int{}}
	switch fn.Name {
	case "SNIPPET", "DATE", "PERSON", "COUNT":
	default:
		return nil, p.errAt(nameTok, "unknown function %q", nameTok.Value)
	}

	if _, err := p.expectType(lexer.TokenLParen, "("); err != nil {
		return nil, err
	}

	if fn.Name == "COUNT" {
		switch {
		case p.cur().Type == lexer.TokenIdent && p.cur().Value == "*":
			p.advance()
			fn.CountStar = true
		case p.cur().IsKeyword("DOCUMENTS"):
			p.advance()
			fn.CountDocs = true
		case p.cur().IsKeyword("UNIQUE"):
			p.advance()
			v, err := p.expectType(lexer.TokenVar, "variable")
			if err != nil {
				return nil, err
			}
			fn.CountArg = ast.Symbol(v.Value)
		default:
			return nil, p.errAt(p.cur(), "expected *, DOCUMENTS, or UNIQUE ?var in COUNT(...)")
		}
		if _, err := p.expectType(lexer.TokenRParen, ")"); err != nil {
			return nil, err
		}
		return fn, nil
	}

	for p.cur().Type != lexer.TokenRParen {
		if p.cur().Type == lexer.TokenVar {
			fn.Args = append(fn.Args, ast.Symbol(p.advance().Value))
		} else if p.cur().Type == lexer.TokenIdent && p.peekIsEQ() {
			// option = NAME EQ NUMBER, e.g. length=30
			name := p.advance().Value
			p.advance() // '='
			numTok, err := p.expectType(lexer.TokenNumber, "option value")
			if err != nil {
				return nil, err
			}
			n, convErr := strconv.Atoi(numTok.Value)
			if convErr != nil {
				return nil, p.errAt(numTok, "invalid option value %q", numTok.Value)
			}
			fn.Options[name] = n
		} else {
			return nil, p.errAt(p.cur(), "unexpected argument %q in %s(...)", p.cur().Value, fn.Name)
		}
		if p.cur().Type == lexer.TokenComma {
			p.advance()
			continue
		}
		break
	}

	if _, err := p.expectType(lexer.TokenRParen, ")"); err != nil {
		return nil, err
	}
	return fn, nil
}

// parseExpr / parseOr / parseAnd / parseNot implement the precedence chain:
//
//	expr  := orExpr
//	orExpr  := andExpr (OR andExpr)*
//	andExpr := notExpr (AND notExpr)*
//	notExpr := NOT? atom
func (p *parser) parseExpr(path string) (*ast.Condition, error) {
	return p.parseOr(path)
}

func (p *parser) parseOr(path string) (*ast.Condition, error) {
	left, err := p.parseAnd(path + ".or[0]")
	if err != nil {
		return nil, err
	}
	children := []*ast.Condition{left}
	for p.cur().IsKeyword("OR") {
		p.advance()
		idx := len(children)
		right, err := p.parseAnd(path + ".or[" + strconv.Itoa(idx) + "]")
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	node := &ast.Condition{Kind: ast.KindLogical, Op: ast.Or, Children: children}
	node.SetASTPath(path + ".or")
	return node, nil
}

func (p *parser) parseAnd(path string) (*ast.Condition, error) {
	left, err := p.parseNot(path + ".and[0]")
	if err != nil {
		return nil, err
	}
	children := []*ast.Condition{left}
	for p.cur().IsKeyword("AND") {
		p.advance()
		idx := len(children)
		right, err := p.parseNot(path + ".and[" + strconv.Itoa(idx) + "]")
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	node := &ast.Condition{Kind: ast.KindLogical, Op: ast.And, Children: children}
	node.SetASTPath(path + ".and")
	return node, nil
}

func (p *parser) parseNot(path string) (*ast.Condition, error) {
	if p.cur().IsKeyword("NOT") {
		p.advance()
		child, err := p.parseAtom(path + ".not")
		if err != nil {
			return nil, err
		}
		node := &ast.Condition{Kind: ast.KindNot, Child: child}
		node.SetASTPath(path + ".not")
		return node, nil
	}
	return p.parseAtom(path)
}

// parseAtom implements:
//
//	atom := contains | ner | pos | temporal | dep | LPAREN expr RPAREN
func (p *parser) parseAtom(path string) (*ast.Condition, error) {
	tok := p.cur()
	if tok.Type == lexer.TokenLParen {
		p.advance()
		cond, err := p.parseExpr(path)
		if err != nil {
			return nil, err
		}
		if _, err := p.expectType(lexer.TokenRParen, ")"); err != nil {
			return nil, err
		}
		return cond, nil
	}

	if tok.Type != lexer.TokenIdent {
		return nil, p.errAt(tok, "expected a condition, found %q", tok.Value)
	}

	switch strings.ToUpper(tok.Value) {
	case "CONTAINS":
		return p.parseContains(path)
	case "NER":
		return p.parseNer(path)
	case "POS":
		return p.parsePos(path)
	case "DATE":
		return p.parseTemporal(path)
	case "DEP":
		return p.parseDependency(path)
	default:
		return nil, p.errAt(tok, "unknown condition %q", tok.Value)
	}
}

// contains := CONTAINS LPAREN STRING (COMMA STRING)* RPAREN [AS VAR]
func (p *parser) parseContains(path string) (*ast.Condition, error) {
	p.advance() // CONTAINS
	if _, err := p.expectType(lexer.TokenLParen, "("); err != nil {
		return nil, err
	}
	var terms []string
	for {
		s, err := p.expectType(lexer.TokenString, "string literal")
		if err != nil {
			return nil, err
		}
		terms = append(terms, s.Value)
		if p.cur().Type == lexer.TokenComma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expectType(lexer.TokenRParen, ")"); err != nil {
		return nil, err
	}
	node := &ast.Condition{Kind: ast.KindContains, Terms: terms}
	if p.cur().IsKeyword("AS") {
		p.advance()
		v, err := p.expectType(lexer.TokenVar, "variable")
		if err != nil {
			return nil, err
		}
		node.Binds = ast.Symbol(v.Value)
	}
	node.SetASTPath(path + ".contains")
	return node, nil
}

// ner := NER LPAREN NERTYPE (COMMA (VAR|STRING))? RPAREN
func (p *parser) parseNer(path string) (*ast.Condition, error) {
	p.advance() // NER
	if _, err := p.expectType(lexer.TokenLParen, "("); err != nil {
		return nil, err
	}
	typeTok, err := p.expectType(lexer.TokenIdent, "NER type")
	if err != nil {
		return nil, err
	}
	node := &ast.Condition{Kind: ast.KindNer, EntityType: ast.NerType(strings.ToUpper(typeTok.Value))}
	if p.cur().Type == lexer.TokenComma {
		p.advance()
		target, err := p.parseTarget()
		if err != nil {
			return nil, err
		}
		node.Target = target
	}
	if _, err := p.expectType(lexer.TokenRParen, ")"); err != nil {
		return nil, err
	}
	node.SetASTPath(path + ".ner")
	return node, nil
}

func (p *parser) parsePos(path string) (*ast.Condition, error) {
	p.advance() // POS
	if _, err := p.expectType(lexer.TokenLParen, "("); err != nil {
		return nil, err
	}
	tagTok := p.cur()
	if tagTok.Type != lexer.TokenIdent && tagTok.Type != lexer.TokenString {
		return nil, p.errAt(tagTok, "expected POS tag, found %q", tagTok.Value)
	}
	p.advance()
	node := &ast.Condition{Kind: ast.KindPos, PosTag: tagTok.Value}
	if p.cur().Type == lexer.TokenComma {
		p.advance()
		target, err := p.parseTarget()
		if err != nil {
			return nil, err
		}
		node.Target = target
	}
	if _, err := p.expectType(lexer.TokenRParen, ")"); err != nil {
		return nil, err
	}
	node.SetASTPath(path + ".pos")
	return node, nil
}

func (p *parser) parseTarget() (ast.Target, error) {
	if p.cur().Type == lexer.TokenVar {
		return ast.Target{Variable: ast.Symbol(p.advance().Value)}, nil
	}
	if p.cur().Type == lexer.TokenString {
		return ast.Target{Literal: p.advance().Value}, nil
	}
	return ast.Target{}, p.errAt(p.cur(), "expected a variable or string, found %q", p.cur().Value)
}

// dep := DEP LPAREN (VAR|STRING) COMMA STRING COMMA (VAR|STRING) RPAREN
func (p *parser) parseDependency(path string) (*ast.Condition, error) {
	p.advance() // DEP
	if _, err := p.expectType(lexer.TokenLParen, "("); err != nil {
		return nil, err
	}
	gov, err := p.parseTarget()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectType(lexer.TokenComma, ","); err != nil {
		return nil, err
	}
	relTok, err := p.expectType(lexer.TokenString, "relation name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expectType(lexer.TokenComma, ","); err != nil {
		return nil, err
	}
	dep, err := p.parseTarget()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectType(lexer.TokenRParen, ")"); err != nil {
		return nil, err
	}
	node := &ast.Condition{Kind: ast.KindDependency, Governor: gov, Relation: relTok.Value, Dependent: dep}
	node.SetASTPath(path + ".dep")
	return node, nil
}

// temporal := DATE LPAREN (VAR|STRING) COMMA tempOp RPAREN
// tempOp := (LT|LE|GT|GE|EQ) dateVal | BETWEEN dateVal AND dateVal
//
//	| CONTAINS LBRACKET dateVal COMMA dateVal RBRACKET
//	| NEAR dateVal RADIUS duration
func (p *parser) parseTemporal(path string) (*ast.Condition, error) {
	p.advance() // DATE
	if _, err := p.expectType(lexer.TokenLParen, "("); err != nil {
		return nil, err
	}
	target, err := p.parseTarget()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectType(lexer.TokenComma, ","); err != nil {
		return nil, err
	}

	node := &ast.Condition{Kind: ast.KindTemporal, DateTarget: target}

	switch {
	case p.cur().Type == lexer.TokenLT, p.cur().Type == lexer.TokenLE,
		p.cur().Type == lexer.TokenGT, p.cur().Type == lexer.TokenGE,
		p.cur().Type == lexer.TokenEQ:
		op := p.advance()
		d, err := p.parseDateVal()
		if err != nil {
			return nil, err
		}
		switch op.Type {
		case lexer.TokenLT, lexer.TokenLE:
			node.TemporalKind = ast.Before
		case lexer.TokenGT, lexer.TokenGE:
			node.TemporalKind = ast.After
		default:
			node.TemporalKind = ast.On
		}
		node.Start = d
	case p.cur().IsKeyword("BETWEEN"):
		p.advance()
		start, err := p.parseDateVal()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		end, err := p.parseDateVal()
		if err != nil {
			return nil, err
		}
		node.TemporalKind = ast.Between
		node.Start, node.End = start, end
	case p.cur().IsKeyword("CONTAINS"):
		p.advance()
		if _, err := p.expectType(lexer.TokenLBracket, "["); err != nil {
			return nil, err
		}
		start, err := p.parseDateVal()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectType(lexer.TokenComma, ","); err != nil {
			return nil, err
		}
		end, err := p.parseDateVal()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectType(lexer.TokenRBracket, "]"); err != nil {
			return nil, err
		}
		node.TemporalKind = ast.Between
		node.Start, node.End = start, end
	case p.cur().IsKeyword("NEAR"):
		p.advance()
		d, err := p.parseDateVal()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectKeyword("RADIUS"); err != nil {
			return nil, err
		}
		dur, err := p.parseDuration()
		if err != nil {
			return nil, err
		}
		node.TemporalKind = ast.Near
		node.Start = d
		node.Radius = dur
	default:
		return nil, p.errAt(p.cur(), "expected a temporal operator, found %q", p.cur().Value)
	}

	if _, err := p.expectType(lexer.TokenRParen, ")"); err != nil {
		return nil, err
	}
	node.SetASTPath(path + ".temporal")
	return node, nil
}

// parseDateVal accepts either the bare ISO-8601 ident the lexer produces
// for dates, or a quoted string spelling the same thing.
func (p *parser) parseDateVal() (time.Time, error) {
	tok := p.cur()
	var raw string
	switch tok.Type {
	case lexer.TokenIdent, lexer.TokenString, lexer.TokenNumber:
		raw = p.advance().Value
	default:
		return time.Time{}, p.errAt(tok, "expected a date, found %q", tok.Value)
	}
	t, err := parseISODate(raw)
	if err != nil {
		return time.Time{}, p.errAt(tok, "invalid date %q: %v", raw, err)
	}
	return t, nil
}

// parseDuration reads a duration like "30d", "6h", "15m" following RADIUS.
// The lexer splits a magnitude+unit pair such as "30d" into a TokenNumber
// ("30") followed immediately by a TokenIdent unit ("d"); a bare
// TokenIdent (e.g. a duration spelled entirely as letters) is also
// accepted for robustness.
func (p *parser) parseDuration() (time.Duration, error) {
	tok := p.cur()
	var raw string
	switch tok.Type {
	case lexer.TokenNumber:
		p.advance()
		raw = tok.Value
		if p.cur().Type == lexer.TokenIdent {
			raw += p.advance().Value
		}
	case lexer.TokenIdent:
		p.advance()
		raw = tok.Value
	default:
		return 0, p.errAt(tok, "expected a duration, found %q", tok.Value)
	}
	d, err := parseDuration(raw)
	if err != nil {
		return 0, p.errAt(tok, "invalid duration %q: %v", raw, err)
	}
	return d, nil
}

// parseISODate parses "YYYY[-MM[-DD]]" with an optional time component.
func parseISODate(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
		"2006-01",
		"2006",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

// parseDuration parses a radius duration such as "30d" (days, which
// time.ParseDuration does not natively support) or any stdlib-recognized
// unit ("72h", "45m").
func parseDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
