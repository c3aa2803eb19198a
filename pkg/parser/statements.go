package parser

import (
	"strconv"
	"strings"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/lexer"
	"github.com/opd-ai/devalang/pkg/token"
)

// parseAt handles the @use, @import, @export and @load directives.
func (p *Parser) parseAt() ast.Statement {
	at, _ := p.advance() // consume '@'

	tok, ok := p.peek()
	if !ok {
		return ast.Unknown()
	}

	switch strings.ToLower(tok.Lexeme) {
	case "use":
		p.advance()
		author, ok := p.peek()
		if !ok || author.Kind != token.Identifier {
			return p.errorStmt(tok, "expected plugin author after '@use'")
		}
		p.advance()
		if !p.match(token.Dot) {
			return p.errorStmt(author, "expected '.' after plugin author")
		}
		namePart, ok := p.peek()
		if !ok || (namePart.Kind != token.Identifier && namePart.Kind != token.Number) {
			return p.errorStmt(author, "expected plugin name after '.'")
		}
		p.advance()
		name := author.Lexeme + "." + namePart.Lexeme

		alias := ""
		if p.match(token.As) {
			aliasTok, ok := p.peek()
			if !ok || aliasTok.Kind != token.Identifier {
				return p.errorStmt(namePart, "expected identifier after 'as'")
			}
			p.advance()
			alias = aliasTok.Lexeme
		}
		return ast.Statement{
			Kind: ast.UseStatement, Value: ast.Null(),
			Name: name, Alias: alias,
			Indent: at.Indent, Line: at.Line, Column: at.Column,
		}

	case "import":
		p.advance()
		names, errStmt := p.parseNameList(tok)
		if errStmt != nil {
			return *errStmt
		}
		from, ok := p.peek()
		if !ok || from.Kind != token.From {
			return p.errorStmt(tok, "expected 'from' after import list")
		}
		p.advance()
		src, ok := p.peek()
		if !ok || src.Kind != token.String {
			return p.errorStmt(from, "expected string after 'from'")
		}
		p.advance()
		return ast.Statement{
			Kind: ast.ImportStatement, Value: ast.Null(),
			Names: names, Source: lexer.Unescape(src.Lexeme),
			Indent: at.Indent, Line: at.Line, Column: at.Column,
		}

	case "export":
		p.advance()
		names, errStmt := p.parseNameList(tok)
		if errStmt != nil {
			return *errStmt
		}
		return ast.Statement{
			Kind: ast.ExportStatement, Value: ast.Null(),
			Names:  names,
			Indent: at.Indent, Line: at.Line, Column: at.Column,
		}

	case "load":
		p.advance()
		src, ok := p.peek()
		if !ok || src.Kind != token.String {
			return p.errorStmt(tok, "expected string after '@load'")
		}
		p.advance()
		if !p.match(token.As) {
			return p.errorStmt(src, "expected 'as' after load source")
		}
		aliasTok, ok := p.peek()
		if !ok || aliasTok.Kind != token.Identifier {
			return p.errorStmt(src, "expected identifier after 'as'")
		}
		p.advance()
		return ast.Statement{
			Kind: ast.LoadStatement, Value: ast.Null(),
			Source: lexer.Unescape(src.Lexeme), Alias: aliasTok.Lexeme,
			Indent: at.Indent, Line: at.Line, Column: at.Column,
		}
	}

	return p.errorStmt(tok, "unknown directive '@"+tok.Lexeme+"'")
}

// parseNameList reads `{ a, b, c }` and returns the identifiers.
func (p *Parser) parseNameList(anchor token.Token) ([]string, *ast.Statement) {
	if !p.match(token.LBrace) {
		s := p.errorStmt(anchor, "expected '{' before name list")
		return nil, &s
	}
	var names []string
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind == token.EOF {
			s := p.errorStmt(anchor, "unterminated name list")
			return nil, &s
		}
		switch tok.Kind {
		case token.Identifier:
			names = append(names, tok.Lexeme)
			p.advance()
		case token.Comma:
			p.advance()
		case token.RBrace:
			p.advance()
			return names, nil
		default:
			s := p.errorStmt(tok, "unexpected token in name list")
			return nil, &s
		}
	}
}

// parseTempo handles `bpm <number|identifier>`.
func (p *Parser) parseTempo() ast.Statement {
	kw, _ := p.advance()
	tok, ok := p.peek()
	if !ok {
		return p.errorStmt(kw, "expected tempo value after 'bpm'")
	}
	var value ast.Value
	switch tok.Kind {
	case token.Number:
		n, _ := strconv.ParseFloat(tok.Lexeme, 32)
		value = ast.Number(float32(n))
		p.advance()
	case token.Identifier:
		value = ast.Identifier(tok.Lexeme)
		p.advance()
	default:
		return p.errorStmt(tok, "expected number or identifier after 'bpm'")
	}
	return ast.Statement{
		Kind: ast.TempoStatement, Value: value,
		Indent: kw.Indent, Line: kw.Line, Column: kw.Column,
	}
}

// parseBank handles `bank <name>[.<name>] [as <alias>]`.
func (p *Parser) parseBank() ast.Statement {
	kw, _ := p.advance()
	tok, ok := p.peek()
	if !ok {
		return p.errorStmt(kw, "expected bank name after 'bank'")
	}

	var name string
	switch tok.Kind {
	case token.Identifier, token.Number:
		p.advance()
		name = p.dottedName(tok)
	case token.String:
		p.advance()
		name = lexer.Unescape(tok.Lexeme)
	default:
		return p.errorStmt(tok, "expected bank name after 'bank'")
	}

	alias := ""
	if p.match(token.As) {
		aliasTok, ok := p.peek()
		if !ok || aliasTok.Kind != token.Identifier {
			return p.errorStmt(tok, "expected identifier after 'as'")
		}
		p.advance()
		alias = aliasTok.Lexeme
	}

	return ast.Statement{
		Kind: ast.BankStatement, Value: ast.String(name), Alias: alias,
		Indent: kw.Indent, Line: kw.Line, Column: kw.Column,
	}
}

// parseLet handles `let <name> = <rhs>`. Simple single-token values parse
// structurally; anything longer is preserved as a raw expression string
// for the evaluator.
func (p *Parser) parseLet() ast.Statement {
	kw, _ := p.advance()

	nameTok, ok := p.peek()
	if !ok || nameTok.Kind != token.Identifier {
		return p.errorStmt(kw, "expected identifier after 'let'")
	}
	p.advance()

	if !p.match(token.Equals) {
		return p.errorStmt(nameTok, "expected '=' after identifier")
	}

	value := p.parseRHS(kw.Line)
	return ast.Statement{
		Kind: ast.LetStatement, Value: value, Name: nameTok.Lexeme,
		Indent: kw.Indent, Line: kw.Line, Column: kw.Column,
	}
}

// parseRHS reads a let right-hand side starting on the given line.
func (p *Parser) parseRHS(line int) ast.Value {
	tok, ok := p.peek()
	if !ok {
		return ast.Null()
	}

	if tok.Kind == token.Synth {
		return p.parseSynthLiteral()
	}

	// Try a single structural value first; fall back to a raw expression
	// string when more tokens follow on the same line.
	save := p.index
	v := p.parseValue()
	if !v.IsNull() && !p.lineHasMoreValueTokens(line) {
		return v
	}
	p.index = save
	raw := p.restOfLine(line)
	if raw == "" {
		return ast.Null()
	}
	return ast.Expr(raw)
}

// parseSynthLiteral reads `synth <waveform> { params }` and produces the
// canonical synth map consumed by arrow calls.
func (p *Parser) parseSynthLiteral() ast.Value {
	p.advance() // consume 'synth'

	waveform := ""
	if tok, ok := p.peek(); ok &&
		(tok.Kind == token.Identifier || tok.Kind == token.Number || tok.Kind == token.Synth) {
		p.advance()
		waveform = p.dottedName(tok)
	}

	params := ast.MapVal(map[string]ast.Value{})
	if p.check(token.LBrace) {
		if m, ok := p.parseMapValue(); ok {
			params = m
		}
	}

	return ast.MapVal(map[string]ast.Value{
		"entity": ast.String("synth"),
		"value": ast.MapVal(map[string]ast.Value{
			"waveform":   ast.Identifier(waveform),
			"parameters": params,
		}),
	})
}

// parseSynthStatement handles a standalone `synth <name> { params }`.
func (p *Parser) parseSynthStatement() ast.Statement {
	kw, _ := p.peek()
	value := p.parseSynthLiteral()
	return ast.Statement{
		Kind: ast.SynthStatement, Value: value,
		Indent: kw.Indent, Line: kw.Line, Column: kw.Column,
	}
}

// parseGroup handles `group <name>:` with an indented body.
func (p *Parser) parseGroup() ast.Statement {
	kw, _ := p.advance()

	nameTok, ok := p.peek()
	if !ok || (nameTok.Kind != token.Identifier && nameTok.Kind != token.String) {
		return p.errorStmt(kw, "expected identifier after 'group'")
	}
	p.advance()

	if !p.match(token.Colon) {
		return p.errorStmt(nameTok, "expected ':' after group identifier")
	}

	body := p.parseBlock(p.captureBlock(kw.Indent))
	return ast.Statement{
		Kind: ast.GroupStatement,
		Value: ast.MapVal(map[string]ast.Value{
			"identifier": ast.String(nameTok.Lexeme),
			"body":       ast.Block(body),
		}),
		Indent: kw.Indent, Line: kw.Line, Column: kw.Column,
	}
}

// parseCallLike handles `call name(args?)` and `spawn name(args?)`.
func (p *Parser) parseCallLike(kind ast.StatementKind) ast.Statement {
	kw, _ := p.advance()

	nameTok, ok := p.peek()
	if !ok || nameTok.Kind != token.Identifier {
		return p.errorStmt(kw, "expected identifier after '"+kw.Lexeme+"'")
	}
	p.advance()

	args := p.parseArgList()
	return ast.Statement{
		Kind: kind, Value: ast.String(nameTok.Lexeme),
		Name: nameTok.Lexeme, Args: args,
		Indent: kw.Indent, Line: kw.Line, Column: kw.Column,
	}
}

// parseArgList reads an optional parenthesized comma-separated value list.
func (p *Parser) parseArgList() []ast.Value {
	if !p.match(token.LParen) {
		return nil
	}
	var args []ast.Value
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind == token.EOF {
			return args
		}
		switch tok.Kind {
		case token.RParen:
			p.advance()
			return args
		case token.Comma, token.Newline:
			p.advance()
		default:
			v := p.parseValue()
			if v.IsNull() {
				p.advance()
				continue
			}
			args = append(args, v)
		}
	}
}

// parseSleep handles the sleep forms: milliseconds, "Ns"/"Nms" strings,
// beat literals and identifiers.
func (p *Parser) parseSleep() ast.Statement {
	kw, _ := p.advance()
	v := p.parseValue()
	if v.IsNull() {
		return p.errorStmt(kw, "expected duration after 'sleep'")
	}
	return ast.Statement{
		Kind: ast.SleepStatement, Value: v,
		Indent: kw.Indent, Line: kw.Line, Column: kw.Column,
	}
}

// parseFunction handles `fn name(params): body`.
func (p *Parser) parseFunction() ast.Statement {
	kw, _ := p.advance()

	nameTok, ok := p.peek()
	if !ok || nameTok.Kind != token.Identifier {
		return p.errorStmt(kw, "expected function name after 'fn'")
	}
	p.advance()

	if !p.match(token.LParen) {
		return p.errorStmt(nameTok, "expected '(' after function name")
	}

	var params []string
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind == token.EOF {
			return p.errorStmt(nameTok, "unterminated parameter list")
		}
		if tok.Kind == token.RParen {
			p.advance()
			break
		}
		if tok.Kind == token.Comma {
			p.advance()
			continue
		}
		if tok.Kind != token.Identifier {
			return p.errorStmt(tok, "expected parameter name")
		}
		params = append(params, tok.Lexeme)
		p.advance()
	}

	if !p.match(token.Colon) {
		return p.errorStmt(nameTok, "expected ':' after parameter list")
	}

	body := p.parseBlock(p.captureBlock(kw.Indent))
	return ast.Statement{
		Kind: ast.FunctionStatement, Value: ast.Null(),
		Name: nameTok.Lexeme, Params: params, Body: body,
		Indent: kw.Indent, Line: kw.Line, Column: kw.Column,
	}
}

// parseOn handles `on event(args?): body`.
func (p *Parser) parseOn() ast.Statement {
	kw, _ := p.advance()

	eventTok, ok := p.peek()
	if !ok || eventTok.Kind != token.Identifier {
		return p.errorStmt(kw, "expected event name after 'on'")
	}
	p.advance()

	var params []string
	if p.match(token.LParen) {
		for {
			tok, ok := p.peek()
			if !ok || tok.Kind == token.EOF {
				return p.errorStmt(eventTok, "unterminated event argument list")
			}
			if tok.Kind == token.RParen {
				p.advance()
				break
			}
			if tok.Kind == token.Comma {
				p.advance()
				continue
			}
			if tok.Kind != token.Identifier {
				return p.errorStmt(tok, "expected argument name")
			}
			params = append(params, tok.Lexeme)
			p.advance()
		}
	}

	if !p.match(token.Colon) {
		return p.errorStmt(eventTok, "expected ':' after event header")
	}

	body := p.parseBlock(p.captureBlock(kw.Indent))
	return ast.Statement{
		Kind: ast.OnStatement, Value: ast.Null(),
		Name: eventTok.Lexeme, Params: params, Body: body,
		Indent: kw.Indent, Line: kw.Line, Column: kw.Column,
	}
}

// parseEmit handles `emit event payload?`.
func (p *Parser) parseEmit() ast.Statement {
	kw, _ := p.advance()

	eventTok, ok := p.peek()
	if !ok || eventTok.Kind != token.Identifier {
		return p.errorStmt(kw, "expected event name after 'emit'")
	}
	p.advance()

	payload := ast.Null()
	if p.lineHasMoreValueTokens(kw.Line) {
		payload = p.parseValue()
	}

	return ast.Statement{
		Kind: ast.EmitStatement, Value: payload, Name: eventTok.Lexeme,
		Indent: kw.Indent, Line: kw.Line, Column: kw.Column,
	}
}

// parsePrint keeps the raw remainder of the line for the string evaluator.
func (p *Parser) parsePrint() ast.Statement {
	kw, _ := p.advance()
	raw := p.restOfLine(kw.Line)
	return ast.Statement{
		Kind: ast.PrintStatement, Value: ast.String(raw),
		Indent: kw.Indent, Line: kw.Line, Column: kw.Column,
	}
}
