package parser

import (
	"strconv"
	"strings"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/lexer"
	"github.com/opd-ai/devalang/pkg/token"
)

// parseTrigger handles `.entity [duration] [map]` lines.
func (p *Parser) parseTrigger() ast.Statement {
	dot, _ := p.advance() // consume '.'

	// Entity is a dot-joined chain of identifiers and numbers on the
	// trigger's line.
	var parts []string
	for {
		tok, ok := p.peek()
		if !ok || tok.Line != dot.Line {
			break
		}
		if tok.Kind == token.Dot {
			p.advance()
			continue
		}
		if tok.Kind != token.Identifier && tok.Kind != token.Number {
			break
		}
		parts = append(parts, tok.Lexeme)
		p.advance()
		next, ok := p.peek()
		if !ok || next.Line != dot.Line || next.Kind != token.Dot {
			break
		}
	}
	entity := strings.Join(parts, ".")
	if entity == "" {
		return p.errorStmt(dot, "empty entity after '.'")
	}

	duration := ast.AutoDuration()
	effects := ast.Null()

	if tok, ok := p.peek(); ok && tok.Line == dot.Line {
		switch tok.Kind {
		case token.Number:
			p.advance()
			if slash, ok := p.peek(); ok && slash.Kind == token.Slash && slash.Line == dot.Line {
				if den, ok := p.peekAt(1); ok && den.Kind == token.Number && den.Line == dot.Line {
					p.index += 2
					duration = ast.BeatDuration(tok.Lexeme + "/" + den.Lexeme)
				}
			} else if n, err := strconv.ParseFloat(tok.Lexeme, 32); err == nil {
				duration = ast.NumberDuration(float32(n))
			}
		case token.Identifier:
			p.advance()
			duration = ast.IdentifierDuration(tok.Lexeme)
		}
	}

	if tok, ok := p.peek(); ok && tok.Line == dot.Line && tok.Kind == token.LBrace {
		if m, ok := p.parseMapValue(); ok {
			effects = m
		}
	}

	return ast.Statement{
		Kind: ast.TriggerStatement, Value: effects,
		Entity: entity, Duration: &duration,
		Indent: dot.Indent, Line: dot.Line, Column: dot.Column,
	}
}

// parseLoop handles `loop N:`, `loop name:` and `loop foreach x in arr:`.
func (p *Parser) parseLoop() ast.Statement {
	kw, _ := p.advance()

	tok, ok := p.peek()
	if !ok {
		return p.errorStmt(kw, "expected loop count after 'loop'")
	}

	m := make(map[string]ast.Value)
	switch {
	case tok.Kind == token.Identifier && tok.Lexeme == "foreach":
		p.advance()
		varTok, ok := p.peek()
		if !ok || varTok.Kind != token.Identifier {
			return p.errorStmt(tok, "expected identifier after 'foreach'")
		}
		p.advance()
		inTok, ok := p.peek()
		if !ok || inTok.Kind != token.Identifier || inTok.Lexeme != "in" {
			return p.errorStmt(varTok, "expected 'in' after foreach variable")
		}
		p.advance()
		arr := p.parseValue()
		if arr.IsNull() {
			return p.errorStmt(inTok, "expected array after 'in'")
		}
		m["foreach"] = ast.Identifier(varTok.Lexeme)
		m["array"] = arr

	case tok.Kind == token.Number:
		p.advance()
		n, _ := strconv.ParseFloat(tok.Lexeme, 32)
		m["iterator"] = ast.Number(float32(n))

	case tok.Kind == token.Identifier:
		p.advance()
		m["iterator"] = ast.Identifier(tok.Lexeme)

	default:
		return p.errorStmt(tok, "expected number, identifier or 'foreach' after 'loop'")
	}

	if !p.match(token.Colon) {
		return p.errorStmt(tok, "expected ':' after loop header")
	}

	body := p.parseBlock(p.captureBlock(kw.Indent))
	m["body"] = ast.Block(body)

	return ast.Statement{
		Kind: ast.LoopStatement, Value: ast.MapVal(m),
		Indent: kw.Indent, Line: kw.Line, Column: kw.Column,
	}
}

// parseIf handles an if/else-if/else chain. The chain is encoded as
// nested maps: {condition, body, next} with the final else carrying only
// a body.
func (p *Parser) parseIf() ast.Statement {
	kw, _ := p.advance()

	cond, ok := p.collectCondition(kw.Line)
	if !ok {
		return p.errorStmt(kw, "expected ':' after if condition")
	}

	body := p.parseBlock(p.captureBlock(kw.Indent))
	m := map[string]ast.Value{
		"condition": ast.String(cond),
		"body":      ast.Block(body),
	}

	if next, ok := p.parseElseChain(kw.Indent); ok {
		m["next"] = next
	}

	return ast.Statement{
		Kind: ast.IfStatement, Value: ast.MapVal(m),
		Indent: kw.Indent, Line: kw.Line, Column: kw.Column,
	}
}

// parseElseChain consumes an `else`/`else if` at the same base indent as
// the originating if, when present.
func (p *Parser) parseElseChain(baseIndent int) (ast.Value, bool) {
	save := p.index
	p.skipLayout()

	tok, ok := p.peek()
	if !ok || tok.Kind != token.Else || tok.Indent != baseIndent {
		p.index = save
		return ast.Value{}, false
	}
	p.advance() // consume 'else'

	if ifTok, ok := p.peek(); ok && ifTok.Kind == token.If {
		p.advance()
		cond, ok := p.collectCondition(ifTok.Line)
		if !ok {
			return ast.Value{}, false
		}
		body := p.parseBlock(p.captureBlock(baseIndent))
		m := map[string]ast.Value{
			"condition": ast.String(cond),
			"body":      ast.Block(body),
		}
		if next, ok := p.parseElseChain(baseIndent); ok {
			m["next"] = next
		}
		return ast.MapVal(m), true
	}

	if !p.match(token.Colon) {
		return ast.Value{}, false
	}
	body := p.parseBlock(p.captureBlock(baseIndent))
	return ast.MapVal(map[string]ast.Value{
		"body": ast.Block(body),
	}), true
}

// collectCondition joins the condition lexemes up to the colon on the
// header line.
func (p *Parser) collectCondition(line int) (string, bool) {
	var parts []string
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind == token.EOF || tok.Kind == token.Newline || tok.Line != line {
			return "", false
		}
		if tok.Kind == token.Colon {
			p.advance()
			return strings.Join(parts, " "), true
		}
		p.advance()
		parts = append(parts, tok.Lexeme)
	}
}

// parseArrowCall handles `target -> method(args)`.
func (p *Parser) parseArrowCall() ast.Statement {
	targetTok, _ := p.advance()
	p.advance() // consume '->'

	methodTok, ok := p.peek()
	if !ok || methodTok.Kind != token.Identifier {
		return p.errorStmt(targetTok, "expected method name after '->'")
	}
	p.advance()

	args := p.parseArgList()
	return ast.Statement{
		Kind:   ast.ArrowCallStatement,
		Value:  ast.Null(),
		Target: targetTok.Lexeme, Method: methodTok.Lexeme, Args: args,
		Indent: targetTok.Indent, Line: targetTok.Line, Column: targetTok.Column,
	}
}

// parsePattern handles `pattern name [with target] = "..."` and the map
// form carrying swing/humanize options.
func (p *Parser) parsePattern() ast.Statement {
	kw, _ := p.advance()

	nameTok, ok := p.peek()
	if !ok || nameTok.Kind != token.Identifier {
		return p.errorStmt(kw, "expected pattern name after 'pattern'")
	}
	p.advance()

	target := ""
	if tok, ok := p.peek(); ok && tok.Kind == token.Identifier && tok.Lexeme == "with" {
		p.advance()
		targetTok, ok := p.peek()
		if !ok || (targetTok.Kind != token.Identifier && targetTok.Kind != token.Number) {
			return p.errorStmt(tok, "expected target after 'with'")
		}
		p.advance()
		target = p.dottedName(targetTok)
	}

	value := ast.Null()
	if p.match(token.Equals) {
		tok, ok := p.peek()
		if !ok {
			return p.errorStmt(nameTok, "expected pattern value after '='")
		}
		switch tok.Kind {
		case token.String:
			p.advance()
			value = ast.String(lexer.Unescape(tok.Lexeme))
		case token.LBrace:
			if m, ok := p.parseMapValue(); ok {
				value = m
			}
		default:
			return p.errorStmt(tok, "expected string or map as pattern value")
		}
	}

	return ast.Statement{
		Kind: ast.PatternStatement, Value: value,
		Name: nameTok.Lexeme, Target: target,
		Indent: kw.Indent, Line: kw.Line, Column: kw.Column,
	}
}

// parseAutomate handles an `automate target:` block of `param name {...}`
// entries, stored as {params: {name: envelope-map}}.
func (p *Parser) parseAutomate() ast.Statement {
	kw, _ := p.advance()

	targetTok, ok := p.peek()
	if !ok || targetTok.Kind != token.Identifier {
		return p.errorStmt(kw, "expected target after 'automate'")
	}
	p.advance()
	target := p.dottedName(targetTok)

	if !p.match(token.Colon) {
		return p.errorStmt(targetTok, "expected ':' after automate target")
	}

	body := p.captureBlock(kw.Indent)
	params := make(map[string]ast.Value)

	inner := New(p.currentModule)
	inner.tokens = body
	for !inner.eof() {
		tok, ok := inner.peek()
		if !ok {
			break
		}
		if tok.Kind != token.Identifier || tok.Lexeme != "param" {
			inner.advance()
			continue
		}
		inner.advance()
		nameTok, ok := inner.peek()
		if !ok || nameTok.Kind != token.Identifier {
			continue
		}
		inner.advance()
		inner.skipLayout()
		if m, ok := inner.parseMapValue(); ok {
			params[nameTok.Lexeme] = m
		}
	}

	return ast.Statement{
		Kind: ast.AutomateStatement,
		Value: ast.MapVal(map[string]ast.Value{
			"params": ast.MapVal(params),
		}),
		Target: target,
		Indent: kw.Indent, Line: kw.Line, Column: kw.Column,
	}
}
