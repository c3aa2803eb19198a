package parser

import (
	"strconv"
	"strings"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/lexer"
	"github.com/opd-ai/devalang/pkg/token"
)

// parseValue reads one value production: string, number (plain or num/den
// beat), boolean, identifier (dotted on the same line), nested map or
// array. Returns Null when the next token starts none of these.
func (p *Parser) parseValue() ast.Value {
	tok, ok := p.peek()
	if !ok {
		return ast.Null()
	}

	switch tok.Kind {
	case token.String:
		p.advance()
		return ast.String(lexer.Unescape(tok.Lexeme))

	case token.Number:
		p.advance()
		// A slash immediately followed by a number forms a beat literal.
		if slash, ok := p.peek(); ok && slash.Kind == token.Slash && slash.Line == tok.Line {
			if den, ok := p.peekAt(1); ok && den.Kind == token.Number && den.Line == tok.Line {
				p.index += 2
				return ast.Beat(tok.Lexeme + "/" + den.Lexeme)
			}
		}
		n, err := strconv.ParseFloat(tok.Lexeme, 32)
		if err != nil {
			return ast.String(tok.Lexeme)
		}
		return ast.Number(float32(n))

	case token.Boolean:
		p.advance()
		return ast.Boolean(strings.EqualFold(tok.Lexeme, "true"))

	case token.Identifier:
		p.advance()
		return ast.Identifier(p.dottedName(tok))

	case token.LBrace:
		if m, ok := p.parseMapValue(); ok {
			return m
		}
		return ast.Null()

	case token.LBracket:
		if a, ok := p.parseArrayValue(); ok {
			return a
		}
		return ast.Null()
	}

	return ast.Null()
}

// parseMapValue reads a `{ key: value, ... }` literal. Newlines, comments
// and trailing commas inside the braces are skipped.
func (p *Parser) parseMapValue() (ast.Value, bool) {
	if !p.match(token.LBrace) {
		return ast.Value{}, false
	}

	m := make(map[string]ast.Value)
	for {
		p.skipLayout()
		tok, ok := p.peek()
		if !ok || tok.Kind == token.EOF {
			break
		}
		if tok.Kind == token.RBrace {
			p.advance()
			return ast.MapVal(m), true
		}
		if tok.Kind == token.Comma {
			p.advance()
			continue
		}

		// Map keys are identifiers, keywords used as plain words, or
		// quoted strings.
		key := tok.Lexeme
		if tok.Kind == token.String {
			key = lexer.Unescape(tok.Lexeme)
		}
		p.advance()

		if !p.match(token.Colon) {
			// Malformed entry: drop it and resynchronize on the brace.
			continue
		}
		p.skipLayout()
		m[key] = p.parseValue()
	}

	return ast.MapVal(m), true
}

// parseArrayValue reads a `[ v, v, ... ]` literal.
func (p *Parser) parseArrayValue() (ast.Value, bool) {
	if !p.match(token.LBracket) {
		return ast.Value{}, false
	}

	var items []ast.Value
	for {
		p.skipLayout()
		tok, ok := p.peek()
		if !ok || tok.Kind == token.EOF {
			break
		}
		if tok.Kind == token.RBracket {
			p.advance()
			return ast.Array(items), true
		}
		if tok.Kind == token.Comma {
			p.advance()
			continue
		}
		v := p.parseValue()
		if v.IsNull() {
			// Unparseable element: skip the token to guarantee progress.
			p.advance()
			continue
		}
		items = append(items, v)
	}

	return ast.Array(items), true
}

// restOfLine joins the raw lexemes up to the end of the current line,
// preserving string quoting so the evaluator can re-tokenize it.
func (p *Parser) restOfLine(line int) string {
	var parts []string
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind == token.EOF || tok.Kind == token.Newline || tok.Line != line {
			break
		}
		p.advance()
		parts = append(parts, tok.Lexeme)
	}
	return strings.Join(parts, " ")
}

// lineHasMoreValueTokens reports whether another non-layout token remains
// on the given source line.
func (p *Parser) lineHasMoreValueTokens(line int) bool {
	tok, ok := p.peek()
	return ok && tok.Kind != token.Newline && tok.Kind != token.EOF && tok.Line == line
}
