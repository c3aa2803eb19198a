// Package parser implements the recursive-descent parser that turns the
// lexer's token stream into statements.
package parser

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devalang/pkg/ast"
	"github.com/opd-ai/devalang/pkg/token"
)

// Parser consumes one token stream. A fresh sub-parser is created for each
// captured block so nested bodies parse with the same dispatch table.
type Parser struct {
	tokens        []token.Token
	index         int
	currentModule string
}

// New creates a parser for the given module path.
func New(currentModule string) *Parser {
	return &Parser{currentModule: currentModule}
}

// Parse transforms tokens into a statement list. Malformed constructs
// become Error statements and parsing continues on the next line.
func (p *Parser) Parse(tokens []token.Token) []ast.Statement {
	p.tokens = tokens
	p.index = 0

	var statements []ast.Statement
	for !p.eof() {
		tok, ok := p.peek()
		if !ok {
			break
		}

		var stmt ast.Statement
		switch tok.Kind {
		case token.At:
			stmt = p.parseAt()
		case token.Dot:
			stmt = p.parseTrigger()
		case token.Tempo:
			stmt = p.parseTempo()
		case token.Bank:
			stmt = p.parseBank()
		case token.Loop:
			stmt = p.parseLoop()
		case token.If:
			stmt = p.parseIf()
		case token.Fn:
			stmt = p.parseFunction()
		case token.On:
			stmt = p.parseOn()
		case token.Emit:
			stmt = p.parseEmit()
		case token.Synth:
			stmt = p.parseSynthStatement()
		case token.Pattern:
			stmt = p.parsePattern()
		case token.Automate:
			stmt = p.parseAutomate()
		case token.Print:
			stmt = p.parsePrint()
		case token.Let:
			stmt = p.parseLet()
		case token.Group:
			stmt = p.parseGroup()
		case token.Call:
			stmt = p.parseCallLike(ast.CallStatement)
		case token.Spawn:
			stmt = p.parseCallLike(ast.SpawnStatement)
		case token.Sleep:
			stmt = p.parseSleep()
		case token.Identifier:
			if next, ok := p.peekAt(1); ok && next.Kind == token.Arrow {
				stmt = p.parseArrowCall()
			} else {
				logrus.WithFields(logrus.Fields{
					"module": p.currentModule,
					"line":   tok.Line,
					"lexeme": tok.Lexeme,
				}).Debug("unhandled identifier at statement position")
				p.advance()
				stmt = ast.Statement{
					Kind:   ast.UnknownStatement,
					Value:  ast.String(tok.Lexeme),
					Indent: tok.Indent,
					Line:   tok.Line,
					Column: tok.Column,
				}
			}
		case token.Comment, token.Newline, token.Indent, token.Dedent,
			token.Whitespace, token.Colon, token.Comma, token.Equals,
			token.Number, token.String, token.LBrace, token.RBrace,
			token.Else:
			// Layout noise, or an else already consumed by parseIf.
			p.advance()
			continue
		case token.EOF:
			return statements
		default:
			p.advance()
			stmt = ast.Statement{
				Kind:   ast.UnknownStatement,
				Value:  ast.String(tok.Lexeme),
				Indent: tok.Indent,
				Line:   tok.Line,
				Column: tok.Column,
			}
		}

		statements = append(statements, stmt)
	}
	return statements
}

// parseBlock runs a sub-parser over a captured token slice.
func (p *Parser) parseBlock(tokens []token.Token) []ast.Statement {
	inner := New(p.currentModule)
	return inner.Parse(tokens)
}

func (p *Parser) eof() bool {
	return p.index >= len(p.tokens)
}

func (p *Parser) peek() (token.Token, bool) {
	if p.eof() {
		return token.Token{}, false
	}
	return p.tokens[p.index], true
}

func (p *Parser) peekAt(offset int) (token.Token, bool) {
	i := p.index + offset
	if i >= len(p.tokens) {
		return token.Token{}, false
	}
	return p.tokens[i], true
}

func (p *Parser) advance() (token.Token, bool) {
	if p.eof() {
		return token.Token{}, false
	}
	tok := p.tokens[p.index]
	p.index++
	return tok, true
}

// match consumes the next token when it has the wanted kind.
func (p *Parser) match(kind token.Kind) bool {
	if tok, ok := p.peek(); ok && tok.Kind == kind {
		p.index++
		return true
	}
	return false
}

func (p *Parser) check(kind token.Kind) bool {
	tok, ok := p.peek()
	return ok && tok.Kind == kind
}

// skipToLineEnd consumes tokens up to and including the next Newline so a
// malformed construct does not poison the rest of the stream.
func (p *Parser) skipToLineEnd() {
	for {
		tok, ok := p.advance()
		if !ok || tok.Kind == token.Newline || tok.Kind == token.EOF {
			return
		}
	}
}

// skipLayout consumes Newline, Indent and Dedent tokens.
func (p *Parser) skipLayout() {
	for {
		tok, ok := p.peek()
		if !ok {
			return
		}
		switch tok.Kind {
		case token.Newline, token.Indent, token.Dedent, token.Whitespace, token.Comment:
			p.index++
		default:
			return
		}
	}
}

// captureBlock collects the tokens of an indented body that follows a
// colon on a header line at baseIndent. Collection stops at the first
// non-newline token whose indent falls back to baseIndent or lower.
func (p *Parser) captureBlock(baseIndent int) []token.Token {
	var body []token.Token
	for p.index < len(p.tokens) {
		tok := p.tokens[p.index]
		if tok.Kind == token.EOF {
			break
		}
		if tok.Indent <= baseIndent && tok.Kind != token.Newline {
			break
		}
		body = append(body, tok)
		p.index++
	}
	// Consume the dedent that closed the block.
	if tok, ok := p.peek(); ok && tok.Kind == token.Dedent {
		p.index++
	}
	return body
}

// errorStmt emits an Error statement anchored at tok and resynchronizes to
// the next line.
func (p *Parser) errorStmt(tok token.Token, message string) ast.Statement {
	p.skipToLineEnd()
	return ast.ErrorAt(message, tok.Indent, tok.Line, tok.Column)
}

// dottedName consumes an identifier chain like a.b.c on one source line.
func (p *Parser) dottedName(first token.Token) string {
	name := first.Lexeme
	for {
		dot, ok := p.peek()
		if !ok || dot.Kind != token.Dot || dot.Line != first.Line {
			return name
		}
		part, ok := p.peekAt(1)
		if !ok || part.Line != first.Line ||
			(part.Kind != token.Identifier && part.Kind != token.Number && part.Kind != token.Synth) {
			return name
		}
		p.index += 2
		name += "." + part.Lexeme
	}
}
