// Package lexer turns Devalang source text into a flat token stream with
// INDENT/DEDENT bracketing.
package lexer

import (
	"strings"

	"github.com/opd-ai/devalang/pkg/token"
)

// tabWidth is the column width of a tab character in leading indentation.
const tabWidth = 4

// Lexer tokenizes one source string. It never fails: bytes it cannot
// classify become Unknown tokens.
type Lexer struct{}

// New creates a lexer.
func New() *Lexer {
	return &Lexer{}
}

// scanner walks the whole source as one character stream, tracking line,
// column and the indentation stack. Scanning as a single stream (rather
// than per line) lets string literals span newlines.
type scanner struct {
	src    string
	pos    int
	line   int
	column int

	indent      int
	indentStack []int
	atLineStart bool

	tokens []token.Token
}

// Lex tokenizes src. The returned stream is terminated by an EOF token and
// every Indent is eventually balanced by a Dedent.
func (l *Lexer) Lex(src string) []token.Token {
	s := &scanner{
		src:         strings.ReplaceAll(src, "\r\n", "\n"),
		line:        1,
		column:      1,
		indentStack: []int{0},
		atLineStart: true,
	}

	for s.pos < len(s.src) {
		if s.atLineStart {
			s.handleLineStart()
			continue
		}
		s.scanToken()
	}

	// A final line without a trailing newline still ends with Newline.
	if !s.atLineStart {
		s.emit(token.Newline, "\\n", s.line, s.column)
	}

	// Drain remaining indentation levels.
	endLine := s.line
	if !s.atLineStart {
		endLine++
	}
	for len(s.indentStack) > 1 {
		s.indentStack = s.indentStack[:len(s.indentStack)-1]
		s.tokens = append(s.tokens, token.New(token.Dedent, "", 0, endLine, 1))
	}

	s.tokens = append(s.tokens, token.New(token.EOF, "", 0, endLine, 1))
	return s.tokens
}

func (s *scanner) emit(kind token.Kind, lexeme string, line, column int) {
	s.tokens = append(s.tokens, token.New(kind, lexeme, s.indent, line, column))
}

// handleLineStart measures leading indentation (tab = 4 columns), skips
// blank lines entirely, and adjusts the indentation stack for content
// lines: strictly deeper pushes an Indent, shallower pops Dedents until
// the levels match.
func (s *scanner) handleLineStart() {
	indent := 0
measure:
	for s.pos < len(s.src) {
		switch s.src[s.pos] {
		case ' ':
			indent++
		case '\t':
			indent += tabWidth
		default:
			break measure
		}
		s.pos++
		s.column++
	}

	// Blank lines leave the indentation stack untouched and emit nothing;
	// trailing whitespace at EOF is no line at all.
	if s.pos >= len(s.src) {
		return
	}
	if s.src[s.pos] == '\n' {
		s.pos++
		s.line++
		s.column = 1
		return
	}

	s.indent = indent
	top := s.indentStack[len(s.indentStack)-1]
	if indent > top {
		s.indentStack = append(s.indentStack, indent)
		s.tokens = append(s.tokens, token.New(token.Indent, "", indent, s.line, 1))
	} else {
		for indent < s.indentStack[len(s.indentStack)-1] {
			s.indentStack = s.indentStack[:len(s.indentStack)-1]
			s.tokens = append(s.tokens, token.New(token.Dedent, "", indent, s.line, 1))
		}
	}
	s.atLineStart = false
}

// scanToken consumes one token (or skips one insignificant character).
func (s *scanner) scanToken() {
	ch := s.src[s.pos]
	line, column := s.line, s.column

	switch {
	case ch == '\n':
		s.emit(token.Newline, "\\n", line, column)
		s.pos++
		s.line++
		s.column = 1
		s.atLineStart = true

	case ch == ' ' || ch == '\t':
		s.pos++
		s.column++

	case ch == '#':
		// Comment runs to end of line; the newline stays in the stream.
		start := s.pos
		for s.pos < len(s.src) && s.src[s.pos] != '\n' {
			s.pos++
			s.column++
		}
		s.emit(token.Comment, strings.TrimSpace(s.src[start:s.pos]), line, column)

	case ch == '"' || ch == '\'':
		s.scanString()

	case ch >= '0' && ch <= '9':
		s.scanNumber(s.pos)

	case ch == '@':
		s.emit(token.At, "@", line, column)
		s.pos++
		s.column++

	case ch == '-':
		switch {
		case s.pos+1 < len(s.src) && s.src[s.pos+1] == '>':
			s.emit(token.Arrow, "->", line, column)
			s.pos += 2
			s.column += 2
		case s.pos+1 < len(s.src) && s.src[s.pos+1] >= '0' && s.src[s.pos+1] <= '9':
			s.pos++
			s.column++
			s.scanNumber(s.pos - 1)
		default:
			s.emit(token.Minus, "-", line, column)
			s.pos++
			s.column++
		}

	case ch == '=':
		s.scanOperator("==", token.DoubleEquals, token.Equals)
	case ch == '!':
		s.scanOperator("!=", token.NotEquals, token.Unknown)
	case ch == '>':
		s.scanOperator(">=", token.GreaterEqual, token.Greater)
	case ch == '<':
		s.scanOperator("<=", token.LessEqual, token.Less)

	case ch == '{':
		s.single(token.LBrace)
	case ch == '}':
		s.single(token.RBrace)
	case ch == '[':
		s.single(token.LBracket)
	case ch == ']':
		s.single(token.RBracket)
	case ch == '(':
		s.single(token.LParen)
	case ch == ')':
		s.single(token.RParen)
	case ch == ',':
		s.single(token.Comma)
	case ch == ':':
		s.single(token.Colon)
	case ch == '+':
		s.single(token.Plus)
	case ch == '*':
		s.single(token.Asterisk)
	case ch == '/':
		s.single(token.Slash)
	case ch == '.':
		s.single(token.Dot)

	case isIdentifierStart(ch):
		start := s.pos
		for s.pos < len(s.src) && isIdentifierChar(s.src[s.pos]) {
			s.pos++
			s.column++
		}
		ident := s.src[start:s.pos]
		lower := strings.ToLower(ident)
		kind := token.Identifier
		if kw, ok := token.KeywordKind(lower); ok {
			kind = kw
		} else if lower == "true" || lower == "false" {
			kind = token.Boolean
		}
		s.emit(kind, ident, line, column)

	default:
		s.emit(token.Unknown, string(ch), line, column)
		s.pos++
		s.column++
	}
}

// single emits a one-character structural token.
func (s *scanner) single(kind token.Kind) {
	s.emit(kind, s.src[s.pos:s.pos+1], s.line, s.column)
	s.pos++
	s.column++
}

// scanOperator emits the two-character form when it matches, otherwise
// the one-character fallback.
func (s *scanner) scanOperator(pair string, pairKind, singleKind token.Kind) {
	line, column := s.line, s.column
	if s.pos+1 < len(s.src) && s.src[s.pos+1] == pair[1] {
		s.emit(pairKind, pair, line, column)
		s.pos += 2
		s.column += 2
		return
	}
	s.emit(singleKind, s.src[s.pos:s.pos+1], line, column)
	s.pos++
	s.column++
}

// scanString consumes a quoted literal. Backslash escapes the next
// character; the literal may span newlines, each embedded newline
// incrementing the line counter and resetting the column. The lexeme
// keeps its surrounding quotes; Unescape interprets the escapes.
func (s *scanner) scanString() {
	quote := s.src[s.pos]
	startLine, startColumn := s.line, s.column
	start := s.pos

	s.pos++
	s.column++
	escaped := false
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c == quote && !escaped {
			s.pos++
			s.column++
			break
		}
		escaped = !escaped && c == '\\'
		s.pos++
		if c == '\n' {
			s.line++
			s.column = 1
		} else {
			s.column++
		}
	}

	lexeme := s.src[start:s.pos]
	s.tokens = append(s.tokens, token.New(token.String, lexeme, s.indent, startLine, startColumn))
}

// scanNumber consumes a decimal number whose lexeme starts at start (one
// before the cursor for signed numbers).
func (s *scanner) scanNumber(start int) {
	line := s.line
	column := s.column - (s.pos - start)
	sawDot := false
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c >= '0' && c <= '9' {
			s.pos++
			s.column++
			continue
		}
		if c == '.' && !sawDot && s.pos+1 < len(s.src) &&
			s.src[s.pos+1] >= '0' && s.src[s.pos+1] <= '9' {
			sawDot = true
			s.pos++
			s.column++
			continue
		}
		break
	}
	s.emit(token.Number, s.src[start:s.pos], line, column)
}

func isIdentifierStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentifierChar(c byte) bool {
	return isIdentifierStart(c) || (c >= '0' && c <= '9')
}

// Unescape interprets the backslash escapes of a quoted lexeme and strips
// the surrounding quotes.
func Unescape(lexeme string) string {
	if len(lexeme) >= 2 && (lexeme[0] == '"' || lexeme[0] == '\'') {
		quote := lexeme[0]
		body := lexeme[1:]
		if body[len(body)-1] == quote {
			body = body[:len(body)-1]
		}
		var b strings.Builder
		escaped := false
		for i := 0; i < len(body); i++ {
			c := body[i]
			if escaped {
				switch c {
				case 'n':
					b.WriteByte('\n')
				case 't':
					b.WriteByte('\t')
				case '\\', '"', '\'':
					b.WriteByte(c)
				default:
					b.WriteByte('\\')
					b.WriteByte(c)
				}
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			b.WriteByte(c)
		}
		return b.String()
	}
	return lexeme
}
