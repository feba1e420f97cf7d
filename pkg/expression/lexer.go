package expression

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokDot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var operators = []string{"&&", "||", "==", "!=", ">=", "<=", ">", "<", "!"}

func tokenize(src string) ([]token, error) {
	var tokens []token

	for i := 0; i < len(src); {
		c := rune(src[i])

		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case c == '[':
			tokens = append(tokens, token{tokLBracket, "[", i})
			i++
		case c == ']':
			tokens = append(tokens, token{tokRBracket, "]", i})
			i++
		case c == ',':
			tokens = append(tokens, token{tokComma, ",", i})
			i++
		case c == '.':
			tokens = append(tokens, token{tokDot, ".", i})
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(src[i+1:], src[i])
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated string at %d", ErrSyntax, i)
			}

			tokens = append(tokens, token{tokString, src[i+1 : i+1+end], i})
			i += end + 2
		case isDigit(src[i]) || (c == '-' && i+1 < len(src) && isDigit(src[i+1]) && expectsOperand(tokens)):
			start := i
			i++

			for i < len(src) && isDigit(src[i]) {
				i++
			}

			if i+1 < len(src) && src[i] == '.' && isDigit(src[i+1]) && !afterDot(tokens) {
				i++

				for i < len(src) && isDigit(src[i]) {
					i++
				}
			}

			tokens = append(tokens, token{tokNumber, src[start:i], start})
		case c == '_' || unicode.IsLetter(c):
			start := i

			for i < len(src) && (src[i] == '_' || isDigit(src[i]) || unicode.IsLetter(rune(src[i]))) {
				i++
			}

			tokens = append(tokens, token{tokIdent, src[start:i], start})
		default:
			op := matchOperator(src[i:])
			if op == "" {
				return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, c, i)
			}

			tokens = append(tokens, token{tokOp, op, i})
			i += len(op)
		}
	}

	return append(tokens, token{tokEOF, "", len(src)}), nil
}

func matchOperator(s string) string {
	for _, op := range operators {
		if strings.HasPrefix(s, op) {
			return op
		}
	}

	return ""
}

// expectsOperand reports whether a leading '-' starts a negative number.
func expectsOperand(tokens []token) bool {
	if len(tokens) == 0 {
		return true
	}

	switch tokens[len(tokens)-1].kind {
	case tokOp, tokLParen, tokLBracket, tokComma:
		return true
	case tokIdent:
		word := tokens[len(tokens)-1].text
		return word == "in" || word == "contains"
	default:
		return false
	}
}

// afterDot reports whether the number being lexed is a path segment.
func afterDot(tokens []token) bool {
	return len(tokens) > 0 && tokens[len(tokens)-1].kind == tokDot
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
