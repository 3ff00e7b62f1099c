package lang

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/coregx/ahocorasick"
)

// tokenPattern recognizes every fixed-shape lexeme the mini-language
// needs in one pass: quoted strings, numbers, identifiers (which may
// turn out to be keywords), and the fixed operator punctuation.
var tokenPattern = regexp.MustCompile(`(?s)` + strings.Join([]string{
	`"(?:[^"\\]|\\.)*"`,
	`[0-9]+(?:\.[0-9]+)?`,
	`[A-Za-z_][A-Za-z0-9_]*(?::[A-Za-z_][A-Za-z0-9_]*)?`,
	`==|!=|<=|>=|=|[.*/%+\-()<>]`,
}, `|`))

// keywordMatcher recognizes the mini-language's reserved words inside
// an already-scanned identifier lexeme, the same dual-purpose
// Aho-Corasick role the retrieval pack's own dictionary scanner plays
// for multi-word entity surface forms: one automaton, built once,
// answers "is this identifier actually an operator keyword" without a
// chain of string-equality comparisons.
var keywordMatcher = buildKeywordMatcher()

func buildKeywordMatcher() *ahocorasick.Automaton {
	patterns := make([]string, 0, len(keywords))
	for k := range keywords {
		patterns = append(patterns, k)
	}
	ac, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		Build()
	if err != nil {
		panic(fmt.Sprintf("lang: building keyword automaton: %v", err))
	}
	return ac
}

// classify reports the TokenKind an identifier lexeme should carry: a
// reserved word's kind if the whole lexeme matches one, TokIdent
// otherwise.
func classify(text string) TokenKind {
	matches := keywordMatcher.FindAllOverlapping([]byte(text))
	for _, m := range matches {
		if m.Start == 0 && m.End == len(text) {
			if kind, ok := keywords[text]; ok {
				return kind
			}
		}
	}
	return TokIdent
}

// Tokenize splits src into Tokens, tracking 1-indexed source lines for
// QueryParseError reporting.
func Tokenize(src string) ([]Token, error) {
	var tokens []Token
	line := 1
	pos := 0
	for pos < len(src) {
		c := src[pos]
		if c == '\n' {
			line++
			pos++
			continue
		}
		if c == ' ' || c == '\t' || c == '\r' {
			pos++
			continue
		}
		loc := tokenPattern.FindStringIndex(src[pos:])
		if loc == nil || loc[0] != 0 {
			return nil, fmt.Errorf("line %d: unexpected character %q", line, string(c))
		}
		text := src[pos : pos+loc[1]]
		tok, err := makeToken(text, line)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		line += strings.Count(text, "\n")
		pos += loc[1]
	}
	tokens = append(tokens, Token{Kind: TokEOF, Line: line})
	return tokens, nil
}

func makeToken(text string, line int) (Token, error) {
	switch text {
	case ".":
		return Token{Kind: TokDot, Text: text, Line: line}, nil
	case "*":
		return Token{Kind: TokStar, Text: text, Line: line}, nil
	case "/":
		return Token{Kind: TokSlash, Text: text, Line: line}, nil
	case "%":
		return Token{Kind: TokPercent, Text: text, Line: line}, nil
	case "+":
		return Token{Kind: TokPlus, Text: text, Line: line}, nil
	case "-":
		return Token{Kind: TokMinus, Text: text, Line: line}, nil
	case "(":
		return Token{Kind: TokLParen, Text: text, Line: line}, nil
	case ")":
		return Token{Kind: TokRParen, Text: text, Line: line}, nil
	case "==", "=":
		return Token{Kind: TokEq, Text: text, Line: line}, nil
	case "!=":
		return Token{Kind: TokNeq, Text: text, Line: line}, nil
	case "<":
		return Token{Kind: TokLt, Text: text, Line: line}, nil
	case "<=":
		return Token{Kind: TokLte, Text: text, Line: line}, nil
	case ">":
		return Token{Kind: TokGt, Text: text, Line: line}, nil
	case ">=":
		return Token{Kind: TokGte, Text: text, Line: line}, nil
	}
	if text[0] == '"' {
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			return Token{}, fmt.Errorf("line %d: invalid string literal %s: %w", line, text, err)
		}
		return Token{Kind: TokString, Text: unquoted, Line: line}, nil
	}
	if text[0] >= '0' && text[0] <= '9' {
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Token{}, fmt.Errorf("line %d: invalid number %s: %w", line, text, err)
		}
		return Token{Kind: TokNumber, Text: text, Num: n, Line: line}, nil
	}
	return Token{Kind: classify(text), Text: text, Line: line}, nil
}
