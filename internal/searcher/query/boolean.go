package query

import (
	"net/http"
	"strings"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/tokenizer"
	apperrors "github.com/Hikikomori041/m2-projetweb/pkg/errors"
)

// ParseBoolean parses text with the operators AND, OR and NOT (upper case)
// and parentheses. AND binds tighter than OR; words with no operator
// between them are OR-ed as in Parse.
//
//	service AND (prix OR tarif) NOT lent
//
// Malformed input fails with ErrParse.
func ParseBoolean(analyzer *tokenizer.Analyzer, text string) (Query, error) {
	p := &boolParser{analyzer: analyzer, tokens: lexBoolean(text)}
	if len(p.tokens) == 0 {
		return Or(), nil
	}
	q, err := p.parseOr()
	if err != nil {
		return Query{}, err
	}
	if p.pos < len(p.tokens) {
		return Query{}, p.errorf("unexpected %q", p.tokens[p.pos])
	}
	return q, nil
}

func lexBoolean(text string) []string {
	text = strings.NewReplacer("(", " ( ", ")", " ) ").Replace(text)
	return strings.Fields(text)
}

type boolParser struct {
	analyzer *tokenizer.Analyzer
	tokens   []string
	pos      int
}

func (p *boolParser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *boolParser) errorf(format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrParse, http.StatusBadRequest, "at token %d: "+format, append([]any{p.pos + 1}, args...)...)
}

// parseOr: and { [OR] and }
func (p *boolParser) parseOr() (Query, error) {
	first, err := p.parseAnd()
	if err != nil {
		return Query{}, err
	}
	clauses := []Query{first}
	for {
		switch tok := p.peek(); tok {
		case "", ")":
			return flatten(KindOr, clauses), nil
		case "OR":
			p.pos++
		}
		next, err := p.parseAnd()
		if err != nil {
			return Query{}, err
		}
		clauses = append(clauses, next)
	}
}

// parseAnd: unary { AND unary | NOT unary }
func (p *boolParser) parseAnd() (Query, error) {
	first, err := p.parseUnary()
	if err != nil {
		return Query{}, err
	}
	clauses := []Query{first}
	for {
		switch p.peek() {
		case "AND":
			p.pos++
		case "NOT":
			// "a NOT b" reads as "a AND NOT b".
		default:
			return flatten(KindAnd, clauses), nil
		}
		next, err := p.parseUnary()
		if err != nil {
			return Query{}, err
		}
		clauses = append(clauses, next)
	}
}

func (p *boolParser) parseUnary() (Query, error) {
	switch tok := p.peek(); tok {
	case "":
		return Query{}, p.errorf("missing operand at end of query")
	case "AND", "OR":
		return Query{}, p.errorf("operator %s without left operand", tok)
	case ")":
		return Query{}, p.errorf("unbalanced ')'")
	case "NOT":
		p.pos++
		inner, err := p.parseUnary()
		if err != nil {
			return Query{}, err
		}
		return Not(inner), nil
	case "(":
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return Query{}, err
		}
		if p.peek() != ")" {
			return Query{}, p.errorf("missing ')'")
		}
		p.pos++
		return inner, nil
	default:
		p.pos++
		terms := p.analyzer.Terms(tok)
		clauses := make([]Query, len(terms))
		for i, term := range terms {
			clauses[i] = Term(term)
		}
		if len(clauses) == 1 {
			return clauses[0], nil
		}
		return Or(clauses...), nil
	}
}

func flatten(kind Kind, clauses []Query) Query {
	if len(clauses) == 1 {
		return clauses[0]
	}
	return Query{Kind: kind, Clauses: clauses}
}
