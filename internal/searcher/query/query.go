// Package query parses search text into a Query tree and evaluates it
// against an index snapshot.
package query

import (
	"fmt"
	"strings"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/tokenizer"
)

// Kind tags the variant a Query holds.
type Kind int

const (
	KindTerm Kind = iota
	KindOr
	KindAnd
	KindNot
)

func (k Kind) String() string {
	switch k {
	case KindTerm:
		return "TERM"
	case KindOr:
		return "OR"
	case KindAnd:
		return "AND"
	case KindNot:
		return "NOT"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Query is a node of the query tree. Term is set for KindTerm; Clauses for
// KindOr and KindAnd; a KindNot node has exactly one clause, the excluded
// query, and only restricts the KindAnd node it belongs to.
type Query struct {
	Kind    Kind
	Term    string
	Clauses []Query
}

func Term(term string) Query { return Query{Kind: KindTerm, Term: term} }

func Or(clauses ...Query) Query { return Query{Kind: KindOr, Clauses: clauses} }

func And(clauses ...Query) Query { return Query{Kind: KindAnd, Clauses: clauses} }

func Not(clause Query) Query { return Query{Kind: KindNot, Clauses: []Query{clause}} }

// IsEmpty reports whether q can match no document at all.
func (q Query) IsEmpty() bool {
	switch q.Kind {
	case KindTerm:
		return q.Term == ""
	case KindNot:
		return true
	default:
		for _, c := range q.Clauses {
			if !c.IsEmpty() {
				return false
			}
		}
		return true
	}
}

// Terms lists the terms of q in order, duplicates included, excluded terms
// left out.
func (q Query) Terms() []string {
	var out []string
	var walk func(Query)
	walk = func(q Query) {
		switch q.Kind {
		case KindTerm:
			out = append(out, q.Term)
		case KindOr, KindAnd:
			for _, c := range q.Clauses {
				walk(c)
			}
		}
	}
	walk(q)
	return out
}

func (q Query) String() string {
	switch q.Kind {
	case KindTerm:
		return q.Term
	case KindNot:
		return "NOT " + q.Clauses[0].String()
	default:
		parts := make([]string, len(q.Clauses))
		for i, c := range q.Clauses {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, " "+q.Kind.String()+" ") + ")"
	}
}

// Parse builds the OR of every term of text. Each whitespace-separated
// word is analysed on its own, so "bon-prix" contributes both "bon" and
// "prix". Repeated words are kept and weigh their term more.
func Parse(analyzer *tokenizer.Analyzer, text string) Query {
	var clauses []Query
	for _, word := range strings.Fields(text) {
		for _, term := range analyzer.Terms(word) {
			clauses = append(clauses, Term(term))
		}
	}
	return Or(clauses...)
}
