package knowledge

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/mangle/ast"
)

type termKind int

const (
	termAny termKind = iota
	termVar
	termString
)

// Term is one argument of a query pattern.
type Term struct {
	kind  termKind
	name  string
	value string
}

// Var binds the argument to a named variable reported in every solution.
func Var(name string) Term { return Term{kind: termVar, name: name} }

// Str matches the argument against a literal string. The value is data and is
// never parsed as program text.
func Str(value string) Term { return Term{kind: termString, value: value} }

// Any matches every value without binding it.
func Any() Term { return Term{kind: termAny} }

// Query is a single-predicate pattern built from caller values.
type Query struct {
	Predicate string
	Args      []Term
}

func NewQuery(predicate string, args ...Term) Query {
	return Query{Predicate: predicate, Args: args}
}

func (q Query) String() string {
	args := make([]string, len(q.Args))
	for i, a := range q.Args {
		switch a.kind {
		case termVar:
			args[i] = a.name
		case termString:
			args[i] = strconv.Quote(a.value)
		default:
			args[i] = "_"
		}
	}
	return fmt.Sprintf("%s(%s)", q.Predicate, strings.Join(args, ", "))
}

func (q Query) atom() ast.Atom {
	terms := make([]ast.BaseTerm, len(q.Args))
	for i, a := range q.Args {
		switch a.kind {
		case termVar:
			terms[i] = ast.Variable{Symbol: a.name}
		case termString:
			terms[i] = ast.String(a.value)
		default:
			terms[i] = ast.Variable{Symbol: "_"}
		}
	}
	return ast.NewAtom(q.Predicate, terms...)
}

// bind checks a fact against the pattern and extracts the variable bindings.
// A variable used twice must see the same value both times.
func (q Query) bind(fact ast.Atom) (Solution, bool) {
	if len(fact.Args) != len(q.Args) {
		return nil, false
	}
	sol := make(Solution)
	for i, a := range q.Args {
		value, ok := constantValue(fact.Args[i])
		if !ok {
			return nil, false
		}
		switch a.kind {
		case termString:
			c, _ := fact.Args[i].(ast.Constant)
			if c.Type != ast.StringType || c.Symbol != a.value {
				return nil, false
			}
		case termVar:
			if prev, seen := sol[a.name]; seen && prev != value {
				return nil, false
			}
			sol[a.name] = value
		}
	}
	return sol, true
}

func constantValue(term ast.BaseTerm) (string, bool) {
	c, ok := term.(ast.Constant)
	if !ok {
		return "", false
	}
	switch c.Type {
	case ast.StringType, ast.NameType:
		return c.Symbol, true
	case ast.NumberType:
		return strconv.FormatInt(c.NumValue, 10), true
	case ast.Float64Type:
		return strconv.FormatFloat(math.Float64frombits(uint64(c.NumValue)), 'f', -1, 64), true
	default:
		return c.String(), true
	}
}

// Solution maps variable names to the literal they were bound to.
type Solution map[string]string

// SolutionSet is the ordered answer to one query. Solutions must not be read
// when Success is false.
type SolutionSet struct {
	Success   bool
	Solutions []Solution
}

func (s SolutionSet) First() (Solution, bool) {
	if !s.Success || len(s.Solutions) == 0 {
		return nil, false
	}
	return s.Solutions[0], true
}

// Values returns the bindings of one variable in solution order, skipping repeats.
func (s SolutionSet) Values(variable string) []string {
	if !s.Success {
		return nil
	}
	seen := make(map[string]struct{}, len(s.Solutions))
	out := make([]string, 0, len(s.Solutions))
	for _, sol := range s.Solutions {
		v, ok := sol[variable]
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
