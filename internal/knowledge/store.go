package knowledge

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"
)

//go:embed books.mg
var defaultProgram []byte

// Predicates of the book base.
const (
	PredBook         = "book"
	PredGenre        = "genre"
	PredPrefers      = "prefers"
	PredBookWorth    = "book_worth_reading"
	PredAuthorFamous = "author_world_famous"
)

// Book is one title with all genres it is filed under.
type Book struct {
	Name   string   `json:"name"`
	Author string   `json:"author"`
	Rate   float64  `json:"rate"`
	Genres []string `json:"genres"`
}

// Store is an evaluated Mangle program. It is built once and only read
// afterwards, so concurrent Solve calls need no locking.
type Store struct {
	store      factstore.FactStore
	predicates map[string]ast.PredicateSym
	// declaration order of base facts, keyed by factKey
	order  map[string]int
	logger *zap.Logger
}

// LoadDefault evaluates the embedded book base.
func LoadDefault(logger *zap.Logger) (*Store, error) {
	return Load(bytes.NewReader(defaultProgram), logger)
}

func LoadFile(path string, logger *zap.Logger) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open knowledge base: %w", err)
	}
	defer f.Close()
	return Load(f, logger)
}

// Load parses, analyzes and evaluates a program to fixpoint.
func Load(source io.Reader, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("knowledge")

	unit, err := parse.Unit(source)
	if err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}

	order := make(map[string]int)
	for _, clause := range unit.Clauses {
		if len(clause.Premises) != 0 {
			continue
		}
		key := factKey(clause.Head)
		if _, dup := order[key]; !dup {
			order[key] = len(order)
		}
	}

	programInfo, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze knowledge base: %w", err)
	}

	store := factstore.NewSimpleInMemoryStore()
	if err := engine.EvalProgram(programInfo, store); err != nil {
		return nil, fmt.Errorf("evaluate knowledge base: %w", err)
	}

	predicates := make(map[string]ast.PredicateSym, len(programInfo.Decls))
	for sym := range programInfo.Decls {
		predicates[sym.Symbol] = sym
	}

	s := &Store{store: store, predicates: predicates, order: order, logger: logger}
	logger.Info("knowledge base loaded",
		zap.Int("base_facts", len(order)),
		zap.Int("predicates", len(predicates)))
	return s, nil
}

// Solve returns every fact matching the query. Base facts come first in
// declaration order, derived facts follow in lexical order.
func (s *Store) Solve(ctx context.Context, q Query) (SolutionSet, error) {
	if err := ctx.Err(); err != nil {
		return SolutionSet{}, err
	}
	sym, ok := s.predicates[q.Predicate]
	if !ok || sym.Arity != len(q.Args) {
		return SolutionSet{}, fmt.Errorf("unknown predicate %s/%d", q.Predicate, len(q.Args))
	}

	type hit struct {
		seq int
		key string
		sol Solution
	}
	var hits []hit
	err := s.store.GetFacts(q.atom(), func(fact ast.Atom) error {
		sol, ok := q.bind(fact)
		if !ok {
			return nil
		}
		key := factKey(fact)
		seq, base := s.order[key]
		if !base {
			seq = len(s.order)
		}
		hits = append(hits, hit{seq: seq, key: key, sol: sol})
		return nil
	})
	if err != nil {
		return SolutionSet{}, fmt.Errorf("solve %s: %w", q, err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].seq != hits[j].seq {
			return hits[i].seq < hits[j].seq
		}
		return hits[i].key < hits[j].key
	})

	set := SolutionSet{Success: len(hits) > 0, Solutions: make([]Solution, 0, len(hits))}
	for _, h := range hits {
		set.Solutions = append(set.Solutions, h.sol)
	}
	s.logger.Debug("query solved", zap.Stringer("query", q), zap.Int("solutions", len(hits)))
	return set, nil
}

// Books groups the book facts by title, keeping declaration order.
func (s *Store) Books(ctx context.Context) ([]Book, error) {
	set, err := s.Solve(ctx, NewQuery(PredBook, Var("Name"), Var("Author"), Var("Rate"), Var("Genre")))
	if err != nil {
		return nil, err
	}
	var books []Book
	index := make(map[string]int)
	for _, sol := range set.Solutions {
		key := sol["Name"] + "\x00" + sol["Author"]
		if i, ok := index[key]; ok {
			books[i].Genres = append(books[i].Genres, sol["Genre"])
			continue
		}
		rate, err := strconv.ParseFloat(sol["Rate"], 64)
		if err != nil {
			s.logger.Warn("book with non-numeric rate", zap.String("book", sol["Name"]), zap.String("rate", sol["Rate"]))
		}
		index[key] = len(books)
		books = append(books, Book{
			Name:   sol["Name"],
			Author: sol["Author"],
			Rate:   rate,
			Genres: []string{sol["Genre"]},
		})
	}
	return books, nil
}

// Stats counts facts per declared predicate.
func (s *Store) Stats() map[string]int {
	stats := make(map[string]int, len(s.predicates))
	for name, sym := range s.predicates {
		n := 0
		_ = s.store.GetFacts(ast.NewQuery(sym), func(ast.Atom) error {
			n++
			return nil
		})
		stats[name] = n
	}
	return stats
}

func factKey(a ast.Atom) string {
	var b strings.Builder
	b.WriteString(a.Predicate.Symbol)
	for _, arg := range a.Args {
		v, _ := constantValue(arg)
		b.WriteByte(0)
		b.WriteString(v)
	}
	return b.String()
}
