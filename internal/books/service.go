package books

import (
	"bookbot/internal/knowledge"
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Fixed replies used when the knowledge base has nothing to say.
const (
	MsgAuthorMissing   = "This author is missing in the database. Please, connect bot to Internet."
	MsgBookMissing     = "There is no such book in the database. \n Please, connect bot to the Internet."
	MsgNotEnoughData   = "Not enough data. Please connect bot to the Internet"
	MsgGenresMissing   = "Sorry, I can't tell you about book genres. Please, connect bot to Internet."
	MsgWorthReading    = "I definitely recommend you this book! It's rate is pretty high."
	MsgNotWorthReading = "I do not recommend you this book. Based on it's rate I can say that many people were disappointed."
	MsgNoPreference    = "Sorry, I couldn't find your favorite book genre."
)

// Solver is the read side of the knowledge store.
type Solver interface {
	Solve(ctx context.Context, q knowledge.Query) (knowledge.SolutionSet, error)
}

// Service turns single-shot book questions into knowledge queries and
// renders the answers. Engine failures are logged and answered with the
// fixed fallback of the question.
type Service struct {
	kb     Solver
	logger *zap.Logger
}

func NewService(kb Solver, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{kb: kb, logger: logger.Named("books")}
}

// solve reports false when the engine failed; the returned set is then empty.
func (s *Service) solve(ctx context.Context, q knowledge.Query) (knowledge.SolutionSet, bool) {
	set, err := s.kb.Solve(ctx, q)
	if err != nil {
		s.logger.Warn("knowledge query failed", zap.Stringer("query", q), zap.Error(err))
		return knowledge.SolutionSet{}, false
	}
	return set, true
}

// AuthorsBooks lists every title of the author once, in the order the base returns them.
func (s *Service) AuthorsBooks(ctx context.Context, author string) string {
	if author == "" {
		return MsgAuthorMissing
	}
	set, _ := s.solve(ctx, knowledge.NewQuery(knowledge.PredBook,
		knowledge.Var("B"), knowledge.Str(author), knowledge.Any(), knowledge.Any()))
	titles := set.Values("B")
	if len(titles) == 0 {
		return MsgAuthorMissing
	}

	var b strings.Builder
	b.WriteString(author)
	b.WriteString(" wrote such books: ")
	for _, title := range titles {
		b.WriteString("\n ")
		b.WriteString(title)
	}
	return b.String()
}

func (s *Service) AuthorOfBook(ctx context.Context, title string) string {
	if title == "" {
		return MsgBookMissing
	}
	set, _ := s.solve(ctx, knowledge.NewQuery(knowledge.PredBook,
		knowledge.Str(title), knowledge.Var("Author"), knowledge.Any(), knowledge.Any()))
	sol, ok := set.First()
	if !ok || sol["Author"] == "" {
		return MsgBookMissing
	}
	return fmt.Sprintf("%s wrote book %s", sol["Author"], title)
}

// RecommendBook picks the best rated book, within genre when one is given.
func (s *Service) RecommendBook(ctx context.Context, genre string) string {
	best, ok := s.bestBook(ctx, genre)
	if !ok {
		return MsgNotEnoughData
	}
	return renderRecommendation(best)
}

// RecommendByPreference recommends within the user's preferred genre and
// falls back to the best book overall when that genre has no books.
func (s *Service) RecommendByPreference(ctx context.Context, user string) string {
	if strings.TrimSpace(user) == "" {
		return MsgNoPreference
	}
	genre, ok := s.preferredGenre(ctx, user)
	if !ok {
		return fmt.Sprintf("Sorry, I couldn't find what books %s likes.", user)
	}
	if best, ok := s.bestBook(ctx, genre); ok {
		return fmt.Sprintf("%s likes %s books. %s", user, genre, renderRecommendation(best))
	}
	best, ok := s.bestBook(ctx, "")
	if !ok {
		return MsgNotEnoughData
	}
	return fmt.Sprintf("%s likes %s books, but I know none of them. The best book of any genre: %s",
		user, genre, renderRecommendation(best))
}

func (s *Service) Genres(ctx context.Context) string {
	set, _ := s.solve(ctx, knowledge.NewQuery(knowledge.PredGenre, knowledge.Var("G")))
	genres := set.Values("G")
	if len(genres) == 0 {
		return MsgGenresMissing
	}
	var b strings.Builder
	b.WriteString("These are different book genres: ")
	for _, g := range genres {
		b.WriteString("\n ")
		b.WriteString(g)
	}
	return b.String()
}

func (s *Service) BookWorthReading(ctx context.Context, title string) string {
	if title == "" {
		return MsgBookMissing
	}
	set, ok := s.solve(ctx, knowledge.NewQuery(knowledge.PredBookWorth, knowledge.Str(title)))
	if !ok {
		return MsgBookMissing
	}
	if set.Success {
		return MsgWorthReading
	}
	return MsgNotWorthReading
}

func (s *Service) AuthorFamous(ctx context.Context, author string) string {
	if author == "" {
		return MsgAuthorMissing
	}
	set, ok := s.solve(ctx, knowledge.NewQuery(knowledge.PredAuthorFamous, knowledge.Str(author)))
	if !ok {
		return MsgAuthorMissing
	}
	if set.Success {
		return fmt.Sprintf("%s is very famous all around the world. You should definitely get acquainted with his/her books.", author)
	}
	return fmt.Sprintf("No, %s is not very famous.", author)
}

type pick struct {
	name, author, rate string
}

// bestBook returns the first solution carrying the maximum rate.
func (s *Service) bestBook(ctx context.Context, genre string) (pick, bool) {
	genreTerm := knowledge.Any()
	if genre != "" {
		genreTerm = knowledge.Str(genre)
	}
	set, _ := s.solve(ctx, knowledge.NewQuery(knowledge.PredBook,
		knowledge.Var("BookName"), knowledge.Var("BookAuthor"), knowledge.Var("Rate"), genreTerm))

	var (
		best    pick
		bestVal float64
		found   bool
	)
	for _, sol := range set.Solutions {
		rate, err := strconv.ParseFloat(sol["Rate"], 64)
		if err != nil {
			s.logger.Warn("skipping book with non-numeric rate",
				zap.String("book", sol["BookName"]), zap.String("rate", sol["Rate"]))
			continue
		}
		if !found || rate > bestVal {
			best = pick{name: sol["BookName"], author: sol["BookAuthor"], rate: sol["Rate"]}
			bestVal = rate
			found = true
		}
	}
	return best, found
}

// Preference facts are keyed by lower-case user names; the exact spelling is tried first.
func (s *Service) preferredGenre(ctx context.Context, user string) (string, bool) {
	for _, candidate := range []string{user, strings.ToLower(user)} {
		set, _ := s.solve(ctx, knowledge.NewQuery(knowledge.PredPrefers, knowledge.Str(candidate), knowledge.Var("Genre")))
		if sol, ok := set.First(); ok {
			return sol["Genre"], true
		}
	}
	return "", false
}

func renderRecommendation(p pick) string {
	return fmt.Sprintf("I recommend you such book: \n Name: '%s' \n Author: %s \n Rate: %s", p.name, p.author, p.rate)
}
