package api

import (
	"bookbot/internal/knowledge"
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// KnowledgeBase is the read-only view of the book base served over HTTP.
type KnowledgeBase interface {
	Books(ctx context.Context) ([]knowledge.Book, error)
	Solve(ctx context.Context, q knowledge.Query) (knowledge.SolutionSet, error)
	Stats() map[string]int
}

type ListBooksResponse struct {
	Data  []knowledge.Book `json:"data"`
	Total int              `json:"total"`
}

type ListGenresResponse struct {
	Data  []string `json:"data"`
	Total int      `json:"total"`
}

type CountKnowledgeResponse struct {
	Facts map[string]int `json:"facts"`
}

func ListBooksHandler(kb KnowledgeBase) gin.HandlerFunc {
	return func(c *gin.Context) {
		books, err := kb.Books(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if books == nil {
			books = []knowledge.Book{}
		}
		c.JSON(http.StatusOK, ListBooksResponse{Data: books, Total: len(books)})
	}
}

func ListGenresHandler(kb KnowledgeBase) gin.HandlerFunc {
	return func(c *gin.Context) {
		set, err := kb.Solve(c.Request.Context(), knowledge.NewQuery(knowledge.PredGenre, knowledge.Var("Genre")))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		genres := set.Values("Genre")
		if genres == nil {
			genres = []string{}
		}
		c.JSON(http.StatusOK, ListGenresResponse{Data: genres, Total: len(genres)})
	}
}

func KnowledgeCountHandler(kb KnowledgeBase) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, CountKnowledgeResponse{Facts: kb.Stats()})
	}
}
