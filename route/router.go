package route

import (
	"bookbot/api"

	"github.com/gin-gonic/gin"
)

func Register(r *gin.Engine, chatSvc api.TurnHandler, kb api.KnowledgeBase) {

	// health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// turn events from a hosting channel
	r.POST("/activities", api.ActivityHandler(chatSvc))

	chatGroup := r.Group("/chat")
	{
		chatGroup.POST("", api.ChatHandler(chatSvc)) // POST /chat
	}
	r.POST("/conversation/members", api.MembersHandler(chatSvc))

	knowledgeGroup := r.Group("/knowledge")
	{
		knowledgeGroup.GET("/books", api.ListBooksHandler(kb))
		knowledgeGroup.GET("/genres", api.ListGenresHandler(kb))
		knowledgeGroup.GET("/count", api.KnowledgeCountHandler(kb))
	}
}
