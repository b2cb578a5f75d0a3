package api

import (
	"bookbot/dao"
	"bookbot/model"
	"bookbot/service"
	"bookbot/service/dialog"
	"bookbot/utils"
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TurnHandler runs one conversation turn.
type TurnHandler interface {
	HandleTurn(ctx context.Context, turn model.ConversationTurn, out dialog.Responder) error
}

// ActivityHandler accepts a raw turn event.
func ActivityHandler(chatSvc TurnHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var turn model.ConversationTurn
		if err := c.ShouldBindJSON(&turn); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
			return
		}
		runTurn(c, chatSvc, turn)
	}
}

// ChatHandler posts one message. A new conversation id is assigned when the caller sends none.
func ChatHandler(chatSvc TurnHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
			return
		}
		req.ConversationID = utils.FirstNonEmpty(req.ConversationID, uuid.NewString())

		runTurn(c, chatSvc, model.ConversationTurn{
			Kind:           model.TurnMessage,
			Text:           req.Message,
			ConversationID: req.ConversationID,
			FromID:         req.UserID,
		})
	}
}

// MembersHandler reports members joining a conversation.
func MembersHandler(chatSvc TurnHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.MembersRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
			return
		}

		runTurn(c, chatSvc, model.ConversationTurn{
			Kind:           model.TurnMembershipChange,
			ConversationID: req.ConversationID,
			RecipientID:    req.RecipientID,
			AddedMemberIDs: req.AddedMemberIDs,
		})
	}
}

func runTurn(c *gin.Context, chatSvc TurnHandler, turn model.ConversationTurn) {
	buf := &service.ReplyBuffer{}
	err := chatSvc.HandleTurn(c.Request.Context(), turn, buf)
	switch {
	case errors.Is(err, dao.ErrInvalidParam):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	replies := buf.Replies()
	if replies == nil {
		replies = []model.Reply{}
	}
	c.JSON(http.StatusOK, model.ChatResponse{
		ConversationID: turn.ConversationID,
		Replies:        replies,
	})
}
