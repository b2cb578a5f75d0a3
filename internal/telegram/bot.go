package telegram

import (
	"bookbot/model"
	"bookbot/service/dialog"
	"bookbot/utils"
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TurnHandler runs one conversation turn.
type TurnHandler interface {
	HandleTurn(ctx context.Context, turn model.ConversationTurn, out dialog.Responder) error
}

// Bot turns Telegram updates into conversation turns. Every chat is one conversation.
type Bot struct {
	api     *tgbotapi.BotAPI
	s       sender
	selfID  int64
	handler TurnHandler
	timeout int
	logger  *zap.Logger
}

func New(token string, timeout int, debug bool, handler TurnHandler, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	api.Debug = debug
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		api:     api,
		s:       botAPISender{api: api},
		selfID:  api.Self.ID,
		handler: handler,
		timeout: timeout,
		logger:  logger.Named("telegram"),
	}, nil
}

// Run polls for updates until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.timeout

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("polling for updates", zap.String("bot", b.api.Self.UserName))
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	turn, ok := b.toTurn(update)
	if !ok {
		return
	}
	chatID, _ := strconv.ParseInt(turn.ConversationID, 10, 64)
	out := &chatResponder{chatID: chatID, s: b.s}
	if err := b.handler.HandleTurn(ctx, turn, out); err != nil {
		b.logger.Error("turn failed",
			zap.Int64("chat_id", chatID),
			zap.String("kind", string(turn.Kind)),
			zap.Error(err))
	}
}

// toTurn maps messages, joins and inline button presses. Other updates are ignored.
func (b *Bot) toTurn(update tgbotapi.Update) (model.ConversationTurn, bool) {
	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		cb := update.CallbackQuery
		turn := model.ConversationTurn{
			Kind:           model.TurnMessage,
			Text:           utils.NormalizeString(cb.Data),
			ConversationID: strconv.FormatInt(cb.Message.Chat.ID, 10),
			RecipientID:    strconv.FormatInt(b.selfID, 10),
		}
		if cb.From != nil {
			turn.FromID = strconv.FormatInt(cb.From.ID, 10)
		}
		return turn, true

	case update.Message != nil && len(update.Message.NewChatMembers) > 0:
		msg := update.Message
		turn := model.ConversationTurn{
			Kind:           model.TurnMembershipChange,
			ConversationID: strconv.FormatInt(msg.Chat.ID, 10),
			RecipientID:    strconv.FormatInt(b.selfID, 10),
		}
		for _, member := range msg.NewChatMembers {
			turn.AddedMemberIDs = append(turn.AddedMemberIDs, strconv.FormatInt(member.ID, 10))
		}
		return turn, true

	case update.Message != nil && update.Message.Text != "":
		msg := update.Message
		turn := model.ConversationTurn{
			Kind:           model.TurnMessage,
			Text:           utils.NormalizeString(msg.Text),
			ConversationID: strconv.FormatInt(msg.Chat.ID, 10),
			RecipientID:    strconv.FormatInt(b.selfID, 10),
		}
		if msg.From != nil {
			turn.FromID = strconv.FormatInt(msg.From.ID, 10)
		}
		return turn, true
	}
	return model.ConversationTurn{}, false
}

// chatResponder sends the replies of a turn to one chat as they are produced.
type chatResponder struct {
	chatID int64
	s      sender
}

func (r *chatResponder) Send(_ context.Context, reply model.Reply) error {
	var msg tgbotapi.MessageConfig
	if reply.Attachment != nil {
		card, err := renderCard(r.chatID, reply.Attachment.Content)
		if err != nil {
			return err
		}
		msg = card
	} else {
		msg = tgbotapi.NewMessage(r.chatID, reply.Text)
	}
	if _, err := r.s.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
