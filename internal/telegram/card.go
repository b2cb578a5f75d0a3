package telegram

import (
	"encoding/json"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// adaptiveCard holds the parts of an adaptive card Telegram can show.
type adaptiveCard struct {
	Body []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"body"`
	Actions []struct {
		Type  string `json:"type"`
		Title string `json:"title"`
		Data  string `json:"data"`
	} `json:"actions"`
}

// renderCard turns an adaptive card into a text message with one inline
// button per submit action. Pressing a button sends its data back as a message.
func renderCard(chatID int64, content json.RawMessage) (tgbotapi.MessageConfig, error) {
	var card adaptiveCard
	if err := json.Unmarshal(content, &card); err != nil {
		return tgbotapi.MessageConfig{}, fmt.Errorf("decode adaptive card: %w", err)
	}

	var lines []string
	for _, block := range card.Body {
		if block.Type == "TextBlock" && strings.TrimSpace(block.Text) != "" {
			lines = append(lines, block.Text)
		}
	}
	msg := tgbotapi.NewMessage(chatID, strings.Join(lines, "\n\n"))

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, action := range card.Actions {
		if action.Type != "Action.Submit" || action.Data == "" {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(action.Title, action.Data)))
	}
	if len(rows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	return msg, nil
}
