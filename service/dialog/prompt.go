package dialog

import (
	"context"
	"strings"
)

// OptionPrompt is the frame option holding the question a prompt asks.
const OptionPrompt = "prompt"

// Validator normalizes an answer. A non-empty retry message rejects it.
type Validator func(value string) (normalized, retry string)

// TextPrompt asks one question and ends with the validated answer.
type TextPrompt struct {
	id       string
	validate Validator
}

func NewTextPrompt(id string, validate Validator) *TextPrompt {
	return &TextPrompt{id: id, validate: validate}
}

func (p *TextPrompt) ID() string { return p.id }

func (p *TextPrompt) Begin(ctx context.Context, dc *Context, options map[string]string) (TurnResult, error) {
	if err := dc.SendText(ctx, options[OptionPrompt]); err != nil {
		return TurnResult{}, err
	}
	return waiting(), nil
}

// Continue validates the message. A rejected answer gets the retry message
// followed by the original question, and the prompt keeps waiting.
func (p *TextPrompt) Continue(ctx context.Context, dc *Context) (TurnResult, error) {
	value := strings.TrimSpace(dc.Text())
	if p.validate != nil {
		normalized, retry := p.validate(value)
		if retry != "" {
			if err := dc.SendText(ctx, retry); err != nil {
				return TurnResult{}, err
			}
			if err := p.Reprompt(ctx, dc); err != nil {
				return TurnResult{}, err
			}
			return waiting(), nil
		}
		value = normalized
	}
	return dc.EndDialog(ctx, value)
}

func (p *TextPrompt) Resume(ctx context.Context, dc *Context, _ string) (TurnResult, error) {
	if err := p.Reprompt(ctx, dc); err != nil {
		return TurnResult{}, err
	}
	return waiting(), nil
}

func (p *TextPrompt) Reprompt(ctx context.Context, dc *Context) error {
	return dc.SendText(ctx, dc.top().Options[OptionPrompt])
}
