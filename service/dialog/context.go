package dialog

import (
	"bookbot/dao"
	"bookbot/model"
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Context is the dialog stack of one conversation for the duration of one
// turn. The caller persists Stack() when the turn ends.
type Context struct {
	dialogs   *Set
	stack     []model.DialogFrame
	text      string
	user      *dao.Scope
	out       Responder
	responded bool
	logger    *zap.Logger
}

func NewContext(dialogs *Set, stack []model.DialogFrame, text string, user *dao.Scope, out Responder, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		dialogs: dialogs,
		stack:   append([]model.DialogFrame(nil), stack...),
		text:    text,
		user:    user,
		out:     out,
		logger:  logger,
	}
}

// Text is the raw user message of the turn.
func (dc *Context) Text() string { return dc.text }

// UserState is the per-user scope of the turn.
func (dc *Context) UserState() *dao.Scope { return dc.user }

// Responded reports whether anything was sent during the turn.
func (dc *Context) Responded() bool { return dc.responded }

func (dc *Context) Stack() []model.DialogFrame {
	return append([]model.DialogFrame(nil), dc.stack...)
}

func (dc *Context) Send(ctx context.Context, reply model.Reply) error {
	dc.responded = true
	return dc.out.Send(ctx, reply)
}

func (dc *Context) SendText(ctx context.Context, text string) error {
	return dc.Send(ctx, model.Reply{Text: text})
}

// ActiveDialog returns a copy of the top frame.
func (dc *Context) ActiveDialog() (model.DialogFrame, bool) {
	if len(dc.stack) == 0 {
		return model.DialogFrame{}, false
	}
	return dc.stack[len(dc.stack)-1], true
}

func (dc *Context) top() *model.DialogFrame {
	return &dc.stack[len(dc.stack)-1]
}

// BeginDialog pushes a frame for id and runs its first step.
func (dc *Context) BeginDialog(ctx context.Context, id string, options map[string]string) (TurnResult, error) {
	d, ok := dc.dialogs.Find(id)
	if !ok {
		return TurnResult{}, fmt.Errorf("%w: %q", ErrUnknownDialog, id)
	}
	frame := model.DialogFrame{DialogID: id, State: map[string]string{}}
	if len(options) > 0 {
		frame.Options = make(map[string]string, len(options))
		for k, v := range options {
			frame.Options[k] = v
		}
	}
	dc.stack = append(dc.stack, frame)
	dc.logger.Debug("dialog begin", zap.String("dialog", id), zap.Int("depth", len(dc.stack)))
	return d.Begin(ctx, dc, frame.Options)
}

// ContinueDialog hands the turn's message to the active dialog. A frame that
// names an unknown dialog is reported as StatusCancelRequested.
func (dc *Context) ContinueDialog(ctx context.Context) (TurnResult, error) {
	frame, ok := dc.ActiveDialog()
	if !ok {
		return TurnResult{Status: model.StatusEmpty}, nil
	}
	d, ok := dc.dialogs.Find(frame.DialogID)
	if !ok {
		dc.logger.Warn("active dialog is not registered", zap.String("dialog", frame.DialogID))
		return TurnResult{Status: model.StatusCancelRequested}, nil
	}
	return d.Continue(ctx, dc)
}

// EndDialog pops the active frame and resumes the parent with result.
func (dc *Context) EndDialog(ctx context.Context, result string) (TurnResult, error) {
	if len(dc.stack) == 0 {
		return TurnResult{Status: model.StatusComplete, Result: result}, nil
	}
	ended := dc.stack[len(dc.stack)-1].DialogID
	dc.stack = dc.stack[:len(dc.stack)-1]
	dc.logger.Debug("dialog end", zap.String("dialog", ended), zap.Int("depth", len(dc.stack)))

	parent, ok := dc.ActiveDialog()
	if !ok {
		return TurnResult{Status: model.StatusComplete, Result: result}, nil
	}
	d, ok := dc.dialogs.Find(parent.DialogID)
	if !ok {
		dc.logger.Warn("parent dialog is not registered", zap.String("dialog", parent.DialogID))
		return TurnResult{Status: model.StatusCancelRequested}, nil
	}
	return d.Resume(ctx, dc, result)
}

// CancelAllDialogs clears the stack and reports whether anything was active.
func (dc *Context) CancelAllDialogs() bool {
	active := len(dc.stack) > 0
	if active {
		dc.logger.Debug("dialogs canceled", zap.Int("depth", len(dc.stack)))
	}
	dc.stack = nil
	return active
}

// RepromptDialog asks the active dialog to repeat its pending question.
func (dc *Context) RepromptDialog(ctx context.Context) error {
	frame, ok := dc.ActiveDialog()
	if !ok {
		return nil
	}
	d, ok := dc.dialogs.Find(frame.DialogID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDialog, frame.DialogID)
	}
	return d.Reprompt(ctx, dc)
}

// Prompt begins the prompt dialog promptID asking text.
func (dc *Context) Prompt(ctx context.Context, promptID, text string) (TurnResult, error) {
	return dc.BeginDialog(ctx, promptID, map[string]string{OptionPrompt: text})
}
