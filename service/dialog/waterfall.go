package dialog

import (
	"bookbot/model"
	"context"

	"go.uber.org/zap"
)

// Step is one stage of a waterfall. It must finish by calling Next, End or
// Prompt on the step context, or by returning a result of its own.
type Step func(ctx context.Context, sc *StepContext) (TurnResult, error)

// StepContext is handed to a running step.
type StepContext struct {
	*Context
	Index   int
	Result  string
	Options map[string]string
	State   map[string]string
	wf      *Waterfall
}

// Next runs the following step with result, or ends the waterfall after the last step.
func (sc *StepContext) Next(ctx context.Context, result string) (TurnResult, error) {
	return sc.wf.Resume(ctx, sc.Context, result)
}

// End finishes the waterfall and hands result to the parent.
func (sc *StepContext) End(ctx context.Context, result string) (TurnResult, error) {
	return sc.EndDialog(ctx, result)
}

// Waterfall runs its steps in order, one step per resume. The frame's Step
// field is the index of the step waiting for a result.
type Waterfall struct {
	id    string
	steps []Step
}

func NewWaterfall(id string, steps ...Step) *Waterfall {
	return &Waterfall{id: id, steps: steps}
}

func (w *Waterfall) ID() string { return w.id }

func (w *Waterfall) Begin(ctx context.Context, dc *Context, _ map[string]string) (TurnResult, error) {
	return w.run(ctx, dc, 0, "")
}

// Continue treats a message that reached the waterfall itself as the result of
// the waiting step.
func (w *Waterfall) Continue(ctx context.Context, dc *Context) (TurnResult, error) {
	if step := dc.top().Step; step < 0 || step >= len(w.steps) {
		dc.logger.Warn("waterfall cursor out of range", zap.String("dialog", w.id), zap.Int("step", step))
		return TurnResult{Status: model.StatusCancelRequested}, nil
	}
	return w.Resume(ctx, dc, dc.Text())
}

func (w *Waterfall) Resume(ctx context.Context, dc *Context, result string) (TurnResult, error) {
	step := dc.top().Step
	if step < 0 || step >= len(w.steps) {
		dc.logger.Warn("waterfall cursor out of range", zap.String("dialog", w.id), zap.Int("step", step))
		return TurnResult{Status: model.StatusCancelRequested}, nil
	}
	return w.run(ctx, dc, step+1, result)
}

func (w *Waterfall) Reprompt(context.Context, *Context) error { return nil }

func (w *Waterfall) run(ctx context.Context, dc *Context, index int, result string) (TurnResult, error) {
	if index >= len(w.steps) {
		return dc.EndDialog(ctx, result)
	}
	frame := dc.top()
	frame.Step = index
	if frame.State == nil {
		frame.State = map[string]string{}
	}
	dc.logger.Debug("waterfall step", zap.String("dialog", w.id), zap.Int("step", index))
	return w.steps[index](ctx, &StepContext{
		Context: dc,
		Index:   index,
		Result:  result,
		Options: frame.Options,
		State:   frame.State,
		wf:      w,
	})
}
