package dialog

import (
	"bookbot/model"
	"context"
	"errors"
	"fmt"
)

// ErrUnknownDialog is returned when a dialog id has no registered dialog.
var ErrUnknownDialog = errors.New("dialog is not registered")

// Responder delivers the replies of one turn.
type Responder interface {
	Send(ctx context.Context, reply model.Reply) error
}

// TurnResult is what a dialog operation reports back to its caller. Result
// carries the value a finished dialog hands to its parent.
type TurnResult struct {
	Status model.TurnStatus
	Result string
}

func waiting() TurnResult { return TurnResult{Status: model.StatusWaiting} }

// Dialog is one unit of multi-turn logic. Every method runs with the dialog's
// own frame on top of the stack.
type Dialog interface {
	ID() string
	// Begin runs right after the frame is pushed.
	Begin(ctx context.Context, dc *Context, options map[string]string) (TurnResult, error)
	// Continue runs when a new user message arrives for the frame.
	Continue(ctx context.Context, dc *Context) (TurnResult, error)
	// Resume runs when a child dialog ended with result.
	Resume(ctx context.Context, dc *Context, result string) (TurnResult, error)
	// Reprompt re-sends the pending question without advancing.
	Reprompt(ctx context.Context, dc *Context) error
}

// Set is the registry of dialogs addressable by id.
type Set struct {
	dialogs map[string]Dialog
}

func NewSet(dialogs ...Dialog) *Set {
	s := &Set{dialogs: make(map[string]Dialog, len(dialogs))}
	for _, d := range dialogs {
		s.Add(d)
	}
	return s
}

// Add registers d. Registering two dialogs under one id is a programming error.
func (s *Set) Add(d Dialog) {
	if _, dup := s.dialogs[d.ID()]; dup {
		panic(fmt.Sprintf("dialog: duplicate id %q", d.ID()))
	}
	s.dialogs[d.ID()] = d
}

func (s *Set) Find(id string) (Dialog, bool) {
	d, ok := s.dialogs[id]
	return d, ok
}
