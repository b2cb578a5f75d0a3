package service

import (
	"bookbot/model"
	"bookbot/service/dialog"
	"context"

	"go.uber.org/zap"
)

const (
	MsgCanceled        = "Ok. I've canceled our last activity."
	MsgNothingToCancel = "I don't have anything to cancel."
	MsgHelp            = "Let me try to provide some help."
	MsgHelpTopics      = "I understand greetings, being asked for help, or being asked to cancel what I am doing."
)

// DecisionLayer decides whether an intent interrupts the active dialog. It
// runs before the dialog sees the message.
type DecisionLayer struct {
	logger *zap.Logger
}

func NewDecisionLayer(logger *zap.Logger) *DecisionLayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionLayer{logger: logger.Named("decision")}
}

// CheckInterrupt handles Cancel and Help and reports whether the turn is done.
func (d *DecisionLayer) CheckInterrupt(ctx context.Context, dc *dialog.Context, intent model.Intent) (bool, error) {
	switch intent.(type) {
	case model.Cancel:
		if dc.CancelAllDialogs() {
			d.logger.Info("dialogs canceled by user")
			return true, dc.SendText(ctx, MsgCanceled)
		}
		return true, dc.SendText(ctx, MsgNothingToCancel)

	case model.Help:
		if err := dc.SendText(ctx, MsgHelp); err != nil {
			return true, err
		}
		if err := dc.SendText(ctx, MsgHelpTopics); err != nil {
			return true, err
		}
		if frame, active := dc.ActiveDialog(); active {
			d.logger.Debug("reprompting after help", zap.String("dialog", frame.DialogID))
			return true, dc.RepromptDialog(ctx)
		}
		return true, nil
	}
	return false, nil
}
