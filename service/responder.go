package service

import (
	"bookbot/model"
	"context"
	"sync"
)

// ResponderFunc adapts a plain function to dialog.Responder.
type ResponderFunc func(ctx context.Context, reply model.Reply) error

func (f ResponderFunc) Send(ctx context.Context, reply model.Reply) error {
	return f(ctx, reply)
}

// ReplyBuffer collects the replies of a turn for request/response transports.
type ReplyBuffer struct {
	mu      sync.Mutex
	replies []model.Reply
}

func (b *ReplyBuffer) Send(_ context.Context, reply model.Reply) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies = append(b.replies, reply)
	return nil
}

func (b *ReplyBuffer) Replies() []model.Reply {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Reply, len(b.replies))
	copy(out, b.replies)
	return out
}

// Texts returns the text of every reply, attachments excluded.
func (b *ReplyBuffer) Texts() []string {
	replies := b.Replies()
	texts := make([]string, 0, len(replies))
	for _, r := range replies {
		if r.Text != "" {
			texts = append(texts, r.Text)
		}
	}
	return texts
}
