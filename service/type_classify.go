package service

import (
	"bookbot/model"
	"bookbot/service/dialog"
	"bookbot/service/flows"
	"context"
	"fmt"

	"go.uber.org/zap"
)

const MsgNotUnderstood = "I didn't understand what you just said to me."

// BookService answers the single-shot book questions.
type BookService interface {
	AuthorsBooks(ctx context.Context, author string) string
	AuthorOfBook(ctx context.Context, title string) string
	RecommendBook(ctx context.Context, genre string) string
	RecommendByPreference(ctx context.Context, user string) string
	Genres(ctx context.Context) string
	BookWorthReading(ctx context.Context, title string) string
	AuthorFamous(ctx context.Context, author string) string
}

type intentHandler func(ctx context.Context, dc *dialog.Context, intent model.Intent) error

// handle adapts a handler for one intent variant to the table signature.
func handle[T model.Intent](fn func(ctx context.Context, dc *dialog.Context, intent T) error) intentHandler {
	return func(ctx context.Context, dc *dialog.Context, intent model.Intent) error {
		v, ok := intent.(T)
		if !ok {
			return fmt.Errorf("intent %s has unexpected type %T", intent.Name(), intent)
		}
		return fn(ctx, dc, v)
	}
}

// reply wraps a question that is answered with one text message.
func reply[T model.Intent](answer func(ctx context.Context, intent T) string) intentHandler {
	return handle(func(ctx context.Context, dc *dialog.Context, intent T) error {
		return dc.SendText(ctx, answer(ctx, intent))
	})
}

// TypeClassify routes an intent that no dialog consumed to its handler.
type TypeClassify struct {
	handlers map[model.IntentName]intentHandler
	logger   *zap.Logger
}

func NewTypeClassify(books BookService, logger *zap.Logger) *TypeClassify {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TypeClassify{
		logger: logger.Named("classify"),
		handlers: map[model.IntentName]intentHandler{
			model.IntentSayHello: handle(func(ctx context.Context, dc *dialog.Context, _ model.SayHello) error {
				_, err := dc.BeginDialog(ctx, flows.GreetingDialogID, nil)
				return err
			}),
			model.IntentTellAuthorsBooks: reply(func(ctx context.Context, i model.TellAuthorsBooks) string {
				return books.AuthorsBooks(ctx, i.AuthorName)
			}),
			model.IntentAskToRecommendBook: reply(func(ctx context.Context, i model.AskToRecommendBook) string {
				return books.RecommendBook(ctx, i.Genre)
			}),
			model.IntentRecommendBookByPreference: reply(func(ctx context.Context, i model.RecommendBookByPreference) string {
				return books.RecommendByPreference(ctx, i.UserName)
			}),
			model.IntentTellAuthorOfSpecificBook: reply(func(ctx context.Context, i model.TellAuthorOfSpecificBook) string {
				return books.AuthorOfBook(ctx, i.BookName)
			}),
			model.IntentTellGenresOfBooks: reply(func(ctx context.Context, _ model.TellGenresOfBooks) string {
				return books.Genres(ctx)
			}),
			model.IntentTellIfBookIsWorthReading: reply(func(ctx context.Context, i model.TellIfBookIsWorthReading) string {
				return books.BookWorthReading(ctx, i.BookName)
			}),
			model.IntentTellIfAuthorIsVeryFamous: reply(func(ctx context.Context, i model.TellIfAuthorIsVeryFamous) string {
				return books.AuthorFamous(ctx, i.AuthorName)
			}),
			model.IntentNone: reply(func(context.Context, model.None) string {
				return MsgNotUnderstood
			}),
		},
	}
}

// Dispatch runs the handler of intent. Intents without a handler get the None reply.
func (r *TypeClassify) Dispatch(ctx context.Context, dc *dialog.Context, intent model.Intent) error {
	h, ok := r.handlers[intent.Name()]
	if !ok {
		r.logger.Debug("no handler, answering as None", zap.String("intent", string(intent.Name())))
		return r.handlers[model.IntentNone](ctx, dc, model.None{})
	}
	return h(ctx, dc, intent)
}
