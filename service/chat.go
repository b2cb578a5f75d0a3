package service

import (
	"bookbot/dao"
	"bookbot/model"
	"bookbot/service/dialog"
	"bookbot/service/flows"
	"bookbot/utils"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const AdaptiveCardContentType = "application/vnd.microsoft.card.adaptive"

//go:embed assets/welcome_card.json
var welcomeCard []byte

// Entity names merged into the user profile; the first present name wins.
var (
	nameEntities  = []string{"userName", "userName_patternAny"}
	genreEntities = []string{"userGenre", "userGenre_patternAny", "userLocation", "userLocation_patternAny"}
)

// Recognizer classifies a message into an intent with entities.
type Recognizer interface {
	Recognize(ctx context.Context, req model.RecognitionRequest) (model.RecognitionResult, error)
}

// Reporter forwards failures to an error tracker.
type Reporter interface {
	CaptureError(err error, tags map[string]string)
}

type nopReporter struct{}

func (nopReporter) CaptureError(error, map[string]string) {}

type Option func(*ChatService)

func WithLogger(logger *zap.Logger) Option {
	return func(s *ChatService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithReporter(r Reporter) Option {
	return func(s *ChatService) {
		if r != nil {
			s.reporter = r
		}
	}
}

// ChatService runs conversation turns: entity merge, interrupts, the active
// dialog and finally the intent dispatch table.
type ChatService struct {
	recognizer Recognizer
	store      dao.Store
	dialogs    *dialog.Set
	decision   *DecisionLayer
	classify   *TypeClassify
	locks      *keyedMutex
	reporter   Reporter
	logger     *zap.Logger
}

func NewChatService(recognizer Recognizer, books BookService, store dao.Store, opts ...Option) *ChatService {
	s := &ChatService{
		recognizer: recognizer,
		store:      store,
		locks:      newKeyedMutex(),
		reporter:   nopReporter{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("chat")

	s.dialogs = dialog.NewSet()
	flows.RegisterGreeting(s.dialogs, books)
	s.decision = NewDecisionLayer(s.logger)
	s.classify = NewTypeClassify(books, s.logger)
	return s
}

// HandleTurn processes one inbound event. Turns of one conversation run one
// at a time and every turn ends with one save of both state scopes. The
// returned error reports state that could not be persisted or a welcome card
// that could not be sent; every other failure is answered in the conversation.
func (s *ChatService) HandleTurn(ctx context.Context, turn model.ConversationTurn, out dialog.Responder) error {
	if strings.TrimSpace(turn.ConversationID) == "" {
		return fmt.Errorf("%w: conversation id is empty", dao.ErrInvalidParam)
	}
	switch turn.Kind {
	case model.TurnMessage, "", model.TurnMembershipChange:
	default:
		s.logger.Debug("ignoring turn", zap.String("kind", string(turn.Kind)))
		return nil
	}

	unlock := s.locks.Lock(turn.ConversationID)
	defer unlock()

	logger := s.logger.With(zap.String("conversation_id", turn.ConversationID))
	userState := dao.NewScope(s.store, dao.ScopeUser, turn.UserID())
	convState := dao.NewScope(s.store, dao.ScopeConversation, turn.ConversationID)

	if turn.Kind == model.TurnMembershipChange {
		welcomeErr := s.welcome(ctx, turn, out)
		return errors.Join(welcomeErr, s.saveScopes(ctx, userState, convState, logger))
	}
	return s.handleMessage(ctx, turn, out, userState, convState, logger)
}

func (s *ChatService) handleMessage(ctx context.Context, turn model.ConversationTurn, out dialog.Responder,
	userState, convState *dao.Scope, logger *zap.Logger) error {
	var stack []model.DialogFrame
	if _, err := convState.Get(ctx, model.DialogStackKey, &stack); err != nil {
		logger.Warn("dialog stack unreadable, starting fresh", zap.Error(err))
		s.reporter.CaptureError(err, map[string]string{"stage": "load_dialog_stack"})
		stack = nil
	}

	recognized := s.recognize(ctx, turn, logger)
	intent := model.ParseIntent(recognized)
	if err := s.mergeEntities(ctx, userState, recognized); err != nil {
		logger.Warn("profile merge failed", zap.Error(err))
	}

	dc := dialog.NewContext(s.dialogs, stack, turn.Text, userState, out, logger.Named("dialogs"))
	status, err := s.runTurn(ctx, dc, intent)
	next := dc.Stack()
	if err != nil {
		s.reporter.CaptureError(err, map[string]string{"stage": "turn", "intent": string(intent.Name())})
		if errors.Is(err, dialog.ErrUnknownDialog) {
			// a broken dialog is dropped so the next turn starts clean
			logger.Error("turn failed, canceling dialogs", zap.Error(err))
			next = nil
		} else {
			// the user repeats the turn against the stack it started with
			logger.Error("turn failed, keeping dialog stack", zap.Error(err))
			next = stack
		}
	}
	logger.Info("turn handled",
		zap.String("intent", string(intent.Name())),
		zap.Float64("confidence", recognized.Confidence),
		zap.String("status", string(status)),
		zap.Int("dialog_depth", len(next)))

	if err := convState.Set(model.DialogStackKey, next); err != nil {
		return err
	}
	return s.saveScopes(ctx, userState, convState, logger)
}

// runTurn applies interrupts, continues the active dialog and dispatches the
// intent when nothing else answered.
func (s *ChatService) runTurn(ctx context.Context, dc *dialog.Context, intent model.Intent) (model.TurnStatus, error) {
	handled, err := s.decision.CheckInterrupt(ctx, dc, intent)
	if err != nil || handled {
		return model.StatusEmpty, err
	}

	result, err := dc.ContinueDialog(ctx)
	if err != nil {
		return result.Status, err
	}
	if dc.Responded() {
		return result.Status, nil
	}

	switch result.Status {
	case model.StatusEmpty:
		return result.Status, s.classify.Dispatch(ctx, dc, intent)
	case model.StatusWaiting:
	case model.StatusComplete:
		if _, active := dc.ActiveDialog(); active {
			_, err = dc.EndDialog(ctx, result.Result)
		}
	default:
		dc.CancelAllDialogs()
	}
	return result.Status, err
}

func (s *ChatService) saveScopes(ctx context.Context, userState, convState *dao.Scope, logger *zap.Logger) error {
	err := errors.Join(userState.SaveChanges(ctx), convState.SaveChanges(ctx))
	if err != nil {
		logger.Error("state not saved", zap.Error(err))
		s.reporter.CaptureError(err, map[string]string{"stage": "save_state"})
	}
	return err
}

// recognize never fails the turn: an unavailable recognizer or an empty top
// intent is treated as None.
func (s *ChatService) recognize(ctx context.Context, turn model.ConversationTurn, logger *zap.Logger) model.RecognitionResult {
	none := model.RecognitionResult{TopIntent: string(model.IntentNone)}
	if s.recognizer == nil || strings.TrimSpace(turn.Text) == "" {
		return none
	}
	res, err := s.recognizer.Recognize(ctx, model.RecognitionRequest{
		Text:           turn.Text,
		ConversationID: turn.ConversationID,
	})
	if err != nil {
		logger.Warn("recognizer unavailable, treating message as None", zap.Error(err))
		s.reporter.CaptureError(err, map[string]string{"stage": "recognize"})
		return none
	}
	if strings.TrimSpace(res.TopIntent) == "" {
		logger.Info("recognizer returned no intent")
		res.TopIntent = string(model.IntentNone)
	}
	return res
}

// mergeEntities copies recognized name and genre into the stored profile.
// Values are only ever overwritten, never cleared.
func (s *ChatService) mergeEntities(ctx context.Context, user *dao.Scope, r model.RecognitionResult) error {
	name, _ := r.Entity(nameEntities...)
	genre, _ := r.Entity(genreEntities...)
	name, genre = utils.Capitalize(name), utils.Capitalize(genre)
	if name == "" && genre == "" {
		return nil
	}

	var profile *model.UserProfile
	if _, err := user.Get(ctx, model.ProfileStateKey, &profile); err != nil {
		return err
	}
	if profile == nil {
		profile = &model.UserProfile{}
	}
	if name != "" {
		profile.Name = name
	}
	if genre != "" {
		profile.Genre = genre
	}
	return user.Set(model.ProfileStateKey, profile)
}

// welcome sends the welcome card to every member added besides the bot.
func (s *ChatService) welcome(ctx context.Context, turn model.ConversationTurn, out dialog.Responder) error {
	for _, member := range turn.AddedMemberIDs {
		if member == "" || member == turn.RecipientID {
			continue
		}
		card := model.Reply{Attachment: &model.Attachment{
			ContentType: AdaptiveCardContentType,
			Content:     json.RawMessage(welcomeCard),
		}}
		if err := out.Send(ctx, card); err != nil {
			return fmt.Errorf("send welcome card: %w", err)
		}
		s.logger.Debug("welcome card sent",
			zap.String("conversation_id", turn.ConversationID),
			zap.String("member", member))
	}
	return nil
}

// keyedMutex serializes work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
