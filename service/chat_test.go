package service

import (
	"bookbot/dao"
	"bookbot/internal/books"
	"bookbot/internal/knowledge"
	"bookbot/model"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testBase = `
Decl book(Name, Author, Rate, Genre).
Decl prefers(User, Genre).
Decl genre(Genre).
Decl book_worth_reading(Name).
Decl author_world_famous(Author).

book("1984", "George Orwell", 10, "Dystopia").
book("The Hobbit", "J. R. R. Tolkien", 9, "Fantasy").
book("The Lord of the Rings", "J. R. R. Tolkien", 10, "Fantasy").
book("Murder on the Orient Express", "Agatha Christie", 9, "Mystery").
book("And Then There Were None", "Agatha Christie", 9, "Mystery").
book("Gone Girl", "Gillian Flynn", 6, "Mystery").

prefers("maria", "Mystery").

genre(G) :- book(_, _, _, G).
book_worth_reading(Name) :- book(Name, _, Rate, _), Rate > 7.
author_world_famous(Author) :- book(_, Author, Rate, _), Rate > 8.
`

// fakeRecognizer answers by exact message text; anything else is None.
type fakeRecognizer struct {
	mu      sync.Mutex
	results map[string]model.RecognitionResult
	err     error
	calls   int
}

func (f *fakeRecognizer) Recognize(_ context.Context, req model.RecognitionRequest) (model.RecognitionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return model.RecognitionResult{}, f.err
	}
	if r, ok := f.results[req.Text]; ok {
		return r, nil
	}
	return model.RecognitionResult{TopIntent: string(model.IntentNone), Confidence: 0.2}, nil
}

type fakeReporter struct {
	mu     sync.Mutex
	stages []string
}

func (f *fakeReporter) CaptureError(_ error, tags map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, tags["stage"])
}

type countingStore struct {
	dao.Store
	mu      sync.Mutex
	saves   map[string]int
	saveErr error
}

func (c *countingStore) Save(ctx context.Context, scope, id string, changes map[string]json.RawMessage) error {
	c.mu.Lock()
	c.saves[scope]++
	c.mu.Unlock()
	if c.saveErr != nil {
		return c.saveErr
	}
	return c.Store.Save(ctx, scope, id, changes)
}

func intent(name model.IntentName, entities map[string][]string) model.RecognitionResult {
	return model.RecognitionResult{TopIntent: string(name), Confidence: 0.9, Entities: entities}
}

func defaultIntents() map[string]model.RecognitionResult {
	m := make(map[string]model.RecognitionResult)
	m["hello"] = intent(model.IntentSayHello, nil)
	m["cancel"] = intent(model.IntentCancel, nil)
	m["help"] = intent(model.IntentHelp, nil)
	m["recommend me something"] = intent(model.IntentAskToRecommendBook, nil)
	m["recommend me a mystery"] = intent(model.IntentAskToRecommendBook, map[string][]string{"Genre": {"Mystery"}})
	m["who wrote dune"] = intent(model.IntentTellAuthorOfSpecificBook, map[string][]string{"BookName": {"'Dune'"}})
	m["who wrote the hobbit"] = intent(model.IntentTellAuthorOfSpecificBook, map[string][]string{"BookName": {"'The Hobbit'"}})
	m["what would maria like"] = intent(model.IntentRecommendBookByPreference, map[string][]string{"UserName": {"maria"}})
	m["books of christie"] = intent(model.IntentTellAuthorsBooks, map[string][]string{"AuthorName": {"Agatha Christie"}})
	m["genres"] = intent(model.IntentTellGenresOfBooks, nil)
	m["is gone girl good"] = intent(model.IntentTellIfBookIsWorthReading, map[string][]string{"BookName": {"Gone Girl"}})
	m["is orwell famous"] = intent(model.IntentTellIfAuthorIsVeryFamous, map[string][]string{"AuthorName": {"George Orwell"}})
	m["i am alex and i like fantasy"] = intent(model.IntentNone, map[string][]string{
		"userName":                {"alex"},
		"userLocation_patternAny": {"fantasy"},
	})
	return m
}

type fixture struct {
	svc        *ChatService
	store      *countingStore
	recognizer *fakeRecognizer
	reporter   *fakeReporter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kb, err := knowledge.Load(strings.NewReader(testBase), zap.NewNop())
	require.NoError(t, err)

	f := &fixture{
		store:      &countingStore{Store: dao.NewMemoryStore(), saves: map[string]int{}},
		recognizer: &fakeRecognizer{results: defaultIntents()},
		reporter:   &fakeReporter{},
	}
	f.svc = NewChatService(f.recognizer, books.NewService(kb, zap.NewNop()), f.store,
		WithLogger(zap.NewNop()), WithReporter(f.reporter))
	return f
}

func (f *fixture) say(t *testing.T, conversation, text string) []string {
	t.Helper()
	buf := &ReplyBuffer{}
	err := f.svc.HandleTurn(context.Background(), model.ConversationTurn{
		Kind:           model.TurnMessage,
		Text:           text,
		ConversationID: conversation,
		FromID:         "user-" + conversation,
	}, buf)
	require.NoError(t, err)
	return buf.Texts()
}

func (f *fixture) stack(t *testing.T, conversation string) []model.DialogFrame {
	t.Helper()
	var stack []model.DialogFrame
	_, err := dao.NewScope(f.store, dao.ScopeConversation, conversation).Get(context.Background(), model.DialogStackKey, &stack)
	require.NoError(t, err)
	return stack
}

func (f *fixture) profile(t *testing.T, user string) *model.UserProfile {
	t.Helper()
	var p *model.UserProfile
	_, err := dao.NewScope(f.store, dao.ScopeUser, user).Get(context.Background(), model.ProfileStateKey, &p)
	require.NoError(t, err)
	return p
}

func TestGreetingConversation(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []string{"Hello! What is your name?"}, f.say(t, "c1", "hello"))

	replies := f.say(t, "c1", "al")
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0], "at least `3` characters long")
	assert.Equal(t, "Hello! What is your name?", replies[1])

	assert.Equal(t, []string{"Nice to meet you, Maria! What is your favorite book genre?"}, f.say(t, "c1", "maria"))

	replies = f.say(t, "c1", "fantasy")
	require.Len(t, replies, 1)
	assert.Equal(t, "Dear Maria, I recommend you such book: \n Name: 'The Lord of the Rings' \n Author: J. R. R. Tolkien \n Rate: 10", replies[0])
	assert.Empty(t, f.stack(t, "c1"))

	p := f.profile(t, "user-c1")
	require.NotNil(t, p)
	assert.Equal(t, "Maria", p.Name)
	assert.Equal(t, "Fantasy", p.Genre)

	// a complete profile goes straight to the recommendation
	replies = f.say(t, "c1", "hello")
	require.Len(t, replies, 1)
	assert.True(t, strings.HasPrefix(replies[0], "Dear Maria, I recommend you such book"))
}

func TestInterruptsTakePrecedence(t *testing.T) {
	f := newFixture(t)
	f.say(t, "c2", "hello")

	assert.Equal(t, []string{MsgHelp, MsgHelpTopics, "Hello! What is your name?"}, f.say(t, "c2", "help"))
	require.Len(t, f.stack(t, "c2"), 2)

	assert.Equal(t, []string{MsgCanceled}, f.say(t, "c2", "cancel"))
	assert.Empty(t, f.stack(t, "c2"))

	assert.Equal(t, []string{MsgNothingToCancel}, f.say(t, "c2", "cancel"))
	assert.Equal(t, []string{MsgHelp, MsgHelpTopics}, f.say(t, "c2", "help"))
}

func TestRecommendWithoutGenreIgnoresStoredGenre(t *testing.T) {
	f := newFixture(t)
	scope := dao.NewScope(f.store, dao.ScopeUser, "user-c3")
	require.NoError(t, scope.Set(model.ProfileStateKey, model.UserProfile{Name: "Alex", Genre: "Fantasy"}))
	require.NoError(t, scope.SaveChanges(context.Background()))

	assert.Equal(t, []string{"I recommend you such book: \n Name: '1984' \n Author: George Orwell \n Rate: 10"},
		f.say(t, "c3", "recommend me something"))
	assert.Equal(t, []string{"I recommend you such book: \n Name: 'Murder on the Orient Express' \n Author: Agatha Christie \n Rate: 9"},
		f.say(t, "c3", "recommend me a mystery"))
}

func TestSingleShotQuestions(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, []string{"There is no such book in the database. \n Please, connect bot to the Internet."},
		f.say(t, "c4", "who wrote dune"))
	assert.Equal(t, []string{"J. R. R. Tolkien wrote book The Hobbit"}, f.say(t, "c4", "who wrote the hobbit"))

	replies := f.say(t, "c4", "what would maria like")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "Mystery")
	assert.Contains(t, replies[0], "'Murder on the Orient Express'")

	assert.Equal(t, []string{"Agatha Christie wrote such books: \n Murder on the Orient Express\n And Then There Were None"},
		f.say(t, "c4", "books of christie"))
	assert.Equal(t, []string{"These are different book genres: \n Dystopia\n Fantasy\n Mystery"}, f.say(t, "c4", "genres"))
	assert.Equal(t, []string{books.MsgNotWorthReading}, f.say(t, "c4", "is gone girl good"))
	assert.Contains(t, f.say(t, "c4", "is orwell famous")[0], "George Orwell is very famous")
	assert.Equal(t, []string{MsgNotUnderstood}, f.say(t, "c4", "blah"))
}

func TestEntitiesMergeIntoProfile(t *testing.T) {
	f := newFixture(t)
	f.say(t, "c5", "i am alex and i like fantasy")

	p := f.profile(t, "user-c5")
	require.NotNil(t, p)
	assert.Equal(t, &model.UserProfile{Name: "Alex", Genre: "Fantasy"}, p)

	replies := f.say(t, "c5", "hello")
	require.Len(t, replies, 1)
	assert.True(t, strings.HasPrefix(replies[0], "Dear Alex, I recommend you such book: \n Name: 'The Lord of the Rings'"))
}

func TestRecognizerFailureFallsBackToNone(t *testing.T) {
	f := newFixture(t)
	f.say(t, "c6", "hello")

	f.recognizer.err = errors.New("recognizer offline")
	assert.Equal(t, []string{"Nice to meet you, Nina! What is your favorite book genre?"}, f.say(t, "c6", "nina"))
	assert.Equal(t, []string{"Dear Nina, I recommend you such book: \n Name: 'Murder on the Orient Express' \n Author: Agatha Christie \n Rate: 9"},
		f.say(t, "c6", "mystery"))
	assert.Equal(t, []string{MsgNotUnderstood}, f.say(t, "c6", "hello"))
	assert.Contains(t, f.reporter.stages, "recognize")
}

func TestEmptyTopIntentIsNone(t *testing.T) {
	f := newFixture(t)
	f.recognizer.results = map[string]model.RecognitionResult{"??": {}}
	assert.Equal(t, []string{MsgNotUnderstood}, f.say(t, "c7", "??"))
}

func TestCorruptDialogStackIsCanceled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, stack := range []string{
		`[{"dialogId":"unknown","step":0}]`,
		`[{"dialogId":"greeting","step":42}]`,
	} {
		require.NoError(t, f.store.Store.Save(ctx, dao.ScopeConversation, "c8",
			map[string]json.RawMessage{model.DialogStackKey: json.RawMessage(stack)}))
		assert.Empty(t, f.say(t, "c8", "whatever"))
		assert.Empty(t, f.stack(t, "c8"))
	}

	require.NoError(t, f.store.Store.Save(ctx, dao.ScopeConversation, "c8",
		map[string]json.RawMessage{model.DialogStackKey: json.RawMessage(`"not a stack"`)}))
	assert.Equal(t, []string{"Hello! What is your name?"}, f.say(t, "c8", "hello"))
	assert.Contains(t, f.reporter.stages, "load_dialog_stack")
}

func TestStateSavedOncePerTurn(t *testing.T) {
	f := newFixture(t)

	f.say(t, "c9", "cancel")
	assert.Equal(t, 1, f.store.saves[dao.ScopeConversation])

	f.say(t, "c9", "i am alex and i like fantasy")
	assert.Equal(t, 2, f.store.saves[dao.ScopeConversation])
	assert.Equal(t, 1, f.store.saves[dao.ScopeUser])
}

func TestSaveFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	f.store.saveErr = errors.New("redis down")

	buf := &ReplyBuffer{}
	err := f.svc.HandleTurn(context.Background(), model.ConversationTurn{
		Kind: model.TurnMessage, Text: "genres", ConversationID: "c10",
	}, buf)
	require.Error(t, err)
	assert.Len(t, buf.Texts(), 1)
	assert.Contains(t, f.reporter.stages, "save_state")
}

func TestHandleTurnRequiresConversation(t *testing.T) {
	f := newFixture(t)
	err := f.svc.HandleTurn(context.Background(), model.ConversationTurn{Text: "hello"}, &ReplyBuffer{})
	require.ErrorIs(t, err, dao.ErrInvalidParam)
}

func TestMembershipChangeSendsWelcomeCard(t *testing.T) {
	f := newFixture(t)
	buf := &ReplyBuffer{}

	err := f.svc.HandleTurn(context.Background(), model.ConversationTurn{
		Kind:           model.TurnMembershipChange,
		ConversationID: "c11",
		RecipientID:    "bot",
		AddedMemberIDs: []string{"bot", "u1", "u2"},
	}, buf)
	require.NoError(t, err)

	replies := buf.Replies()
	require.Len(t, replies, 2)
	for _, r := range replies {
		require.NotNil(t, r.Attachment)
		assert.Equal(t, AdaptiveCardContentType, r.Attachment.ContentType)
		assert.True(t, json.Valid(r.Attachment.Content))
	}
	assert.Zero(t, f.recognizer.calls)
}

func TestConversationsRunConcurrently(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				buf := &ReplyBuffer{}
				_ = f.svc.HandleTurn(context.Background(), model.ConversationTurn{
					Kind: model.TurnMessage, Text: "hello", ConversationID: id,
				}, buf)
			}
		}(id)
	}
	wg.Wait()

	// hello opens the greeting, then answers the name and genre prompts
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Empty(t, f.stack(t, id))
		assert.Equal(t, &model.UserProfile{Name: "Hello", Genre: "Hello"}, f.profile(t, id))
	}
}

func TestKeyedMutexSerializes(t *testing.T) {
	k := newKeyedMutex()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("conv")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Empty(t, k.locks)
}

func TestMissingEntityGetsFixedReply(t *testing.T) {
	f := newFixture(t)
	f.recognizer.results["is the author famous"] = intent(model.IntentTellIfAuthorIsVeryFamous, nil)
	f.recognizer.results["is the book good"] = intent(model.IntentTellIfBookIsWorthReading, nil)

	assert.Equal(t, []string{books.MsgAuthorMissing}, f.say(t, "c12", "is the author famous"))
	assert.Equal(t, []string{books.MsgBookMissing}, f.say(t, "c12", "is the book good"))
}

func TestRecommendGenreMatchesStoredCase(t *testing.T) {
	f := newFixture(t)
	f.recognizer.results["recommend me fantasy"] = intent(model.IntentAskToRecommendBook,
		map[string][]string{"Genre": {"fantasy"}})

	assert.Equal(t, []string{"I recommend you such book: \n Name: 'The Lord of the Rings' \n Author: J. R. R. Tolkien \n Rate: 10"},
		f.say(t, "c13", "recommend me fantasy"))
}

// flakyResponder fails the send with the given 1-based index.
type flakyResponder struct {
	ReplyBuffer
	failAt int
	sends  int
}

func (r *flakyResponder) Send(ctx context.Context, reply model.Reply) error {
	r.sends++
	if r.sends == r.failAt {
		return errors.New("connection reset")
	}
	return r.ReplyBuffer.Send(ctx, reply)
}

func TestSendFailureKeepsDialogStack(t *testing.T) {
	f := newFixture(t)
	f.say(t, "c14", "hello")
	before := f.stack(t, "c14")
	require.Len(t, before, 2)

	// the reprompt after the help lines is lost
	out := &flakyResponder{failAt: 3}
	err := f.svc.HandleTurn(context.Background(), model.ConversationTurn{
		Kind: model.TurnMessage, Text: "help", ConversationID: "c14", FromID: "user-c14",
	}, out)
	require.NoError(t, err)
	assert.Equal(t, []string{MsgHelp, MsgHelpTopics}, out.Texts())
	assert.Equal(t, before, f.stack(t, "c14"))
	assert.Contains(t, f.reporter.stages, "turn")

	assert.Equal(t, []string{"Nice to meet you, Maria! What is your favorite book genre?"}, f.say(t, "c14", "maria"))
}

func TestUnknownDialogOnRepromptCancelsStack(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Store.Save(context.Background(), dao.ScopeConversation, "c15",
		map[string]json.RawMessage{model.DialogStackKey: json.RawMessage(`[{"dialogId":"ghost","step":0}]`)}))

	assert.Equal(t, []string{MsgHelp, MsgHelpTopics}, f.say(t, "c15", "help"))
	assert.Empty(t, f.stack(t, "c15"))
}

func TestMembershipChangeWaitsForConversation(t *testing.T) {
	f := newFixture(t)
	unlock := f.svc.locks.Lock("c16")

	done := make(chan error, 1)
	buf := &ReplyBuffer{}
	go func() {
		done <- f.svc.HandleTurn(context.Background(), model.ConversationTurn{
			Kind:           model.TurnMembershipChange,
			ConversationID: "c16",
			RecipientID:    "bot",
			AddedMemberIDs: []string{"u1"},
		}, buf)
	}()

	select {
	case <-done:
		t.Fatal("membership turn ran while the conversation was busy")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("membership turn did not finish")
	}
	assert.Len(t, buf.Replies(), 1)
	assert.Zero(t, f.store.saves[dao.ScopeConversation])
	assert.Zero(t, f.store.saves[dao.ScopeUser])
}
