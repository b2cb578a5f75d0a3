package route

import (
	"bookbot/api"
	"bookbot/dao"
	"bookbot/internal/books"
	"bookbot/internal/knowledge"
	"bookbot/model"
	"bookbot/service"
	"bookbot/service/dialog"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const program = `
Decl book(Name, Author, Rate, Genre).
Decl prefers(User, Genre).
Decl genre(Genre).
Decl book_worth_reading(Name).
Decl author_world_famous(Author).

book("Solaris", "Stanislaw Lem", 8, "Science fiction").
book("Dune", "Frank Herbert", 9, "Science fiction").
book("Dune", "Frank Herbert", 9, "Adventure").

genre(G) :- book(_, _, _, G).
book_worth_reading(Name) :- book(Name, _, Rate, _), Rate > 7.
author_world_famous(Author) :- book(_, Author, Rate, _), Rate > 8.
`

type stubHandler struct {
	turns []model.ConversationTurn
	err   error
}

func (s *stubHandler) HandleTurn(ctx context.Context, turn model.ConversationTurn, out dialog.Responder) error {
	s.turns = append(s.turns, turn)
	if s.err != nil {
		return s.err
	}
	return out.Send(ctx, model.Reply{Text: "echo: " + turn.Text})
}

func newRouter(t *testing.T, h api.TurnHandler) (*gin.Engine, *knowledge.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	kb, err := knowledge.Load(strings.NewReader(program), zap.NewNop())
	require.NoError(t, err)
	r := gin.New()
	Register(r, h, kb)
	return r, kb
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := newRouter(t, &stubHandler{})
	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestChatAssignsConversationID(t *testing.T) {
	h := &stubHandler{}
	r, _ := newRouter(t, h)

	w := do(r, http.MethodPost, "/chat", `{"message":"hello","user_id":"u1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, []model.Reply{{Text: "echo: hello"}}, resp.Replies)
	require.Len(t, h.turns, 1)
	assert.Equal(t, resp.ConversationID, h.turns[0].ConversationID)
	assert.Equal(t, "u1", h.turns[0].FromID)
	assert.Equal(t, model.TurnMessage, h.turns[0].Kind)

	w = do(r, http.MethodPost, "/chat", `{"conversation_id":"c7","message":"again"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c7", h.turns[1].ConversationID)
}

func TestChatRejectsBadInput(t *testing.T) {
	r, _ := newRouter(t, &stubHandler{})
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/chat", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/chat", `{"message":"  "}`).Code)
}

func TestActivityErrors(t *testing.T) {
	h := &stubHandler{err: dao.ErrInvalidParam}
	r, _ := newRouter(t, h)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/activities", `{"kind":"message","text":"hi"}`).Code)

	h.err = errors.New("redis down")
	w := do(r, http.MethodPost, "/activities", `{"kind":"message","text":"hi","conversationId":"c1"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "redis down")
}

func TestActivitiesAndMembersWithChatService(t *testing.T) {
	gin.SetMode(gin.TestMode)
	kb, err := knowledge.Load(strings.NewReader(program), zap.NewNop())
	require.NoError(t, err)
	chatSvc := service.NewChatService(nil, books.NewService(kb, zap.NewNop()), dao.NewMemoryStore())
	r := gin.New()
	Register(r, chatSvc, kb)

	// without a recognizer every message is None
	w := do(r, http.MethodPost, "/activities", `{"kind":"message","text":"hello","conversationId":"c1","fromId":"u1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp model.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "c1", resp.ConversationID)
	assert.Equal(t, []model.Reply{{Text: service.MsgNotUnderstood}}, resp.Replies)

	w = do(r, http.MethodPost, "/conversation/members", `{"conversation_id":"c1","recipient_id":"bot","added_member_ids":["bot","u1"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	resp = model.ChatResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Replies, 1)
	require.NotNil(t, resp.Replies[0].Attachment)
	assert.Equal(t, service.AdaptiveCardContentType, resp.Replies[0].Attachment.ContentType)

	w = do(r, http.MethodPost, "/conversation/members", `{"recipient_id":"bot","added_member_ids":["u1"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKnowledgeViews(t *testing.T) {
	r, _ := newRouter(t, &stubHandler{})

	w := do(r, http.MethodGet, "/knowledge/books", "")
	require.Equal(t, http.StatusOK, w.Code)
	var booksResp api.ListBooksResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &booksResp))
	assert.Equal(t, 2, booksResp.Total)
	assert.Equal(t, "Solaris", booksResp.Data[0].Name)
	assert.Equal(t, []string{"Science fiction", "Adventure"}, booksResp.Data[1].Genres)

	w = do(r, http.MethodGet, "/knowledge/genres", "")
	require.Equal(t, http.StatusOK, w.Code)
	var genresResp api.ListGenresResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &genresResp))
	assert.Equal(t, []string{"Adventure", "Science fiction"}, genresResp.Data)

	w = do(r, http.MethodGet, "/knowledge/count", "")
	require.Equal(t, http.StatusOK, w.Code)
	var countResp api.CountKnowledgeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &countResp))
	assert.Equal(t, 3, countResp.Facts["book"])
	assert.Equal(t, 2, countResp.Facts["genre"])
}
