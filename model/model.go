package model

import "encoding/json"

// Keys of the persisted state documents.
const (
	ProfileStateKey = "profile"
	DialogStackKey  = "dialogStack"
)

type TurnKind string

const (
	TurnMessage          TurnKind = "message"
	TurnMembershipChange TurnKind = "membership-change"
)

// TurnStatus is the outcome of continuing the active dialog for one turn.
type TurnStatus string

const (
	StatusEmpty           TurnStatus = "empty"
	StatusWaiting         TurnStatus = "waiting"
	StatusComplete        TurnStatus = "complete"
	StatusCancelRequested TurnStatus = "cancel_requested"
)

// ConversationTurn is one inbound event delivered by the hosting layer.
type ConversationTurn struct {
	Kind           TurnKind `json:"kind"`
	Text           string   `json:"text"`
	ConversationID string   `json:"conversationId"`
	FromID         string   `json:"fromId"`
	RecipientID    string   `json:"recipientId"`
	AddedMemberIDs []string `json:"addedMemberIds,omitempty"`
}

// UserID keys the per-user state scope. Anonymous senders share the conversation's scope.
func (t ConversationTurn) UserID() string {
	if t.FromID != "" {
		return t.FromID
	}
	return t.ConversationID
}

type RecognitionRequest struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversationId"`
}

// RecognitionResult is produced by the external recognizer and never mutated afterwards.
type RecognitionResult struct {
	TopIntent  string              `json:"topIntent"`
	Confidence float64             `json:"confidence"`
	Entities   map[string][]string `json:"entities,omitempty"`
}

// Entity returns the first value of the first entity name present in the result.
func (r RecognitionResult) Entity(names ...string) (string, bool) {
	for _, name := range names {
		values := r.Entities[name]
		if len(values) > 0 {
			return values[0], true
		}
	}
	return "", false
}

// UserProfile is the per-user record filled by entity merges and the greeting dialog.
type UserProfile struct {
	Name  string `json:"name,omitempty"`
	Genre string `json:"genre,omitempty"`
}

func (p *UserProfile) Complete() bool {
	return p != nil && p.Name != "" && p.Genre != ""
}

// DialogFrame is one entry of the persisted dialog stack. The last frame is active.
type DialogFrame struct {
	DialogID string            `json:"dialogId"`
	Step     int               `json:"step"`
	Options  map[string]string `json:"options,omitempty"`
	State    map[string]string `json:"state,omitempty"`
}

type Attachment struct {
	ContentType string          `json:"contentType"`
	Content     json.RawMessage `json:"content"`
}

type Reply struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	UserID         string `json:"user_id"`
}

type MembersRequest struct {
	ConversationID string   `json:"conversation_id"`
	RecipientID    string   `json:"recipient_id"`
	AddedMemberIDs []string `json:"added_member_ids"`
}

type ChatResponse struct {
	ConversationID string  `json:"conversationId"`
	Replies        []Reply `json:"replies"`
}
