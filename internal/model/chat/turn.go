package chat

import "time"

// Sender identifies which side of the conversation produced a turn.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Valid reports whether the sender is one of the two known values.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAssistant
}

// DisplayName is the label used in rendered transcripts and exports.
func (s Sender) DisplayName() string {
	if s == SenderUser {
		return "You"
	}
	return "MoodBridge"
}

// Turn is one message in a conversation. Turns are immutable once created.
type Turn struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Sentiment string    `json:"sentiment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
