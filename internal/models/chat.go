package models

import (
	"time"
)

// ChatRoom is a conversation inside a project.
type ChatRoom struct {
	Local
	ID                   string    `json:"id"`
	ProjectID            string    `json:"project_id"`
	Name                 string    `json:"name"`
	Description          string    `json:"description,omitempty"`
	ParticipantIDs       []string  `json:"participant_ids"`
	CreatedBy            string    `json:"created_by"`
	CreatedAt            time.Time `json:"created_at"`
	LastMessageTimestamp time.Time `json:"last_message_timestamp"`
	IsPinned             bool      `json:"is_pinned"`
	IsArchived           bool      `json:"is_archived"`
	IsTaskBoardEnabled   bool      `json:"is_task_board_enabled"`
}

func (r *ChatRoom) EntityID() string { return r.ID }
func (r *ChatRoom) ScopeKey() string { return r.ProjectID }

// SortTime orders rooms by recent activity.
func (r *ChatRoom) SortTime() time.Time {
	if r.LastMessageTimestamp.IsZero() {
		return r.CreatedAt
	}
	return r.LastMessageTimestamp
}

// HasParticipant reports whether userID takes part in the room.
func (r *ChatRoom) HasParticipant(userID string) bool {
	return SetContains(r.ParticipantIDs, userID)
}

// Normalize restores the set semantics of ParticipantIDs.
func (r *ChatRoom) Normalize() {
	r.ParticipantIDs = NormalizeSet(r.ParticipantIDs)
}

// MessageType distinguishes text and voice messages.
type MessageType string

const (
	MessageText  MessageType = "TEXT"
	MessageVoice MessageType = "VOICE"
)

// Message is a single chat message.
type Message struct {
	Local
	ID               string              `json:"id"`
	ChatRoomID       string              `json:"chat_room_id"`
	SenderID         string              `json:"sender_id"`
	SenderName       string              `json:"sender_name"`
	Content          string              `json:"content"`
	Timestamp        time.Time           `json:"timestamp"`
	Type             MessageType         `json:"type"`
	IsEdited         bool                `json:"is_edited"`
	ReadBy           []string            `json:"read_by"`
	Reactions        map[string][]string `json:"reactions,omitempty"`
	ReplyToMessageID string              `json:"reply_to_message_id,omitempty"`
}

func (m *Message) EntityID() string    { return m.ID }
func (m *Message) ScopeKey() string    { return m.ChatRoomID }
func (m *Message) SortTime() time.Time { return m.Timestamp }

// Normalize restores set semantics for ReadBy and reaction user lists.
func (m *Message) Normalize() {
	if m.Type == "" {
		m.Type = MessageText
	}
	m.ReadBy = NormalizeSet(m.ReadBy)
	for emoji, users := range m.Reactions {
		users = NormalizeSet(users)
		if len(users) == 0 {
			delete(m.Reactions, emoji)
			continue
		}
		m.Reactions[emoji] = users
	}
}

// ToggleReaction adds or removes userID's emoji reaction.
func (m *Message) ToggleReaction(emoji, userID string) {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	users := m.Reactions[emoji]
	if SetContains(users, userID) {
		out := users[:0:0]
		for _, u := range users {
			if u != userID {
				out = append(out, u)
			}
		}
		m.Reactions[emoji] = out
	} else {
		m.Reactions[emoji] = append(append([]string(nil), users...), userID)
	}
	m.Normalize()
}

// MarkReadBy adds userID to the read set.
func (m *Message) MarkReadBy(userID string) bool {
	if SetContains(m.ReadBy, userID) {
		return false
	}
	m.ReadBy = NormalizeSet(append(append([]string(nil), m.ReadBy...), userID))
	return true
}
