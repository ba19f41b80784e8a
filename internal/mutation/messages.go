package mutation

import (
	"context"

	"github.com/good-yellow-bee/teamsync/internal/apperr"
	"github.com/good-yellow-bee/teamsync/internal/models"
	"github.com/good-yellow-bee/teamsync/internal/storage"
)

func (m *Mutator) sendMessage(ctx context.Context, c SendMessage) error {
	op := c.CommandName()
	uid, err := m.currentUser(op)
	if err != nil {
		return err
	}

	now := m.now()
	var extra []storage.Row
	room, ok, err := m.chatRooms.Get(ctx, c.ChatRoomID)
	if err != nil {
		return apperr.Cache(op, err)
	}
	if ok {
		if len(room.ParticipantIDs) > 0 && !room.HasParticipant(uid) {
			return apperr.Authorization(op, "not a participant of chat room %s", room.ID)
		}
		if room.LastMessageTimestamp.Before(now) {
			room.LastMessageTimestamp = now
			row, err := m.chatRooms.RowOf(room)
			if err != nil {
				return apperr.Cache(op, err)
			}
			extra = append(extra, row)
		}
	}

	msgType := c.Type
	if msgType == "" {
		msgType = models.MessageText
	}
	msg := &models.Message{
		ID:               m.newID(),
		ChatRoomID:       c.ChatRoomID,
		SenderID:         uid,
		SenderName:       m.displayName(ctx, uid),
		Content:          c.Content,
		Timestamp:        now,
		Type:             msgType,
		ReadBy:           []string{uid},
		ReplyToMessageID: c.ReplyToMessageID,
	}
	return create(m, ctx, c, m.messages, m.remotes.Messages, msg, extra...)
}

func (m *Mutator) editMessage(ctx context.Context, c EditMessage) error {
	return update(m, ctx, c, m.messages, m.remotes.Messages, c.MessageID,
		m.senderOnly(c.CommandName()),
		func(msg *models.Message) (bool, error) {
			if msg.Content == c.Content {
				return false, nil
			}
			msg.Content = c.Content
			msg.IsEdited = true
			return true, nil
		})
}

func (m *Mutator) deleteMessage(ctx context.Context, c DeleteMessage) error {
	op := c.CommandName()
	msg, err := lookup(ctx, m.messages, op, c.MessageID)
	if err != nil {
		return err
	}
	if err := m.senderOnly(op)(msg); err != nil {
		return err
	}
	return remove(m, ctx, c, m.messages, m.remotes.Messages, msg)
}

func (m *Mutator) toggleReaction(ctx context.Context, c ToggleReaction) error {
	uid, err := m.currentUser(c.CommandName())
	if err != nil {
		return err
	}
	return update(m, ctx, c, m.messages, m.remotes.Messages, c.MessageID, nil,
		func(msg *models.Message) (bool, error) {
			msg.ToggleReaction(c.Emoji, uid)
			return true, nil
		})
}

func (m *Mutator) markRead(ctx context.Context, c MarkRead) error {
	uid, err := m.currentUser(c.CommandName())
	if err != nil {
		return err
	}
	return update(m, ctx, c, m.messages, m.remotes.Messages, c.MessageID, nil,
		func(msg *models.Message) (bool, error) {
			return msg.MarkReadBy(uid), nil
		})
}

// senderOnly allows only the message's sender.
func (m *Mutator) senderOnly(op string) func(*models.Message) error {
	return func(msg *models.Message) error {
		uid, err := m.currentUser(op)
		if err != nil {
			return err
		}
		if msg.SenderID != uid {
			return apperr.Authorization(op, "message %s belongs to another user", msg.ID)
		}
		return nil
	}
}

// displayName resolves the cached user's label. Unknown users get an empty name.
func (m *Mutator) displayName(ctx context.Context, uid string) string {
	u, ok, err := m.users.Get(ctx, uid)
	if err != nil || !ok {
		return ""
	}
	return u.Label()
}
