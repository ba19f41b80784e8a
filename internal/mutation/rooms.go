package mutation

import (
	"context"
	"strings"

	"github.com/good-yellow-bee/teamsync/internal/apperr"
	"github.com/good-yellow-bee/teamsync/internal/models"
)

func (m *Mutator) createChatRoom(ctx context.Context, c CreateChatRoom) error {
	op := c.CommandName()
	uid, err := m.currentUser(op)
	if err != nil {
		return err
	}
	if _, err := m.roleIn(ctx, op, c.ProjectID); err != nil {
		return err
	}

	now := m.now()
	room := &models.ChatRoom{
		ID:                 m.newID(),
		ProjectID:          c.ProjectID,
		Name:               strings.TrimSpace(c.Name),
		Description:        c.Description,
		ParticipantIDs:     append(append([]string(nil), c.ParticipantIDs...), uid),
		CreatedBy:          uid,
		CreatedAt:          now,
		IsTaskBoardEnabled: c.IsTaskBoardEnabled,
	}
	return create(m, ctx, c, m.chatRooms, m.remotes.ChatRooms, room)
}

func (m *Mutator) updateChatRoom(ctx context.Context, c UpdateChatRoom) error {
	op := c.CommandName()
	return update(m, ctx, c, m.chatRooms, m.remotes.ChatRooms, c.ChatRoomID,
		func(room *models.ChatRoom) error { return m.canManageRoom(ctx, op, room) },
		func(room *models.ChatRoom) (bool, error) {
			if c.Name != nil {
				room.Name = strings.TrimSpace(*c.Name)
			}
			if c.Description != nil {
				room.Description = *c.Description
			}
			if c.ParticipantIDs != nil {
				room.ParticipantIDs = append(append([]string(nil), c.ParticipantIDs...), room.CreatedBy)
			}
			if c.IsPinned != nil {
				room.IsPinned = *c.IsPinned
			}
			if c.IsArchived != nil {
				room.IsArchived = *c.IsArchived
			}
			if c.IsTaskBoardEnabled != nil {
				room.IsTaskBoardEnabled = *c.IsTaskBoardEnabled
			}
			return true, nil
		})
}

func (m *Mutator) deleteChatRoom(ctx context.Context, c DeleteChatRoom) error {
	op := c.CommandName()
	room, err := lookup(ctx, m.chatRooms, op, c.ChatRoomID)
	if err != nil {
		return err
	}
	if err := m.canManageRoom(ctx, op, room); err != nil {
		return err
	}
	return remove(m, ctx, c, m.chatRooms, m.remotes.ChatRooms, room)
}

// canManageRoom allows the room's creator and project managers.
func (m *Mutator) canManageRoom(ctx context.Context, op string, room *models.ChatRoom) error {
	uid, err := m.currentUser(op)
	if err != nil {
		return err
	}
	role, err := m.roleIn(ctx, op, room.ProjectID)
	if err != nil {
		return err
	}
	if room.CreatedBy == uid || role.CanManage() {
		return nil
	}
	return apperr.Authorization(op, "only the creator or a project manager may change chat room %s", room.ID)
}
