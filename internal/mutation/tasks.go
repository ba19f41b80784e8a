package mutation

import (
	"context"
	"strings"

	"github.com/good-yellow-bee/teamsync/internal/apperr"
	"github.com/good-yellow-bee/teamsync/internal/auth"
	"github.com/good-yellow-bee/teamsync/internal/models"
)

func (m *Mutator) createTask(ctx context.Context, c CreateTask) error {
	op := c.CommandName()
	uid, err := m.currentUser(op)
	if err != nil {
		return err
	}
	if _, err := m.roleIn(ctx, op, c.ProjectID); err != nil {
		return err
	}
	if err := m.checkAssignee(ctx, op, c.ProjectID, c.AssignedToID); err != nil {
		return err
	}

	now := m.now()
	task := &models.Task{
		ID:           m.newID(),
		ProjectID:    c.ProjectID,
		ChatRoomID:   c.ChatRoomID,
		Title:        strings.TrimSpace(c.Title),
		Description:  c.Description,
		Status:       models.TaskTodo,
		Priority:     c.Priority,
		AssignedToID: c.AssignedToID,
		DueDate:      c.DueDate,
		Tags:         c.Tags,
		CreatedBy:    uid,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return create(m, ctx, c, m.tasks, m.remotes.Tasks, task)
}

func (m *Mutator) updateTask(ctx context.Context, c UpdateTask) error {
	op := c.CommandName()
	return update(m, ctx, c, m.tasks, m.remotes.Tasks, c.TaskID,
		func(task *models.Task) error {
			if _, err := m.roleIn(ctx, op, task.ProjectID); err != nil {
				return err
			}
			if c.AssignedToID != nil {
				return m.checkAssignee(ctx, op, task.ProjectID, *c.AssignedToID)
			}
			return nil
		},
		func(task *models.Task) (bool, error) {
			if c.Title != nil {
				task.Title = strings.TrimSpace(*c.Title)
			}
			if c.Description != nil {
				task.Description = *c.Description
			}
			if c.Status != nil {
				task.Status = *c.Status
			}
			if c.Priority != nil {
				task.Priority = *c.Priority
			}
			if c.AssignedToID != nil {
				task.AssignedToID = *c.AssignedToID
			}
			if c.DueDate != nil {
				due := *c.DueDate
				task.DueDate = &due
			}
			if c.ClearDueDate {
				task.DueDate = nil
			}
			if c.Tags != nil {
				task.Tags = c.Tags
			}
			task.UpdatedAt = m.now()
			return true, nil
		})
}

func (m *Mutator) addTaskComment(ctx context.Context, c AddTaskComment) error {
	op := c.CommandName()
	uid, err := m.currentUser(op)
	if err != nil {
		return err
	}
	return update(m, ctx, c, m.tasks, m.remotes.Tasks, c.TaskID,
		func(task *models.Task) error {
			_, err := m.roleIn(ctx, op, task.ProjectID)
			return err
		},
		func(task *models.Task) (bool, error) {
			now := m.now()
			task.Comments = append(task.Comments, models.TaskComment{
				ID:        m.newID(),
				AuthorID:  uid,
				Content:   c.Content,
				CreatedAt: now,
			})
			task.UpdatedAt = now
			return true, nil
		})
}

func (m *Mutator) deleteTask(ctx context.Context, c DeleteTask) error {
	op := c.CommandName()
	task, err := lookup(ctx, m.tasks, op, c.TaskID)
	if err != nil {
		return err
	}
	uid, err := m.currentUser(op)
	if err != nil {
		return err
	}
	role, err := m.roleIn(ctx, op, task.ProjectID)
	if err != nil {
		return err
	}
	if task.CreatedBy != uid && !role.CanManage() {
		return apperr.Authorization(op, "only the creator or a project manager may delete task %s", task.ID)
	}
	return remove(m, ctx, c, m.tasks, m.remotes.Tasks, task)
}

// checkAssignee requires a non-empty assignee to be a cached project member.
func (m *Mutator) checkAssignee(ctx context.Context, op, projectID, userID string) error {
	if userID == "" {
		return nil
	}
	_, ok, err := auth.FindMember(ctx, m.members, projectID, userID)
	if err != nil {
		return apperr.Cache(op, err)
	}
	if !ok {
		return apperr.Validation(op, "assignee %s is not a member of project %s", userID, projectID)
	}
	return nil
}
