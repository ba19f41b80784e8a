package mutation

import (
	"strings"
	"time"

	"github.com/good-yellow-bee/teamsync/internal/apperr"
	"github.com/good-yellow-bee/teamsync/internal/models"
)

// Command is a local write requested by the presentation layer.
type Command interface {
	// CommandName identifies the command in errors and metrics.
	CommandName() string
	// Validate checks the command's input without looking at any state.
	Validate() error
}

// SendMessage posts a new message to a chat room.
type SendMessage struct {
	ChatRoomID       string
	Content          string
	Type             models.MessageType
	ReplyToMessageID string
}

// EditMessage replaces the content of the sender's own message.
type EditMessage struct {
	MessageID string
	Content   string
}

// DeleteMessage removes the sender's own message.
type DeleteMessage struct {
	MessageID string
}

// ToggleReaction adds or removes the current user's emoji on a message.
type ToggleReaction struct {
	MessageID string
	Emoji     string
}

// MarkRead adds the current user to a message's read set.
type MarkRead struct {
	MessageID string
}

// CreateChatRoom creates a room in a project. The creator always participates.
type CreateChatRoom struct {
	ProjectID          string
	Name               string
	Description        string
	ParticipantIDs     []string
	IsTaskBoardEnabled bool
}

// UpdateChatRoom changes the set fields of a room. Nil fields are left alone.
type UpdateChatRoom struct {
	ChatRoomID         string
	Name               *string
	Description        *string
	ParticipantIDs     []string
	IsPinned           *bool
	IsArchived         *bool
	IsTaskBoardEnabled *bool
}

// DeleteChatRoom removes a room.
type DeleteChatRoom struct {
	ChatRoomID string
}

// CreateTask creates a task in a project.
type CreateTask struct {
	ProjectID    string
	ChatRoomID   string
	Title        string
	Description  string
	Priority     models.TaskPriority
	AssignedToID string
	DueDate      *time.Time
	Tags         []string
}

// UpdateTask changes the set fields of a task. Nil fields are left alone.
type UpdateTask struct {
	TaskID       string
	Title        *string
	Description  *string
	Status       *models.TaskStatus
	Priority     *models.TaskPriority
	AssignedToID *string
	DueDate      *time.Time
	ClearDueDate bool
	Tags         []string
}

// AddTaskComment appends a comment to a task.
type AddTaskComment struct {
	TaskID  string
	Content string
}

// DeleteTask removes a task.
type DeleteTask struct {
	TaskID string
}

// CreateProject creates a project owned by the current user, who becomes its ADMIN.
type CreateProject struct {
	Name        string
	Description string
}

// UpdateProject changes the set fields of a project.
type UpdateProject struct {
	ProjectID   string
	Name        *string
	Description *string
	Status      *models.ProjectStatus
}

// InviteMember adds a user to a project with a role.
type InviteMember struct {
	ProjectID string
	UserID    string
	Role      models.Role
}

// ChangeRole changes a member's role.
type ChangeRole struct {
	ProjectID string
	UserID    string
	Role      models.Role
}

// RemoveMember removes a user from a project.
type RemoveMember struct {
	ProjectID string
	UserID    string
}

func (SendMessage) CommandName() string    { return "send_message" }
func (EditMessage) CommandName() string    { return "edit_message" }
func (DeleteMessage) CommandName() string  { return "delete_message" }
func (ToggleReaction) CommandName() string { return "toggle_reaction" }
func (MarkRead) CommandName() string       { return "mark_read" }
func (CreateChatRoom) CommandName() string { return "create_chat_room" }
func (UpdateChatRoom) CommandName() string { return "update_chat_room" }
func (DeleteChatRoom) CommandName() string { return "delete_chat_room" }
func (CreateTask) CommandName() string     { return "create_task" }
func (UpdateTask) CommandName() string     { return "update_task" }
func (AddTaskComment) CommandName() string { return "add_task_comment" }
func (DeleteTask) CommandName() string     { return "delete_task" }
func (CreateProject) CommandName() string  { return "create_project" }
func (UpdateProject) CommandName() string  { return "update_project" }
func (InviteMember) CommandName() string   { return "invite_member" }
func (ChangeRole) CommandName() string     { return "change_role" }
func (RemoveMember) CommandName() string   { return "remove_member" }

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func required(op, field, value string) error {
	if blank(value) {
		return apperr.Validation(op, "%s is required", field)
	}
	return nil
}

func (c SendMessage) Validate() error {
	if err := required(c.CommandName(), "chat room id", c.ChatRoomID); err != nil {
		return err
	}
	if blank(c.Content) {
		return apperr.Validation(c.CommandName(), "message body must not be blank")
	}
	if c.Type != "" && c.Type != models.MessageText && c.Type != models.MessageVoice {
		return apperr.Validation(c.CommandName(), "unknown message type %q", c.Type)
	}
	return nil
}

func (c EditMessage) Validate() error {
	if err := required(c.CommandName(), "message id", c.MessageID); err != nil {
		return err
	}
	if blank(c.Content) {
		return apperr.Validation(c.CommandName(), "message body must not be blank")
	}
	return nil
}

func (c DeleteMessage) Validate() error {
	return required(c.CommandName(), "message id", c.MessageID)
}

func (c ToggleReaction) Validate() error {
	if err := required(c.CommandName(), "message id", c.MessageID); err != nil {
		return err
	}
	return required(c.CommandName(), "emoji", c.Emoji)
}

func (c MarkRead) Validate() error {
	return required(c.CommandName(), "message id", c.MessageID)
}

func (c CreateChatRoom) Validate() error {
	if err := required(c.CommandName(), "project id", c.ProjectID); err != nil {
		return err
	}
	return required(c.CommandName(), "room name", c.Name)
}

func (c UpdateChatRoom) Validate() error {
	if err := required(c.CommandName(), "chat room id", c.ChatRoomID); err != nil {
		return err
	}
	if c.Name != nil && blank(*c.Name) {
		return apperr.Validation(c.CommandName(), "room name must not be blank")
	}
	return nil
}

func (c DeleteChatRoom) Validate() error {
	return required(c.CommandName(), "chat room id", c.ChatRoomID)
}

func (c CreateTask) Validate() error {
	if err := required(c.CommandName(), "project id", c.ProjectID); err != nil {
		return err
	}
	if blank(c.Title) {
		return apperr.Validation(c.CommandName(), "task title must not be blank")
	}
	if c.Priority != "" && !c.Priority.Valid() {
		return apperr.Validation(c.CommandName(), "unknown priority %q", c.Priority)
	}
	return nil
}

func (c UpdateTask) Validate() error {
	if err := required(c.CommandName(), "task id", c.TaskID); err != nil {
		return err
	}
	if c.Title != nil && blank(*c.Title) {
		return apperr.Validation(c.CommandName(), "task title must not be blank")
	}
	if c.Status != nil && !c.Status.Valid() {
		return apperr.Validation(c.CommandName(), "unknown status %q", *c.Status)
	}
	if c.Priority != nil && !c.Priority.Valid() {
		return apperr.Validation(c.CommandName(), "unknown priority %q", *c.Priority)
	}
	if c.ClearDueDate && c.DueDate != nil {
		return apperr.Validation(c.CommandName(), "due date cannot be both set and cleared")
	}
	return nil
}

func (c AddTaskComment) Validate() error {
	if err := required(c.CommandName(), "task id", c.TaskID); err != nil {
		return err
	}
	if blank(c.Content) {
		return apperr.Validation(c.CommandName(), "comment must not be blank")
	}
	return nil
}

func (c DeleteTask) Validate() error {
	return required(c.CommandName(), "task id", c.TaskID)
}

func (c CreateProject) Validate() error {
	return required(c.CommandName(), "project name", c.Name)
}

func (c UpdateProject) Validate() error {
	if err := required(c.CommandName(), "project id", c.ProjectID); err != nil {
		return err
	}
	if c.Name != nil && blank(*c.Name) {
		return apperr.Validation(c.CommandName(), "project name must not be blank")
	}
	if c.Status != nil && !c.Status.Valid() {
		return apperr.Validation(c.CommandName(), "unknown project status %q", *c.Status)
	}
	return nil
}

func validateMembership(op, projectID, userID string) error {
	if err := required(op, "project id", projectID); err != nil {
		return err
	}
	return required(op, "user id", userID)
}

func (c InviteMember) Validate() error {
	if err := validateMembership(c.CommandName(), c.ProjectID, c.UserID); err != nil {
		return err
	}
	if !c.Role.Valid() {
		return apperr.Validation(c.CommandName(), "unknown role %q", c.Role)
	}
	return nil
}

func (c ChangeRole) Validate() error {
	if err := validateMembership(c.CommandName(), c.ProjectID, c.UserID); err != nil {
		return err
	}
	if !c.Role.Valid() {
		return apperr.Validation(c.CommandName(), "unknown role %q", c.Role)
	}
	return nil
}

func (c RemoveMember) Validate() error {
	return validateMembership(c.CommandName(), c.ProjectID, c.UserID)
}
