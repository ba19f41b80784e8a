package mutation

import (
	"context"
	"strings"

	"github.com/good-yellow-bee/teamsync/internal/apperr"
	"github.com/good-yellow-bee/teamsync/internal/auth"
	"github.com/good-yellow-bee/teamsync/internal/models"
	"github.com/good-yellow-bee/teamsync/internal/storage"
)

// createProject writes the project and the creator's ADMIN membership in one
// batch. The membership is sent once the remote has accepted the project.
func (m *Mutator) createProject(ctx context.Context, c CreateProject) error {
	op := c.CommandName()
	uid, err := m.currentUser(op)
	if err != nil {
		return err
	}

	project := models.NewProject(strings.TrimSpace(c.Name), c.Description, uid)
	project.ID = m.newID()
	project.CreatedAt = m.now()
	project.UpdatedAt = project.CreatedAt
	project.SetPending(true)

	member := models.NewProjectMember(project.ID, uid, models.RoleAdmin, uid)
	member.JoinedAt = project.CreatedAt
	member.SetPending(true)

	projectRow, err := m.projects.RowOf(project)
	if err != nil {
		return apperr.Cache(op, err)
	}
	memberRow, err := m.members.RowOf(member)
	if err != nil {
		return apperr.Cache(op, err)
	}
	if err := m.apply(ctx, &storage.Batch{Upserts: []storage.Row{projectRow, memberRow}}); err != nil {
		return err
	}

	m.dispatch(c, func(ctx context.Context) error {
		localMember := m.members.Key(member.ID)

		projectID, err := m.remotes.Projects.Create(ctx, project)
		if err != nil {
			m.reconcile(&storage.Batch{Purges: []storage.RowKey{m.projects.Key(project.ID), localMember}})
			return apperr.Mutation(op, models.CollectionProjects, project.ID, c, err)
		}
		b, err := confirmCreated(ctx, m.projects, project, projectID)
		if err != nil {
			return apperr.Mutation(op, models.CollectionProjects, project.ID, c, err)
		}

		if projectID != "" && projectID != project.ID {
			member.ProjectID = projectID
			member.ID = models.MemberID(projectID, uid)
		}
		memberID, err := m.remotes.Members.Create(ctx, member)
		if err != nil {
			b.Purges = append(b.Purges, localMember)
			m.reconcile(b)
			return apperr.Mutation(op, models.CollectionProjectMembers, member.ID, c, err)
		}
		if memberID != "" {
			member.ID = memberID
		}
		member.SetPending(false)
		row, err := m.members.RowOf(member)
		if err != nil {
			return apperr.Mutation(op, models.CollectionProjectMembers, member.ID, c, err)
		}
		b.Upserts = append(b.Upserts, row)
		if member.ID != localMember.ID {
			b.Purges = append(b.Purges, localMember)
		}
		m.reconcile(b)
		return nil
	})
	return nil
}

func (m *Mutator) updateProject(ctx context.Context, c UpdateProject) error {
	op := c.CommandName()
	return update(m, ctx, c, m.projects, m.remotes.Projects, c.ProjectID,
		func(p *models.Project) error {
			role, err := m.roleIn(ctx, op, p.ID)
			if err != nil {
				return err
			}
			if !role.CanManage() {
				return apperr.Authorization(op, "role %s may not change project %s", role, p.ID)
			}
			return nil
		},
		func(p *models.Project) (bool, error) {
			if c.Name != nil {
				p.Name = strings.TrimSpace(*c.Name)
			}
			if c.Description != nil {
				p.Description = *c.Description
			}
			if c.Status != nil {
				p.Status = *c.Status
			}
			p.UpdatedAt = m.now()
			return true, nil
		})
}

func (m *Mutator) inviteMember(ctx context.Context, c InviteMember) error {
	op := c.CommandName()
	uid, err := m.currentUser(op)
	if err != nil {
		return err
	}
	role, err := m.roleIn(ctx, op, c.ProjectID)
	if err != nil {
		return err
	}
	if !role.CanAssignTo(c.Role) {
		return apperr.Authorization(op, "role %s may not assign %s", role, c.Role)
	}

	_, exists, err := auth.FindMember(ctx, m.members, c.ProjectID, c.UserID)
	if err != nil {
		return apperr.Cache(op, err)
	}
	if exists {
		return apperr.Validation(op, "user %s is already a member of project %s", c.UserID, c.ProjectID)
	}

	member := models.NewProjectMember(c.ProjectID, c.UserID, c.Role, uid)
	member.JoinedAt = m.now()
	return create(m, ctx, c, m.members, m.remotes.Members, member)
}

func (m *Mutator) changeRole(ctx context.Context, c ChangeRole) error {
	op := c.CommandName()
	role, err := m.roleIn(ctx, op, c.ProjectID)
	if err != nil {
		return err
	}
	if !role.CanAssignTo(c.Role) {
		return apperr.Authorization(op, "role %s may not assign %s", role, c.Role)
	}

	target, err := m.targetMember(ctx, op, c.ProjectID, c.UserID)
	if err != nil {
		return err
	}
	if !role.CanModify(target.Role) {
		return apperr.Authorization(op, "role %s may not change a %s", role, target.Role)
	}
	if target.Role == c.Role {
		return nil
	}
	if target.Role == models.RoleAdmin {
		if err := m.keepAnAdmin(ctx, op, c.ProjectID); err != nil {
			return err
		}
	}

	return update(m, ctx, c, m.members, m.remotes.Members, target.ID, nil,
		func(pm *models.ProjectMember) (bool, error) {
			pm.Role = c.Role
			return true, nil
		})
}

func (m *Mutator) removeMember(ctx context.Context, c RemoveMember) error {
	op := c.CommandName()
	uid, err := m.currentUser(op)
	if err != nil {
		return err
	}
	role, err := m.roleIn(ctx, op, c.ProjectID)
	if err != nil {
		return err
	}

	target, err := m.targetMember(ctx, op, c.ProjectID, c.UserID)
	if err != nil {
		return err
	}
	// Anyone may leave; removing others needs authority over their role.
	if target.UserID != uid && !role.CanModify(target.Role) {
		return apperr.Authorization(op, "role %s may not remove a %s", role, target.Role)
	}
	if target.Role == models.RoleAdmin {
		if err := m.keepAnAdmin(ctx, op, c.ProjectID); err != nil {
			return err
		}
	}

	return remove(m, ctx, c, m.members, m.remotes.Members, target)
}

func (m *Mutator) targetMember(ctx context.Context, op, projectID, userID string) (*models.ProjectMember, error) {
	target, ok, err := auth.FindMember(ctx, m.members, projectID, userID)
	if err != nil {
		return nil, apperr.Cache(op, err)
	}
	if !ok {
		return nil, apperr.Validation(op, "user %s is not a member of project %s", userID, projectID)
	}
	return target, nil
}

// keepAnAdmin fails if projectID has only one ADMIN left.
func (m *Mutator) keepAnAdmin(ctx context.Context, op, projectID string) error {
	members, err := m.members.Query(ctx, storage.Query{Scope: projectID})
	if err != nil {
		return apperr.Cache(op, err)
	}
	admins := 0
	for _, pm := range members {
		if pm.Role == models.RoleAdmin {
			admins++
		}
	}
	if admins <= 1 {
		return apperr.Validation(op, "project %s must keep at least one ADMIN", projectID)
	}
	return nil
}
