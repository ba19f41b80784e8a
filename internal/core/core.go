// Package core is the surface the presentation layer talks to: live
// queries, commands, sync sessions and history paging over one local cache.
package core

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/teamsync/internal/apperr"
	"github.com/good-yellow-bee/teamsync/internal/auth"
	"github.com/good-yellow-bee/teamsync/internal/models"
	"github.com/good-yellow-bee/teamsync/internal/mutation"
	"github.com/good-yellow-bee/teamsync/internal/query"
	"github.com/good-yellow-bee/teamsync/internal/remote"
	"github.com/good-yellow-bee/teamsync/internal/storage"
	"github.com/good-yellow-bee/teamsync/internal/syncer"
)

// Remotes holds one remote collection per entity collection.
type Remotes struct {
	Projects  remote.Collection[*models.Project]
	ChatRooms remote.Collection[*models.ChatRoom]
	Messages  remote.Collection[*models.Message]
	Tasks     remote.Collection[*models.Task]
	Members   remote.Collection[*models.ProjectMember]
	Users     remote.Collection[*models.User]
}

// Config configures a Core.
type Config struct {
	Sync     syncer.Config
	Mutation mutation.Config
	Verbose  bool
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Sync:     syncer.DefaultConfig(),
		Mutation: mutation.DefaultConfig(),
	}
}

// syncSession is the type-independent view of a coordinator.
type syncSession interface {
	Collection() models.Collection
	Scope() (string, bool)
	Refresh()
	Close()
}

// Core wires the cache, the query hub, the mutator and the sync coordinators.
// The cache is owned by the caller and must outlive the Core.
type Core struct {
	cache   storage.Cache
	remotes Remotes
	config  Config

	hub     *query.Hub
	mutator *mutation.Mutator

	projects  *storage.Collection[*models.Project]
	chatRooms *storage.Collection[*models.ChatRoom]
	messages  *storage.Collection[*models.Message]
	tasks     *storage.Collection[*models.Task]
	members   *storage.Collection[*models.ProjectMember]
	users     *storage.Collection[*models.User]

	mu       sync.Mutex
	sessions map[syncSession]struct{}
	closed   bool
}

// New creates a Core over an open, migrated cache.
func New(cache storage.Cache, rc Remotes, identity auth.Identity, config Config) *Core {
	config.Sync.Verbose = config.Sync.Verbose || config.Verbose
	config.Mutation.Verbose = config.Mutation.Verbose || config.Verbose

	hub := query.NewHub(cache)
	hub.SetVerbose(config.Verbose)

	c := &Core{
		cache:     cache,
		remotes:   rc,
		config:    config,
		hub:       hub,
		projects:  storage.Projects(cache),
		chatRooms: storage.ChatRooms(cache),
		messages:  storage.Messages(cache),
		tasks:     storage.Tasks(cache),
		members:   storage.Members(cache),
		users:     storage.Users(cache),
		sessions:  make(map[syncSession]struct{}),
	}
	c.mutator = mutation.New(cache, mutation.Remotes{
		Projects:  rc.Projects,
		ChatRooms: rc.ChatRooms,
		Messages:  rc.Messages,
		Tasks:     rc.Tasks,
		Members:   rc.Members,
	}, identity, config.Mutation)
	c.mutator.SetResync(c.refresh)
	return c
}

// Hub returns the query hub, for observing collections the typed helpers do not cover.
func (c *Core) Hub() *query.Hub {
	return c.hub
}

// ObserveMessages observes a chat room's newest limit messages in timestamp
// order. limit zero means every cached message.
func (c *Core) ObserveMessages(ctx context.Context, chatRoomID string, limit int) (*query.Live[*models.Message], error) {
	return query.Observe(ctx, c.hub, c.messages, query.Spec{
		Key:       query.Key{Collection: models.CollectionMessages, Scope: chatRoomID},
		Limit:     limit,
		Ascending: true,
	})
}

// ObserveChatRooms observes a project's rooms, most recently active first.
func (c *Core) ObserveChatRooms(ctx context.Context, projectID, filter string) (*query.Live[*models.ChatRoom], error) {
	return query.Observe(ctx, c.hub, c.chatRooms, query.Spec{
		Key:    query.Key{Collection: models.CollectionChatRooms, Scope: projectID},
		Filter: filter,
	})
}

// ObserveTasks observes a project's tasks, newest first. filter is an
// optional expression such as `status != "DONE"`.
func (c *Core) ObserveTasks(ctx context.Context, projectID, filter string) (*query.Live[*models.Task], error) {
	return query.Observe(ctx, c.hub, c.tasks, query.Spec{
		Key:    query.Key{Collection: models.CollectionTasks, Scope: projectID},
		Filter: filter,
	})
}

// ObserveMembers observes a project's members in join order.
func (c *Core) ObserveMembers(ctx context.Context, projectID string) (*query.Live[*models.ProjectMember], error) {
	return query.Observe(ctx, c.hub, c.members, query.Spec{
		Key:       query.Key{Collection: models.CollectionProjectMembers, Scope: projectID},
		Ascending: true,
	})
}

// ObserveProjects observes every cached project, newest first.
func (c *Core) ObserveProjects(ctx context.Context, filter string) (*query.Live[*models.Project], error) {
	return query.Observe(ctx, c.hub, c.projects, query.Spec{
		Key:    query.Key{Collection: models.CollectionProjects},
		Filter: filter,
	})
}

// Mutate runs a command. See mutation.Mutator.Mutate.
func (c *Core) Mutate(ctx context.Context, cmd mutation.Command) error {
	return c.mutator.Mutate(ctx, cmd)
}

// MutationErrors delivers failures of background remote writes.
func (c *Core) MutationErrors() <-chan error {
	return c.mutator.Errors()
}

// NewProjectSync creates a coordinator for projects. The caller owns it and
// closes it when done; Core.Close closes any still open.
func (c *Core) NewProjectSync() *syncer.ProjectSync {
	return track(c, syncer.New(c.projects, c.remotes.Projects, c.config.Sync))
}

// NewChatRoomSync creates a coordinator for chat rooms.
func (c *Core) NewChatRoomSync() *syncer.ChatRoomSync {
	return track(c, syncer.New(c.chatRooms, c.remotes.ChatRooms, c.config.Sync))
}

// NewMessageSync creates a coordinator for messages.
func (c *Core) NewMessageSync() *syncer.MessageSync {
	return track(c, syncer.New(c.messages, c.remotes.Messages, c.config.Sync))
}

// NewTaskSync creates a coordinator for tasks.
func (c *Core) NewTaskSync() *syncer.TaskSync {
	return track(c, syncer.New(c.tasks, c.remotes.Tasks, c.config.Sync))
}

// NewMemberSync creates a coordinator for project members.
func (c *Core) NewMemberSync() *syncer.MemberSync {
	return track(c, syncer.New(c.members, c.remotes.Members, c.config.Sync))
}

// NewUserSync creates a coordinator for users.
func (c *Core) NewUserSync() *syncer.UserSync {
	return track(c, syncer.New(c.users, c.remotes.Users, c.config.Sync))
}

func track[T models.Entity](c *Core, s *syncer.Coordinator[T]) *syncer.Coordinator[T] {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		// Closed immediately so callers see a closed Errors channel.
		s.Close()
		return s
	}
	c.sessions[s] = struct{}{}
	c.mu.Unlock()

	s.OnClose(func() {
		c.mu.Lock()
		delete(c.sessions, s)
		c.mu.Unlock()
	})
	return s
}

// LoadOlderMessages loads the page of messages before cursor through the
// coordinator currently syncing chatRoomID.
func (c *Core) LoadOlderMessages(ctx context.Context, s *syncer.MessageSync, chatRoomID string, before models.Cursor) (syncer.PageResult[*models.Message], error) {
	if s == nil {
		return syncer.PageResult[*models.Message]{}, apperr.Validation("load older", "no message sync")
	}
	return s.LoadOlder(ctx, chatRoomID, before)
}

// ReplyPreview is the quoted message shown above a reply.
type ReplyPreview struct {
	MessageID  string
	SenderName string
	Content    string
	// Available is false when the replied-to message is not in the cache.
	Available bool
}

// ReplyPreview resolves the message msg replies to. A missing target is not
// an error.
func (c *Core) ReplyPreview(ctx context.Context, msg *models.Message) (ReplyPreview, error) {
	if msg == nil || msg.ReplyToMessageID == "" {
		return ReplyPreview{}, nil
	}
	preview := ReplyPreview{MessageID: msg.ReplyToMessageID}
	target, ok, err := c.messages.Get(ctx, msg.ReplyToMessageID)
	if err != nil {
		return preview, apperr.Cache("reply preview", err)
	}
	if !ok {
		return preview, nil
	}
	preview.SenderName = target.SenderName
	preview.Content = target.Content
	preview.Available = true
	return preview, nil
}

// RequestResync forgets the synced cursor of a collection scope and asks
// any coordinator syncing it for a full fetch.
func (c *Core) RequestResync(ctx context.Context, collection models.Collection, scope string) error {
	if err := c.cache.ResetCursor(ctx, collection, scope); err != nil {
		return apperr.Cache("request resync", err)
	}
	c.refresh(collection, scope)
	return nil
}

func (c *Core) refresh(collection models.Collection, scope string) {
	c.mu.Lock()
	sessions := make([]syncSession, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		if s.Collection() != collection {
			continue
		}
		if active, ok := s.Scope(); ok && active == scope {
			s.Refresh()
		}
	}
}

// Close stops every coordinator created by this Core, waits for in-flight
// remote writes and detaches from the cache.
func (c *Core) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := c.sessions
	c.sessions = nil
	c.mu.Unlock()

	var g errgroup.Group
	for s := range sessions {
		g.Go(func() error {
			s.Close()
			return nil
		})
	}
	g.Go(func() error {
		c.mutator.Close()
		return nil
	})
	err := g.Wait()

	c.hub.Close()
	if c.config.Verbose {
		log.Printf("[core] closed %d sync sessions", len(sessions))
	}
	return err
}
