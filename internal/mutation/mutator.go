// Package mutation applies local writes optimistically and reconciles them
// with the remote in the background.
package mutation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/teamsync/internal/apperr"
	"github.com/good-yellow-bee/teamsync/internal/auth"
	"github.com/good-yellow-bee/teamsync/internal/metrics"
	"github.com/good-yellow-bee/teamsync/internal/models"
	"github.com/good-yellow-bee/teamsync/internal/remote"
	"github.com/good-yellow-bee/teamsync/internal/storage"
)

// Remotes holds the remote collections mutations are sent to.
type Remotes struct {
	Projects  remote.Collection[*models.Project]
	ChatRooms remote.Collection[*models.ChatRoom]
	Messages  remote.Collection[*models.Message]
	Tasks     remote.Collection[*models.Task]
	Members   remote.Collection[*models.ProjectMember]
}

// Config configures a Mutator.
type Config struct {
	// Timeout bounds each background remote call.
	Timeout time.Duration
	// ErrorBuffer is the capacity of the Errors channel.
	ErrorBuffer int
	Verbose     bool
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:     30 * time.Second,
		ErrorBuffer: 32,
	}
}

// ResyncFunc asks for a full resync of a collection scope.
type ResyncFunc func(collection models.Collection, scope string)

// Mutator runs commands: validate, authorize, apply to the cache, then
// confirm with the remote in the background.
type Mutator struct {
	cache     storage.Cache
	projects  *storage.Collection[*models.Project]
	chatRooms *storage.Collection[*models.ChatRoom]
	messages  *storage.Collection[*models.Message]
	tasks     *storage.Collection[*models.Task]
	members   *storage.Collection[*models.ProjectMember]
	users     *storage.Collection[*models.User]

	remotes  Remotes
	identity auth.Identity
	config   Config

	now    func() time.Time
	newID  func() string
	resync ResyncFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	errs    chan error
	creates map[storage.RowKey]*inflight
}

// inflight is a remote create that has not answered yet. id and err are set
// before done is closed.
type inflight struct {
	done chan struct{}
	id   string
	err  error
}

// New creates a mutator writing to cache and rc on behalf of identity.
func New(cache storage.Cache, rc Remotes, identity auth.Identity, config Config) *Mutator {
	d := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = d.Timeout
	}
	if config.ErrorBuffer <= 0 {
		config.ErrorBuffer = d.ErrorBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Mutator{
		cache:     cache,
		projects:  storage.Projects(cache),
		chatRooms: storage.ChatRooms(cache),
		messages:  storage.Messages(cache),
		tasks:     storage.Tasks(cache),
		members:   storage.Members(cache),
		users:     storage.Users(cache),
		remotes:   rc,
		identity:  identity,
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		ctx:       ctx,
		cancel:    cancel,
		errs:      make(chan error, config.ErrorBuffer),
		creates:   make(map[storage.RowKey]*inflight),
	}
}

// SetResync sets the hook used when a failed remote delete needs the
// scope to be fetched again.
func (m *Mutator) SetResync(fn ResyncFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resync = fn
}

// Errors delivers MutationErrors of background remote calls. It is closed by Close.
func (m *Mutator) Errors() <-chan error {
	return m.errs
}

// Wait blocks until every background remote call has finished.
func (m *Mutator) Wait() {
	m.wg.Wait()
}

// Close cancels in-flight remote calls, waits for them and closes Errors.
func (m *Mutator) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	close(m.errs)
	m.mu.Unlock()
}

// Mutate runs cmd. Validation and authorization failures are returned
// before anything is written. Once Mutate returns nil the change is
// visible in the cache; the remote outcome arrives later on Errors.
func (m *Mutator) Mutate(ctx context.Context, cmd Command) error {
	if cmd == nil {
		return apperr.Validation("mutate", "nil command")
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return apperr.Validation(cmd.CommandName(), "mutator is closed")
	}

	if err := cmd.Validate(); err != nil {
		metrics.MutationsTotal.WithLabelValues(cmd.CommandName(), "rejected").Inc()
		return err
	}

	var err error
	switch c := cmd.(type) {
	case SendMessage:
		err = m.sendMessage(ctx, c)
	case EditMessage:
		err = m.editMessage(ctx, c)
	case DeleteMessage:
		err = m.deleteMessage(ctx, c)
	case ToggleReaction:
		err = m.toggleReaction(ctx, c)
	case MarkRead:
		err = m.markRead(ctx, c)
	case CreateChatRoom:
		err = m.createChatRoom(ctx, c)
	case UpdateChatRoom:
		err = m.updateChatRoom(ctx, c)
	case DeleteChatRoom:
		err = m.deleteChatRoom(ctx, c)
	case CreateTask:
		err = m.createTask(ctx, c)
	case UpdateTask:
		err = m.updateTask(ctx, c)
	case AddTaskComment:
		err = m.addTaskComment(ctx, c)
	case DeleteTask:
		err = m.deleteTask(ctx, c)
	case CreateProject:
		err = m.createProject(ctx, c)
	case UpdateProject:
		err = m.updateProject(ctx, c)
	case InviteMember:
		err = m.inviteMember(ctx, c)
	case ChangeRole:
		err = m.changeRole(ctx, c)
	case RemoveMember:
		err = m.removeMember(ctx, c)
	default:
		err = apperr.Validation("mutate", "unsupported command %T", cmd)
	}

	if err != nil {
		result := "rejected"
		if apperr.IsKind(err, apperr.KindCache) {
			result = "cache_error"
		}
		metrics.MutationsTotal.WithLabelValues(cmd.CommandName(), result).Inc()
		return err
	}
	return nil
}

// apply writes the optimistic batch.
func (m *Mutator) apply(ctx context.Context, b *storage.Batch) error {
	_, err := m.cache.ApplyBatch(ctx, b)
	return err
}

// reconcile writes a follow-up batch. It runs after the remote answered, so
// it is not bound to any caller's cancellation.
func (m *Mutator) reconcile(b *storage.Batch) {
	if _, err := m.cache.ApplyBatch(context.WithoutCancel(m.ctx), b); err != nil {
		log.Printf("[mutation] reconcile failed: %v", err)
	}
}

// dispatch runs call in the background. A non-nil error from call is
// delivered on Errors.
func (m *Mutator) dispatch(cmd Command, call func(ctx context.Context) error) {
	m.wg.Add(1)
	metrics.MutationsInFlight.Inc()
	go func() {
		defer m.wg.Done()
		defer metrics.MutationsInFlight.Dec()

		ctx, cancel := context.WithTimeout(m.ctx, m.config.Timeout)
		defer cancel()

		start := time.Now()
		if err := call(ctx); err != nil {
			metrics.MutationsTotal.WithLabelValues(cmd.CommandName(), "failed").Inc()
			m.logf("%s failed after %v: %v", cmd.CommandName(), time.Since(start), err)
			m.report(err)
			return
		}
		metrics.MutationsTotal.WithLabelValues(cmd.CommandName(), "success").Inc()
		m.logf("%s confirmed in %v", cmd.CommandName(), time.Since(start))
	}()
}

func (m *Mutator) report(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.errs <- err:
	default:
		log.Printf("[mutation] error dropped, consumer not draining: %v", err)
	}
}

// beginCreate records a create about to be sent for key.
func (m *Mutator) beginCreate(key storage.RowKey) *inflight {
	f := &inflight{done: make(chan struct{})}
	m.mu.Lock()
	m.creates[key] = f
	m.mu.Unlock()
	return f
}

// endCreate publishes the remote answer for key.
func (m *Mutator) endCreate(key storage.RowKey, f *inflight, id string, err error) {
	m.mu.Lock()
	if m.creates[key] == f {
		delete(m.creates, key)
	}
	m.mu.Unlock()
	f.id, f.err = id, err
	close(f.done)
}

// inflightCreate returns the unanswered create of key, if any.
func (m *Mutator) inflightCreate(key storage.RowKey) *inflight {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates[key]
}

func (m *Mutator) requestResync(collection models.Collection, scope string) {
	if err := m.cache.ResetCursor(context.WithoutCancel(m.ctx), collection, scope); err != nil {
		log.Printf("[mutation] reset cursor %s:%s: %v", collection, scope, err)
	}
	m.mu.Lock()
	fn := m.resync
	m.mu.Unlock()
	if fn != nil {
		fn(collection, scope)
	}
}

// currentUser returns the acting user's id.
func (m *Mutator) currentUser(op string) (string, error) {
	uid := m.identity.CurrentUserID()
	if uid == "" {
		return "", apperr.Authorization(op, "no signed-in user")
	}
	return uid, nil
}

// roleIn returns the acting user's role in projectID, failing if they are
// not a member.
func (m *Mutator) roleIn(ctx context.Context, op, projectID string) (models.Role, error) {
	if _, err := m.currentUser(op); err != nil {
		return "", err
	}
	role, ok, err := m.identity.RoleFor(ctx, projectID)
	if err != nil {
		return "", apperr.Cache(op, fmt.Errorf("resolve role: %w", err))
	}
	if !ok {
		return "", apperr.Authorization(op, "not a member of project %s", projectID)
	}
	return role, nil
}

func (m *Mutator) logf(format string, args ...interface{}) {
	if m.config.Verbose {
		log.Printf("[mutation] "+format, args...)
	}
}
