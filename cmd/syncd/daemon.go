package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/good-yellow-bee/teamsync/internal/auth"
	"github.com/good-yellow-bee/teamsync/internal/core"
	"github.com/good-yellow-bee/teamsync/internal/metrics"
	"github.com/good-yellow-bee/teamsync/internal/models"
	"github.com/good-yellow-bee/teamsync/internal/mutation"
	"github.com/good-yellow-bee/teamsync/internal/remote"
	"github.com/good-yellow-bee/teamsync/internal/storage"
	"github.com/good-yellow-bee/teamsync/internal/syncer"
	"github.com/good-yellow-bee/teamsync/pkg/config"
)

// syncSession is a running coordinator of any collection.
type syncSession interface {
	StartSync(scope string)
	Errors() <-chan error
	Close()
}

// daemon owns the cache, the remote connection and one coordinator per subscription.
type daemon struct {
	cfg   *Config
	cache *storage.SQLiteCache
	conn  *grpc.ClientConn
	core  *core.Core

	mu       sync.Mutex
	sessions map[string]syncSession
	drains   sync.WaitGroup
}

func newDaemon(cfg *Config) (*daemon, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	cache := storage.NewSQLiteCache(cfg.Cache.Path)
	cache.SetVerbose(cfg.Verbose)
	if err := cache.Open(); err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := cache.Migrate(); err != nil {
		cache.Close()
		return nil, fmt.Errorf("migrate cache: %w", err)
	}

	identity, err := loadIdentity(cfg, storage.Members(cache))
	if err != nil {
		cache.Close()
		return nil, err
	}

	conn, err := remote.Dial(cfg.Remote.Address, config.UserAgent("syncd", cfg.Device.ID))
	if err != nil {
		cache.Close()
		return nil, err
	}

	c := core.New(cache, grpcRemotes(conn), identity, core.Config{
		Sync: syncer.Config{
			PageSize:        cfg.Sync.PageSize,
			InitialBackoff:  cfg.Sync.InitialBackoff,
			MaxBackoff:      cfg.Sync.MaxBackoff,
			RefetchInterval: cfg.Sync.RefetchInterval,
		},
		Mutation: mutation.Config{Timeout: cfg.Remote.Timeout},
		Verbose:  cfg.Verbose,
	})

	return &daemon{
		cfg:      cfg,
		cache:    cache,
		conn:     conn,
		core:     c,
		sessions: make(map[string]syncSession),
	}, nil
}

// loadIdentity resolves the user the daemon acts for. Without a token the
// daemon only syncs and every command is rejected.
func loadIdentity(cfg *Config, members *storage.Collection[*models.ProjectMember]) (auth.Identity, error) {
	if cfg.Auth.Token == "" {
		return auth.Static{}, nil
	}
	secret := os.Getenv(cfg.Auth.SecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable is required when auth.token is set", cfg.Auth.SecretEnv)
	}
	identity, err := auth.IdentityFromToken(auth.NewJWTService([]byte(secret), cfg.Auth.SessionTTL), cfg.Auth.Token, members)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	log.Printf("acting as user %s", identity.CurrentUserID())
	return identity, nil
}

// grpcRemotes builds a remote client per collection over one connection.
func grpcRemotes(conn grpc.ClientConnInterface) core.Remotes {
	return core.Remotes{
		Projects:  remote.NewGRPCCollection(conn, models.CollectionProjects, func() *models.Project { return new(models.Project) }),
		ChatRooms: remote.NewGRPCCollection(conn, models.CollectionChatRooms, func() *models.ChatRoom { return new(models.ChatRoom) }),
		Messages:  remote.NewGRPCCollection(conn, models.CollectionMessages, func() *models.Message { return new(models.Message) }),
		Tasks:     remote.NewGRPCCollection(conn, models.CollectionTasks, func() *models.Task { return new(models.Task) }),
		Members:   remote.NewGRPCCollection(conn, models.CollectionProjectMembers, func() *models.ProjectMember { return new(models.ProjectMember) }),
		Users:     remote.NewGRPCCollection(conn, models.CollectionUsers, func() *models.User { return new(models.User) }),
	}
}

// newSession creates an idle coordinator for a collection.
func newSession(c *core.Core, coll models.Collection) (syncSession, error) {
	switch coll {
	case models.CollectionProjects:
		return c.NewProjectSync(), nil
	case models.CollectionChatRooms:
		return c.NewChatRoomSync(), nil
	case models.CollectionMessages:
		return c.NewMessageSync(), nil
	case models.CollectionTasks:
		return c.NewTaskSync(), nil
	case models.CollectionProjectMembers:
		return c.NewMemberSync(), nil
	case models.CollectionUsers:
		return c.NewUserSync(), nil
	default:
		return nil, fmt.Errorf("unknown collection %q", coll)
	}
}

// diffSubscriptions returns the subscriptions of next missing from current
// and the keys of current missing from next.
func diffSubscriptions(current map[string]syncSession, next []SubscriptionConfig) (added []SubscriptionConfig, removed []string) {
	wanted := make(map[string]bool, len(next))
	for _, sub := range next {
		wanted[sub.Key()] = true
		if _, ok := current[sub.Key()]; !ok {
			added = append(added, sub)
		}
	}
	for key := range current {
		if !wanted[key] {
			removed = append(removed, key)
		}
	}
	return added, removed
}

// apply brings the running sessions in line with subs.
func (d *daemon) apply(subs []SubscriptionConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	added, removed := diffSubscriptions(d.sessions, subs)
	for _, key := range removed {
		d.sessions[key].Close()
		delete(d.sessions, key)
		log.Printf("stopped syncing %s", key)
	}
	for _, sub := range added {
		coll, _ := models.ParseCollection(sub.Collection)
		s, err := newSession(d.core, coll)
		if err != nil {
			return err
		}
		d.sessions[sub.Key()] = s
		d.drain(sub.Key(), s)
		s.StartSync(sub.Scope)
		log.Printf("syncing %s", sub.Key())
	}
	return nil
}

// drain logs a session's sync errors until it is closed.
func (d *daemon) drain(key string, s syncSession) {
	d.drains.Add(1)
	go func() {
		defer d.drains.Done()
		for err := range s.Errors() {
			log.Printf("[syncd] %s: %v", key, err)
		}
	}()
}

// Run syncs until ctx is cancelled, reloading subscriptions when the config
// file changes.
func (d *daemon) Run(ctx context.Context, configPath string) error {
	if err := d.apply(d.cfg.Subscriptions); err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	if d.cfg.Metrics.Enabled {
		srv := metrics.NewServer(d.cfg.Metrics.Address, d.health)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case err, ok := <-d.core.MutationErrors():
				if !ok {
					return nil
				}
				log.Printf("[syncd] %v", err)
			}
		}
	})

	if configPath != "" {
		g.Go(func() error {
			return d.watchConfig(gCtx, configPath)
		})
	}

	return g.Wait()
}

// watchConfig re-applies the subscription list whenever the config file is written.
func (d *daemon) watchConfig(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files, so watch the directory.
	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			d.reload(path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config watcher: %v", err)
		}
	}
}

func (d *daemon) reload(path string) {
	cfg, err := LoadConfig(path)
	if err != nil {
		log.Printf("config reload failed, keeping current subscriptions: %v", err)
		return
	}
	if err := d.apply(cfg.Subscriptions); err != nil {
		log.Printf("apply subscriptions: %v", err)
		return
	}
	log.Printf("config reloaded: %d subscriptions", len(cfg.Subscriptions))
}

func (d *daemon) health(ctx context.Context) error {
	return d.cache.DB().PingContext(ctx)
}

// Close stops every session and releases the cache and the connection.
func (d *daemon) Close() error {
	err := d.core.Close()
	d.drains.Wait()
	if cerr := d.conn.Close(); err == nil {
		err = cerr
	}
	if cerr := d.cache.Close(); err == nil {
		err = cerr
	}
	return err
}
