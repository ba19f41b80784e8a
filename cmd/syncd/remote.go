package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/teamsync/internal/models"
	"github.com/good-yellow-bee/teamsync/internal/remote"
)

var (
	remoteListen   string
	remoteSeed     string
	remotePageSize int
	remoteReassign bool
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Serve an in-memory development remote over gRPC",
	Long: `Serve every collection from memory. Data is lost on exit.

The seed file is a JSON object keyed by collection name:
  {"projects": [{"id": "p1", "name": "Apollo", ...}], "messages": [...]}`,
	RunE: runRemote,
}

func init() {
	remoteCmd.Flags().StringVarP(&remoteListen, "listen", "l", ":7443", "listen address")
	remoteCmd.Flags().StringVar(&remoteSeed, "seed", "", "JSON file with initial data")
	remoteCmd.Flags().IntVar(&remotePageSize, "page-size", 100, "max changes per fetch page")
	remoteCmd.Flags().BoolVar(&remoteReassign, "reassign-ids", false, "assign server ids to created entities")

	rootCmd.AddCommand(remoteCmd)
}

// devBackend is one in-memory store per collection.
type devBackend struct {
	projects  *remote.Memory[*models.Project]
	chatRooms *remote.Memory[*models.ChatRoom]
	messages  *remote.Memory[*models.Message]
	tasks     *remote.Memory[*models.Task]
	members   *remote.Memory[*models.ProjectMember]
	users     *remote.Memory[*models.User]
}

func newDevBackend() *devBackend {
	return &devBackend{
		projects:  remote.NewMemory(models.CollectionProjects, func() *models.Project { return new(models.Project) }),
		chatRooms: remote.NewMemory(models.CollectionChatRooms, func() *models.ChatRoom { return new(models.ChatRoom) }),
		messages:  remote.NewMemory(models.CollectionMessages, func() *models.Message { return new(models.Message) }),
		tasks:     remote.NewMemory(models.CollectionTasks, func() *models.Task { return new(models.Task) }),
		members:   remote.NewMemory(models.CollectionProjectMembers, func() *models.ProjectMember { return new(models.ProjectMember) }),
		users:     remote.NewMemory(models.CollectionUsers, func() *models.User { return new(models.User) }),
	}
}

// configure applies the same settings to every store.
func (b *devBackend) configure(pageSize int, reassignIDs, verbose bool) {
	configureMemory(b.projects, pageSize, reassignIDs, verbose)
	configureMemory(b.chatRooms, pageSize, reassignIDs, verbose)
	configureMemory(b.messages, pageSize, reassignIDs, verbose)
	configureMemory(b.tasks, pageSize, reassignIDs, verbose)
	// Member ids are derived from project and user.
	configureMemory(b.members, pageSize, false, verbose)
	configureMemory(b.users, pageSize, reassignIDs, verbose)
}

func configureMemory[T models.Entity](m *remote.Memory[T], pageSize int, reassignIDs, verbose bool) {
	m.SetPageSize(pageSize)
	m.SetReassignIDs(reassignIDs)
	m.SetVerbose(verbose)
}

func (b *devBackend) register(s *remote.Server) {
	remote.Register(s, models.CollectionProjects, b.projects, func() *models.Project { return new(models.Project) })
	remote.Register(s, models.CollectionChatRooms, b.chatRooms, func() *models.ChatRoom { return new(models.ChatRoom) })
	remote.Register(s, models.CollectionMessages, b.messages, func() *models.Message { return new(models.Message) })
	remote.Register(s, models.CollectionTasks, b.tasks, func() *models.Task { return new(models.Task) })
	remote.Register(s, models.CollectionProjectMembers, b.members, func() *models.ProjectMember { return new(models.ProjectMember) })
	remote.Register(s, models.CollectionUsers, b.users, func() *models.User { return new(models.User) })
}

// seed loads a JSON document keyed by collection name and returns the
// number of entities stored.
func (b *devBackend) seed(r io.Reader) (int, error) {
	var doc map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return 0, fmt.Errorf("decode seed: %w", err)
	}

	total := 0
	for name, raw := range doc {
		coll, ok := models.ParseCollection(name)
		if !ok {
			return total, fmt.Errorf("seed: unknown collection %q", name)
		}
		var (
			n   int
			err error
		)
		switch coll {
		case models.CollectionProjects:
			n, err = seedInto(b.projects, raw)
		case models.CollectionChatRooms:
			n, err = seedInto(b.chatRooms, raw)
		case models.CollectionMessages:
			n, err = seedInto(b.messages, raw)
		case models.CollectionTasks:
			n, err = seedInto(b.tasks, raw)
		case models.CollectionProjectMembers:
			n, err = seedInto(b.members, raw)
		case models.CollectionUsers:
			n, err = seedInto(b.users, raw)
		}
		if err != nil {
			return total, fmt.Errorf("seed %s: %w", coll, err)
		}
		total += n
	}
	return total, nil
}

func seedInto[T models.Entity](m *remote.Memory[T], raw json.RawMessage) (int, error) {
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return 0, err
	}
	for i, item := range items {
		if item.EntityID() == "" {
			return 0, fmt.Errorf("item %d has no id", i)
		}
	}
	if err := m.Put(items...); err != nil {
		return 0, err
	}
	return len(items), nil
}

func runRemote(cmd *cobra.Command, args []string) error {
	backend := newDevBackend()
	backend.configure(remotePageSize, remoteReassign, verbose)

	if remoteSeed != "" {
		f, err := os.Open(remoteSeed)
		if err != nil {
			return fmt.Errorf("open seed: %w", err)
		}
		n, err := backend.seed(f)
		f.Close()
		if err != nil {
			return err
		}
		log.Printf("seeded %d entities from %s", n, remoteSeed)
	}

	srv := remote.NewServer(verbose)
	backend.register(srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := srv.Run(ctx, remoteListen); err != nil {
		return fmt.Errorf("run remote: %w", err)
	}
	return nil
}
