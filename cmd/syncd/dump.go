package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/good-yellow-bee/teamsync/internal/models"
	"github.com/good-yellow-bee/teamsync/internal/query"
	"github.com/good-yellow-bee/teamsync/internal/storage"
)

var (
	dumpCache  string
	dumpKey    string
	dumpLimit  int
	dumpOutput string
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Show what the local cache holds",
	Long: `Show sync cursors, cached scopes and unconfirmed writes of a local cache.
With --key, list the rows of one scope instead.

Examples:
  syncd dump --cache ./data/teamsync.db
  syncd dump --key messages:room1 --limit 5 -o json`,
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringVar(&dumpCache, "cache", "", "cache file (default: cache.path from config)")
	dumpCmd.Flags().StringVarP(&dumpKey, "key", "k", "", "list rows of collection:scope")
	dumpCmd.Flags().IntVarP(&dumpLimit, "limit", "n", 50, "max rows with --key")
	dumpCmd.Flags().StringVarP(&dumpOutput, "output", "o", "", "output format (table, json); default table on a terminal")

	rootCmd.AddCommand(dumpCmd)
}

// cacheSummary is the dump of a whole cache.
type cacheSummary struct {
	Path     string          `json:"path"`
	Pending  int             `json:"pending"`
	Scopes   []scopeSummary  `json:"scopes"`
	Cursors  []cursorSummary `json:"cursors"`
	Captured time.Time       `json:"captured_at"`
}

type scopeSummary struct {
	Collection string `json:"collection"`
	Scope      string `json:"scope"`
	Rows       int    `json:"rows"`
}

type cursorSummary struct {
	Collection string    `json:"collection"`
	Scope      string    `json:"scope"`
	Cursor     string    `json:"cursor"`
	SyncedAt   time.Time `json:"synced_at"`
}

type rowDump struct {
	ID      string          `json:"id"`
	Pending bool            `json:"pending"`
	Payload json.RawMessage `json:"payload"`
}

func runDump(cmd *cobra.Command, args []string) error {
	path := dumpCache
	if path == "" {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config (or pass --cache): %w", err)
		}
		path = cfg.Cache.Path
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("open cache: %w", err)
	}

	cache := storage.NewSQLiteCache(path)
	if err := cache.Open(); err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer cache.Close()
	if err := cache.Migrate(); err != nil {
		return fmt.Errorf("migrate cache: %w", err)
	}

	asJSON, err := useJSON(dumpOutput, os.Stdout)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if dumpKey != "" {
		key, err := query.ParseKey(dumpKey)
		if err != nil {
			return fmt.Errorf("parse key: %w", err)
		}
		rows, err := dumpRows(ctx, cache, key, dumpLimit)
		if err != nil {
			return err
		}
		if asJSON {
			return writeJSON(os.Stdout, rows)
		}
		return writeRowsTable(os.Stdout, rows)
	}

	summary, err := summarize(ctx, cache, path)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(os.Stdout, summary)
	}
	return writeSummaryTable(os.Stdout, summary)
}

// useJSON picks the output format; without an explicit choice, pipes get JSON.
func useJSON(format string, out *os.File) (bool, error) {
	switch format {
	case "json":
		return true, nil
	case "table":
		return false, nil
	case "":
		return !term.IsTerminal(int(out.Fd())), nil
	default:
		return false, fmt.Errorf("unknown output format %q", format)
	}
}

func summarize(ctx context.Context, cache *storage.SQLiteCache, path string) (*cacheSummary, error) {
	summary := &cacheSummary{Path: path, Captured: time.Now().UTC()}

	pending, err := cache.PendingCount(ctx)
	if err != nil {
		return nil, err
	}
	summary.Pending = pending

	for _, coll := range models.Collections {
		scopes, err := cache.Scopes(ctx, coll)
		if err != nil {
			return nil, err
		}
		for _, scope := range scopes {
			rows, err := cache.Query(ctx, storage.Query{Collection: coll, Scope: scope})
			if err != nil {
				return nil, fmt.Errorf("count %s:%s: %w", coll, scope, err)
			}
			summary.Scopes = append(summary.Scopes, scopeSummary{Collection: string(coll), Scope: scope, Rows: len(rows)})
		}
	}

	cursors, err := cache.ListCursors(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range cursors {
		summary.Cursors = append(summary.Cursors, cursorSummary{
			Collection: string(c.Collection),
			Scope:      c.Scope,
			Cursor:     c.Cursor.String(),
			SyncedAt:   c.SyncedAt,
		})
	}
	return summary, nil
}

func dumpRows(ctx context.Context, cache storage.Cache, key query.Key, limit int) ([]rowDump, error) {
	raws, err := cache.Query(ctx, storage.Query{Collection: key.Collection, Scope: key.Scope, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", key, err)
	}
	rows := make([]rowDump, len(raws))
	for i, raw := range raws {
		rows[i] = rowDump{ID: raw.ID, Pending: raw.Pending, Payload: raw.Payload}
	}
	return rows, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSummaryTable(w io.Writer, s *cacheSummary) error {
	fmt.Fprintf(w, "Cache:   %s\n", s.Path)
	fmt.Fprintf(w, "Pending: %d\n\n", s.Pending)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COLLECTION\tSCOPE\tROWS")
	for _, sc := range s.Scopes {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", sc.Collection, orDash(sc.Scope), sc.Rows)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COLLECTION\tSCOPE\tCURSOR\tSYNCED")
	for _, c := range s.Cursors {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Collection, orDash(c.Scope), c.Cursor, c.SyncedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func writeRowsTable(w io.Writer, rows []rowDump) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPENDING\tPAYLOAD")
	for _, r := range rows {
		payload := string(r.Payload)
		if len(payload) > 80 {
			payload = payload[:77] + "..."
		}
		fmt.Fprintf(tw, "%s\t%v\t%s\n", r.ID, r.Pending, payload)
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
