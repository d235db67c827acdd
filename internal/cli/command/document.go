package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/oplog-go/internal/cli/output"
	"github.com/yndnr/oplog-go/internal/core/domain"
	"github.com/yndnr/oplog-go/internal/core/service"
)

// SnapshotCommand returns the snapshot subcommand group.
func SnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:    "snapshot",
		Aliases: []string{"snap"},
		Usage:   "Read document snapshots",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Show the latest snapshot of a document",
				ArgsUsage: "COLLECTION ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "metadata",
						Aliases: []string{"m"},
						Usage:   "Include snapshot metadata",
					},
				},
				Action: withStore(snapshotGet),
			},
		},
	}
}

func snapshotGet(ctx context.Context, c *cli.Context, s *session) error {
	collection, id, err := documentArgs(c)
	if err != nil {
		return err
	}

	snap, err := s.store.GetSnapshot(ctx, collection, id, nil, service.ReadOptions{Metadata: c.Bool("metadata")})
	if err != nil {
		return err
	}
	return s.render(c, view{data: snap, table: func() *output.Table { return snapshotTable(snap) }})
}

func snapshotTable(snap *domain.Snapshot) *output.Table {
	t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
	t.AddRow("id", snap.ID)
	typ := snap.Type
	if typ == "" {
		typ = "-"
	}
	t.AddRow("type", typ)
	t.AddRow("v", strconv.FormatUint(snap.V, 10))
	if len(snap.Data) > 0 {
		t.AddRow("data", string(snap.Data))
	}
	if len(snap.M) > 0 {
		t.AddRow("m", string(snap.M))
	}
	return t
}

// OpsCommand returns the ops subcommand group.
func OpsCommand() *cli.Command {
	return &cli.Command{
		Name:  "ops",
		Usage: "Read document operations",
		Subcommands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List the operations of a document",
				ArgsUsage: "COLLECTION ID",
				Flags: []cli.Flag{
					&cli.Uint64Flag{
						Name:  "from",
						Usage: "First op version (inclusive)",
					},
					&cli.Uint64Flag{
						Name:  "to",
						Usage: "Last op version (exclusive); default: current version",
					},
					&cli.BoolFlag{
						Name:    "metadata",
						Aliases: []string{"m"},
						Usage:   "Include op metadata",
					},
				},
				Action: withStore(opsList),
			},
		},
	}
}

func opsList(ctx context.Context, c *cli.Context, s *session) error {
	collection, id, err := documentArgs(c)
	if err != nil {
		return err
	}

	from := c.Uint64("from")
	var to *uint64
	if c.IsSet("to") {
		v := c.Uint64("to")
		to = &v
	}

	ops, err := s.store.GetOps(ctx, collection, id, from, to, service.ReadOptions{Metadata: c.Bool("metadata")})
	if err != nil {
		return err
	}
	return s.render(c, view{data: ops, table: func() *output.Table { return opsTable(from, ops) }})
}

func opsTable(from uint64, ops []domain.Op) *output.Table {
	t := &output.Table{Headers: []string{"VERSION", "SRC", "SEQ", "OP"}}
	for i, op := range ops {
		src, seq := "-", "-"
		if s, n, ok := op.Source(); ok {
			src, seq = s, strconv.FormatUint(n, 10)
		}
		raw, err := json.Marshal(op)
		if err != nil {
			raw = []byte("-")
		}
		t.AddRow(strconv.FormatUint(from+uint64(i), 10), src, seq, string(raw))
	}
	return t
}

// CommitCommand returns the commit command.
func CommitCommand() *cli.Command {
	return &cli.Command{
		Name:      "commit",
		Usage:     "Append an op and its resulting snapshot to a document",
		ArgsUsage: "COLLECTION ID",
		Description: "The snapshot's v must be exactly one past the document's current version.\n" +
			"A rejected commit exits with status 2 and changes nothing.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "op",
				Usage:    "JSON file holding the op (- for stdin)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "snapshot",
				Usage:    "JSON file holding the snapshot (- for stdin)",
				Required: true,
			},
		},
		Action: withStore(commit),
	}
}

// CommitResult is the outcome of the commit command. Version is the
// document's version after the command ran.
type CommitResult struct {
	Committed bool   `json:"committed"`
	Version   uint64 `json:"version"`
}

func commit(ctx context.Context, c *cli.Context, s *session) error {
	collection, id, err := documentArgs(c)
	if err != nil {
		return err
	}
	if c.String("op") == "-" && c.String("snapshot") == "-" {
		return fmt.Errorf("--op and --snapshot cannot both read stdin")
	}

	var op domain.Op
	if err := readJSON(c, c.String("op"), &op); err != nil {
		return fmt.Errorf("read op: %w", err)
	}
	var snap domain.Snapshot
	if err := readJSON(c, c.String("snapshot"), &snap); err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	ok, err := s.store.Commit(ctx, collection, id, op, &snap)
	if err != nil {
		return err
	}

	result := CommitResult{Committed: ok, Version: snap.V}
	if !ok {
		if result.Version, err = s.store.Version(ctx, collection, id); err != nil {
			return err
		}
	}
	if err := s.render(c, result); err != nil {
		return err
	}
	if !ok {
		return cli.Exit(fmt.Sprintf("commit rejected: %s/%s is at version %d, snapshot v must be %d",
			collection, id, result.Version, result.Version+1), ExitRejected)
	}
	return nil
}

// documentArgs returns the COLLECTION and ID arguments.
func documentArgs(c *cli.Context) (collection, id string, err error) {
	if c.NArg() != 2 {
		return "", "", fmt.Errorf("expected COLLECTION and ID arguments, got %d", c.NArg())
	}
	return c.Args().Get(0), c.Args().Get(1), nil
}

// readJSON decodes the JSON document at path, or stdin for "-".
func readJSON(c *cli.Context, path string, v any) error {
	var r io.Reader = c.App.Reader
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	return json.NewDecoder(r).Decode(v)
}
