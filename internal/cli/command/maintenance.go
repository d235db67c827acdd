package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/oplog-go/internal/cli/output"
	"github.com/yndnr/oplog-go/internal/core/service"
)

// VerifyCommand returns the verify command.
func VerifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "Check that every document's op and snapshot logs agree",
		Description: "Reads only log heads and is safe to run against a live store.\n" +
			"Exits with status 3 if any document is divergent.",
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:  "rate",
				Usage: "Documents checked per second (0 = unlimited)",
			},
			&cli.StringFlag{
				Name:  "collection",
				Usage: "Only check this collection",
			},
		},
		Action: withStore(verify),
	}
}

func verify(ctx context.Context, c *cli.Context, s *session) error {
	report, err := s.store.Audit(ctx, service.AuditOptions{
		Rate:       c.Float64("rate"),
		Collection: c.String("collection"),
	})
	if err != nil {
		return err
	}

	if err := s.render(c, view{data: report, table: func() *output.Table { return auditTable(report) }}); err != nil {
		return err
	}
	if !report.OK() {
		return cli.Exit(fmt.Sprintf("%d of %d documents are divergent", len(report.Divergent), report.Documents), ExitDivergent)
	}
	return nil
}

func auditTable(report *service.AuditReport) *output.Table {
	if report.OK() {
		t := &output.Table{Headers: []string{"DOCUMENTS", "DIVERGENT"}}
		t.AddRow(strconv.Itoa(report.Documents), "0")
		return t
	}

	t := &output.Table{Headers: []string{"COLLECTION", "ID", "OP_VERSION", "SNAPSHOT_VERSION", "REPAIRABLE"}}
	for _, d := range report.Divergent {
		t.AddRow(d.Collection, d.ID,
			strconv.FormatUint(d.OpVersion, 10),
			strconv.FormatUint(d.SnapshotVersion, 10),
			strconv.FormatBool(d.Repairable()))
	}
	return t
}

// BackupCommand returns the backup command.
func BackupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Write a full backup of the store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "out",
				Usage:    "Backup file (- for stdout)",
				Required: true,
			},
		},
		Action: withStore(backup),
	}
}

func backup(ctx context.Context, c *cli.Context, s *session) error {
	path := c.String("out")
	if path == "-" {
		return s.store.Backup(ctx, c.App.Writer)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	if err := writeBackup(ctx, s, f); err != nil {
		os.Remove(path)
		return err
	}

	s.logger.InfoContext(ctx, "backup written", "path", path)
	return nil
}

func writeBackup(ctx context.Context, s *session, f *os.File) error {
	if err := s.store.Backup(ctx, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync backup: %w", err)
	}
	return f.Close()
}

// RestoreCommand returns the restore command.
func RestoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "restore",
		Usage: "Load a backup written by the backup command",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "in",
				Usage:    "Backup file (- for stdin)",
				Required: true,
			},
		},
		Action: withStore(restore),
	}
}

func restore(ctx context.Context, c *cli.Context, s *session) error {
	path := c.String("in")

	var r io.Reader = c.App.Reader
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open backup: %w", err)
		}
		defer f.Close()
		r = f
	}

	return s.store.Restore(ctx, r)
}

// StatsCommand returns the stats command.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show storage statistics",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "metrics",
				Usage: "Print the store metrics in Prometheus text format instead",
			},
		},
		Action: withStore(stats),
	}
}

func stats(ctx context.Context, c *cli.Context, s *session) error {
	if c.Bool("metrics") {
		return s.metrics.WriteText(c.App.Writer, "oplog_")
	}

	st, err := s.store.Stats(ctx)
	if err != nil {
		return err
	}
	return s.render(c, st)
}

// GCCommand returns the gc command.
func GCCommand() *cli.Command {
	return &cli.Command{
		Name:   "gc",
		Usage:  "Reclaim space in the value log",
		Action: withStore(gc),
	}
}

// GCResult is the outcome of the gc command.
type GCResult struct {
	ReclaimedBytes uint64 `json:"reclaimed_bytes"`
}

func gc(ctx context.Context, c *cli.Context, s *session) error {
	n, err := s.store.GC(ctx)
	if err != nil {
		return err
	}
	return s.render(c, GCResult{ReclaimedBytes: n})
}
