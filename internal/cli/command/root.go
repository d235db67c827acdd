package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/oplog-go/internal/cli/output"
	"github.com/yndnr/oplog-go/internal/config"
	"github.com/yndnr/oplog-go/internal/core/service"
	"github.com/yndnr/oplog-go/internal/infra/buildinfo"
	"github.com/yndnr/oplog-go/internal/telemetry/logger"
	"github.com/yndnr/oplog-go/internal/telemetry/metric"
)

// Exit codes returned through cli.Exit.
const (
	ExitRejected  = 2 // commit refused: version conflict
	ExitDivergent = 3 // verify found divergent documents
)

// App creates the CLI application.
//
// Errors implementing cli.ExitCoder carry the process exit status; the
// caller decides how to exit.
func App() *cli.App {
	return &cli.App{
		Name:    "oplogctl",
		Usage:   "Inspect and maintain an oplog document store",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			SnapshotCommand(),
			OpsCommand(),
			CommitCommand(),
			VerifyCommand(),
			BackupCommand(),
			RestoreCommand(),
			StatsCommand(),
			GCCommand(),
			VersionCommand(),
		},
		Before: func(c *cli.Context) error {
			_, err := output.ParseFormat(c.String("output"))
			return err
		},
		ExitErrHandler:       func(*cli.Context, error) {},
		HideVersion:          true,
		EnableBashCompletion: true,
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file",
			EnvVars: []string{"OPLOG_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "data-dir",
			Aliases: []string{"d"},
			Usage:   "Store directory (overrides storage.data_dir)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   string(output.FormatTable),
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error (overrides log.level)",
		},
		&cli.StringFlag{
			Name:  "encryption-key",
			Usage: "At-rest encryption key or passphrase (overrides security.encryption_key)",
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Config        string
	DataDir       string
	Output        output.Format
	LogLevel      string
	EncryptionKey string
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	format, _ := output.ParseFormat(c.String("output"))
	return &GlobalFlags{
		Config:        c.String("config"),
		DataDir:       c.String("data-dir"),
		Output:        format,
		LogLevel:      c.String("log-level"),
		EncryptionKey: c.String("encryption-key"),
	}
}

// overrides maps explicitly set flags onto configuration keys.
func (f *GlobalFlags) overrides() map[string]any {
	m := make(map[string]any)
	if f.DataDir != "" {
		m["storage.data_dir"] = f.DataDir
	}
	if f.LogLevel != "" {
		m["log.level"] = f.LogLevel
	}
	if f.EncryptionKey != "" {
		m["security.encryption_key"] = f.EncryptionKey
	}
	return m
}

// session is an open store with the facilities a command needs.
type session struct {
	store   *service.DocumentStore
	metrics *metric.Registry
	logger  *slog.Logger
	flags   *GlobalFlags
}

// openSession loads the configuration and opens the store.
func openSession(c *cli.Context) (*session, error) {
	flags := ParseGlobalFlags(c)

	cfg, err := config.Load(flags.Config, flags.overrides())
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: c.App.ErrWriter,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log.Debug("configuration loaded", "config", config.Sanitize(cfg))

	metrics := metric.NewRegistry()
	sc, err := cfg.ServiceConfig(log, metrics)
	if err != nil {
		return nil, err
	}
	store, err := service.Open(cfg.KVConfig(), sc)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &session{store: store, metrics: metrics, logger: log, flags: flags}, nil
}

// withStore wraps an action that needs an open store. The store is closed
// when the action returns.
func withStore(fn func(ctx context.Context, c *cli.Context, s *session) error) cli.ActionFunc {
	return func(c *cli.Context) (err error) {
		s, err := openSession(c)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := s.store.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()

		ctx := logger.WithLogger(c.Context, s.logger)
		return fn(ctx, c, s)
	}
}

// render writes data to the app's writer in the selected format.
func (s *session) render(c *cli.Context, data any) error {
	return render(c, s.flags.Output, data)
}

func render(c *cli.Context, format output.Format, data any) error {
	return output.NewFormatter(format).Format(c.App.Writer, data)
}

// view pairs a result with its table layout. JSON and YAML output use the
// result itself.
type view struct {
	data  any
	table func() *output.Table
}

func (v view) Table() *output.Table { return v.table() }

func (v view) MarshalJSON() ([]byte, error) { return json.Marshal(v.data) }
