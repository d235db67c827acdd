package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/oplog-go/internal/core/domain"
	"github.com/yndnr/oplog-go/internal/storage"
	"github.com/yndnr/oplog-go/internal/storage/vlog"
	"github.com/yndnr/oplog-go/internal/telemetry/logger"
)

// result holds the output of one run of the app.
type result struct {
	stdout string
	stderr string
	err    error
}

// exitCode returns the status carried by err, 0 for nil and 1 otherwise.
func (r result) exitCode() int {
	if r.err == nil {
		return 0
	}
	var ec cli.ExitCoder
	if errors.As(r.err, &ec) {
		return ec.ExitCode()
	}
	return 1
}

// run runs oplogctl against dataDir with args and stdin.
func run(t *testing.T, dataDir, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer

	app := App()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.Reader = strings.NewReader(stdin)

	full := []string{"oplogctl", "--data-dir", dataDir, "--log-level", "error"}
	err := app.Run(append(full, args...))
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// mustRun runs the app and fails the test on error.
func mustRun(t *testing.T, dataDir string, args ...string) string {
	t.Helper()
	r := run(t, dataDir, "", args...)
	if r.err != nil {
		t.Fatalf("oplogctl %v: %v\nstderr: %s", args, r.err, r.stderr)
	}
	return r.stdout
}

// writeFile writes content to a file in a temporary directory.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

// commitVersion commits op seq v with a snapshot holding text at version v.
func commitVersion(t *testing.T, dataDir, collection, id string, v uint64, text string) {
	t.Helper()
	op := writeFile(t, "op.json", `{"src":"cli","seq":`+jsonString(v)+`,"op":[{"i":"`+text+`"}]}`)
	snap := writeFile(t, "snap.json", `{"type":"text","v":`+jsonString(v)+`,"data":"`+text+`"}`)
	mustRun(t, dataDir, "commit", collection, id, "--op", op, "--snapshot", snap)
}

func jsonString(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// appendOp appends an op directly to a closed store, leaving the snapshot
// log behind.
func appendOp(t *testing.T, dataDir, collection, id string) {
	t.Helper()
	engine, err := storage.NewBadgerEngine(storage.DefaultKVConfig(dataDir), logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()

	cfg := vlog.DefaultConfig()
	cfg.Logger = logger.Discard()
	if _, err := vlog.New(engine, cfg).Append(context.Background(), domain.OpLogKey(collection, id), []byte(`{"src":"x","seq":99}`)); err != nil {
		t.Fatal(err)
	}
}
