// Package compiler drives the external plutoc binary in parse/analyze
// mode. It owns the temp-file handoff: write buffer contents to a .lua
// file, invoke "plutoc -p <path>", capture combined output, and remove the
// file on every exit path.
//
// The subprocess orchestration here is grounded on the teacher's
// LSPManager.Start (server/lsp.go), which spawns an exec.Cmd and wires its
// pipes; the temp-file lifecycle follows the same clean-path-then-write
// discipline as the teacher's WriteFile helper (server/file.go), with the
// naming made collision-safe for concurrent sessions via a uuid suffix,
// the way the teacher's websocket layer tags connections.
package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrSpawn is returned when the compiler process cannot be started.
var ErrSpawn = errors.New("compiler: failed to spawn plutoc")

// Driver invokes the plutoc binary against buffer contents and returns its
// raw combined output for the Hint Parser to consume.
type Driver struct {
	// Path is the plutoc executable, defaulting to "plutoc" on PATH.
	Path string
	// TempDir overrides os.TempDir for temp-file placement; empty means
	// use the OS default.
	TempDir string
}

// NewDriver returns a Driver invoking the named plutoc executable. An empty
// path defaults to "plutoc".
func NewDriver(path string) *Driver {
	if path == "" {
		path = "plutoc"
	}
	return &Driver{Path: path}
}

// Run writes contents to a temp .lua file, invokes plutoc -p <file>, and
// returns its combined stdout+stderr as a single string. The temp file is
// always removed before Run returns, on every exit path. A non-zero exit
// code from plutoc is not an error: the compiler exits non-zero whenever it
// has diagnostics to report.
func (d *Driver) Run(contents string) (string, error) {
	path, err := d.writeTempFile(contents)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	cmd := exec.Command(d.Path, "-p", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", fmt.Errorf("%w: %v", ErrSpawn, err)
		}
		// Non-zero exit: normal when plutoc reports diagnostics.
	}

	return out.String(), nil
}

func (d *Driver) writeTempFile(contents string) (string, error) {
	dir := d.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	name := fmt.Sprintf("pluto-ls-%s.lua", uuid.NewString())
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		return "", fmt.Errorf("%w: write temp file: %v", ErrSpawn, err)
	}
	return path, nil
}
