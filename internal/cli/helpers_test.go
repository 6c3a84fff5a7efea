package cli

import (
	"bytes"
	"path/filepath"
	"testing"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}

	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

// fileStore returns a --store flag for a fresh YAML file.
func fileStore(t *testing.T) string {
	t.Helper()
	return "--store=file:" + filepath.Join(t.TempDir(), "settings.yaml")
}
