package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type watchRun struct {
	out  string
	err  error
	done chan struct{}
}

// startWatch runs the watch command in the background.
func startWatch(args ...string) *watchRun {
	run := &watchRun{done: make(chan struct{})}
	go func() {
		defer close(run.done)
		out := &bytes.Buffer{}
		cmd := NewRootCommand()
		cmd.SetOut(out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(append([]string{"watch"}, args...))
		run.err = cmd.Execute()
		run.out = out.String()
	}()
	return run
}

// writeUntilDone sets key to increasing ints until the watch exits, so the
// first write that lands after the watch subscribed is reported.
func writeUntilDone(t *testing.T, run *watchRun, key, store string) {
	t.Helper()
	deadline := time.After(waitFor)
	for i := 1; ; i++ {
		_, err := execute(t, "set", key, fmt.Sprint(i), store)
		require.NoError(t, err)

		select {
		case <-run.done:
			return
		case <-deadline:
			t.Fatal("watch did not report a change")
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func TestWatchCloud(t *testing.T) {
	store, _ := startServe(t)

	run := startWatch(store, "--count=1", "--format=json")
	writeUntilDone(t, run, "app_count", store)
	require.NoError(t, run.err)

	lines := strings.Split(strings.TrimSpace(run.out), "\n")
	require.Len(t, lines, 1)

	var ev ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.NotEmpty(t, ev.Origin)
	require.Len(t, ev.Entries, 1)
	assert.Equal(t, "app_count", ev.Entries[0].Key)
	assert.Equal(t, "int", ev.Entries[0].Kind)
}

func TestWatchFileSeesOtherWriters(t *testing.T) {
	store := fileStore(t)

	run := startWatch(store, "app_theme", "--count=1")
	writeUntilDone(t, run, "app_theme", store)
	require.NoError(t, run.err)

	assert.Contains(t, run.out, "app_theme = ")
	assert.Contains(t, run.out, "(external)")
}

func TestWatchEmptyGranularStoreNeedsKeys(t *testing.T) {
	_, err := execute(t, "watch", fileStore(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "name the keys to watch")
}
