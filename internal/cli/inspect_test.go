package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOwner(t *testing.T, storePath string) string {
	t.Helper()
	doc := `store: file:` + storePath + `
prefix: app_
keys:
  count: launch_count
fields:
  - {name: count, type: int, default: 0}
  - {name: theme, type: optional_string}
  - {name: ratio, type: float, default: 0.5}
`
	path := filepath.Join(t.TempDir(), "owner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path
}

func TestInspect(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "settings.yaml")
	owner := writeOwner(t, storePath)

	_, err := execute(t, "set", "app_launch_count", "4", "--store=file:"+storePath)
	require.NoError(t, err)

	out, err := execute(t, "inspect", owner, "--format=json")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   OwnerReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "app_", resp.Data.Prefix)
	assert.Equal(t, "live", resp.Data.Mode)
	require.Len(t, resp.Data.Fields, 3)

	count := resp.Data.Fields[0]
	assert.Equal(t, "count", count.Name)
	assert.Equal(t, "app_launch_count", count.Key)
	assert.True(t, count.Persisted)
	assert.Equal(t, float64(4), count.Value)
	assert.Equal(t, float64(0), count.Default)

	theme := resp.Data.Fields[1]
	assert.Equal(t, "app_theme", theme.Key)
	assert.True(t, theme.Optional)
	assert.False(t, theme.Persisted)
	assert.Nil(t, theme.Value)

	ratio := resp.Data.Fields[2]
	assert.Equal(t, 0.5, ratio.Value)
}

func TestInspectStoreFlagOverridesFile(t *testing.T) {
	owner := writeOwner(t, filepath.Join(t.TempDir(), "settings.yaml"))

	out, err := execute(t, "inspect", owner, "--store=memory:")
	require.NoError(t, err)
	assert.Contains(t, out, "store memory:")
	assert.Contains(t, out, "app_launch_count")
}

func TestInspectBadDescription(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prefix: app_\nfields:\n  - {name: n, type: decimal}\n"), 0644))

	_, err := execute(t, "inspect", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "unknown type")
}
