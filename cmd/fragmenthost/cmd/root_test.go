package cmd_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/GoCodeAlone/fragments/cmd/fragmenthost/cmd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd := cmd.NewRootCommand()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	rootCmd := cmd.NewRootCommand()
	assert.Equal(t, "fragmenthost", rootCmd.Use)

	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "service registry and event bus")
	for _, sub := range []string{"serve", "validate", "config", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "fragmenthost vdev")
	assert.Contains(t, cmd.PrintVersion(), "fragmenthost v")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "cart.yaml")
	bad := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(good, []byte("manifestVersion: \"1\"\nname: cart\nversion: 1.0.0\nentry: cart.js\ndescription: Cart\n"), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte(`{"manifestVersion": "2", "name": "broken"}`), 0o600))

	out, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, good+": ok")
	assert.Contains(t, out, "warning: manifestVersion 1 is deprecated, current is 2")

	out, err = execute(t, "validate", good, bad)
	require.ErrorIs(t, err, cmd.ErrInvalidManifests)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Contains(t, out, bad+": invalid")
	assert.Contains(t, out, "error: entry is required")

	out, err = execute(t, "validate", "--json", bad)
	require.Error(t, err)
	var reports []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, bad, reports[0]["path"])
	assert.Equal(t, false, reports[0]["valid"])

	_, err = execute(t, "validate")
	assert.Error(t, err, "at least one manifest is required")
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: shop\n"), 0o600))

	out, err := execute(t, "config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "name: shop")

	out, err = execute(t, "config", "-c", path, "--format", "toml")
	require.NoError(t, err)
	assert.Contains(t, out, `name = "shop"`)

	_, err = execute(t, "config", "-f", "ini")
	assert.Error(t, err)
}
