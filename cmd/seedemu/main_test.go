package main

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seedemu/internal/codec"
	"seedemu/internal/errdefs"
)

const leftTopology = `
name: left
exchanges:
  - id: 100
autonomous_systems:
  - asn: 151
    networks:
      - name: net0
    routers:
      - name: router0
        networks: [net0, ix100]
    hosts:
      - name: web
        networks: [net0]
peerings:
  - ix: 100
    route_server: [151]
`

const rightTopology = `
name: right
autonomous_systems:
  - asn: 152
    networks:
      - name: net0
    routers:
      - name: router0
        networks: [net0]
    hosts:
      - name: client
        networks: [net0]
`

// workspace isolates a test from config files and .env in the real
// working directory and home
func workspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("SEEDEMU_CONFIG", "")

	require.NoError(t, os.WriteFile("left.yaml", []byte(leftTopology), 0o644))
	require.NoError(t, os.WriteFile("right.yaml", []byte(rightTopology), 0o644))
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error", "--store", "seedemu.db"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRender(t *testing.T) {
	workspace(t)

	out, err := run(t, "render", "left.yaml", "-o", "out")
	require.NoError(t, err)
	assert.Equal(t, "compiled left to out\n", out)
	for _, name := range []string{"151_rnode_router0.yaml", "151_hnode_web.yaml", "ix_rs_ix100.yaml", "networks.yaml"} {
		assert.FileExists(t, filepath.Join("out", name))
	}

	_, err = run(t, "render", "left.yaml", "-o", "out")
	assert.ErrorIs(t, err, fs.ErrExist)

	_, err = run(t, "render", "left.yaml", "-o", "out", "--override")
	assert.NoError(t, err)
}

func TestRenderUnknownCompiler(t *testing.T) {
	workspace(t)

	_, err := run(t, "render", "left.yaml", "-o", "out", "--compiler", "docker")
	assert.ErrorContains(t, err, `unknown compiler "docker"`)
}

func TestSnapshotLifecycle(t *testing.T) {
	workspace(t)

	out, err := run(t, "dump", "left.yaml", "-f", "left.snap")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = run(t, "dump", "right.yaml", "--save", "right")
	require.NoError(t, err)
	assert.Equal(t, "saved right\n", out)

	_, err = run(t, "merge", "left.snap", "@right", "--save", "merged", "--name", "both")
	require.NoError(t, err)

	out, err = run(t, "snapshots", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "merged")
	assert.Contains(t, out, "both")
	assert.Contains(t, out, "right")

	_, err = run(t, "snapshots", "get", "merged", "-f", "merged.snap")
	require.NoError(t, err)
	f, err := os.Open("merged.snap")
	require.NoError(t, err)
	defer f.Close()
	snap, err := codec.Read(f)
	require.NoError(t, err)
	assert.Equal(t, "both", snap.Header.Emulator)

	out, err = run(t, "compile", "@merged", "-o", "out")
	require.NoError(t, err)
	assert.Equal(t, "compiled both to out\n", out)
	for _, name := range []string{"151_rnode_router0.yaml", "152_rnode_router0.yaml", "152_hnode_client.yaml", "ix_rs_ix100.yaml"} {
		assert.FileExists(t, filepath.Join("out", name))
	}

	out, err = run(t, "snapshots", "delete", "merged")
	require.NoError(t, err)
	assert.Equal(t, "deleted merged\n", out)

	_, err = run(t, "snapshots", "get", "merged")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestMergeRejectsRendered(t *testing.T) {
	workspace(t)

	_, err := run(t, "dump", "left.yaml", "--render", "-f", "left.snap")
	require.NoError(t, err)
	_, err = run(t, "dump", "right.yaml", "-f", "right.snap")
	require.NoError(t, err)

	_, err = run(t, "merge", "left.snap", "right.snap")
	assert.ErrorIs(t, err, errdefs.ErrInvalidTopology)
}

func TestConfigCommands(t *testing.T) {
	dir := workspace(t)

	path := filepath.Join(dir, "conf", "seedemu.toml")
	out, err := run(t, "config", "init", path)
	require.NoError(t, err)
	assert.Equal(t, "wrote "+path+"\n", out)
	assert.FileExists(t, path)

	_, err = run(t, "config", "init", path)
	assert.ErrorIs(t, err, fs.ErrExist)

	out, err = run(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	require.NoError(t, os.WriteFile("seedemu.yaml", []byte("remote_access:\n  provider: openvpn\n"), 0o644))
	_, err = run(t, "config", "show")
	assert.ErrorContains(t, err, "invalid config")
}

func TestEnvOverridesConfig(t *testing.T) {
	workspace(t)
	t.Setenv("SEEDEMU_OUTPUT_DIR", "from-env")

	out, err := run(t, "render", "right.yaml")
	require.NoError(t, err)
	assert.Equal(t, "compiled right to from-env\n", out)
	assert.FileExists(t, filepath.Join("from-env", "networks.yaml"))
}
