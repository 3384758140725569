package compiler

import (
	"context"
	"io/fs"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"seedemu/internal/emulator"
	"seedemu/internal/errdefs"
	"seedemu/internal/layers"
	"seedemu/internal/registry"
	"seedemu/internal/topology"
)

func buildEmulator(t *testing.T, hook func(as *topology.AutonomousSystem)) *emulator.Emulator {
	t.Helper()
	base := layers.NewBase()
	_, err := base.CreateInternetExchange(100, netip.Prefix{}, nil)
	require.NoError(t, err)

	as151, err := base.CreateAutonomousSystem(151)
	require.NoError(t, err)
	net0, err := as151.CreateNetwork("net0", netip.Prefix{}, nil)
	require.NoError(t, err)
	require.NoError(t, net0.SetDefaultLinkProperties(topology.LinkProperties{LatencyMs: 10}))

	router, err := as151.CreateRouter("router0")
	require.NoError(t, err)
	require.NoError(t, router.JoinNetwork("net0"))
	require.NoError(t, router.JoinNetwork("ix100"))
	host, err := as151.CreateHost("web")
	require.NoError(t, err)
	require.NoError(t, host.JoinNetwork("net0"))
	if hook != nil {
		hook(as151)
	}

	emu := emulator.New(emulator.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, emu.AddLayer(base))
	require.NoError(t, emu.AddLayer(layers.NewRouting()))
	require.NoError(t, emu.Render())
	return emu
}

func readManifest(t *testing.T, path string) nodeManifest {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var m nodeManifest
	require.NoError(t, yaml.Unmarshal(data, &m))
	return m
}

func TestManifestCompile(t *testing.T) {
	emu := buildEmulator(t, nil)
	dir := filepath.Join(t.TempDir(), "out")

	require.NoError(t, emu.Compile(context.Background(), NewManifest(), dir, false))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{
		"151_rnode_router0.yaml",
		"151_hnode_web.yaml",
		"ix_rs_ix100.yaml",
		NetworksFile,
	}, names)

	router := readManifest(t, filepath.Join(dir, "151_rnode_router0.yaml"))
	assert.Equal(t, topology.RoleRouter, router.Role)
	assert.Equal(t, 151, router.ASN)
	assert.Equal(t, "10.0.0.1", router.Loopback)
	require.Len(t, router.Interfaces, 2)
	assert.Equal(t, interfaceManifest{
		Network: "net0",
		Scope:   "151",
		Address: "10.151.0.254/24",
		Link:    &topology.LinkProperties{LatencyMs: 10},
	}, router.Interfaces[0])
	assert.Equal(t, "10.100.0.151/24", router.Interfaces[1].Address)
	assert.Nil(t, router.Interfaces[1].Link)
	assert.Contains(t, router.Software, "bird2")
	require.NotEmpty(t, router.StartCommands)
	assert.Equal(t, "chmod +x /interface_setup", router.StartCommands[0].Command)

	data, err := os.ReadFile(filepath.Join(dir, NetworksFile))
	require.NoError(t, err)
	var networks []networkManifest
	require.NoError(t, yaml.Unmarshal(data, &networks))
	require.Len(t, networks, 2)
	assert.Equal(t, "net0", networks[0].Name)
	assert.Equal(t, &topology.LinkProperties{LatencyMs: 10}, networks[0].Link)
	assert.Len(t, networks[0].Members, 2)
	assert.Equal(t, "ix100", networks[1].Name)
	assert.Equal(t, "10.100.0.0/24", networks[1].Prefix)
	assert.Len(t, networks[1].Members, 2)
}

func TestManifestPerNodeErrors(t *testing.T) {
	emu := buildEmulator(t, func(as *topology.AutonomousSystem) {
		as.Node("web").AppendStartCommand(`echo "unterminated`, false)
		as.Node("web").SetFile("/run.sh", "#!/bin/bash\nif true; then\n")
	})
	dir := filepath.Join(t.TempDir(), "out")

	err := emu.Compile(context.Background(), NewManifest(), dir, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrInvalidTopology)
	assert.Contains(t, err.Error(), "151/hnode/web")

	// siblings are still written
	_, statErr := os.Stat(filepath.Join(dir, "151_rnode_router0.yaml"))
	assert.NoError(t, statErr)
	_, statErr = os.Stat(filepath.Join(dir, "151_hnode_web.yaml"))
	assert.ErrorIs(t, statErr, fs.ErrNotExist)
	_, statErr = os.Stat(filepath.Join(dir, NetworksFile))
	assert.NoError(t, statErr)
}

func TestValidateNode(t *testing.T) {
	n := topology.NewNode("x", topology.RoleHost, 151, "")
	n.AddBuildCommand("apt-get update && apt-get install -y curl")
	n.AppendStartCommand("sleep 1 &", true)
	n.SetFile("/etc/motd", "if this were bash it would not parse: (")
	require.NoError(t, validateNode(n))

	n.AddBuildCommand("(")
	n.AppendStartCommand("fi", false)
	err := validateNode(n)
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
}

func TestCompileRequiresRender(t *testing.T) {
	emu := emulator.New()
	err := emu.Compile(context.Background(), NewManifest(), t.TempDir(), true)
	assert.ErrorIs(t, err, errdefs.ErrInvalidTopology)

	rendered := buildEmulator(t, nil)
	err = rendered.Compile(context.Background(), NewManifest(), t.TempDir(), false)
	assert.ErrorIs(t, err, fs.ErrExist)
}

func TestCompileCanceled(t *testing.T) {
	emu := buildEmulator(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := emu.Compile(ctx, NewManifest(), filepath.Join(t.TempDir(), "out"), false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileName(t *testing.T) {
	key := registry.Key{Scope: "ix", Class: registry.ClassBridge, Name: "vpn-ix100"}
	assert.Equal(t, "ix_vpnnode_vpn-ix100.yaml", FileName(key))

	c, ok := ByName("manifest")
	require.True(t, ok)
	assert.Equal(t, ManifestName, c.Name())
	_, ok = ByName("docker")
	assert.False(t, ok)
}
