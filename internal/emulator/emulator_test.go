package emulator

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"seedemu/internal/errdefs"
	"seedemu/internal/registry"
)

// recorder captures the order in which layers run
type recorder struct {
	calls []string
}

type fakeLayer struct {
	name string
	deps []Dependency
	rec  *recorder

	registerErr  error
	configureErr error
}

func (l *fakeLayer) Name() string               { return l.name }
func (l *fakeLayer) Dependencies() []Dependency { return l.deps }

func (l *fakeLayer) RegisterNodes(emu *Emulator) error {
	l.rec.calls = append(l.rec.calls, "register:"+l.name)
	if l.registerErr != nil {
		return l.registerErr
	}
	return emu.Registry().Register(registry.ScopeEmulator, "fake", l.name, l)
}

func (l *fakeLayer) Configure(emu *Emulator) error {
	l.rec.calls = append(l.rec.calls, "configure:"+l.name)
	return l.configureErr
}

func newTestEmulator(t *testing.T) (*Emulator, *recorder) {
	t.Helper()
	return New(WithLogger(zaptest.NewLogger(t)), WithName("test")), &recorder{}
}

func TestRenderOrder(t *testing.T) {
	emu, rec := newTestEmulator(t)
	require.NoError(t, emu.AddLayer(&fakeLayer{name: "Ebgp", deps: []Dependency{Requires("Routing"), Prefers("Ibgp")}, rec: rec}))
	require.NoError(t, emu.AddLayer(&fakeLayer{name: "Ibgp", deps: []Dependency{Requires("Routing")}, rec: rec}))
	require.NoError(t, emu.AddLayer(&fakeLayer{name: "Routing", deps: []Dependency{Requires("Base")}, rec: rec}))
	require.NoError(t, emu.AddLayer(&fakeLayer{name: "Base", rec: rec}))

	require.NoError(t, emu.Render())
	assert.True(t, emu.Rendered())
	assert.Equal(t, []string{
		"register:Base", "register:Routing", "register:Ibgp", "register:Ebgp",
		"configure:Base", "configure:Routing", "configure:Ibgp", "configure:Ebgp",
	}, rec.calls)
}

func TestRenderSoftTieBreak(t *testing.T) {
	t.Run("independent layers keep registration order", func(t *testing.T) {
		emu, rec := newTestEmulator(t)
		for _, name := range []string{"C", "A", "B"} {
			require.NoError(t, emu.AddLayer(&fakeLayer{name: name, rec: rec}))
		}
		require.NoError(t, emu.Render())
		assert.Equal(t, []string{"register:C", "register:A", "register:B"}, rec.calls[:3])
	})

	t.Run("soft dependency moves a layer ahead", func(t *testing.T) {
		emu, rec := newTestEmulator(t)
		require.NoError(t, emu.AddLayer(&fakeLayer{name: "A", deps: []Dependency{Prefers("B")}, rec: rec}))
		require.NoError(t, emu.AddLayer(&fakeLayer{name: "B", rec: rec}))
		require.NoError(t, emu.Render())
		assert.Equal(t, []string{"register:B", "register:A"}, rec.calls[:2])
	})

	t.Run("missing soft dependency is ignored", func(t *testing.T) {
		emu, rec := newTestEmulator(t)
		require.NoError(t, emu.AddLayer(&fakeLayer{name: "A", deps: []Dependency{Prefers("Nope")}, rec: rec}))
		require.NoError(t, emu.Render())
	})

	t.Run("soft cycle is broken by registration order", func(t *testing.T) {
		emu, rec := newTestEmulator(t)
		require.NoError(t, emu.AddLayer(&fakeLayer{name: "A", deps: []Dependency{Prefers("B")}, rec: rec}))
		require.NoError(t, emu.AddLayer(&fakeLayer{name: "B", deps: []Dependency{Prefers("A")}, rec: rec}))
		require.NoError(t, emu.Render())
		// A's preference is added first, B's would close the cycle
		assert.Equal(t, []string{"register:B", "register:A"}, rec.calls[:2])
	})

	t.Run("soft edge against a hard edge is dropped", func(t *testing.T) {
		emu, rec := newTestEmulator(t)
		require.NoError(t, emu.AddLayer(&fakeLayer{name: "A", deps: []Dependency{Prefers("B")}, rec: rec}))
		require.NoError(t, emu.AddLayer(&fakeLayer{name: "B", deps: []Dependency{Requires("A")}, rec: rec}))
		require.NoError(t, emu.Render())
		assert.Equal(t, []string{"register:A", "register:B"}, rec.calls[:2])
	})
}

func TestRenderHardCycle(t *testing.T) {
	emu, rec := newTestEmulator(t)
	require.NoError(t, emu.AddLayer(&fakeLayer{name: "L1", deps: []Dependency{Requires("L3")}, rec: rec}))
	require.NoError(t, emu.AddLayer(&fakeLayer{name: "L2", deps: []Dependency{Requires("L1")}, rec: rec}))
	require.NoError(t, emu.AddLayer(&fakeLayer{name: "L3", deps: []Dependency{Requires("L2")}, rec: rec}))

	err := emu.Render()
	require.ErrorIs(t, err, errdefs.ErrDependencyCycle)
	assert.ErrorContains(t, err, "L1 requires L3 requires L2 requires L1")
	assert.Empty(t, rec.calls)
	assert.Zero(t, emu.Registry().Len())
	assert.False(t, emu.Rendered())

	// failed emulators stay failed
	assert.ErrorIs(t, emu.Render(), errdefs.ErrDependencyCycle)
}

func TestRenderMissingHardDependency(t *testing.T) {
	emu, rec := newTestEmulator(t)
	require.NoError(t, emu.AddLayer(&fakeLayer{name: "Routing", deps: []Dependency{Requires("Base")}, rec: rec}))

	err := emu.Render()
	require.ErrorIs(t, err, errdefs.ErrNotFound)
	assert.Contains(t, err.Error(), "Routing")
	assert.Contains(t, err.Error(), "Base")
}

func TestRenderIdempotent(t *testing.T) {
	emu, rec := newTestEmulator(t)
	require.NoError(t, emu.AddLayer(&fakeLayer{name: "Base", rec: rec}))
	require.NoError(t, emu.Render())
	entries := emu.Registry().Len()
	calls := len(rec.calls)

	require.NoError(t, emu.Render())
	assert.Equal(t, entries, emu.Registry().Len())
	assert.Len(t, rec.calls, calls)

	// a new layer runs both phases, old layers are skipped
	require.NoError(t, emu.AddLayer(&fakeLayer{name: "Routing", deps: []Dependency{Requires("Base")}, rec: rec}))
	assert.False(t, emu.Rendered())
	require.NoError(t, emu.Render())
	assert.Equal(t, []string{"register:Routing", "configure:Routing"}, rec.calls[calls:])
	assert.Equal(t, LayerStatus{Registered: true, Configured: true}, emu.Status("Routing"))
}

func TestRenderFailure(t *testing.T) {
	emu, rec := newTestEmulator(t)
	boom := errors.New("boom")
	require.NoError(t, emu.AddLayer(&fakeLayer{name: "Base", rec: rec, configureErr: boom}))

	err := emu.Render()
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "layer Base: configure")
	assert.Error(t, emu.Failed())

	err = emu.Compile(context.Background(), nopCompiler{}, t.TempDir(), true)
	assert.ErrorIs(t, err, boom)
}

func TestAddLayerDuplicate(t *testing.T) {
	emu, rec := newTestEmulator(t)
	require.NoError(t, emu.AddLayer(&fakeLayer{name: "Base", rec: rec}))
	assert.ErrorIs(t, emu.AddLayer(&fakeLayer{name: "Base", rec: rec}), errdefs.ErrDuplicateKey)
	assert.Len(t, emu.Layers(), 1)

	l, err := GetLayer[*fakeLayer](emu, "Base")
	require.NoError(t, err)
	assert.Equal(t, "Base", l.Name())

	_, err = emu.Layer("Routing")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestServiceNetwork(t *testing.T) {
	emu, _ := newTestEmulator(t)
	net, err := emu.ServiceNetwork()
	require.NoError(t, err)
	assert.Equal(t, "192.168.66.0/24", net.Prefix.String())

	again, err := emu.ServiceNetwork()
	require.NoError(t, err)
	assert.Same(t, net, again)
	assert.True(t, emu.Registry().Has(registry.ScopeEmulator, registry.ClassNetwork, ServiceNetworkName))
}

type nopCompiler struct{ called *bool }

func (nopCompiler) Name() string { return "nop" }

func (c nopCompiler) Compile(_ context.Context, _ *Emulator, dir string) error {
	if c.called != nil {
		*c.called = true
	}
	return os.WriteFile(filepath.Join(dir, "out"), []byte("ok"), 0o644)
}

func TestCompile(t *testing.T) {
	emu, rec := newTestEmulator(t)
	require.NoError(t, emu.AddLayer(&fakeLayer{name: "Base", rec: rec}))

	dir := filepath.Join(t.TempDir(), "out")
	called := false
	err := emu.Compile(context.Background(), nopCompiler{called: &called}, dir, false)
	require.ErrorIs(t, err, errdefs.ErrInvalidTopology)
	assert.False(t, called)

	require.NoError(t, emu.Render())
	require.NoError(t, emu.Compile(context.Background(), nopCompiler{called: &called}, dir, false))
	assert.True(t, called)

	err = emu.Compile(context.Background(), nopCompiler{}, dir, false)
	assert.ErrorIs(t, err, fs.ErrExist)
	require.NoError(t, emu.Compile(context.Background(), nopCompiler{}, dir, true))
}
