package codec

import (
	"bytes"
	"net/netip"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"seedemu/internal/emulator"
	"seedemu/internal/errdefs"
	"seedemu/internal/layers"
	"seedemu/internal/raps"
	"seedemu/internal/registry"
	"seedemu/internal/topology"
)

var diffOpts = []cmp.Option{
	cmp.Comparer(func(x, y netip.Addr) bool { return x == y }),
	cmp.Comparer(func(x, y netip.Prefix) bool { return x == y }),
	cmpopts.IgnoreFields(topology.Network{}, "RemoteAccess"),
	cmpopts.EquateEmpty(),
}

func buildEmulator(t *testing.T) *emulator.Emulator {
	t.Helper()
	base := layers.NewBase()
	base.NameServers = []string{"10.151.0.71"}
	ix, err := base.CreateInternetExchange(100, netip.Prefix{}, nil)
	require.NoError(t, err)
	vpn := raps.NewSoftEther()
	ix.Network.EnableRemoteAccess(vpn)

	as151, err := base.CreateAutonomousSystem(151)
	require.NoError(t, err)
	net0, err := as151.CreateNetwork("net0", netip.Prefix{}, nil)
	require.NoError(t, err)
	net0.EnableRemoteAccess(vpn)
	require.NoError(t, net0.SetDefaultLinkProperties(topology.LinkProperties{LatencyMs: 5, DropPercent: 0.5}))

	r, err := as151.CreateRouter("router0")
	require.NoError(t, err)
	require.NoError(t, r.JoinNetwork("net0"))
	require.NoError(t, r.JoinNetwork("ix100"))
	h, err := as151.CreateHost("web")
	require.NoError(t, err)
	require.NoError(t, h.JoinNetworkAt("net0", netip.MustParseAddr("10.151.0.80")))

	ospf := layers.NewOspf()
	ospf.MaskNetwork("151", "net0")
	ebgp := layers.NewEbgp()
	require.NoError(t, ebgp.AddRsPeer(100, 151))
	dns := layers.NewDomainNameService()
	dns.GetZone("example.com").AddRecord("www A 10.151.0.80")
	require.NoError(t, dns.HostZone("example.com", 151, "web"))

	emu := emulator.New(emulator.WithName("lab"), emulator.WithLogger(zaptest.NewLogger(t)))
	for _, l := range []emulator.Layer{base, layers.NewRouting(), ospf, layers.NewIbgp(), ebgp, dns} {
		require.NoError(t, emu.AddLayer(l))
	}
	return emu
}

func roundTrip(t *testing.T, emu *emulator.Emulator) *emulator.Emulator {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, emu))
	out, err := Decode(&buf, emulator.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return out
}

func nodes(reg *registry.Registry) []*topology.Node {
	var out []*topology.Node
	for _, obj := range reg.All() {
		if n, ok := obj.(*topology.Node); ok {
			out = append(out, n)
		}
	}
	return out
}

func TestRoundTripUnrendered(t *testing.T) {
	emu := buildEmulator(t)
	decoded := roundTrip(t, emu)

	assert.Equal(t, "lab", decoded.Name())
	assert.False(t, decoded.Rendered())
	assert.Equal(t, 0, decoded.Registry().Len())

	base, err := emulator.GetLayer[*layers.Base](decoded, layers.BaseLayer)
	require.NoError(t, err)
	ixNet := base.InternetExchange(100).Network
	asNet := base.AutonomousSystem(151).Network("net0")
	require.NotNil(t, ixNet.RemoteAccess)
	assert.Same(t, ixNet.RemoteAccess, asNet.RemoteAccess)

	require.NoError(t, emu.Render())
	require.NoError(t, decoded.Render())
	if diff := cmp.Diff(nodes(emu.Registry()), nodes(decoded.Registry()), diffOpts...); diff != "" {
		t.Errorf("rendered nodes differ (-built +decoded):\n%s", diff)
	}
}

func TestRoundTripRendered(t *testing.T) {
	emu := buildEmulator(t)
	require.NoError(t, emu.Render())
	decoded := roundTrip(t, emu)

	assert.Equal(t, emu.Registry().Len(), decoded.Registry().Len())
	for _, l := range emu.Layers() {
		assert.Equal(t, emu.Status(l.Name()), decoded.Status(l.Name()), l.Name())
	}

	var keys, decodedKeys []registry.Key
	for k := range emu.Registry().All() {
		keys = append(keys, k)
	}
	for k := range decoded.Registry().All() {
		decodedKeys = append(decodedKeys, k)
	}
	assert.Equal(t, keys, decodedKeys)

	// the registry and the model share the decoded objects
	base, err := emulator.GetLayer[*layers.Base](decoded, layers.BaseLayer)
	require.NoError(t, err)
	r, err := registry.GetAs[*topology.Node](decoded.Registry(), "151", registry.ClassRouter, "router0")
	require.NoError(t, err)
	assert.Same(t, base.AutonomousSystem(151).Node("router0"), r)
	assert.Same(t, base.InternetExchange(100).Bridge,
		must(registry.GetAs[*topology.Node](decoded.Registry(), registry.ScopeExchange, registry.ClassBridge, "vpn-ix100")))

	vpn := base.InternetExchange(100).Network.RemoteAccess.(*raps.SoftEther)
	assert.Equal(t, 10445, vpn.Ports[0].Next)
	owner, err := decoded.Registry().Get(registry.ScopeEmulator, registry.ClassHostPort, raps.HostPortKey("tcp", 10443))
	require.NoError(t, err)
	assert.Equal(t, "ix/vpn-ix100", owner)

	svc, err := decoded.ServiceNetwork()
	require.NoError(t, err)
	assert.Len(t, svc.Leases, 2)

	// rendering again changes nothing but marks the emulator rendered
	cmds := len(r.StartCommands)
	require.NoError(t, decoded.Render())
	assert.True(t, decoded.Rendered())
	assert.Len(t, r.StartCommands, cmds)
	assert.Equal(t, emu.Registry().Len(), decoded.Registry().Len())
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func TestSnapshotHeader(t *testing.T) {
	emu := buildEmulator(t)
	s, err := Build(emu)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, s.Header.Version)
	assert.Equal(t, "lab", s.Header.Emulator)
	assert.Equal(t, emulator.DefaultServicePrefix, s.Header.ServiceNetwork)
	_, err = uuid.Parse(s.Header.ID)
	assert.NoError(t, err)

	other, err := Build(emu)
	require.NoError(t, err)
	assert.NotEqual(t, s.Header.ID, other.Header.ID)
}

type opaqueLayer struct{}

func (opaqueLayer) Name() string                           { return "Opaque" }
func (opaqueLayer) Dependencies() []emulator.Dependency    { return nil }
func (opaqueLayer) RegisterNodes(*emulator.Emulator) error { return nil }
func (opaqueLayer) Configure(*emulator.Emulator) error     { return nil }

func TestEncodeErrors(t *testing.T) {
	emu := emulator.New()
	require.NoError(t, emu.AddLayer(opaqueLayer{}))
	var buf bytes.Buffer
	assert.ErrorIs(t, Encode(&buf, emu), errdefs.ErrInvalidTopology)

	_, err := Decode(strings.NewReader("header:\n  version: 99\nlayers: []\n"))
	assert.ErrorIs(t, err, errdefs.ErrInvalidTopology)

	_, err = Decode(strings.NewReader("header:\n  version: 1\nlayers:\n  - kind: bogus\n    state: {}\n"))
	assert.ErrorIs(t, err, errdefs.ErrInvalidTopology)

	_, err = Decode(strings.NewReader("header:\n  version: 1\nlayers: []\nregistry:\n  - scope: \"151\"\n    class: rnode\n    name: r\n    ref: n9\n"))
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}
