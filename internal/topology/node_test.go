package topology

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seedemu/internal/errdefs"
	"seedemu/internal/registry"
)

func TestNodeJoinNetwork(t *testing.T) {
	t.Run("join twice fails", func(t *testing.T) {
		n := NewNode("h1", RoleHost, 150, "")
		require.NoError(t, n.JoinNetwork("net0"))
		assert.ErrorIs(t, n.JoinNetwork("net0"), errdefs.ErrInvalidTopology)
		assert.ErrorIs(t, n.JoinNetworkAt("net0", netip.MustParseAddr("10.0.0.1")), errdefs.ErrInvalidTopology)
		assert.Len(t, n.Interfaces, 1)
	})

	t.Run("join after configure fails", func(t *testing.T) {
		n := NewNode("h1", RoleHost, 150, "")
		require.NoError(t, n.Configure(registry.New()))
		assert.ErrorIs(t, n.JoinNetwork("net0"), errdefs.ErrInvalidTopology)
	})

	t.Run("scope defaults to asn", func(t *testing.T) {
		n := NewNode("h1", RoleHost, 150, "")
		assert.Equal(t, "150", n.Scope)
		assert.Equal(t, "150/h1", n.ID())
	})
}

func TestNodeProvisioning(t *testing.T) {
	n := NewNode("r1", RoleRouter, 150, "")

	n.AddSoftware("bird2")
	n.AddSoftware("bird2")
	assert.Equal(t, "bird2", n.Software[len(n.Software)-1])
	assert.Len(t, n.Software, len(DefaultSoftware)+1)

	n.SetFile("/a", "one")
	n.SetFile("/b", "two")
	n.SetFile("/a", "three")
	n.AppendFile("/b", "+")
	assert.Equal(t, []File{{Path: "/a", Content: "three"}, {Path: "/b", Content: "two+"}}, n.Files)

	n.AppendStartCommand("second", false)
	n.AppendStartCommand("third", true)
	n.InsertStartCommand(0, "first", false)
	n.InsertStartCommand(99, "last", false)
	var cmds []string
	for _, c := range n.StartCommands {
		cmds = append(cmds, c.Command)
	}
	assert.Equal(t, []string{"first", "second", "third", "last"}, cmds)
	assert.True(t, n.StartCommands[2].Fork)

	n.AddPort(10443, 443, "")
	assert.Equal(t, []Port{{Host: 10443, Container: 443, Proto: "tcp"}}, n.Ports)

	n.AddSharedFolder("/srv/shared", "./shared")
	n.AddPersistentStorage("/var/lib/bird")
	assert.Equal(t, []SharedFolder{{NodePath: "/srv/shared", HostPath: "./shared"}}, n.SharedFolders)
	assert.Equal(t, []string{"/var/lib/bird"}, n.PersistentStorage)

	n.AddTable("t_bgp")
	n.AddTable("t_bgp")
	f, ok := n.File(BirdConfigPath)
	require.True(t, ok)
	assert.Equal(t, "ipv4 table t_bgp;\n", f.Content)

	n.MarkConfiguredBy("Routing")
	n.MarkConfiguredBy("Routing")
	assert.Equal(t, []string{"Routing"}, n.ConfiguredBy)
}

func TestNodeConfigure(t *testing.T) {
	reg := registry.New()
	local, err := NewNetwork("net0", "150", NetworkLocal, netip.MustParsePrefix("10.150.0.0/24"), nil)
	require.NoError(t, err)
	require.NoError(t, local.SetDefaultLinkProperties(LinkProperties{LatencyMs: 5}))
	ix, err := NewNetwork("ix100", registry.ScopeExchange, NetworkExchange, netip.MustParsePrefix("10.100.0.0/24"), nil)
	require.NoError(t, err)
	shadow, err := NewNetwork("net0", registry.ScopeEmulator, NetworkBridge, netip.MustParsePrefix("192.168.0.0/24"), nil)
	require.NoError(t, err)

	require.NoError(t, reg.Register("150", registry.ClassNetwork, "net0", local))
	require.NoError(t, reg.Register(registry.ScopeExchange, registry.ClassNetwork, "ix100", ix))
	require.NoError(t, reg.Register(registry.ScopeEmulator, registry.ClassNetwork, "net0", shadow))

	r := NewNode("router0", RoleRouter, 150, "")
	require.NoError(t, r.JoinNetwork("net0"))
	require.NoError(t, r.JoinNetwork("ix100"))
	r.NameServers = []string{"10.150.0.53"}

	require.NoError(t, r.Configure(reg))
	require.True(t, r.Configured)

	assert.Equal(t, "10.150.0.254", r.Interfaces[0].Address.String())
	assert.Equal(t, "150", r.Interfaces[0].NetworkScope)
	assert.Equal(t, 5, r.Interfaces[0].Link.LatencyMs)
	assert.Equal(t, "10.100.0.150", r.Interfaces[1].Address.String())
	assert.Equal(t, registry.ScopeExchange, r.Interfaces[1].NetworkScope)

	resolv, ok := r.File("/etc/resolv.conf")
	require.True(t, ok)
	assert.Equal(t, "nameserver 10.150.0.53\n", resolv.Content)

	// second configure is a no-op
	require.NoError(t, r.Configure(reg))
	assert.Len(t, local.Leases, 1)

	missing := NewNode("h1", RoleHost, 150, "")
	require.NoError(t, missing.JoinNetwork("nope"))
	assert.ErrorIs(t, missing.Configure(reg), errdefs.ErrNotFound)
}

func TestAutonomousSystem(t *testing.T) {
	as := NewAutonomousSystem(151)

	n0, err := as.CreateNetwork("net0", netip.Prefix{}, nil)
	require.NoError(t, err)
	n1, err := as.CreateNetwork("net1", netip.Prefix{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "10.151.0.0/24", n0.Prefix.String())
	assert.Equal(t, "10.151.1.0/24", n1.Prefix.String())

	_, err = as.CreateNetwork("net0", netip.Prefix{}, nil)
	assert.ErrorIs(t, err, errdefs.ErrDuplicateKey)

	_, err = as.CreateRouter("router0")
	require.NoError(t, err)
	_, err = as.CreateHost("router0")
	assert.ErrorIs(t, err, errdefs.ErrDuplicateKey)

	big := NewAutonomousSystem(2914)
	_, err = big.CreateNetwork("net0", netip.Prefix{}, nil)
	assert.ErrorIs(t, err, errdefs.ErrInvalidTopology)

	_, err = big.CreateNetwork("net0", netip.MustParsePrefix("172.16.0.0/24"), nil)
	assert.NoError(t, err)
}

func TestInternetExchange(t *testing.T) {
	ix, err := NewInternetExchange(100, netip.Prefix{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ix100", ix.Name())
	assert.Equal(t, "10.100.0.0/24", ix.Network.Prefix.String())
	assert.Equal(t, RoleRouteServer, ix.RouteServer.Role)
	require.Len(t, ix.RouteServer.Interfaces, 1)
	assert.Equal(t, "ix100", ix.RouteServer.Interfaces[0].Network)
	assert.Nil(t, ix.Bridge)

	_, err = NewInternetExchange(300, netip.Prefix{}, nil)
	assert.ErrorIs(t, err, errdefs.ErrInvalidTopology)

	explicit, err := NewInternetExchange(300, netip.MustParsePrefix("192.0.2.0/24"), nil)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.0/24", explicit.Network.Prefix.String())
}
