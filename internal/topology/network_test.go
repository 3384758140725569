package topology

import (
	"fmt"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seedemu/internal/errdefs"
)

func mustNetwork(t *testing.T, prefix string, typ NetworkType) *Network {
	t.Helper()
	net, err := NewNetwork("net0", "150", typ, netip.MustParsePrefix(prefix), nil)
	require.NoError(t, err)
	return net
}

func TestDefaultConstraint(t *testing.T) {
	tests := []struct {
		prefix  string
		hosts   OffsetRange
		routers OffsetRange
		wantErr bool
	}{
		{prefix: "10.0.0.0/24", hosts: OffsetRange{71, 99}, routers: OffsetRange{254, 200}},
		{prefix: "10.0.0.0/16", hosts: OffsetRange{71, 99}, routers: OffsetRange{254, 200}},
		{prefix: "10.0.0.0/28", hosts: OffsetRange{1, 7}, routers: OffsetRange{14, 8}},
		{prefix: "10.0.0.0/30", hosts: OffsetRange{1, 1}, routers: OffsetRange{2, 2}},
		{prefix: "10.0.0.0/31", wantErr: true},
		{prefix: "fd00::/64", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			c, err := DefaultConstraint(netip.MustParsePrefix(tt.prefix))
			if tt.wantErr {
				assert.ErrorIs(t, err, errdefs.ErrInvalidTopology)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hosts, c.Hosts)
			assert.Equal(t, tt.routers, c.Routers)
		})
	}
}

func TestConstraintOutsidePrefix(t *testing.T) {
	aac := &AddressAssignmentConstraint{
		Hosts:   OffsetRange{From: 71, To: 99},
		Routers: OffsetRange{From: 254, To: 200},
	}
	_, err := NewNetwork("small", "150", NetworkLocal, netip.MustParsePrefix("10.0.0.0/26"), aac)
	assert.ErrorIs(t, err, errdefs.ErrInvalidTopology)
}

func TestAssignOrder(t *testing.T) {
	net := mustNetwork(t, "10.150.0.0/24", NetworkLocal)

	h1, err := net.Assign(RoleHost, 150, "150/h1")
	require.NoError(t, err)
	h2, err := net.Assign(RoleHost, 150, "150/h2")
	require.NoError(t, err)
	r1, err := net.Assign(RoleRouter, 150, "150/r1")
	require.NoError(t, err)
	r2, err := net.Assign(RoleRouter, 150, "150/r2")
	require.NoError(t, err)

	assert.Equal(t, "10.150.0.71", h1.String())
	assert.Equal(t, "10.150.0.72", h2.String())
	assert.Equal(t, "10.150.0.254", r1.String())
	assert.Equal(t, "10.150.0.253", r2.String())

	again, err := net.Assign(RoleHost, 150, "150/h1")
	require.NoError(t, err)
	assert.Equal(t, h1, again)
	assert.Len(t, net.Leases, 4)
}

func TestAssignSkipsExcludedAndHeld(t *testing.T) {
	net := mustNetwork(t, "10.150.0.0/24", NetworkLocal)
	require.NoError(t, net.Constraint.Exclude(netip.MustParseAddr("10.150.0.71"), netip.MustParseAddr("10.150.0.72")))
	require.NoError(t, net.Claim(netip.MustParseAddr("10.150.0.73"), "150/bridge"))

	addr, err := net.Assign(RoleHost, 150, "150/h1")
	require.NoError(t, err)
	assert.Equal(t, "10.150.0.74", addr.String())
}

func TestAssignExhausted(t *testing.T) {
	net := mustNetwork(t, "10.150.0.0/30", NetworkLocal)

	_, err := net.Assign(RoleHost, 150, "150/h1")
	require.NoError(t, err)
	_, err = net.Assign(RoleHost, 150, "150/h2")
	assert.ErrorIs(t, err, errdefs.ErrAddressSpaceExhausted)
}

func TestAssignExchange(t *testing.T) {
	net, err := NewNetwork("ix100", "ix", NetworkExchange, netip.MustParsePrefix("10.100.0.0/24"), nil)
	require.NoError(t, err)

	r, err := net.Assign(RoleRouter, 151, "151/router0")
	require.NoError(t, err)
	assert.Equal(t, "10.100.0.151", r.String())

	rs, err := net.Assign(RoleRouteServer, 100, "ix/ix100")
	require.NoError(t, err)
	assert.Equal(t, "10.100.0.100", rs.String())

	_, err = net.Assign(RoleRouter, 151, "151/router1")
	assert.ErrorIs(t, err, errdefs.ErrInvalidTopology)

	_, err = net.Assign(RoleRouter, 300, "300/router0")
	assert.ErrorIs(t, err, errdefs.ErrInvalidTopology)
}

func TestClaim(t *testing.T) {
	net := mustNetwork(t, "10.150.0.0/24", NetworkLocal)

	tests := []struct {
		name    string
		addr    string
		owner   string
		wantErr error
	}{
		{name: "usable", addr: "10.150.0.5", owner: "150/a"},
		{name: "same owner again", addr: "10.150.0.5", owner: "150/a"},
		{name: "held by other", addr: "10.150.0.5", owner: "150/b", wantErr: errdefs.ErrInvalidTopology},
		{name: "network address", addr: "10.150.0.0", owner: "150/b", wantErr: errdefs.ErrInvalidTopology},
		{name: "broadcast", addr: "10.150.0.255", owner: "150/b", wantErr: errdefs.ErrInvalidTopology},
		{name: "outside prefix", addr: "10.151.0.5", owner: "150/b", wantErr: errdefs.ErrInvalidTopology},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := net.Claim(netip.MustParseAddr(tt.addr), tt.owner)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAssignDeterministic(t *testing.T) {
	plan := func() []Lease {
		net := mustNetwork(t, "10.150.0.0/24", NetworkLocal)
		for i := range 5 {
			_, err := net.Assign(RoleHost, 150, fmt.Sprintf("150/h%d", i))
			require.NoError(t, err)
			_, err = net.Assign(RoleRouter, 150, fmt.Sprintf("150/r%d", i))
			require.NoError(t, err)
		}
		return net.Leases
	}

	if diff := cmp.Diff(plan(), plan(), cmp.Comparer(func(a, b netip.Addr) bool { return a == b })); diff != "" {
		t.Errorf("address plans differ (-first +second):\n%s", diff)
	}
}
