package layers

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"

	"go.uber.org/zap"

	"seedemu/internal/emulator"
	"seedemu/internal/errdefs"
	"seedemu/internal/registry"
	"seedemu/internal/topology"
)

// DefaultLoopbackPrefix is the pool router loopbacks are drawn from.
var DefaultLoopbackPrefix = netip.MustParsePrefix("10.0.0.0/16")

// Routing installs BIRD on every router and route server and gives each
// router a loopback address. Loopbacks are handed out in registration
// order.
type Routing struct {
	LoopbackPrefix netip.Prefix `yaml:"loopback_prefix" json:"loopback_prefix"`
	NextLoopback   int          `yaml:"next_loopback" json:"next_loopback"`
}

// NewRouting creates a routing layer drawing loopbacks from
// DefaultLoopbackPrefix
func NewRouting() *Routing {
	return &Routing{LoopbackPrefix: DefaultLoopbackPrefix, NextLoopback: 1}
}

func (r *Routing) Name() string { return RoutingLayer }

func (r *Routing) Dependencies() []emulator.Dependency {
	return []emulator.Dependency{emulator.Requires(BaseLayer)}
}

func (r *Routing) RegisterNodes(*emulator.Emulator) error { return nil }

func (r *Routing) Configure(emu *emulator.Emulator) error {
	reg := emu.Registry()
	log := emu.Logger().Named(r.Name())

	routers, err := nodesOf(reg, registry.ClassRouter)
	if err != nil {
		return err
	}
	for _, n := range routers {
		if n.IsConfiguredBy(r.Name()) {
			continue
		}
		if err := r.configureRouter(reg, n); err != nil {
			return fmt.Errorf("router %s: %w", n.ID(), err)
		}
		log.Debug("configured router", zap.String("node", n.ID()), zap.Stringer("loopback", n.Loopback))
	}

	servers, err := nodesOf(reg, registry.ClassRouteServer)
	if err != nil {
		return err
	}
	for _, n := range servers {
		if n.IsConfiguredBy(r.Name()) {
			continue
		}
		if len(n.Interfaces) == 0 {
			return fmt.Errorf("route server %s has no interface: %w", n.ID(), errdefs.ErrInvalidTopology)
		}
		n.AddSoftware("bird2")
		n.SetFile(topology.BirdConfigPath, fmt.Sprintf("router id %s;\nprotocol device {\n}\n", n.Interfaces[0].Address))
		appendBirdStart(n)
		n.MarkConfiguredBy(r.Name())
	}
	return nil
}

func (r *Routing) configureRouter(reg *registry.Registry, n *topology.Node) error {
	if !n.Loopback.IsValid() {
		addr, err := r.nextLoopback()
		if err != nil {
			return err
		}
		n.Loopback = addr
	}

	var direct []string
	for _, iface := range n.Interfaces {
		net, err := networkOf(reg, iface)
		if err != nil {
			return err
		}
		if net.Direct {
			direct = append(direct, fmt.Sprintf("%q", net.Name))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "router id %s;\n", n.Loopback)
	b.WriteString("ipv4 table t_direct;\n")
	b.WriteString("protocol device {\n}\n")
	b.WriteString("protocol kernel {\n    ipv4 {\n        import all;\n        export all;\n    };\n    learn;\n}\n")
	if len(direct) > 0 {
		b.WriteString("protocol direct local_nets {\n    ipv4 {\n        table t_direct;\n        import all;\n    };\n")
		fmt.Fprintf(&b, "    interface %s;\n}\n", strings.Join(direct, ", "))
	}
	n.AddSoftware("bird2")
	n.SetFile(topology.BirdConfigPath, b.String())
	n.Tables = []string{"t_direct"}
	addPipe(n, "t_direct")

	n.AppendStartCommand("ip li add dummy0 type dummy", false)
	n.AppendStartCommand("ip li set dummy0 up", false)
	n.AppendStartCommand(fmt.Sprintf("ip addr add %s/32 dev dummy0", n.Loopback), false)
	appendBirdStart(n)
	n.MarkConfiguredBy(r.Name())
	return nil
}

func (r *Routing) nextLoopback() (netip.Addr, error) {
	size := 1 << (32 - r.LoopbackPrefix.Bits())
	if r.NextLoopback < 1 || r.NextLoopback >= size-1 {
		return netip.Addr{}, fmt.Errorf("loopback pool %s: %w", r.LoopbackPrefix, errdefs.ErrAddressSpaceExhausted)
	}
	b := r.LoopbackPrefix.Masked().Addr().As4()
	binary.BigEndian.PutUint32(b[:], binary.BigEndian.Uint32(b[:])+uint32(r.NextLoopback))
	r.NextLoopback++
	return netip.AddrFrom4(b), nil
}

func appendBirdStart(n *topology.Node) {
	n.AppendStartCommand("[ ! -d /run/bird ] && mkdir /run/bird", false)
	n.AppendStartCommand("bird -d", true)
}

// addPipe appends a BIRD pipe from src into master4
func addPipe(n *topology.Node, src string) {
	n.AppendFile(topology.BirdConfigPath, fmt.Sprintf(
		"protocol pipe {\n    table %s;\n    peer table master4;\n    import none;\n    export all;\n}\n", src))
}
