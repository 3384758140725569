package raps

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/netip"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/curve25519"

	"seedemu/internal/topology"
)

// WireGuardPeer is a client allowed on the tunnel
type WireGuardPeer struct {
	PublicKey  string   `yaml:"public_key" json:"public_key"`
	AllowedIPs []string `yaml:"allowed_ips,omitempty" json:"allowed_ips,omitempty"`
	Keepalive  int      `yaml:"keepalive,omitempty" json:"keepalive,omitempty"`
}

// WireGuard bridges a network with a wg-quick interface. The key pair of
// every bridge is derived from Seed and the network, so the same topology
// always renders the same keys.
type WireGuard struct {
	Seed         string          `yaml:"seed" json:"seed"`
	Interface    string          `yaml:"interface" json:"interface"`
	BridgeOffset int             `yaml:"bridge_offset,omitempty" json:"bridge_offset,omitempty"`
	Port         PortCursor      `yaml:"port" json:"port"`
	Peers        []WireGuardPeer `yaml:"peers,omitempty" json:"peers,omitempty"`
}

// NewWireGuard creates a provider publishing 51820/udp from 51820
func NewWireGuard(seed string) *WireGuard {
	return &WireGuard{
		Seed:      seed,
		Interface: "wg0",
		Port:      PortCursor{Container: 51820, Proto: "udp", Next: 51820},
	}
}

func (w *WireGuard) Name() string { return "WireGuard" }

// KeyPair returns the base64 private and public keys of the bridge of
// network
func (w *WireGuard) KeyPair(network *topology.Network) (string, string, error) {
	seed := sha256.Sum256([]byte(w.Seed + "|" + network.Scope + "/" + network.Name))
	priv := seed[:]
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return "", "", fmt.Errorf("wireguard key for %s: %w", network.Name, err)
	}
	return base64.StdEncoding.EncodeToString(priv), base64.StdEncoding.EncodeToString(pub), nil
}

func (w *WireGuard) ConfigureRemoteAccess(env topology.Environment, network *topology.Network, bridge *topology.Node, service *topology.Network) error {
	log := env.Logger().Named("raps")
	log.Info("setting up WireGuard remote access",
		zap.String("net", network.Name),
		zap.String("scope", network.Scope),
		zap.String("bridge", bridge.ID()))

	addr, err := attach(network, bridge, service, w.BridgeOffset)
	if err != nil {
		return err
	}
	priv, pub, err := w.KeyPair(network)
	if err != nil {
		return err
	}

	iface := w.Interface
	if iface == "" {
		iface = "wg0"
	}
	bridge.Privileged = true
	bridge.AddSoftware("wireguard-tools")
	bridge.AddSoftware("iptables")
	bridge.SetFile("/etc/wireguard/"+iface+".conf", w.render(netip.PrefixFrom(addr, network.Prefix.Bits()), priv))
	bridge.SetFile("/etc/wireguard/publickey", pub+"\n")
	bridge.AppendStartCommand("sysctl -w net.ipv4.ip_forward=1", false)
	bridge.AppendStartCommand("wg-quick up "+iface, false)

	port, err := w.Port.reserve(env.Registry(), bridge.ID())
	if err != nil {
		return err
	}
	bridge.AddPort(port, w.Port.Container, w.Port.Proto)
	log.Debug("bridge joined", zap.String("net", network.Name), zap.Stringer("addr", addr))
	return nil
}

func (w *WireGuard) render(addr netip.Prefix, privateKey string) string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "Address = %s\n", addr)
	fmt.Fprintf(&b, "ListenPort = %d\n", w.Port.Container)
	fmt.Fprintf(&b, "PrivateKey = %s\n", privateKey)
	b.WriteString("\n")

	for _, p := range w.Peers {
		b.WriteString("[Peer]\n")
		fmt.Fprintf(&b, "PublicKey = %s\n", p.PublicKey)
		if len(p.AllowedIPs) > 0 {
			fmt.Fprintf(&b, "AllowedIPs = %s\n", strings.Join(p.AllowedIPs, ", "))
		}
		if p.Keepalive > 0 {
			fmt.Fprintf(&b, "PersistentKeepalive = %d\n", p.Keepalive)
		}
		b.WriteString("\n")
	}
	return b.String()
}
