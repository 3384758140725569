package topology

import (
	"go.uber.org/zap"

	"seedemu/internal/registry"
)

// Environment is what a remote access provider sees of the emulator
type Environment interface {
	Registry() *registry.Registry
	Logger() *zap.Logger
}

// RemoteAccessProvider makes a network reachable from outside the emulation.
//
// ConfigureRemoteAccess is called once per bridged network while the owning
// layer configures. It must join bridge to service and to network, provision
// the bridge, and publish its host ports. Apart from the bridge address it
// must not touch the address space of network.
type RemoteAccessProvider interface {
	Name() string
	ConfigureRemoteAccess(env Environment, network *Network, bridge *Node, service *Network) error
}

// BridgeName returns the name of the bridge node of a network.
func BridgeName(network string) string {
	return "vpn-" + network
}
