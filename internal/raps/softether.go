package raps

import (
	"strings"

	"go.uber.org/zap"

	"seedemu/internal/topology"
)

const softEtherBuild = "mkdir -p /vpn && cd /vpn && git clone https://github.com/SoftEtherVPN/SoftEtherVPN.git && " +
	"cd SoftEtherVPN && git submodule init && git submodule update && ./configure && make -C build && make -C build install"

const softEtherServerStartup = `#!/bin/bash
echo "VPN server ready! run 'docker exec -it $HOSTNAME /bin/bash' to attach to this VPN server" >&2
vpnserver start
sleep 5
vpncmd localhost:443 /SERVER /ADMINHUB:default /CMD BridgeCreate default /DEVICE:eth0 /TAP:no
vpncmd localhost:443 /SERVER /ADMINHUB:default /CMD UserCreate {{username}} /group:none /realname:none /note:none
vpncmd localhost:443 /SERVER /ADMINHUB:default /CMD UserAnonymousSet {{username}}
vpncmd localhost:443 /SERVER /ADMINHUB:default /CMD UserGet {{username}}
vpncmd localhost:443 /SERVER /ADMINHUB:default /CMD KeepEnable
`

const softEtherConnector = `#!/bin/bash
if [[ -z $1 ]]; then
    echo "Please provide IP address for remote VPN server."
    exit
else
    export VPN_SERVER_ADDR=$1
fi

if [[ -z $2 ]]; then
    echo "Please provide port for remote VPN server."
    exit
else
    export VPN_SERVER_PORT=$2
fi
vpnbridge stop
`

const softEtherClientStartup = `#!/bin/bash
echo "VPN client ready! run 'docker exec -it $HOSTNAME /bin/bash' to attach to this VPN client" >&2
vpnbridge start
sleep 5
vpncmd localhost:443 /SERVER /ADMINHUB:bridge /CMD BridgeCreate bridge /DEVICE:eth0 /TAP:no
vpncmd localhost:443 /SERVER /ADMINHUB:bridge /CMD CascadeCreate test /SERVER:$VPN_SERVER_ADDR:$VPN_SERVER_PORT /HUB:default /USERNAME:{{username}}
vpncmd localhost:443 /SERVER /ADMINHUB:bridge /CMD CascadeAnonymousSet test
vpncmd localhost:443 /SERVER /ADMINHUB:bridge /CMD CascadeOnline test
vpncmd localhost:443 /SERVER /ADMINHUB:bridge /CMD CascadeStatusGet test
`

var softEtherSoftware = []string{
	"apt-utils", "pkg-config", "cmake", "gcc", "g++", "make", "libncurses5-dev",
	"libssl-dev", "libsodium-dev", "libreadline-dev", "zlib1g-dev",
	"build-essential", "git", "bridge-utils",
}

// SoftEther bridges a network with a SoftEther VPN server. Clients connect
// anonymously with Username.
type SoftEther struct {
	Username string `yaml:"username" json:"username"`
	// BridgeOffset is the offset of the bridge address in the network,
	// zero for the second to last usable address
	BridgeOffset int          `yaml:"bridge_offset,omitempty" json:"bridge_offset,omitempty"`
	Ports        []PortCursor `yaml:"ports" json:"ports"`
}

// NewSoftEther creates a provider publishing 443, 992 and 5555 from 10443,
// 10992 and 15555
func NewSoftEther() *SoftEther {
	return &SoftEther{
		Username: "seed",
		Ports: []PortCursor{
			{Container: 443, Proto: "tcp", Next: 10443},
			{Container: 992, Proto: "tcp", Next: 10992},
			{Container: 5555, Proto: "tcp", Next: 15555},
		},
	}
}

func (s *SoftEther) Name() string { return "SoftEther" }

func (s *SoftEther) ConfigureRemoteAccess(env topology.Environment, network *topology.Network, bridge *topology.Node, service *topology.Network) error {
	log := env.Logger().Named("raps")
	log.Info("setting up SoftEther remote access",
		zap.String("net", network.Name),
		zap.String("scope", network.Scope),
		zap.String("bridge", bridge.ID()))

	for _, pkg := range softEtherSoftware {
		bridge.AddSoftware(pkg)
	}
	bridge.AddBuildCommand(softEtherBuild)

	user := strings.NewReplacer("{{username}}", s.Username)
	bridge.SetFile("/softether_server_startup", user.Replace(softEtherServerStartup))
	bridge.SetFile("/softether_connector", softEtherConnector)
	bridge.SetFile("/softether_client_startup", user.Replace(softEtherClientStartup))

	bridge.AppendStartCommand("chmod +x /softether_server_startup", false)
	bridge.AppendStartCommand("chmod +x /softether_client_startup", false)
	bridge.AppendStartCommand("chmod +x /softether_connector", false)
	bridge.AppendStartCommand("/softether_server_startup", false)

	addr, err := attach(network, bridge, service, s.BridgeOffset)
	if err != nil {
		return err
	}
	log.Debug("bridge joined", zap.String("net", network.Name), zap.Stringer("addr", addr))

	return publish(env.Registry(), bridge, s.Ports)
}
